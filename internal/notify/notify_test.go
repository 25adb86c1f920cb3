package notify

import (
	"arbiter/internal/model"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTelegram_Notify(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"ok":true,"result":{}}`))
	}))
	defer srv.Close()

	tg := NewTelegram(srv.URL+"/", "TOKEN", "42")
	err := tg.Notify(context.Background(), Alert{Kind: KindGovernor, Text: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "42", got["chat_id"])
	assert.Equal(t, "hello", got["text"])
}

func TestTelegram_NotifyError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"ok":false,"description":"Bad Request: chat not found"}`))
	}))
	defer srv.Close()

	err := NewTelegram(srv.URL, "T", "1").Notify(context.Background(), Alert{Text: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat not found")
}

func TestAlerts(t *testing.T) {
	eo := model.EvaluatedOpportunity{
		Opportunity: model.Opportunity{Symbol: "BTC/EUR", BuyVenue: "kraken", SellVenue: "binance", BuyPrice: 100.1, SellPrice: 100.3, Spread: 0.2, SpreadPercent: 0.1998},
		Costs:       model.CostBreakdown{NetProfit: -4.5},
	}
	a := OpportunityAlert(eo)
	assert.Equal(t, KindOpportunity, a.Kind)
	assert.Contains(t, a.Text, "Buy kraken @ 100.1, sell binance @ 100.3")
	assert.Contains(t, a.Text, "net -4.50")

	rec := model.TradeExecutionRecord{TradeID: "t1", Opportunity: eo.Opportunity, Mode: model.ModeSimulated, Degraded: true, DegradedReason: "binance: live trading unavailable"}
	a = ExecutionAlert(rec)
	assert.Contains(t, a.Text, "Trade t1 executed (simulated)")
	assert.Contains(t, a.Text, "live trading unavailable")

	a = GovernorAlert(model.GovernorEvent{Kind: model.EventKillSwitchActivated, Reason: "daily P&L -510.00 breached limit -500.00", DailyPnL: -510, Limit: -500, PercentUsed: 102})
	assert.Contains(t, a.Text, "KILL SWITCH ACTIVATED")
	assert.Contains(t, a.Text, "-510.00")

	assert.NoError(t, Nop{}.Notify(context.Background(), a))
}
