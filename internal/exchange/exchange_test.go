package exchange

import (
	"arbiter/internal/config"
	"arbiter/internal/model"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBinanceClient_FetchQuote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/ticker/bookTicker", r.URL.Path)
		assert.Equal(t, "BTCEUR", r.URL.Query().Get("symbol"))
		_, _ = w.Write([]byte(`{"symbol":"BTCEUR","bidPrice":"60000.10","bidQty":"1","askPrice":"60000.50","askQty":"2"}`))
	}))
	defer srv.Close()

	b := NewBinanceClient(discardLogger(), config.ExchangeConfig{RestURL: srv.URL})
	q, err := b.FetchQuote(context.Background(), "BTC/EUR")
	require.NoError(t, err)
	assert.Equal(t, "binance", q.Venue)
	assert.Equal(t, "BTC/EUR", q.Symbol)
	assert.Equal(t, 60000.10, q.Bid)
	assert.Equal(t, 60000.50, q.Ask)
	assert.False(t, q.ObservedAt.IsZero())
}

func TestBinanceClient_FetchQuoteErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"code":-1121,"msg":"Invalid symbol."}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	b := NewBinanceClient(discardLogger(), config.ExchangeConfig{RestURL: srv.URL})
	_, err := b.FetchQuote(context.Background(), "BTC/EUR")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")

	_, err = b.FetchQuote(context.Background(), "BTCEUR")
	assert.Error(t, err, "symbols must be BASE/QUOTE")

	_, err = b.PlaceOrder(context.Background(), OrderRequest{})
	assert.ErrorIs(t, err, ErrLiveTradingUnavailable)
}

func TestKrakenClient_FetchQuote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/0/public/Ticker", r.URL.Path)
		assert.Equal(t, "XBTEUR", r.URL.Query().Get("pair"))
		_, _ = w.Write([]byte(`{"error":[],"result":{"XXBTZEUR":{"a":["60010.00000","1","1.000"],"b":["60005.00000","2","2.000"],"c":["60007.0","0.1"]}}}`))
	}))
	defer srv.Close()

	k := NewKrakenClient(discardLogger(), config.ExchangeConfig{RestURL: srv.URL})
	q, err := k.FetchQuote(context.Background(), "BTC/EUR")
	require.NoError(t, err)
	assert.Equal(t, "kraken", q.Venue)
	assert.Equal(t, 60005.0, q.Bid)
	assert.Equal(t, 60010.0, q.Ask)
}

func TestKrakenClient_FetchQuoteAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"error":["EQuery:Unknown asset pair"],"result":{}}`))
	}))
	defer srv.Close()

	k := NewKrakenClient(discardLogger(), config.ExchangeConfig{RestURL: srv.URL})
	_, err := k.FetchQuote(context.Background(), "FOO/EUR")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Unknown asset pair")
}

func TestKrakenClient_ParseTicker(t *testing.T) {
	k := NewKrakenClient(discardLogger(), config.ExchangeConfig{})
	canonical := map[string]string{"XBT/EUR": "BTC/EUR"}

	q, ok := k.parseTicker([]byte(`[340,{"a":["60010.00000",1,"1.000"],"b":["60005.00000",0,"0.500"]},"ticker","XBT/EUR"]`), canonical)
	require.True(t, ok)
	assert.Equal(t, "BTC/EUR", q.Symbol)
	assert.Equal(t, 60005.0, q.Bid)

	_, ok = k.parseTicker([]byte(`{"event":"heartbeat"}`), canonical)
	assert.False(t, ok)
	_, ok = k.parseTicker([]byte(`[340,{"a":["1",1,"1"],"b":["1",1,"1"]},"ticker","ETH/EUR"]`), canonical)
	assert.False(t, ok)
}

var upgrader = websocket.Upgrader{}

func TestBinanceClient_StartStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "btceur@bookTicker", r.URL.Query().Get("streams"))
		c, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer c.Close()
		_ = c.WriteMessage(websocket.TextMessage, []byte(`not json`))
		_ = c.WriteMessage(websocket.TextMessage, []byte(`{"stream":"btceur@bookTicker","data":{"s":"BTCEUR","b":"100.00","a":"100.10"}}`))
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	b := NewBinanceClient(discardLogger(), config.ExchangeConfig{WsURL: wsURL})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	out := make(chan model.Quote, 1)
	done := make(chan error, 1)
	go func() { done <- b.StartStream(ctx, out, []string{"BTC/EUR"}) }()

	select {
	case q := <-out:
		assert.Equal(t, "BTC/EUR", q.Symbol)
		assert.Equal(t, 100.0, q.Bid)
		assert.Equal(t, 100.10, q.Ask)
	case <-ctx.Done():
		t.Fatal("no quote received")
	}
	cancel()
	assert.NoError(t, <-done)
}

func TestKrakenClient_StartStreamSubscribes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer c.Close()

		var sub map[string]any
		require.NoError(t, c.ReadJSON(&sub))
		assert.Equal(t, "subscribe", sub["event"])
		assert.Equal(t, []any{"XBT/EUR"}, sub["pair"])

		_ = c.WriteMessage(websocket.TextMessage, []byte(`{"event":"subscriptionStatus","status":"subscribed"}`))
		_ = c.WriteMessage(websocket.TextMessage, []byte(`[1,{"a":["101.0",1,"1"],"b":["100.5",1,"1"]},"ticker","XBT/EUR"]`))
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	k := NewKrakenClient(discardLogger(), config.ExchangeConfig{WsURL: "ws" + strings.TrimPrefix(srv.URL, "http")})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	out := make(chan model.Quote, 1)
	go func() { _ = k.StartStream(ctx, out, []string{"BTC/EUR"}) }()

	select {
	case q := <-out:
		assert.Equal(t, "kraken", q.Venue)
		assert.Equal(t, 100.5, q.Bid)
	case <-ctx.Done():
		t.Fatal("no quote received")
	}
}

func TestCachedVenue(t *testing.T) {
	paper := NewPaperVenue("paper-a")
	paper.SetQuote("BTC/EUR", 90, 91)
	book := NewQuoteBook()
	v := Cached(paper, book, time.Minute)

	q, err := v.FetchQuote(context.Background(), "BTC/EUR")
	require.NoError(t, err)
	assert.Equal(t, 90.0, q.Bid, "empty book falls back to the venue")
	assert.Equal(t, 1, paper.Fetches())

	book.Put(model.Quote{Venue: "paper-a", Symbol: "BTC/EUR", Bid: 95, Ask: 96, ObservedAt: time.Now()})
	q, err = v.FetchQuote(context.Background(), "BTC/EUR")
	require.NoError(t, err)
	assert.Equal(t, 95.0, q.Bid)
	assert.Equal(t, 1, paper.Fetches())

	book.Put(model.Quote{Venue: "paper-a", Symbol: "BTC/EUR", Bid: 1, Ask: 2, ObservedAt: time.Now().Add(-time.Hour)})
	q, _ = v.FetchQuote(context.Background(), "BTC/EUR")
	assert.Equal(t, 95.0, q.Bid, "older quotes never replace newer ones")
}

func TestQuoteBook_Consume(t *testing.T) {
	book := NewQuoteBook()
	in := make(chan model.Quote, 2)
	in <- model.Quote{Venue: "kraken", Symbol: "BTC/EUR", Bid: 1, Ask: 2, ObservedAt: time.Now()}
	close(in)
	book.Consume(context.Background(), in)

	q, ok := book.Get("kraken", "BTC/EUR")
	require.True(t, ok)
	assert.Equal(t, 1.0, q.Bid)
	_, ok = book.Get("binance", "BTC/EUR")
	assert.False(t, ok)
}

func TestPaperVenue(t *testing.T) {
	p := NewPaperVenue("paper")
	_, err := p.FetchQuote(context.Background(), "ETH/EUR")
	assert.ErrorIs(t, err, ErrNoQuote)

	boom := errors.New("down")
	p.SetQuote("ETH/EUR", 10, 11)
	p.SetFetchError(boom)
	_, err = p.FetchQuote(context.Background(), "ETH/EUR")
	assert.ErrorIs(t, err, boom)

	p.SetFetchError(nil)
	p.SetDelay(time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = p.FetchQuote(ctx, "ETH/EUR")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	res, err := p.PlaceOrder(context.Background(), OrderRequest{Symbol: "ETH/EUR", Side: SideBuy, Price: 11, Volume: 2})
	require.NoError(t, err)
	assert.Equal(t, 2.0, res.FilledQty)
	assert.Len(t, p.Orders(), 1)
}

func TestFromConfig(t *testing.T) {
	cfg := config.Config{Arbitrage: config.ArbitrageConfig{Venues: []string{"binance", "kraken", "paper-x"}}}
	r, err := FromConfig(cfg, discardLogger())
	require.NoError(t, err)
	assert.Equal(t, []string{"binance", "kraken", "paper-x"}, r.Names())

	_, err = r.Get("coinbase")
	assert.ErrorIs(t, err, ErrUnknownVenue)

	cfg.Arbitrage.Venues = []string{"coinbase"}
	_, err = FromConfig(cfg, discardLogger())
	assert.ErrorIs(t, err, ErrUnknownVenue)
}
