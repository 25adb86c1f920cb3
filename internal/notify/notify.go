package notify

import (
	"arbiter/internal/model"
	"context"
	"fmt"
	"strings"
)

// Kind classifies alerts.
type Kind string

const (
	KindOpportunity Kind = "opportunity"
	KindExecution   Kind = "execution"
	KindGovernor    Kind = "governor"
)

// Alert is a structured notification with a rendered text body.
type Alert struct {
	Kind        Kind                        `json:"kind"`
	Text        string                      `json:"text"`
	Opportunity *model.EvaluatedOpportunity `json:"opportunity,omitempty"`
	Trade       *model.TradeExecutionRecord `json:"trade,omitempty"`
	Event       *model.GovernorEvent        `json:"event,omitempty"`
}

// Notifier delivers alerts. Callers treat delivery as best effort.
type Notifier interface {
	Notify(ctx context.Context, a Alert) error
}

// Nop discards every alert.
type Nop struct{}

func (Nop) Notify(context.Context, Alert) error { return nil }

// OpportunityAlert renders an opportunity with its cost breakdown.
func OpportunityAlert(eo model.EvaluatedOpportunity) Alert {
	o, c := eo.Opportunity, eo.Costs
	var b strings.Builder
	fmt.Fprintf(&b, "Arbitrage opportunity %s\n", o.Symbol)
	fmt.Fprintf(&b, "Buy %s @ %.8g, sell %s @ %.8g\n", o.BuyVenue, o.BuyPrice, o.SellVenue, o.SellPrice)
	fmt.Fprintf(&b, "Spread %.8g (%.4f%%), confidence %.2f\n", o.Spread, o.SpreadPercent, o.Confidence)
	fmt.Fprintf(&b, "Volume %.8g, gross %.2f\n", o.EstimatedVolume, o.EstimatedGrossProfit)
	fmt.Fprintf(&b, "Fees %.2f, withdrawal %.2f, slippage %.2f, net %.2f", c.TradingFees, c.WithdrawalFee, c.Slippage, c.NetProfit)
	return Alert{Kind: KindOpportunity, Text: b.String(), Opportunity: &eo}
}

// ExecutionAlert renders an execution record.
func ExecutionAlert(rec model.TradeExecutionRecord) Alert {
	o := rec.Opportunity
	text := fmt.Sprintf("Trade %s executed (%s)\n%s: buy %s @ %.8g, sell %s @ %.8g, size %.8g\nNet profit %.2f",
		rec.TradeID, rec.Mode, o.Symbol, o.BuyVenue, o.BuyPrice, o.SellVenue, o.SellPrice, rec.SizeUsed, rec.Costs.NetProfit)
	if rec.Degraded {
		text += "\nLive placement failed: " + rec.DegradedReason
	}
	return Alert{Kind: KindExecution, Text: text, Trade: &rec}
}

// GovernorAlert renders a governor transition.
func GovernorAlert(ev model.GovernorEvent) Alert {
	var title string
	switch ev.Kind {
	case model.EventKillSwitchActivated:
		title = "KILL SWITCH ACTIVATED"
	case model.EventKillSwitchDeactivated:
		title = "Kill switch deactivated"
	case model.EventWarning70:
		title = "Daily loss warning (70%)"
	case model.EventWarning90:
		title = "Daily loss warning (90%)"
	default:
		title = "Governor " + string(ev.Kind)
	}
	text := fmt.Sprintf("%s\n%s\nDaily P&L %.2f / limit %.2f (%.1f%% used)", title, ev.Reason, ev.DailyPnL, ev.Limit, ev.PercentUsed)
	return Alert{Kind: KindGovernor, Text: text, Event: &ev}
}
