package database

import (
	"arbiter/internal/model"
	"context"
)

// Repository defines the standard interface for database operations.
// Writes are append-only.
type Repository interface {
	LogTrade(ctx context.Context, trade model.TradeExecutionRecord) error
	LogGovernorEvent(ctx context.Context, event model.GovernorEvent) error
	Migrate(ctx context.Context) error
}

// Nop is used when no audit database is configured.
type Nop struct{}

func (Nop) LogTrade(context.Context, model.TradeExecutionRecord) error { return nil }
func (Nop) LogGovernorEvent(context.Context, model.GovernorEvent) error { return nil }
func (Nop) Migrate(context.Context) error { return nil }

const insertTradeColumns = `trade_id, executed_at, symbol, buy_exchange, sell_exchange,
	buy_price, sell_price, spread, spread_percent, confidence, size_used, gross_profit,
	trading_fees, withdrawal_fee, slippage, total_cost, net_profit, mode, degraded, degraded_reason`

const insertEventColumns = `at, kind, reason, daily_pnl, pnl_limit, percent_used`

func tradeArgs(t model.TradeExecutionRecord) []any {
	o, c := t.Opportunity, t.Costs
	return []any{
		t.TradeID, t.ExecutedAt, o.Symbol, o.BuyVenue, o.SellVenue,
		o.BuyPrice, o.SellPrice, o.Spread, o.SpreadPercent, o.Confidence, t.SizeUsed, o.EstimatedGrossProfit,
		c.TradingFees, c.WithdrawalFee, c.Slippage, c.TotalCost, c.NetProfit, string(t.Mode), t.Degraded, t.DegradedReason,
	}
}

func eventArgs(e model.GovernorEvent) []any {
	return []any{e.At, string(e.Kind), e.Reason, e.DailyPnL, e.Limit, e.PercentUsed}
}
