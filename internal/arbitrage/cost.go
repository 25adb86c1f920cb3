package arbitrage

import "arbiter/internal/model"

// CostPolicy holds the cost model parameters.
type CostPolicy struct {
	MakerFeeRate  float64
	WithdrawalFee float64
	SlippageRate  float64
}

// Cost converts an opportunity into a cost-adjusted profit estimate.
// NetProfit may be negative; callers filter on it.
func Cost(o model.Opportunity, p CostPolicy) model.CostBreakdown {
	volume := o.EstimatedVolume
	fees := (o.BuyPrice + o.SellPrice) * volume * p.MakerFeeRate
	slippage := o.BuyPrice * volume * p.SlippageRate
	total := fees + p.WithdrawalFee + slippage
	return model.CostBreakdown{
		TradingFees:   fees,
		WithdrawalFee: p.WithdrawalFee,
		Slippage:      slippage,
		TotalCost:     total,
		NetProfit:     o.EstimatedGrossProfit - total,
	}
}
