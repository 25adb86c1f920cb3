package model

import "time"

// Quote is a best bid/ask snapshot from a single venue.
type Quote struct {
	Venue      string    `json:"venue"`
	Symbol     string    `json:"symbol"`
	Bid        float64   `json:"bid"`
	Ask        float64   `json:"ask"`
	ObservedAt time.Time `json:"observedAt"`
}

// Opportunity is a two-leg spot arbitrage candidate: buy at BuyVenue's ask,
// sell at SellVenue's bid.
type Opportunity struct {
	Symbol               string  `json:"symbol"`
	BuyVenue             string  `json:"buyVenue"`
	SellVenue            string  `json:"sellVenue"`
	BuyPrice             float64 `json:"buyPrice"`
	SellPrice            float64 `json:"sellPrice"`
	Spread               float64 `json:"spread"`
	SpreadPercent        float64 `json:"spreadPercent"`
	EstimatedVolume      float64 `json:"estimatedVolume"`
	EstimatedGrossProfit float64 `json:"estimatedGrossProfit"`
	Confidence           float64 `json:"confidence"`
}

// WithVolume returns a copy of the opportunity re-estimated for volume.
func (o Opportunity) WithVolume(volume float64) Opportunity {
	o.EstimatedVolume = volume
	o.EstimatedGrossProfit = o.Spread * volume
	return o
}

// CostBreakdown is the cost-adjusted profit estimate for an opportunity.
type CostBreakdown struct {
	TradingFees   float64 `json:"tradingFees"`
	WithdrawalFee float64 `json:"withdrawalFee"`
	Slippage      float64 `json:"slippage"`
	TotalCost     float64 `json:"totalCost"`
	NetProfit     float64 `json:"netProfit"`
}

// EvaluatedOpportunity pairs an opportunity with its costs.
type EvaluatedOpportunity struct {
	Opportunity Opportunity   `json:"opportunity"`
	Costs       CostBreakdown `json:"costs"`
}

// HaltTrigger records what activated the kill switch.
type HaltTrigger string

const (
	HaltNone     HaltTrigger = ""
	HaltManual   HaltTrigger = "manual"
	HaltPnLLimit HaltTrigger = "pnl_limit"
)

// Warnings tracks which daily-limit warnings were already sent today.
type Warnings struct {
	At70 bool `json:"at70"`
	At90 bool `json:"at90"`
}

// TradeStats aggregates the P&L updates recorded during the current day.
type TradeStats struct {
	Count       int     `json:"count"`
	Wins        int     `json:"wins"`
	Losses      int     `json:"losses"`
	TotalProfit float64 `json:"totalProfit"`
	TotalLoss   float64 `json:"totalLoss"`
	PeakPnL     float64 `json:"peakPnL"`
	MaxDrawdown float64 `json:"maxDrawdown"`
}

// GovernorState is the risk governor's state. DailyPnLLimit is negative.
type GovernorState struct {
	KillSwitchActive      bool        `json:"killSwitchActive"`
	KillSwitchReason      string      `json:"killSwitchReason,omitempty"`
	KillSwitchTrigger     HaltTrigger `json:"killSwitchTrigger,omitempty"`
	KillSwitchActivatedAt *time.Time  `json:"killSwitchActivatedAt,omitempty"`
	DailyPnL              float64     `json:"dailyPnL"`
	DailyPnLLimit         float64     `json:"dailyPnLLimit"`
	DailyPnLDate          string      `json:"dailyPnLDate"`
	WarningsSent          Warnings    `json:"warningsSent"`
	TradeStats            TradeStats  `json:"tradeStats"`
}

// PercentUsed is the share of the daily loss limit consumed, in percent.
// It is zero while the day is flat or profitable.
func (s GovernorState) PercentUsed() float64 {
	if s.DailyPnL > 0 || s.DailyPnLLimit >= 0 {
		return 0
	}
	return s.DailyPnL / s.DailyPnLLimit * 100
}

// SizingPolicy configures dynamic position sizing.
type SizingPolicy struct {
	BaseSize         float64 `json:"baseSize" mapstructure:"base_size"`
	MinSize          float64 `json:"minSize" mapstructure:"min_size"`
	MaxSize          float64 `json:"maxSize" mapstructure:"max_size"`
	ScaleDownAt70    bool    `json:"scaleDownAt70" mapstructure:"scale_down_at_70"`
	ScaleDownAt90    bool    `json:"scaleDownAt90" mapstructure:"scale_down_at_90"`
	ProfitBonusScale float64 `json:"profitBonusScale" mapstructure:"profit_bonus_scale"`
}

// ExecutionMode tells whether a trade was placed on venues or simulated.
type ExecutionMode string

const (
	ModeSimulated ExecutionMode = "simulated"
	ModeLive      ExecutionMode = "live"
)

// TradeExecutionRecord is written once per accepted execution.
type TradeExecutionRecord struct {
	TradeID        string        `json:"tradeId" db:"trade_id"`
	Opportunity    Opportunity   `json:"opportunity"`
	Costs          CostBreakdown `json:"costs"`
	SizeUsed       float64       `json:"sizeUsed" db:"size_used"`
	ExecutedAt     time.Time     `json:"executedAt" db:"executed_at"`
	Mode           ExecutionMode `json:"mode" db:"mode"`
	Degraded       bool          `json:"degraded" db:"degraded"`
	DegradedReason string        `json:"degradedReason,omitempty" db:"degraded_reason"`
}

// GovernorEventKind names a governor transition.
type GovernorEventKind string

const (
	EventKillSwitchActivated   GovernorEventKind = "kill_switch_activated"
	EventKillSwitchDeactivated GovernorEventKind = "kill_switch_deactivated"
	EventWarning70             GovernorEventKind = "warning_70"
	EventWarning90             GovernorEventKind = "warning_90"
	EventDailyReset            GovernorEventKind = "daily_reset"
	EventLimitChanged          GovernorEventKind = "limit_changed"
)

// GovernorEvent is an audit entry for a governor transition.
type GovernorEvent struct {
	Kind        GovernorEventKind `json:"kind"`
	Reason      string            `json:"reason,omitempty"`
	DailyPnL    float64           `json:"dailyPnL"`
	Limit       float64           `json:"limit"`
	PercentUsed float64           `json:"percentUsed"`
	At          time.Time         `json:"at"`
}
