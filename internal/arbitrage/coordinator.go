package arbitrage

import (
	"arbiter/internal/config"
	"arbiter/internal/database"
	"arbiter/internal/exchange"
	"arbiter/internal/metrics"
	"arbiter/internal/model"
	"arbiter/internal/notify"
	"arbiter/internal/risk"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	historyLimit  = 100
	notifyTimeout = 5 * time.Second
	orderTimeout  = 10 * time.Second
)

// ErrInvalidRequest marks requests rejected before any venue is contacted.
var ErrInvalidRequest = errors.New("invalid request")

// ErrBelowThreshold means the opportunity no longer clears the minimum
// profit once costed at the governor's position size.
var ErrBelowThreshold = errors.New("net profit below threshold at position size")

// Governor is the subset of the risk governor the coordinator drives.
type Governor interface {
	CheckGate(ctx context.Context) (risk.Gate, error)
	Execute(ctx context.Context, fn func(model.GovernorState) (float64, error)) (model.GovernorState, error)
	Snapshot(ctx context.Context) (model.GovernorState, error)
}

// Outcome tags every coordinator result.
type Outcome string

const (
	OutcomeOK       Outcome = "ok"
	OutcomeExecuted Outcome = "executed"
	OutcomeEmpty    Outcome = "empty"
	OutcomeDenied   Outcome = "denied"
)

// ScanRequest asks for opportunities without executing. Nil fields use configured defaults.
type ScanRequest struct {
	Symbols          []string `json:"symbols"`
	MinSpreadPercent *float64 `json:"minSpreadPercent,omitempty"`
	AlertThreshold   *float64 `json:"alertThreshold,omitempty"`
}

// ScanResult lists the detected opportunities with their costs.
type ScanResult struct {
	Status        Outcome                      `json:"status"`
	Scanned       int                          `json:"scanned"`
	Opportunities []model.EvaluatedOpportunity `json:"opportunities"`
	Alerted       int                          `json:"alerted"`
	Gate          risk.Gate                    `json:"gate"`
}

// AutoExecuteRequest drives one scan-and-execute cycle.
type AutoExecuteRequest struct {
	Symbols            []string `json:"symbols"`
	MinSpreadPercent   *float64 `json:"minSpreadPercent,omitempty"`
	MinProfitThreshold *float64 `json:"minProfitThreshold,omitempty"`
	BasePositionSize   *float64 `json:"basePositionSize,omitempty"`
	CooldownMs         *int     `json:"cooldownMs,omitempty"`
}

// AutoExecuteResult reports what a cycle did.
type AutoExecuteResult struct {
	Status        Outcome                     `json:"status"`
	Reason        string                      `json:"reason,omitempty"`
	Scanned       int                         `json:"scanned"`
	Found         int                         `json:"found"`
	Qualified     int                         `json:"qualified"`
	Executed      int                         `json:"executed"`
	Governor      model.GovernorState         `json:"governor"`
	Trade         *model.TradeExecutionRecord `json:"trade,omitempty"`
	NextScanAfter time.Time                   `json:"nextScanAfter"`
}

// ExecuteResult reports a direct execution.
type ExecuteResult struct {
	Status   Outcome                     `json:"status"`
	Reason   string                      `json:"reason,omitempty"`
	Governor model.GovernorState         `json:"governor"`
	Trade    *model.TradeExecutionRecord `json:"trade,omitempty"`
}

// Analytics is the read-only view of trading activity.
type Analytics struct {
	Stats     model.TradeStats             `json:"stats"`
	Governor  model.GovernorState          `json:"governor"`
	History   []model.TradeExecutionRecord `json:"history"`
	Simulated int                          `json:"simulated"`
	Live      int                          `json:"live"`
	Degraded  int                          `json:"degraded"`
}

// SizingPatch updates selected fields of the sizing policy.
type SizingPatch struct {
	BaseSize      *float64 `json:"baseSize,omitempty"`
	MinSize       *float64 `json:"minSize,omitempty"`
	MaxSize       *float64 `json:"maxSize,omitempty"`
	ScaleDownAt70 *bool    `json:"scaleDownAt70,omitempty"`
	ScaleDownAt90 *bool    `json:"scaleDownAt90,omitempty"`
}

// Coordinator orchestrates scan, cost, gate, size, execute, record and notify.
// It is the only component with side effects beyond scanning.
type Coordinator struct {
	logger     *slog.Logger
	repo       database.Repository
	notifier   notify.Notifier
	venues     *exchange.Registry
	governor   Governor
	aggregator *PriceAggregator
	cfg        config.ArbitrageConfig
	symbols    map[string]bool
	now        func() time.Time

	mu      sync.RWMutex
	sizing  model.SizingPolicy
	history []model.TradeExecutionRecord
}

// NewCoordinator creates a coordinator over the configured venues.
func NewCoordinator(logger *slog.Logger, repo database.Repository, notifier notify.Notifier, venues *exchange.Registry, governor Governor, cfg *config.Config) *Coordinator {
	symbols := make(map[string]bool, len(cfg.Arbitrage.Symbols))
	for _, s := range cfg.Arbitrage.Symbols {
		symbols[s] = true
	}
	return &Coordinator{
		logger:     logger,
		repo:       repo,
		notifier:   notifier,
		venues:     venues,
		governor:   governor,
		aggregator: NewPriceAggregator(logger, cfg.Arbitrage.QuoteTimeout()),
		cfg:        cfg.Arbitrage,
		symbols:    symbols,
		now:        time.Now,
		sizing:     cfg.Risk.Sizing,
	}
}

func (c *Coordinator) costPolicy() CostPolicy {
	return CostPolicy{
		MakerFeeRate:  c.cfg.MakerFeeRate,
		WithdrawalFee: c.cfg.WithdrawalFee,
		SlippageRate:  c.cfg.SlippageRate,
	}
}

func (c *Coordinator) validateSymbols(symbols []string) error {
	if len(symbols) == 0 {
		return fmt.Errorf("%w: symbols must not be empty", ErrInvalidRequest)
	}
	for _, s := range symbols {
		if !c.symbols[s] {
			return fmt.Errorf("%w: unknown symbol %q", ErrInvalidRequest, s)
		}
	}
	return nil
}

func orDefault[T any](v *T, def T) T {
	if v == nil {
		return def
	}
	return *v
}

func nonNegative(name string, v float64) error {
	if math.IsNaN(v) || v < 0 {
		return fmt.Errorf("%w: %s must not be negative", ErrInvalidRequest, name)
	}
	return nil
}

func (c *Coordinator) allVenues() []exchange.Venue {
	names := c.venues.Names()
	venues := make([]exchange.Venue, 0, len(names))
	for _, n := range names {
		v, _ := c.venues.Get(n)
		venues = append(venues, v)
	}
	return venues
}

// evaluate aggregates, detects and costs one symbol.
func (c *Coordinator) evaluate(ctx context.Context, symbol string, minSpread float64) []model.EvaluatedOpportunity {
	quotes := c.aggregator.Aggregate(ctx, symbol, c.allVenues())
	opps := Detect(quotes, DetectorPolicy{MinSpreadPercent: minSpread, EstimatedVolume: c.cfg.EstimatedVolume})
	metrics.OpportunitiesFound.Add(float64(len(opps)))

	out := make([]model.EvaluatedOpportunity, 0, len(opps))
	for _, o := range opps {
		out = append(out, model.EvaluatedOpportunity{Opportunity: o, Costs: Cost(o, c.costPolicy())})
	}
	return out
}

// Scan reports opportunities for the requested symbols without executing.
func (c *Coordinator) Scan(ctx context.Context, req ScanRequest) (ScanResult, error) {
	if err := c.validateSymbols(req.Symbols); err != nil {
		return ScanResult{}, err
	}
	minSpread := orDefault(req.MinSpreadPercent, c.cfg.MinSpreadPercent)
	alertAt := orDefault(req.AlertThreshold, c.cfg.AlertThresholdPercent)
	if err := nonNegative("minSpreadPercent", minSpread); err != nil {
		return ScanResult{}, err
	}

	gate, err := c.governor.CheckGate(ctx)
	if err != nil {
		return ScanResult{}, err
	}

	res := ScanResult{Status: OutcomeEmpty, Gate: gate, Opportunities: []model.EvaluatedOpportunity{}}
	for _, symbol := range req.Symbols {
		if err := ctx.Err(); err != nil {
			return ScanResult{}, err
		}
		res.Opportunities = append(res.Opportunities, c.evaluate(ctx, symbol, minSpread)...)
		res.Scanned++
	}
	if len(res.Opportunities) > 0 {
		res.Status = OutcomeOK
	}

	for _, eo := range res.Opportunities {
		if eo.Opportunity.SpreadPercent >= alertAt {
			c.notify(ctx, notify.OpportunityAlert(eo))
			res.Alerted++
		}
	}
	return res, nil
}

// AutoExecute runs one cycle: gate, scan, pick the best qualifying
// opportunity, size, execute and record. The coordinator only advises the
// cooldown through NextScanAfter; callers enforce it.
func (c *Coordinator) AutoExecute(ctx context.Context, req AutoExecuteRequest) (AutoExecuteResult, error) {
	if err := c.validateSymbols(req.Symbols); err != nil {
		return AutoExecuteResult{}, err
	}
	minSpread := orDefault(req.MinSpreadPercent, c.cfg.MinSpreadPercent)
	minProfit := orDefault(req.MinProfitThreshold, c.cfg.MinProfitThreshold)
	cooldown := c.cfg.Cooldown()
	if req.CooldownMs != nil {
		if *req.CooldownMs < 0 {
			return AutoExecuteResult{}, fmt.Errorf("%w: cooldownMs must not be negative", ErrInvalidRequest)
		}
		cooldown = time.Duration(*req.CooldownMs) * time.Millisecond
	}
	if err := nonNegative("minSpreadPercent", minSpread); err != nil {
		return AutoExecuteResult{}, err
	}
	sizing := c.SizingPolicy()
	if req.BasePositionSize != nil {
		if !(*req.BasePositionSize > 0) {
			return AutoExecuteResult{}, fmt.Errorf("%w: basePositionSize must be positive", ErrInvalidRequest)
		}
		sizing.BaseSize = *req.BasePositionSize
	}

	res := AutoExecuteResult{Status: OutcomeEmpty, NextScanAfter: c.now().Add(cooldown)}

	gate, err := c.governor.CheckGate(ctx)
	if err != nil {
		return AutoExecuteResult{}, err
	}
	if !gate.Allowed {
		return c.denied(ctx, res, gate.Reason)
	}

	var best *model.EvaluatedOpportunity
	for _, symbol := range req.Symbols {
		if err := ctx.Err(); err != nil {
			return AutoExecuteResult{}, err
		}
		evaluated := c.evaluate(ctx, symbol, minSpread)
		res.Scanned++
		res.Found += len(evaluated)
		for _, eo := range evaluated {
			if eo.Costs.NetProfit < minProfit {
				continue
			}
			res.Qualified++
			if best == nil || eo.Costs.NetProfit > best.Costs.NetProfit {
				best = &eo
			}
		}
	}

	if err := ctx.Err(); err != nil {
		return AutoExecuteResult{}, err
	}
	if best == nil {
		return c.empty(ctx, res, "")
	}

	st, rec, err := c.execute(ctx, best.Opportunity, sizing, minProfit)
	var denied *risk.DeniedError
	if errors.As(err, &denied) {
		return c.denied(ctx, res, denied.Reason)
	}
	if errors.Is(err, ErrBelowThreshold) {
		return c.empty(ctx, res, err.Error())
	}
	if err != nil {
		return AutoExecuteResult{}, err
	}

	metrics.Cycles.WithLabelValues(string(OutcomeExecuted)).Inc()
	res.Status = OutcomeExecuted
	res.Executed = 1
	res.Trade = &rec
	res.Governor = st
	return res, nil
}

func (c *Coordinator) empty(ctx context.Context, res AutoExecuteResult, reason string) (AutoExecuteResult, error) {
	metrics.Cycles.WithLabelValues(string(OutcomeEmpty)).Inc()
	st, err := c.governor.Snapshot(ctx)
	if err != nil {
		return AutoExecuteResult{}, err
	}
	res.Reason = reason
	res.Governor = st
	return res, nil
}

func (c *Coordinator) denied(ctx context.Context, res AutoExecuteResult, reason string) (AutoExecuteResult, error) {
	metrics.Cycles.WithLabelValues(string(OutcomeDenied)).Inc()
	c.logger.Warn("Execution denied by governor", "reason", reason)
	st, err := c.governor.Snapshot(ctx)
	if err != nil {
		return AutoExecuteResult{}, err
	}
	res.Status = OutcomeDenied
	res.Reason = reason
	res.Governor = st
	return res, nil
}

// Execute runs a single caller-supplied opportunity through the governor.
// Spread fields are recomputed from the prices and the configured minimum
// profit applies at the sized volume.
func (c *Coordinator) Execute(ctx context.Context, opp model.Opportunity) (ExecuteResult, error) {
	opp, err := c.normalize(opp)
	if err != nil {
		return ExecuteResult{}, err
	}

	st, rec, err := c.execute(ctx, opp, c.SizingPolicy(), c.cfg.MinProfitThreshold)
	var denied *risk.DeniedError
	if errors.As(err, &denied) || errors.Is(err, ErrBelowThreshold) {
		st, serr := c.governor.Snapshot(ctx)
		if serr != nil {
			return ExecuteResult{}, serr
		}
		if denied != nil {
			return ExecuteResult{Status: OutcomeDenied, Reason: denied.Reason, Governor: st}, nil
		}
		return ExecuteResult{Status: OutcomeEmpty, Reason: err.Error(), Governor: st}, nil
	}
	if err != nil {
		return ExecuteResult{}, err
	}
	return ExecuteResult{Status: OutcomeExecuted, Governor: st, Trade: &rec}, nil
}

func (c *Coordinator) normalize(o model.Opportunity) (model.Opportunity, error) {
	if err := c.validateSymbols([]string{o.Symbol}); err != nil {
		return o, err
	}
	if o.BuyVenue == o.SellVenue {
		return o, fmt.Errorf("%w: buy and sell venue must differ", ErrInvalidRequest)
	}
	for _, name := range []string{o.BuyVenue, o.SellVenue} {
		if _, err := c.venues.Get(name); err != nil {
			return o, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
	}
	if !(o.BuyPrice > 0) || !(o.SellPrice > o.BuyPrice) {
		return o, fmt.Errorf("%w: sell price must exceed a positive buy price", ErrInvalidRequest)
	}
	o.Spread = o.SellPrice - o.BuyPrice
	o.SpreadPercent = o.Spread / o.BuyPrice * 100
	o.Confidence = confidence(o.SpreadPercent)
	return o.WithVolume(c.cfg.EstimatedVolume), nil
}

// execute sizes, costs and places opp inside the governor's commit boundary.
// Once the governor hands over its state the trade runs to completion even if
// ctx is cancelled. Audit, history and alerts follow the commit so the
// governor lock is held only across order placement.
func (c *Coordinator) execute(ctx context.Context, opp model.Opportunity, sizing model.SizingPolicy, minProfit float64) (model.GovernorState, model.TradeExecutionRecord, error) {
	var (
		rec    model.TradeExecutionRecord
		placed bool
	)
	st, err := c.governor.Execute(ctx, func(st model.GovernorState) (float64, error) {
		size := Size(sizing, st)
		sized := opp.WithVolume(size)
		costs := Cost(sized, c.costPolicy())
		if costs.NetProfit < minProfit {
			return 0, fmt.Errorf("%w: %.4f at size %g", ErrBelowThreshold, costs.NetProfit, size)
		}

		rec = c.place(context.WithoutCancel(ctx), sized, costs)
		placed = true
		return costs.NetProfit, nil
	})
	if placed {
		c.settle(context.WithoutCancel(ctx), rec, err)
	}
	if err == nil {
		metrics.ObserveGovernor(st)
	}
	return st, rec, err
}

// settle audits, remembers and announces a placed trade. A commit error
// is logged; the trade itself already happened.
func (c *Coordinator) settle(ctx context.Context, rec model.TradeExecutionRecord, commitErr error) {
	if commitErr != nil {
		c.logger.Error("Trade placed but P&L commit failed", "tradeId", rec.TradeID, "error", commitErr)
	}
	if err := c.repo.LogTrade(ctx, rec); err != nil {
		c.logger.Error("Failed to log trade", "tradeId", rec.TradeID, "error", err)
	}
	c.remember(rec)
	metrics.Executions.WithLabelValues(string(rec.Mode)).Inc()

	o := rec.Opportunity
	c.logger.Info("Arbitrage executed",
		"tradeId", rec.TradeID,
		"symbol", o.Symbol,
		"buyExchange", o.BuyVenue,
		"sellExchange", o.SellVenue,
		"buyPrice", o.BuyPrice,
		"sellPrice", o.SellPrice,
		"size", rec.SizeUsed,
		"netProfit", rec.Costs.NetProfit,
		"mode", rec.Mode,
		"degraded", rec.Degraded,
	)
	c.notify(ctx, notify.OpportunityAlert(model.EvaluatedOpportunity{Opportunity: o, Costs: rec.Costs}))
	c.notify(ctx, notify.ExecutionAlert(rec))
}

// place forwards both legs to the venues in live mode. A live failure
// degrades the record to simulated and keeps the reason.
func (c *Coordinator) place(ctx context.Context, o model.Opportunity, costs model.CostBreakdown) model.TradeExecutionRecord {
	rec := model.TradeExecutionRecord{
		TradeID:     uuid.NewString(),
		Opportunity: o,
		Costs:       costs,
		SizeUsed:    o.EstimatedVolume,
		ExecutedAt:  c.now().UTC(),
		Mode:        model.ModeSimulated,
	}
	if !c.cfg.Live {
		return rec
	}
	if err := c.placeLive(ctx, o); err != nil {
		c.logger.Warn("Live execution failed, degraded to simulated", "symbol", o.Symbol, "error", err)
		rec.Degraded = true
		rec.DegradedReason = err.Error()
		return rec
	}
	rec.Mode = model.ModeLive
	return rec
}

func (c *Coordinator) placeLive(ctx context.Context, o model.Opportunity) error {
	buy, err := c.venues.Get(o.BuyVenue)
	if err != nil {
		return err
	}
	sell, err := c.venues.Get(o.SellVenue)
	if err != nil {
		return err
	}
	if err := placeLeg(ctx, buy, exchange.OrderRequest{Symbol: o.Symbol, Side: exchange.SideBuy, Price: o.BuyPrice, Volume: o.EstimatedVolume}); err != nil {
		return fmt.Errorf("buy leg on %s: %w", o.BuyVenue, err)
	}
	if err := placeLeg(ctx, sell, exchange.OrderRequest{Symbol: o.Symbol, Side: exchange.SideSell, Price: o.SellPrice, Volume: o.EstimatedVolume}); err != nil {
		return fmt.Errorf("sell leg on %s after buy filled: %w", o.SellVenue, err)
	}
	return nil
}

func placeLeg(ctx context.Context, v exchange.Venue, req exchange.OrderRequest) error {
	ctx, cancel := context.WithTimeout(ctx, orderTimeout)
	defer cancel()
	_, err := v.PlaceOrder(ctx, req)
	return err
}

func (c *Coordinator) notify(ctx context.Context, a notify.Alert) {
	ctx, cancel := context.WithTimeout(ctx, notifyTimeout)
	defer cancel()
	if err := c.notifier.Notify(ctx, a); err != nil {
		c.logger.Warn("Notification failed", "kind", a.Kind, "error", err)
	}
}

func (c *Coordinator) remember(rec model.TradeExecutionRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = append(c.history, rec)
	if len(c.history) > historyLimit {
		c.history = slices.Clone(c.history[len(c.history)-historyLimit:])
	}
}

// Analytics returns trade statistics and recent history.
func (c *Coordinator) Analytics(ctx context.Context) (Analytics, error) {
	st, err := c.governor.Snapshot(ctx)
	if err != nil {
		return Analytics{}, err
	}
	c.mu.RLock()
	history := slices.Clone(c.history)
	c.mu.RUnlock()

	a := Analytics{Stats: st.TradeStats, Governor: st, History: history}
	if a.History == nil {
		a.History = []model.TradeExecutionRecord{}
	}
	for _, rec := range history {
		switch rec.Mode {
		case model.ModeLive:
			a.Live++
		default:
			a.Simulated++
		}
		if rec.Degraded {
			a.Degraded++
		}
	}
	return a, nil
}

// SizingPolicy returns the current sizing policy.
func (c *Coordinator) SizingPolicy() model.SizingPolicy {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sizing
}

// UpdateSizing applies patch and returns the new policy. Invalid
// combinations are rejected and leave the policy unchanged.
func (c *Coordinator) UpdateSizing(patch SizingPatch) (model.SizingPolicy, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := c.sizing
	if patch.BaseSize != nil {
		p.BaseSize = *patch.BaseSize
	}
	if patch.MinSize != nil {
		p.MinSize = *patch.MinSize
	}
	if patch.MaxSize != nil {
		p.MaxSize = *patch.MaxSize
	}
	if patch.ScaleDownAt70 != nil {
		p.ScaleDownAt70 = *patch.ScaleDownAt70
	}
	if patch.ScaleDownAt90 != nil {
		p.ScaleDownAt90 = *patch.ScaleDownAt90
	}
	if err := config.ValidateSizing(p); err != nil {
		return c.sizing, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	c.sizing = p
	return p, nil
}
