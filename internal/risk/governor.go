package risk

import (
	"arbiter/internal/model"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"
)

const (
	dateLayout     = "2006-01-02"
	releaseTimeout = 2 * time.Second
)

// ErrInvalidLimit is returned for daily loss limits that are not negative.
var ErrInvalidLimit = errors.New("daily P&L limit must be negative")

// ErrInvalidPnL is returned for P&L deltas that are not finite numbers.
var ErrInvalidPnL = errors.New("P&L delta must be a finite number")

// DeniedError means the governor refused an execution.
type DeniedError struct {
	Reason string
}

func (e *DeniedError) Error() string {
	return "risk blocked: " + e.Reason
}

// Gate is the outcome of a gate check.
type Gate struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// EventSink receives governor transitions after they are committed.
type EventSink interface {
	GovernorEvent(ctx context.Context, event model.GovernorEvent)
}

// Governor owns the kill switch and daily P&L state. Every public operation
// runs the daily-reset check first and is serialized by one lock, held across
// the store's own lock so multiple instances cannot interleave.
type Governor struct {
	mu     sync.Mutex
	store  Store
	limit  float64
	now    func() time.Time
	logger *slog.Logger
	sink   EventSink
}

// Option configures a Governor.
type Option func(*Governor)

// WithStore replaces the default in-memory state store.
func WithStore(s Store) Option {
	return func(g *Governor) { g.store = s }
}

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(g *Governor) { g.now = now }
}

// WithEventSink registers the receiver of governor events.
func WithEventSink(s EventSink) Option {
	return func(g *Governor) { g.sink = s }
}

// NewGovernor creates an armed governor. The limit applies when the store
// holds no state yet.
func NewGovernor(limit float64, logger *slog.Logger, opts ...Option) (*Governor, error) {
	if err := validateLimit(limit); err != nil {
		return nil, err
	}
	g := &Governor{
		store:  NewMemoryStore(),
		limit:  limit,
		now:    time.Now,
		logger: logger,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

func validateLimit(limit float64) error {
	if math.IsNaN(limit) || math.IsInf(limit, 0) || limit >= 0 {
		return fmt.Errorf("%w, got %v", ErrInvalidLimit, limit)
	}
	return nil
}

// CheckGate reports whether an execution may proceed.
func (g *Governor) CheckGate(ctx context.Context) (Gate, error) {
	var gate Gate
	_, err := g.update(ctx, func(st *model.GovernorState, _ *[]model.GovernorEvent) error {
		gate = gateOf(*st)
		return nil
	})
	return gate, err
}

// RecordPnL adds delta to the daily P&L and re-evaluates halt and warning conditions.
func (g *Governor) RecordPnL(ctx context.Context, delta float64) (model.GovernorState, error) {
	if math.IsNaN(delta) || math.IsInf(delta, 0) {
		return model.GovernorState{}, ErrInvalidPnL
	}
	return g.update(ctx, func(st *model.GovernorState, events *[]model.GovernorEvent) error {
		g.applyPnL(st, delta, events)
		return nil
	})
}

// Execute is the commit boundary for a trade. Under the governor lock it
// re-checks the gate, hands fn the current state and records the P&L fn
// returns. A denied gate yields a *DeniedError and fn is not called; a
// cancelled ctx or an error from fn leaves the P&L untouched. If the store
// lease is lost while fn runs, the returned P&L is replayed onto the fresh
// state so the trade is never dropped from the day's total.
func (g *Governor) Execute(ctx context.Context, fn func(model.GovernorState) (float64, error)) (model.GovernorState, error) {
	var (
		delta float64
		ran   bool
	)
	st, events, err := g.locked(ctx, func(st *model.GovernorState, events *[]model.GovernorEvent) error {
		if gate := gateOf(*st); !gate.Allowed {
			return &DeniedError{Reason: gate.Reason}
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		d, err := fn(*st)
		if err != nil {
			return err
		}
		if math.IsNaN(d) || math.IsInf(d, 0) {
			return ErrInvalidPnL
		}
		delta, ran = d, true
		g.applyPnL(st, d, events)
		return nil
	})
	g.emit(ctx, events)
	if ran && errors.Is(err, ErrLeaseLost) {
		g.logger.Warn("Governor: lease lost during execution, replaying P&L", "delta", delta)
		return g.update(context.WithoutCancel(ctx), func(st *model.GovernorState, events *[]model.GovernorEvent) error {
			g.applyPnL(st, delta, events)
			return nil
		})
	}
	return st, err
}

// SetLimit changes the daily loss limit.
func (g *Governor) SetLimit(ctx context.Context, limit float64) (model.GovernorState, error) {
	if err := validateLimit(limit); err != nil {
		return model.GovernorState{}, err
	}
	return g.update(ctx, func(st *model.GovernorState, events *[]model.GovernorEvent) error {
		st.DailyPnLLimit = limit
		*events = append(*events, g.event(*st, model.EventLimitChanged, fmt.Sprintf("limit set to %.2f", limit)))
		g.evaluate(st, events)
		return nil
	})
}

// Activate halts trading until Deactivate is called. Manual halts survive the daily reset.
func (g *Governor) Activate(ctx context.Context, reason string) (model.GovernorState, error) {
	if reason == "" {
		reason = "manual activation"
	}
	return g.update(ctx, func(st *model.GovernorState, events *[]model.GovernorEvent) error {
		wasActive := st.KillSwitchActive
		g.halt(st, model.HaltManual, reason)
		if !wasActive {
			*events = append(*events, g.event(*st, model.EventKillSwitchActivated, reason))
		}
		return nil
	})
}

// Deactivate re-arms the governor.
func (g *Governor) Deactivate(ctx context.Context) (model.GovernorState, error) {
	return g.update(ctx, func(st *model.GovernorState, events *[]model.GovernorEvent) error {
		if !st.KillSwitchActive {
			return nil
		}
		clearHalt(st)
		*events = append(*events, g.event(*st, model.EventKillSwitchDeactivated, "manual deactivation"))
		return nil
	})
}

// Reset applies the daily reset immediately.
func (g *Governor) Reset(ctx context.Context) (model.GovernorState, error) {
	return g.update(ctx, func(st *model.GovernorState, events *[]model.GovernorEvent) error {
		g.resetDay(st, g.today(), events)
		return nil
	})
}

// Snapshot returns a copy of the current state.
func (g *Governor) Snapshot(ctx context.Context) (model.GovernorState, error) {
	return g.update(ctx, func(*model.GovernorState, *[]model.GovernorEvent) error { return nil })
}

// update runs a pure state transition. A transition that lost its lease
// before saving is retried once on fresh state.
func (g *Governor) update(ctx context.Context, fn func(*model.GovernorState, *[]model.GovernorEvent) error) (model.GovernorState, error) {
	st, events, err := g.locked(ctx, fn)
	if errors.Is(err, ErrLeaseLost) {
		g.logger.Warn("Governor: lease lost, retrying")
		st, events, err = g.locked(ctx, fn)
	}
	g.emit(ctx, events)
	return st, err
}

func (g *Governor) locked(ctx context.Context, fn func(*model.GovernorState, *[]model.GovernorEvent) error) (model.GovernorState, []model.GovernorEvent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	lease, err := g.store.Lock(ctx)
	if err != nil {
		return model.GovernorState{}, nil, fmt.Errorf("lock governor state: %w", err)
	}
	defer g.release(ctx, lease)

	st, ok, err := g.store.Load(ctx)
	if err != nil {
		return model.GovernorState{}, nil, fmt.Errorf("load governor state: %w", err)
	}
	if !ok {
		st = model.GovernorState{DailyPnLLimit: g.limit, DailyPnLDate: g.today()}
	}

	var events []model.GovernorEvent
	if today := g.today(); st.DailyPnLDate != today {
		g.resetDay(&st, today, &events)
	}
	rolled := len(events) > 0 || !ok

	fnErr := fn(&st, &events)
	if fnErr != nil && !rolled {
		return st, nil, fnErr
	}
	if err := lease.Save(context.WithoutCancel(ctx), st); err != nil {
		return st, nil, fmt.Errorf("save governor state: %w", err)
	}
	return st, events, fnErr
}

func (g *Governor) release(ctx context.Context, lease Lease) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	if err := lease.Release(ctx); err != nil {
		g.logger.Warn("Governor: failed to release state lease", "error", err)
	}
}

func (g *Governor) applyPnL(st *model.GovernorState, delta float64, events *[]model.GovernorEvent) {
	st.DailyPnL += delta

	s := &st.TradeStats
	s.Count++
	switch {
	case delta > 0:
		s.Wins++
		s.TotalProfit += delta
	case delta < 0:
		s.Losses++
		s.TotalLoss += -delta
	}
	if st.DailyPnL > s.PeakPnL {
		s.PeakPnL = st.DailyPnL
	}
	if dd := s.PeakPnL - st.DailyPnL; dd > s.MaxDrawdown {
		s.MaxDrawdown = dd
	}

	g.evaluate(st, events)
}

// evaluate emits pending warnings and trips the kill switch on a limit breach.
func (g *Governor) evaluate(st *model.GovernorState, events *[]model.GovernorEvent) {
	used := st.PercentUsed()
	if used >= 70 && !st.WarningsSent.At70 {
		st.WarningsSent.At70 = true
		*events = append(*events, g.event(*st, model.EventWarning70, fmt.Sprintf("%.1f%% of daily loss limit used", used)))
	}
	if used >= 90 && !st.WarningsSent.At90 {
		st.WarningsSent.At90 = true
		*events = append(*events, g.event(*st, model.EventWarning90, fmt.Sprintf("%.1f%% of daily loss limit used", used)))
	}

	if !st.KillSwitchActive && st.DailyPnL <= st.DailyPnLLimit {
		reason := fmt.Sprintf("daily P&L %.2f breached limit %.2f", st.DailyPnL, st.DailyPnLLimit)
		g.halt(st, model.HaltPnLLimit, reason)
		*events = append(*events, g.event(*st, model.EventKillSwitchActivated, reason))
	}
}

func (g *Governor) resetDay(st *model.GovernorState, today string, events *[]model.GovernorEvent) {
	st.DailyPnL = 0
	st.DailyPnLDate = today
	st.WarningsSent = model.Warnings{}
	st.TradeStats = model.TradeStats{}
	*events = append(*events, g.event(*st, model.EventDailyReset, "daily reset for "+today))

	if st.KillSwitchActive && st.KillSwitchTrigger == model.HaltPnLLimit {
		clearHalt(st)
		*events = append(*events, g.event(*st, model.EventKillSwitchDeactivated, "daily reset cleared P&L halt"))
	}
}

func (g *Governor) halt(st *model.GovernorState, trigger model.HaltTrigger, reason string) {
	if !st.KillSwitchActive {
		at := g.now().UTC()
		st.KillSwitchActivatedAt = &at
	}
	st.KillSwitchActive = true
	st.KillSwitchTrigger = trigger
	st.KillSwitchReason = reason
}

func clearHalt(st *model.GovernorState) {
	st.KillSwitchActive = false
	st.KillSwitchTrigger = model.HaltNone
	st.KillSwitchReason = ""
	st.KillSwitchActivatedAt = nil
}

func gateOf(st model.GovernorState) Gate {
	if st.KillSwitchActive {
		return Gate{Allowed: false, Reason: st.KillSwitchReason}
	}
	return Gate{Allowed: true}
}

func (g *Governor) today() string {
	return g.now().UTC().Format(dateLayout)
}

func (g *Governor) event(st model.GovernorState, kind model.GovernorEventKind, reason string) model.GovernorEvent {
	return model.GovernorEvent{
		Kind:        kind,
		Reason:      reason,
		DailyPnL:    st.DailyPnL,
		Limit:       st.DailyPnLLimit,
		PercentUsed: st.PercentUsed(),
		At:          g.now().UTC(),
	}
}

func (g *Governor) emit(ctx context.Context, events []model.GovernorEvent) {
	for _, ev := range events {
		level := slog.LevelWarn
		if ev.Kind == model.EventDailyReset || ev.Kind == model.EventLimitChanged {
			level = slog.LevelInfo
		}
		g.logger.Log(ctx, level, "Governor transition", "kind", ev.Kind, "reason", ev.Reason, "dailyPnL", ev.DailyPnL, "limit", ev.Limit)
		if g.sink != nil {
			g.sink.GovernorEvent(context.WithoutCancel(ctx), ev)
		}
	}
}
