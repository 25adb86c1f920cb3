package arbitrage

import (
	"arbiter/internal/database"
	"arbiter/internal/metrics"
	"arbiter/internal/model"
	"arbiter/internal/notify"
	"context"
	"log/slog"
)

// GovernorEvents records governor transitions in the audit store and
// forwards them as alerts. Failures are logged and swallowed.
type GovernorEvents struct {
	logger   *slog.Logger
	repo     database.Repository
	notifier notify.Notifier
}

// NewGovernorEvents creates the governor event sink.
func NewGovernorEvents(logger *slog.Logger, repo database.Repository, notifier notify.Notifier) *GovernorEvents {
	return &GovernorEvents{logger: logger, repo: repo, notifier: notifier}
}

func (e *GovernorEvents) GovernorEvent(ctx context.Context, ev model.GovernorEvent) {
	if ev.Kind == model.EventKillSwitchActivated {
		metrics.KillSwitch.Set(1)
	} else if ev.Kind == model.EventKillSwitchDeactivated {
		metrics.KillSwitch.Set(0)
	}
	if err := e.repo.LogGovernorEvent(ctx, ev); err != nil {
		e.logger.Error("Failed to log governor event", "kind", ev.Kind, "error", err)
	}
	if ev.Kind == model.EventDailyReset || ev.Kind == model.EventLimitChanged {
		return
	}
	nctx, cancel := context.WithTimeout(ctx, notifyTimeout)
	defer cancel()
	if err := e.notifier.Notify(nctx, notify.GovernorAlert(ev)); err != nil {
		e.logger.Warn("Notification failed", "kind", ev.Kind, "error", err)
	}
}
