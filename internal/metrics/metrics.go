package metrics

import (
	"arbiter/internal/model"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	QuoteLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "arbiter_quote_latency_seconds",
		Help:    "Time to obtain a venue quote",
		Buckets: prometheus.DefBuckets,
	}, []string{"venue"})

	VenueFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "arbiter_venue_failures_total",
		Help: "Quote fetches that failed or returned unusable prices",
	}, []string{"venue"})

	Cycles = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "arbiter_cycles_total",
		Help: "Auto-execute cycles by outcome",
	}, []string{"outcome"})

	OpportunitiesFound = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "arbiter_opportunities_found_total",
		Help: "Opportunities detected before cost filtering",
	})

	Executions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "arbiter_executions_total",
		Help: "Executed trades by mode",
	}, []string{"mode"})

	DailyPnL = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "arbiter_daily_pnl",
		Help: "Governor daily P&L",
	})

	KillSwitch = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "arbiter_kill_switch_active",
		Help: "1 while the kill switch is active",
	})
)

func init() {
	prometheus.MustRegister(
		QuoteLatency,
		VenueFailures,
		Cycles,
		OpportunitiesFound,
		Executions,
		DailyPnL,
		KillSwitch,
	)
}

// ObserveGovernor publishes governor state gauges.
func ObserveGovernor(st model.GovernorState) {
	DailyPnL.Set(st.DailyPnL)
	if st.KillSwitchActive {
		KillSwitch.Set(1)
	} else {
		KillSwitch.Set(0)
	}
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	})
}
