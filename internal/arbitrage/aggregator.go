package arbitrage

import (
	"arbiter/internal/exchange"
	"arbiter/internal/metrics"
	"arbiter/internal/model"
	"context"
	"log/slog"
	"sync"
	"time"
)

// PriceAggregator fetches one quote per venue concurrently. A failing or
// slow venue is logged and left out; it never fails the aggregation.
type PriceAggregator struct {
	logger  *slog.Logger
	timeout time.Duration
}

// NewPriceAggregator creates an aggregator with a per-venue timeout.
func NewPriceAggregator(logger *slog.Logger, timeout time.Duration) *PriceAggregator {
	return &PriceAggregator{logger: logger, timeout: timeout}
}

// Aggregate returns the successful quotes for symbol, in venue order.
func (a *PriceAggregator) Aggregate(ctx context.Context, symbol string, venues []exchange.Venue) []model.Quote {
	results := make([]*model.Quote, len(venues))

	var wg sync.WaitGroup
	for i, v := range venues {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fctx, cancel := context.WithTimeout(ctx, a.timeout)
			defer cancel()

			start := time.Now()
			q, err := v.FetchQuote(fctx, symbol)
			metrics.QuoteLatency.WithLabelValues(v.Name()).Observe(time.Since(start).Seconds())
			if err != nil {
				metrics.VenueFailures.WithLabelValues(v.Name()).Inc()
				a.logger.Warn("Venue quote fetch failed", "venue", v.Name(), "symbol", symbol, "error", err)
				return
			}
			if !validQuote(q) {
				metrics.VenueFailures.WithLabelValues(v.Name()).Inc()
				a.logger.Warn("Venue returned unusable quote", "venue", v.Name(), "symbol", symbol, "bid", q.Bid, "ask", q.Ask)
				return
			}
			results[i] = &q
		}()
	}
	wg.Wait()

	quotes := make([]model.Quote, 0, len(venues))
	for _, q := range results {
		if q != nil {
			quotes = append(quotes, *q)
		}
	}
	return quotes
}

func validQuote(q model.Quote) bool {
	return q.Bid > 0 && q.Ask > 0 && q.Bid <= q.Ask
}
