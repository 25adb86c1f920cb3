package exchange

import (
	"arbiter/internal/model"
	"context"
	"errors"
	"time"
)

var (
	// ErrUnknownVenue is returned for venue identifiers with no adapter.
	ErrUnknownVenue = errors.New("unknown venue")
	// ErrNoQuote is returned when a venue has no price for a symbol.
	ErrNoQuote = errors.New("no quote available")
	// ErrLiveTradingUnavailable is returned by adapters that cannot place orders.
	ErrLiveTradingUnavailable = errors.New("live trading unavailable")
)

// Side of an order leg.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderRequest is a limit order for one leg of an arbitrage.
type OrderRequest struct {
	Symbol string
	Side   Side
	Price  float64
	Volume float64
}

// OrderResult is the venue's acknowledgement of an order.
type OrderResult struct {
	OrderID     string
	FilledQty   float64
	AvgPrice    float64
	CompletedAt time.Time
}

// Venue defines the capabilities every exchange adapter provides.
type Venue interface {
	Name() string
	FetchQuote(ctx context.Context, symbol string) (model.Quote, error)
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
	Balances(ctx context.Context) (map[string]float64, error)
}

// Streamer is implemented by venues that push ticker updates.
type Streamer interface {
	StartStream(ctx context.Context, out chan<- model.Quote, symbols []string) error
}
