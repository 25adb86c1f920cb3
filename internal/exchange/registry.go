package exchange

import (
	"arbiter/internal/config"
	"fmt"
	"log/slog"
	"strings"
)

// Registry resolves venue identifiers to adapters.
type Registry struct {
	venues map[string]Venue
	order  []string
}

// NewRegistry creates a registry holding venues in the given order.
func NewRegistry(venues ...Venue) *Registry {
	r := &Registry{venues: make(map[string]Venue, len(venues))}
	for _, v := range venues {
		r.Register(v)
	}
	return r
}

// Register adds or replaces a venue.
func (r *Registry) Register(v Venue) {
	if _, ok := r.venues[v.Name()]; !ok {
		r.order = append(r.order, v.Name())
	}
	r.venues[v.Name()] = v
}

// Get returns the venue registered under name.
func (r *Registry) Get(name string) (Venue, error) {
	v, ok := r.venues[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownVenue, name)
	}
	return v, nil
}

// Names lists venues in registration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// NewClient creates a new exchange client based on the given name and configuration.
// Names starting with "paper" create in-memory paper venues.
func NewClient(name string, logger *slog.Logger, cfg config.ExchangeConfig) (Venue, error) {
	switch {
	case name == "kraken":
		return NewKrakenClient(logger, cfg), nil
	case name == "binance":
		return NewBinanceClient(logger, cfg), nil
	case strings.HasPrefix(name, "paper"):
		return NewPaperVenue(name), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownVenue, name)
	}
}

// FromConfig builds a registry for the configured venues.
func FromConfig(cfg config.Config, logger *slog.Logger) (*Registry, error) {
	r := NewRegistry()
	for _, name := range cfg.Arbitrage.Venues {
		v, err := NewClient(name, logger, cfg.Exchanges[name])
		if err != nil {
			return nil, err
		}
		r.Register(v)
	}
	return r, nil
}
