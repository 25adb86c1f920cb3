package exchange

import (
	"arbiter/internal/model"
	"context"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"
)

// PaperVenue is an in-memory venue for paper trading and tests.
type PaperVenue struct {
	name string

	mu       sync.Mutex
	quotes   map[string]model.Quote
	fetchErr error
	orderErr error
	delay    time.Duration
	balances map[string]float64
	orders   []OrderRequest
	fetches  int
}

// NewPaperVenue creates a paper venue with no quotes.
func NewPaperVenue(name string) *PaperVenue {
	return &PaperVenue{
		name:     name,
		quotes:   make(map[string]model.Quote),
		balances: make(map[string]float64),
	}
}

func (p *PaperVenue) Name() string {
	return p.name
}

// SetQuote sets the best bid/ask served for symbol.
func (p *PaperVenue) SetQuote(symbol string, bid, ask float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.quotes[symbol] = model.Quote{Venue: p.name, Symbol: symbol, Bid: bid, Ask: ask}
}

// SetFetchError makes every FetchQuote fail with err; nil clears it.
func (p *PaperVenue) SetFetchError(err error) {
	p.mu.Lock()
	p.fetchErr = err
	p.mu.Unlock()
}

// SetOrderError makes every PlaceOrder fail with err; nil clears it.
func (p *PaperVenue) SetOrderError(err error) {
	p.mu.Lock()
	p.orderErr = err
	p.mu.Unlock()
}

// SetDelay delays every FetchQuote by d.
func (p *PaperVenue) SetDelay(d time.Duration) {
	p.mu.Lock()
	p.delay = d
	p.mu.Unlock()
}

// SetBalance sets the balance reported for asset.
func (p *PaperVenue) SetBalance(asset string, amount float64) {
	p.mu.Lock()
	p.balances[asset] = amount
	p.mu.Unlock()
}

// Fetches reports how many FetchQuote calls were made.
func (p *PaperVenue) Fetches() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fetches
}

// Orders returns the orders placed so far.
func (p *PaperVenue) Orders() []OrderRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]OrderRequest(nil), p.orders...)
}

func (p *PaperVenue) FetchQuote(ctx context.Context, symbol string) (model.Quote, error) {
	p.mu.Lock()
	p.fetches++
	delay, err := p.delay, p.fetchErr
	q, ok := p.quotes[symbol]
	p.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return model.Quote{}, ctx.Err()
		case <-time.After(delay):
		}
	}
	if err != nil {
		return model.Quote{}, err
	}
	if !ok {
		return model.Quote{}, fmt.Errorf("%s %s: %w", p.name, symbol, ErrNoQuote)
	}
	q.ObservedAt = time.Now()
	return q, nil
}

// PlaceOrder fills the full volume at the requested price.
func (p *PaperVenue) PlaceOrder(_ context.Context, req OrderRequest) (OrderResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.orderErr != nil {
		return OrderResult{}, p.orderErr
	}
	p.orders = append(p.orders, req)
	return OrderResult{
		OrderID:     uuid.NewString(),
		FilledQty:   req.Volume,
		AvgPrice:    req.Price,
		CompletedAt: time.Now(),
	}, nil
}

func (p *PaperVenue) Balances(context.Context) (map[string]float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return maps.Clone(p.balances), nil
}
