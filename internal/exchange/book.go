package exchange

import (
	"arbiter/internal/model"
	"context"
	"sync"
	"time"
)

// QuoteBook keeps the latest streamed quote per venue and symbol.
type QuoteBook struct {
	mu     sync.RWMutex
	quotes map[string]map[string]model.Quote
}

// NewQuoteBook creates an empty book.
func NewQuoteBook() *QuoteBook {
	return &QuoteBook{quotes: make(map[string]map[string]model.Quote)}
}

// Put stores q if it is newer than the quote already held.
func (b *QuoteBook) Put(q model.Quote) {
	b.mu.Lock()
	defer b.mu.Unlock()
	bySymbol, ok := b.quotes[q.Venue]
	if !ok {
		bySymbol = make(map[string]model.Quote)
		b.quotes[q.Venue] = bySymbol
	}
	if cur, ok := bySymbol[q.Symbol]; ok && cur.ObservedAt.After(q.ObservedAt) {
		return
	}
	bySymbol[q.Symbol] = q
}

// Get returns the latest quote for venue and symbol.
func (b *QuoteBook) Get(venue, symbol string) (model.Quote, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	q, ok := b.quotes[venue][symbol]
	return q, ok
}

// Consume stores quotes from in until ctx is cancelled or in is closed.
func (b *QuoteBook) Consume(ctx context.Context, in <-chan model.Quote) {
	for {
		select {
		case <-ctx.Done():
			return
		case q, ok := <-in:
			if !ok {
				return
			}
			b.Put(q)
		}
	}
}

type cachedVenue struct {
	Venue
	book   *QuoteBook
	maxAge time.Duration
	now    func() time.Time
}

// Cached serves quotes from book while they are younger than maxAge and
// falls back to the venue's own FetchQuote otherwise.
func Cached(v Venue, book *QuoteBook, maxAge time.Duration) Venue {
	return &cachedVenue{Venue: v, book: book, maxAge: maxAge, now: time.Now}
}

func (c *cachedVenue) FetchQuote(ctx context.Context, symbol string) (model.Quote, error) {
	if q, ok := c.book.Get(c.Name(), symbol); ok && c.now().Sub(q.ObservedAt) <= c.maxAge {
		return q, nil
	}
	return c.Venue.FetchQuote(ctx, symbol)
}
