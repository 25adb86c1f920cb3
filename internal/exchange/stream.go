package exchange

import (
	"arbiter/internal/model"
	"context"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
)

const maxBackoff = 16 * time.Second

// wsSession describes one venue's websocket protocol.
type wsSession struct {
	name      string
	url       string
	subscribe func(c *websocket.Conn) error
	parse     func(message []byte) (model.Quote, bool)
}

// runStream keeps a websocket session alive until ctx is cancelled,
// reconnecting with exponential backoff and forwarding parsed quotes to out.
func runStream(ctx context.Context, logger *slog.Logger, s wsSession, out chan<- model.Quote) error {
	backoff := time.Second
	wait := func() bool {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(backoff):
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			return true
		}
	}

	for {
		if ctx.Err() != nil {
			logger.Info("Stream: context cancelled, shutting down", "venue", s.name)
			return nil
		}

		logger.Info("Stream: connecting to WebSocket", "venue", s.name, "url", s.url, "backoff", backoff)
		c, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
		if err != nil {
			logger.Error("Stream: WebSocket connection failed", "venue", s.name, "error", err)
			if !wait() {
				return nil
			}
			continue
		}

		if s.subscribe != nil {
			if err := s.subscribe(c); err != nil {
				logger.Error("Stream: failed to send subscription", "venue", s.name, "error", err)
				c.Close()
				if !wait() {
					return nil
				}
				continue
			}
		}

		// Reset backoff on successful connection
		backoff = time.Second
		logger.Info("Stream: connected successfully", "venue", s.name)

		stop := context.AfterFunc(ctx, func() { c.Close() })
		for {
			_, message, err := c.ReadMessage()
			if err != nil {
				if ctx.Err() == nil {
					logger.Error("Stream: failed to read message", "venue", s.name, "error", err)
				}
				break
			}
			q, ok := s.parse(message)
			if !ok {
				continue
			}
			select {
			case out <- q:
				logger.Debug("Stream: sent quote", "venue", s.name, "symbol", q.Symbol, "bid", q.Bid, "ask", q.Ask)
			case <-ctx.Done():
			}
		}
		stop()
		c.Close()
		if ctx.Err() == nil && !wait() {
			return nil
		}
	}
}
