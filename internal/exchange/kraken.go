package exchange

import (
	"arbiter/internal/config"
	"arbiter/internal/model"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

const (
	krakenRestURL = "https://api.kraken.com"
	krakenWsURL   = "wss://ws.kraken.com"
)

// KrakenClient implements the Venue and Streamer interfaces for Kraken.
type KrakenClient struct {
	logger  *slog.Logger
	http    *http.Client
	restURL string
	wsURL   string
	now     func() time.Time
}

// NewKrakenClient creates a new KrakenClient.
func NewKrakenClient(logger *slog.Logger, cfg config.ExchangeConfig) *KrakenClient {
	k := &KrakenClient{
		logger:  logger,
		http:    &http.Client{Timeout: restTimeout},
		restURL: krakenRestURL,
		wsURL:   krakenWsURL,
		now:     time.Now,
	}
	if cfg.RestURL != "" {
		k.restURL = strings.TrimRight(cfg.RestURL, "/")
	}
	if cfg.WsURL != "" {
		k.wsURL = cfg.WsURL
	}
	return k
}

func (k *KrakenClient) Name() string {
	return "kraken"
}

// krakenPair maps "BTC/EUR" to Kraken's "XBT/EUR".
func krakenPair(symbol string) (string, error) {
	base, quote, err := splitSymbol(symbol)
	if err != nil {
		return "", err
	}
	if base == "BTC" {
		base = "XBT"
	}
	return base + "/" + quote, nil
}

// krakenTicker levels are [price, wholeLotVolume, lotVolume]; the websocket
// feed sends wholeLotVolume as a number, REST as a string.
type krakenTicker struct {
	Ask []any `json:"a"`
	Bid []any `json:"b"`
}

type krakenTickerResponse struct {
	Error  []string                `json:"error"`
	Result map[string]krakenTicker `json:"result"`
}

// FetchQuote reads the best bid/ask from the public Ticker endpoint.
func (k *KrakenClient) FetchQuote(ctx context.Context, symbol string) (model.Quote, error) {
	pair, err := krakenPair(symbol)
	if err != nil {
		return model.Quote{}, err
	}
	rest := strings.ReplaceAll(pair, "/", "")

	var resp krakenTickerResponse
	if err := getJSON(ctx, k.http, k.restURL+"/0/public/Ticker?pair="+url.QueryEscape(rest), &resp); err != nil {
		return model.Quote{}, fmt.Errorf("kraken ticker %s: %w", rest, err)
	}
	if len(resp.Error) > 0 {
		return model.Quote{}, fmt.Errorf("kraken ticker %s: %s", rest, strings.Join(resp.Error, "; "))
	}
	for _, t := range resp.Result {
		q, err := k.quoteFrom(symbol, t)
		if err != nil {
			return model.Quote{}, fmt.Errorf("kraken %s: %w", rest, err)
		}
		return q, nil
	}
	return model.Quote{}, fmt.Errorf("kraken %s: %w", rest, ErrNoQuote)
}

func (k *KrakenClient) quoteFrom(symbol string, t krakenTicker) (model.Quote, error) {
	if len(t.Bid) == 0 || len(t.Ask) == 0 {
		return model.Quote{}, ErrNoQuote
	}
	bidStr, okBid := t.Bid[0].(string)
	askStr, okAsk := t.Ask[0].(string)
	if !okBid || !okAsk {
		return model.Quote{}, fmt.Errorf("unexpected price level types %T/%T", t.Bid[0], t.Ask[0])
	}
	bid, ask, err := parsePrices(bidStr, askStr)
	if err != nil {
		return model.Quote{}, err
	}
	return model.Quote{Venue: k.Name(), Symbol: symbol, Bid: bid, Ask: ask, ObservedAt: k.now()}, nil
}

// PlaceOrder needs signed requests, which this adapter does not carry.
func (k *KrakenClient) PlaceOrder(context.Context, OrderRequest) (OrderResult, error) {
	return OrderResult{}, fmt.Errorf("kraken: %w", ErrLiveTradingUnavailable)
}

func (k *KrakenClient) Balances(context.Context) (map[string]float64, error) {
	return nil, fmt.Errorf("kraken: %w", ErrLiveTradingUnavailable)
}

// StartStream connects to the Kraken WebSocket API and subscribes to tickers.
func (k *KrakenClient) StartStream(ctx context.Context, out chan<- model.Quote, symbols []string) error {
	canonical := make(map[string]string, len(symbols))
	pairs := make([]string, 0, len(symbols))
	for _, sym := range symbols {
		p, err := krakenPair(sym)
		if err != nil {
			return err
		}
		canonical[p] = sym
		pairs = append(pairs, p)
	}

	return runStream(ctx, k.logger, wsSession{
		name: k.Name(),
		url:  k.wsURL,
		subscribe: func(c *websocket.Conn) error {
			return c.WriteJSON(map[string]any{
				"event": "subscribe",
				"pair":  pairs,
				"subscription": map[string]string{
					"name": "ticker",
				},
			})
		},
		parse: func(message []byte) (model.Quote, bool) {
			return k.parseTicker(message, canonical)
		},
	}, out)
}

// parseTicker decodes [channelID, {a, b, ...}, "ticker", "XBT/EUR"] frames.
// Event objects (heartbeat, subscriptionStatus) are skipped.
func (k *KrakenClient) parseTicker(message []byte, canonical map[string]string) (model.Quote, bool) {
	if len(message) == 0 || message[0] != '[' {
		return model.Quote{}, false
	}
	var frame []json.RawMessage
	if err := json.Unmarshal(message, &frame); err != nil || len(frame) < 4 {
		k.logger.Warn("KrakenClient: failed to parse message", "error", err)
		return model.Quote{}, false
	}
	var pair string
	if err := json.Unmarshal(frame[len(frame)-1], &pair); err != nil {
		return model.Quote{}, false
	}
	sym, ok := canonical[pair]
	if !ok {
		return model.Quote{}, false
	}
	var t krakenTicker
	if err := json.Unmarshal(frame[1], &t); err != nil {
		k.logger.Warn("KrakenClient: failed to parse ticker", "error", err)
		return model.Quote{}, false
	}
	q, err := k.quoteFrom(sym, t)
	if err != nil {
		k.logger.Warn("KrakenClient: failed to parse prices", "error", err)
		return model.Quote{}, false
	}
	return q, true
}
