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
)

const (
	binanceRestURL = "https://api.binance.com"
	binanceWsURL   = "wss://stream.binance.com:9443"

	restTimeout = 10 * time.Second
)

// BinanceClient implements the Venue and Streamer interfaces for Binance.
type BinanceClient struct {
	logger  *slog.Logger
	http    *http.Client
	restURL string
	wsURL   string
	now     func() time.Time
}

// NewBinanceClient creates a new BinanceClient.
func NewBinanceClient(logger *slog.Logger, cfg config.ExchangeConfig) *BinanceClient {
	b := &BinanceClient{
		logger:  logger,
		http:    &http.Client{Timeout: restTimeout},
		restURL: binanceRestURL,
		wsURL:   binanceWsURL,
		now:     time.Now,
	}
	if cfg.RestURL != "" {
		b.restURL = strings.TrimRight(cfg.RestURL, "/")
	}
	if cfg.WsURL != "" {
		b.wsURL = strings.TrimRight(cfg.WsURL, "/")
	}
	return b
}

func (b *BinanceClient) Name() string {
	return "binance"
}

func binanceSymbol(symbol string) (string, error) {
	base, quote, err := splitSymbol(symbol)
	if err != nil {
		return "", err
	}
	return base + quote, nil
}

type binanceBookTicker struct {
	Symbol   string `json:"symbol"`
	BidPrice string `json:"bidPrice"`
	AskPrice string `json:"askPrice"`
}

// FetchQuote reads the best bid/ask from the REST book ticker.
func (b *BinanceClient) FetchQuote(ctx context.Context, symbol string) (model.Quote, error) {
	s, err := binanceSymbol(symbol)
	if err != nil {
		return model.Quote{}, err
	}
	var t binanceBookTicker
	if err := getJSON(ctx, b.http, b.restURL+"/api/v3/ticker/bookTicker?symbol="+url.QueryEscape(s), &t); err != nil {
		return model.Quote{}, fmt.Errorf("binance book ticker %s: %w", s, err)
	}
	bid, ask, err := parsePrices(t.BidPrice, t.AskPrice)
	if err != nil {
		return model.Quote{}, fmt.Errorf("binance %s: %w", s, err)
	}
	return model.Quote{Venue: b.Name(), Symbol: symbol, Bid: bid, Ask: ask, ObservedAt: b.now()}, nil
}

// PlaceOrder needs signed requests, which this adapter does not carry.
func (b *BinanceClient) PlaceOrder(context.Context, OrderRequest) (OrderResult, error) {
	return OrderResult{}, fmt.Errorf("binance: %w", ErrLiveTradingUnavailable)
}

func (b *BinanceClient) Balances(context.Context) (map[string]float64, error) {
	return nil, fmt.Errorf("binance: %w", ErrLiveTradingUnavailable)
}

type binanceCombined struct {
	Stream string `json:"stream"`
	Data   struct {
		Symbol string `json:"s"`
		Bid    string `json:"b"`
		Ask    string `json:"a"`
	} `json:"data"`
}

// StartStream connects to the Binance combined bookTicker stream for symbols.
func (b *BinanceClient) StartStream(ctx context.Context, out chan<- model.Quote, symbols []string) error {
	canonical := make(map[string]string, len(symbols))
	streams := make([]string, 0, len(symbols))
	for _, sym := range symbols {
		s, err := binanceSymbol(sym)
		if err != nil {
			return err
		}
		canonical[s] = sym
		streams = append(streams, strings.ToLower(s)+"@bookTicker")
	}

	return runStream(ctx, b.logger, wsSession{
		name: b.Name(),
		url:  b.wsURL + "/stream?streams=" + strings.Join(streams, "/"),
		parse: func(message []byte) (model.Quote, bool) {
			var msg binanceCombined
			if err := json.Unmarshal(message, &msg); err != nil {
				b.logger.Warn("BinanceClient: failed to parse message", "error", err)
				return model.Quote{}, false
			}
			sym, ok := canonical[msg.Data.Symbol]
			if !ok {
				return model.Quote{}, false
			}
			bid, ask, err := parsePrices(msg.Data.Bid, msg.Data.Ask)
			if err != nil {
				b.logger.Warn("BinanceClient: failed to parse prices", "error", err)
				return model.Quote{}, false
			}
			return model.Quote{Venue: b.Name(), Symbol: sym, Bid: bid, Ask: ask, ObservedAt: b.now()}, true
		},
	}, out)
}
