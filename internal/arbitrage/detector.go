package arbitrage

import (
	"arbiter/internal/model"
	"math"
	"sort"
)

const maxConfidence = 0.95

// DetectorPolicy configures opportunity detection.
type DetectorPolicy struct {
	// MinSpreadPercent is the smallest spread, in percent of the buy price, reported.
	MinSpreadPercent float64
	// EstimatedVolume is the fixed unit volume used until order-book depth is modelled.
	EstimatedVolume float64
}

// Detect compares every ordered venue pair and returns the opportunities
// where the sell venue's bid exceeds the buy venue's ask by at least the
// minimum spread. Results are sorted by spread percent, highest first; equal
// spreads keep pair order.
func Detect(quotes []model.Quote, p DetectorPolicy) []model.Opportunity {
	if len(quotes) < 2 {
		return nil
	}
	var opps []model.Opportunity
	for i, buy := range quotes {
		for j, sell := range quotes {
			if i == j || buy.Venue == sell.Venue {
				continue
			}
			if sell.Bid <= buy.Ask {
				continue
			}
			spread := sell.Bid - buy.Ask
			pct := spread / buy.Ask * 100
			if pct < p.MinSpreadPercent {
				continue
			}
			opps = append(opps, model.Opportunity{
				Symbol:               buy.Symbol,
				BuyVenue:             buy.Venue,
				SellVenue:            sell.Venue,
				BuyPrice:             buy.Ask,
				SellPrice:            sell.Bid,
				Spread:               spread,
				SpreadPercent:        pct,
				EstimatedVolume:      p.EstimatedVolume,
				EstimatedGrossProfit: spread * p.EstimatedVolume,
				Confidence:           confidence(pct),
			})
		}
	}
	sort.SliceStable(opps, func(a, b int) bool {
		return opps[a].SpreadPercent > opps[b].SpreadPercent
	})
	return opps
}

// confidence grows linearly from 0.5 with the spread percent, capped at 0.95.
func confidence(spreadPercent float64) float64 {
	return math.Min(maxConfidence, 0.5+spreadPercent/2)
}
