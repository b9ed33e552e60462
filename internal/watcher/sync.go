package watcher

import (
	"context"
	"log"
	"time"

	"psx_copilot/internal/market"
	"psx_copilot/internal/models"

	"github.com/shopspring/decimal"
)

// syncPrices fetches live prices for every holding and records them as LastPrice.
func (w *Watcher) syncPrices(ctx context.Context, snap models.PortfolioState) map[string]decimal.Decimal {
	prices := market.Prices(ctx, w.prices, sortedSymbols(snap.Positions))
	if len(prices) == 0 {
		return prices
	}
	if err := w.ledger.MarkPrices(ctx, prices); err != nil {
		log.Printf("WARN: could not mark prices: %v", err)
	}
	return prices
}

// marketTrend reads gainers versus losers from the breadth provider.
// No provider or a failed call gives a flat trend.
func (w *Watcher) marketTrend(ctx context.Context, timeout time.Duration) float64 {
	b, ok := w.marketBreadth(ctx, timeout)
	if !ok {
		return 0
	}
	return b.Trend()
}

func (w *Watcher) marketBreadth(ctx context.Context, timeout time.Duration) (market.Breadth, bool) {
	if w.breadth == nil {
		return market.Breadth{}, false
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	b, err := w.breadth.Summary(cctx)
	if err != nil {
		log.Printf("WARN: market breadth unavailable: %v", err)
		return market.Breadth{}, false
	}
	return b, true
}
