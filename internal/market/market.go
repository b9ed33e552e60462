package market

import (
	"context"
	"errors"
	"log"

	"psx_copilot/internal/models"

	"github.com/shopspring/decimal"
)

// ErrUnavailable means the provider had no usable price. Zero or negative
// quotes are reported this way and never as real prices.
var ErrUnavailable = errors.New("price unavailable")

// PriceProvider is the interface the engine reads live prices through.
// Any struct that implements Price satisfies it, so the PSX feed, Alpaca,
// Yahoo or a test mock can be swapped without changing the callers.
type PriceProvider interface {
	Price(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// Mover is one entry in the top gainers or losers list.
type Mover struct {
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	ChangePct float64         `json:"change_pct"`
}

// Breadth summarises the whole market for one session.
type Breadth struct {
	Gainers    int     `json:"gainers"`
	Losers     int     `json:"losers"`
	Volume     float64 `json:"volume"`
	Value      float64 `json:"value"`
	TopGainers []Mover `json:"top_gainers"`
	TopLosers  []Mover `json:"top_losers"`
}

// Trend maps breadth to [-1, 1]: (gainers - losers) / (gainers + losers).
func (b Breadth) Trend() float64 {
	total := b.Gainers + b.Losers
	if total <= 0 {
		return 0
	}
	return float64(b.Gainers-b.Losers) / float64(total)
}

// SummaryProvider reports market breadth.
type SummaryProvider interface {
	Summary(ctx context.Context) (Breadth, error)
}

// Chain tries each provider in order and returns the first positive price.
type Chain []PriceProvider

func (c Chain) Price(ctx context.Context, symbol string) (decimal.Decimal, error) {
	var errs []error
	for _, p := range c {
		price, err := p.Price(ctx, symbol)
		if err == nil && price.IsPositive() {
			return price, nil
		}
		if err == nil {
			err = ErrUnavailable
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return decimal.Zero, ErrUnavailable
	}
	return decimal.Zero, errors.Join(errs...)
}

// Prices fetches every symbol and returns only the usable prices.
// Failures are logged and the symbol is left out.
func Prices(ctx context.Context, p PriceProvider, symbols []string) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(symbols))
	for _, sym := range symbols {
		if ctx.Err() != nil {
			break
		}
		sym = models.NormalizeSymbol(sym)
		if sym == "" {
			continue
		}
		if _, done := out[sym]; done {
			continue
		}
		price, err := p.Price(ctx, sym)
		if err != nil || !price.IsPositive() {
			log.Printf("WARN: no price for %s: %v", sym, err)
			continue
		}
		out[sym] = price
	}
	return out
}
