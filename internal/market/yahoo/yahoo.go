// Package yahoo prices symbols from Yahoo Finance quotes.
package yahoo

import (
	"context"
	"fmt"
	"strings"

	"psx_copilot/internal/market"

	"github.com/piquette/finance-go"
	"github.com/piquette/finance-go/quote"
	"github.com/shopspring/decimal"
)

// DefaultSuffix is Yahoo's exchange suffix for Karachi listings.
const DefaultSuffix = ".KA"

type QuoteFunc func(symbol string) (*finance.Quote, error)

// Provider implements market.PriceProvider. Symbols without a dot get Suffix appended.
type Provider struct {
	Suffix string
	get    QuoteFunc
}

var _ market.PriceProvider = (*Provider)(nil)

func NewProvider(suffix string) *Provider {
	return &Provider{Suffix: suffix, get: quote.Get}
}

func (p *Provider) ticker(symbol string) string {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if p.Suffix == "" || strings.Contains(symbol, ".") {
		return symbol
	}
	return symbol + p.Suffix
}

func (p *Provider) Price(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Zero, err
	}
	t := p.ticker(symbol)
	q, err := p.get(t)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to get quote for %s: %w", t, err)
	}
	if q == nil || q.RegularMarketPrice <= 0 {
		return decimal.Zero, fmt.Errorf("%w: no yahoo quote for %s", market.ErrUnavailable, t)
	}
	return decimal.NewFromFloat(q.RegularMarketPrice), nil
}
