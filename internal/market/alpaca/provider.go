// Package alpaca prices US-listed symbols from Alpaca market data.
package alpaca

import (
	"context"
	"fmt"
	"strings"

	"psx_copilot/internal/market"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/shopspring/decimal"
)

// Provider implements market.PriceProvider for Alpaca. It is read-only; orders
// are never routed to the broker.
type Provider struct {
	mdClient *marketdata.Client
}

// Ensure Provider implements the interface
var _ market.PriceProvider = (*Provider)(nil)

// NewProvider returns a provider using explicit credentials. Empty credentials
// make the SDK fall back to the APCA_* environment variables.
func NewProvider(keyID, secret string) *Provider {
	return &Provider{
		mdClient: marketdata.NewClient(marketdata.ClientOpts{
			APIKey:    keyID,
			APISecret: secret,
		}),
	}
}

func (p *Provider) Price(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Zero, err
	}
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	trade, err := p.mdClient.GetLatestTrade(symbol, marketdata.GetLatestTradeRequest{})
	if err != nil {
		return decimal.Zero, fmt.Errorf("alpaca latest trade %s: %w", symbol, err)
	}
	if trade == nil || trade.Price <= 0 {
		return decimal.Zero, fmt.Errorf("%w: no alpaca trade for %s", market.ErrUnavailable, symbol)
	}
	return decimal.NewFromFloat(trade.Price), nil
}
