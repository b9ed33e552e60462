// Package psx reads live prices and market breadth from the PSX Terminal API.
package psx

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"psx_copilot/internal/market"

	"github.com/go-resty/resty/v2"
	"github.com/patrickmn/go-cache"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL = "https://psxterminal.com/api"
	userAgent      = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
	summaryKey     = "stats:REG"
)

type Options struct {
	BaseURL     string
	Timeout     time.Duration
	PriceTTL    time.Duration
	SummaryTTL  time.Duration
	MinInterval time.Duration
}

func DefaultOptions() Options {
	return Options{
		BaseURL:     DefaultBaseURL,
		Timeout:     5 * time.Second,
		PriceTTL:    60 * time.Second,
		SummaryTTL:  5 * time.Minute,
		MinInterval: 600 * time.Millisecond,
	}
}

// Client implements market.PriceProvider and market.SummaryProvider.
type Client struct {
	http       *resty.Client
	prices     *cache.Cache
	summary    *cache.Cache
	limiter    *rate.Limiter
	summaryTTL time.Duration
}

var (
	_ market.PriceProvider   = (*Client)(nil)
	_ market.SummaryProvider = (*Client)(nil)
)

func New(opts Options) *Client {
	def := DefaultOptions()
	if opts.BaseURL == "" {
		opts.BaseURL = def.BaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}
	if opts.PriceTTL <= 0 {
		opts.PriceTTL = def.PriceTTL
	}
	if opts.SummaryTTL <= 0 {
		opts.SummaryTTL = def.SummaryTTL
	}
	if opts.MinInterval <= 0 {
		opts.MinInterval = def.MinInterval
	}

	client := resty.New()
	client.SetBaseURL(strings.TrimRight(opts.BaseURL, "/"))
	client.SetTimeout(opts.Timeout)
	client.SetHeader("User-Agent", userAgent)

	return &Client{
		http:       client,
		prices:     cache.New(opts.PriceTTL, 2*opts.PriceTTL),
		summary:    cache.New(opts.SummaryTTL, 2*opts.SummaryTTL),
		limiter:    rate.NewLimiter(rate.Every(opts.MinInterval), 1),
		summaryTTL: opts.SummaryTTL,
	}
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
}

type tick struct {
	Price json.Number `json:"price"`
}

type stats struct {
	TotalVolume float64 `json:"totalVolume"`
	TotalValue  float64 `json:"totalValue"`
	Gainers     int     `json:"gainers"`
	Losers      int     `json:"losers"`
	TopGainers  []mover `json:"topGainers"`
	TopLosers   []mover `json:"topLosers"`
}

type mover struct {
	Symbol        string      `json:"symbol"`
	Price         json.Number `json:"price"`
	ChangePercent float64     `json:"changePercent"`
}

// Price returns the latest regular-market price. Quotes are cached for the price TTL.
func (c *Client) Price(ctx context.Context, symbol string) (decimal.Decimal, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return decimal.Zero, fmt.Errorf("%w: empty symbol", market.ErrUnavailable)
	}
	if v, ok := c.prices.Get(symbol); ok {
		return v.(decimal.Decimal), nil
	}

	var t tick
	if err := c.get(ctx, "/ticks/REG/"+symbol, &t); err != nil {
		return decimal.Zero, fmt.Errorf("price %s: %w", symbol, err)
	}
	price, err := decimal.NewFromString(t.Price.String())
	if err != nil || !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %s returned %q", market.ErrUnavailable, symbol, t.Price)
	}
	c.prices.Set(symbol, price, cache.DefaultExpiration)
	return price, nil
}

// Summary returns gainers, losers and the top five movers each way.
func (c *Client) Summary(ctx context.Context) (market.Breadth, error) {
	if v, ok := c.summary.Get(summaryKey); ok {
		return v.(market.Breadth), nil
	}

	var s stats
	if err := c.get(ctx, "/stats/REG", &s); err != nil {
		return market.Breadth{}, fmt.Errorf("market stats: %w", err)
	}
	b := market.Breadth{
		Gainers:    s.Gainers,
		Losers:     s.Losers,
		Volume:     s.TotalVolume,
		Value:      s.TotalValue,
		TopGainers: movers(s.TopGainers),
		TopLosers:  movers(s.TopLosers),
	}
	c.summary.Set(summaryKey, b, c.summaryTTL)
	return b, nil
}

func movers(in []mover) []market.Mover {
	if len(in) > 5 {
		in = in[:5]
	}
	out := make([]market.Mover, 0, len(in))
	for _, m := range in {
		p, _ := decimal.NewFromString(m.Price.String())
		out = append(out, market.Mover{Symbol: m.Symbol, Price: p, ChangePct: m.ChangePercent})
	}
	return out
}

func (c *Client) get(ctx context.Context, path string, into any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	resp, err := c.http.R().SetContext(ctx).Get(path)
	if err != nil {
		return err
	}
	if resp.StatusCode() != 200 {
		return fmt.Errorf("%w: status %d from %s", market.ErrUnavailable, resp.StatusCode(), path)
	}

	var env envelope
	if err := json.Unmarshal(resp.Body(), &env); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	if !env.Success || len(env.Data) == 0 || string(env.Data) == "null" {
		return fmt.Errorf("%w: unsuccessful response from %s", market.ErrUnavailable, path)
	}
	if err := json.Unmarshal(env.Data, into); err != nil {
		return fmt.Errorf("decode %s data: %w", path, err)
	}
	return nil
}
