// Package scoring turns a candidate, its live price and the portfolio context
// into a bounded 0-100 opportunity score.
package scoring

import (
	"errors"
	"fmt"
	"math"

	"psx_copilot/internal/models"

	"github.com/shopspring/decimal"
)

var (
	ErrNoPrice            = errors.New("no live price")
	ErrZeroPortfolioValue = errors.New("portfolio value is zero but a holding exists")
)

// Weights are the band maxima and conviction constants. All are configurable.
type Weights struct {
	ValuationMax   float64                 `json:"valuation_max"`
	FundamentalMax float64                 `json:"fundamental_max"`
	PositionMax    float64                 `json:"position_max"`
	OtherMax       float64                 `json:"other_max"`
	TierPoints     map[models.Tier]float64 `json:"tier_points"`
	DefaultTier    float64                 `json:"default_tier_points"`
	TrendPoints    float64                 `json:"trend_points"`
}

func DefaultWeights() Weights {
	return Weights{
		ValuationMax:   30,
		FundamentalMax: 25,
		PositionMax:    15,
		OtherMax:       30,
		TierPoints: map[models.Tier]float64{
			models.TierCore:      20,
			models.TierStability: 16,
			models.TierDividend:  14,
			models.TierOptional:  10,
		},
		DefaultTier: 10,
		TrendPoints: 10,
	}
}

// Normalize replaces negative or missing values with defaults.
func (w Weights) Normalize() Weights {
	def := DefaultWeights()
	if w.ValuationMax < 0 || w.FundamentalMax < 0 || w.PositionMax < 0 || w.OtherMax < 0 ||
		w.ValuationMax+w.FundamentalMax+w.PositionMax+w.OtherMax == 0 {
		w.ValuationMax, w.FundamentalMax, w.PositionMax, w.OtherMax =
			def.ValuationMax, def.FundamentalMax, def.PositionMax, def.OtherMax
	}
	if len(w.TierPoints) == 0 {
		w.TierPoints = def.TierPoints
	}
	if w.DefaultTier < 0 {
		w.DefaultTier = def.DefaultTier
	}
	if w.TrendPoints < 0 {
		w.TrendPoints = def.TrendPoints
	}
	return w
}

// Context is the portfolio and market view shared by every candidate in a cycle.
type Context struct {
	PortfolioValue decimal.Decimal
	Holdings       map[string]decimal.Decimal // market value per held symbol
	Trend          float64                    // market breadth in [-1, 1]
}

// ContextFromState derives the scoring context from a portfolio snapshot.
func ContextFromState(s models.PortfolioState, trend float64) Context {
	h := make(map[string]decimal.Decimal, len(s.Positions))
	for sym, p := range s.Positions {
		h[sym] = p.MarketValue()
	}
	return Context{PortfolioValue: s.TotalValue(), Holdings: h, Trend: trend}
}

type Scorer struct {
	w Weights
}

func New(w Weights) *Scorer {
	return &Scorer{w: w.Normalize()}
}

// Score is a pure function of its inputs.
func (s *Scorer) Score(c models.CandidateStock, price decimal.Decimal, ctx Context) (models.ScoreBreakdown, error) {
	if !price.IsPositive() {
		return models.ScoreBreakdown{}, fmt.Errorf("%w for %s", ErrNoPrice, c.Symbol)
	}
	position, err := s.position(c.Symbol, ctx)
	if err != nil {
		return models.ScoreBreakdown{}, err
	}

	b := models.ScoreBreakdown{
		Valuation:   clamp(s.valuation(c.Fundamentals.FairValue, price.InexactFloat64()), 0, s.w.ValuationMax),
		Fundamental: clamp(s.fundamental(c.Fundamentals), 0, s.w.FundamentalMax),
		Position:    clamp(position, 0, s.w.PositionMax),
		Other:       clamp(s.other(c.Tier, ctx.Trend), 0, s.w.OtherMax),
	}
	b.Total = clamp(b.Valuation+b.Fundamental+b.Position+b.Other, 0, 100)
	return b, nil
}

// valuation steps up with upside to fair value; unknown fair value scores the neutral band.
func (s *Scorer) valuation(fair, price float64) float64 {
	if fair <= 0 {
		return s.w.ValuationMax * 0.35
	}
	upside := (fair - price) / price
	var frac float64
	switch {
	case upside >= 0.30:
		frac = 1
	case upside >= 0.20:
		frac = 0.8
	case upside >= 0.10:
		frac = 0.6
	case upside >= 0:
		frac = 0.35
	case upside >= -0.10:
		frac = 0.15
	}
	return s.w.ValuationMax * frac
}

// fundamental splits the band 60/40 between P/E and the better of yield or growth.
// Each missing input scores half its share.
func (s *Scorer) fundamental(f models.Fundamentals) float64 {
	peShare := s.w.FundamentalMax * 0.6
	ygShare := s.w.FundamentalMax * 0.4

	pe := peShare * 0.5
	if f.PE > 0 {
		switch {
		case f.PE < 8:
			pe = peShare
		case f.PE < 12:
			pe = peShare * 0.75
		case f.PE < 18:
			pe = peShare * 0.45
		case f.PE < 25:
			pe = peShare * 0.2
		default:
			pe = 0
		}
	}

	yg := ygShare * 0.5
	if best := math.Max(f.Yield, f.Growth); best > 0 {
		switch {
		case best >= 15:
			yg = ygShare
		case best >= 10:
			yg = ygShare * 0.7
		case best >= 5:
			yg = ygShare * 0.4
		default:
			yg = ygShare * 0.2
		}
	}
	return pe + yg
}

// position favors names the portfolio does not already hold heavily.
func (s *Scorer) position(symbol string, ctx Context) (float64, error) {
	held := ctx.Holdings[symbol]
	if !held.IsPositive() {
		return s.w.PositionMax, nil
	}
	if !ctx.PortfolioValue.IsPositive() {
		return 0, fmt.Errorf("%w: %s", ErrZeroPortfolioValue, symbol)
	}
	weight := held.Div(ctx.PortfolioValue).InexactFloat64()
	switch {
	case weight < 0.05:
		return s.w.PositionMax * 2 / 3, nil
	case weight < 0.10:
		return s.w.PositionMax / 3, nil
	}
	return 0, nil
}

func (s *Scorer) other(tier models.Tier, trend float64) float64 {
	pts, ok := s.w.TierPoints[tier]
	if !ok {
		pts = s.w.DefaultTier
	}
	trend = clamp(trend, -1, 1)
	return pts + s.w.TrendPoints*(trend+1)/2
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}
