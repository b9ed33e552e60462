// Package regime scales deployable capital by market sentiment.
package regime

import "github.com/shopspring/decimal"

type Params struct {
	BearThreshold  float64 `json:"bear_threshold"`
	BullThreshold  float64 `json:"bull_threshold"`
	BearMultiplier float64 `json:"bear_multiplier"`
	BullMultiplier float64 `json:"bull_multiplier"`
}

func DefaultParams() Params {
	return Params{
		BearThreshold:  -0.3,
		BullThreshold:  0.3,
		BearMultiplier: 0.7,
		BullMultiplier: 1.2,
	}
}

// Normalize falls back to defaults when the bands are inverted or multipliers are not positive.
func (p Params) Normalize() Params {
	if p.BearThreshold >= p.BullThreshold || p.BearMultiplier <= 0 || p.BullMultiplier <= 0 {
		return DefaultParams()
	}
	return p
}

// Multiplier maps a sentiment score in [-1, 1] to a capital multiplier.
func (p Params) Multiplier(sentiment float64) float64 {
	switch {
	case sentiment < p.BearThreshold:
		return p.BearMultiplier
	case sentiment > p.BullThreshold:
		return p.BullMultiplier
	}
	return 1
}

// Adjust returns min(base * multiplier, cash), never negative.
func (p Params) Adjust(base decimal.Decimal, sentiment float64, cash decimal.Decimal) decimal.Decimal {
	adjusted := base.Mul(decimal.NewFromFloat(p.Multiplier(sentiment)))
	adjusted = decimal.Min(adjusted, cash)
	if adjusted.IsNegative() {
		return decimal.Zero
	}
	return adjusted
}

// Label names the regime for logs and messages.
func (p Params) Label(sentiment float64) string {
	switch {
	case sentiment < p.BearThreshold:
		return "BEARISH"
	case sentiment > p.BullThreshold:
		return "BULLISH"
	}
	return "NEUTRAL"
}
