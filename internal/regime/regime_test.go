package regime

import (
	"testing"

	"github.com/shopspring/decimal"
)

func d(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func TestAdjust(t *testing.T) {
	p := DefaultParams()
	cases := []struct {
		name      string
		base      string
		sentiment float64
		cash      string
		want      string
	}{
		{"bearish capped by cash", "10000", -0.5, "5000", "5000"},
		{"bearish under cash", "10000", -0.5, "20000", "7000"},
		{"neutral", "10000", 0, "20000", "10000"},
		{"threshold is neutral", "10000", -0.3, "20000", "10000"},
		{"bullish", "10000", 0.8, "20000", "12000"},
		{"bullish capped", "10000", 0.8, "11000", "11000"},
		{"no cash", "10000", 0.8, "0", "0"},
		{"negative cash", "10000", 0, "-50", "0"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := p.Adjust(d(tc.base), tc.sentiment, d(tc.cash))
			if !got.Equal(d(tc.want)) {
				t.Errorf("expected %s, got %s", tc.want, got)
			}
		})
	}
}

func TestNormalizeInvertedBands(t *testing.T) {
	p := Params{BearThreshold: 0.5, BullThreshold: -0.5, BearMultiplier: 0.7, BullMultiplier: 1.2}.Normalize()
	if p != DefaultParams() {
		t.Errorf("expected defaults, got %+v", p)
	}
}

func TestLabel(t *testing.T) {
	p := DefaultParams()
	if p.Label(-0.9) != "BEARISH" || p.Label(0.1) != "NEUTRAL" || p.Label(0.9) != "BULLISH" {
		t.Error("unexpected regime labels")
	}
}
