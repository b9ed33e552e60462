package models

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestTradeRecordCashEffect(t *testing.T) {
	amt := decimal.NewFromInt(500)
	cases := []struct {
		side Side
		want decimal.Decimal
	}{
		{SideBuy, decimal.NewFromInt(-500)},
		{SideSell, decimal.NewFromInt(500)},
		{SideDeposit, decimal.NewFromInt(500)},
		{SideWithdraw, decimal.NewFromInt(-500)},
	}
	for _, tc := range cases {
		got := TradeRecord{Side: tc.side, Amount: amt}.CashEffect()
		if !got.Equal(tc.want) {
			t.Errorf("%s: expected %s, got %s", tc.side, tc.want, got)
		}
	}
}

func TestCloneIsIndependent(t *testing.T) {
	now := time.Now()
	s := NewPortfolioState("ai", "PKR", decimal.NewFromInt(1000))
	s.Positions["SYS"] = Position{Symbol: "SYS", Quantity: 5}
	s.Recommendations = []Recommendation{{ID: "r1", Status: StatusPending}}
	s.LastRun = &now

	c := s.Clone()
	c.Positions["SYS"] = Position{Symbol: "SYS", Quantity: 9}
	c.Recommendations[0].Status = StatusDenied
	later := now.Add(time.Hour)
	*c.LastRun = later

	if s.Positions["SYS"].Quantity != 5 {
		t.Errorf("position leaked into original: %d", s.Positions["SYS"].Quantity)
	}
	if s.Recommendations[0].Status != StatusPending {
		t.Errorf("recommendation leaked into original: %s", s.Recommendations[0].Status)
	}
	if !s.LastRun.Equal(now) {
		t.Errorf("last run leaked into original: %s", s.LastRun)
	}
}

func TestPositionMarketValueFallsBackToCost(t *testing.T) {
	p := Position{Quantity: 10, AvgCost: decimal.NewFromInt(50), TotalCost: decimal.NewFromInt(500)}
	if !p.MarketValue().Equal(decimal.NewFromInt(500)) {
		t.Errorf("expected cost fallback 500, got %s", p.MarketValue())
	}
	p.LastPrice = decimal.NewFromInt(60)
	if !p.UnrealizedPnL().Equal(decimal.NewFromInt(100)) {
		t.Errorf("expected unrealized 100, got %s", p.UnrealizedPnL())
	}
}

func TestFormatMoney(t *testing.T) {
	got := FormatMoney(decimal.RequireFromString("1234.5"), "USD")
	if got != "$1,234.50" {
		t.Errorf("expected $1,234.50, got %s", got)
	}
	if got := FormatMoney(decimal.NewFromInt(7), "XXZ"); !strings.HasPrefix(got, "XXZ 7.00") {
		t.Errorf("unexpected fallback format: %s", got)
	}
}

func TestDefaultUniverseTiers(t *testing.T) {
	seen := map[string]bool{}
	for _, c := range DefaultUniverse() {
		if seen[c.Symbol] {
			t.Errorf("duplicate symbol %s", c.Symbol)
		}
		seen[c.Symbol] = true
		if c.Tier == "" || !c.Active {
			t.Errorf("%s: expected active tiered candidate", c.Symbol)
		}
	}
	if len(seen) != 15 {
		t.Errorf("expected 15 candidates, got %d", len(seen))
	}
}
