package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// StateVersion is the schema version written by this build.
const StateVersion = "2.1"

// MaxNotifications bounds the persisted audit trail.
const MaxNotifications = 500

// Side is the direction of a ledger entry.
type Side string

const (
	SideBuy      Side = "BUY"
	SideSell     Side = "SELL"
	SideDeposit  Side = "DEPOSIT"
	SideWithdraw Side = "WITHDRAW"
)

// Position is a holding in a single symbol.
// TotalCost always equals Quantity * AvgCost; a position with zero quantity is removed.
type Position struct {
	Symbol    string          `json:"symbol"`
	Quantity  int64           `json:"quantity"`
	AvgCost   decimal.Decimal `json:"avg_cost"`
	TotalCost decimal.Decimal `json:"total_cost"`
	LastPrice decimal.Decimal `json:"last_price"` // last marked price, display only
	OpenedAt  time.Time       `json:"opened_at"`
}

// MarketValue values the position at its last marked price, falling back to cost.
func (p Position) MarketValue() decimal.Decimal {
	price := p.LastPrice
	if !price.IsPositive() {
		price = p.AvgCost
	}
	return price.Mul(decimal.NewFromInt(p.Quantity))
}

// UnrealizedPnL is market value minus cost basis.
func (p Position) UnrealizedPnL() decimal.Decimal {
	return p.MarketValue().Sub(p.TotalCost)
}

// PnLPct returns the unrealized return as a fraction of cost (0.05 == 5%).
func (p Position) PnLPct(price decimal.Decimal) float64 {
	if !p.AvgCost.IsPositive() {
		return 0
	}
	return price.Sub(p.AvgCost).Div(p.AvgCost).InexactFloat64()
}

// TradeRecord is an immutable ledger entry.
type TradeRecord struct {
	ID          string           `json:"id"`
	Symbol      string           `json:"symbol,omitempty"`
	Side        Side             `json:"side"`
	Quantity    int64            `json:"quantity"`
	Price       decimal.Decimal  `json:"price"`
	Amount      decimal.Decimal  `json:"amount"` // cash moved, always non-negative
	RealizedPnL *decimal.Decimal `json:"realized_pnl,omitempty"`
	Reason      string           `json:"reason"`
	Timestamp   time.Time        `json:"timestamp"`
}

// CashEffect is the signed change this entry applied to cash.
func (t TradeRecord) CashEffect() decimal.Decimal {
	switch t.Side {
	case SideBuy, SideWithdraw:
		return t.Amount.Neg()
	case SideSell, SideDeposit:
		return t.Amount
	}
	return decimal.Zero
}

// BudgetState carries the daily accrual bookkeeping between cycles.
type BudgetState struct {
	DailyAllowance    decimal.Decimal `json:"daily_allowance"`
	RolloverFraction  float64         `json:"rollover_fraction"`
	CarriedOverUnused decimal.Decimal `json:"carried_over_unused"`
	LastAccrualDate   string          `json:"last_accrual_date,omitempty"`
	TodayDeployable   decimal.Decimal `json:"today_deployable"`
	UsedToday         decimal.Decimal `json:"used_today"`
	LastInjectionDate string          `json:"last_injection_date,omitempty"`
}

// NotificationCategory classifies audit trail entries.
type NotificationCategory string

const (
	CategoryTrade          NotificationCategory = "TRADE"
	CategoryAlert          NotificationCategory = "ALERT"
	CategoryInfo           NotificationCategory = "INFO"
	CategoryActionRequired NotificationCategory = "ACTION_REQUIRED"
	CategorySystem         NotificationCategory = "SYSTEM"
)

type Notification struct {
	ID        string               `json:"id"`
	Title     string               `json:"title"`
	Message   string               `json:"message"`
	Category  NotificationCategory `json:"category"`
	Timestamp time.Time            `json:"timestamp"`
}

// PortfolioState is the persisted aggregate for one portfolio.
// This struct matches the structure of the JSON state file.
type PortfolioState struct {
	Version         string              `json:"version"`
	Revision        int64               `json:"revision"` // bumped by every committed save
	Name            string              `json:"name"`
	Currency        string              `json:"currency"`
	Cash            decimal.Decimal     `json:"cash"`
	InitialCapital  decimal.Decimal     `json:"initial_capital"`
	Positions       map[string]Position `json:"positions"`
	Trades          []TradeRecord       `json:"trades"`
	Budget          BudgetState         `json:"budget"`
	Recommendations []Recommendation    `json:"recommendations"`
	Universe        []CandidateStock    `json:"universe"`
	Notifications   []Notification      `json:"notifications"`
	LastRun         *time.Time          `json:"last_run,omitempty"`
}

// NewPortfolioState returns an empty portfolio funded with the initial capital.
func NewPortfolioState(name, currency string, initialCapital decimal.Decimal) PortfolioState {
	return PortfolioState{
		Version:        StateVersion,
		Name:           name,
		Currency:       currency,
		Cash:           initialCapital,
		InitialCapital: initialCapital,
		Positions:      map[string]Position{},
	}
}

// Clone returns a deep copy that can be mutated without affecting s.
func (s PortfolioState) Clone() PortfolioState {
	c := s
	c.Positions = make(map[string]Position, len(s.Positions))
	for k, v := range s.Positions {
		c.Positions[k] = v
	}
	c.Trades = append([]TradeRecord(nil), s.Trades...)
	c.Recommendations = make([]Recommendation, len(s.Recommendations))
	for i, r := range s.Recommendations {
		if r.ResolvedAt != nil {
			t := *r.ResolvedAt
			r.ResolvedAt = &t
		}
		c.Recommendations[i] = r
	}
	c.Universe = append([]CandidateStock(nil), s.Universe...)
	c.Notifications = append([]Notification(nil), s.Notifications...)
	if s.LastRun != nil {
		t := *s.LastRun
		c.LastRun = &t
	}
	return c
}

// Position returns the holding for symbol, if any.
func (s PortfolioState) Position(symbol string) (Position, bool) {
	p, ok := s.Positions[symbol]
	return p, ok
}

// HoldingsValue sums the market value of every position.
func (s PortfolioState) HoldingsValue() decimal.Decimal {
	total := decimal.Zero
	for _, p := range s.Positions {
		total = total.Add(p.MarketValue())
	}
	return total
}

// TotalValue is cash plus holdings.
func (s PortfolioState) TotalValue() decimal.Decimal {
	return s.Cash.Add(s.HoldingsValue())
}
