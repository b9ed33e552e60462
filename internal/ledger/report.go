package ledger

import (
	"context"
	"fmt"

	"psx_copilot/internal/models"

	"github.com/shopspring/decimal"
)

// ReconcileTolerance is the largest drift still treated as balanced.
var ReconcileTolerance = decimal.RequireFromString("0.01")

type Reconciliation struct {
	Expected decimal.Decimal
	Actual   decimal.Decimal
	Drift    decimal.Decimal
	Trades   int
}

func (r Reconciliation) Balanced() bool {
	return r.Drift.Abs().LessThanOrEqual(ReconcileTolerance)
}

// Replay recomputes cash from the initial capital and the trade history.
func Replay(s models.PortfolioState) Reconciliation {
	expected := s.InitialCapital
	for _, t := range s.Trades {
		expected = expected.Add(t.CashEffect())
	}
	return Reconciliation{
		Expected: expected,
		Actual:   s.Cash,
		Drift:    s.Cash.Sub(expected),
		Trades:   len(s.Trades),
	}
}

// Reconcile checks the stored cash balance against the replayed history.
func (l *Ledger) Reconcile() Reconciliation {
	return Replay(l.Snapshot())
}

// FixCash rewrites the cash balance to the replayed value when it has drifted.
func (l *Ledger) FixCash(ctx context.Context) (Reconciliation, error) {
	var rec Reconciliation
	err := l.Mutate(ctx, func(tx *Tx) error {
		rec = Replay(*tx.state)
		if rec.Balanced() {
			return nil
		}
		tx.state.Cash = rec.Expected
		tx.Touch()
		tx.Notify("Cash Reconciled",
			fmt.Sprintf("Cash corrected from %s to %s (drift %s)", rec.Actual.StringFixed(2), rec.Expected.StringFixed(2), rec.Drift.StringFixed(2)),
			models.CategorySystem)
		return nil
	})
	return rec, err
}

// Summary is the portfolio overview shown by status commands.
type Summary struct {
	Cash           decimal.Decimal
	HoldingsValue  decimal.Decimal
	TotalValue     decimal.Decimal
	CostBasis      decimal.Decimal
	UnrealizedPnL  decimal.Decimal
	RealizedPnL    decimal.Decimal
	Invested       decimal.Decimal // initial capital plus deposits minus withdrawals
	OverallPnL     decimal.Decimal
	OverallPnLPct  decimal.Decimal
	PositionCount  int
	PendingReviews int
}

func Summarize(s models.PortfolioState) Summary {
	sum := Summary{
		Cash:          s.Cash,
		HoldingsValue: s.HoldingsValue(),
		Invested:      s.InitialCapital,
		PositionCount: len(s.Positions),
	}
	for _, p := range s.Positions {
		sum.CostBasis = sum.CostBasis.Add(p.TotalCost)
		sum.UnrealizedPnL = sum.UnrealizedPnL.Add(p.UnrealizedPnL())
	}
	for _, t := range s.Trades {
		switch t.Side {
		case models.SideSell:
			if t.RealizedPnL != nil {
				sum.RealizedPnL = sum.RealizedPnL.Add(*t.RealizedPnL)
			}
		case models.SideDeposit:
			sum.Invested = sum.Invested.Add(t.Amount)
		case models.SideWithdraw:
			sum.Invested = sum.Invested.Sub(t.Amount)
		}
	}
	for _, r := range s.Recommendations {
		if r.Status == models.StatusPending {
			sum.PendingReviews++
		}
	}
	sum.TotalValue = sum.Cash.Add(sum.HoldingsValue)
	sum.OverallPnL = sum.TotalValue.Sub(sum.Invested)
	if sum.Invested.IsPositive() {
		sum.OverallPnLPct = sum.OverallPnL.Div(sum.Invested).Mul(decimal.NewFromInt(100))
	}
	return sum
}

// Summary summarizes the current state.
func (l *Ledger) Summary() Summary {
	return Summarize(l.Snapshot())
}
