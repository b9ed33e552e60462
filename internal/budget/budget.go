// Package budget sizes each day's deployable capital and injects the daily cash top-up.
package budget

import (
	"context"
	"fmt"
	"log"
	"time"

	"psx_copilot/internal/ledger"
	"psx_copilot/internal/models"

	"github.com/shopspring/decimal"
)

const (
	DateLayout      = "2006-01-02"
	InjectionReason = "New Day: Budget Injected"
)

// Policy is the accrual configuration in effect for a cycle.
type Policy struct {
	DailyAllowance   decimal.Decimal
	RolloverFraction float64
}

// Normalize clamps the rollover to [0, 1] and a negative allowance to zero.
func (p Policy) Normalize() Policy {
	if p.DailyAllowance.IsNegative() {
		p.DailyAllowance = decimal.Zero
	}
	if p.RolloverFraction < 0 {
		p.RolloverFraction = 0
	}
	if p.RolloverFraction > 1 {
		p.RolloverFraction = 1
	}
	return p
}

// Day formats t as the calendar key used for accrual and injection.
func Day(t time.Time) string { return t.Format(DateLayout) }

type Engine struct {
	l *ledger.Ledger
}

func New(l *ledger.Ledger) *Engine {
	return &Engine{l: l}
}

// Accrue returns the deployable amount for day. The first call on a new day
// computes allowance + rollover * carried and persists it; later calls on the
// same day return the stored figure. Accrual never moves cash.
func (e *Engine) Accrue(ctx context.Context, day string, p Policy) (decimal.Decimal, error) {
	p = p.Normalize()
	var deployable decimal.Decimal
	err := e.l.Mutate(ctx, func(tx *ledger.Tx) error {
		b := &tx.State().Budget
		if b.LastAccrualDate == day {
			deployable = b.TodayDeployable
			return nil
		}

		carried := b.CarriedOverUnused
		if carried.IsNegative() {
			carried = decimal.Zero
		}
		deployable = p.DailyAllowance.Add(carried.Mul(decimal.NewFromFloat(p.RolloverFraction)))

		b.DailyAllowance = p.DailyAllowance
		b.RolloverFraction = p.RolloverFraction
		b.LastAccrualDate = day
		b.TodayDeployable = deployable
		b.UsedToday = decimal.Zero
		// Nothing spent yet; RecordUsage shrinks this as the day goes on.
		b.CarriedOverUnused = deployable
		tx.Touch()

		log.Printf("Budget accrued for %s: %s (allowance %s + %.0f%% of %s carried)",
			day, deployable.StringFixed(2), p.DailyAllowance.StringFixed(2), p.RolloverFraction*100, carried.StringFixed(2))
		return nil
	})
	if err != nil {
		return decimal.Zero, fmt.Errorf("accrue budget: %w", err)
	}
	return deployable, nil
}

// RecordUsage adds used to today's spend and sets the carried-over amount to
// max(0, deployable - used today) for tomorrow's accrual.
func (e *Engine) RecordUsage(ctx context.Context, used decimal.Decimal) error {
	if used.IsNegative() {
		return fmt.Errorf("record usage: negative amount %s", used)
	}
	return e.l.Mutate(ctx, func(tx *ledger.Tx) error {
		b := &tx.State().Budget
		b.UsedToday = b.UsedToday.Add(used)
		b.CarriedOverUnused = decimal.Max(decimal.Zero, b.TodayDeployable.Sub(b.UsedToday))
		tx.Touch()
		return nil
	})
}

// Remaining is today's deployable amount not yet spent.
func Remaining(b models.BudgetState) decimal.Decimal {
	return decimal.Max(decimal.Zero, b.TodayDeployable.Sub(b.UsedToday))
}

func (e *Engine) Remaining() decimal.Decimal {
	return Remaining(e.l.Snapshot().Budget)
}

// InjectDaily deposits amount into cash once per calendar day. It reports
// false when day was already injected or the amount is not positive.
func (e *Engine) InjectDaily(ctx context.Context, day string, amount decimal.Decimal) (bool, error) {
	injected := false
	err := e.l.Mutate(ctx, func(tx *ledger.Tx) error {
		injected = false
		b := &tx.State().Budget
		if b.LastInjectionDate == day {
			return nil
		}
		b.LastInjectionDate = day
		tx.Touch()
		if !amount.IsPositive() {
			return nil
		}
		if _, err := tx.Deposit(amount, InjectionReason); err != nil {
			return err
		}
		tx.Notify(InjectionReason,
			fmt.Sprintf("Added %s to cash for %s.", models.FormatMoney(amount, tx.State().Currency), day),
			models.CategorySystem)
		injected = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("inject daily budget: %w", err)
	}
	return injected, nil
}
