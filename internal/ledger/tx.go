package ledger

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"psx_copilot/internal/models"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidOrder         = errors.New("invalid order")
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrNoPosition           = errors.New("no position held")
	ErrInsufficientQuantity = errors.New("insufficient quantity")
	ErrInvalidAmount        = errors.New("amount must be positive")
)

// Order is a request to buy or sell at a known price.
type Order struct {
	Symbol   string
	Side     models.Side
	Quantity int64
	Price    decimal.Decimal
	Reason   string
}

func (o Order) Value() decimal.Decimal {
	return o.Price.Mul(decimal.NewFromInt(o.Quantity))
}

func (o Order) String() string {
	return fmt.Sprintf("%s %d %s @ %s", o.Side, o.Quantity, o.Symbol, o.Price.StringFixed(2))
}

// Tx is the working copy handed to Mutate callbacks.
// A failed operation on a Tx leaves the working copy unchanged.
type Tx struct {
	state  *models.PortfolioState
	now    time.Time
	events []models.Notification
	dirty  bool
}

// State exposes the working copy. Callers that modify it directly must call Touch.
func (tx *Tx) State() *models.PortfolioState { return tx.state }

// Touch marks the working copy as modified so Mutate persists it.
func (tx *Tx) Touch() { tx.dirty = true }

func (tx *Tx) Now() time.Time { return tx.now }

// Notify queues a notification for the audit trail.
func (tx *Tx) Notify(title, message string, category models.NotificationCategory) {
	tx.events = append(tx.events, models.Notification{
		ID:        newID(),
		Title:     title,
		Message:   message,
		Category:  category,
		Timestamp: tx.now,
	})
}

// Validate checks the order shape without looking at portfolio state.
func (o Order) Validate() error { return validate(o) }

func validate(o Order) error {
	switch {
	case strings.TrimSpace(o.Symbol) == "":
		return fmt.Errorf("%w: empty symbol", ErrInvalidOrder)
	case o.Side != models.SideBuy && o.Side != models.SideSell:
		return fmt.Errorf("%w: unsupported side %q", ErrInvalidOrder, o.Side)
	case o.Quantity <= 0:
		return fmt.Errorf("%w: quantity must be positive, got %d", ErrInvalidOrder, o.Quantity)
	case !o.Price.IsPositive():
		return fmt.Errorf("%w: price must be positive, got %s", ErrInvalidOrder, o.Price)
	}
	return nil
}

// Execute applies a BUY or SELL to the working copy. All checks run before any field changes.
func (tx *Tx) Execute(o Order) (models.TradeRecord, error) {
	o.Symbol = models.NormalizeSymbol(o.Symbol)
	if err := validate(o); err != nil {
		return models.TradeRecord{}, err
	}
	s := tx.state
	qty := decimal.NewFromInt(o.Quantity)
	value := o.Value()
	cur := s.Currency

	rec := models.TradeRecord{
		ID:        newID(),
		Symbol:    o.Symbol,
		Side:      o.Side,
		Quantity:  o.Quantity,
		Price:     o.Price,
		Amount:    value,
		Reason:    o.Reason,
		Timestamp: tx.now,
	}

	switch o.Side {
	case models.SideBuy:
		if value.GreaterThan(s.Cash) {
			return models.TradeRecord{}, fmt.Errorf("%w: %s costs %s, cash is %s",
				ErrInsufficientFunds, o, models.FormatMoney(value, cur), models.FormatMoney(s.Cash, cur))
		}
		s.Cash = s.Cash.Sub(value)

		pos, held := s.Positions[o.Symbol]
		if held {
			newQty := pos.Quantity + o.Quantity
			pos.AvgCost = pos.TotalCost.Add(value).Div(decimal.NewFromInt(newQty))
			pos.Quantity = newQty
		} else {
			pos = models.Position{
				Symbol:   o.Symbol,
				Quantity: o.Quantity,
				AvgCost:  o.Price,
				OpenedAt: tx.now,
			}
		}
		pos.TotalCost = pos.AvgCost.Mul(decimal.NewFromInt(pos.Quantity))
		pos.LastPrice = o.Price
		s.Positions[o.Symbol] = pos

		tx.Notify("Trade Executed",
			fmt.Sprintf("Bought %d %s at %s. Reason: %s", o.Quantity, o.Symbol, models.FormatMoney(o.Price, cur), o.Reason),
			models.CategoryTrade)

	case models.SideSell:
		pos, held := s.Positions[o.Symbol]
		if !held {
			return models.TradeRecord{}, fmt.Errorf("%w: %s", ErrNoPosition, o.Symbol)
		}
		if pos.Quantity < o.Quantity {
			return models.TradeRecord{}, fmt.Errorf("%w: selling %d %s, holding %d",
				ErrInsufficientQuantity, o.Quantity, o.Symbol, pos.Quantity)
		}

		pnl := o.Price.Sub(pos.AvgCost).Mul(qty)
		rec.RealizedPnL = &pnl
		s.Cash = s.Cash.Add(value)

		pos.Quantity -= o.Quantity
		if pos.Quantity == 0 {
			delete(s.Positions, o.Symbol)
		} else {
			pos.TotalCost = pos.AvgCost.Mul(decimal.NewFromInt(pos.Quantity))
			pos.LastPrice = o.Price
			s.Positions[o.Symbol] = pos
		}

		tx.Notify("Trade Executed",
			fmt.Sprintf("Sold %d %s at %s. PnL: %s. Reason: %s", o.Quantity, o.Symbol,
				models.FormatMoney(o.Price, cur), models.FormatMoney(pnl, cur), o.Reason),
			models.CategoryTrade)
	}

	s.Trades = append(s.Trades, rec)
	tx.dirty = true
	return rec, nil
}

// Deposit credits cash.
func (tx *Tx) Deposit(amount decimal.Decimal, reason string) (models.TradeRecord, error) {
	if !amount.IsPositive() {
		return models.TradeRecord{}, fmt.Errorf("%w: %s", ErrInvalidAmount, amount)
	}
	rec := tx.cashEntry(models.SideDeposit, amount, reason)
	tx.state.Cash = tx.state.Cash.Add(amount)
	tx.state.Trades = append(tx.state.Trades, rec)
	tx.dirty = true
	return rec, nil
}

// Withdraw debits cash; it never overdraws.
func (tx *Tx) Withdraw(amount decimal.Decimal, reason string) (models.TradeRecord, error) {
	if !amount.IsPositive() {
		return models.TradeRecord{}, fmt.Errorf("%w: %s", ErrInvalidAmount, amount)
	}
	if amount.GreaterThan(tx.state.Cash) {
		return models.TradeRecord{}, fmt.Errorf("%w: withdrawing %s, cash is %s", ErrInsufficientFunds, amount, tx.state.Cash)
	}
	rec := tx.cashEntry(models.SideWithdraw, amount, reason)
	tx.state.Cash = tx.state.Cash.Sub(amount)
	tx.state.Trades = append(tx.state.Trades, rec)
	tx.dirty = true
	return rec, nil
}

func (tx *Tx) cashEntry(side models.Side, amount decimal.Decimal, reason string) models.TradeRecord {
	return models.TradeRecord{
		ID:        newID(),
		Side:      side,
		Quantity:  0,
		Price:     decimal.Zero,
		Amount:    amount,
		Reason:    reason,
		Timestamp: tx.now,
	}
}
