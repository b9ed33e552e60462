package watcher

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"psx_copilot/internal/ledger"
	"psx_copilot/internal/models"

	"github.com/shopspring/decimal"
)

// Placement is the result of an operator order: either an executed trade or
// a recommendation waiting in the gate.
type Placement struct {
	Order    ledger.Order
	Trade    *models.TradeRecord
	Proposal *models.Recommendation
	Created  bool // false when an equivalent recommendation was already pending
}

// PlaceOrder submits an operator order outside the allocation cycle. A zero
// price is filled from the live feed. Autonomous mode executes immediately,
// gated mode stages the order for approval. Manual trades do not draw on the
// daily budget until an approval executes them.
func (w *Watcher) PlaceOrder(ctx context.Context, o ledger.Order) (Placement, error) {
	o.Symbol = models.NormalizeSymbol(o.Symbol)
	if o.Reason == "" {
		o.Reason = "Manual order"
	}
	s := w.settings.Get()
	if o.Price.IsZero() {
		price, err := w.livePrice(ctx, o.Symbol, s.CallTimeout())
		if err != nil {
			return Placement{Order: o}, fmt.Errorf("no live price for %s: %w", o.Symbol, err)
		}
		o.Price = price
	}
	if err := o.Validate(); err != nil {
		return Placement{Order: o}, err
	}

	if !s.AutonomousMode {
		if o.Side == models.SideSell {
			held := w.ledger.Snapshot().Positions[o.Symbol].Quantity
			if held == 0 {
				return Placement{Order: o}, fmt.Errorf("%w: %s", ledger.ErrNoPosition, o.Symbol)
			}
			if o.Quantity > held {
				return Placement{Order: o}, fmt.Errorf("%w: holding %d %s", ledger.ErrInsufficientQuantity, held, o.Symbol)
			}
		}
		rec, created, err := w.gate.Propose(ctx, o)
		if err != nil {
			return Placement{Order: o}, err
		}
		return Placement{Order: o, Proposal: &rec, Created: created}, nil
	}

	trade, err := w.ledger.Execute(ctx, o)
	if err != nil {
		log.Printf("WARN: manual order rejected %s: %v", o, err)
		return Placement{Order: o}, err
	}
	return Placement{Order: o, Trade: &trade}, nil
}

func (w *Watcher) livePrice(ctx context.Context, symbol string, timeout time.Duration) (decimal.Decimal, error) {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	price, err := w.prices.Price(cctx, symbol)
	if err != nil {
		return decimal.Zero, err
	}
	if !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("non-positive quote %s", price)
	}
	return price, nil
}

// handleTradeCommand parses /buy and /sell: <symbol> <qty> [price].
func (w *Watcher) handleTradeCommand(ctx context.Context, side models.Side, parts []string) string {
	usage := fmt.Sprintf("Usage: /%s <symbol> <qty> [price]", strings.ToLower(string(side)))
	if len(parts) < 3 || len(parts) > 4 {
		return usage
	}
	qty, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil || qty <= 0 {
		return "⚠️ Quantity must be a positive whole number.\n" + usage
	}
	price := decimal.Zero
	if len(parts) == 4 {
		price, err = decimal.NewFromString(parts[3])
		if err != nil || !price.IsPositive() {
			return "⚠️ Invalid price format.\n" + usage
		}
	}

	p, err := w.PlaceOrder(ctx, ledger.Order{
		Symbol:   parts[1],
		Side:     side,
		Quantity: qty,
		Price:    price,
		Reason:   "Manual " + strings.ToLower(string(side)) + " via command",
	})
	if err != nil {
		return fmt.Sprintf("❌ %s %d %s rejected: %v", side, qty, models.NormalizeSymbol(parts[1]), err)
	}
	cur := w.ledger.Snapshot().Currency
	switch {
	case p.Trade != nil:
		return fmt.Sprintf("✅ Executed %s %d %s @ %s",
			p.Trade.Side, p.Trade.Quantity, p.Trade.Symbol, models.FormatMoney(p.Trade.Price, cur))
	case !p.Created:
		return fmt.Sprintf("ℹ️ A %s for %s is already pending [%s].", p.Proposal.Side, p.Proposal.Symbol, p.Proposal.ShortID())
	default:
		return fmt.Sprintf("📝 Staged %s %d %s @ %s for approval [%s]. Use /approve %s",
			p.Proposal.Side, p.Proposal.Quantity, p.Proposal.Symbol, models.FormatMoney(p.Proposal.Price, cur),
			p.Proposal.ShortID(), p.Proposal.ShortID())
	}
}

func (w *Watcher) getPrice(ctx context.Context, symbol string) string {
	symbol = models.NormalizeSymbol(symbol)
	price, err := w.livePrice(ctx, symbol, w.settings.Get().CallTimeout())
	if err != nil {
		return fmt.Sprintf("⚠️ Could not fetch price for %s.", symbol)
	}
	return fmt.Sprintf("💹 %s: %s", symbol, models.FormatMoney(price, w.ledger.Snapshot().Currency))
}
