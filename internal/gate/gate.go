// Package gate stages trades as recommendations that an operator approves or denies.
package gate

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"psx_copilot/internal/ledger"
	"psx_copilot/internal/models"

	"github.com/google/uuid"
)

var (
	ErrNotFound        = errors.New("recommendation not found")
	ErrAmbiguousID     = errors.New("recommendation id is ambiguous")
	ErrAlreadyResolved = errors.New("recommendation already resolved")
)

// Announcer is told about every newly staged recommendation, e.g. to push approve/deny buttons.
type Announcer func(models.Recommendation)

type Gate struct {
	l        *ledger.Ledger
	announce Announcer
}

type Option func(*Gate)

func WithAnnouncer(a Announcer) Option {
	return func(g *Gate) { g.announce = a }
}

func New(l *ledger.Ledger, opts ...Option) *Gate {
	g := &Gate{l: l}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// SetAnnouncer replaces the announcer after construction.
func (g *Gate) SetAnnouncer(a Announcer) { g.announce = a }

// Propose stages o as a PENDING recommendation. When a PENDING recommendation
// for the same symbol and side already exists the proposal is dropped and the
// existing one is returned with created=false.
func (g *Gate) Propose(ctx context.Context, o ledger.Order) (models.Recommendation, bool, error) {
	o.Symbol = models.NormalizeSymbol(o.Symbol)
	if err := o.Validate(); err != nil {
		return models.Recommendation{}, false, err
	}

	var rec models.Recommendation
	created := false
	err := g.l.Mutate(ctx, func(tx *ledger.Tx) error {
		created = false
		s := tx.State()
		for _, r := range s.Recommendations {
			if r.Status == models.StatusPending && r.Symbol == o.Symbol && r.Side == o.Side {
				rec = r
				return nil
			}
		}
		rec = models.Recommendation{
			ID:        uuid.NewString(),
			Symbol:    o.Symbol,
			Side:      o.Side,
			Quantity:  o.Quantity,
			Price:     o.Price,
			Reason:    o.Reason,
			Status:    models.StatusPending,
			CreatedAt: tx.Now(),
		}
		s.Recommendations = append(s.Recommendations, rec)
		tx.Notify("Action Required",
			fmt.Sprintf("%s %d %s @ %s. Reason: %s [%s]", o.Side, o.Quantity, o.Symbol,
				models.FormatMoney(o.Price, s.Currency), o.Reason, rec.ShortID()),
			models.CategoryActionRequired)
		tx.Touch()
		created = true
		return nil
	})
	if err != nil {
		return models.Recommendation{}, false, fmt.Errorf("propose %s: %w", o, err)
	}

	if !created {
		log.Printf("Recommendation for %s %s already pending (%s), dropping duplicate", o.Side, o.Symbol, rec.ShortID())
		return rec, false, nil
	}
	if g.announce != nil {
		g.announce(rec)
	}
	return rec, true, nil
}

// Approve moves a PENDING recommendation to APPROVED and executes its frozen
// order in the same transaction. If the executor rejects the order the
// recommendation stays APPROVED, the rejection is recorded in Outcome and the
// executor error is returned.
func (g *Gate) Approve(ctx context.Context, id string) (models.Recommendation, error) {
	var rec models.Recommendation
	var execErr error
	err := g.l.Mutate(ctx, func(tx *ledger.Tx) error {
		execErr = nil
		s := tx.State()
		i, err := find(s.Recommendations, id)
		if err != nil {
			return err
		}
		r := &s.Recommendations[i]
		if r.Status != models.StatusPending {
			rec = *r
			return fmt.Errorf("%w: %s is %s", ErrAlreadyResolved, r.ShortID(), r.Status)
		}

		now := tx.Now()
		r.Status = models.StatusApproved
		r.ResolvedAt = &now

		trade, err := tx.Execute(ledger.Order{
			Symbol:   r.Symbol,
			Side:     r.Side,
			Quantity: r.Quantity,
			Price:    r.Price,
			Reason:   r.Reason,
		})
		if err != nil {
			execErr = err
			r.Outcome = "rejected: " + err.Error()
			tx.Notify("Approved Trade Rejected", fmt.Sprintf("%s %s: %v", r.Side, r.Symbol, err), models.CategoryAlert)
		} else {
			r.TradeID = trade.ID
			r.Outcome = "executed"
		}
		rec = *r
		tx.Touch()
		return nil
	})
	if err != nil {
		return rec, err
	}
	return rec, execErr
}

// Deny moves a PENDING recommendation to DENIED. Nothing else changes.
func (g *Gate) Deny(ctx context.Context, id string) (models.Recommendation, error) {
	var rec models.Recommendation
	err := g.l.Mutate(ctx, func(tx *ledger.Tx) error {
		execErr = nil
		s := tx.State()
		i, err := find(s.Recommendations, id)
		if err != nil {
			return err
		}
		r := &s.Recommendations[i]
		if r.Status != models.StatusPending {
			rec = *r
			return fmt.Errorf("%w: %s is %s", ErrAlreadyResolved, r.ShortID(), r.Status)
		}
		now := tx.Now()
		r.Status = models.StatusDenied
		r.ResolvedAt = &now
		r.Outcome = "denied"
		rec = *r
		tx.Notify("Recommendation Denied", fmt.Sprintf("%s %d %s", r.Side, r.Quantity, r.Symbol), models.CategoryInfo)
		tx.Touch()
		return nil
	})
	return rec, err
}

// Pending lists PENDING recommendations oldest first.
func (g *Gate) Pending() []models.Recommendation {
	var out []models.Recommendation
	for _, r := range g.l.Snapshot().Recommendations {
		if r.Status == models.StatusPending {
			out = append(out, r)
		}
	}
	return out
}

// Get looks a recommendation up by full id or unique prefix.
func (g *Gate) Get(id string) (models.Recommendation, error) {
	recs := g.l.Snapshot().Recommendations
	i, err := find(recs, id)
	if err != nil {
		return models.Recommendation{}, err
	}
	return recs[i], nil
}

func find(recs []models.Recommendation, id string) (int, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return -1, fmt.Errorf("%w: empty id", ErrNotFound)
	}
	match := -1
	for i, r := range recs {
		if r.ID == id {
			return i, nil
		}
		if strings.HasPrefix(r.ID, id) {
			if match >= 0 {
				return -1, fmt.Errorf("%w: %s", ErrAmbiguousID, id)
			}
			match = i
		}
	}
	if match < 0 {
		return -1, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return match, nil
}
