package ledger

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"psx_copilot/internal/models"
	"psx_copilot/internal/notifications"
	"psx_copilot/internal/storage"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Ledger owns one portfolio. Every mutation goes through Mutate, which
// serializes writers, persists the new state and only then publishes it.
type Ledger struct {
	mu    sync.Mutex
	state models.PortfolioState
	store storage.Store
	sink  notifications.Sink
	now   func() time.Time
}

type Options struct {
	Name           string
	Currency       string
	InitialCapital decimal.Decimal
	Sink           notifications.Sink
	Clock          func() time.Time
}

// maxConflictRetries bounds how often Mutate reloads and re-runs after
// another process committed first.
const maxConflictRetries = 3

// Open loads the portfolio from store, creating a funded empty one on first run.
func Open(ctx context.Context, store storage.Store, opts Options) (*Ledger, error) {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Sink == nil {
		opts.Sink = notifications.LogSink{}
	}
	if opts.Currency == "" {
		opts.Currency = models.DefaultCurrency
	}

	s, err := store.Load(ctx)
	if errors.Is(err, storage.ErrNoState) {
		log.Printf("State missing for %q, creating portfolio with %s", opts.Name, opts.InitialCapital)
		s = models.NewPortfolioState(opts.Name, opts.Currency, opts.InitialCapital)
		err = store.Save(ctx, s)
		if errors.Is(err, storage.ErrConflict) {
			// Another process created it first.
			s, err = store.Load(ctx)
		}
		if err != nil {
			return nil, fmt.Errorf("save initial state: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}
	prepare(&s)

	return &Ledger{state: s, store: store, sink: opts.Sink, now: opts.Clock}, nil
}

func prepare(s *models.PortfolioState) {
	if s.Positions == nil {
		s.Positions = map[string]models.Position{}
	}
	s.Universe = models.NormalizeUniverse(s.Universe)
}

// Snapshot returns a deep copy of the current state.
func (l *Ledger) Snapshot() models.PortfolioState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state.Clone()
}

// Now is the ledger clock.
func (l *Ledger) Now() time.Time { return l.now() }

// Mutate runs fn against a working copy of the state. If fn returns an error or
// the store rejects the save, the working copy is discarded and nothing changes.
// When another process committed first, the state is reloaded and fn runs again
// on the fresh copy. Notifications queued on the Tx are persisted with the state
// and emitted after commit.
func (l *Ledger) Mutate(ctx context.Context, fn func(tx *Tx) error) error {
	for attempt := 0; ; attempt++ {
		events, err := l.commit(ctx, fn)
		if errors.Is(err, storage.ErrConflict) && attempt < maxConflictRetries {
			log.Printf("WARN: portfolio changed on disk, reloading and retrying: %v", err)
			if rerr := l.reload(ctx, true); rerr != nil {
				return rerr
			}
			continue
		}
		if err != nil {
			return err
		}
		for _, n := range events {
			l.sink.Emit(n)
		}
		return nil
	}
}

// commit applies fn and persists the result under the lock.
func (l *Ledger) commit(ctx context.Context, fn func(tx *Tx) error) ([]models.Notification, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	work := l.state.Clone()
	tx := &Tx{state: &work, now: l.now()}
	if err := fn(tx); err != nil {
		return nil, err
	}
	if !tx.dirty && len(tx.events) == 0 {
		return nil, nil
	}

	work.Notifications = append(work.Notifications, tx.events...)
	if over := len(work.Notifications) - models.MaxNotifications; over > 0 {
		work.Notifications = append([]models.Notification(nil), work.Notifications[over:]...)
	}
	work.Revision = l.state.Revision + 1

	if err := l.store.Save(ctx, work); err != nil {
		return nil, fmt.Errorf("persist state: %w", err)
	}
	l.state = work
	return tx.events, nil
}

// Refresh picks up state another process committed since the last load.
func (l *Ledger) Refresh(ctx context.Context) error {
	return l.reload(ctx, false)
}

func (l *Ledger) reload(ctx context.Context, force bool) error {
	s, err := l.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("reload state: %w", err)
	}
	prepare(&s)

	l.mu.Lock()
	defer l.mu.Unlock()
	if !force && s.Revision <= l.state.Revision {
		return nil
	}
	l.state = s
	return nil
}

// Execute applies a single trade atomically.
func (l *Ledger) Execute(ctx context.Context, o Order) (models.TradeRecord, error) {
	var rec models.TradeRecord
	err := l.Mutate(ctx, func(tx *Tx) error {
		var err error
		rec, err = tx.Execute(o)
		return err
	})
	return rec, err
}

// Deposit credits cash and records a DEPOSIT entry.
func (l *Ledger) Deposit(ctx context.Context, amount decimal.Decimal, reason string) (models.TradeRecord, error) {
	var rec models.TradeRecord
	err := l.Mutate(ctx, func(tx *Tx) error {
		var err error
		rec, err = tx.Deposit(amount, reason)
		return err
	})
	return rec, err
}

// Withdraw debits cash and records a WITHDRAW entry.
func (l *Ledger) Withdraw(ctx context.Context, amount decimal.Decimal, reason string) (models.TradeRecord, error) {
	var rec models.TradeRecord
	err := l.Mutate(ctx, func(tx *Tx) error {
		var err error
		rec, err = tx.Withdraw(amount, reason)
		return err
	})
	return rec, err
}

// MarkPrices refreshes LastPrice on held positions. Cost fields are untouched.
func (l *Ledger) MarkPrices(ctx context.Context, prices map[string]decimal.Decimal) error {
	return l.Mutate(ctx, func(tx *Tx) error {
		for sym, price := range prices {
			p, ok := tx.state.Positions[sym]
			if !ok || !price.IsPositive() {
				continue
			}
			p.LastPrice = price
			tx.state.Positions[sym] = p
			tx.dirty = true
		}
		return nil
	})
}

// Notify persists a notification on its own and forwards it to the sink.
func (l *Ledger) Notify(ctx context.Context, title, message string, category models.NotificationCategory) error {
	return l.Mutate(ctx, func(tx *Tx) error {
		tx.Notify(title, message, category)
		return nil
	})
}

func newID() string { return uuid.NewString() }
