package gate

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"psx_copilot/internal/ledger"
	"psx_copilot/internal/models"
	"psx_copilot/internal/notifications"
	"psx_copilot/internal/storage"

	"github.com/shopspring/decimal"
)

func d(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func newGate(t *testing.T, cash string) (*Gate, *ledger.Ledger, *notifications.Recorder) {
	t.Helper()
	rec := &notifications.Recorder{}
	l, err := ledger.Open(context.Background(), storage.NewMemory(), ledger.Options{
		Name:           "ai",
		InitialCapital: d(cash),
		Sink:           rec,
		Clock:          func() time.Time { return time.Date(2024, 5, 6, 11, 0, 0, 0, time.UTC) },
	})
	if err != nil {
		t.Fatal(err)
	}
	return New(l), l, rec
}

func order(sym string, side models.Side, qty int64, price string) ledger.Order {
	return ledger.Order{Symbol: sym, Side: side, Quantity: qty, Price: d(price), Reason: "score 80"}
}

func TestPropose_StagesWithoutMutation(t *testing.T) {
	g, l, rec := newGate(t, "10000")
	var announced []models.Recommendation
	g.SetAnnouncer(func(r models.Recommendation) { announced = append(announced, r) })

	r, created, err := g.Propose(context.Background(), order("OGDC", models.SideBuy, 10, "100"))
	if err != nil || !created {
		t.Fatalf("expected new recommendation, got %v %v", created, err)
	}
	if r.Status != models.StatusPending {
		t.Errorf("expected PENDING, got %s", r.Status)
	}
	s := l.Snapshot()
	if !s.Cash.Equal(d("10000")) || len(s.Positions) != 0 || len(s.Trades) != 0 {
		t.Error("proposal must not touch cash or positions")
	}
	if len(announced) != 1 || announced[0].ID != r.ID {
		t.Errorf("expected announcement for %s, got %+v", r.ID, announced)
	}
	if rec.Count(models.CategoryActionRequired) != 1 {
		t.Errorf("expected one ACTION_REQUIRED notification")
	}
}

func TestPropose_DropsDuplicatePending(t *testing.T) {
	g, l, _ := newGate(t, "10000")
	ctx := context.Background()

	first, _, _ := g.Propose(ctx, order("OGDC", models.SideBuy, 10, "100"))
	dup, created, err := g.Propose(ctx, order("OGDC", models.SideBuy, 50, "90"))
	if err != nil {
		t.Fatal(err)
	}
	if created || dup.ID != first.ID || dup.Quantity != 10 {
		t.Errorf("expected duplicate dropped in favour of %s, got %+v", first.ID, dup)
	}
	if _, created, _ := g.Propose(ctx, order("OGDC", models.SideSell, 5, "100")); !created {
		t.Error("different side should create a new recommendation")
	}
	if n := len(l.Snapshot().Recommendations); n != 2 {
		t.Errorf("expected 2 recommendations, got %d", n)
	}

	// Once resolved, the same symbol and side may be proposed again.
	if _, err := g.Deny(ctx, first.ID); err != nil {
		t.Fatal(err)
	}
	if _, created, _ := g.Propose(ctx, order("OGDC", models.SideBuy, 10, "100")); !created {
		t.Error("expected a fresh proposal after denial")
	}
}

func TestPropose_InvalidOrder(t *testing.T) {
	g, _, _ := newGate(t, "10000")
	_, _, err := g.Propose(context.Background(), order("OGDC", models.SideBuy, 0, "100"))
	if !errors.Is(err, ledger.ErrInvalidOrder) {
		t.Errorf("expected ErrInvalidOrder, got %v", err)
	}
}

func TestApprove_ExecutesOnce(t *testing.T) {
	g, l, rec := newGate(t, "10000")
	ctx := context.Background()
	r, _, _ := g.Propose(ctx, order("OGDC", models.SideBuy, 10, "100"))

	approved, err := g.Approve(ctx, r.ShortID())
	if err != nil {
		t.Fatal(err)
	}
	if approved.Status != models.StatusApproved || approved.TradeID == "" || approved.ResolvedAt == nil {
		t.Errorf("unexpected approved record %+v", approved)
	}
	if !l.Snapshot().Cash.Equal(d("9000")) {
		t.Errorf("expected 9000 cash, got %s", l.Snapshot().Cash)
	}

	_, err = g.Approve(ctx, r.ID)
	if !errors.Is(err, ErrAlreadyResolved) {
		t.Errorf("expected ErrAlreadyResolved, got %v", err)
	}
	if _, err := g.Deny(ctx, r.ID); !errors.Is(err, ErrAlreadyResolved) {
		t.Errorf("deny after approve: expected ErrAlreadyResolved, got %v", err)
	}
	s := l.Snapshot()
	if len(s.Trades) != 1 || !s.Cash.Equal(d("9000")) {
		t.Errorf("re-approval must not execute again: %d trades, cash %s", len(s.Trades), s.Cash)
	}
	if rec.Count(models.CategoryTrade) != 1 {
		t.Errorf("expected one trade notification, got %d", rec.Count(models.CategoryTrade))
	}
}

func TestApprove_ExecutionRejectedIsRecorded(t *testing.T) {
	g, l, rec := newGate(t, "500")
	ctx := context.Background()
	r, _, _ := g.Propose(ctx, order("OGDC", models.SideBuy, 10, "100"))

	got, err := g.Approve(ctx, r.ID)
	if !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if got.Status != models.StatusApproved || got.Outcome == "" || got.TradeID != "" {
		t.Errorf("expected approved with rejection outcome, got %+v", got)
	}
	s := l.Snapshot()
	if !s.Cash.Equal(d("500")) || len(s.Trades) != 0 {
		t.Error("rejected execution must not mutate the portfolio")
	}
	if s.Recommendations[0].Status != models.StatusApproved {
		t.Error("approval should persist even when execution is rejected")
	}
	if rec.Count(models.CategoryAlert) != 1 {
		t.Errorf("expected one ALERT, got %d", rec.Count(models.CategoryAlert))
	}
}

func TestDeny_NoSideEffects(t *testing.T) {
	g, l, _ := newGate(t, "10000")
	ctx := context.Background()
	r, _, _ := g.Propose(ctx, order("OGDC", models.SideBuy, 10, "100"))

	denied, err := g.Deny(ctx, r.ID)
	if err != nil {
		t.Fatal(err)
	}
	if denied.Status != models.StatusDenied {
		t.Errorf("expected DENIED, got %s", denied.Status)
	}
	if !l.Snapshot().Cash.Equal(d("10000")) || len(l.Snapshot().Trades) != 0 {
		t.Error("denial must not trade")
	}
	if _, err := g.Approve(ctx, r.ID); !errors.Is(err, ErrAlreadyResolved) {
		t.Errorf("expected ErrAlreadyResolved, got %v", err)
	}
	if len(g.Pending()) != 0 {
		t.Error("expected no pending recommendations")
	}
}

func TestLookup(t *testing.T) {
	recs := []models.Recommendation{{ID: "abcd1111"}, {ID: "abcd2222"}, {ID: "ffff0000"}}
	if i, err := find(recs, "ffff"); err != nil || i != 2 {
		t.Errorf("expected unique prefix match, got %d %v", i, err)
	}
	if _, err := find(recs, "abcd"); !errors.Is(err, ErrAmbiguousID) {
		t.Errorf("expected ErrAmbiguousID, got %v", err)
	}
	if _, err := find(recs, "zzz"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := find(recs, " "); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for blank id, got %v", err)
	}
}

func TestApprove_OnceAcrossTwoLedgers(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ai_portfolio.json")
	open := func() *ledger.Ledger {
		l, err := ledger.Open(ctx, storage.NewFileStore(path), ledger.Options{Name: "ai", InitialCapital: d("10000")})
		if err != nil {
			t.Fatal(err)
		}
		return l
	}

	daemonLedger := open()
	daemon := New(daemonLedger)
	r, _, err := daemon.Propose(ctx, order("OGDC", models.SideBuy, 10, "100"))
	if err != nil {
		t.Fatal(err)
	}

	cli := New(open())
	if _, err := cli.Approve(ctx, r.ID); err != nil {
		t.Fatalf("cli approve: %v", err)
	}
	if _, err := daemon.Approve(ctx, r.ID); !errors.Is(err, ErrAlreadyResolved) {
		t.Fatalf("expected ErrAlreadyResolved from the stale copy, got %v", err)
	}

	s := open().Snapshot()
	if len(s.Trades) != 1 || s.Positions["OGDC"].Quantity != 10 || !s.Cash.Equal(d("9000")) {
		t.Errorf("expected exactly one execution, got trades=%d qty=%d cash=%s",
			len(s.Trades), s.Positions["OGDC"].Quantity, s.Cash)
	}
	if daemonLedger.Snapshot().Recommendations[0].Status != models.StatusApproved {
		t.Error("daemon copy should have reloaded the approved recommendation")
	}
}
