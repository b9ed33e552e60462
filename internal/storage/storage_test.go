package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"psx_copilot/internal/models"

	"github.com/shopspring/decimal"
)

func TestFileStore_MissingReturnsErrNoState(t *testing.T) {
	fs := NewFileStore(filepath.Join(t.TempDir(), "state.json"))
	if _, err := fs.Load(context.Background()); !errors.Is(err, ErrNoState) {
		t.Fatalf("expected ErrNoState, got %v", err)
	}
}

func TestFileStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "state.json")
	fs := NewFileStore(path)

	s := models.NewPortfolioState("ai", "PKR", decimal.NewFromInt(10000))
	s.Positions["SYS"] = models.Position{
		Symbol:    "SYS",
		Quantity:  10,
		AvgCost:   decimal.NewFromInt(100),
		TotalCost: decimal.NewFromInt(1000),
	}
	if err := fs.Save(ctx, s); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("temp file left behind: %v", err)
	}

	got, err := fs.Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !got.Cash.Equal(decimal.NewFromInt(10000)) {
		t.Errorf("cash mismatch: %s", got.Cash)
	}
	if got.Positions["SYS"].Quantity != 10 {
		t.Errorf("position mismatch: %+v", got.Positions["SYS"])
	}
}

func TestMigrateState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")

	// Legacy state (v2.0): no currency, no total_cost.
	legacyJSON := `{
		"version": "2.0",
		"name": "ai",
		"cash": "500",
		"initial_capital": "1000",
		"positions": {
			"OGDC": {"quantity": 4, "avg_cost": "125.5"}
		}
	}`
	if err := os.WriteFile(path, []byte(legacyJSON), 0644); err != nil {
		t.Fatalf("Failed to write legacy state: %v", err)
	}

	fs := NewFileStore(path)
	s, err := fs.Load(context.Background())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if s.Version != models.StateVersion {
		t.Errorf("Expected version %s, got %s", models.StateVersion, s.Version)
	}
	if s.Currency != "PKR" {
		t.Errorf("Expected PKR backfill, got %q", s.Currency)
	}
	pos := s.Positions["OGDC"]
	if pos.Symbol != "OGDC" {
		t.Errorf("Expected symbol backfill, got %q", pos.Symbol)
	}
	if !pos.TotalCost.Equal(decimal.NewFromInt(502)) {
		t.Errorf("Expected total cost 502, got %s", pos.TotalCost)
	}

	// Verify persistence (load again without migration).
	s2, err := fs.Load(context.Background())
	if err != nil {
		t.Fatalf("Reload failed: %v", err)
	}
	if s2.Version != models.StateVersion {
		t.Errorf("Persisted version mismatch: got %s", s2.Version)
	}
}

func TestMemory_FailSaves(t *testing.T) {
	m := NewMemory()
	m.FailSaves = errors.New("disk full")
	if err := m.Save(context.Background(), models.PortfolioState{}); err == nil {
		t.Fatal("expected save failure")
	}
	if _, err := m.Load(context.Background()); !errors.Is(err, ErrNoState) {
		t.Errorf("expected ErrNoState after failed save, got %v", err)
	}
}

func TestFileStore_RejectsStaleRevision(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.json")
	daemon, cli := NewFileStore(path), NewFileStore(path)

	s := models.NewPortfolioState("ai", "PKR", decimal.NewFromInt(10000))
	if err := daemon.Save(ctx, s); err != nil {
		t.Fatalf("initial save: %v", err)
	}

	next := s.Clone()
	next.Revision = 1
	next.Cash = decimal.NewFromInt(15000)
	if err := cli.Save(ctx, next); err != nil {
		t.Fatalf("cli save: %v", err)
	}

	stale := s.Clone()
	stale.Revision = 1
	if err := daemon.Save(ctx, stale); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if _, err := os.Stat(path + ".lock"); !os.IsNotExist(err) {
		t.Errorf("lock file left behind: %v", err)
	}

	got, err := daemon.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got.Revision != 1 || !got.Cash.Equal(decimal.NewFromInt(15000)) {
		t.Errorf("stale save overwrote state: rev=%d cash=%s", got.Revision, got.Cash)
	}
}

func TestFileStore_WaitsForLock(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.json")
	fs := NewFileStore(path)
	if err := os.WriteFile(path+".lock", []byte("1\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cctx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	if err := fs.Save(cctx, models.NewPortfolioState("ai", "PKR", decimal.NewFromInt(1))); err == nil {
		t.Fatal("expected save to fail while another process holds the lock")
	}

	old := time.Now().Add(-time.Minute)
	if err := os.Chtimes(path+".lock", old, old); err != nil {
		t.Fatal(err)
	}
	if err := fs.Save(ctx, models.NewPortfolioState("ai", "PKR", decimal.NewFromInt(1))); err != nil {
		t.Fatalf("stale lock should be broken: %v", err)
	}
}

func TestMemory_RejectsStaleRevision(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	s := models.PortfolioState{}
	if err := m.Save(ctx, s); err != nil {
		t.Fatal(err)
	}
	if err := m.Save(ctx, s); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict for repeated revision, got %v", err)
	}
	s.Revision = 1
	if err := m.Save(ctx, s); err != nil {
		t.Fatalf("next revision should save: %v", err)
	}
}
