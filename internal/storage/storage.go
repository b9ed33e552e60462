package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"

	"psx_copilot/internal/models"

	"github.com/shopspring/decimal"
)

// DefaultStateFile is where the JSON backend keeps the portfolio when no path is configured.
const DefaultStateFile = "portfolio_state.json"

// ErrNoState is returned by Load when nothing has been persisted yet.
var ErrNoState = errors.New("no persisted portfolio state")

// Store persists a whole portfolio aggregate.
// Save must be atomic: either the full state is durable or the previous one remains.
// Once a state exists, Save accepts only s.Revision == persisted+1 and
// returns ErrConflict otherwise.
type Store interface {
	Load(ctx context.Context) (models.PortfolioState, error)
	Save(ctx context.Context, s models.PortfolioState) error
	Close() error
}

// FileStore keeps the portfolio in a single JSON document.
type FileStore struct {
	path string
	mu   sync.Mutex
}

func NewFileStore(path string) *FileStore {
	if path == "" {
		path = DefaultStateFile
	}
	return &FileStore{path: path}
}

func (f *FileStore) Path() string { return f.path }

// Load reads the portfolio state from disk, migrating older schemas in place.
func (f *FileStore) Load(ctx context.Context) (models.PortfolioState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var s models.PortfolioState
	file, err := os.Open(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return s, ErrNoState
	}
	if err != nil {
		return s, fmt.Errorf("open state: %w", err)
	}
	defer file.Close()

	b, err := io.ReadAll(file)
	if err != nil {
		return s, fmt.Errorf("read state: %w", err)
	}
	if err := json.Unmarshal(b, &s); err != nil {
		return s, fmt.Errorf("decode state %s: %w", f.path, err)
	}

	if migrateState(&s) {
		log.Printf("INFO: State migrated to version %s. Saving...", s.Version)
		unlock, err := acquireLock(ctx, f.lockPath())
		if err != nil {
			return s, err
		}
		defer unlock()
		if err := f.writeLocked(s); err != nil {
			return s, err
		}
	}
	return s, nil
}

// migrateState handles schema evolution.
// Returns true if changes were made and the state needs to be saved.
func migrateState(s *models.PortfolioState) bool {
	updated := false

	// 2.0 -> 2.1: positions carry TotalCost and the currency is explicit.
	if s.Version < "2.1" {
		log.Printf("INFO: Migrating state schema from %q to 2.1", s.Version)
		for sym, p := range s.Positions {
			p.TotalCost = p.AvgCost.Mul(decimal.NewFromInt(p.Quantity))
			if p.Symbol == "" {
				p.Symbol = sym
			}
			s.Positions[sym] = p
		}
		if s.Currency == "" {
			s.Currency = models.DefaultCurrency
		}
		s.Version = "2.1"
		updated = true
	}

	if s.Positions == nil {
		s.Positions = map[string]models.Position{}
	}
	return updated
}

// Save writes the state using an atomic write pattern:
// write to a temp file, sync it, then rename over the destination.
// The lock file makes the revision check and the rename one step across processes.
func (f *FileStore) Save(ctx context.Context, s models.PortfolioState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	unlock, err := acquireLock(ctx, f.lockPath())
	if err != nil {
		return err
	}
	defer unlock()

	stored, exists, err := f.storedRevision()
	if err != nil {
		return err
	}
	if exists {
		if err := CheckRevision(stored, s.Revision); err != nil {
			return err
		}
	}
	return f.writeLocked(s)
}

func (f *FileStore) lockPath() string { return f.path + ".lock" }

// storedRevision reads only the revision of the file on disk.
func (f *FileStore) storedRevision() (int64, bool, error) {
	b, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("read state: %w", err)
	}
	var head struct {
		Revision int64 `json:"revision"`
	}
	if err := json.Unmarshal(b, &head); err != nil {
		return 0, false, fmt.Errorf("decode state %s: %w", f.path, err)
	}
	return head.Revision, true, nil
}

func (f *FileStore) writeLocked(s models.PortfolioState) error {
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	if dir := filepath.Dir(f.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create state dir: %w", err)
		}
	}

	tmpFile := f.path + ".tmp"
	file, err := os.Create(tmpFile)
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	if _, err := file.Write(b); err != nil {
		file.Close()
		_ = os.Remove(tmpFile)
		return fmt.Errorf("write temp state file: %w", err)
	}
	// Force sync to disk before rename.
	if err := file.Sync(); err != nil {
		file.Close()
		_ = os.Remove(tmpFile)
		return fmt.Errorf("sync temp state file: %w", err)
	}
	// Close explicitly before renaming (essential on Windows).
	if err := file.Close(); err != nil {
		_ = os.Remove(tmpFile)
		return fmt.Errorf("close temp state file: %w", err)
	}
	if err := os.Rename(tmpFile, f.path); err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}

func (f *FileStore) Close() error { return nil }
