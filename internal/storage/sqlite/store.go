package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"psx_copilot/internal/models"
	"psx_copilot/internal/storage"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
)

// Store persists a portfolio in a single SQLite database.
// Trades are append-only rows; everything else is rewritten per save inside one transaction.
type Store struct {
	db *sql.DB
}

var _ storage.Store = (*Store)(nil)

func Open(dbPath string) (*Store, error) {
	if strings.TrimSpace(dbPath) == "" {
		return nil, fmt.Errorf("db path is required")
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	// Immediate transactions take the write lock at BEGIN, so the revision
	// check in Save cannot race another process.
	db, err := sql.Open("sqlite3", dbPath+"?_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer; the ledger already serializes saves.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA busy_timeout=3000;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set pragma %s: %w", p, err)
		}
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func initSchema(db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS portfolio (
    id INTEGER PRIMARY KEY CHECK (id = 1),
    version TEXT NOT NULL,
    revision INTEGER NOT NULL DEFAULT 0,
    name TEXT NOT NULL,
    currency TEXT NOT NULL,
    cash TEXT NOT NULL,
    initial_capital TEXT NOT NULL,
    budget TEXT NOT NULL DEFAULT '{}',
    last_run TEXT,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS positions (
    symbol TEXT PRIMARY KEY,
    quantity INTEGER NOT NULL CHECK (quantity > 0),
    avg_cost TEXT NOT NULL,
    total_cost TEXT NOT NULL,
    last_price TEXT NOT NULL DEFAULT '0',
    opened_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS trades (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    id TEXT NOT NULL UNIQUE,
    symbol TEXT,
    side TEXT NOT NULL,
    quantity INTEGER NOT NULL,
    price TEXT NOT NULL,
    amount TEXT NOT NULL,
    realized_pnl TEXT,
    reason TEXT,
    ts TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS recommendations (
    id TEXT PRIMARY KEY,
    symbol TEXT NOT NULL,
    side TEXT NOT NULL,
    quantity INTEGER NOT NULL,
    price TEXT NOT NULL,
    reason TEXT,
    status TEXT NOT NULL,
    created_at TEXT NOT NULL,
    resolved_at TEXT,
    trade_id TEXT,
    outcome TEXT
);

CREATE TABLE IF NOT EXISTS universe (
    symbol TEXT PRIMARY KEY,
    ord INTEGER NOT NULL,
    name TEXT,
    sector TEXT,
    tier TEXT NOT NULL,
    target_weight REAL NOT NULL DEFAULT 0,
    fair_value REAL NOT NULL DEFAULT 0,
    pe REAL NOT NULL DEFAULT 0,
    yield REAL NOT NULL DEFAULT 0,
    growth REAL NOT NULL DEFAULT 0,
    active INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS notifications (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    id TEXT NOT NULL UNIQUE,
    title TEXT NOT NULL,
    message TEXT NOT NULL,
    category TEXT NOT NULL,
    ts TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol);
CREATE INDEX IF NOT EXISTS idx_recommendations_status ON recommendations(status);
`

	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return ensureColumn(db, "portfolio", "revision", "INTEGER NOT NULL DEFAULT 0")
}

// ensureColumn adds a column missing from databases created by older builds.
func ensureColumn(db *sql.DB, table, column, decl string) error {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return fmt.Errorf("inspect %s: %w", table, err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			cid     int
			name    string
			ctype   string
			notnull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return fmt.Errorf("scan %s columns: %w", table, err)
		}
		if name == column {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if _, err := db.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, decl)); err != nil {
		return fmt.Errorf("add %s.%s: %w", table, column, err)
	}
	return nil
}

// Save writes the whole aggregate in one transaction.
func (s *Store) Save(ctx context.Context, st models.PortfolioState) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var stored int64
	switch err = tx.QueryRowContext(ctx, `SELECT revision FROM portfolio WHERE id = 1`).Scan(&stored); {
	case errors.Is(err, sql.ErrNoRows):
		err = nil
	case err != nil:
		return fmt.Errorf("read revision: %w", err)
	default:
		if err = storage.CheckRevision(stored, st.Revision); err != nil {
			return err
		}
	}

	budget, err := json.Marshal(st.Budget)
	if err != nil {
		return fmt.Errorf("encode budget: %w", err)
	}
	if _, err = tx.ExecContext(ctx, `
INSERT INTO portfolio (id, version, revision, name, currency, cash, initial_capital, budget, last_run)
VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    version=excluded.version,
    revision=excluded.revision,
    name=excluded.name,
    currency=excluded.currency,
    cash=excluded.cash,
    initial_capital=excluded.initial_capital,
    budget=excluded.budget,
    last_run=excluded.last_run,
    updated_at=CURRENT_TIMESTAMP
`, st.Version, st.Revision, st.Name, st.Currency, st.Cash.String(), st.InitialCapital.String(), string(budget), formatTimePtr(st.LastRun)); err != nil {
		return fmt.Errorf("upsert portfolio: %w", err)
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM positions`); err != nil {
		return fmt.Errorf("clear positions: %w", err)
	}
	for _, p := range st.Positions {
		if _, err = tx.ExecContext(ctx, `
INSERT INTO positions (symbol, quantity, avg_cost, total_cost, last_price, opened_at)
VALUES (?, ?, ?, ?, ?, ?)
`, p.Symbol, p.Quantity, p.AvgCost.String(), p.TotalCost.String(), p.LastPrice.String(), formatTime(p.OpenedAt)); err != nil {
			return fmt.Errorf("insert position %s: %w", p.Symbol, err)
		}
	}

	for _, t := range st.Trades {
		var pnl any
		if t.RealizedPnL != nil {
			pnl = t.RealizedPnL.String()
		}
		if _, err = tx.ExecContext(ctx, `
INSERT INTO trades (id, symbol, side, quantity, price, amount, realized_pnl, reason, ts)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO NOTHING
`, t.ID, t.Symbol, string(t.Side), t.Quantity, t.Price.String(), t.Amount.String(), pnl, t.Reason, formatTime(t.Timestamp)); err != nil {
			return fmt.Errorf("insert trade %s: %w", t.ID, err)
		}
	}

	for _, r := range st.Recommendations {
		if _, err = tx.ExecContext(ctx, `
INSERT INTO recommendations (id, symbol, side, quantity, price, reason, status, created_at, resolved_at, trade_id, outcome)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    status=excluded.status,
    resolved_at=excluded.resolved_at,
    trade_id=excluded.trade_id,
    outcome=excluded.outcome
`, r.ID, r.Symbol, string(r.Side), r.Quantity, r.Price.String(), r.Reason, string(r.Status),
			formatTime(r.CreatedAt), formatTimePtr(r.ResolvedAt), r.TradeID, r.Outcome); err != nil {
			return fmt.Errorf("upsert recommendation %s: %w", r.ID, err)
		}
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM universe`); err != nil {
		return fmt.Errorf("clear universe: %w", err)
	}
	for i, c := range st.Universe {
		if _, err = tx.ExecContext(ctx, `
INSERT INTO universe (symbol, ord, name, sector, tier, target_weight, fair_value, pe, yield, growth, active)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`, c.Symbol, i, c.Name, c.Sector, string(c.Tier), c.TargetWeight, c.Fundamentals.FairValue,
			c.Fundamentals.PE, c.Fundamentals.Yield, c.Fundamentals.Growth, c.Active); err != nil {
			return fmt.Errorf("insert candidate %s: %w", c.Symbol, err)
		}
	}

	for _, n := range st.Notifications {
		if _, err = tx.ExecContext(ctx, `
INSERT INTO notifications (id, title, message, category, ts)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(id) DO NOTHING
`, n.ID, n.Title, n.Message, string(n.Category), formatTime(n.Timestamp)); err != nil {
			return fmt.Errorf("insert notification %s: %w", n.ID, err)
		}
	}
	// Keep the table bounded like the in-memory trail.
	if _, err = tx.ExecContext(ctx, `
DELETE FROM notifications WHERE seq NOT IN (
    SELECT seq FROM notifications ORDER BY seq DESC LIMIT ?
)`, models.MaxNotifications); err != nil {
		return fmt.Errorf("trim notifications: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit save: %w", err)
	}
	return nil
}

// Load rebuilds the aggregate; storage.ErrNoState when the database is empty.
func (s *Store) Load(ctx context.Context) (models.PortfolioState, error) {
	var st models.PortfolioState
	var cash, initial, budget string
	var lastRun sql.NullString
	err := s.db.QueryRowContext(ctx, `
SELECT version, revision, name, currency, cash, initial_capital, budget, last_run FROM portfolio WHERE id = 1
`).Scan(&st.Version, &st.Revision, &st.Name, &st.Currency, &cash, &initial, &budget, &lastRun)
	if errors.Is(err, sql.ErrNoRows) {
		return st, storage.ErrNoState
	}
	if err != nil {
		return st, fmt.Errorf("load portfolio: %w", err)
	}
	if st.Cash, err = decimal.NewFromString(cash); err != nil {
		return st, fmt.Errorf("parse cash: %w", err)
	}
	if st.InitialCapital, err = decimal.NewFromString(initial); err != nil {
		return st, fmt.Errorf("parse initial capital: %w", err)
	}
	if err := json.Unmarshal([]byte(budget), &st.Budget); err != nil {
		return st, fmt.Errorf("parse budget: %w", err)
	}
	if st.LastRun, err = parseTimePtr(lastRun); err != nil {
		return st, err
	}

	if st.Positions, err = s.loadPositions(ctx); err != nil {
		return st, err
	}
	if st.Trades, err = s.loadTrades(ctx); err != nil {
		return st, err
	}
	if st.Recommendations, err = s.loadRecommendations(ctx); err != nil {
		return st, err
	}
	if st.Universe, err = s.loadUniverse(ctx); err != nil {
		return st, err
	}
	if st.Notifications, err = s.loadNotifications(ctx); err != nil {
		return st, err
	}
	return st, nil
}

func (s *Store) loadPositions(ctx context.Context) (map[string]models.Position, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT symbol, quantity, avg_cost, total_cost, last_price, opened_at FROM positions
`)
	if err != nil {
		return nil, fmt.Errorf("query positions: %w", err)
	}
	defer rows.Close()

	out := map[string]models.Position{}
	for rows.Next() {
		var p models.Position
		var avg, total, last, opened string
		if err := rows.Scan(&p.Symbol, &p.Quantity, &avg, &total, &last, &opened); err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		if p.AvgCost, err = decimal.NewFromString(avg); err != nil {
			return nil, fmt.Errorf("parse avg cost %s: %w", p.Symbol, err)
		}
		if p.TotalCost, err = decimal.NewFromString(total); err != nil {
			return nil, fmt.Errorf("parse total cost %s: %w", p.Symbol, err)
		}
		if p.LastPrice, err = decimal.NewFromString(last); err != nil {
			return nil, fmt.Errorf("parse last price %s: %w", p.Symbol, err)
		}
		if p.OpenedAt, err = parseTime(opened); err != nil {
			return nil, err
		}
		out[p.Symbol] = p
	}
	return out, rows.Err()
}

func (s *Store) loadTrades(ctx context.Context) ([]models.TradeRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, COALESCE(symbol, ''), side, quantity, price, amount, realized_pnl, COALESCE(reason, ''), ts
FROM trades ORDER BY seq ASC
`)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	var out []models.TradeRecord
	for rows.Next() {
		var t models.TradeRecord
		var side, price, amount, ts string
		var pnl sql.NullString
		if err := rows.Scan(&t.ID, &t.Symbol, &side, &t.Quantity, &price, &amount, &pnl, &t.Reason, &ts); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		t.Side = models.Side(side)
		if t.Price, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("parse trade price %s: %w", t.ID, err)
		}
		if t.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("parse trade amount %s: %w", t.ID, err)
		}
		if pnl.Valid {
			v, err := decimal.NewFromString(pnl.String)
			if err != nil {
				return nil, fmt.Errorf("parse trade pnl %s: %w", t.ID, err)
			}
			t.RealizedPnL = &v
		}
		if t.Timestamp, err = parseTime(ts); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) loadRecommendations(ctx context.Context) ([]models.Recommendation, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, symbol, side, quantity, price, COALESCE(reason, ''), status, created_at, resolved_at,
       COALESCE(trade_id, ''), COALESCE(outcome, '')
FROM recommendations ORDER BY created_at ASC, id ASC
`)
	if err != nil {
		return nil, fmt.Errorf("query recommendations: %w", err)
	}
	defer rows.Close()

	var out []models.Recommendation
	for rows.Next() {
		var r models.Recommendation
		var side, price, status, created string
		var resolved sql.NullString
		if err := rows.Scan(&r.ID, &r.Symbol, &side, &r.Quantity, &price, &r.Reason, &status, &created, &resolved, &r.TradeID, &r.Outcome); err != nil {
			return nil, fmt.Errorf("scan recommendation: %w", err)
		}
		r.Side = models.Side(side)
		r.Status = models.RecommendationStatus(status)
		if r.Price, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("parse recommendation price %s: %w", r.ID, err)
		}
		if r.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		if r.ResolvedAt, err = parseTimePtr(resolved); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) loadUniverse(ctx context.Context) ([]models.CandidateStock, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT symbol, COALESCE(name, ''), COALESCE(sector, ''), tier, target_weight, fair_value, pe, yield, growth, active
FROM universe ORDER BY ord ASC
`)
	if err != nil {
		return nil, fmt.Errorf("query universe: %w", err)
	}
	defer rows.Close()

	var out []models.CandidateStock
	for rows.Next() {
		var c models.CandidateStock
		var tier string
		if err := rows.Scan(&c.Symbol, &c.Name, &c.Sector, &tier, &c.TargetWeight, &c.Fundamentals.FairValue,
			&c.Fundamentals.PE, &c.Fundamentals.Yield, &c.Fundamentals.Growth, &c.Active); err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		c.Tier = models.Tier(tier)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) loadNotifications(ctx context.Context) ([]models.Notification, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, title, message, category, ts FROM notifications ORDER BY seq ASC
`)
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	defer rows.Close()

	var out []models.Notification
	for rows.Next() {
		var n models.Notification
		var category, ts string
		if err := rows.Scan(&n.ID, &n.Title, &n.Message, &category, &ts); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		n.Category = models.NotificationCategory(category)
		if n.Timestamp, err = parseTime(ts); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}

func parseTimePtr(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
