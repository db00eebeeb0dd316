// Package vision wraps calls to vision-capable model providers with caching,
// cost tracking and a multi-provider fallback chain.
package vision

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/raysh454/miru/internal/logging"
	_ "modernc.org/sqlite" // SQLite driver
)

// Store is the durable tier shared by the vision result cache and the cost
// ledger. One sqlite database holds both tables.
type Store struct {
	db     *sql.DB
	logger logging.Logger
}

// OpenStore opens (or creates) the database at dir/vision.db and applies the
// schema. An empty dir opens a shared in-memory database, which tests use.
func OpenStore(dir string, logger logging.Logger) (*Store, error) {
	dsn := "file::memory:?cache=shared"
	if dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("vision: creating store directory: %w", err)
		}
		dsn = filepath.Join(dir, "vision.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("vision: opening database: %w", err)
	}
	if dir == "" {
		// The shared in-memory DB disappears once its last conn closes.
		db.SetMaxOpenConns(1)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("vision: applying schema: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

func applySchema(db *sql.DB) error {
	_, err := db.Exec(`
	PRAGMA journal_mode = WAL;
	PRAGMA busy_timeout = 5000;

	CREATE TABLE IF NOT EXISTS vision_cache (
		key            TEXT PRIMARY KEY,
		provider       TEXT NOT NULL,
		model          TEXT NOT NULL,
		fingerprint_a  TEXT NOT NULL,
		fingerprint_b  TEXT NOT NULL,
		payload        TEXT NOT NULL,
		created_at     INTEGER NOT NULL,
		expires_at     INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_vision_cache_expiry ON vision_cache(expires_at);

	CREATE TABLE IF NOT EXISTS cost_records (
		id        INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp INTEGER NOT NULL,
		provider  TEXT NOT NULL,
		model     TEXT NOT NULL,
		cost      REAL NOT NULL,
		cached    INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_cost_records_time ON cost_records(timestamp);
	`)
	return err
}

// getEntry returns the payload for key if present and unexpired.
func (s *Store) getEntry(ctx context.Context, key string, now time.Time) (string, bool, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM vision_cache WHERE key = ? AND expires_at > ?`,
		key, now.Unix()).Scan(&payload)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("query vision_cache: %w", err)
	}
	return payload, true, nil
}

// putEntry upserts a cache row with the given TTL.
func (s *Store) putEntry(ctx context.Context, key, provider, model, fpA, fpB, payload string, ttl time.Duration, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO vision_cache (key, provider, model, fingerprint_a, fingerprint_b, payload, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET payload = excluded.payload, created_at = excluded.created_at, expires_at = excluded.expires_at`,
		key, provider, model, fpA, fpB, payload, now.Unix(), now.Add(ttl).Unix())
	if err != nil {
		return fmt.Errorf("insert vision_cache: %w", err)
	}
	return nil
}

// countEntries reports live (unexpired) rows.
func (s *Store) countEntries(ctx context.Context, now time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM vision_cache WHERE expires_at > ?`, now.Unix()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count vision_cache: %w", err)
	}
	return n, nil
}

// pruneExpired removes expired rows and returns how many went away.
func (s *Store) pruneExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM vision_cache WHERE expires_at <= ?`, now.Unix())
	if err != nil {
		return 0, fmt.Errorf("prune vision_cache: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// clearEntries empties the cache table.
func (s *Store) clearEntries(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM vision_cache`); err != nil {
		return fmt.Errorf("clear vision_cache: %w", err)
	}
	return nil
}

// insertCostRecord appends one ledger row.
func (s *Store) insertCostRecord(ctx context.Context, provider, model string, cost float64, cached bool, now time.Time) error {
	cachedInt := 0
	if cached {
		cachedInt = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cost_records (timestamp, provider, model, cost, cached)
		VALUES (?, ?, ?, ?, ?)`,
		now.Unix(), provider, model, cost, cachedInt)
	if err != nil {
		return fmt.Errorf("insert cost_records: %w", err)
	}
	return nil
}

// DB exposes the underlying handle for the API surface (stats queries).
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}
