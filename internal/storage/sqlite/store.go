// Package sqlite persists cached fetch responses and run checkpoints in a
// single local database file.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	_ "modernc.org/sqlite"

	"github.com/sellsync/market-crawler/internal/catalog"
	"github.com/sellsync/market-crawler/internal/metrics"
)

const schema = `
CREATE TABLE IF NOT EXISTS cache (
    key        TEXT PRIMARY KEY,
    payload    BLOB NOT NULL,
    expires_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_cache_expires ON cache(expires_at);

CREATE TABLE IF NOT EXISTS checkpoints (
    market_id    TEXT PRIMARY KEY,
    last_job_id  TEXT NOT NULL DEFAULT '',
    rows_written INTEGER NOT NULL DEFAULT 0,
    updated_at   DATETIME NOT NULL
);
`

type hotEntry struct {
	payload   []byte
	expiresAt time.Time
}

// Store implements catalog.Cache and catalog.CheckpointStore on SQLite, with
// an in-process LRU absorbing repeat reads within a run.
type Store struct {
	db    *sql.DB
	hot   *lru.Cache[string, hotEntry]
	clock catalog.Clock
}

// New opens (creating if needed) the database at dbPath and initializes the
// schema. hotEntries bounds the in-process LRU; zero disables it.
func New(dbPath string, hotEntries int, clock catalog.Clock) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open cache database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	var hot *lru.Cache[string, hotEntry]
	if hotEntries > 0 {
		hot, err = lru.New[string, hotEntry](hotEntries)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("create hot cache: %w", err)
		}
	}

	if clock == nil {
		clock = catalog.SystemClock{}
	}

	return &Store{db: db, hot: hot, clock: clock}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns the cached result for key if present and unexpired. Expired
// rows are deleted lazily and reported as a miss.
func (s *Store) Get(ctx context.Context, key string) (catalog.FetchResult, bool, error) {
	now := s.clock.Now()

	if s.hot != nil {
		if entry, ok := s.hot.Get(key); ok {
			if now.Before(entry.expiresAt) {
				result, err := decodePayload(entry.payload)
				if err == nil {
					metrics.ObserveCacheLookup("hit")
					return result, true, nil
				}
			}
			s.hot.Remove(key)
		}
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT payload, expires_at FROM cache WHERE key = ?`, key,
	)
	var payload []byte
	var expiresAt int64
	if err := row.Scan(&payload, &expiresAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			metrics.ObserveCacheLookup("miss")
			return catalog.FetchResult{}, false, nil
		}
		return catalog.FetchResult{}, false, fmt.Errorf("read cache entry: %w", err)
	}

	if now.Unix() >= expiresAt {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM cache WHERE key = ?`, key); err != nil {
			return catalog.FetchResult{}, false, fmt.Errorf("evict expired entry: %w", err)
		}
		metrics.ObserveCacheLookup("expired")
		return catalog.FetchResult{}, false, nil
	}

	result, err := decodePayload(payload)
	if err != nil {
		return catalog.FetchResult{}, false, err
	}

	if s.hot != nil {
		s.hot.Add(key, hotEntry{payload: payload, expiresAt: time.Unix(expiresAt, 0)})
	}
	metrics.ObserveCacheLookup("hit")
	return result, true, nil
}

// Put upserts a cache entry with the given lifetime.
func (s *Store) Put(ctx context.Context, key string, result catalog.FetchResult, ttl time.Duration) error {
	result.FromCache = true
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}

	expiresAt := s.clock.Now().Add(ttl)
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO cache (key, payload, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET payload = excluded.payload, expires_at = excluded.expires_at`,
		key, payload, expiresAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("write cache entry: %w", err)
	}

	if s.hot != nil {
		s.hot.Add(key, hotEntry{payload: payload, expiresAt: expiresAt})
	}
	return nil
}

// LoadCheckpoint returns the stored checkpoint for a market, if any.
func (s *Store) LoadCheckpoint(ctx context.Context, marketID string) (catalog.ExportCheckpoint, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT market_id, last_job_id, rows_written, updated_at
		 FROM checkpoints WHERE market_id = ?`, marketID,
	)
	var cp catalog.ExportCheckpoint
	if err := row.Scan(&cp.MarketID, &cp.LastJobID, &cp.RowsWritten, &cp.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return catalog.ExportCheckpoint{}, false, nil
		}
		return catalog.ExportCheckpoint{}, false, fmt.Errorf("read checkpoint: %w", err)
	}
	return cp, true, nil
}

// SaveCheckpoint upserts a market's checkpoint.
func (s *Store) SaveCheckpoint(ctx context.Context, cp catalog.ExportCheckpoint) error {
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = s.clock.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO checkpoints (market_id, last_job_id, rows_written, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(market_id) DO UPDATE SET
		   last_job_id = excluded.last_job_id,
		   rows_written = excluded.rows_written,
		   updated_at = excluded.updated_at`,
		cp.MarketID, cp.LastJobID, cp.RowsWritten, cp.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	return nil
}

func decodePayload(payload []byte) (catalog.FetchResult, error) {
	var result catalog.FetchResult
	if err := json.Unmarshal(payload, &result); err != nil {
		return catalog.FetchResult{}, fmt.Errorf("decode cache entry: %w", err)
	}
	result.FromCache = true
	return result, nil
}
