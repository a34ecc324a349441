package taxonomy

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// CachedResult is the memoized outcome of a filing's library check.
type CachedResult struct {
	AvailableCount int       `json:"available_count"`
	MissingCount   int       `json:"missing_count"`
	CheckedAt      time.Time `json:"checked_at"`
}

// ResultCache memoizes library check results per filing search in a local
// SQLite database, so repeat coordinator passes skip resolution entirely.
type ResultCache struct {
	db  *sql.DB
	ttl time.Duration
}

// NewResultCache opens (or creates) the cache at path.
func NewResultCache(path string, ttl time.Duration) (*ResultCache, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, eris.Wrap(err, "resultcache: create cache dir")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, eris.Wrap(err, "resultcache: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "resultcache: exec %s", pragma)
		}
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS library_results (
			search_id  TEXT PRIMARY KEY,
			result     TEXT NOT NULL,
			expires_at DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_library_results_expires ON library_results(expires_at);
	`); err != nil {
		db.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "resultcache: migrate")
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &ResultCache{db: db, ttl: ttl}, nil
}

func (c *ResultCache) Close() error {
	return c.db.Close()
}

// Get returns the unexpired cached result for a search, or nil.
func (c *ResultCache) Get(ctx context.Context, searchID string) (*CachedResult, error) {
	var raw string
	err := c.db.QueryRowContext(ctx,
		`SELECT result FROM library_results WHERE search_id = ? AND expires_at > ?`,
		searchID, time.Now().UTC(),
	).Scan(&raw)
	if eris.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "resultcache: get")
	}
	var res CachedResult
	if err := json.Unmarshal([]byte(raw), &res); err != nil {
		return nil, eris.Wrap(err, "resultcache: decode")
	}
	return &res, nil
}

// Set stores the result with the cache TTL.
func (c *ResultCache) Set(ctx context.Context, searchID string, res *CachedResult) error {
	raw, err := json.Marshal(res)
	if err != nil {
		return eris.Wrap(err, "resultcache: encode")
	}
	_, err = c.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO library_results (search_id, result, expires_at) VALUES (?, ?, ?)`,
		searchID, string(raw), time.Now().UTC().Add(c.ttl),
	)
	return eris.Wrap(err, "resultcache: set")
}

// DeleteExpired reaps expired entries; returns the count removed.
func (c *ResultCache) DeleteExpired(ctx context.Context) (int, error) {
	tag, err := c.db.ExecContext(ctx,
		`DELETE FROM library_results WHERE expires_at <= ?`, time.Now().UTC())
	if err != nil {
		return 0, eris.Wrap(err, "resultcache: delete expired")
	}
	n, _ := tag.RowsAffected()
	return int(n), nil
}
