package market

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/sells-group/filings-cli/internal/fetcher"
)

const tickerIndexURL = "https://www.sec.gov/files/company_tickers.json"

// TickerCache is the local SEC ticker index: a SQLite mirror of the EDGAR
// company_tickers.json document, refreshed when stale.
type TickerCache struct {
	db  *sql.DB
	ttl time.Duration
}

// NewTickerCache opens (or creates) the cache database at path.
func NewTickerCache(path string, ttl time.Duration) (*TickerCache, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, eris.Wrap(err, "tickercache: create cache dir")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, eris.Wrap(err, "tickercache: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "tickercache: exec %s", pragma)
		}
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS tickers (
			ticker TEXT PRIMARY KEY,
			cik    TEXT NOT NULL,
			title  TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS meta (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_tickers_title ON tickers(title);
	`); err != nil {
		db.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "tickercache: migrate")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &TickerCache{db: db, ttl: ttl}, nil
}

func (c *TickerCache) Close() error {
	return c.db.Close()
}

// tickerIndexEntry is one record of company_tickers.json, which is keyed by
// arbitrary row numbers.
type tickerIndexEntry struct {
	CIK    int64  `json:"cik_str"`
	Ticker string `json:"ticker"`
	Title  string `json:"title"`
}

// refresh re-downloads the index when the cached copy is older than the TTL.
func (c *TickerCache) refresh(ctx context.Context, client fetcher.Client) error {
	var fetchedAt string
	err := c.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = 'fetched_at'`).Scan(&fetchedAt)
	if err == nil {
		if t, perr := time.Parse(time.RFC3339, fetchedAt); perr == nil && time.Since(t) < c.ttl {
			return nil
		}
	} else if !eris.Is(err, sql.ErrNoRows) {
		return eris.Wrap(err, "tickercache: read meta")
	}

	var index map[string]tickerIndexEntry
	if err := client.GetJSON(ctx, tickerIndexURL, &index); err != nil {
		return eris.Wrap(err, "tickercache: fetch ticker index")
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "tickercache: begin")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM tickers`); err != nil {
		return eris.Wrap(err, "tickercache: clear")
	}
	for _, e := range index {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO tickers (ticker, cik, title) VALUES (?, ?, ?)`,
			strings.ToUpper(e.Ticker), padCIK(e.CIK), e.Title,
		); err != nil {
			return eris.Wrap(err, "tickercache: insert ticker")
		}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO meta (key, value) VALUES ('fetched_at', ?)`,
		time.Now().UTC().Format(time.RFC3339),
	); err != nil {
		return eris.Wrap(err, "tickercache: write meta")
	}
	if err := tx.Commit(); err != nil {
		return eris.Wrap(err, "tickercache: commit")
	}

	zap.L().Debug("ticker index refreshed", zap.Int("entries", len(index)))
	return nil
}

// LookupTicker resolves a ticker symbol to (zero-padded CIK, company name).
func (c *TickerCache) LookupTicker(ctx context.Context, client fetcher.Client, ticker string) (string, string, error) {
	if err := c.refresh(ctx, client); err != nil {
		return "", "", err
	}
	var cik, title string
	err := c.db.QueryRowContext(ctx,
		`SELECT cik, title FROM tickers WHERE ticker = ?`,
		strings.ToUpper(strings.TrimSpace(ticker)),
	).Scan(&cik, &title)
	if eris.Is(err, sql.ErrNoRows) {
		return "", "", eris.Errorf("tickercache: unknown ticker %q", ticker)
	}
	if err != nil {
		return "", "", eris.Wrap(err, "tickercache: lookup ticker")
	}
	return cik, title, nil
}

// LookupName resolves a company name substring to the best ticker match.
func (c *TickerCache) LookupName(ctx context.Context, client fetcher.Client, name string) (string, string, error) {
	if err := c.refresh(ctx, client); err != nil {
		return "", "", err
	}
	var cik, title string
	err := c.db.QueryRowContext(ctx,
		`SELECT cik, title FROM tickers WHERE title LIKE '%' || ? || '%' ORDER BY length(title) LIMIT 1`,
		strings.TrimSpace(name),
	).Scan(&cik, &title)
	if eris.Is(err, sql.ErrNoRows) {
		return "", "", eris.Errorf("tickercache: no company matching %q", name)
	}
	if err != nil {
		return "", "", eris.Wrap(err, "tickercache: lookup name")
	}
	return cik, title, nil
}

// padCIK zero-pads a CIK to the 10 digits EDGAR endpoints expect.
func padCIK(cik int64) string {
	return fmt.Sprintf("%010d", cik)
}
