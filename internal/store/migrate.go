package store

import (
	"context"
	"embed"
	"io/fs"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/filings-cli/internal/db"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Migrate applies all pending SQL migrations in lexicographic order,
// tracking applied files in schema_migrations.
func Migrate(ctx context.Context, pool db.Pool) error {
	log := zap.L().With(zap.String("component", "store.migrate"))

	// Advisory lock prevents concurrent migration runs.
	if _, err := pool.Exec(ctx, "SELECT pg_advisory_lock(7741001)"); err != nil {
		return eris.Wrap(err, "store: acquire migration advisory lock")
	}
	defer func() {
		if _, err := pool.Exec(ctx, "SELECT pg_advisory_unlock(7741001)"); err != nil {
			log.Warn("store: failed to release migration advisory lock", zap.Error(err))
		}
	}()

	if err := ensureMigrationTable(ctx, pool); err != nil {
		return err
	}

	entries, err := fs.ReadDir(migrationFS, "migrations")
	if err != nil {
		return eris.Wrap(err, "store: read migration dir")
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	applied, err := appliedMigrations(ctx, pool)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		name := entry.Name()
		if applied[name] {
			continue
		}

		data, err := migrationFS.ReadFile("migrations/" + name)
		if err != nil {
			return eris.Wrapf(err, "store: read migration %s", name)
		}

		log.Info("applying migration", zap.String("file", name))

		if _, err := pool.Exec(ctx, string(data)); err != nil {
			return eris.Wrapf(err, "store: apply migration %s", name)
		}
		if _, err := pool.Exec(ctx,
			"INSERT INTO schema_migrations (filename, applied_at) VALUES ($1, now())",
			name,
		); err != nil {
			return eris.Wrapf(err, "store: record migration %s", name)
		}
	}

	return nil
}

func ensureMigrationTable(ctx context.Context, pool db.Pool) error {
	sql := `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			id         SERIAL PRIMARY KEY,
			filename   TEXT NOT NULL UNIQUE,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
	`
	if _, err := pool.Exec(ctx, sql); err != nil {
		return eris.Wrap(err, "store: ensure migration table")
	}
	return nil
}

func appliedMigrations(ctx context.Context, pool db.Pool) (map[string]bool, error) {
	rows, err := pool.Query(ctx, "SELECT filename FROM schema_migrations")
	if err != nil {
		return nil, eris.Wrap(err, "store: list applied migrations")
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, eris.Wrap(err, "store: scan migration row")
		}
		applied[name] = true
	}
	return applied, rows.Err()
}

// seedMarkets is the static market catalog.
var seedMarkets = []Market{
	{
		MarketID:           MarketSEC,
		Name:               "US Securities and Exchange Commission",
		Country:            "US",
		APIBaseURL:         "https://data.sec.gov",
		RateLimitPerMinute: 600,
		UserAgentRequired:  true,
	},
	{
		MarketID:           MarketUKCH,
		Name:               "UK Companies House",
		Country:            "GB",
		APIBaseURL:         "https://api.companieshouse.gov.uk",
		RateLimitPerMinute: 120,
		UserAgentRequired:  false,
	},
	{
		MarketID:           MarketESEF,
		Name:               "ESEF filings.xbrl.org aggregator",
		Country:            "EU",
		APIBaseURL:         "https://filings.xbrl.org",
		RateLimitPerMinute: 60,
		UserAgentRequired:  false,
	},
}

// SeedMarkets upserts the static market catalog in one batch. Idempotent.
func SeedMarkets(ctx context.Context, pool db.Pool) error {
	rows := make([][]any, 0, len(seedMarkets))
	for _, m := range seedMarkets {
		rows = append(rows, []any{m.MarketID, m.Name, m.Country, m.APIBaseURL, m.RateLimitPerMinute, m.UserAgentRequired})
	}
	_, err := db.BulkUpsert(ctx, pool, db.UpsertConfig{
		Table:        "markets",
		Columns:      []string{"market_id", "name", "country", "api_base_url", "rate_limit_per_minute", "user_agent_required"},
		ConflictKeys: []string{"market_id"},
	}, rows)
	return eris.Wrap(err, "store: seed markets")
}
