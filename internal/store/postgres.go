package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/filings-cli/internal/db"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewWithPool wraps an existing pool. Used by tests and by subsystems that
// share one pool.
func NewWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Pool returns the underlying database pool for subsystems that need direct
// query access.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	return Migrate(ctx, s.pool)
}

func (s *PostgresStore) SeedMarkets(ctx context.Context) error {
	return SeedMarkets(ctx, s.pool)
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// UpsertEntity creates or refreshes the entity for (market, market-native
// id) and returns the stored row.
func (s *PostgresStore) UpsertEntity(ctx context.Context, marketType, marketEntityID, companyName string) (*Entity, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO entities (market_type, market_entity_id, company_name)
		VALUES ($1, $2, $3)
		ON CONFLICT (market_type, market_entity_id) DO UPDATE SET
			company_name = EXCLUDED.company_name,
			updated_at = now()
		RETURNING entity_id, market_type, market_entity_id, company_name, status, created_at, updated_at`,
		marketType, marketEntityID, companyName,
	)
	var e Entity
	if err := row.Scan(&e.EntityID, &e.MarketType, &e.MarketEntityID, &e.CompanyName, &e.Status, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, eris.Wrap(err, "postgres: upsert entity")
	}
	return &e, nil
}

// CreateFilingSearch inserts a pending search. Returns false when the
// (entity, accession) pair already exists.
func (s *PostgresStore) CreateFilingSearch(ctx context.Context, fs *FilingSearch) (bool, error) {
	meta, err := json.Marshal(orEmptyMap(fs.SearchMetadata))
	if err != nil {
		return false, eris.Wrap(err, "postgres: marshal search metadata")
	}
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO filing_searches (entity_id, market_type, form_type, filing_date, filing_url, accession_number, search_metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (entity_id, accession_number) DO NOTHING`,
		fs.EntityID, fs.MarketType, fs.FormType, fs.FilingDate, fs.FilingURL, fs.AccessionNumber, meta,
	)
	if err != nil {
		return false, eris.Wrap(err, "postgres: insert filing search")
	}
	return tag.RowsAffected() > 0, nil
}

const filingSearchColumns = `
	fs.search_id, fs.entity_id, fs.market_type, fs.form_type, fs.filing_date,
	fs.filing_url, fs.accession_number, fs.search_metadata, fs.download_status,
	fs.extraction_status, e.company_name, fs.created_at, fs.updated_at`

func scanFilingSearch(row pgx.Row) (*FilingSearch, error) {
	var (
		fs   FilingSearch
		meta []byte
	)
	err := row.Scan(&fs.SearchID, &fs.EntityID, &fs.MarketType, &fs.FormType, &fs.FilingDate,
		&fs.FilingURL, &fs.AccessionNumber, &meta, &fs.DownloadStatus,
		&fs.ExtractionStatus, &fs.CompanyName, &fs.CreatedAt, &fs.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &fs.SearchMetadata); err != nil {
			return nil, eris.Wrap(err, "postgres: decode search metadata")
		}
	}
	return &fs, nil
}

func (s *PostgresStore) GetFilingSearch(ctx context.Context, searchID string) (*FilingSearch, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+filingSearchColumns+`
		FROM filing_searches fs
		JOIN entities e ON e.entity_id = fs.entity_id
		WHERE fs.search_id = $1`,
		searchID,
	)
	fs, err := scanFilingSearch(row)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get filing search")
	}
	return fs, nil
}

// ListFilingsForDownload returns pending and failed searches, failed first
// so retry candidates surface at the top of the selection list.
func (s *PostgresStore) ListFilingsForDownload(ctx context.Context) ([]FilingSearch, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+filingSearchColumns+`
		FROM filing_searches fs
		JOIN entities e ON e.entity_id = fs.entity_id
		WHERE fs.download_status IN ('pending', 'failed')
		ORDER BY (fs.download_status = 'failed') DESC, fs.created_at`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list filings for download")
	}
	defer rows.Close()

	var out []FilingSearch
	for rows.Next() {
		fs, err := scanFilingSearch(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan filing search")
		}
		out = append(out, *fs)
	}
	return out, rows.Err()
}

// ClaimFilingSearch atomically takes ownership of a pending search. The
// conditional update is the only claim mechanism; two concurrent claimers
// cannot both see a row affected.
func (s *PostgresStore) ClaimFilingSearch(ctx context.Context, searchID string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE filing_searches
		SET download_status = 'downloading', updated_at = now()
		WHERE search_id = $1 AND download_status = 'pending'`,
		searchID,
	)
	if err != nil {
		return false, eris.Wrap(err, "postgres: claim filing search")
	}
	return tag.RowsAffected() > 0, nil
}

// ResetFilingSearch returns a failed search to pending so it can be claimed
// again.
func (s *PostgresStore) ResetFilingSearch(ctx context.Context, searchID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE filing_searches
		SET download_status = 'pending', updated_at = now()
		WHERE search_id = $1 AND download_status = 'failed'`,
		searchID,
	)
	return eris.Wrap(err, "postgres: reset filing search")
}

// CompleteFilingDownload records the verified on-disk filing and marks the
// search completed, in one transaction.
func (s *PostgresStore) CompleteFilingDownload(ctx context.Context, searchID, entityID, downloadDir string, instancePath *string) (*DownloadedFiling, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: begin")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	row := tx.QueryRow(ctx, `
		INSERT INTO downloaded_filings (search_id, entity_id, download_directory, instance_file_path)
		VALUES ($1, $2, $3, $4)
		RETURNING filing_id, search_id, entity_id, download_directory, instance_file_path, download_completed_at`,
		searchID, entityID, downloadDir, instancePath,
	)
	var df DownloadedFiling
	if err := row.Scan(&df.FilingID, &df.SearchID, &df.EntityID, &df.DownloadDirectory, &df.InstanceFilePath, &df.DownloadCompletedAt); err != nil {
		return nil, eris.Wrap(err, "postgres: insert downloaded filing")
	}

	if _, err := tx.Exec(ctx, `
		UPDATE filing_searches
		SET download_status = 'completed', updated_at = now()
		WHERE search_id = $1`,
		searchID,
	); err != nil {
		return nil, eris.Wrap(err, "postgres: complete filing search")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "postgres: commit")
	}
	return &df, nil
}

// FailFilingSearch marks the search failed and records the stage, message,
// and attempt count in the metadata sidecar.
func (s *PostgresStore) FailFilingSearch(ctx context.Context, searchID, stage, message string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE filing_searches
		SET download_status = 'failed',
		    search_metadata = search_metadata || jsonb_build_object(
		        'error_stage', $2::text,
		        'error_message', $3::text,
		        'attempts', COALESCE((search_metadata->>'attempts')::int, 0) + 1),
		    updated_at = now()
		WHERE search_id = $1`,
		searchID, stage, message,
	)
	return eris.Wrap(err, "postgres: fail filing search")
}

// UpsertTaxonomyLibrary creates the library row or, when the (name, version)
// pair exists, appends requiredBy to required_by_filings. Rows with name or
// version "unknown" are rejected as a no-op; the bool reports that skip.
func (s *PostgresStore) UpsertTaxonomyLibrary(ctx context.Context, lib *TaxonomyLibrary, requiredBy string) (bool, error) {
	return s.upsertLibrary(ctx, lib, requiredBy, false)
}

// EnqueueLibrary records that a filing needs the library downloaded now.
// Like UpsertTaxonomyLibrary, but an existing row in a terminal status is
// reset to pending so the download coordinator picks it up again.
func (s *PostgresStore) EnqueueLibrary(ctx context.Context, lib *TaxonomyLibrary, requiredBy string) (bool, error) {
	return s.upsertLibrary(ctx, lib, requiredBy, true)
}

func (s *PostgresStore) upsertLibrary(ctx context.Context, lib *TaxonomyLibrary, requiredBy string, requeue bool) (bool, error) {
	if lib.TaxonomyName == "unknown" || lib.TaxonomyVersion == "unknown" {
		return true, nil
	}

	required := []string{}
	if requiredBy != "" {
		required = append(required, requiredBy)
	}
	requiredJSON, err := json.Marshal(required)
	if err != nil {
		return false, eris.Wrap(err, "postgres: marshal required_by")
	}

	statusClause := ""
	if requeue {
		statusClause = `
			download_status = CASE
				WHEN taxonomy_libraries.download_status IN ('pending', 'downloading')
				THEN taxonomy_libraries.download_status
				ELSE 'pending'
			END,`
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO taxonomy_libraries (taxonomy_name, taxonomy_version, taxonomy_namespace, source_url, current_url, market_type, required_by_filings)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (taxonomy_name, taxonomy_version) DO UPDATE SET`+statusClause+`
			required_by_filings = CASE
				WHEN $8::text = '' OR taxonomy_libraries.required_by_filings @> to_jsonb($8::text)
				THEN taxonomy_libraries.required_by_filings
				ELSE taxonomy_libraries.required_by_filings || to_jsonb($8::text)
			END,
			updated_at = now()`,
		lib.TaxonomyName, lib.TaxonomyVersion, lib.TaxonomyNamespace,
		lib.SourceURL, lib.CurrentURL, lib.MarketType, requiredJSON, requiredBy,
	)
	if err != nil {
		return false, eris.Wrap(err, "postgres: upsert taxonomy library")
	}
	return false, nil
}

const libraryColumns = `
	library_id, taxonomy_name, taxonomy_version, taxonomy_namespace, source_url,
	current_url, market_type, download_status, library_directory, total_files,
	download_completed_at, last_verified_at, required_by_filings, total_attempts,
	download_attempts, extraction_attempts, failure_reason, error_message,
	alternative_urls_tried, created_at, updated_at`

func scanLibrary(row pgx.Row) (*TaxonomyLibrary, error) {
	var (
		lib      TaxonomyLibrary
		required []byte
		tried    []byte
	)
	err := row.Scan(&lib.LibraryID, &lib.TaxonomyName, &lib.TaxonomyVersion, &lib.TaxonomyNamespace, &lib.SourceURL,
		&lib.CurrentURL, &lib.MarketType, &lib.DownloadStatus, &lib.LibraryDirectory, &lib.TotalFiles,
		&lib.DownloadCompletedAt, &lib.LastVerifiedAt, &required, &lib.TotalAttempts,
		&lib.DownloadAttempts, &lib.ExtractionAttempts, &lib.FailureReason, &lib.ErrorMessage,
		&tried, &lib.CreatedAt, &lib.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(required) > 0 {
		if err := json.Unmarshal(required, &lib.RequiredByFilings); err != nil {
			return nil, eris.Wrap(err, "postgres: decode required_by_filings")
		}
	}
	if len(tried) > 0 {
		if err := json.Unmarshal(tried, &lib.AlternativeURLsTried); err != nil {
			return nil, eris.Wrap(err, "postgres: decode alternative_urls_tried")
		}
	}
	return &lib, nil
}

func (s *PostgresStore) GetLibraryByNameVersion(ctx context.Context, name, version string) (*TaxonomyLibrary, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+libraryColumns+`
		FROM taxonomy_libraries
		WHERE taxonomy_name = $1 AND taxonomy_version = $2`,
		name, version,
	)
	lib, err := scanLibrary(row)
	if err != nil {
		if eris.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: get library")
	}
	return lib, nil
}

// ListLibraries returns libraries filtered by status; an empty status
// returns everything.
func (s *PostgresStore) ListLibraries(ctx context.Context, status DownloadStatus) ([]TaxonomyLibrary, error) {
	sql := `SELECT ` + libraryColumns + ` FROM taxonomy_libraries`
	args := []any{}
	if status != "" {
		sql += ` WHERE download_status = $1`
		args = append(args, string(status))
	}
	sql += ` ORDER BY taxonomy_name, taxonomy_version`

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list libraries")
	}
	defer rows.Close()
	return collectLibraries(rows)
}

// ListRetryableLibraries returns failed libraries still under the attempt
// ceiling.
func (s *PostgresStore) ListRetryableLibraries(ctx context.Context, maxTotalAttempts int) ([]TaxonomyLibrary, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+libraryColumns+`
		FROM taxonomy_libraries
		WHERE download_status = 'failed' AND total_attempts < $1
		ORDER BY updated_at`,
		maxTotalAttempts,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list retryable libraries")
	}
	defer rows.Close()
	return collectLibraries(rows)
}

func collectLibraries(rows pgx.Rows) ([]TaxonomyLibrary, error) {
	var out []TaxonomyLibrary
	for rows.Next() {
		lib, err := scanLibrary(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan library")
		}
		out = append(out, *lib)
	}
	return out, rows.Err()
}

// ClaimLibrary atomically takes ownership of a pending library.
func (s *PostgresStore) ClaimLibrary(ctx context.Context, libraryID string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE taxonomy_libraries
		SET download_status = 'downloading', updated_at = now()
		WHERE library_id = $1 AND download_status = 'pending'`,
		libraryID,
	)
	if err != nil {
		return false, eris.Wrap(err, "postgres: claim library")
	}
	return tag.RowsAffected() > 0, nil
}

// CompleteLibrary marks a verified library ready.
func (s *PostgresStore) CompleteLibrary(ctx context.Context, libraryID, libraryDir string, totalFiles int) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE taxonomy_libraries
		SET download_status = 'completed',
		    library_directory = $2,
		    total_files = $3,
		    download_completed_at = now(),
		    last_verified_at = now(),
		    failure_reason = '',
		    error_message = '',
		    updated_at = now()
		WHERE library_id = $1`,
		libraryID, libraryDir, totalFiles,
	)
	return eris.Wrap(err, "postgres: complete library")
}

// FailLibrary marks a library failed and bumps attempt counters. extraction
// selects which per-kind counter is incremented alongside total_attempts.
func (s *PostgresStore) FailLibrary(ctx context.Context, libraryID, reason, message string, extraction bool) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE taxonomy_libraries
		SET download_status = 'failed',
		    failure_reason = $2,
		    error_message = $3,
		    total_attempts = total_attempts + 1,
		    download_attempts = download_attempts + CASE WHEN $4 THEN 0 ELSE 1 END,
		    extraction_attempts = extraction_attempts + CASE WHEN $4 THEN 1 ELSE 0 END,
		    updated_at = now()
		WHERE library_id = $1`,
		libraryID, reason, message, extraction,
	)
	return eris.Wrap(err, "postgres: fail library")
}

// RegisterLibraryFromDisk records a library found on disk but absent (or not
// ready) in the database. Reconciliation path.
func (s *PostgresStore) RegisterLibraryFromDisk(ctx context.Context, lib *TaxonomyLibrary, libraryDir string, totalFiles int) error {
	if lib.TaxonomyName == "unknown" || lib.TaxonomyVersion == "unknown" {
		return nil
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO taxonomy_libraries (taxonomy_name, taxonomy_version, taxonomy_namespace, source_url, market_type, download_status, library_directory, total_files, download_completed_at, last_verified_at)
		VALUES ($1, $2, $3, $4, $5, 'completed', $6, $7, now(), now())
		ON CONFLICT (taxonomy_name, taxonomy_version) DO UPDATE SET
			download_status = 'completed',
			library_directory = EXCLUDED.library_directory,
			total_files = EXCLUDED.total_files,
			download_completed_at = COALESCE(taxonomy_libraries.download_completed_at, now()),
			last_verified_at = now(),
			updated_at = now()`,
		lib.TaxonomyName, lib.TaxonomyVersion, lib.TaxonomyNamespace, lib.SourceURL, lib.MarketType, libraryDir, totalFiles,
	)
	return eris.Wrap(err, "postgres: register library from disk")
}

// MarkLibraryMissing downgrades a library whose directory disappeared back
// to pending so the coordinator re-acquires it.
func (s *PostgresStore) MarkLibraryMissing(ctx context.Context, libraryID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE taxonomy_libraries
		SET download_status = 'pending',
		    library_directory = NULL,
		    total_files = NULL,
		    updated_at = now()
		WHERE library_id = $1`,
		libraryID,
	)
	return eris.Wrap(err, "postgres: mark library missing")
}

func (s *PostgresStore) TouchLibraryVerified(ctx context.Context, libraryID string, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE taxonomy_libraries SET last_verified_at = $2 WHERE library_id = $1`,
		libraryID, at,
	)
	return eris.Wrap(err, "postgres: touch library verified")
}

// SwapLibraryURL records the exhausted URL and points the library at the
// next candidate, returning it to the pending queue.
func (s *PostgresStore) SwapLibraryURL(ctx context.Context, libraryID, previousURL, nextURL string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE taxonomy_libraries
		SET alternative_urls_tried = alternative_urls_tried || to_jsonb($2::text),
		    current_url = $3,
		    download_status = 'pending',
		    download_attempts = 0,
		    updated_at = now()
		WHERE library_id = $1`,
		libraryID, previousURL, nextURL,
	)
	return eris.Wrap(err, "postgres: swap library url")
}

// RequeueLibrary returns a failed library to pending for another attempt at
// its current URL. Attempt counters are preserved.
func (s *PostgresStore) RequeueLibrary(ctx context.Context, libraryID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE taxonomy_libraries
		SET download_status = 'pending', updated_at = now()
		WHERE library_id = $1 AND download_status = 'failed'`,
		libraryID,
	)
	return eris.Wrap(err, "postgres: requeue library")
}

func (s *PostgresStore) GetLibraryStats(ctx context.Context) (*LibraryStats, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE download_status = 'completed'),
		       COUNT(*) FILTER (WHERE download_status = 'pending'),
		       COUNT(*) FILTER (WHERE download_status = 'failed'),
		       COALESCE(SUM(total_files), 0)
		FROM taxonomy_libraries`)
	var st LibraryStats
	if err := row.Scan(&st.Total, &st.Completed, &st.Pending, &st.Failed, &st.TotalFiles); err != nil {
		return nil, eris.Wrap(err, "postgres: library stats")
	}
	return &st, nil
}

func orEmptyMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
