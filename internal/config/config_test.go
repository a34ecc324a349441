package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Retry.Attempts)
	assert.Equal(t, 8192, cfg.Download.ChunkSize)
	assert.True(t, cfg.Download.EnableResume)
	assert.Equal(t, int64(2)<<30, cfg.Safety.MaxArchiveSize)
	assert.Equal(t, 10, cfg.Safety.MaxExtractionDepth)
	assert.Equal(t, 6, cfg.Library.MaxTotalAttempts)
	assert.Equal(t, 3, cfg.Library.MaxDownloadAttempts)
	assert.Equal(t, "https://filings.xbrl.org", cfg.ESEF.BaseURL)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("FILINGS_RETRY_ATTEMPTS", "5")
	t.Setenv("FILINGS_SEC_USER_AGENT", "Acme research@acme.test")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Retry.Attempts)
	assert.Equal(t, "Acme research@acme.test", cfg.SEC.UserAgent)
}

func TestPathDefaultsDerivedFromRoot(t *testing.T) {
	t.Setenv("FILINGS_PATHS_ROOT", "/srv/filings")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "/srv/filings/entities", cfg.Paths.Entities)
	assert.Equal(t, "/srv/filings/taxonomies", cfg.Paths.Taxonomies)
	assert.Equal(t, "/srv/filings/temp", cfg.Paths.Temp)
	assert.Equal(t, "/srv/filings/manual_downloads", cfg.Paths.ManualDownloads)
}

func TestDurationAccessors(t *testing.T) {
	cfg := RetryConfig{DelaySecs: 1.5, MaxDelaySecs: 60}
	assert.Equal(t, 1500*time.Millisecond, cfg.Delay())
	assert.Equal(t, time.Minute, cfg.MaxDelay())

	lib := LibraryConfig{MonitorIntervalSecs: 300, CacheTTLSecs: 3600}
	assert.Equal(t, 5*time.Minute, lib.MonitorInterval())
	assert.Equal(t, time.Hour, lib.CacheTTL())
}

func TestConnString(t *testing.T) {
	db := DBConfig{Host: "localhost", Port: 5432, Name: "filings", User: "u", Password: "p"}
	assert.Equal(t, "postgres://u:p@localhost:5432/filings", db.ConnString())

	db.URL = "postgres://override/db"
	assert.Equal(t, "postgres://override/db", db.ConnString())
}
