package main

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/filings-cli/internal/config"
	"github.com/sells-group/filings-cli/internal/coordinator"
)

// withTestConfig installs a minimal config for the wiring helpers and
// restores the previous one afterwards.
func withTestConfig(t *testing.T) *config.Config {
	t.Helper()
	old := cfg
	t.Cleanup(func() { cfg = old })

	root := t.TempDir()
	cfg = &config.Config{
		Paths: config.PathsConfig{
			Entities:   filepath.Join(root, "entities"),
			Taxonomies: filepath.Join(root, "taxonomies"),
			Temp:       filepath.Join(root, "temp"),
			Cache:      filepath.Join(root, "cache"),
		},
		HTTP: config.HTTPConfig{RequestTimeoutSecs: 10, ConnectTimeoutSecs: 5},
		Retry: config.RetryConfig{
			Attempts:     3,
			DelaySecs:    0.001,
			MaxDelaySecs: 0.01,
		},
		Download: config.DownloadConfig{ChunkSize: 8192},
		Library:  config.LibraryConfig{MinFilesThreshold: 1, CacheTTLSecs: 60},
	}
	return cfg
}

func TestClientSucceedsAfterConfiguredRetries(t *testing.T) {
	withTestConfig(t)

	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) <= 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte("payload"))
	}))
	defer server.Close()

	client := initClient()
	defer client.Close()

	// retry.attempts = 3 must survive three 429 responses before the 200.
	body, err := client.Get(context.Background(), server.URL+"/f.zip")
	require.NoError(t, err)
	defer body.Close() //nolint:errcheck

	payload, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(payload))
	assert.Equal(t, int32(4), hits.Load())
}

func TestCheckLibrariesToleratesMissingDescriptor(t *testing.T) {
	withTestConfig(t)

	filingDir := t.TempDir() // no parsed.json inside
	report := &coordinator.BatchReport{
		Outcomes: []coordinator.Outcome{
			{ID: "search-1", Label: "ACME 10-K", Success: true, Directory: filingDir},
			{ID: "search-2", Label: "ACME 10-Q", Success: false},
		},
	}

	checkLibraries(context.Background(), nil, report)

	// The result cache landed under the configured cache root.
	_, err := os.Stat(resultCachePath())
	assert.NoError(t, err)
}
