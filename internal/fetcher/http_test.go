package fetcher

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/filings-cli/internal/resilience"
)

func testClient(t *testing.T) *HTTPClient {
	t.Helper()
	c := NewHTTPClient(Options{
		Credentials: Credentials{
			SECUserAgent:  "Test Co test@example.com",
			UKCHAPIKey:    "chkey",
			UKCHUserAgent: "filings-cli test",
			GenericUA:     "filings-cli/1.0",
		},
		Retry: resilience.RetryConfig{
			MaxAttempts:    4,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     5 * time.Millisecond,
		},
		ChunkSize:    64,
		EnableResume: true,
	})
	t.Cleanup(c.Close)
	return c
}

func TestGetSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("hello"))
	}))
	defer srv.Close()

	body, err := testClient(t).Get(context.Background(), srv.URL)
	require.NoError(t, err)
	defer body.Close()

	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestGetRetriesTransientStatusThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	body, err := testClient(t).Get(context.Background(), srv.URL)
	require.NoError(t, err)
	defer body.Close()
	assert.EqualValues(t, 4, calls.Load())
}

func TestGetFatalStatusNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := testClient(t).Get(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Equal(t, 404, resilience.StatusCode(err))
	assert.EqualValues(t, 1, calls.Load())
}

func TestGetJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, AcceptJSON, r.Header.Get("Accept"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"name":"Apple Inc"}`))
	}))
	defer srv.Close()

	var out struct {
		Name string `json:"name"`
	}
	require.NoError(t, testClient(t).GetJSON(context.Background(), srv.URL, &out))
	assert.Equal(t, "Apple Inc", out.Name)
}

func TestHeadReportsStatusWithoutError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/zip")
		if r.URL.Path != "/good.zip" {
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := testClient(t)

	info, err := c.Head(context.Background(), srv.URL+"/good.zip")
	require.NoError(t, err)
	assert.True(t, info.Exists)
	assert.Equal(t, "application/zip", info.ContentType)

	info, err = c.Head(context.Background(), srv.URL+"/missing.zip")
	require.NoError(t, err)
	assert.False(t, info.Exists)
	assert.Equal(t, 404, info.StatusCode)
}

func TestDownloadToFileChunks(t *testing.T) {
	payload := make([]byte, 300)
	for i := range payload {
		payload[i] = byte(i % 251)
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "out.bin")
	stats, err := testClient(t).DownloadToFile(context.Background(), srv.URL, path)
	require.NoError(t, err)

	assert.EqualValues(t, 300, stats.BytesWritten)
	assert.GreaterOrEqual(t, stats.ChunksWritten, 5) // 300 bytes / 64-byte chunks
	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestDownloadToFileResume(t *testing.T) {
	full := []byte("0123456789abcdef")
	var sawRange atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rng := r.Header.Get("Range")
		sawRange.Store(rng)
		if rng == "bytes=8-" {
			w.WriteHeader(http.StatusPartialContent)
			_, _ = w.Write(full[8:])
			return
		}
		_, _ = w.Write(full)
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "resume.bin")
	require.NoError(t, os.WriteFile(path, full[:8], 0o644))

	stats, err := testClient(t).DownloadToFile(context.Background(), srv.URL, path)
	require.NoError(t, err)

	assert.Equal(t, "bytes=8-", sawRange.Load())
	assert.True(t, stats.Resumed)
	assert.EqualValues(t, 8, stats.BytesWritten)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, full, got)
}

func TestDownloadNegotiatedWalksLadder(t *testing.T) {
	var accepts []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		accept := r.Header.Get("Accept")
		accepts = append(accepts, accept)
		if accept != AcceptPDF {
			w.WriteHeader(http.StatusNotAcceptable)
			return
		}
		w.Header().Set("Content-Type", AcceptPDF)
		_, _ = w.Write([]byte("%PDF-1.4"))
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "accounts")
	stats, err := testClient(t).DownloadNegotiated(context.Background(), srv.URL, path, CompaniesHouseAcceptLadder())
	require.NoError(t, err)

	assert.Equal(t, []string{AcceptXHTML, AcceptHTML, AcceptPDF}, accepts)
	assert.Equal(t, AcceptPDF, stats.Format)
}

func TestDownloadNegotiatedAllRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotAcceptable)
	}))
	defer srv.Close()

	_, err := testClient(t).DownloadNegotiated(context.Background(), srv.URL, filepath.Join(t.TempDir(), "x"), CompaniesHouseAcceptLadder())
	require.Error(t, err)
}

func TestBuildHeadersSEC(t *testing.T) {
	creds := Credentials{SECUserAgent: "Test Co test@example.com", GenericUA: "generic"}
	h := creds.BuildHeaders("https://www.sec.gov/Archives/edgar/data/320193/index.json")
	assert.Equal(t, "Test Co test@example.com", h.Get("User-Agent"))
	assert.Empty(t, h.Get("Authorization"))
}

func TestBuildHeadersCompaniesHouse(t *testing.T) {
	creds := Credentials{UKCHAPIKey: "secret", UKCHUserAgent: "ch-ua", GenericUA: "generic"}

	h := creds.BuildHeaders("https://api.companieshouse.gov.uk/company/00000006/filing-history")
	assert.Equal(t, "ch-ua", h.Get("User-Agent"))
	// "secret:" base64-encoded
	assert.Equal(t, "Basic c2VjcmV0Og==", h.Get("Authorization"))
	assert.Equal(t, AcceptJSON, h.Get("Accept"))

	h = creds.BuildHeaders("https://document-api.company-information.service.gov.uk/document/abc/content")
	assert.Equal(t, AcceptXHTML, h.Get("Accept"))
}

func TestBuildHeadersGeneric(t *testing.T) {
	creds := Credentials{GenericUA: "filings-cli/1.0"}
	h := creds.BuildHeaders("https://example.org/taxonomy.zip")
	assert.Equal(t, "filings-cli/1.0", h.Get("User-Agent"))
}

func TestRingLimiterAllowsUpToWindow(t *testing.T) {
	lim := NewRingLimiter(3, time.Hour)
	now := time.Unix(1000, 0)
	lim.now = func() time.Time { return now }
	slept := time.Duration(0)
	lim.sleep = func(ctx context.Context, d time.Duration) error {
		slept += d
		now = now.Add(d)
		return nil
	}

	ctx := context.Background()
	for range 3 {
		require.NoError(t, lim.Wait(ctx))
	}
	assert.Zero(t, slept)

	// Fourth request must wait for the oldest stamp to leave the window.
	require.NoError(t, lim.Wait(ctx))
	assert.Equal(t, time.Hour, slept)
}

func TestLimiterRegistrySharesCompaniesHouseQuota(t *testing.T) {
	reg := NewLimiterRegistry()
	a := reg.For(chAPIHost)
	b := reg.For(chDocumentHost)
	assert.Same(t, a, b)

	// Unknown hosts get a lazily created default limiter, reused afterwards.
	x := reg.For("example.org")
	assert.Same(t, x, reg.For("example.org"))
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewHTTPClient(Options{
		Retry: resilience.RetryConfig{
			MaxAttempts:    1,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     time.Millisecond,
		},
	})
	t.Cleanup(c.Close)

	for i := 0; i < 5; i++ {
		_, err := c.Get(context.Background(), srv.URL)
		require.Error(t, err)
	}
	served := calls.Load()

	_, err := c.Get(context.Background(), srv.URL)
	require.Error(t, err)
	assert.True(t, eris.Is(err, resilience.ErrCircuitOpen))
	assert.Equal(t, served, calls.Load())
}
