package coordinator

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/filings-cli/internal/distribution"
	"github.com/sells-group/filings-cli/internal/fetcher"
	"github.com/sells-group/filings-cli/internal/paths"
	"github.com/sells-group/filings-cli/internal/store"
)

// fakeClient serves a fixed zip payload for the URLs it knows about.
type fakeClient struct {
	known   map[string]string // url -> content type
	payload []byte
}

func (f *fakeClient) Get(context.Context, string) (io.ReadCloser, error) {
	return nil, errors.New("not supported")
}

func (f *fakeClient) GetJSON(context.Context, string, any) error {
	return errors.New("not supported")
}

func (f *fakeClient) Head(_ context.Context, url string) (*fetcher.HeadInfo, error) {
	ct, ok := f.known[url]
	if !ok {
		return &fetcher.HeadInfo{StatusCode: http.StatusNotFound, FinalURL: url}, nil
	}
	return &fetcher.HeadInfo{StatusCode: http.StatusOK, ContentType: ct, FinalURL: url, Exists: true}, nil
}

func (f *fakeClient) DownloadToFile(_ context.Context, url, path string) (*fetcher.StreamStats, error) {
	if _, ok := f.known[url]; !ok {
		return nil, errors.New("status 404")
	}
	if err := os.WriteFile(path, f.payload, 0o644); err != nil {
		return nil, err
	}
	return &fetcher.StreamStats{BytesWritten: int64(len(f.payload)), ChunksWritten: 1}, nil
}

func (f *fakeClient) DownloadNegotiated(context.Context, string, string, []string) (*fetcher.StreamStats, error) {
	return nil, errors.New("not supported")
}

func (f *fakeClient) Do(*http.Request) (*http.Response, error) {
	return nil, errors.New("not supported")
}

func (f *fakeClient) Close() {}

// stubCoordStore records the state-machine writes.
type stubCoordStore struct {
	store.Store

	claimResult   bool
	claimed       []string
	completed     []string
	instancePaths []*string
	failedStages  []string
	failedReasons []string

	libClaimResult bool
	libCompleted   map[string]int
	libFailed      map[string]string
}

func newStubCoordStore() *stubCoordStore {
	return &stubCoordStore{
		claimResult:    true,
		libClaimResult: true,
		libCompleted:   map[string]int{},
		libFailed:      map[string]string{},
	}
}

func (s *stubCoordStore) ClaimFilingSearch(_ context.Context, searchID string) (bool, error) {
	s.claimed = append(s.claimed, searchID)
	return s.claimResult, nil
}

func (s *stubCoordStore) CompleteFilingDownload(_ context.Context, searchID, _, _ string, instancePath *string) (*store.DownloadedFiling, error) {
	s.completed = append(s.completed, searchID)
	s.instancePaths = append(s.instancePaths, instancePath)
	return &store.DownloadedFiling{SearchID: searchID}, nil
}

func (s *stubCoordStore) FailFilingSearch(_ context.Context, _, stage, _ string) error {
	s.failedStages = append(s.failedStages, stage)
	return nil
}

func (s *stubCoordStore) ClaimLibrary(_ context.Context, _ string) (bool, error) {
	return s.libClaimResult, nil
}

func (s *stubCoordStore) CompleteLibrary(_ context.Context, libraryID, _ string, totalFiles int) error {
	s.libCompleted[libraryID] = totalFiles
	return nil
}

func (s *stubCoordStore) FailLibrary(_ context.Context, libraryID, reason, _ string, _ bool) error {
	s.libFailed[libraryID] = reason
	return nil
}

func filingZip(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range map[string]string{
		"parsed.json":       `{"namespaces": {}}`,
		"aapl-20240928.htm": "<html/>",
	} {
		f, err := w.Create(name)
		require.NoError(t, err)
		_, err = f.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func newTestCoordinator(t *testing.T, st store.Store, client fetcher.Client) (*Coordinator, *paths.Resolver) {
	t.Helper()
	resolver := paths.NewResolver(t.TempDir(), t.TempDir(), t.TempDir())
	proc := distribution.NewProcessor(client, distribution.ProcessorConfig{
		TempDir:            resolver.TempRoot(),
		MaxArchiveSize:     1 << 20,
		MaxExtractionDepth: 10,
		XSDMaxImportDepth:  3,
		DirectoryMaxDepth:  3,
	})
	return New(st, proc, resolver, Options{MaxConcurrent: 2, MinFiles: 1}), resolver
}

func pendingFiling(id string) store.FilingSearch {
	return store.FilingSearch{
		SearchID:        id,
		EntityID:        "ent-1",
		MarketType:      store.MarketSEC,
		FormType:        "10-K",
		FilingURL:       "https://example.com/filing.zip",
		AccessionNumber: "0000320193-24-000123",
		CompanyName:     "Apple Inc.",
	}
}

func TestProcessFilingCompletes(t *testing.T) {
	client := &fakeClient{
		known:   map[string]string{"https://example.com/filing.zip": "application/zip"},
		payload: filingZip(t),
	}
	st := newStubCoordStore()
	coord, _ := newTestCoordinator(t, st, client)

	out := coord.ProcessFiling(context.Background(), pendingFiling("search-1"))

	assert.True(t, out.Success)
	assert.Equal(t, 2, out.FileCount)
	assert.Equal(t, []string{"search-1"}, st.claimed)
	assert.Equal(t, []string{"search-1"}, st.completed)
	require.Len(t, st.instancePaths, 1)
	require.NotNil(t, st.instancePaths[0])
	assert.Equal(t, "aapl-20240928.htm", filepath.Base(*st.instancePaths[0]))
	assert.DirExists(t, out.Directory)
}

func TestProcessFilingClaimLost(t *testing.T) {
	st := newStubCoordStore()
	st.claimResult = false
	coord, _ := newTestCoordinator(t, st, &fakeClient{known: map[string]string{}})

	out := coord.ProcessFiling(context.Background(), pendingFiling("search-1"))

	assert.True(t, out.Skipped)
	assert.Empty(t, st.completed)
	assert.Empty(t, st.failedStages)
}

func TestProcessFilingDetectionFailure(t *testing.T) {
	st := newStubCoordStore()
	coord, _ := newTestCoordinator(t, st, &fakeClient{known: map[string]string{}})

	out := coord.ProcessFiling(context.Background(), pendingFiling("search-1"))

	assert.False(t, out.Success)
	assert.Equal(t, distribution.StageDetection, out.Stage)
	assert.Equal(t, []string{"detection"}, st.failedStages)
	assert.Contains(t, out.Message, "alternatives probed")
}

func TestProcessLibraryCompletes(t *testing.T) {
	client := &fakeClient{
		known:   map[string]string{"https://xbrl.fasb.org/us-gaap/2024/us-gaap-2024.zip": "application/zip"},
		payload: filingZip(t),
	}
	st := newStubCoordStore()
	coord, resolver := newTestCoordinator(t, st, client)

	out := coord.ProcessLibrary(context.Background(), store.TaxonomyLibrary{
		LibraryID:       "lib-1",
		TaxonomyName:    "us-gaap",
		TaxonomyVersion: "2024",
		CurrentURL:      "https://xbrl.fasb.org/us-gaap/2024/us-gaap-2024.zip",
	})

	assert.True(t, out.Success)
	assert.Equal(t, 2, st.libCompleted["lib-1"])
	assert.Equal(t, resolver.Taxonomy("us-gaap", "2024"), out.Directory)
}

func TestProcessLibraryDetectionFailureReason(t *testing.T) {
	st := newStubCoordStore()
	coord, _ := newTestCoordinator(t, st, &fakeClient{known: map[string]string{}})

	out := coord.ProcessLibrary(context.Background(), store.TaxonomyLibrary{
		LibraryID:       "lib-1",
		TaxonomyName:    "us-gaap",
		TaxonomyVersion: "2024",
		CurrentURL:      "https://xbrl.fasb.org/us-gaap/2024/us-gaap-2024.zip",
	})

	assert.False(t, out.Success)
	assert.Equal(t, "invalid_url", st.libFailed["lib-1"])
}

func TestRunFilingsBatch(t *testing.T) {
	client := &fakeClient{
		known:   map[string]string{"https://example.com/filing.zip": "application/zip"},
		payload: filingZip(t),
	}
	st := newStubCoordStore()
	coord, _ := newTestCoordinator(t, st, client)

	good := pendingFiling("search-1")
	bad := pendingFiling("search-2")
	bad.FilingURL = "https://example.com/missing.zip"
	bad.AccessionNumber = "0000320193-24-000124"

	report := coord.RunFilings(context.Background(), []store.FilingSearch{good, bad})

	assert.Equal(t, 1, report.Completed)
	assert.Equal(t, 1, report.Failed)
	assert.Zero(t, report.Skipped)
	assert.Len(t, report.Outcomes, 2)
}

func TestRunFilingsCancelledContextStopsDequeue(t *testing.T) {
	st := newStubCoordStore()
	coord, _ := newTestCoordinator(t, st, &fakeClient{known: map[string]string{}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report := coord.RunFilings(ctx, []store.FilingSearch{pendingFiling("search-1")})
	assert.Empty(t, report.Outcomes)
	assert.Empty(t, st.claimed)
}

func TestReapTemp(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, "archive-stale.zip")
	fresh := filepath.Join(dir, "archive-fresh.zip")
	require.NoError(t, os.WriteFile(old, []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(fresh, []byte("x"), 0o644))
	stale := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(old, stale, stale))

	removed := ReapTemp(dir, 24*time.Hour)

	assert.Equal(t, 1, removed)
	assert.NoFileExists(t, old)
	assert.FileExists(t, fresh)
}

func TestFindInstanceFilePrefersShallow(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "nested"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "nested", "deep.xhtml"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "report.xhtml"), []byte("x"), 0o644))

	got := findInstanceFile(dir)
	require.NotNil(t, got)
	assert.Equal(t, filepath.Join(dir, "report.xhtml"), *got)

	assert.Nil(t, findInstanceFile(t.TempDir()))
}

func TestDownloadReason(t *testing.T) {
	cases := map[string]string{
		"status 404":                              "url_404",
		"status 403":                              "url_403",
		"dial tcp: lookup x: no such host":        "dns_error",
		"context deadline exceeded":               "timeout",
		"unexpected EOF":                          "incomplete_download",
		"open /data: permission denied":           "permission_denied",
		"write /tmp/f: no space left on device":   "disk_full",
		"connection reset by peer":                "network_error",
	}
	for msg, want := range cases {
		assert.Equal(t, want, downloadReason(msg), msg)
	}
}

func TestLibraryFailureReasonExtraction(t *testing.T) {
	res := &distribution.ProcessingResult{
		ErrorStage: distribution.StageExtraction,
		Extraction: &distribution.ExtractionResult{Reason: distribution.ReasonBadArchive},
	}
	reason, extraction := libraryFailureReason(res)
	assert.Equal(t, "corrupted_zip", reason)
	assert.True(t, extraction)

	res.Extraction.Reason = distribution.ReasonUnsafePaths
	reason, _ = libraryFailureReason(res)
	assert.Equal(t, "invalid_archive", reason)
}
