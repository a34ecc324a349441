// Package fetcher implements the HTTP request engine: per-market headers and
// authentication, per-host rate limiting, retry with backoff, and chunked
// streaming to disk with optional resume.
package fetcher

import (
	"context"
	"io"
	"net/http"
)

// HeadInfo summarizes a HEAD probe of a remote URL.
type HeadInfo struct {
	StatusCode  int
	ContentType string
	FinalURL    string // after redirects
	Exists      bool   // status 200
}

// StreamStats reports the outcome of a streamed download.
type StreamStats struct {
	BytesWritten  int64
	ChunksWritten int
	Resumed       bool
	Format        string // negotiated content type, when content negotiation ran
}

// Client is the transport contract the pipeline depends on.
type Client interface {
	// Get fetches the URL with market-appropriate headers and retry.
	Get(ctx context.Context, url string) (io.ReadCloser, error)

	// GetJSON fetches the URL and decodes the JSON response into v.
	GetJSON(ctx context.Context, url string, v any) error

	// Head probes the URL. Redirects are followed.
	Head(ctx context.Context, url string) (*HeadInfo, error)

	// DownloadToFile streams the URL to path in chunks, resuming a partial
	// file when supported.
	DownloadToFile(ctx context.Context, url, path string) (*StreamStats, error)

	// DownloadNegotiated streams the URL to path, walking the accept ladder
	// (first format the server agrees to wins).
	DownloadNegotiated(ctx context.Context, url, path string, accepts []string) (*StreamStats, error)

	// Do executes a prepared request with rate limiting and retry. The caller
	// owns the response body.
	Do(req *http.Request) (*http.Response, error)

	// Close releases idle connections.
	Close()
}
