package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/filings-cli/internal/resilience"
)

// Options configures the HTTP client.
type Options struct {
	Credentials    Credentials
	Timeout        time.Duration
	ConnectTimeout time.Duration
	Retry          resilience.RetryConfig
	ChunkSize      int
	EnableResume   bool
}

// HTTPClient implements Client using net/http with retry and rate limiting.
// A single instance is shared per process; creation of per-host limiter
// state is lazy and idempotent.
type HTTPClient struct {
	client   *http.Client
	opts     Options
	limiters *LimiterRegistry
	breakers *resilience.HostBreakers
}

// NewHTTPClient creates a new HTTPClient with the given options.
func NewHTTPClient(opts Options) *HTTPClient {
	if opts.Timeout == 0 {
		opts.Timeout = 120 * time.Second
	}
	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = 10 * time.Second
	}
	if opts.ChunkSize == 0 {
		opts.ChunkSize = 8192
	}
	if opts.Credentials.GenericUA == "" {
		opts.Credentials.GenericUA = "filings-cli/1.0"
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = resilience.DefaultRetryConfig()
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: opts.ConnectTimeout,
		}).DialContext,
		MaxIdleConnsPerHost: 10,
		MaxConnsPerHost:     20,
		IdleConnTimeout:     90 * time.Second,
	}
	return &HTTPClient{
		client: &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
		},
		opts:     opts,
		limiters: NewLimiterRegistry(),
		breakers: resilience.NewHostBreakers(breakerConfig()),
	}
}

func breakerConfig() resilience.CircuitBreakerConfig {
	cfg := resilience.DefaultCircuitBreakerConfig()
	cfg.OnStateChange = func(host string, from, to resilience.CircuitState) {
		zap.L().With(zap.String("component", "fetcher")).Warn("circuit state changed",
			zap.String("host", host),
			zap.Stringer("from", from),
			zap.Stringer("to", to))
	}
	return cfg
}

// Close releases idle connections.
func (c *HTTPClient) Close() {
	c.client.CloseIdleConnections()
}

// Do executes a prepared request with rate limiting and retry. Market headers
// are applied for any not already set by the caller.
func (c *HTTPClient) Do(req *http.Request) (*http.Response, error) {
	applyHeaders(req, c.opts.Credentials.BuildHeaders(req.URL.String()))
	return c.doWithRetry(req)
}

// doWithRetry runs the request through the per-host circuit breaker, the
// per-host rate limiter, and the retry policy, in that order. A host whose
// breaker is open fails fast with ErrCircuitOpen.
func (c *HTTPClient) doWithRetry(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	lim := c.limiters.For(req.URL.Host)

	cfg := c.opts.Retry
	cfg.OnRetry = resilience.RetryLogger("fetcher", req.Method+" "+req.URL.Host)

	breaker := c.breakers.Get(req.URL.Host)
	return resilience.ExecuteVal(ctx, breaker, func(ctx context.Context) (*http.Response, error) {
		return c.attemptWithRetry(ctx, req, lim, cfg)
	})
}

func (c *HTTPClient) attemptWithRetry(ctx context.Context, req *http.Request, lim Limiter, cfg resilience.RetryConfig) (*http.Response, error) {
	return resilience.DoVal(ctx, cfg, func(ctx context.Context) (*http.Response, error) {
		if err := lim.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "fetcher: rate limiter wait")
		}

		resp, err := c.client.Do(req.Clone(ctx))
		if err != nil {
			return nil, eris.Wrap(err, "fetcher: request")
		}

		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			_ = resp.Body.Close()
			zap.L().Warn("transient http status, will retry",
				zap.String("url", req.URL.String()),
				zap.Int("status", resp.StatusCode),
			)
			return nil, resilience.NewTransientError(
				resilience.NewStatusError(resp.StatusCode, req.URL.String()), resp.StatusCode)
		}

		return resp, nil
	})
}

// Get fetches the URL and returns the response body.
func (c *HTTPClient) Get(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "fetcher: create request")
	}

	resp, err := c.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, resilience.NewStatusError(resp.StatusCode, rawURL)
	}

	return resp.Body, nil
}

// GetJSON fetches the URL and decodes the JSON response into v.
func (c *HTTPClient) GetJSON(ctx context.Context, rawURL string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return eris.Wrap(err, "fetcher: create request")
	}
	if !IsCompaniesHouseHost(req.URL.Host) && req.URL.Host != esefHost {
		req.Header.Set("Accept", AcceptJSON)
	}

	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return resilience.NewStatusError(resp.StatusCode, rawURL)
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return eris.Wrapf(err, "fetcher: decode json from %s", rawURL)
	}
	return nil
}

// Head probes the URL following redirects. A non-200 status is reported via
// HeadInfo, not as an error; transport failures are errors.
func (c *HTTPClient) Head(ctx context.Context, rawURL string) (*HeadInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "fetcher: create head request")
	}
	applyHeaders(req, c.opts.Credentials.BuildHeaders(rawURL))

	lim := c.limiters.For(req.URL.Host)
	if err := lim.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "fetcher: rate limiter wait")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "fetcher: head request")
	}
	defer resp.Body.Close() //nolint:errcheck

	finalURL := rawURL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	return &HeadInfo{
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		FinalURL:    finalURL,
		Exists:      resp.StatusCode == http.StatusOK,
	}, nil
}

// DownloadToFile streams the URL to path in chunks. When resume is enabled
// and a partial file exists, a Range request continues from its end.
func (c *HTTPClient) DownloadToFile(ctx context.Context, rawURL, path string) (*StreamStats, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "fetcher: create request")
	}

	offset := int64(0)
	if c.opts.EnableResume {
		offset = existingSize(path)
		if offset > 0 {
			req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
		}
	}

	resp, err := c.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close() //nolint:errcheck

	switch resp.StatusCode {
	case http.StatusOK:
		offset = 0 // server ignored the range; restart
	case http.StatusPartialContent:
		// resume accepted
	default:
		return nil, resilience.NewStatusError(resp.StatusCode, rawURL)
	}

	stats, err := streamToFile(resp.Body, path, offset, c.opts.ChunkSize)
	if err != nil {
		return nil, err
	}
	stats.Resumed = offset > 0
	stats.Format = resp.Header.Get("Content-Type")
	return stats, nil
}

// DownloadNegotiated walks the accept ladder until the server agrees to a
// format, then streams the body to path. Used for Companies House documents
// where xhtml is preferred over html over pdf.
func (c *HTTPClient) DownloadNegotiated(ctx context.Context, rawURL, path string, accepts []string) (*StreamStats, error) {
	if len(accepts) == 0 {
		accepts = []string{AcceptXHTML}
	}

	var lastErr error
	for _, accept := range accepts {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, eris.Wrap(err, "fetcher: create request")
		}
		req.Header.Set("Accept", accept)

		resp, err := c.Do(req)
		if err != nil {
			lastErr = err
			if resilience.StatusCode(err) == http.StatusNotAcceptable {
				continue
			}
			return nil, err
		}

		if resp.StatusCode == http.StatusNotAcceptable {
			_ = resp.Body.Close()
			lastErr = resilience.NewStatusError(resp.StatusCode, rawURL)
			continue
		}
		if resp.StatusCode != http.StatusOK {
			_ = resp.Body.Close()
			return nil, resilience.NewStatusError(resp.StatusCode, rawURL)
		}

		stats, err := streamToFile(resp.Body, path, 0, c.opts.ChunkSize)
		_ = resp.Body.Close()
		if err != nil {
			return nil, err
		}
		stats.Format = resp.Header.Get("Content-Type")
		if stats.Format == "" {
			stats.Format = accept
		}
		return stats, nil
	}

	if lastErr == nil {
		lastErr = eris.Errorf("fetcher: no acceptable format for %s", rawURL)
	}
	return nil, eris.Wrapf(lastErr, "fetcher: negotiate %s", rawURL)
}
