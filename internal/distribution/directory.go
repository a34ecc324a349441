package distribution

import (
	"context"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/sells-group/filings-cli/internal/fetcher"
)

// DirectoryHandler mirrors a directory listing by parsing anchors from the
// index page and downloading child files, recursing into child directories
// up to a bounded depth.
type DirectoryHandler struct {
	client   fetcher.Client
	maxDepth int
}

// NewDirectoryHandler creates a DirectoryHandler.
func NewDirectoryHandler(client fetcher.Client, maxDepth int) *DirectoryHandler {
	if maxDepth <= 0 {
		maxDepth = 3
	}
	return &DirectoryHandler{client: client, maxDepth: maxDepth}
}

// Mirror downloads the listing at rawURL into targetDir.
func (h *DirectoryHandler) Mirror(ctx context.Context, rawURL, targetDir string) *ExtractionResult {
	log := zap.L().With(zap.String("component", "distribution.directory"))

	if err := os.MkdirAll(targetDir, 0o755); err != nil {
		return &ExtractionResult{Success: false, Reason: ReasonIO, ErrorMessage: err.Error()}
	}

	visited := make(map[string]bool)
	res := &ExtractionResult{Success: true}
	if err := h.mirrorLevel(ctx, rawURL, targetDir, 0, visited, res); err != nil {
		log.Warn("directory mirror failed", zap.String("url", rawURL), zap.Error(err))
		return &ExtractionResult{
			Success:        false,
			FilesExtracted: res.FilesExtracted,
			Files:          res.Files,
			ErrorMessage:   err.Error(),
		}
	}

	log.Debug("directory mirrored",
		zap.String("url", rawURL),
		zap.Int("files", res.FilesExtracted),
	)
	return res
}

func (h *DirectoryHandler) mirrorLevel(ctx context.Context, rawURL, targetDir string, depth int, visited map[string]bool, res *ExtractionResult) error {
	if visited[rawURL] {
		return nil
	}
	visited[rawURL] = true

	rc, err := h.client.Get(ctx, rawURL)
	if err != nil {
		return eris.Wrapf(err, "directory: fetch listing %s", rawURL)
	}
	body, err := io.ReadAll(rc)
	rc.Close() //nolint:errcheck
	if err != nil {
		return eris.Wrap(err, "directory: read listing")
	}

	for _, child := range childLinks(rawURL, body) {
		if visited[child] {
			continue
		}
		if strings.HasSuffix(child, "/") {
			if depth+1 > h.maxDepth {
				continue
			}
			name := lastSegment(child)
			subDir := filepath.Join(targetDir, name)
			if err := os.MkdirAll(subDir, 0o755); err != nil {
				return eris.Wrapf(err, "directory: mkdir %s", subDir)
			}
			if err := h.mirrorLevel(ctx, child, subDir, depth+1, visited, res); err != nil {
				zap.L().Debug("subdirectory skipped",
					zap.String("url", child),
					zap.Error(err),
				)
			}
			continue
		}

		visited[child] = true
		dest := filepath.Join(targetDir, lastSegment(child))
		if _, err := h.client.DownloadToFile(ctx, child, dest); err != nil {
			zap.L().Debug("directory file skipped",
				zap.String("url", child),
				zap.Error(err),
			)
			continue
		}
		res.Files = append(res.Files, dest)
		res.FilesExtracted++
	}
	return nil
}

// childLinks parses anchor hrefs from an index page and keeps only links
// that point strictly below the listing URL. Parent links, query-sorted
// views of the same listing, and offsite links are dropped.
func childLinks(baseURL string, body []byte) []string {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil
	}

	var links []string
	seen := make(map[string]bool)
	tokenizer := html.NewTokenizer(strings.NewReader(string(body)))
	for {
		tt := tokenizer.Next()
		if tt == html.ErrorToken {
			break
		}
		if tt != html.StartTagToken && tt != html.SelfClosingTagToken {
			continue
		}
		name, hasAttr := tokenizer.TagName()
		if string(name) != "a" || !hasAttr {
			continue
		}
		for {
			key, val, more := tokenizer.TagAttr()
			if string(key) == "href" {
				if child := resolveChild(base, string(val)); child != "" && !seen[child] {
					seen[child] = true
					links = append(links, child)
				}
			}
			if !more {
				break
			}
		}
	}
	return links
}

func resolveChild(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	resolved := base.ResolveReference(ref)
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return ""
	}
	if resolved.Host != base.Host {
		return ""
	}
	// Query strings on listings are sort/view variants of the same page.
	if resolved.RawQuery != "" {
		return ""
	}
	basePath := base.Path
	if !strings.HasSuffix(basePath, "/") {
		basePath += "/"
	}
	if !strings.HasPrefix(resolved.Path, basePath) || resolved.Path == basePath {
		return ""
	}
	resolved.Fragment = ""
	return resolved.String()
}

func lastSegment(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "file"
	}
	base := path.Base(strings.TrimSuffix(u.Path, "/"))
	if base == "" || base == "." || base == "/" {
		return "file"
	}
	return base
}
