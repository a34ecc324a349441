package distribution

import (
	"bytes"
	"context"
	"encoding/xml"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/htmlindex"

	"github.com/sells-group/filings-cli/internal/fetcher"
)

// XSDHandler downloads a schema and transitively follows its import,
// include, and linkbaseRef dependencies up to a bounded depth.
type XSDHandler struct {
	client   fetcher.Client
	maxDepth int
}

// NewXSDHandler creates an XSDHandler.
func NewXSDHandler(client fetcher.Client, maxDepth int) *XSDHandler {
	if maxDepth <= 0 {
		maxDepth = 3
	}
	return &XSDHandler{client: client, maxDepth: maxDepth}
}

// Download fetches the primary XSD into targetDir and recurses into its
// dependency graph. Each URL is fetched at most once; the closure is
// truncated past maxDepth with direct parents still saved.
func (h *XSDHandler) Download(ctx context.Context, rawURL, targetDir string) *ExtractionResult {
	log := zap.L().With(zap.String("component", "distribution.xsd"))

	if err := os.MkdirAll(targetDir, 0o755); err != nil {
		return &ExtractionResult{Success: false, Reason: ReasonIO, ErrorMessage: err.Error()}
	}

	visited := make(map[string]bool)
	res := &ExtractionResult{Success: true}
	if err := h.fetchOne(ctx, rawURL, targetDir, 0, visited, res); err != nil {
		// A failed primary document fails the handler; failed dependencies
		// are logged and skipped.
		log.Warn("xsd closure failed", zap.String("url", rawURL), zap.Error(err))
		return &ExtractionResult{
			Success:        false,
			FilesExtracted: res.FilesExtracted,
			Files:          res.Files,
			ErrorMessage:   err.Error(),
		}
	}

	log.Debug("xsd closure complete",
		zap.String("url", rawURL),
		zap.Int("files", res.FilesExtracted),
	)
	return res
}

func (h *XSDHandler) fetchOne(ctx context.Context, rawURL, targetDir string, depth int, visited map[string]bool, res *ExtractionResult) error {
	if visited[rawURL] {
		return nil
	}
	visited[rawURL] = true

	body, format, err := h.fetchDocument(ctx, rawURL)
	if err != nil {
		return eris.Wrapf(err, "xsd: fetch %s", rawURL)
	}

	name := documentName(rawURL, format)
	dest := filepath.Join(targetDir, name)
	if err := os.WriteFile(dest, body, 0o644); err != nil {
		return eris.Wrapf(err, "xsd: write %s", dest)
	}
	res.Files = append(res.Files, dest)
	res.FilesExtracted++

	if depth >= h.maxDepth {
		return nil
	}
	if !looksLikeXML(body) {
		return nil
	}

	for _, dep := range schemaDependencies(body) {
		abs, err := resolveAgainst(rawURL, dep)
		if err != nil || abs == "" {
			continue
		}
		if visited[abs] {
			continue
		}
		if err := h.fetchOne(ctx, abs, targetDir, depth+1, visited, res); err != nil {
			zap.L().Debug("xsd dependency skipped",
				zap.String("url", abs),
				zap.Error(err),
			)
		}
	}
	return nil
}

// fetchDocument reads the full document, walking the Companies House accept
// ladder when the host requires it. Returns the body and the format that
// actually came back.
func (h *XSDHandler) fetchDocument(ctx context.Context, rawURL string) ([]byte, string, error) {
	if fetcher.IsCompaniesHouseHost(fetcher.HostOf(rawURL)) {
		tmp, err := os.CreateTemp("", "chdoc-*")
		if err != nil {
			return nil, "", eris.Wrap(err, "xsd: create temp")
		}
		tmpPath := tmp.Name()
		_ = tmp.Close()
		defer os.Remove(tmpPath)

		stats, err := h.client.DownloadNegotiated(ctx, rawURL, tmpPath, fetcher.CompaniesHouseAcceptLadder())
		if err != nil {
			return nil, "", err
		}
		body, err := os.ReadFile(tmpPath)
		if err != nil {
			return nil, "", eris.Wrap(err, "xsd: read temp")
		}
		return body, stats.Format, nil
	}

	rc, err := h.client.Get(ctx, rawURL)
	if err != nil {
		return nil, "", err
	}
	defer rc.Close() //nolint:errcheck

	body, err := io.ReadAll(rc)
	if err != nil {
		return nil, "", eris.Wrap(err, "xsd: read body")
	}
	return body, "", nil
}

// documentName derives the on-disk name: the last URL path component when
// present, otherwise a name by content type.
func documentName(rawURL, format string) string {
	u, err := url.Parse(rawURL)
	if err == nil {
		base := path.Base(u.Path)
		if base != "" && base != "." && base != "/" && strings.Contains(base, ".") {
			return base
		}
	}
	switch {
	case strings.Contains(format, "xhtml"):
		return "accounts.xhtml"
	case strings.Contains(format, "html"):
		return "accounts.html"
	case strings.Contains(format, "pdf"):
		return "accounts.pdf"
	default:
		return "schema.xsd"
	}
}

func looksLikeXML(body []byte) bool {
	trimmed := bytes.TrimLeft(body, " \t\r\n\xef\xbb\xbf")
	return bytes.HasPrefix(trimmed, []byte("<"))
}

// schemaDependencies extracts dependency URLs from xs:import/xs:include
// schemaLocation attributes and link:linkbaseRef xlink:href attributes.
func schemaDependencies(body []byte) []string {
	decoder := xml.NewDecoder(bytes.NewReader(body))
	decoder.CharsetReader = func(charset string, input io.Reader) (io.Reader, error) {
		enc, err := htmlindex.Get(charset)
		if err != nil {
			return nil, eris.Wrapf(err, "xsd: unsupported charset %q", charset)
		}
		return enc.NewDecoder().Reader(input), nil
	}
	// The documents are schemas, not instance data; skip strict validation.
	decoder.Strict = false

	var deps []string
	seen := make(map[string]bool)
	for {
		tok, err := decoder.Token()
		if err != nil {
			break
		}
		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}

		var attr string
		switch se.Name.Local {
		case "import", "include":
			attr = "schemaLocation"
		case "linkbaseRef":
			attr = "href"
		default:
			continue
		}

		for _, a := range se.Attr {
			if a.Name.Local != attr {
				continue
			}
			v := strings.TrimSpace(a.Value)
			if v == "" || seen[v] {
				continue
			}
			seen[v] = true
			deps = append(deps, v)
		}
	}
	return deps
}

// resolveAgainst resolves a possibly relative dependency against the URL of
// the document that referenced it.
func resolveAgainst(baseURL, ref string) (string, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return "", err
	}
	u, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	resolved := base.ResolveReference(u)
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return "", nil
	}
	return resolved.String(), nil
}
