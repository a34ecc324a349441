package distribution

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/filings-cli/internal/fetcher"
)

// Content-type families recognized by the detector.
var (
	archiveContentTypes = map[string]bool{
		"application/zip":              true,
		"application/x-zip-compressed": true,
		"application/x-tar":            true,
		"application/gzip":             true,
		"application/x-gzip":           true,
		"application/x-bzip2":          true,
		"application/x-xz":             true,
		"application/octet-stream":     false, // ambiguous; URL shape decides
	}
	ixbrlContentTypes = map[string]bool{
		"application/xhtml+xml": true,
	}
	schemaContentTypes = map[string]bool{
		"application/xml": true,
		"text/xml":        true,
	}
)

var archiveSuffixes = []string{".zip", ".tar", ".tar.gz", ".tgz", ".tar.bz2", ".tar.xz"}

// Detector classifies a remote URL as archive, xsd, directory, or ixbrl.
type Detector struct {
	client fetcher.Client
}

// NewDetector creates a Detector backed by the given client.
func NewDetector(client fetcher.Client) *Detector {
	return &Detector{client: client}
}

// Detect classifies rawURL. When the URL does not resolve, rule-generated
// alternatives are probed in order and the first that resolves wins.
func (d *Detector) Detect(ctx context.Context, rawURL string) *Detection {
	log := zap.L().With(zap.String("component", "distribution.detector"))

	// Companies House documents: HEAD is unsupported there, and the payload
	// is always a single iXBRL (or negotiated fallback) document.
	if fetcher.IsCompaniesHouseDocumentHost(fetcher.HostOf(rawURL)) {
		return &Detection{Type: TypeIXBRL, URL: rawURL, ContentType: fetcher.AcceptXHTML, Exists: true}
	}

	info, err := d.client.Head(ctx, rawURL)
	if err == nil && info.Exists {
		t := classify(info.FinalURL, info.ContentType)
		return &Detection{Type: t, URL: info.FinalURL, ContentType: info.ContentType, Exists: true}
	}

	status := 0
	if info != nil {
		status = info.StatusCode
	}
	log.Debug("primary url did not resolve, probing alternatives",
		zap.String("url", rawURL),
		zap.Int("status", status),
		zap.Error(err),
	)

	alts := Alternatives(rawURL)
	probed := make([]string, 0, len(alts))
	for _, alt := range alts {
		probed = append(probed, alt)
		altInfo, altErr := d.client.Head(ctx, alt)
		if altErr != nil || !altInfo.Exists {
			continue
		}
		t := classify(altInfo.FinalURL, altInfo.ContentType)
		return &Detection{
			Type:         t,
			URL:          altInfo.FinalURL,
			ContentType:  altInfo.ContentType,
			Exists:       true,
			Alternatives: probed,
		}
	}

	msg := fmt.Sprintf("status %d", status)
	if err != nil {
		msg = err.Error()
	}
	log.Debug("all alternatives failed", zap.String("url", rawURL), zap.String("cause", msg))
	return &Detection{Type: TypeUnknown, URL: rawURL, Exists: false, Alternatives: probed}
}

// classify decides the distribution type from content type then URL shape.
// Ambiguity between html-as-listing and html-as-ixbrl resolves toward iXBRL
// when the path looks like a document and carries no archive signal.
func classify(rawURL, contentType string) Type {
	ct := strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	lower := strings.ToLower(rawURL)

	if isArchive, known := archiveContentTypes[ct]; known && isArchive {
		return TypeArchive
	}
	for _, suf := range archiveSuffixes {
		if strings.HasSuffix(lower, suf) {
			return TypeArchive
		}
	}

	if strings.HasSuffix(lower, ".xsd") {
		return TypeXSD
	}
	if schemaContentTypes[ct] && strings.Contains(lower, ".xsd") {
		return TypeXSD
	}

	if ixbrlContentTypes[ct] {
		return TypeIXBRL
	}
	if strings.HasSuffix(lower, ".xhtml") || strings.HasSuffix(lower, ".html") || strings.HasSuffix(lower, ".htm") {
		return TypeIXBRL
	}

	if strings.HasSuffix(lower, "/") {
		return TypeDirectory
	}
	if ct == "text/html" {
		// HTML without a document-looking suffix is a browsable listing.
		return TypeDirectory
	}

	return TypeUnknown
}

// Alternatives generates candidate URLs for a URL that did not resolve:
// an archive URL yields XSD entry-point variants and its parent directory,
// an XSD URL yields the zip sibling, and a trailing-slash URL yields index
// documents.
func Alternatives(rawURL string) []string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil
	}
	lower := strings.ToLower(u.Path)

	var alts []string
	switch {
	case strings.HasSuffix(lower, ".zip"):
		base := strings.TrimSuffix(rawURL, path.Ext(rawURL))
		name := path.Base(base)
		alts = append(alts,
			base+".xsd",
			base+"/"+name+".xsd",
			base+"/entryPoint.xsd",
			parentDir(rawURL),
		)
	case strings.HasSuffix(lower, ".xsd"):
		base := strings.TrimSuffix(rawURL, path.Ext(rawURL))
		alts = append(alts, base+".zip")
	case strings.HasSuffix(u.Path, "/"):
		alts = append(alts, rawURL+"index.html", rawURL+"index.htm")
	default:
		alts = append(alts, rawURL+".zip", rawURL+".xsd", parentDir(rawURL))
	}
	return alts
}

// parentDir returns the parent directory URL with a trailing slash.
func parentDir(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	dir := path.Dir(strings.TrimSuffix(u.Path, "/"))
	if dir == "." || dir == "/" {
		dir = "/"
	} else {
		dir += "/"
	}
	u.Path = dir
	u.RawQuery = ""
	return u.String()
}
