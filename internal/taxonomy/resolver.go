// Package taxonomy resolves filing namespace requirements into taxonomy
// libraries, verifies their availability, and drives their acquisition.
package taxonomy

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/filings-cli/internal/taxonomy/recognizer"
)

// Requirement is one taxonomy a filing needs.
type Requirement struct {
	Name               string
	Version            string
	Namespace          string
	DownloadURL        string
	Authority          string
	MarketType         string
	IsCompanyExtension bool
	IsIncluded         bool // distributed inside a parent taxonomy
}

// standardNamespaces never become requirements: XML Schema, XBRL 2003
// instance/linkbase/XLink, XBRLDI, XHTML, and XML core.
var standardNamespaces = map[string]bool{
	"http://www.w3.org/2001/XMLSchema":          true,
	"http://www.w3.org/2001/XMLSchema-instance": true,
	"http://www.w3.org/1999/xlink":              true,
	"http://www.w3.org/1999/xhtml":              true,
	"http://www.w3.org/XML/1998/namespace":      true,
	"http://www.xbrl.org/2003/instance":         true,
	"http://www.xbrl.org/2003/linkbase":         true,
	"http://www.xbrl.org/2003/iso4217":          true,
	"http://xbrl.org/2006/xbrldi":               true,
}

// includedTaxonomies are codelist taxonomies whose effective distribution
// ships inside us-gaap or dei; they are recognized but never downloaded
// separately.
var includedTaxonomies = map[string]bool{
	"country":  true,
	"currency": true,
	"exch":     true,
	"stpr":     true,
	"naics":    true,
	"sic":      true,
}

// companyExtensionPatterns match vendor extension namespaces: a corporate
// host with a date-like tail, e.g. http://www.apple.com/20240928.
var companyExtensionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^https?://[^/]+/(?:19|20)\d{6}$`),
	regexp.MustCompile(`^https?://[^/]+\.(?:com|net|io|co)/.*(?:19|20)\d{2}`),
}

// versionPattern accepts year or dated versions.
var versionPattern = regexp.MustCompile(`^(?:19|20)\d{2}(?:-\d{2}-\d{2})?$`)

// authorityRewrites maps well-known namespace hosts to their distribution
// mirrors.
var authorityRewrites = map[string]string{
	"fasb.org":     "xbrl.fasb.org",
	"www.fasb.org": "xbrl.fasb.org",
	"sec.gov":      "xbrl.sec.gov",
	"www.sec.gov":  "xbrl.sec.gov",
	"frc.org.uk":   "xbrl.frc.org.uk",
}

// Resolver turns namespace URIs into requirements.
type Resolver struct {
	enableFallback bool
	log            *zap.Logger
}

// NewResolver creates a Resolver. enableFallback controls whether namespaces
// that fail direct construction are delegated to the recognizer.
func NewResolver(enableFallback bool) *Resolver {
	return &Resolver{
		enableFallback: enableFallback,
		log:            zap.L().With(zap.String("component", "taxonomy.resolver")),
	}
}

// Resolve computes the deduplicated requirement set for a filing's
// namespaces. Company extensions and bundled codelists are classified but
// carry no download; unknowns are dropped.
func (r *Resolver) Resolve(namespaces []string) []Requirement {
	seen := make(map[string]bool)
	var out []Requirement

	for _, ns := range namespaces {
		ns = strings.TrimSpace(strings.TrimSuffix(ns, "/"))
		if ns == "" || standardNamespaces[ns] {
			continue
		}

		req, ok := r.resolveOne(ns)
		if !ok {
			r.log.Debug("unresolvable namespace dropped", zap.String("namespace", ns))
			continue
		}

		key := req.Name + "|" + req.Version
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, req)
	}
	return out
}

func (r *Resolver) resolveOne(ns string) (Requirement, bool) {
	if isCompanyExtension(ns) {
		return Requirement{Namespace: ns, IsCompanyExtension: true}, true
	}

	if req, ok := directConstruct(ns); ok {
		return req, true
	}

	if r.enableFallback {
		if res, ok := recognizer.Recognize(ns); ok {
			return Requirement{
				Name:        res.Name,
				Version:     res.Version,
				Namespace:   ns,
				DownloadURL: res.DownloadURL,
				Authority:   res.Authority,
				MarketType:  res.MarketType,
				IsIncluded:  includedTaxonomies[res.Name],
			}, true
		}
	}
	return Requirement{}, false
}

// directConstruct parses a namespace as {authority}/{name}/{version} and
// formats the primary download URL. The recognizer handles everything that
// deviates from this shape.
func directConstruct(ns string) (Requirement, bool) {
	u, err := url.Parse(ns)
	if err != nil || u.Host == "" {
		return Requirement{}, false
	}

	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) != 2 {
		return Requirement{}, false
	}
	name, version := parts[0], parts[1]
	if name == "" || !versionPattern.MatchString(version) {
		return Requirement{}, false
	}

	authority := u.Host
	if rewrite, ok := authorityRewrites[authority]; ok {
		authority = rewrite
	}

	return Requirement{
		Name:        name,
		Version:     version,
		Namespace:   ns,
		DownloadURL: fmt.Sprintf("https://%s/%s/%s/%s-%s.zip", authority, name, version, name, version),
		Authority:   authority,
		IsIncluded:  includedTaxonomies[name],
	}, true
}

func isCompanyExtension(ns string) bool {
	// Known authorities are never company extensions even when their
	// namespaces look date-shaped.
	u, err := url.Parse(ns)
	if err == nil {
		host := strings.TrimPrefix(u.Host, "www.")
		for _, known := range []string{"fasb.org", "sec.gov", "ifrs.org", "esma.europa.eu", "frc.org.uk", "xbrl.org", "w3.org"} {
			if host == known || strings.HasSuffix(host, "."+known) {
				return false
			}
		}
	}
	for _, p := range companyExtensionPatterns {
		if p.MatchString(ns) {
			return true
		}
	}
	return false
}

// Downloadable reports whether a requirement needs its own acquisition.
func (req Requirement) Downloadable() bool {
	return !req.IsCompanyExtension && !req.IsIncluded && req.Name != "" && req.Name != "unknown" && req.Version != "unknown"
}
