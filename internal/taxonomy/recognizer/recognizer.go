// Package recognizer maps XBRL namespace URIs to known taxonomy
// distributions. It is a leaf package: the resolver depends on it, never
// the other way around.
package recognizer

import (
	"fmt"
	"regexp"

	"github.com/sells-group/filings-cli/internal/store"
)

// Result identifies a recognized taxonomy and where to fetch it.
type Result struct {
	Name        string
	Version     string
	DownloadURL string
	Authority   string
	MarketType  string
}

// pattern binds a namespace regexp to URL templates. The first two capture
// groups are name and version unless fixedName overrides the name.
type pattern struct {
	re           *regexp.Regexp
	fixedName    string
	authority    string
	marketType   string
	primary      string   // fmt template over (name, version)
	alternatives []string // fmt templates over (name, version)
}

var patterns = []pattern{
	{
		re:         regexp.MustCompile(`^https?://(?:xbrl\.)?fasb\.org/(us-gaap|srt)/((?:19|20)\d{2})$`),
		authority:  "xbrl.fasb.org",
		marketType: store.MarketSEC,
		primary:    "https://xbrl.fasb.org/%[1]s/%[2]s/%[1]s-%[2]s.zip",
		alternatives: []string{
			"https://xbrl.fasb.org/%[1]s/%[2]s/entire/%[1]s-entryPoint-all-%[2]s.xsd",
			"https://xbrl.fasb.org/%[1]s/%[2]s/elts/%[1]s-%[2]s.xsd",
		},
	},
	{
		re:         regexp.MustCompile(`^https?://xbrl\.sec\.gov/([a-z]+)/((?:19|20)\d{2})$`),
		authority:  "xbrl.sec.gov",
		marketType: store.MarketSEC,
		primary:    "https://xbrl.sec.gov/%[1]s/%[2]s/%[1]s-%[2]s.zip",
		alternatives: []string{
			"https://xbrl.sec.gov/%[1]s/%[2]s/%[1]s-%[2]s.xsd",
			"https://xbrl.sec.gov/%[1]s/%[2]s/",
		},
	},
	{
		re:         regexp.MustCompile(`^https?://xbrl\.ifrs\.org/taxonomy/((?:19|20)\d{2}-\d{2}-\d{2})/ifrs-full$`),
		fixedName:  "ifrs-full",
		authority:  "xbrl.ifrs.org",
		marketType: store.MarketESEF,
		primary:    "https://xbrl.ifrs.org/taxonomy/%[2]s/IFRST_%[2]s.zip",
		alternatives: []string{
			"https://xbrl.ifrs.org/taxonomy/%[2]s/full_ifrs/full_ifrs-cor_%[2]s.xsd",
		},
	},
	{
		re:         regexp.MustCompile(`^https?://www\.esma\.europa\.eu/taxonomy/((?:19|20)\d{2}-\d{2}-\d{2})$`),
		fixedName:  "esef_cor",
		authority:  "www.esma.europa.eu",
		marketType: store.MarketESEF,
		primary:    "https://www.esma.europa.eu/taxonomy/%[2]s/esef_taxonomy_%[2]s.zip",
		alternatives: []string{
			"https://www.esma.europa.eu/taxonomy/%[2]s/esef_cor.xsd",
		},
	},
	{
		re:         regexp.MustCompile(`^https?://xbrl\.frc\.org\.uk/([A-Za-z0-9-]+)/((?:19|20)\d{2}(?:-\d{2}-\d{2})?)$`),
		authority:  "xbrl.frc.org.uk",
		marketType: store.MarketUKCH,
		primary:    "https://xbrl.frc.org.uk/%[1]s/%[2]s/%[1]s-%[2]s.zip",
		alternatives: []string{
			"https://xbrl.frc.org.uk/%[1]s/%[2]s/%[1]s-%[2]s.xsd",
			"https://xbrl.frc.org.uk/%[1]s/%[2]s/",
		},
	},
}

// Recognize matches a namespace URI against the known patterns. ok is false
// for anything unrecognized.
func Recognize(namespace string) (Result, bool) {
	for _, p := range patterns {
		m := p.re.FindStringSubmatch(namespace)
		if m == nil {
			continue
		}
		name, version := submatchNameVersion(p, m)
		return Result{
			Name:        name,
			Version:     version,
			DownloadURL: fmt.Sprintf(p.primary, name, version),
			Authority:   p.authority,
			MarketType:  p.marketType,
		}, true
	}
	return Result{}, false
}

// Alternatives lists fallback URLs for a recognized namespace, in preference
// order. The retry monitor walks this list when the primary URL is
// exhausted.
func Alternatives(namespace string) []string {
	for _, p := range patterns {
		m := p.re.FindStringSubmatch(namespace)
		if m == nil {
			continue
		}
		name, version := submatchNameVersion(p, m)
		urls := make([]string, 0, len(p.alternatives))
		for _, tmpl := range p.alternatives {
			urls = append(urls, fmt.Sprintf(tmpl, name, version))
		}
		return urls
	}
	return nil
}

func submatchNameVersion(p pattern, m []string) (string, string) {
	if p.fixedName != "" {
		return p.fixedName, m[1]
	}
	return m[1], m[2]
}
