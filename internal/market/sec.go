package market

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/filings-cli/internal/fetcher"
	"github.com/sells-group/filings-cli/internal/store"
)

var cikPattern = regexp.MustCompile(`^\d{1,10}$`)

// archiveSuffixPatterns are probed in order when a filing publishes no
// usable index document. The first suffix whose URL resolves wins.
var archiveSuffixPatterns = []string{"-xbrl.zip", "_htm.zip", ".zip"}

// SECSearcher searches SEC EDGAR: the submissions API on data.sec.gov and
// filing archives on www.sec.gov.
type SECSearcher struct {
	client  fetcher.Client
	tickers *TickerCache
	log     *zap.Logger
}

// NewSECSearcher creates an SEC searcher backed by the given transport and
// ticker cache.
func NewSECSearcher(client fetcher.Client, tickers *TickerCache) *SECSearcher {
	return &SECSearcher{
		client:  client,
		tickers: tickers,
		log:     zap.L().With(zap.String("component", "market.sec")),
	}
}

func (s *SECSearcher) Close() error {
	return s.tickers.Close()
}

// submissionsDoc is the part of the EDGAR submissions document we consume.
// The recent block is column-oriented: parallel arrays indexed together.
type submissionsDoc struct {
	CIK     string `json:"cik"`
	Name    string `json:"name"`
	Filings struct {
		Recent struct {
			AccessionNumber []string `json:"accessionNumber"`
			Form            []string `json:"form"`
			FilingDate      []string `json:"filingDate"`
			PrimaryDocument []string `json:"primaryDocument"`
		} `json:"recent"`
	} `json:"filings"`
}

// SearchByIdentifier accepts a CIK (digits) or a ticker symbol.
func (s *SECSearcher) SearchByIdentifier(ctx context.Context, identifier string, params SearchParams) ([]Filing, error) {
	identifier = strings.TrimSpace(identifier)

	var cik, name string
	if cikPattern.MatchString(identifier) {
		cik = fmt.Sprintf("%010s", identifier)
	} else {
		var err error
		cik, name, err = s.tickers.LookupTicker(ctx, s.client, identifier)
		if err != nil {
			return nil, err
		}
	}
	return s.search(ctx, cik, name, params)
}

// SearchByCompanyName resolves the name through the ticker index.
func (s *SECSearcher) SearchByCompanyName(ctx context.Context, name string, params SearchParams) ([]Filing, error) {
	cik, title, err := s.tickers.LookupName(ctx, s.client, name)
	if err != nil {
		return nil, err
	}
	return s.search(ctx, cik, title, params)
}

func (s *SECSearcher) search(ctx context.Context, cik, fallbackName string, params SearchParams) ([]Filing, error) {
	var doc submissionsDoc
	url := fmt.Sprintf("https://data.sec.gov/submissions/CIK%s.json", cik)
	if err := s.client.GetJSON(ctx, url, &doc); err != nil {
		return nil, eris.Wrapf(err, "sec: fetch submissions for CIK %s", cik)
	}
	companyName := doc.Name
	if companyName == "" {
		companyName = fallbackName
	}

	recent := doc.Filings.Recent
	var out []Filing
	for i := range recent.AccessionNumber {
		if params.MaxResults > 0 && len(out) >= params.MaxResults {
			break
		}
		if i >= len(recent.Form) || i >= len(recent.FilingDate) {
			break
		}
		if params.FormType != "" && !strings.EqualFold(recent.Form[i], params.FormType) {
			continue
		}
		filed, err := time.Parse("2006-01-02", recent.FilingDate[i])
		if err != nil || !params.inWindow(filed) {
			continue
		}

		accession := recent.AccessionNumber[i]
		archiveURL, err := s.resolveArchiveURL(ctx, cik, accession)
		if err != nil {
			s.log.Warn("no xbrl archive for filing",
				zap.String("accession", accession),
				zap.Error(err),
			)
			continue
		}

		out = append(out, Filing{
			FilingURL:       archiveURL,
			FormType:        recent.Form[i],
			FilingDate:      filed,
			CompanyName:     companyName,
			EntityID:        cik,
			AccessionNumber: accession,
			MarketID:        store.MarketSEC,
		})
	}
	return out, nil
}

// filingIndexDoc is the EDGAR per-filing index document.
type filingIndexDoc struct {
	Directory struct {
		Item []struct {
			Name string `json:"name"`
		} `json:"item"`
	} `json:"directory"`
}

// resolveArchiveURL locates the XBRL archive for an accession: first via the
// filing's index.json, then by probing known suffix patterns with HEAD.
func (s *SECSearcher) resolveArchiveURL(ctx context.Context, cik, accession string) (string, error) {
	base := archiveBase(cik, accession)

	var index filingIndexDoc
	if err := s.client.GetJSON(ctx, base+"/index.json", &index); err == nil {
		for _, item := range index.Directory.Item {
			lower := strings.ToLower(item.Name)
			if strings.HasSuffix(lower, "-xbrl.zip") || strings.HasSuffix(lower, "_htm.zip") {
				return base + "/" + item.Name, nil
			}
		}
	}

	// Some filings publish no parseable index; probe the conventional names.
	for _, suffix := range archiveSuffixPatterns {
		candidate := base + "/" + accession + suffix
		info, err := s.client.Head(ctx, candidate)
		if err == nil && info.Exists {
			return candidate, nil
		}
	}
	return "", eris.Errorf("sec: no xbrl archive found for accession %s", accession)
}

// archiveBase builds the EDGAR archive directory URL. The path wants the
// unpadded CIK and the accession with dashes stripped.
func archiveBase(cik, accession string) string {
	return fmt.Sprintf("https://www.sec.gov/Archives/edgar/data/%s/%s",
		strings.TrimLeft(cik, "0"),
		strings.ReplaceAll(accession, "-", ""),
	)
}
