package market

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/filings-cli/internal/fetcher"
	"github.com/sells-group/filings-cli/internal/store"
)

const esefDefaultBase = "https://filings.xbrl.org"

// leiPattern matches an ISO 17442 LEI: 18 alphanumerics plus 2 check digits.
var leiPattern = regexp.MustCompile(`^[A-Z0-9]{18}[0-9]{2}$`)

// ESEFSearcher queries the filings.xbrl.org JSON:API aggregator for European
// annual reports.
type ESEFSearcher struct {
	client  fetcher.Client
	baseURL string
	log     *zap.Logger
}

// NewESEFSearcher creates an ESEF searcher. An empty baseURL selects the
// public aggregator.
func NewESEFSearcher(client fetcher.Client, baseURL string) *ESEFSearcher {
	if baseURL == "" {
		baseURL = esefDefaultBase
	}
	return &ESEFSearcher{
		client:  client,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		log:     zap.L().With(zap.String("component", "market.esef")),
	}
}

func (s *ESEFSearcher) Close() error { return nil }

// esefResponse is the JSON:API document shape: filings in data, entities in
// included, joined through relationship ids.
type esefResponse struct {
	Data []struct {
		ID         string `json:"id"`
		Attributes struct {
			FxoID      string `json:"fxo_id"`
			Country    string `json:"country"`
			DateAdded  string `json:"date_added"`
			PeriodEnd  string `json:"period_end"`
			PackageURL string `json:"package_url"`
			ReportURL  string `json:"report_url"`
		} `json:"attributes"`
		Relationships struct {
			Entity struct {
				Data struct {
					ID string `json:"id"`
				} `json:"data"`
			} `json:"entity"`
		} `json:"relationships"`
	} `json:"data"`
	Included []struct {
		ID         string `json:"id"`
		Attributes struct {
			Name       string `json:"name"`
			Identifier string `json:"identifier"`
		} `json:"attributes"`
	} `json:"included"`
}

// SearchByIdentifier expects an LEI; anything not LEI-shaped is treated as
// a company name.
func (s *ESEFSearcher) SearchByIdentifier(ctx context.Context, identifier string, params SearchParams) ([]Filing, error) {
	ident := strings.ToUpper(strings.TrimSpace(identifier))
	if !leiPattern.MatchString(ident) {
		return s.SearchByCompanyName(ctx, identifier, params)
	}
	return s.query(ctx, "filter[entity.identifier]", ident, params)
}

func (s *ESEFSearcher) SearchByCompanyName(ctx context.Context, name string, params SearchParams) ([]Filing, error) {
	return s.query(ctx, "filter[entity.name]", strings.TrimSpace(name), params)
}

func (s *ESEFSearcher) query(ctx context.Context, filterKey, filterValue string, params SearchParams) ([]Filing, error) {
	q := url.Values{}
	q.Set(filterKey, filterValue)
	q.Set("include", "entity")
	q.Set("page[size]", "100")
	queryURL := fmt.Sprintf("%s/api/filings?%s", s.baseURL, q.Encode())

	var resp esefResponse
	if err := s.client.GetJSON(ctx, queryURL, &resp); err != nil {
		return nil, eris.Wrapf(err, "esef: query %s=%s", filterKey, filterValue)
	}

	entities := make(map[string]struct{ name, identifier string }, len(resp.Included))
	for _, inc := range resp.Included {
		entities[inc.ID] = struct{ name, identifier string }{inc.Attributes.Name, inc.Attributes.Identifier}
	}

	var out []Filing
	for _, item := range resp.Data {
		if params.MaxResults > 0 && len(out) >= params.MaxResults {
			break
		}
		// The aggregator cannot filter report type server-side; every row is
		// an annual report package, so the form filter only excludes
		// explicit mismatches.
		if params.FormType != "" && !strings.EqualFold(params.FormType, "AFR") {
			continue
		}

		filed := parseESEFDate(item.Attributes.DateAdded, item.Attributes.PeriodEnd)
		if filed.IsZero() || !params.inWindow(filed) {
			continue
		}

		// Prefer the package (zip with linkbases) over the bare report.
		docURL := item.Attributes.PackageURL
		if docURL == "" {
			docURL = item.Attributes.ReportURL
		}
		if docURL == "" {
			continue
		}
		resolved, err := s.resolve(docURL)
		if err != nil {
			s.log.Warn("unresolvable filing url", zap.String("url", docURL), zap.Error(err))
			continue
		}

		ent := entities[item.Relationships.Entity.Data.ID]
		accession := item.Attributes.FxoID
		if accession == "" {
			accession = item.ID
		}

		out = append(out, Filing{
			FilingURL:       resolved,
			FormType:        "AFR",
			FilingDate:      filed,
			CompanyName:     ent.name,
			EntityID:        ent.identifier,
			AccessionNumber: accession,
			MarketID:        store.MarketESEF,
		})
	}
	return out, nil
}

// resolve makes aggregator-relative paths absolute.
func (s *ESEFSearcher) resolve(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if u.IsAbs() {
		return raw, nil
	}
	base, err := url.Parse(s.baseURL)
	if err != nil {
		return "", err
	}
	return base.ResolveReference(u).String(), nil
}

func parseESEFDate(dateAdded, periodEnd string) time.Time {
	for _, candidate := range []string{dateAdded, periodEnd} {
		if candidate == "" {
			continue
		}
		for _, layout := range []string{"2006-01-02", time.RFC3339} {
			if t, err := time.Parse(layout, candidate); err == nil {
				return t
			}
		}
	}
	return time.Time{}
}
