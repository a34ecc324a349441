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

const chAPIBase = "https://api.companieshouse.gov.uk"

// companyNumberPattern matches normalized UK company numbers: either eight
// digits or a two-letter prefix (SC, NI, OC, ...) and six digits.
var companyNumberPattern = regexp.MustCompile(`^(\d{8}|[A-Z]{2}\d{6})$`)

// Document format preference, best first.
var chFormatLadder = []string{"application/xhtml+xml", "application/xml", "application/pdf"}

// CHSearcher searches UK Companies House filing histories for accounts
// documents.
type CHSearcher struct {
	client fetcher.Client
	log    *zap.Logger
}

// NewCHSearcher creates a Companies House searcher.
func NewCHSearcher(client fetcher.Client) *CHSearcher {
	return &CHSearcher{
		client: client,
		log:    zap.L().With(zap.String("component", "market.companieshouse")),
	}
}

func (s *CHSearcher) Close() error { return nil }

// NormalizeCompanyNumber uppercases, strips spaces, and zero-pads purely
// numeric numbers to eight digits.
func NormalizeCompanyNumber(number string) (string, error) {
	n := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(number), " ", ""))
	if regexp.MustCompile(`^\d{1,8}$`).MatchString(n) {
		n = fmt.Sprintf("%08s", n)
	}
	if !companyNumberPattern.MatchString(n) {
		return "", eris.Errorf("companieshouse: invalid company number %q", number)
	}
	return n, nil
}

type chCompanyProfile struct {
	CompanyName   string `json:"company_name"`
	CompanyNumber string `json:"company_number"`
}

type chFilingHistory struct {
	Items []struct {
		TransactionID string `json:"transaction_id"`
		Category      string `json:"category"`
		Type          string `json:"type"`
		Date          string `json:"date"`
		Links         struct {
			DocumentMetadata string `json:"document_metadata"`
		} `json:"links"`
	} `json:"items"`
}

type chDocumentMetadata struct {
	Resources map[string]struct {
		ContentLength int64 `json:"content_length"`
	} `json:"resources"`
	Links struct {
		Document string `json:"document"`
	} `json:"links"`
}

type chCompanySearch struct {
	Items []struct {
		CompanyNumber string `json:"company_number"`
		Title         string `json:"title"`
	} `json:"items"`
}

// SearchByIdentifier takes a company number.
func (s *CHSearcher) SearchByIdentifier(ctx context.Context, identifier string, params SearchParams) ([]Filing, error) {
	number, err := NormalizeCompanyNumber(identifier)
	if err != nil {
		return nil, err
	}

	var profile chCompanyProfile
	if err := s.client.GetJSON(ctx, chAPIBase+"/company/"+number, &profile); err != nil {
		return nil, eris.Wrapf(err, "companieshouse: fetch company %s", number)
	}
	return s.searchAccounts(ctx, number, profile.CompanyName, params)
}

// SearchByCompanyName resolves the name through the company search endpoint
// and takes the best match.
func (s *CHSearcher) SearchByCompanyName(ctx context.Context, name string, params SearchParams) ([]Filing, error) {
	var results chCompanySearch
	searchURL := chAPIBase + "/search/companies?q=" + url.QueryEscape(name)
	if err := s.client.GetJSON(ctx, searchURL, &results); err != nil {
		return nil, eris.Wrapf(err, "companieshouse: search companies %q", name)
	}
	if len(results.Items) == 0 {
		return nil, eris.Errorf("companieshouse: no company matching %q", name)
	}
	top := results.Items[0]
	return s.searchAccounts(ctx, top.CompanyNumber, top.Title, params)
}

func (s *CHSearcher) searchAccounts(ctx context.Context, number, companyName string, params SearchParams) ([]Filing, error) {
	historyURL := fmt.Sprintf("%s/company/%s/filing-history?category=accounts&items_per_page=%d",
		chAPIBase, number, historyPageSize(params))

	var history chFilingHistory
	if err := s.client.GetJSON(ctx, historyURL, &history); err != nil {
		return nil, eris.Wrapf(err, "companieshouse: fetch filing history for %s", number)
	}

	var out []Filing
	for _, item := range history.Items {
		if params.MaxResults > 0 && len(out) >= params.MaxResults {
			break
		}
		if item.Category != "accounts" {
			continue
		}
		if params.FormType != "" && !strings.EqualFold(item.Type, params.FormType) {
			continue
		}
		filed, err := time.Parse("2006-01-02", item.Date)
		if err != nil || !params.inWindow(filed) {
			continue
		}
		if item.Links.DocumentMetadata == "" {
			continue
		}

		contentURL, err := s.resolveDocumentURL(ctx, item.Links.DocumentMetadata)
		if err != nil {
			s.log.Warn("no usable document for filing",
				zap.String("transaction", item.TransactionID),
				zap.Error(err),
			)
			continue
		}

		out = append(out, Filing{
			FilingURL:       contentURL,
			FormType:        item.Type,
			FilingDate:      filed,
			CompanyName:     companyName,
			EntityID:        number,
			AccessionNumber: item.TransactionID,
			MarketID:        store.MarketUKCH,
		})
	}
	return out, nil
}

// resolveDocumentURL reads the document metadata, checks a format from the
// preference ladder is available, and returns the /content URL.
func (s *CHSearcher) resolveDocumentURL(ctx context.Context, metadataURL string) (string, error) {
	var meta chDocumentMetadata
	if err := s.client.GetJSON(ctx, metadataURL, &meta); err != nil {
		return "", eris.Wrap(err, "companieshouse: fetch document metadata")
	}
	if meta.Links.Document == "" {
		return "", eris.New("companieshouse: document metadata has no document link")
	}
	for _, format := range chFormatLadder {
		if _, ok := meta.Resources[format]; ok {
			return meta.Links.Document + "/content", nil
		}
	}
	// No declared resource matched the ladder; the document endpoint still
	// negotiates at fetch time, so hand back the content URL regardless.
	return meta.Links.Document + "/content", nil
}

func historyPageSize(params SearchParams) int {
	if params.MaxResults > 0 && params.MaxResults < 100 {
		// headroom for non-accounts rows mixed into the page
		return params.MaxResults * 4
	}
	return 100
}
