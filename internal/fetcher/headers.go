package fetcher

import (
	"encoding/base64"
	"net/http"
	"net/url"
	"strings"
)

// Per-host header policy. SEC requires a contact-string User-Agent; Companies
// House wants HTTP Basic with the API key as username and an empty password.
const (
	AcceptXHTML = "application/xhtml+xml"
	AcceptHTML  = "text/html"
	AcceptPDF   = "application/pdf"
	AcceptJSON  = "application/json"
	acceptAPI   = "application/vnd.api+json"
)

var secHosts = map[string]bool{
	"www.sec.gov":  true,
	"data.sec.gov": true,
	"efts.sec.gov": true,
}

const (
	chAPIHost      = "api.companieshouse.gov.uk"
	chDocumentHost = "document-api.company-information.service.gov.uk"
	esefHost       = "filings.xbrl.org"
)

// Credentials holds the per-market identity presented to remote hosts.
type Credentials struct {
	SECUserAgent  string
	UKCHAPIKey    string
	UKCHUserAgent string
	GenericUA     string
}

// IsSECHost reports whether the host is an SEC EDGAR endpoint.
func IsSECHost(host string) bool { return secHosts[host] }

// IsCompaniesHouseHost reports whether the host belongs to Companies House.
func IsCompaniesHouseHost(host string) bool {
	return host == chAPIHost || host == chDocumentHost
}

// IsCompaniesHouseDocumentHost reports whether the host is the Companies House
// document service, which does not support HEAD.
func IsCompaniesHouseDocumentHost(host string) bool { return host == chDocumentHost }

// HostOf returns the host component of rawURL, or "" when unparseable.
func HostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Host
}

// BuildHeaders selects the User-Agent, Accept, and auth headers for a URL.
func (c Credentials) BuildHeaders(rawURL string) http.Header {
	h := http.Header{}
	host := HostOf(rawURL)

	switch {
	case IsSECHost(host):
		h.Set("User-Agent", c.SECUserAgent)
		h.Set("Accept-Encoding", "gzip, deflate")
	case IsCompaniesHouseHost(host):
		ua := c.UKCHUserAgent
		if ua == "" {
			ua = c.GenericUA
		}
		h.Set("User-Agent", ua)
		if c.UKCHAPIKey != "" {
			h.Set("Authorization", basicAuth(c.UKCHAPIKey, ""))
		}
		if IsCompaniesHouseDocumentHost(host) {
			h.Set("Accept", AcceptXHTML)
		} else {
			h.Set("Accept", AcceptJSON)
		}
	case host == esefHost:
		h.Set("User-Agent", c.GenericUA)
		h.Set("Accept", acceptAPI)
	default:
		h.Set("User-Agent", c.GenericUA)
	}

	return h
}

func basicAuth(user, pass string) string {
	token := base64.StdEncoding.EncodeToString([]byte(user + ":" + pass))
	return "Basic " + token
}

// CompaniesHouseAcceptLadder is the preferred format order for CH documents.
func CompaniesHouseAcceptLadder() []string {
	return []string{AcceptXHTML, AcceptHTML, AcceptPDF}
}

// applyHeaders copies h onto req without clobbering explicit caller headers.
func applyHeaders(req *http.Request, h http.Header) {
	for k, vs := range h {
		if req.Header.Get(k) != "" {
			continue
		}
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if req.Header.Get("User-Agent") == "" || strings.HasPrefix(req.Header.Get("User-Agent"), "Go-http-client") {
		if ua := h.Get("User-Agent"); ua != "" {
			req.Header.Set("User-Agent", ua)
		}
	}
}
