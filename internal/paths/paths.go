// Package paths computes the canonical on-disk layout for filings and
// taxonomy libraries.
package paths

import (
	"path/filepath"
	"regexp"
	"strings"
)

// Resolver maps records to absolute directories under the configured roots.
type Resolver struct {
	entitiesRoot   string
	taxonomiesRoot string
	tempRoot       string
}

// NewResolver creates a Resolver. Roots are made absolute relative to the
// working directory.
func NewResolver(entitiesRoot, taxonomiesRoot, tempRoot string) *Resolver {
	return &Resolver{
		entitiesRoot:   mustAbs(entitiesRoot),
		taxonomiesRoot: mustAbs(taxonomiesRoot),
		tempRoot:       mustAbs(tempRoot),
	}
}

func mustAbs(p string) string {
	abs, err := filepath.Abs(p)
	if err != nil {
		return p
	}
	return abs
}

var (
	unsafeChars  = regexp.MustCompile(`[^A-Za-z0-9_]+`)
	multiUnders  = regexp.MustCompile(`_+`)
	trimmedUnder = "_"
)

// SafeCompanyName normalizes a company name for use as a directory component:
// characters outside [A-Za-z0-9_] are collapsed to underscores.
func SafeCompanyName(name string) string {
	s := unsafeChars.ReplaceAllString(name, "_")
	s = multiUnders.ReplaceAllString(s, "_")
	s = strings.Trim(s, trimmedUnder)
	if s == "" {
		return "unknown_company"
	}
	return s
}

// Filing returns the directory for a filing:
// {entities_root}/{market}/{safe_company}/filings/{form_type}/{accession}.
func (r *Resolver) Filing(market, companyName, formType, accession string) string {
	return filepath.Join(
		r.entitiesRoot,
		market,
		SafeCompanyName(companyName),
		"filings",
		formType,
		accession,
	)
}

// Taxonomy returns the directory for a taxonomy library:
// {taxonomies_root}/{name}/{version}.
func (r *Resolver) Taxonomy(name, version string) string {
	return filepath.Join(r.taxonomiesRoot, name, version)
}

// TaxonomyCandidates returns the directory naming patterns tried when
// checking whether a library is already on disk.
func (r *Resolver) TaxonomyCandidates(name, version string) []string {
	return []string{
		filepath.Join(r.taxonomiesRoot, name, version),
		filepath.Join(r.taxonomiesRoot, name+"-"+version),
		filepath.Join(r.taxonomiesRoot, name),
		filepath.Join(r.taxonomiesRoot, name+"_"+version),
	}
}

// TempRoot returns the transient download directory.
func (r *Resolver) TempRoot() string {
	return r.tempRoot
}

// TaxonomiesRoot returns the library root directory.
func (r *Resolver) TaxonomiesRoot() string {
	return r.taxonomiesRoot
}
