// Package market implements per-market filing search: SEC EDGAR, UK
// Companies House, and the ESEF aggregator, all returning one normalized
// record shape.
package market

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// Filing is the normalized search result. No market-specific keys leak out
// of a searcher.
type Filing struct {
	FilingURL       string
	FormType        string
	FilingDate      time.Time
	CompanyName     string
	EntityID        string // market-native identifier
	AccessionNumber string
	MarketID        string
}

// SearchParams bounds a search. Zero dates mean unbounded.
type SearchParams struct {
	FormType   string
	MaxResults int
	StartDate  time.Time
	EndDate    time.Time
}

// inWindow reports whether d falls inside the params date window.
func (p SearchParams) inWindow(d time.Time) bool {
	if !p.StartDate.IsZero() && d.Before(p.StartDate) {
		return false
	}
	if !p.EndDate.IsZero() && d.After(p.EndDate) {
		return false
	}
	return true
}

// Searcher is the per-market search contract.
type Searcher interface {
	// SearchByIdentifier searches with a market-native identifier
	// (CIK/ticker, company number, LEI).
	SearchByIdentifier(ctx context.Context, identifier string, params SearchParams) ([]Filing, error)

	// SearchByCompanyName searches by company name.
	SearchByCompanyName(ctx context.Context, name string, params SearchParams) ([]Filing, error)

	// Close releases searcher resources.
	Close() error
}

// Constructor builds a searcher for one market.
type Constructor func() (Searcher, error)

// Registry maps market id to searcher constructor, preserving registration
// order for listing.
type Registry struct {
	mu    sync.Mutex
	order []string
	byID  map[string]Constructor
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byID: make(map[string]Constructor)}
}

// Register adds a market constructor. Re-registering an id replaces the
// constructor but keeps its position.
func (r *Registry) Register(marketID string, ctor Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[marketID]; !ok {
		r.order = append(r.order, marketID)
	}
	r.byID[marketID] = ctor
}

// For builds the searcher for marketID.
func (r *Registry) For(marketID string) (Searcher, error) {
	r.mu.Lock()
	ctor, ok := r.byID[marketID]
	r.mu.Unlock()
	if !ok {
		return nil, eris.Errorf("market: unknown market %q", marketID)
	}
	return ctor()
}

// IDs lists registered market ids in registration order.
func (r *Registry) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}
