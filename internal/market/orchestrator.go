package market

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/filings-cli/internal/store"
)

// Orchestrator runs a market search and persists the results: entities are
// upserted, filings land as pending searches for the download coordinator.
type Orchestrator struct {
	store store.Store
	log   *zap.Logger
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(st store.Store) *Orchestrator {
	return &Orchestrator{
		store: st,
		log:   zap.L().With(zap.String("component", "market.orchestrator")),
	}
}

// SearchResult summarizes one persisted search batch.
type SearchResult struct {
	Filings    []Filing
	NewRecords int
	Duplicates int
}

// Run invokes the searcher and persists every returned filing. The searcher
// is chosen by the caller; byName switches between the two search
// capabilities.
func (o *Orchestrator) Run(ctx context.Context, searcher Searcher, query string, byName bool, params SearchParams) (*SearchResult, error) {
	var (
		filings []Filing
		err     error
	)
	if byName {
		filings, err = searcher.SearchByCompanyName(ctx, query, params)
	} else {
		filings, err = searcher.SearchByIdentifier(ctx, query, params)
	}
	if err != nil {
		return nil, err
	}

	res := &SearchResult{Filings: filings}
	for _, f := range filings {
		entity, err := o.store.UpsertEntity(ctx, f.MarketID, f.EntityID, f.CompanyName)
		if err != nil {
			return res, eris.Wrapf(err, "orchestrator: upsert entity %s", f.EntityID)
		}

		created, err := o.store.CreateFilingSearch(ctx, &store.FilingSearch{
			EntityID:        entity.EntityID,
			MarketType:      f.MarketID,
			FormType:        f.FormType,
			FilingDate:      f.FilingDate,
			FilingURL:       f.FilingURL,
			AccessionNumber: f.AccessionNumber,
			SearchMetadata: map[string]any{
				"company_name": f.CompanyName,
				"identifier":   f.EntityID,
			},
		})
		if err != nil {
			return res, eris.Wrapf(err, "orchestrator: persist filing %s", f.AccessionNumber)
		}
		if created {
			res.NewRecords++
		} else {
			res.Duplicates++
		}
	}

	o.log.Info("search persisted",
		zap.Int("found", len(filings)),
		zap.Int("new", res.NewRecords),
		zap.Int("duplicates", res.Duplicates),
	)
	return res, nil
}

// PersistTaxonomy upserts a taxonomy library requirement directly. Rows with
// name or version "unknown" are skipped; the bool reports that skip.
func (o *Orchestrator) PersistTaxonomy(ctx context.Context, lib *store.TaxonomyLibrary, requiredBy string) (bool, error) {
	skipped, err := o.store.UpsertTaxonomyLibrary(ctx, lib, requiredBy)
	if err != nil {
		return false, eris.Wrap(err, "orchestrator: persist taxonomy")
	}
	if skipped {
		o.log.Debug("taxonomy skipped",
			zap.String("name", lib.TaxonomyName),
			zap.String("version", lib.TaxonomyVersion),
		)
	}
	return skipped, nil
}
