// Package store is the persistence layer: entities, filing searches,
// verified downloads, and the taxonomy library catalog in Postgres.
package store

import (
	"context"
	"time"
)

// Store defines the persistence interface for the acquisition pipeline.
type Store interface {
	// Entities
	UpsertEntity(ctx context.Context, marketType, marketEntityID, companyName string) (*Entity, error)

	// Filing searches
	CreateFilingSearch(ctx context.Context, fs *FilingSearch) (bool, error)
	GetFilingSearch(ctx context.Context, searchID string) (*FilingSearch, error)
	ListFilingsForDownload(ctx context.Context) ([]FilingSearch, error)
	ClaimFilingSearch(ctx context.Context, searchID string) (bool, error)
	ResetFilingSearch(ctx context.Context, searchID string) error
	CompleteFilingDownload(ctx context.Context, searchID, entityID, downloadDir string, instancePath *string) (*DownloadedFiling, error)
	FailFilingSearch(ctx context.Context, searchID, stage, message string) error

	// Taxonomy libraries
	UpsertTaxonomyLibrary(ctx context.Context, lib *TaxonomyLibrary, requiredBy string) (bool, error)
	EnqueueLibrary(ctx context.Context, lib *TaxonomyLibrary, requiredBy string) (bool, error)
	GetLibraryByNameVersion(ctx context.Context, name, version string) (*TaxonomyLibrary, error)
	ListLibraries(ctx context.Context, status DownloadStatus) ([]TaxonomyLibrary, error)
	ListRetryableLibraries(ctx context.Context, maxTotalAttempts int) ([]TaxonomyLibrary, error)
	ClaimLibrary(ctx context.Context, libraryID string) (bool, error)
	CompleteLibrary(ctx context.Context, libraryID, libraryDir string, totalFiles int) error
	FailLibrary(ctx context.Context, libraryID, reason, message string, extraction bool) error
	RegisterLibraryFromDisk(ctx context.Context, lib *TaxonomyLibrary, libraryDir string, totalFiles int) error
	MarkLibraryMissing(ctx context.Context, libraryID string) error
	TouchLibraryVerified(ctx context.Context, libraryID string, at time.Time) error
	SwapLibraryURL(ctx context.Context, libraryID, previousURL, nextURL string) error
	RequeueLibrary(ctx context.Context, libraryID string) error
	GetLibraryStats(ctx context.Context) (*LibraryStats, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	SeedMarkets(ctx context.Context) error
	Close() error
}
