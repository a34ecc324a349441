package store

import "time"

// DownloadStatus is the lifecycle state of a filing search or taxonomy
// library download.
type DownloadStatus string

const (
	StatusPending     DownloadStatus = "pending"
	StatusDownloading DownloadStatus = "downloading"
	StatusCompleted   DownloadStatus = "completed"
	StatusFailed      DownloadStatus = "failed"
)

// Market identifiers.
const (
	MarketSEC  = "sec"
	MarketUKCH = "uk_frc"
	MarketESEF = "esef"
)

// Market is a row of the seeded markets table.
type Market struct {
	MarketID           string
	Name               string
	Country            string
	APIBaseURL         string
	RateLimitPerMinute int
	UserAgentRequired  bool
}

// Entity is a company known to one market. Unique on
// (market_type, market_entity_id); created on first search, never deleted.
type Entity struct {
	EntityID       string
	MarketType     string
	MarketEntityID string
	CompanyName    string
	Status         string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// FilingSearch is one discovered filing awaiting (or past) acquisition.
// Unique on (entity_id, accession_number). The repository returns flat
// records with the entity fields already joined in, so callers never touch
// a live row.
type FilingSearch struct {
	SearchID         string
	EntityID         string
	MarketType       string
	FormType         string
	FilingDate       time.Time
	FilingURL        string
	AccessionNumber  string
	SearchMetadata   map[string]any
	DownloadStatus   DownloadStatus
	ExtractionStatus string
	CompanyName      string // joined from entities
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// DownloadedFiling records a verified on-disk filing. Rows are created only
// after the directory passed validation and the paranoid recheck.
type DownloadedFiling struct {
	FilingID            string
	SearchID            string
	EntityID            string
	DownloadDirectory   string
	InstanceFilePath    *string
	DownloadCompletedAt time.Time
}

// TaxonomyLibrary is one required taxonomy package. Unique on
// (taxonomy_name, taxonomy_version) and, when non-empty, on
// taxonomy_namespace. Rows with name or version "unknown" are never created.
type TaxonomyLibrary struct {
	LibraryID            string
	TaxonomyName         string
	TaxonomyVersion      string
	TaxonomyNamespace    string
	SourceURL            string
	CurrentURL           string
	MarketType           string
	DownloadStatus       DownloadStatus
	LibraryDirectory     *string
	TotalFiles           *int
	DownloadCompletedAt  *time.Time
	LastVerifiedAt       *time.Time
	RequiredByFilings    []string
	TotalAttempts        int
	DownloadAttempts     int
	ExtractionAttempts   int
	FailureReason        string
	ErrorMessage         string
	AlternativeURLsTried []string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// LibraryStats is the aggregate the library CLI prints.
type LibraryStats struct {
	Total      int
	Completed  int
	Pending    int
	Failed     int
	TotalFiles int
}
