package taxonomy

import (
	"context"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/filings-cli/internal/paths"
	"github.com/sells-group/filings-cli/internal/store"
	"github.com/sells-group/filings-cli/internal/validate"
)

// Availability classifications after dual verification.
const (
	AvailTruly      = "truly_available" // DB ready and disk populated
	AvailRegistered = "registered"      // found on disk, DB row created
	AvailMissing    = "missing"         // neither side holds, enqueued
)

// LibraryStatus is the per-requirement outcome of a check.
type LibraryStatus struct {
	Requirement Requirement
	State       string
	Directory   string
	FileCount   int
}

// CheckReport aggregates one filing's library check.
type CheckReport struct {
	Statuses       []LibraryStatus
	AvailableCount int
	MissingCount   int
}

// Checker performs dual verification: a library counts as available only
// when both the database row and the on-disk directory agree.
type Checker struct {
	store    store.Store
	paths    *paths.Resolver
	minFiles int
	log      *zap.Logger
}

// NewChecker creates a Checker.
func NewChecker(st store.Store, resolver *paths.Resolver, minFiles int) *Checker {
	return &Checker{
		store:    st,
		paths:    resolver,
		minFiles: minFiles,
		log:      zap.L().With(zap.String("component", "taxonomy.availability")),
	}
}

// Check runs dual verification for every downloadable requirement and
// applies the reconciliation writes. requiredBy ties enqueued libraries back
// to the filing search that needs them.
func (c *Checker) Check(ctx context.Context, reqs []Requirement, requiredBy string) (*CheckReport, error) {
	report := &CheckReport{}
	for _, req := range reqs {
		if !req.Downloadable() {
			continue
		}
		status, err := c.checkOne(ctx, req, requiredBy)
		if err != nil {
			return report, err
		}
		report.Statuses = append(report.Statuses, *status)
		if status.State == AvailMissing {
			report.MissingCount++
		} else {
			report.AvailableCount++
		}
	}
	return report, nil
}

func (c *Checker) checkOne(ctx context.Context, req Requirement, requiredBy string) (*LibraryStatus, error) {
	lib, err := c.store.GetLibraryByNameVersion(ctx, req.Name, req.Version)
	if err != nil {
		return nil, err
	}

	dbReady := lib != nil &&
		lib.DownloadStatus == store.StatusCompleted &&
		lib.TotalFiles != nil && *lib.TotalFiles > c.minFiles

	dir, files := c.diskLookup(req)
	diskReady := files > c.minFiles

	switch {
	case dbReady && diskReady:
		if err := c.store.TouchLibraryVerified(ctx, lib.LibraryID, time.Now().UTC()); err != nil {
			return nil, err
		}
		return &LibraryStatus{Requirement: req, State: AvailTruly, Directory: dir, FileCount: files}, nil

	case dbReady && !diskReady:
		// The database claims a directory that no longer holds files.
		c.log.Warn("library directory mismatch, downgrading",
			zap.String("name", req.Name),
			zap.String("version", req.Version),
			zap.Stringp("directory", lib.LibraryDirectory),
		)
		if err := c.store.MarkLibraryMissing(ctx, lib.LibraryID); err != nil {
			return nil, err
		}
		if err := c.enqueue(ctx, req, requiredBy); err != nil {
			return nil, err
		}
		return &LibraryStatus{Requirement: req, State: AvailMissing}, nil

	case !dbReady && diskReady:
		// Found on disk without a ready row; register it.
		if err := c.store.RegisterLibraryFromDisk(ctx, &store.TaxonomyLibrary{
			TaxonomyName:      req.Name,
			TaxonomyVersion:   req.Version,
			TaxonomyNamespace: req.Namespace,
			SourceURL:         req.DownloadURL,
			MarketType:        req.MarketType,
		}, dir, files); err != nil {
			return nil, err
		}
		c.log.Info("library registered from disk",
			zap.String("name", req.Name),
			zap.String("version", req.Version),
			zap.Int("files", files),
		)
		return &LibraryStatus{Requirement: req, State: AvailRegistered, Directory: dir, FileCount: files}, nil

	default:
		if err := c.enqueue(ctx, req, requiredBy); err != nil {
			return nil, err
		}
		return &LibraryStatus{Requirement: req, State: AvailMissing}, nil
	}
}

// diskLookup probes the naming patterns a library directory may use and
// returns the first populated candidate.
func (c *Checker) diskLookup(req Requirement) (string, int) {
	for _, candidate := range c.paths.TaxonomyCandidates(req.Name, req.Version) {
		info, err := os.Stat(candidate)
		if err != nil || !info.IsDir() {
			continue
		}
		if n := validate.CountFiles(candidate); n > 0 {
			return candidate, n
		}
	}
	return "", 0
}

func (c *Checker) enqueue(ctx context.Context, req Requirement, requiredBy string) error {
	_, err := c.store.EnqueueLibrary(ctx, &store.TaxonomyLibrary{
		TaxonomyName:      req.Name,
		TaxonomyVersion:   req.Version,
		TaxonomyNamespace: req.Namespace,
		SourceURL:         req.DownloadURL,
		CurrentURL:        req.DownloadURL,
		MarketType:        req.MarketType,
	}, requiredBy)
	return eris.Wrap(err, "availability: enqueue library")
}
