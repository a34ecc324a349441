// Package coordinator drives one processing attempt per queued work item:
// claim, download, extract, validate, recheck, commit. Items are either
// pending filing searches or pending taxonomy libraries.
package coordinator

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/filings-cli/internal/distribution"
	"github.com/sells-group/filings-cli/internal/paths"
	"github.com/sells-group/filings-cli/internal/store"
	"github.com/sells-group/filings-cli/internal/validate"
)

// Options tunes a Coordinator.
type Options struct {
	MaxConcurrent int
	MinFiles      int
	TempMaxAge    time.Duration
}

// Outcome is the terminal result of one work item.
type Outcome struct {
	ID        string
	Label     string
	Success   bool
	Skipped   bool // claim lost to another coordinator
	Stage     distribution.Stage
	Message   string
	FileCount int
	Directory string
}

// BatchReport aggregates one coordinator batch.
type BatchReport struct {
	Completed int
	Failed    int
	Skipped   int
	Outcomes  []Outcome
}

// Coordinator owns the download state machine. A single work item is held by
// exactly one coordinator between its claim and its terminal state; the
// claim is a conditional UPDATE on the pending status.
type Coordinator struct {
	store     store.Store
	processor *distribution.Processor
	paths     *paths.Resolver
	opts      Options
	log       *zap.Logger
}

// New creates a Coordinator.
func New(st store.Store, processor *distribution.Processor, resolver *paths.Resolver, opts Options) *Coordinator {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 3
	}
	if opts.MinFiles <= 0 {
		opts.MinFiles = 1
	}
	if opts.TempMaxAge <= 0 {
		opts.TempMaxAge = 24 * time.Hour
	}
	return &Coordinator{
		store:     st,
		processor: processor,
		paths:     resolver,
		opts:      opts,
		log:       zap.L().With(zap.String("component", "coordinator")),
	}
}

// RunFilings processes filing work items with bounded parallelism. A
// cancelled context stops dequeuing; in-flight items run to their terminal
// state.
func (c *Coordinator) RunFilings(ctx context.Context, items []store.FilingSearch) *BatchReport {
	ReapTemp(c.paths.TempRoot(), c.opts.TempMaxAge)

	report := &BatchReport{}
	var mu sync.Mutex
	g := &errgroup.Group{}
	g.SetLimit(c.opts.MaxConcurrent)

	for _, item := range items {
		if ctx.Err() != nil {
			break
		}
		item := item
		g.Go(func() error {
			out := c.ProcessFiling(ctx, item)
			mu.Lock()
			report.add(out)
			mu.Unlock()
			return nil
		})
	}
	g.Wait() //nolint:errcheck // workers never return errors
	return report
}

// RunLibraries processes taxonomy work items with bounded parallelism.
func (c *Coordinator) RunLibraries(ctx context.Context, items []store.TaxonomyLibrary) *BatchReport {
	ReapTemp(c.paths.TempRoot(), c.opts.TempMaxAge)

	report := &BatchReport{}
	var mu sync.Mutex
	g := &errgroup.Group{}
	g.SetLimit(c.opts.MaxConcurrent)

	for _, item := range items {
		if ctx.Err() != nil {
			break
		}
		item := item
		g.Go(func() error {
			out := c.ProcessLibrary(ctx, item)
			mu.Lock()
			report.add(out)
			mu.Unlock()
			return nil
		})
	}
	g.Wait() //nolint:errcheck
	return report
}

func (r *BatchReport) add(out *Outcome) {
	r.Outcomes = append(r.Outcomes, *out)
	switch {
	case out.Skipped:
		r.Skipped++
	case out.Success:
		r.Completed++
	default:
		r.Failed++
	}
}

// ProcessFiling runs one filing through the state machine.
func (c *Coordinator) ProcessFiling(ctx context.Context, item store.FilingSearch) (out *Outcome) {
	out = &Outcome{
		ID:    item.SearchID,
		Label: fmt.Sprintf("%s %s %s", item.CompanyName, item.FormType, item.AccessionNumber),
	}
	defer c.recoverUnexpected(ctx, out, func(msg string) {
		c.store.FailFilingSearch(ctx, item.SearchID, string(distribution.StageUnexpected), msg) //nolint:errcheck
	})

	claimed, err := c.store.ClaimFilingSearch(ctx, item.SearchID)
	if err != nil {
		out.Stage, out.Message = distribution.StageDatabase, err.Error()
		return out
	}
	if !claimed {
		out.Skipped = true
		return out
	}

	targetDir := c.paths.Filing(item.MarketType, item.CompanyName, item.FormType, item.AccessionNumber)
	out.Directory = targetDir

	res := c.processor.Process(ctx, item.FilingURL, targetDir)
	if !res.Success {
		return c.failFiling(ctx, item, out, res.ErrorStage, failureMessage(res))
	}

	if v := validate.Extraction(targetDir, c.opts.MinFiles); !v.Valid {
		return c.failFiling(ctx, item, out, distribution.StageValidation, v.Reason)
	}
	recheck := validate.Recheck(targetDir)
	if !recheck.Valid {
		return c.failFiling(ctx, item, out, distribution.StageVerification, recheck.Reason)
	}

	instancePath := findInstanceFile(targetDir)
	if _, err := c.store.CompleteFilingDownload(ctx, item.SearchID, item.EntityID, targetDir, instancePath); err != nil {
		// The on-disk artifact is good; keep it and let a later scan
		// self-heal the row.
		return c.failFiling(ctx, item, out, distribution.StageDatabase, err.Error())
	}

	out.Success = true
	out.FileCount = recheck.FileCount
	c.log.Info("filing completed",
		zap.String("search_id", item.SearchID),
		zap.String("accession", item.AccessionNumber),
		zap.Int("files", recheck.FileCount),
	)
	return out
}

// ProcessLibrary runs one taxonomy library through the state machine,
// downloading the current URL into the canonical library directory.
func (c *Coordinator) ProcessLibrary(ctx context.Context, item store.TaxonomyLibrary) (out *Outcome) {
	out = &Outcome{
		ID:    item.LibraryID,
		Label: item.TaxonomyName + " " + item.TaxonomyVersion,
	}
	defer c.recoverUnexpected(ctx, out, func(msg string) {
		c.store.FailLibrary(ctx, item.LibraryID, "unexpected_error", msg, false) //nolint:errcheck
	})

	claimed, err := c.store.ClaimLibrary(ctx, item.LibraryID)
	if err != nil {
		out.Stage, out.Message = distribution.StageDatabase, err.Error()
		return out
	}
	if !claimed {
		out.Skipped = true
		return out
	}

	targetDir := c.paths.Taxonomy(item.TaxonomyName, item.TaxonomyVersion)
	out.Directory = targetDir

	res := c.processor.Process(ctx, item.CurrentURL, targetDir)
	if !res.Success {
		reason, extraction := libraryFailureReason(res)
		return c.failLibrary(ctx, item, out, res.ErrorStage, reason, failureMessage(res), extraction)
	}

	if v := validate.Extraction(targetDir, c.opts.MinFiles); !v.Valid {
		return c.failLibrary(ctx, item, out, distribution.StageValidation, "extraction_error", v.Reason, true)
	}
	recheck := validate.Recheck(targetDir)
	if !recheck.Valid {
		return c.failLibrary(ctx, item, out, distribution.StageVerification, "extraction_error", recheck.Reason, true)
	}

	if err := c.store.CompleteLibrary(ctx, item.LibraryID, targetDir, recheck.FileCount); err != nil {
		return c.failLibrary(ctx, item, out, distribution.StageDatabase, "database_error", err.Error(), false)
	}

	out.Success = true
	out.FileCount = recheck.FileCount
	c.log.Info("library completed",
		zap.String("name", item.TaxonomyName),
		zap.String("version", item.TaxonomyVersion),
		zap.Int("files", recheck.FileCount),
	)
	return out
}

func (c *Coordinator) failFiling(ctx context.Context, item store.FilingSearch, out *Outcome, stage distribution.Stage, msg string) *Outcome {
	out.Stage, out.Message = stage, msg
	c.log.Warn("filing failed",
		zap.String("search_id", item.SearchID),
		zap.String("stage", string(stage)),
		zap.String("error", msg),
	)
	if err := c.store.FailFilingSearch(ctx, item.SearchID, string(stage), msg); err != nil {
		c.log.Error("failure write failed", zap.String("search_id", item.SearchID), zap.Error(err))
	}
	return out
}

func (c *Coordinator) failLibrary(ctx context.Context, item store.TaxonomyLibrary, out *Outcome, stage distribution.Stage, reason, msg string, extraction bool) *Outcome {
	out.Stage, out.Message = stage, msg
	c.log.Warn("library failed",
		zap.String("name", item.TaxonomyName),
		zap.String("stage", string(stage)),
		zap.String("reason", reason),
		zap.String("error", msg),
	)
	if err := c.store.FailLibrary(ctx, item.LibraryID, reason, msg, extraction); err != nil {
		c.log.Error("failure write failed", zap.String("library_id", item.LibraryID), zap.Error(err))
	}
	return out
}

// recoverUnexpected converts a panic in a work item into a terminal
// failed/unexpected outcome instead of tearing down the batch.
func (c *Coordinator) recoverUnexpected(ctx context.Context, out *Outcome, persist func(msg string)) {
	r := recover()
	if r == nil {
		return
	}
	msg := fmt.Sprintf("panic: %v", r)
	out.Success = false
	out.Stage = distribution.StageUnexpected
	out.Message = msg
	c.log.Error("work item panicked", zap.String("id", out.ID), zap.String("error", msg))
	if ctx.Err() == nil {
		persist(msg)
	}
}

// findInstanceFile picks the likeliest inline XBRL instance document in a
// filing directory. Shallower matches win.
func findInstanceFile(dir string) *string {
	var best string
	bestDepth := -1
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		name := strings.ToLower(d.Name())
		if !instanceName(name) {
			return nil
		}
		depth := strings.Count(strings.TrimPrefix(path, dir), string(filepath.Separator))
		if bestDepth == -1 || depth < bestDepth {
			best, bestDepth = path, depth
		}
		return nil
	})
	if best == "" {
		return nil
	}
	return &best
}

func instanceName(name string) bool {
	switch {
	case strings.HasSuffix(name, ".xhtml"), strings.HasSuffix(name, ".htm"), strings.HasSuffix(name, ".html"):
		return true
	case strings.HasSuffix(name, "_htm.xml"):
		return true
	}
	return false
}
