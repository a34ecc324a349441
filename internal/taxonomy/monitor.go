package taxonomy

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/filings-cli/internal/distribution"
	"github.com/sells-group/filings-cli/internal/store"
	"github.com/sells-group/filings-cli/internal/taxonomy/recognizer"
)

// Retry strategies.
type Strategy string

const (
	StrategyRetrySameURL   Strategy = "retry_same_url"
	StrategyAlternativeURL Strategy = "try_alternative_url"
	StrategyManual         Strategy = "manual_intervention"
)

// Failure reason classes.
var (
	urlReasons = map[string]bool{
		"invalid_url": true, "url_404": true, "url_403": true, "dns_error": true,
	}
	transientReasons = map[string]bool{
		"network_error": true, "timeout": true, "incomplete_download": true,
	}
	extractionReasons = map[string]bool{
		"corrupted_zip": true, "invalid_archive": true,
	}
	systemReasons = map[string]bool{
		"permission_denied": true, "disk_full": true, "extraction_error": true,
	}
)

// ManualItem is one library needing operator attention.
type ManualItem struct {
	Library   store.TaxonomyLibrary
	URLsTried []string
	Why       string
}

// MonitorReport summarizes one monitor pass.
type MonitorReport struct {
	Examined int
	Retried  int
	Swapped  int
	Manual   []ManualItem
}

// Monitor periodically revisits failed libraries and decides, per failure
// reason, whether to retry the same URL, move to an alternative, or hand
// the library to an operator.
type Monitor struct {
	store       store.Store
	maxTotal    int
	maxDownload int
	log         *zap.Logger
}

// NewMonitor creates a Monitor.
func NewMonitor(st store.Store, maxTotalAttempts, maxDownloadAttempts int) *Monitor {
	return &Monitor{
		store:       st,
		maxTotal:    maxTotalAttempts,
		maxDownload: maxDownloadAttempts,
		log:         zap.L().With(zap.String("component", "taxonomy.monitor")),
	}
}

// Run loops RunOnce at the given interval until the context is cancelled.
func (m *Monitor) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := m.RunOnce(ctx); err != nil {
			m.log.Error("monitor pass failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce examines every retryable failed library and applies its strategy.
// Libraries past the total attempt ceiling are terminal and appear only in
// the manual report.
func (m *Monitor) RunOnce(ctx context.Context) (*MonitorReport, error) {
	report := &MonitorReport{}

	retryable, err := m.store.ListRetryableLibraries(ctx, m.maxTotal)
	if err != nil {
		return nil, err
	}
	for _, lib := range retryable {
		report.Examined++
		switch m.decide(lib) {
		case StrategyRetrySameURL:
			if err := m.store.RequeueLibrary(ctx, lib.LibraryID); err != nil {
				return report, err
			}
			report.Retried++

		case StrategyAlternativeURL:
			next, ok := m.nextAlternative(lib)
			if !ok {
				report.Manual = append(report.Manual, manualItem(lib, "no alternative urls left"))
				continue
			}
			if err := m.store.SwapLibraryURL(ctx, lib.LibraryID, lib.CurrentURL, next); err != nil {
				return report, err
			}
			m.log.Info("library moved to alternative url",
				zap.String("name", lib.TaxonomyName),
				zap.String("next", next),
			)
			report.Swapped++

		case StrategyManual:
			report.Manual = append(report.Manual, manualItem(lib, "failure requires operator action: "+lib.FailureReason))
		}
	}

	// Exhausted libraries are terminal; surface them without retrying.
	failed, err := m.store.ListLibraries(ctx, store.StatusFailed)
	if err != nil {
		return report, err
	}
	for _, lib := range failed {
		if lib.TotalAttempts >= m.maxTotal {
			report.Manual = append(report.Manual, manualItem(lib, fmt.Sprintf("exhausted after %d attempts", lib.TotalAttempts)))
		}
	}

	if len(report.Manual) > 0 {
		m.log.Warn("libraries need manual download", zap.Int("count", len(report.Manual)))
	}
	return report, nil
}

// decide applies the reason-class ladder.
func (m *Monitor) decide(lib store.TaxonomyLibrary) Strategy {
	reason := lib.FailureReason
	switch {
	case urlReasons[reason], transientReasons[reason]:
		if lib.DownloadAttempts < m.maxDownload {
			return StrategyRetrySameURL
		}
		return StrategyAlternativeURL
	case extractionReasons[reason]:
		if lib.ExtractionAttempts >= 2 {
			return StrategyAlternativeURL
		}
		return StrategyRetrySameURL
	case systemReasons[reason]:
		return StrategyManual
	default:
		return StrategyRetrySameURL
	}
}

// nextAlternative returns the first candidate URL not yet tried: recognizer
// alternatives for the namespace first, then URL-shape variants of the
// current URL.
func (m *Monitor) nextAlternative(lib store.TaxonomyLibrary) (string, bool) {
	tried := make(map[string]bool, len(lib.AlternativeURLsTried)+2)
	for _, u := range lib.AlternativeURLsTried {
		tried[u] = true
	}
	tried[lib.CurrentURL] = true
	tried[lib.SourceURL] = true

	candidates := recognizer.Alternatives(lib.TaxonomyNamespace)
	candidates = append(candidates, distribution.Alternatives(lib.CurrentURL)...)
	for _, c := range candidates {
		if c != "" && !tried[c] {
			return c, true
		}
	}
	return "", false
}

func manualItem(lib store.TaxonomyLibrary, why string) ManualItem {
	urls := append([]string{}, lib.AlternativeURLsTried...)
	if lib.CurrentURL != "" {
		urls = append(urls, lib.CurrentURL)
	}
	return ManualItem{Library: lib, URLsTried: urls, Why: why}
}

// FormatManualReport renders the operator-facing manual download report.
func FormatManualReport(items []ManualItem) string {
	if len(items) == 0 {
		return "no libraries require manual download\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d libraries require manual download:\n\n", len(items))
	for _, item := range items {
		fmt.Fprintf(&b, "  %s %s (%s)\n", item.Library.TaxonomyName, item.Library.TaxonomyVersion, item.Why)
		fmt.Fprintf(&b, "    namespace: %s\n", item.Library.TaxonomyNamespace)
		for _, u := range item.URLsTried {
			fmt.Fprintf(&b, "    tried: %s\n", u)
		}
	}
	return b.String()
}
