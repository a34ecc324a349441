package main

import (
	"bufio"
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/filings-cli/internal/coordinator"
	"github.com/sells-group/filings-cli/internal/store"
	"github.com/sells-group/filings-cli/internal/taxonomy"
)

var downloadAll bool

var downloadCmd = &cobra.Command{
	Use:   "download",
	Short: "Download queued filings",
	Long:  "Lists filings with pending or failed downloads (failed first), accepts a selection, and runs each through the acquisition pipeline.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		items, err := st.ListFilingsForDownload(ctx)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			fmt.Println("nothing to download")
			return nil
		}

		fmt.Printf("%d filings queued:\n", len(items))
		for i, item := range items {
			fmt.Printf("  %3d. [%-7s] %-7s %-10s %-30s %s\n",
				i+1, item.DownloadStatus, item.MarketType, item.FormType,
				truncate(item.CompanyName, 30), item.AccessionNumber)
		}

		selected := items
		if !downloadAll {
			fmt.Print("select (e.g. 3, 2-5, 1,4,7, all, q): ")
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && line == "" {
				return nil
			}
			indices, quit, err := parseSelection(strings.TrimSpace(line), len(items))
			if err != nil {
				return err
			}
			if quit {
				return nil
			}
			selected = make([]store.FilingSearch, 0, len(indices))
			for _, idx := range indices {
				selected = append(selected, items[idx-1])
			}
		}

		client := initClient()
		defer client.Close()
		coord := initCoordinator(st, client, initPaths())

		report := coord.RunFilings(ctx, selected)
		printReport(report)
		checkLibraries(ctx, st, report)
		if report.Failed > 0 {
			return eris.Errorf("%d downloads failed", report.Failed)
		}
		return nil
	},
}

// checkLibraries resolves the taxonomy requirements of every filing the
// batch completed and enqueues missing libraries for the library command.
func checkLibraries(ctx context.Context, st store.Store, report *coordinator.BatchReport) {
	var cache *taxonomy.ResultCache
	cache, err := taxonomy.NewResultCache(resultCachePath(), cfg.Library.CacheTTL())
	if err != nil {
		zap.L().Warn("library result cache unavailable", zap.Error(err))
		cache = nil
	} else {
		defer cache.Close() //nolint:errcheck
	}

	checker := taxonomy.NewChecker(st, initPaths(), cfg.Library.MinFilesThreshold)
	libs := taxonomy.NewCoordinator(taxonomy.NewResolver(cfg.Library.EnableFallback), checker, cache)

	for _, out := range report.Outcomes {
		if !out.Success {
			continue
		}
		res, err := libs.ProcessFiling(ctx, out.ID, out.Directory)
		if err != nil {
			zap.L().Warn("library check failed", zap.String("search_id", out.ID), zap.Error(err))
			continue
		}
		if res.MissingCount > 0 {
			fmt.Printf("  %s: %d taxonomy libraries queued (run `filings-cli library --download`)\n", out.Label, res.MissingCount)
		}
	}
}

func printReport(report *coordinator.BatchReport) {
	for _, out := range report.Outcomes {
		switch {
		case out.Skipped:
			fmt.Printf("  - %s: claimed elsewhere, skipped\n", out.Label)
		case out.Success:
			fmt.Printf("  + %s (%d files)\n", out.Label, out.FileCount)
		default:
			fmt.Printf("  ! %s: Failed at %s: %s\n", out.Label, out.Stage, out.Message)
		}
	}
	fmt.Printf("%d completed, %d failed, %d skipped\n", report.Completed, report.Failed, report.Skipped)
}

// parseSelection interprets a selection line against a 1-based list of n
// items: a single index, a range "a-b", a comma list, "all", or "q".
func parseSelection(line string, n int) (indices []int, quit bool, err error) {
	switch strings.ToLower(line) {
	case "q", "quit", "":
		return nil, true, nil
	case "all":
		for i := 1; i <= n; i++ {
			indices = append(indices, i)
		}
		return indices, false, nil
	}

	seen := make(map[int]bool)
	for _, part := range strings.Split(line, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if from, to, ok := strings.Cut(part, "-"); ok {
			lo, err1 := strconv.Atoi(strings.TrimSpace(from))
			hi, err2 := strconv.Atoi(strings.TrimSpace(to))
			if err1 != nil || err2 != nil || lo > hi {
				return nil, false, eris.Errorf("invalid range %q", part)
			}
			for i := lo; i <= hi; i++ {
				if i < 1 || i > n {
					return nil, false, eris.Errorf("selection %d out of range 1-%d", i, n)
				}
				seen[i] = true
			}
			continue
		}
		idx, convErr := strconv.Atoi(part)
		if convErr != nil {
			return nil, false, eris.Errorf("invalid selection %q", part)
		}
		if idx < 1 || idx > n {
			return nil, false, eris.Errorf("selection %d out of range 1-%d", idx, n)
		}
		seen[idx] = true
	}
	if len(seen) == 0 {
		return nil, true, nil
	}
	for idx := range seen {
		indices = append(indices, idx)
	}
	sort.Ints(indices)
	return indices, false, nil
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-1]) + "…"
}

func init() {
	downloadCmd.Flags().BoolVar(&downloadAll, "all", false, "download every queued filing without prompting")
	rootCmd.AddCommand(downloadCmd)
}
