package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/filings-cli/internal/store"
	"github.com/sells-group/filings-cli/internal/taxonomy"
)

var libraryFlags struct {
	scan        bool
	monitor     bool
	list        bool
	listPending bool
	stats       bool
	manual      bool
	download    bool
	setup       bool
}

var libraryCmd = &cobra.Command{
	Use:   "library",
	Short: "Manage the taxonomy library catalog",
	Long:  "Scans, downloads, and monitors taxonomy libraries; surfaces libraries that need a manual download.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		f := libraryFlags

		if !f.scan && !f.monitor && !f.list && !f.listPending && !f.stats && !f.manual && !f.download && !f.setup {
			return eris.New("no action: pass one of --scan, --monitor, --list, --list-pending, --stats, --manual, --download, --setup")
		}

		resolver := initPaths()
		if f.setup {
			intake := taxonomy.NewManualIntake(nil, resolver, cfg.Paths.ManualDownloads, cfg.Paths.ManualProcessed, archiveLimits())
			if err := intake.Setup(); err != nil {
				return err
			}
			fmt.Println("directory tree created")
			if !f.scan && !f.monitor && !f.list && !f.listPending && !f.stats && !f.manual && !f.download {
				return nil
			}
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if f.scan {
			intake := taxonomy.NewManualIntake(st, resolver, cfg.Paths.ManualDownloads, cfg.Paths.ManualProcessed, archiveLimits())
			report, err := intake.Run(ctx)
			if err != nil {
				return err
			}
			registered, err := taxonomy.ScanDisk(ctx, st, resolver, cfg.Library.MinFilesThreshold)
			if err != nil {
				return err
			}
			fmt.Printf("scan: %d manual drops processed, %d libraries registered from disk\n",
				report.Processed, registered)
			for _, skipped := range report.Skipped {
				fmt.Printf("  skipped: %s\n", skipped)
			}
		}

		if f.download {
			pending, err := st.ListLibraries(ctx, store.StatusPending)
			if err != nil {
				return err
			}
			if len(pending) == 0 {
				fmt.Println("no pending libraries")
			} else {
				client := initClient()
				defer client.Close()
				report := initCoordinator(st, client, resolver).RunLibraries(ctx, pending)
				printReport(report)
				if report.Failed > 0 {
					return eris.Errorf("%d library downloads failed", report.Failed)
				}
			}
		}

		if f.list {
			if err := printLibraries(cmd, st, store.StatusCompleted, store.StatusFailed, store.StatusPending); err != nil {
				return err
			}
		}
		if f.listPending {
			if err := printLibraries(cmd, st, store.StatusPending); err != nil {
				return err
			}
		}

		if f.stats {
			stats, err := st.GetLibraryStats(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("libraries: %d total (%d completed, %d pending, %d failed), %d files on disk\n",
				stats.Total, stats.Completed, stats.Pending, stats.Failed, stats.TotalFiles)
		}

		if f.manual {
			report, err := manualReport(cmd, st)
			if err != nil {
				return err
			}
			fmt.Print(report)
		}

		if f.monitor {
			monitor := taxonomy.NewMonitor(st, cfg.Library.MaxTotalAttempts, cfg.Library.MaxDownloadAttempts)
			zap.L().Info("retry monitor started",
				zap.Duration("interval", cfg.Library.MonitorInterval()))
			if err := monitor.Run(ctx, cfg.Library.MonitorInterval()); err != nil && ctx.Err() == nil {
				return err
			}
		}

		return nil
	},
}

func printLibraries(cmd *cobra.Command, st store.Store, statuses ...store.DownloadStatus) error {
	total := 0
	for _, status := range statuses {
		libs, err := st.ListLibraries(cmd.Context(), status)
		if err != nil {
			return err
		}
		for _, lib := range libs {
			files := 0
			if lib.TotalFiles != nil {
				files = *lib.TotalFiles
			}
			fmt.Printf("  [%-9s] %-20s %-12s %6d files  %s\n",
				lib.DownloadStatus, lib.TaxonomyName, lib.TaxonomyVersion, files, lib.CurrentURL)
		}
		total += len(libs)
	}
	if total == 0 {
		fmt.Println("no libraries")
	}
	return nil
}

// manualReport renders the terminally failed libraries, the ones the retry
// monitor has given up on.
func manualReport(cmd *cobra.Command, st store.Store) (string, error) {
	failed, err := st.ListLibraries(cmd.Context(), store.StatusFailed)
	if err != nil {
		return "", err
	}
	var items []taxonomy.ManualItem
	for _, lib := range failed {
		if lib.TotalAttempts < cfg.Library.MaxTotalAttempts {
			continue
		}
		urls := append([]string{}, lib.AlternativeURLsTried...)
		if lib.CurrentURL != "" {
			urls = append(urls, lib.CurrentURL)
		}
		items = append(items, taxonomy.ManualItem{
			Library:   lib,
			URLsTried: urls,
			Why:       fmt.Sprintf("exhausted after %d attempts (%s)", lib.TotalAttempts, lib.FailureReason),
		})
	}
	return taxonomy.FormatManualReport(items), nil
}

func init() {
	libraryCmd.Flags().BoolVar(&libraryFlags.scan, "scan", false, "process manual drops and register on-disk libraries")
	libraryCmd.Flags().BoolVar(&libraryFlags.monitor, "monitor", false, "run the retry monitor loop")
	libraryCmd.Flags().BoolVar(&libraryFlags.list, "list", false, "list all libraries")
	libraryCmd.Flags().BoolVar(&libraryFlags.listPending, "list-pending", false, "list pending libraries")
	libraryCmd.Flags().BoolVar(&libraryFlags.stats, "stats", false, "print catalog statistics")
	libraryCmd.Flags().BoolVar(&libraryFlags.manual, "manual", false, "print the manual download report")
	libraryCmd.Flags().BoolVar(&libraryFlags.download, "download", false, "download pending libraries")
	libraryCmd.Flags().BoolVar(&libraryFlags.setup, "setup", false, "create the directory tree")
	rootCmd.AddCommand(libraryCmd)
}
