package main

import (
	"context"
	"path/filepath"
	"time"

	"github.com/sells-group/filings-cli/internal/coordinator"
	"github.com/sells-group/filings-cli/internal/distribution"
	"github.com/sells-group/filings-cli/internal/fetcher"
	"github.com/sells-group/filings-cli/internal/paths"
	"github.com/sells-group/filings-cli/internal/resilience"
	"github.com/sells-group/filings-cli/internal/store"
)

func initStore(ctx context.Context) (store.Store, error) {
	return store.NewPostgres(ctx, cfg.DB.ConnString(), &store.PoolConfig{
		MaxConns: cfg.DB.PoolMaxConns,
		MinConns: cfg.DB.PoolMinConns,
	})
}

func initClient() fetcher.Client {
	return fetcher.NewHTTPClient(fetcher.Options{
		Credentials: fetcher.Credentials{
			SECUserAgent:  cfg.SEC.UserAgent,
			UKCHAPIKey:    cfg.UKCH.APIKey,
			UKCHUserAgent: cfg.UKCH.UserAgent,
		},
		Timeout:        cfg.HTTP.RequestTimeout(),
		ConnectTimeout: cfg.HTTP.ConnectTimeout(),
		Retry: resilience.RetryConfig{
			// retry.attempts counts retries after the first try;
			// MaxAttempts counts every try.
			MaxAttempts:    cfg.Retry.Attempts + 1,
			InitialBackoff: cfg.Retry.Delay(),
			MaxBackoff:     cfg.Retry.MaxDelay(),
		},
		ChunkSize:    cfg.Download.ChunkSize,
		EnableResume: cfg.Download.EnableResume,
	})
}

func initPaths() *paths.Resolver {
	return paths.NewResolver(cfg.Paths.Entities, cfg.Paths.Taxonomies, cfg.Paths.Temp)
}

func initProcessor(client fetcher.Client, resolver *paths.Resolver) *distribution.Processor {
	return distribution.NewProcessor(client, distribution.ProcessorConfig{
		TempDir:            resolver.TempRoot(),
		MaxArchiveSize:     cfg.Safety.MaxArchiveSize,
		MaxExtractionDepth: cfg.Safety.MaxExtractionDepth,
		XSDMaxImportDepth:  cfg.Library.XSDMaxImportDepth,
		DirectoryMaxDepth:  cfg.Library.DirectoryMaxDepth,
	})
}

func initCoordinator(st store.Store, client fetcher.Client, resolver *paths.Resolver) *coordinator.Coordinator {
	return coordinator.New(st, initProcessor(client, resolver), resolver, coordinator.Options{
		MaxConcurrent: cfg.Download.MaxConcurrent,
		MinFiles:      cfg.Library.MinFilesThreshold,
		TempMaxAge:    cfg.Download.TempMaxAge(),
	})
}

func archiveLimits() distribution.ArchiveLimits {
	return distribution.ArchiveLimits{
		MaxArchiveSize:     cfg.Safety.MaxArchiveSize,
		MaxExtractionDepth: cfg.Safety.MaxExtractionDepth,
	}
}

func tickerCachePath() string {
	return filepath.Join(cfg.Paths.Cache, "sec_tickers.db")
}

func resultCachePath() string {
	return filepath.Join(cfg.Paths.Cache, "library_results.db")
}

const tickerCacheTTL = 24 * time.Hour
