package taxonomy

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Coordinator runs the per-filing library flow: read the parsed descriptor,
// resolve namespaces to requirements, dual-verify, and enqueue whatever is
// missing. Results are cached per search with a TTL.
type Coordinator struct {
	resolver *Resolver
	checker  *Checker
	cache    *ResultCache
	log      *zap.Logger
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(resolver *Resolver, checker *Checker, cache *ResultCache) *Coordinator {
	return &Coordinator{
		resolver: resolver,
		checker:  checker,
		cache:    cache,
		log:      zap.L().With(zap.String("component", "taxonomy.coordinator")),
	}
}

// ProcessFiling checks the library requirements of one downloaded filing.
// searchID keys the cache and the required_by backlink; downloadDir is the
// filing's extraction directory holding parsed.json.
func (c *Coordinator) ProcessFiling(ctx context.Context, searchID, downloadDir string) (*CachedResult, error) {
	if c.cache != nil {
		cached, err := c.cache.Get(ctx, searchID)
		if err != nil {
			return nil, err
		}
		if cached != nil {
			c.log.Debug("library check cache hit", zap.String("search_id", searchID))
			return cached, nil
		}
	}

	descriptorPath, err := FindParsedDescriptor(downloadDir)
	if err != nil {
		return nil, err
	}
	namespaces, err := ReadNamespaces(descriptorPath)
	if err != nil {
		return nil, err
	}

	reqs := c.resolver.Resolve(namespaces)
	report, err := c.checker.Check(ctx, reqs, searchID)
	if err != nil {
		return nil, err
	}

	res := &CachedResult{
		AvailableCount: report.AvailableCount,
		MissingCount:   report.MissingCount,
		CheckedAt:      time.Now().UTC(),
	}
	if c.cache != nil {
		if err := c.cache.Set(ctx, searchID, res); err != nil {
			return nil, err
		}
	}

	c.log.Info("library check complete",
		zap.String("search_id", searchID),
		zap.Int("available", res.AvailableCount),
		zap.Int("missing", res.MissingCount),
	)
	return res, nil
}
