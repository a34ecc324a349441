package taxonomy

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResultCacheRoundTrip(t *testing.T) {
	cache, err := NewResultCache(filepath.Join(t.TempDir(), "results.db"), time.Hour)
	require.NoError(t, err)
	defer cache.Close()

	ctx := context.Background()

	got, err := cache.Get(ctx, "search-1")
	require.NoError(t, err)
	assert.Nil(t, got)

	want := &CachedResult{AvailableCount: 3, MissingCount: 1, CheckedAt: time.Now().UTC().Truncate(time.Second)}
	require.NoError(t, cache.Set(ctx, "search-1", want))

	got, err = cache.Get(ctx, "search-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 3, got.AvailableCount)
	assert.Equal(t, 1, got.MissingCount)
	assert.True(t, want.CheckedAt.Equal(got.CheckedAt))
}

func TestResultCacheExpiry(t *testing.T) {
	cache, err := NewResultCache(filepath.Join(t.TempDir(), "results.db"), time.Millisecond)
	require.NoError(t, err)
	defer cache.Close()

	ctx := context.Background()
	require.NoError(t, cache.Set(ctx, "search-1", &CachedResult{AvailableCount: 1}))
	time.Sleep(10 * time.Millisecond)

	got, err := cache.Get(ctx, "search-1")
	require.NoError(t, err)
	assert.Nil(t, got)

	removed, err := cache.DeleteExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
}

func TestResultCacheReplace(t *testing.T) {
	cache, err := NewResultCache(filepath.Join(t.TempDir(), "results.db"), time.Hour)
	require.NoError(t, err)
	defer cache.Close()

	ctx := context.Background()
	require.NoError(t, cache.Set(ctx, "search-1", &CachedResult{MissingCount: 2}))
	require.NoError(t, cache.Set(ctx, "search-1", &CachedResult{MissingCount: 0, AvailableCount: 2}))

	got, err := cache.Get(ctx, "search-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 0, got.MissingCount)
	assert.Equal(t, 2, got.AvailableCount)
}
