package coordinator

import (
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

// ReapTemp removes entries under tempRoot older than maxAge. Failed
// downloads park their temp files there for post-mortem; this is the
// age-based cleanup that eventually reclaims them.
func ReapTemp(tempRoot string, maxAge time.Duration) int {
	entries, err := os.ReadDir(tempRoot)
	if err != nil {
		return 0
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(tempRoot, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			zap.L().Warn("temp reap failed", zap.String("path", path), zap.Error(err))
			continue
		}
		removed++
	}
	if removed > 0 {
		zap.L().Debug("temp files reaped", zap.Int("count", removed))
	}
	return removed
}
