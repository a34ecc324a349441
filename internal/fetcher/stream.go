package fetcher

import (
	"io"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
)

// existingSize returns the size of the file at path, or 0 when absent.
func existingSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return 0
	}
	return info.Size()
}

// streamToFile writes body to path in chunkSize pieces. An offset > 0 appends
// to an existing partial file; offset 0 truncates. The file handle is released
// on every exit path.
func streamToFile(body io.Reader, path string, offset int64, chunkSize int) (*StreamStats, error) {
	if chunkSize <= 0 {
		chunkSize = 8192
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, eris.Wrap(err, "fetcher: create parent directory")
	}

	flags := os.O_CREATE | os.O_WRONLY
	if offset > 0 {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}

	file, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, eris.Wrap(err, "fetcher: open destination")
	}
	defer file.Close() //nolint:errcheck

	stats := &StreamStats{}
	buf := make([]byte, chunkSize)
	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			if _, writeErr := file.Write(buf[:n]); writeErr != nil {
				return stats, eris.Wrap(writeErr, "fetcher: write chunk")
			}
			stats.BytesWritten += int64(n)
			stats.ChunksWritten++
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return stats, eris.Wrap(readErr, "fetcher: read body")
		}
	}

	if err := file.Sync(); err != nil {
		return stats, eris.Wrap(err, "fetcher: sync destination")
	}
	return stats, nil
}
