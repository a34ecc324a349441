package distribution

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeZip(t *testing.T, dir string, members map[string]string) string {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range members {
		f, err := w.Create(name)
		require.NoError(t, err)
		_, err = f.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	path := filepath.Join(dir, "test.zip")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func writeTarGz(t *testing.T, dir string, members map[string]string) string {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for name, content := range members {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name:     name,
			Mode:     0o644,
			Size:     int64(len(content)),
			Typeflag: tar.TypeReg,
		}))
		_, err := tw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())

	path := filepath.Join(dir, "test.tar.gz")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func countExtracted(t *testing.T, dir string) int {
	t.Helper()
	n := 0
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		if !e.IsDir() {
			n++
			continue
		}
		n += countExtracted(t, filepath.Join(dir, e.Name()))
	}
	return n
}

func TestExtractZip(t *testing.T) {
	dir := t.TempDir()
	archive := writeZip(t, dir, map[string]string{
		"report.xhtml":     "<html/>",
		"meta/parsed.json": "{}",
	})
	target := filepath.Join(dir, "out")

	res := ExtractArchive(archive, target, ArchiveLimits{MaxExtractionDepth: 10, CleanupArchive: true})
	require.True(t, res.Success)
	assert.Equal(t, 2, res.FilesExtracted)
	assert.FileExists(t, filepath.Join(target, "report.xhtml"))
	assert.FileExists(t, filepath.Join(target, "meta", "parsed.json"))
	assert.NoFileExists(t, archive, "archive should be deleted after extraction")
}

func TestExtractZipRejectsTraversal(t *testing.T) {
	dir := t.TempDir()
	archive := writeZip(t, dir, map[string]string{
		"ok.txt":            "fine",
		"../escape/bad.txt": "evil",
	})
	target := filepath.Join(dir, "out")

	res := ExtractArchive(archive, target, ArchiveLimits{})
	require.False(t, res.Success)
	assert.Equal(t, ReasonUnsafePaths, res.Reason)
	assert.Equal(t, 0, countExtracted(t, target), "no member may be written")
	assert.NoFileExists(t, filepath.Join(dir, "escape", "bad.txt"))
}

func TestExtractZipRejectsOversize(t *testing.T) {
	dir := t.TempDir()
	archive := writeZip(t, dir, map[string]string{
		"a.txt": "0123456789",
		"b.txt": "0123456789",
	})
	target := filepath.Join(dir, "out")

	res := ExtractArchive(archive, target, ArchiveLimits{MaxArchiveSize: 15})
	require.False(t, res.Success)
	assert.Equal(t, ReasonSizeExceeded, res.Reason)
	assert.Equal(t, 0, countExtracted(t, target))
}

func TestExtractZipRejectsDeclaredSizeOverflow(t *testing.T) {
	dir := t.TempDir()

	// Raw headers let a hostile member declare sizes we never pay for.
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for _, name := range []string{"a.bin", "b.bin"} {
		_, err := w.CreateRaw(&zip.FileHeader{
			Name:               name,
			Method:             zip.Store,
			UncompressedSize64: 1 << 63,
			CompressedSize64:   0,
		})
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	archive := filepath.Join(dir, "bomb.zip")
	require.NoError(t, os.WriteFile(archive, buf.Bytes(), 0o644))
	target := filepath.Join(dir, "out")

	res := ExtractArchive(archive, target, ArchiveLimits{MaxArchiveSize: 100})
	require.False(t, res.Success)
	assert.Equal(t, ReasonSizeExceeded, res.Reason)
	assert.Equal(t, 0, countExtracted(t, target))
}

func TestExtractTarGzRejectsOversize(t *testing.T) {
	dir := t.TempDir()
	archive := writeTarGz(t, dir, map[string]string{
		"a.txt": "0123456789",
		"b.txt": "0123456789",
	})
	target := filepath.Join(dir, "out")

	res := ExtractArchive(archive, target, ArchiveLimits{MaxArchiveSize: 15})
	require.False(t, res.Success)
	assert.Equal(t, ReasonSizeExceeded, res.Reason)
	assert.Equal(t, 0, countExtracted(t, target))
}

func TestExtractZipRejectsDepth(t *testing.T) {
	dir := t.TempDir()
	archive := writeZip(t, dir, map[string]string{
		"a/b/c/d/e.txt": "deep",
	})
	target := filepath.Join(dir, "out")

	res := ExtractArchive(archive, target, ArchiveLimits{MaxExtractionDepth: 3})
	require.False(t, res.Success)
	assert.Equal(t, ReasonDepthExceeded, res.Reason)
	assert.Equal(t, 0, countExtracted(t, target))
}

func TestExtractTarGz(t *testing.T) {
	dir := t.TempDir()
	archive := writeTarGz(t, dir, map[string]string{
		"report.xhtml": "<html/>",
		"tax/a.xsd":    "<schema/>",
	})
	target := filepath.Join(dir, "out")

	res := ExtractArchive(archive, target, ArchiveLimits{MaxExtractionDepth: 10})
	require.True(t, res.Success)
	assert.Equal(t, 2, res.FilesExtracted)
	assert.FileExists(t, filepath.Join(target, "tax", "a.xsd"))
}

func TestExtractTarRejectsTraversalBeforeWriting(t *testing.T) {
	dir := t.TempDir()
	archive := writeTarGz(t, dir, map[string]string{
		"ok.txt":        "fine",
		"../escape.txt": "evil",
	})
	target := filepath.Join(dir, "out")

	res := ExtractArchive(archive, target, ArchiveLimits{})
	require.False(t, res.Success)
	assert.Equal(t, ReasonUnsafePaths, res.Reason)
	assert.Equal(t, 0, countExtracted(t, target), "safety pass must run before any write")
}

func TestExtractUnsupportedFormat(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.rar")
	require.NoError(t, os.WriteFile(path, []byte("rar"), 0o644))

	res := ExtractArchive(path, filepath.Join(dir, "out"), ArchiveLimits{})
	require.False(t, res.Success)
	assert.Equal(t, ReasonUnsupportedFormat, res.Reason)
}

func TestPathDepth(t *testing.T) {
	assert.Equal(t, 1, pathDepth("a.txt"))
	assert.Equal(t, 3, pathDepth("a/b/c.txt"))
	assert.Equal(t, 2, pathDepth("./a/b/"))
	assert.Equal(t, 0, pathDepth("."))
}
