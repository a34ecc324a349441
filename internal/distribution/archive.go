package distribution

import (
	"archive/tar"
	"archive/zip"
	"compress/bzip2"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/ulikunitz/xz"
)

// ArchiveKind enumerates the supported archive formats.
type ArchiveKind int

const (
	KindUnknown ArchiveKind = iota
	KindZip
	KindTar
	KindTarGz
	KindTarBz2
	KindTarXz
)

// KindOf dispatches an archive format by filename suffix.
func KindOf(name string) ArchiveKind {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".zip"):
		return KindZip
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		return KindTarGz
	case strings.HasSuffix(lower, ".tar.bz2"):
		return KindTarBz2
	case strings.HasSuffix(lower, ".tar.xz"):
		return KindTarXz
	case strings.HasSuffix(lower, ".tar"):
		return KindTar
	default:
		return KindUnknown
	}
}

// ArchiveLimits bounds extraction.
type ArchiveLimits struct {
	MaxArchiveSize     int64 // sum of declared uncompressed sizes
	MaxExtractionDepth int   // path components per member
	CleanupArchive     bool  // delete the source archive on success
}

// ExtractArchive extracts archivePath into targetDir, enforcing the
// traversal, depth, and size guards before any member is written. Failures
// come back as a structured result, never a panic.
func ExtractArchive(archivePath, targetDir string, limits ArchiveLimits) *ExtractionResult {
	kind := KindOf(archivePath)
	if kind == KindUnknown {
		return &ExtractionResult{
			Success:      false,
			Reason:       ReasonUnsupportedFormat,
			ErrorMessage: fmt.Sprintf("unsupported archive format: %s", filepath.Base(archivePath)),
		}
	}

	if err := os.MkdirAll(targetDir, 0o755); err != nil {
		return &ExtractionResult{Success: false, Reason: ReasonIO, ErrorMessage: err.Error()}
	}

	var res *ExtractionResult
	if kind == KindZip {
		res = extractZip(archivePath, targetDir, limits)
	} else {
		res = extractTar(archivePath, targetDir, kind, limits)
	}

	if res.Success && limits.CleanupArchive {
		_ = os.Remove(archivePath)
	}
	return res
}

func extractZip(archivePath, targetDir string, limits ArchiveLimits) *ExtractionResult {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return &ExtractionResult{Success: false, Reason: ReasonBadArchive, ErrorMessage: err.Error()}
	}
	defer r.Close() //nolint:errcheck

	// Safety pass over the member table before writing anything. Declared
	// sizes accumulate in uint64; a sum that wraps is treated as exceeding
	// any limit.
	var declared uint64
	for _, f := range r.File {
		if !pathInside(targetDir, f.Name) {
			return &ExtractionResult{
				Success:      false,
				Reason:       ReasonUnsafePaths,
				ErrorMessage: fmt.Sprintf("member path escapes target: %s", f.Name),
			}
		}
		if depth := pathDepth(f.Name); limits.MaxExtractionDepth > 0 && depth > limits.MaxExtractionDepth {
			return &ExtractionResult{
				Success:      false,
				Reason:       ReasonDepthExceeded,
				ErrorMessage: fmt.Sprintf("member depth %d exceeds limit: %s", depth, f.Name),
			}
		}
		if res := addDeclaredSize(&declared, f.UncompressedSize64, limits.MaxArchiveSize); res != nil {
			return res
		}
	}

	res := &ExtractionResult{Success: true}
	for _, f := range r.File {
		dest := filepath.Join(targetDir, filepath.FromSlash(f.Name))
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(dest, 0o755); err != nil {
				return &ExtractionResult{Success: false, Reason: ReasonIO, ErrorMessage: err.Error()}
			}
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return &ExtractionResult{Success: false, Reason: ReasonBadArchive, ErrorMessage: err.Error()}
		}
		err = writeMember(dest, rc)
		_ = rc.Close()
		if err != nil {
			return &ExtractionResult{Success: false, Reason: ReasonIO, ErrorMessage: err.Error()}
		}
		res.Files = append(res.Files, dest)
		res.FilesExtracted++
	}
	return res
}

// openTarStream opens the archive and wraps it in the matching decompressor.
// closeFn releases the underlying file.
func openTarStream(archivePath string, kind ArchiveKind) (io.Reader, func(), error) {
	file, err := os.Open(archivePath)
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() { _ = file.Close() }

	switch kind {
	case KindTarGz:
		gz, err := gzip.NewReader(file)
		if err != nil {
			closeFn()
			return nil, nil, err
		}
		return gz, func() { _ = gz.Close(); _ = file.Close() }, nil
	case KindTarBz2:
		return bzip2.NewReader(file), closeFn, nil
	case KindTarXz:
		xzr, err := xz.NewReader(file)
		if err != nil {
			closeFn()
			return nil, nil, err
		}
		return xzr, closeFn, nil
	default:
		return file, closeFn, nil
	}
}

func extractTar(archivePath, targetDir string, kind ArchiveKind, limits ArchiveLimits) *ExtractionResult {
	// First pass walks headers only, so nothing is written for an archive
	// that violates any guard.
	if res := tarSafetyPass(archivePath, targetDir, kind, limits); res != nil {
		return res
	}

	stream, closeFn, err := openTarStream(archivePath, kind)
	if err != nil {
		return &ExtractionResult{Success: false, Reason: ReasonBadArchive, ErrorMessage: err.Error()}
	}
	defer closeFn()

	tr := tar.NewReader(stream)
	res := &ExtractionResult{Success: true}
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return &ExtractionResult{Success: false, Reason: ReasonBadArchive, ErrorMessage: err.Error()}
		}

		dest := filepath.Join(targetDir, filepath.FromSlash(hdr.Name))
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(dest, 0o755); err != nil {
				return &ExtractionResult{Success: false, Reason: ReasonIO, ErrorMessage: err.Error()}
			}
		case tar.TypeReg:
			if err := writeMember(dest, tr); err != nil {
				return &ExtractionResult{Success: false, Reason: ReasonIO, ErrorMessage: err.Error()}
			}
			res.Files = append(res.Files, dest)
			res.FilesExtracted++
		default:
			// Symlinks and special files are not extracted.
		}
	}

	return res
}

// tarSafetyPass returns a failure result if any member violates the guards,
// or nil when the archive is safe to extract.
func tarSafetyPass(archivePath, targetDir string, kind ArchiveKind, limits ArchiveLimits) *ExtractionResult {
	stream, closeFn, err := openTarStream(archivePath, kind)
	if err != nil {
		return &ExtractionResult{Success: false, Reason: ReasonBadArchive, ErrorMessage: err.Error()}
	}
	defer closeFn()

	tr := tar.NewReader(stream)
	var declared uint64
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return &ExtractionResult{Success: false, Reason: ReasonBadArchive, ErrorMessage: err.Error()}
		}

		if !pathInside(targetDir, hdr.Name) {
			return &ExtractionResult{
				Success:      false,
				Reason:       ReasonUnsafePaths,
				ErrorMessage: fmt.Sprintf("member path escapes target: %s", hdr.Name),
			}
		}
		if depth := pathDepth(hdr.Name); limits.MaxExtractionDepth > 0 && depth > limits.MaxExtractionDepth {
			return &ExtractionResult{
				Success:      false,
				Reason:       ReasonDepthExceeded,
				ErrorMessage: fmt.Sprintf("member depth %d exceeds limit: %s", depth, hdr.Name),
			}
		}
		if hdr.Size < 0 {
			return &ExtractionResult{
				Success:      false,
				Reason:       ReasonBadArchive,
				ErrorMessage: fmt.Sprintf("negative declared size for member %s", hdr.Name),
			}
		}
		if res := addDeclaredSize(&declared, uint64(hdr.Size), limits.MaxArchiveSize); res != nil {
			return res
		}
	}
}

// addDeclaredSize accumulates a member's declared size and enforces the
// archive size limit. A sum that wraps uint64 is rejected outright.
func addDeclaredSize(declared *uint64, size uint64, maxArchiveSize int64) *ExtractionResult {
	sum := *declared + size
	if sum < *declared {
		return &ExtractionResult{
			Success:      false,
			Reason:       ReasonSizeExceeded,
			ErrorMessage: "declared sizes overflow",
		}
	}
	*declared = sum
	if maxArchiveSize > 0 && sum > uint64(maxArchiveSize) {
		return &ExtractionResult{
			Success:      false,
			Reason:       ReasonSizeExceeded,
			ErrorMessage: fmt.Sprintf("declared size %d exceeds limit %d", sum, maxArchiveSize),
		}
	}
	return nil
}

// pathInside reports whether member, resolved against targetDir, stays
// lexically inside it. An explicit predicate, not an exception probe.
func pathInside(targetDir, member string) bool {
	dest := filepath.Join(targetDir, filepath.FromSlash(member))
	cleanTarget := filepath.Clean(targetDir)
	return dest == cleanTarget || strings.HasPrefix(dest, cleanTarget+string(os.PathSeparator))
}

// pathDepth counts the path components of a member name.
func pathDepth(member string) int {
	clean := strings.Trim(filepath.ToSlash(filepath.Clean(member)), "/")
	if clean == "" || clean == "." {
		return 0
	}
	return len(strings.Split(clean, "/"))
}

func writeMember(dest string, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return eris.Wrap(err, "archive: create parent directory")
	}
	out, err := os.Create(dest)
	if err != nil {
		return eris.Wrap(err, "archive: create file")
	}
	defer out.Close() //nolint:errcheck
	if _, err := io.Copy(out, r); err != nil {
		return eris.Wrap(err, "archive: write file")
	}
	return nil
}
