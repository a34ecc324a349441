// Package validate holds the pre-download URL checks and the post-extraction
// directory contract.
package validate

import (
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

// Result reports the outcome of a directory validation.
type Result struct {
	Valid     bool
	FileCount int
	Reason    string
}

// URL checks that a candidate download URL is well-formed http(s).
func URL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return eris.Wrapf(err, "validate: parse url %q", rawURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return eris.Errorf("validate: unsupported scheme %q in %q", u.Scheme, rawURL)
	}
	if u.Host == "" {
		return eris.Errorf("validate: missing host in %q", rawURL)
	}
	if strings.ContainsAny(rawURL, " \t\n") {
		return eris.Errorf("validate: whitespace in url %q", rawURL)
	}
	return nil
}

// CountFiles walks dir recursively and counts regular files. Walk errors on
// individual entries are treated as missing entries, not failures.
func CountFiles(dir string) int {
	count := 0
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.Type().IsRegular() {
			count++
		}
		return nil
	})
	return count
}

// Extraction verifies the post-extraction directory contract: the target
// exists, is a directory, is readable and listable, and holds at least
// expectedMinFiles regular files.
func Extraction(dir string, expectedMinFiles int) Result {
	if expectedMinFiles <= 0 {
		expectedMinFiles = 1
	}

	info, err := os.Stat(dir)
	if err != nil {
		return Result{Valid: false, Reason: "directory does not exist"}
	}
	if !info.IsDir() {
		return Result{Valid: false, Reason: "target is not a directory"}
	}

	// Readability and listability.
	if _, err := os.ReadDir(dir); err != nil {
		return Result{Valid: false, Reason: "directory not readable"}
	}

	count := CountFiles(dir)
	if count < expectedMinFiles {
		return Result{Valid: false, FileCount: count, Reason: "too few files"}
	}

	return Result{Valid: true, FileCount: count}
}

// Recheck re-stats the directory after validation. A vanished directory or a
// zero file count indicates a race with concurrent cleanup.
func Recheck(dir string) Result {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return Result{Valid: false, Reason: "directory vanished"}
	}
	count := CountFiles(dir)
	if count == 0 {
		return Result{Valid: false, FileCount: 0, Reason: "directory empty on recheck"}
	}
	return Result{Valid: true, FileCount: count}
}
