package taxonomy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/filings-cli/internal/distribution"
	"github.com/sells-group/filings-cli/internal/paths"
	"github.com/sells-group/filings-cli/internal/store"
	"github.com/sells-group/filings-cli/internal/validate"
)

// manualNamePattern splits a dropped file or directory name into taxonomy
// name and version, e.g. "us-gaap-2024.zip" or "ifrs-full-2023-03-23".
var manualNamePattern = regexp.MustCompile(`^(.+?)[-_]((?:19|20)\d{2}(?:-\d{2}-\d{2})?)$`)

// IntakeReport summarizes one manual-download intake pass.
type IntakeReport struct {
	Processed  int
	Skipped    []string // entries whose name did not parse
	Registered []string // "name version" per registered library
}

// ManualIntake picks up operator-dropped taxonomy packages, lands them in
// the canonical library directory, registers them, and archives the drop.
type ManualIntake struct {
	store        store.Store
	paths        *paths.Resolver
	manualDir    string
	processedDir string
	limits       distribution.ArchiveLimits
	log          *zap.Logger
}

// NewManualIntake creates a ManualIntake.
func NewManualIntake(st store.Store, resolver *paths.Resolver, manualDir, processedDir string, limits distribution.ArchiveLimits) *ManualIntake {
	return &ManualIntake{
		store:        st,
		paths:        resolver,
		manualDir:    manualDir,
		processedDir: processedDir,
		limits:       limits,
		log:          zap.L().With(zap.String("component", "taxonomy.manual")),
	}
}

// Setup creates the directory tree the intake and the library coordinator
// expect.
func (m *ManualIntake) Setup() error {
	for _, dir := range []string{m.paths.TaxonomiesRoot(), m.manualDir, m.processedDir, m.paths.TempRoot()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return eris.Wrapf(err, "manual: create %s", dir)
		}
	}
	return nil
}

// Run processes every entry in the manual drop directory. Archives are
// extracted into the library directory; plain directories are moved. Each
// successful entry is registered as completed and the drop archived under
// the processed directory with a timestamp prefix.
func (m *ManualIntake) Run(ctx context.Context) (*IntakeReport, error) {
	entries, err := os.ReadDir(m.manualDir)
	if err != nil {
		if os.IsNotExist(err) {
			return &IntakeReport{}, nil
		}
		return nil, eris.Wrapf(err, "manual: read %s", m.manualDir)
	}

	report := &IntakeReport{}
	for _, entry := range entries {
		name, version, ok := parseManualName(entry.Name())
		if !ok {
			report.Skipped = append(report.Skipped, entry.Name())
			continue
		}
		src := filepath.Join(m.manualDir, entry.Name())
		targetDir := m.paths.Taxonomy(name, version)

		if entry.IsDir() {
			err = moveDir(src, targetDir)
		} else {
			err = m.extractDrop(src, entry.Name(), targetDir)
		}
		if err != nil {
			m.log.Warn("manual drop failed", zap.String("entry", entry.Name()), zap.Error(err))
			report.Skipped = append(report.Skipped, entry.Name())
			continue
		}

		files := validate.CountFiles(targetDir)
		if err := m.store.RegisterLibraryFromDisk(ctx, &store.TaxonomyLibrary{
			TaxonomyName:    name,
			TaxonomyVersion: version,
		}, targetDir, files); err != nil {
			return report, err
		}

		if err := m.archiveDrop(src, entry.Name(), entry.IsDir()); err != nil {
			m.log.Warn("drop archive failed", zap.String("entry", entry.Name()), zap.Error(err))
		}

		report.Processed++
		report.Registered = append(report.Registered, name+" "+version)
		m.log.Info("manual library registered",
			zap.String("name", name),
			zap.String("version", version),
			zap.Int("files", files),
		)
	}
	return report, nil
}

// extractDrop unpacks an archive into a staging directory under the temp
// root and renames it into place once extraction succeeded, so a truncated
// archive never leaves a partial library at the canonical path.
func (m *ManualIntake) extractDrop(src, entryName, targetDir string) error {
	staging := filepath.Join(m.paths.TempRoot(), "manual-"+uuid.NewString())
	limits := m.limits
	limits.CleanupArchive = false
	ext := distribution.ExtractArchive(src, staging, limits)
	if !ext.Success {
		os.RemoveAll(staging) //nolint:errcheck
		return eris.Errorf("manual: extract %s: %s", entryName, ext.ErrorMessage)
	}
	if err := moveDir(staging, targetDir); err != nil {
		os.RemoveAll(staging) //nolint:errcheck
		return err
	}
	return nil
}

// archiveDrop moves a processed drop to {processed}/{timestamp}_{name}.
// Directory drops were already moved into place, so there is nothing left
// to archive for them.
func (m *ManualIntake) archiveDrop(src, name string, isDir bool) error {
	if isDir {
		return nil
	}
	if err := os.MkdirAll(m.processedDir, 0o755); err != nil {
		return err
	}
	dest := filepath.Join(m.processedDir, fmt.Sprintf("%s_%s", time.Now().UTC().Format("20060102T150405"), name))
	return os.Rename(src, dest)
}

func parseManualName(fileName string) (name, version string, ok bool) {
	base := fileName
	for _, suffix := range []string{".zip", ".tar.gz", ".tgz", ".tar.bz2", ".tar.xz", ".tar"} {
		if strings.HasSuffix(strings.ToLower(base), suffix) {
			base = base[:len(base)-len(suffix)]
			break
		}
	}
	m := manualNamePattern.FindStringSubmatch(base)
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}

func moveDir(src, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	if _, err := os.Stat(dest); err == nil {
		return eris.Errorf("manual: %s already exists", dest)
	}
	return os.Rename(src, dest)
}

// ScanDisk walks the taxonomy root and registers every populated
// {name}/{version} directory that holds more than minFiles files. Returns
// the number of libraries registered.
func ScanDisk(ctx context.Context, st store.Store, resolver *paths.Resolver, minFiles int) (int, error) {
	names, err := os.ReadDir(resolver.TaxonomiesRoot())
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, eris.Wrap(err, "taxonomy: read taxonomies root")
	}

	registered := 0
	for _, nameEntry := range names {
		if !nameEntry.IsDir() {
			continue
		}
		versions, err := os.ReadDir(filepath.Join(resolver.TaxonomiesRoot(), nameEntry.Name()))
		if err != nil {
			continue
		}
		for _, versionEntry := range versions {
			if !versionEntry.IsDir() {
				continue
			}
			dir := resolver.Taxonomy(nameEntry.Name(), versionEntry.Name())
			files := validate.CountFiles(dir)
			if files <= minFiles {
				continue
			}
			if err := st.RegisterLibraryFromDisk(ctx, &store.TaxonomyLibrary{
				TaxonomyName:    nameEntry.Name(),
				TaxonomyVersion: versionEntry.Name(),
			}, dir, files); err != nil {
				return registered, err
			}
			registered++
		}
	}
	return registered, nil
}
