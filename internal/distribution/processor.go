package distribution

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/filings-cli/internal/fetcher"
)

// ProcessorConfig carries the bounds every handler runs under.
type ProcessorConfig struct {
	TempDir            string
	MaxArchiveSize     int64
	MaxExtractionDepth int
	XSDMaxImportDepth  int
	DirectoryMaxDepth  int
}

// Processor detects what a filing URL points at and routes it to the
// matching handler, landing the payload in a target directory.
type Processor struct {
	client   fetcher.Client
	detector *Detector
	xsd      *XSDHandler
	dir      *DirectoryHandler
	cfg      ProcessorConfig
	log      *zap.Logger
}

// NewProcessor creates a Processor.
func NewProcessor(client fetcher.Client, cfg ProcessorConfig) *Processor {
	return &Processor{
		client:   client,
		detector: NewDetector(client),
		xsd:      NewXSDHandler(client, cfg.XSDMaxImportDepth),
		dir:      NewDirectoryHandler(client, cfg.DirectoryMaxDepth),
		cfg:      cfg,
		log:      zap.L().With(zap.String("component", "distribution.processor")),
	}
}

// Process acquires the filing at rawURL into targetDir. The result always
// carries the detection; download and extraction sub-results are attached
// for the stages that ran.
func (p *Processor) Process(ctx context.Context, rawURL, targetDir string) *ProcessingResult {
	det := p.detector.Detect(ctx, rawURL)
	if !det.Exists {
		res := failed(StageDetection, fmt.Sprintf("no resolvable distribution at %s (probed %d alternatives)", rawURL, len(det.Alternatives)))
		res.Detection = det
		return res
	}

	p.log.Debug("distribution detected",
		zap.String("url", det.URL),
		zap.String("type", string(det.Type)),
	)

	var res *ProcessingResult
	switch det.Type {
	case TypeArchive:
		res = p.processArchive(ctx, det.URL, targetDir)
	case TypeXSD:
		res = p.processXSD(ctx, det.URL, targetDir)
	case TypeDirectory:
		res = p.processDirectory(ctx, det.URL, targetDir)
	case TypeIXBRL:
		res = p.processIXBRL(ctx, det.URL, targetDir)
	default:
		// Unknown types get one single-file attempt before giving up.
		res = p.processIXBRL(ctx, det.URL, targetDir)
	}
	res.Detection = det
	return res
}

func (p *Processor) processArchive(ctx context.Context, rawURL, targetDir string) *ProcessingResult {
	if err := os.MkdirAll(p.cfg.TempDir, 0o755); err != nil {
		return failed(StageDownload, err.Error())
	}
	tmp, err := os.CreateTemp(p.cfg.TempDir, "archive-*"+archiveSuffix(rawURL))
	if err != nil {
		return failed(StageDownload, err.Error())
	}
	tmpPath := tmp.Name()
	_ = tmp.Close()

	stats, err := p.client.DownloadToFile(ctx, rawURL, tmpPath)
	if err != nil {
		_ = os.Remove(tmpPath)
		res := failed(StageDownload, err.Error())
		res.Download = &DownloadResult{Success: false, TempPath: tmpPath, ErrorMessage: err.Error()}
		return res
	}
	dl := &DownloadResult{
		Success:       true,
		TempPath:      tmpPath,
		BytesWritten:  stats.BytesWritten,
		ChunksWritten: stats.ChunksWritten,
	}

	ext := ExtractArchive(tmpPath, targetDir, ArchiveLimits{
		MaxArchiveSize:     p.cfg.MaxArchiveSize,
		MaxExtractionDepth: p.cfg.MaxExtractionDepth,
		CleanupArchive:     true,
	})
	if !ext.Success {
		_ = os.Remove(tmpPath)
		res := failed(StageExtraction, extractionMessage(ext))
		res.Download = dl
		res.Extraction = ext
		return res
	}
	return &ProcessingResult{Success: true, Download: dl, Extraction: ext}
}

func (p *Processor) processXSD(ctx context.Context, rawURL, targetDir string) *ProcessingResult {
	ext := p.xsd.Download(ctx, rawURL, targetDir)
	if !ext.Success {
		res := failed(StageXSDDownload, extractionMessage(ext))
		res.Extraction = ext
		return res
	}
	return &ProcessingResult{Success: true, Extraction: ext}
}

func (p *Processor) processDirectory(ctx context.Context, rawURL, targetDir string) *ProcessingResult {
	ext := p.dir.Mirror(ctx, rawURL, targetDir)
	if !ext.Success {
		res := failed(StageDirectoryMirror, extractionMessage(ext))
		res.Extraction = ext
		return res
	}
	return &ProcessingResult{Success: true, Extraction: ext}
}

// processIXBRL lands a single report document. Companies House URLs walk
// the format ladder; everything else is a plain download.
func (p *Processor) processIXBRL(ctx context.Context, rawURL, targetDir string) *ProcessingResult {
	if err := os.MkdirAll(targetDir, 0o755); err != nil {
		return failed(StageIXBRLDownload, err.Error())
	}

	var (
		stats  *fetcher.StreamStats
		err    error
		format string
	)
	if fetcher.IsCompaniesHouseHost(fetcher.HostOf(rawURL)) {
		tmpDest := filepath.Join(targetDir, ".download")
		stats, err = p.client.DownloadNegotiated(ctx, rawURL, tmpDest, fetcher.CompaniesHouseAcceptLadder())
		if err == nil {
			format = stats.Format
			final := filepath.Join(targetDir, documentName(rawURL, format))
			if renameErr := os.Rename(tmpDest, final); renameErr != nil {
				err = renameErr
			} else {
				return ixbrlSuccess(stats, final, format)
			}
		}
		_ = os.Remove(tmpDest)
	} else {
		dest := filepath.Join(targetDir, documentName(rawURL, ""))
		stats, err = p.client.DownloadToFile(ctx, rawURL, dest)
		if err == nil {
			return ixbrlSuccess(stats, dest, "")
		}
	}

	res := failed(StageIXBRLDownload, err.Error())
	res.Download = &DownloadResult{Success: false, ErrorMessage: err.Error()}
	return res
}

func ixbrlSuccess(stats *fetcher.StreamStats, dest, format string) *ProcessingResult {
	return &ProcessingResult{
		Success: true,
		Download: &DownloadResult{
			Success:       true,
			TempPath:      dest,
			BytesWritten:  stats.BytesWritten,
			ChunksWritten: stats.ChunksWritten,
			Format:        format,
		},
		Extraction: &ExtractionResult{
			Success:        true,
			FilesExtracted: 1,
			Files:          []string{dest},
		},
	}
}

func extractionMessage(ext *ExtractionResult) string {
	if ext.ErrorMessage != "" {
		return ext.ErrorMessage
	}
	return ext.Reason
}

func archiveSuffix(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ".zip"
	}
	base := strings.ToLower(path.Base(u.Path))
	for _, suffix := range []string{".tar.gz", ".tar.bz2", ".tar.xz", ".tgz", ".tar", ".zip"} {
		if strings.HasSuffix(base, suffix) {
			return suffix
		}
	}
	return ".zip"
}
