// Package distribution classifies how a remote artifact is packaged and
// routes it to the matching download/extract handler.
package distribution

// Type enumerates how a remote resource is packaged.
type Type string

const (
	TypeArchive   Type = "archive"
	TypeXSD       Type = "xsd"
	TypeDirectory Type = "directory"
	TypeIXBRL     Type = "ixbrl"
	TypeUnknown   Type = "unknown"
)

// Stage names the pipeline stage where a failure occurred.
type Stage string

const (
	StageDetection       Stage = "detection"
	StageDownload        Stage = "download"
	StageExtraction      Stage = "extraction"
	StageXSDDownload     Stage = "xsd_download"
	StageDirectoryMirror Stage = "directory_mirror"
	StageIXBRLDownload   Stage = "ixbrl_download"
	StageValidation      Stage = "validation"
	StageVerification    Stage = "verification"
	StageDatabase        Stage = "database"
	StageUnexpected      Stage = "unexpected"
)

// Detection is the classification of a remote URL.
type Detection struct {
	Type         Type
	URL          string // possibly an alternative that resolved
	ContentType  string
	Exists       bool
	Alternatives []string // URLs probed when the original did not resolve
}

// DownloadResult reports a fetch to local disk.
type DownloadResult struct {
	Success       bool
	TempPath      string
	BytesWritten  int64
	ChunksWritten int
	Format        string // negotiated content type, when applicable
	ErrorMessage  string
}

// Extraction failure reasons.
const (
	ReasonUnsafePaths       = "unsafe_paths"
	ReasonDepthExceeded     = "depth_exceeded"
	ReasonSizeExceeded      = "size_exceeded"
	ReasonUnsupportedFormat = "unsupported_format"
	ReasonBadArchive        = "bad_archive"
	ReasonIO                = "io_error"
)

// ExtractionResult reports an archive extraction or handler write-out.
type ExtractionResult struct {
	Success        bool
	FilesExtracted int
	Files          []string
	Reason         string
	ErrorMessage   string
}

// ProcessingResult carries the full outcome of one URL+target attempt. The
// sub-results attribute failures to their stage.
type ProcessingResult struct {
	Success      bool
	ErrorStage   Stage
	ErrorMessage string
	Detection    *Detection
	Download     *DownloadResult
	Extraction   *ExtractionResult
}

// failed builds a failed ProcessingResult for the given stage.
func failed(stage Stage, msg string) *ProcessingResult {
	return &ProcessingResult{Success: false, ErrorStage: stage, ErrorMessage: msg}
}
