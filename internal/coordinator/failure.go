package coordinator

import (
	"fmt"
	"strings"

	"github.com/sells-group/filings-cli/internal/distribution"
)

// failureMessage extracts the deepest non-empty error message from a
// processing result, keyed by the failing stage.
func failureMessage(res *distribution.ProcessingResult) string {
	switch res.ErrorStage {
	case distribution.StageDetection:
		msg := "url not accessible"
		if res.ErrorMessage != "" {
			msg = res.ErrorMessage
		}
		if res.Detection != nil && len(res.Detection.Alternatives) > 0 {
			msg = fmt.Sprintf("%s (%d alternatives probed)", msg, len(res.Detection.Alternatives))
		}
		return msg
	case distribution.StageDownload, distribution.StageXSDDownload,
		distribution.StageDirectoryMirror, distribution.StageIXBRLDownload:
		if res.Download != nil && res.Download.ErrorMessage != "" {
			return res.Download.ErrorMessage
		}
	case distribution.StageExtraction:
		if res.Extraction != nil && res.Extraction.ErrorMessage != "" {
			return res.Extraction.ErrorMessage
		}
	}
	if res.ErrorMessage != "" {
		return res.ErrorMessage
	}
	return "processing failed at " + string(res.ErrorStage)
}

// libraryFailureReason maps a processing failure to the reason vocabulary the
// retry monitor acts on. The second return reports whether the failure
// happened past the download, so the right attempt counter is bumped.
func libraryFailureReason(res *distribution.ProcessingResult) (string, bool) {
	switch res.ErrorStage {
	case distribution.StageDetection:
		return "invalid_url", false

	case distribution.StageDownload, distribution.StageXSDDownload,
		distribution.StageDirectoryMirror, distribution.StageIXBRLDownload:
		return downloadReason(failureMessage(res)), false

	case distribution.StageExtraction:
		if res.Extraction == nil {
			return "invalid_archive", true
		}
		switch res.Extraction.Reason {
		case distribution.ReasonBadArchive:
			return "corrupted_zip", true
		case distribution.ReasonIO:
			return "extraction_error", true
		default:
			return "invalid_archive", true
		}

	case distribution.StageValidation, distribution.StageVerification:
		return "extraction_error", true

	default:
		return string(res.ErrorStage) + "_error", false
	}
}

// downloadReason classifies a download error message by its text. The
// fetcher surfaces HTTP status codes and net errors verbatim.
func downloadReason(msg string) string {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "404"):
		return "url_404"
	case strings.Contains(lower, "403"):
		return "url_403"
	case strings.Contains(lower, "no such host"), strings.Contains(lower, "dns"):
		return "dns_error"
	case strings.Contains(lower, "timeout"), strings.Contains(lower, "deadline exceeded"):
		return "timeout"
	case strings.Contains(lower, "unexpected eof"), strings.Contains(lower, "incomplete"):
		return "incomplete_download"
	case strings.Contains(lower, "permission denied"):
		return "permission_denied"
	case strings.Contains(lower, "no space left"):
		return "disk_full"
	default:
		return "network_error"
	}
}
