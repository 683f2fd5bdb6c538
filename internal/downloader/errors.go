package downloader

import (
	"errors"
	"fmt"
)

// DownloadErrorKind classifies terminal transfer failures.
type DownloadErrorKind int

const (
	DownloadTimeout DownloadErrorKind = iota + 1
	DownloadIntegrityMismatch
	DownloadServerRejected
	DownloadExhausted
)

func (k DownloadErrorKind) String() string {
	switch k {
	case DownloadTimeout:
		return "timeout"
	case DownloadIntegrityMismatch:
		return "integrity mismatch"
	case DownloadServerRejected:
		return "server rejected"
	case DownloadExhausted:
		return "retries exhausted"
	default:
		return "download error"
	}
}

// DownloadError carries enough context (episode id and title) for the
// orchestrator to render an actionable message without reaching into
// transport internals.
type DownloadError struct {
	Kind  DownloadErrorKind
	EID   string
	Title string
	Err   error
}

func (e *DownloadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("download %q (%s): %s: %v", e.Title, e.EID, e.Kind, e.Err)
	}
	return fmt.Sprintf("download %q (%s): %s", e.Title, e.EID, e.Kind)
}

func (e *DownloadError) Unwrap() error { return e.Err }

func (e *DownloadError) Is(target error) bool {
	t, ok := target.(*DownloadError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// IsDownloadKind reports whether err is (or wraps) a download error of the
// given kind.
func IsDownloadKind(err error, kind DownloadErrorKind) bool {
	var de *DownloadError
	for errors.As(err, &de) {
		if de.Kind == kind {
			return true
		}
		if de.Err == nil {
			break
		}
		err = de.Err
	}
	return false
}
