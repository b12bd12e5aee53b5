package pipeline

import (
	"errors"

	"github.com/rbright/notecap/internal/capture"
	"github.com/rbright/notecap/internal/media"
	"github.com/rbright/notecap/internal/recognize"
)

var (
	// ErrNoContentDetected is the informational "nothing detected" outcome.
	ErrNoContentDetected = errors.New("no content detected")
	ErrPersistFailed     = errors.New("persist failed")
)

// Reason is the failure kind reported for a run.
type Reason string

const (
	ReasonNone                 Reason = ""
	ReasonPermissionDenied     Reason = "PermissionDenied"
	ReasonSessionAlreadyActive Reason = "SessionAlreadyActive"
	ReasonNoActiveSession      Reason = "NoActiveSession"
	ReasonArtifactUnreadable   Reason = "ArtifactUnreadable"
	ReasonEncodingFailed       Reason = "EncodingFailed"
	ReasonRecognitionFailed    Reason = "RecognitionFailed"
	ReasonNoContentDetected    Reason = "NoContentDetected"
	ReasonPersistFailed        Reason = "PersistFailed"
	ReasonCancelled            Reason = "Cancelled"
	ReasonInternal             Reason = "Internal"
)

// KindOf classifies err. Nil maps to ReasonNone.
func KindOf(err error) Reason {
	switch {
	case err == nil:
		return ReasonNone
	case errors.Is(err, errCancelled):
		return ReasonCancelled
	case errors.Is(err, capture.ErrPermissionDenied):
		return ReasonPermissionDenied
	case errors.Is(err, capture.ErrSessionAlreadyActive):
		return ReasonSessionAlreadyActive
	case errors.Is(err, capture.ErrNoActiveSession):
		return ReasonNoActiveSession
	case errors.Is(err, capture.ErrCaptureFailed), errors.Is(err, media.ErrArtifactUnreadable):
		return ReasonArtifactUnreadable
	case errors.Is(err, media.ErrEncodingFailed):
		return ReasonEncodingFailed
	case errors.Is(err, recognize.ErrRecognitionFailed):
		return ReasonRecognitionFailed
	case errors.Is(err, ErrNoContentDetected):
		return ReasonNoContentDetected
	case errors.Is(err, ErrPersistFailed):
		return ReasonPersistFailed
	default:
		return ReasonInternal
	}
}

// Informational reports whether err is an expected outcome rather than a fault.
func Informational(err error) bool {
	return errors.Is(err, ErrNoContentDetected)
}

var errCancelled = errors.New("capture cancelled")
