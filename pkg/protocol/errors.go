package protocol

import "errors"

// Cross-context error taxonomy. Component-local failures wrap these so
// callers can classify them with errors.Is.
var (
	// ErrPermissionDenied reports that capture or scripting permission was
	// refused for a tab. It is recovered by prompting the user.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrContextNotReady reports that the recipient context has not been
	// created or injected yet.
	ErrContextNotReady = errors.New("receiving context not ready")

	// ErrStreamAcquisition reports that the tab media stream could not be
	// obtained.
	ErrStreamAcquisition = errors.New("stream acquisition failed")

	// ErrDoubleStart reports a start request while already recording. It is a
	// caller bug, never retried.
	ErrDoubleStart = errors.New("already recording")

	// ErrNoRecording reports a transcription request while the audio host
	// is idle. Replies carry [MsgNoRecording].
	ErrNoRecording = errors.New("no active recording")

	// ErrOtherTabRecording reports a transcription request from a tab other
	// than the one being recorded. Replies carry [MsgOtherTabRecording].
	ErrOtherTabRecording = errors.New("another tab is recording")

	// ErrUnsuccessful is returned by [Response.Err] for failed replies that
	// carry no message.
	ErrUnsuccessful = errors.New("unsuccessful response")
)

// RemoteError is an error reported by another context in a [Response].
type RemoteError struct {
	Message string
}

// User-facing reply texts for errors that cross a context boundary.
const (
	MsgNoRecording       = "No active recording"
	MsgOtherTabRecording = "Another tab is being recorded"
)

func (e *RemoteError) Error() string { return e.Message }

// Is lets a relayed reply match the sentinel its message stands for.
func (e *RemoteError) Is(target error) bool {
	switch target {
	case ErrNoRecording:
		return e.Message == MsgNoRecording
	case ErrOtherTabRecording:
		return e.Message == MsgOtherTabRecording
	}
	return false
}
