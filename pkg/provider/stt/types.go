package stt

import "time"

// EventKind discriminates an [Event].
type EventKind int

const (
	// EventPartial carries an interim, likely-to-change hypothesis.
	EventPartial EventKind = iota

	// EventFinal carries a committed result.
	EventFinal

	// EventEndOfTranscript acknowledges end of input; no more results follow.
	EventEndOfTranscript

	// EventWarning carries a non-fatal service notice in Message.
	EventWarning

	// EventError carries a *ServiceError in Err.
	EventError

	// EventClosed is the last event of every session.
	EventClosed
)

// String returns the human-readable name of the event kind.
func (k EventKind) String() string {
	switch k {
	case EventPartial:
		return "partial"
	case EventFinal:
		return "final"
	case EventEndOfTranscript:
		return "end-of-transcript"
	case EventWarning:
		return "warning"
	case EventError:
		return "error"
	case EventClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Event is one item of a session's event stream.
type Event struct {
	Kind EventKind

	// Transcript is set for EventPartial and EventFinal.
	Transcript Transcript

	// Message is set for EventWarning.
	Message string

	// Err is set for EventError.
	Err error
}

// Transcript is a recognition result. Partial results are cumulative for
// the current utterance.
type Transcript struct {
	Text    string
	IsFinal bool

	// StartTime and EndTime are relative to session start.
	StartTime time.Duration
	EndTime   time.Duration

	// Confidence is in [0, 1]; zero when not reported.
	Confidence float64
}
