package controller

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/tabcaption/internal/audiohost"
)

// State is the recording lifecycle state.
type State int

const (
	StateIdle State = iota
	StateRecording
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	default:
		return "unknown"
	}
}

// RecordingSession is the controller's view of the recording lifecycle.
// ActiveTabID is zero when the session was rehydrated from the host marker
// and the recorded tab is not known.
type RecordingSession struct {
	ID                   string
	State                State
	ActiveTabID          int
	TranscriptionEnabled bool
	StartedAt            time.Time
}

// Recording reports whether the session is active.
func (s RecordingSession) Recording() bool { return s.State == StateRecording }

func newSession(tabID int, now time.Time) RecordingSession {
	return RecordingSession{
		ID:          uuid.NewString(),
		State:       StateRecording,
		ActiveTabID: tabID,
		StartedAt:   now,
	}
}

// markerRecording reports whether a host URL carries the recording marker.
func markerRecording(url string) bool {
	return strings.HasSuffix(url, audiohost.RecordingMarker)
}
