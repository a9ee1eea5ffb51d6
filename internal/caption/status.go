package caption

import "time"

// Status is the caption widget's visibility state.
type Status int

const (
	// StatusHidden: the overlay is not shown.
	StatusHidden Status = iota

	// StatusListening: shown and receiving audio updates.
	StatusListening

	// StatusWarning: no audio update for longer than the warning threshold.
	StatusWarning

	// StatusError: no audio update for longer than the error threshold, or
	// the transcription session failed.
	StatusError
)

// String returns the human-readable name of the status.
func (s Status) String() string {
	switch s {
	case StatusHidden:
		return "hidden"
	case StatusListening:
		return "listening"
	case StatusWarning:
		return "warning"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// Monitor thresholds.
const (
	DefaultWarningAfter    = 3 * time.Second
	DefaultErrorAfter      = 10 * time.Second
	DefaultMonitorInterval = time.Second
)

// Monitor classifies stalls in the audio update stream.
type Monitor struct {
	// WarningAfter is the silence in updates after which StatusWarning is
	// reported. Zero means DefaultWarningAfter.
	WarningAfter time.Duration

	// ErrorAfter is the silence after which StatusError is reported. Zero
	// means DefaultErrorAfter.
	ErrorAfter time.Duration
}

// Evaluate returns the status for an overlay that is shown (or not) and
// last received an audio or level update at lastUpdate. Stalls are strictly
// longer than the thresholds. A zero lastUpdate counts from now.
func (m Monitor) Evaluate(shown bool, lastUpdate, now time.Time) Status {
	if !shown {
		return StatusHidden
	}
	if lastUpdate.IsZero() {
		return StatusListening
	}
	warn, fail := m.WarningAfter, m.ErrorAfter
	if warn <= 0 {
		warn = DefaultWarningAfter
	}
	if fail <= 0 {
		fail = DefaultErrorAfter
	}
	switch idle := now.Sub(lastUpdate); {
	case idle > fail:
		return StatusError
	case idle > warn:
		return StatusWarning
	default:
		return StatusListening
	}
}
