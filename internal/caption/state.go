package caption

import (
	"strings"
	"time"
)

// DefaultDebounce is the minimum time between caption commits.
const DefaultDebounce = 200 * time.Millisecond

// historyTokens bounds the closed segments kept in the accumulated text.
const historyTokens = 64

// TranscriptState is the overlay's view of the running transcript.
//
// The zero value is inactive with a 2-word reduction and the default
// debounce. TranscriptState is not safe for concurrent use.
type TranscriptState struct {
	// Words is the caption length; zero means [DefaultWords].
	Words int

	// Debounce is the commit interval; zero means [DefaultDebounce].
	Debounce time.Duration

	// history is the closed segments' tokens. segment is the open one,
	// which later partials revise.
	history    []string
	segment    []string
	rawPartial string
	displayed  string
	lastUpdate time.Time
	pending    string
	hasPending bool
	active     bool
}

// Activate enables commits. Deactivating keeps the displayed caption but
// drops any pending one.
func (s *TranscriptState) Activate(on bool) {
	s.active = on
	if !on {
		s.pending, s.hasPending = "", false
	}
}

// Active reports whether commits are enabled.
func (s *TranscriptState) Active() bool { return s.active }

// RawPartialText is the transcript accumulated from partials since the
// last [TranscriptState.Clear].
func (s *TranscriptState) RawPartialText() string { return s.rawPartial }

// DisplayedCaption is the committed caption.
func (s *TranscriptState) DisplayedCaption() string { return s.displayed }

// LastUpdate is the time of the last commit.
func (s *TranscriptState) LastUpdate() time.Time { return s.lastUpdate }

// Pending reports whether a changed caption is waiting for the debounce
// window to pass.
func (s *TranscriptState) Pending() bool { return s.hasPending }

// Partial records a partial hypothesis received at now and commits the
// reduction of the accumulated text if eligible. It reports whether the
// displayed caption changed. A changed reduction arriving inside the
// debounce window is kept pending and committed by a later
// [TranscriptState.Flush].
//
// Partials revise the open segment while they begin with its first word.
// Any other partial means the recognizer reset after finalising, so the
// open segment is closed and a new one starts after it. A new segment that
// repeats the tail of the closed text is merged on the overlap.
func (s *TranscriptState) Partial(text string, now time.Time) bool {
	tokens := strings.Fields(text)
	if len(tokens) > 0 {
		if len(s.segment) == 0 || normalize(tokens[0]) != normalize(s.segment[0]) {
			s.Final()
		}
		s.segment = tokens
		s.rawPartial = strings.Join(s.merged(), " ")
	}
	if !s.active {
		return false
	}
	next := Reduce(s.rawPartial, s.words())
	if next == s.displayed {
		s.pending, s.hasPending = "", false
		return false
	}
	if !s.eligible(now) {
		s.pending, s.hasPending = next, true
		return false
	}
	s.commit(next, now)
	return true
}

// Final closes the open segment: the next partial starts a new one even if
// it begins with the same word. The final text itself is not displayed.
func (s *TranscriptState) Final() {
	if len(s.segment) == 0 {
		return
	}
	merged := s.merged()
	if len(merged) > historyTokens {
		merged = merged[len(merged)-historyTokens:]
	}
	s.history = merged
	s.segment = nil
}

// merged is history followed by the open segment without the words the
// segment repeats from history's tail.
func (s *TranscriptState) merged() []string {
	k := overlap(s.history, s.segment)
	out := make([]string, 0, len(s.history)+len(s.segment)-k)
	out = append(out, s.history...)
	return append(out, s.segment[k:]...)
}

// overlap returns the largest k for which the last k words of a equal the
// first k words of b, ignoring case and punctuation.
func overlap(a, b []string) int {
	for k := min(len(a), len(b)); k > 0; k-- {
		match := true
		for i := range k {
			if normalize(a[len(a)-k+i]) != normalize(b[i]) {
				match = false
				break
			}
		}
		if match {
			return k
		}
	}
	return 0
}

// Flush commits a pending caption once the debounce window has passed. It
// reports whether the displayed caption changed.
func (s *TranscriptState) Flush(now time.Time) bool {
	if !s.active || !s.hasPending || !s.eligible(now) {
		return false
	}
	s.commit(s.pending, now)
	return true
}

// Clear resets the transcript and caption.
func (s *TranscriptState) Clear() {
	words, debounce, active := s.Words, s.Debounce, s.active
	*s = TranscriptState{Words: words, Debounce: debounce, active: active}
}

func (s *TranscriptState) commit(caption string, now time.Time) {
	s.displayed = caption
	s.lastUpdate = now
	s.pending, s.hasPending = "", false
}

func (s *TranscriptState) eligible(now time.Time) bool {
	return s.lastUpdate.IsZero() || now.Sub(s.lastUpdate) >= s.debounce()
}

func (s *TranscriptState) words() int {
	if s.Words > 0 {
		return s.Words
	}
	return DefaultWords
}

func (s *TranscriptState) debounce() time.Duration {
	if s.Debounce > 0 {
		return s.Debounce
	}
	return DefaultDebounce
}
