package audiohost

// SilenceGate decides which frames are forwarded for transcription. Audible
// frames always pass. After a run of silent frames only every Every-th
// silent frame passes, plus a random keep-alive share, so the transcription
// session sees a trickle of silence instead of a flood.
//
// A SilenceGate is owned by the raw-sample loop and is not safe for
// concurrent use.
type SilenceGate struct {
	// Threshold is the number of consecutive silent frames forwarded in full.
	Threshold int

	// Every is the forwarding period once past Threshold.
	Every int

	// KeepAlive is the probability in [0, 1] of forwarding a silent frame
	// the period would drop.
	KeepAlive float64

	// Rand returns a value in [0, 1). Required when KeepAlive > 0.
	Rand func() float64

	count int
}

// Allow records one frame and reports whether it should be forwarded.
func (g *SilenceGate) Allow(hasAudio bool) bool {
	if hasAudio {
		g.count = 0
		return true
	}
	g.count++
	if g.count <= g.Threshold {
		return true
	}
	if g.Every > 0 && g.count%g.Every == 0 {
		return true
	}
	return g.KeepAlive > 0 && g.Rand != nil && g.Rand() < g.KeepAlive
}

// Silent returns the current run of consecutive silent frames.
func (g *SilenceGate) Silent() int { return g.count }

// Reset forgets the silent run.
func (g *SilenceGate) Reset() { g.count = 0 }
