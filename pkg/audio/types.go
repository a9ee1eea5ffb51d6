package audio

import "time"

// Frame is one fixed-size block of mono, normalised float32 PCM produced by
// the audio host's raw-sample loop. Frames are transient: they are consumed
// by the relay or the transcription session and never stored.
type Frame struct {
	// Samples holds PCM in [-1, 1].
	Samples []float32

	// SampleRate in Hz (48000 for tab capture).
	SampleRate int

	// Level is the RMS loudness scaled to [0, 100].
	Level float64

	// HasAudio is the silence classifier output. See [HasAudio].
	HasAudio bool

	// Timestamp marks when the frame was read, relative to stream start.
	Timestamp time.Duration
}

// NewFrame applies gain to samples, classifies them and returns the frame.
// samples is not modified.
func NewFrame(samples []float32, sampleRate int, gain float64, threshold float64, ts time.Duration) Frame {
	boosted := ApplyGain(make([]float32, len(samples)), samples, gain)
	rms := RMS(boosted)
	return Frame{
		Samples:    boosted,
		SampleRate: sampleRate,
		Level:      LevelFromRMS(rms),
		HasAudio:   HasAudio(boosted, threshold),
		Timestamp:  ts,
	}
}
