// Package audio holds the signal-processing primitives of the capture
// pipeline: mono float32 [Frame] values, gain and clamping, RMS loudness,
// the silence classifier, a browser-style frequency [Analyser] and the
// pcm_f32le wire codec.
package audio
