package audio

import "math"

// DefaultSilenceThreshold is the absolute amplitude a sample must exceed for
// a frame to count as audible.
const DefaultSilenceThreshold = 0.01

// ApplyGain writes src*gain into dst, clamping every sample to [-1, 1], and
// returns dst[:len(src)]. dst may alias src.
func ApplyGain(dst, src []float32, gain float64) []float32 {
	if cap(dst) < len(src) {
		dst = make([]float32, len(src))
	}
	dst = dst[:len(src)]
	g := float32(gain)
	for i, s := range src {
		v := s * g
		switch {
		case v > 1:
			v = 1
		case v < -1:
			v = -1
		}
		dst[i] = v
	}
	return dst
}

// RMS returns the root-mean-square amplitude of samples, or 0 for an empty
// slice.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// HasAudio reports whether any sample's absolute value exceeds threshold.
func HasAudio(samples []float32, threshold float64) bool {
	t := float32(threshold)
	for _, s := range samples {
		if s > t || s < -t {
			return true
		}
	}
	return false
}

// AudibleRatio returns the fraction of samples whose absolute value exceeds
// threshold.
func AudibleRatio(samples []float32, threshold float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	t := float32(threshold)
	n := 0
	for _, s := range samples {
		if s > t || s < -t {
			n++
		}
	}
	return float64(n) / float64(len(samples))
}

// LevelFromRMS maps an RMS amplitude to the 0–100 level scale.
func LevelFromRMS(rms float64) float64 {
	return math.Min(100, rms*100)
}

// DBFS converts an RMS amplitude to decibels relative to full scale. Silence
// is floored at -140 dBFS.
func DBFS(rms float64) float64 {
	if rms <= 0 {
		rms = 1e-7
	}
	return 20 * math.Log10(rms)
}
