package audio

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"sync"
)

// EncodeFloat32LE serialises samples as little-endian IEEE-754 float32, the
// pcm_f32le wire format used by the transcription service.
func EncodeFloat32LE(samples []float32) []byte {
	out := make([]byte, len(samples)*4)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(s))
	}
	return out
}

// DecodeFloat32LE parses little-endian float32 PCM. Trailing bytes that do
// not form a whole sample are ignored.
func DecodeFloat32LE(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}

// ResampleMono linearly resamples mono float32 PCM from one rate to another.
func ResampleMono(samples []float32, from, to int) []float32 {
	if from == to || from <= 0 || to <= 0 || len(samples) == 0 {
		return samples
	}
	n := int(int64(len(samples)) * int64(to) / int64(from))
	out := make([]float32, n)
	ratio := float64(from) / float64(to)
	last := len(samples) - 1
	for i := range out {
		pos := float64(i) * ratio
		idx := int(pos)
		if idx >= last {
			out[i] = samples[last]
			continue
		}
		frac := float32(pos - float64(idx))
		out[i] = samples[idx]*(1-frac) + samples[idx+1]*frac
	}
	return out
}

// RateConverter resamples blocks to a target rate. It logs once on the first
// mismatch. Create one per stream; it is not safe for concurrent use.
type RateConverter struct {
	Target int
	warned sync.Once
}

// Convert returns samples at the target rate. Matching input is returned
// unchanged.
func (c *RateConverter) Convert(samples []float32, rate int) []float32 {
	if rate == c.Target || rate == 0 {
		return samples
	}
	c.warned.Do(func() {
		slog.Warn("audio sample rate mismatch: resampling",
			"from", fmt.Sprintf("%dHz", rate),
			"to", fmt.Sprintf("%dHz", c.Target),
		)
	})
	return ResampleMono(samples, rate, c.Target)
}
