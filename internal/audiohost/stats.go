package audiohost

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/MrWong99/tabcaption/pkg/audio"
)

// captureStats accumulates raw (pre-gain) statistics between log lines.
type captureStats struct {
	threshold float64
	frames    int
	samples   int
	sumSq     float64
	audible   int
	peak      float64
}

func newCaptureStats(threshold float64) *captureStats {
	return &captureStats{threshold: threshold}
}

func (s *captureStats) add(samples []float32) {
	s.frames++
	s.samples += len(samples)
	for _, v := range samples {
		f := float64(v)
		s.sumSq += f * f
		a := math.Abs(f)
		if a > s.threshold {
			s.audible++
		}
		if a > s.peak {
			s.peak = a
		}
	}
}

func (s *captureStats) rms() float64 {
	if s.samples == 0 {
		return 0
	}
	return math.Sqrt(s.sumSq / float64(s.samples))
}

func (s *captureStats) audibleRatio() float64 {
	if s.samples == 0 {
		return 0
	}
	return float64(s.audible) / float64(s.samples)
}

func (s *captureStats) log(tabID int) {
	if s.frames == 0 {
		slog.Debug("audiohost: no frames in stats window", "tab", tabID)
		return
	}
	rms := s.rms()
	slog.Debug("audiohost: capture stats",
		"tab", tabID,
		"frames", s.frames,
		"samples", s.samples,
		"rms", fmt.Sprintf("%.4f", rms),
		"dbfs", fmt.Sprintf("%.1f", audio.DBFS(rms)),
		"peak", fmt.Sprintf("%.4f", s.peak),
		"audible_pct", fmt.Sprintf("%.1f", s.audibleRatio()*100),
	)
}

func (s *captureStats) reset() {
	*s = captureStats{threshold: s.threshold}
}
