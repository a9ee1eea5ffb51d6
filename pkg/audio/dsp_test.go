package audio_test

import (
	"math"
	"testing"

	"github.com/MrWong99/tabcaption/pkg/audio"
)

func TestHasAudio_Boundary(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		samples []float32
		want    bool
	}{
		{"all zero", make([]float32, 960), false},
		{"exactly threshold", []float32{0.01, -0.01, 0.005}, false},
		{"one above", []float32{0, 0, 0.011, 0}, true},
		{"negative above", []float32{-0.011}, true},
		{"empty", nil, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := audio.HasAudio(tc.samples, audio.DefaultSilenceThreshold); got != tc.want {
				t.Errorf("HasAudio = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestApplyGain_Clamps(t *testing.T) {
	t.Parallel()

	src := []float32{0.1, -0.2, 0.5, -0.9}
	got := audio.ApplyGain(nil, src, 3)
	want := []float32{0.3, -0.6, 1, -1}
	for i := range want {
		if math.Abs(float64(got[i]-want[i])) > 1e-6 {
			t.Errorf("sample %d = %v, want %v", i, got[i], want[i])
		}
	}
	if src[2] != 0.5 {
		t.Error("source modified")
	}
}

func TestApplyGain_InPlace(t *testing.T) {
	t.Parallel()

	buf := []float32{0.2, 0.4}
	out := audio.ApplyGain(buf, buf, 2)
	if &out[0] != &buf[0] {
		t.Error("expected in-place result")
	}
	if buf[1] != float32(0.8) {
		t.Errorf("buf[1] = %v", buf[1])
	}
}

func TestRMS(t *testing.T) {
	t.Parallel()

	if got := audio.RMS(nil); got != 0 {
		t.Errorf("RMS(nil) = %v", got)
	}
	got := audio.RMS([]float32{0.5, -0.5, 0.5, -0.5})
	if math.Abs(got-0.5) > 1e-9 {
		t.Errorf("RMS = %v, want 0.5", got)
	}
}

func TestLevelFromRMS_Caps(t *testing.T) {
	t.Parallel()

	if got := audio.LevelFromRMS(0.25); math.Abs(got-25) > 1e-9 {
		t.Errorf("LevelFromRMS(0.25) = %v", got)
	}
	if got := audio.LevelFromRMS(3); got != 100 {
		t.Errorf("LevelFromRMS(3) = %v, want 100", got)
	}
}

func TestDBFS(t *testing.T) {
	t.Parallel()

	if got := audio.DBFS(1); math.Abs(got) > 1e-9 {
		t.Errorf("DBFS(1) = %v", got)
	}
	if got := audio.DBFS(0); math.Abs(got+140) > 1e-6 {
		t.Errorf("DBFS(0) = %v, want -140", got)
	}
}

func TestNewFrame(t *testing.T) {
	t.Parallel()

	src := make([]float32, 960)
	src[10] = 0.004 // 0.012 after 3x gain
	f := audio.NewFrame(src, 48000, 3, audio.DefaultSilenceThreshold, 0)
	if !f.HasAudio {
		t.Error("boosted sample should be audible")
	}
	if f.SampleRate != 48000 || len(f.Samples) != 960 {
		t.Errorf("frame = %d samples @ %d", len(f.Samples), f.SampleRate)
	}
	if src[10] != 0.004 {
		t.Error("source modified")
	}
}

func TestAudibleRatio(t *testing.T) {
	t.Parallel()

	got := audio.AudibleRatio([]float32{0, 0.5, 0, -0.5}, 0.01)
	if got != 0.5 {
		t.Errorf("AudibleRatio = %v, want 0.5", got)
	}
}
