package audiohost

import "testing"

func TestSilenceGate_FortySilentFrames(t *testing.T) {
	t.Parallel()
	g := &SilenceGate{Threshold: 30, Every: 5}

	var passed []int
	for i := 1; i <= 40; i++ {
		if g.Allow(false) {
			passed = append(passed, i)
		}
	}

	// Frames 1-30 pass, then 35 and 40.
	if len(passed) != 32 {
		t.Fatalf("passed %d frames, want 32: %v", len(passed), passed)
	}
	if passed[29] != 30 || passed[30] != 35 || passed[31] != 40 {
		t.Errorf("tail = %v, want [30 35 40]", passed[29:])
	}
	if g.Silent() != 40 {
		t.Errorf("Silent = %d, want 40", g.Silent())
	}
}

func TestSilenceGate_AudioResets(t *testing.T) {
	t.Parallel()
	g := &SilenceGate{Threshold: 30, Every: 5}
	for range 33 {
		g.Allow(false)
	}
	if !g.Allow(true) {
		t.Fatal("audible frame dropped")
	}
	if g.Silent() != 0 {
		t.Fatalf("Silent = %d after audio, want 0", g.Silent())
	}
	for i := 1; i <= 30; i++ {
		if !g.Allow(false) {
			t.Fatalf("silent frame %d after reset dropped", i)
		}
	}
}

func TestSilenceGate_KeepAlive(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		keepAlive float64
		roll      float64
		want      bool
	}{
		{"disabled", 0, 0, false},
		{"roll under probability", 0.2, 0.1, true},
		{"roll over probability", 0.2, 0.5, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			g := &SilenceGate{Threshold: 30, Every: 5, KeepAlive: tc.keepAlive, Rand: func() float64 { return tc.roll }}
			for range 30 {
				g.Allow(false)
			}
			// Frame 31 is off-period.
			if got := g.Allow(false); got != tc.want {
				t.Errorf("Allow = %v, want %v", got, tc.want)
			}
		})
	}
}
