package audio_test

import (
	"testing"

	"github.com/MrWong99/tabcaption/pkg/audio"
)

func TestFloat32LE_RoundTrip(t *testing.T) {
	t.Parallel()

	in := []float32{0, 1, -1, 0.25}
	b := audio.EncodeFloat32LE(in)
	if len(b) != 16 {
		t.Fatalf("len = %d, want 16", len(b))
	}
	out := audio.DecodeFloat32LE(append(b, 0xff)) // trailing partial sample ignored
	if len(out) != len(in) {
		t.Fatalf("decoded %d samples", len(out))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Errorf("sample %d = %v, want %v", i, out[i], in[i])
		}
	}
}

func TestEncodeFloat32LE_ByteOrder(t *testing.T) {
	t.Parallel()

	// 1.0 is 0x3f800000.
	b := audio.EncodeFloat32LE([]float32{1})
	want := []byte{0x00, 0x00, 0x80, 0x3f}
	for i := range want {
		if b[i] != want[i] {
			t.Fatalf("bytes = %x, want %x", b, want)
		}
	}
}

func TestResampleMono(t *testing.T) {
	t.Parallel()

	in := make([]float32, 441)
	for i := range in {
		in[i] = 0.5
	}
	out := audio.ResampleMono(in, 44100, 48000)
	if len(out) != 480 {
		t.Fatalf("len = %d, want 480", len(out))
	}
	for i, s := range out {
		if s != 0.5 {
			t.Fatalf("out[%d] = %v", i, s)
		}
	}
	if same := audio.ResampleMono(in, 48000, 48000); len(same) != len(in) {
		t.Error("same-rate resample should be identity")
	}
}

func TestRateConverter_Passthrough(t *testing.T) {
	t.Parallel()

	c := audio.RateConverter{Target: 48000}
	in := []float32{0.1, 0.2}
	out := c.Convert(in, 48000)
	if &out[0] != &in[0] {
		t.Error("matching rate should return input unchanged")
	}
	if got := c.Convert(make([]float32, 160), 16000); len(got) != 480 {
		t.Errorf("upsampled len = %d, want 480", len(got))
	}
}
