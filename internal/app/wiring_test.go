package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MrWong99/tabcaption/internal/audiohost"
	"github.com/MrWong99/tabcaption/internal/config"
	"github.com/MrWong99/tabcaption/internal/credstore"
	"github.com/MrWong99/tabcaption/internal/overlay"
	"github.com/MrWong99/tabcaption/pkg/audio"
)

func TestHostConfig_ZeroKeepsDefaults(t *testing.T) {
	t.Parallel()
	if got, want := hostConfig(config.CaptureConfig{}), audiohost.DefaultConfig(); got != want {
		t.Errorf("hostConfig(zero) = %+v, want defaults %+v", got, want)
	}

	got := hostConfig(config.CaptureConfig{
		SampleRate:           16000,
		Gain:                 1,
		VisualizationFPS:     30,
		FFTSize:              512,
		KeepAliveProbability: 0.1,
	})
	if got.SampleRate != 16000 || got.Gain != 1 || got.FFTSize != 512 || got.KeepAliveProbability != 0.1 {
		t.Errorf("hostConfig = %+v", got)
	}
	if got.VisualizationInterval != time.Second/30 {
		t.Errorf("VisualizationInterval = %v, want %v", got.VisualizationInterval, time.Second/30)
	}
	if got.ForwardEvery != audiohost.DefaultConfig().ForwardEvery {
		t.Errorf("unset ForwardEvery should keep the default, got %d", got.ForwardEvery)
	}
}

func TestOverlayConfig(t *testing.T) {
	t.Parallel()
	if got, want := overlayConfig(config.Default()), overlay.DefaultConfig(); got != want {
		t.Errorf("overlayConfig(default) = %+v, want %+v", got, want)
	}

	cfg := config.Default()
	cfg.Capture.SampleRate = 44100
	cfg.Transcription.Language = "fr"
	cfg.Transcription.OperatingPoint = config.OperatingPointEnhanced
	cfg.Caption.Words = 4
	cfg.Caption.ErrorAfter = 20 * time.Second
	got := overlayConfig(cfg)
	if got.SampleRate != 44100 || got.Language != "fr" || got.OperatingPoint != "enhanced" {
		t.Errorf("overlayConfig = %+v", got)
	}
	if got.Words != 4 || got.ErrorAfter != 20*time.Second {
		t.Errorf("caption settings = %+v", got)
	}
}

func TestTabConfig_Sources(t *testing.T) {
	t.Parallel()

	none := tabConfig(config.TabConfig{ID: 1, Source: config.AudioSource{Kind: config.SourceNone}}, 48000)
	if none.Open != nil {
		t.Error("a tab without audio must not open a stream")
	}

	tone := tabConfig(config.TabConfig{ID: 2, Title: "T", DenyScripting: true,
		Source: config.AudioSource{Kind: config.SourceTone, Freq: 440, Amplitude: 0.3}}, 48000)
	if tone.Tab.ID != 2 || tone.Tab.Title != "T" || !tone.DenyScripting {
		t.Errorf("tab = %+v", tone)
	}
	s, err := tone.Open()
	if err != nil {
		t.Fatalf("open tone: %v", err)
	}
	block := <-s.Blocks()
	if len(block) == 0 || audio.RMS(block) == 0 {
		t.Error("tone should produce audible samples")
	}
	_ = s.Stop()

	path := filepath.Join(t.TempDir(), "clip.f32")
	if err := os.WriteFile(path, audio.EncodeFloat32LE(make([]float32, 960)), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	file := tabConfig(config.TabConfig{ID: 3, Source: config.AudioSource{Kind: config.SourceFile, Path: path}}, 48000)
	fs, err := file.Open()
	if err != nil {
		t.Fatalf("open file: %v", err)
	}
	if b := <-fs.Blocks(); len(b) != 960 {
		t.Errorf("block = %d samples, want 960", len(b))
	}
	if err := fs.Stop(); err != nil {
		t.Errorf("Stop: %v", err)
	}

	missing := tabConfig(config.TabConfig{ID: 4, Source: config.AudioSource{Kind: config.SourceFile, Path: filepath.Join(t.TempDir(), "nope")}}, 48000)
	if _, err := missing.Open(); err == nil {
		t.Error("missing file should fail to open")
	}
}

func TestCredentials_Chain(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	env := map[string]string{}
	store, err := credstore.Open(":memory:", credstore.WithLookupEnv(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	c := &credentials{store: store, static: "static-key"}
	if key, _ := c.APIKey(ctx); key != "static-key" {
		t.Errorf("fallback key = %q, want static-key", key)
	}
	if src, _ := c.Source(ctx); src != SourceConfig {
		t.Errorf("source = %q, want %q", src, SourceConfig)
	}

	if err := store.Set(ctx, "stored-key"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if key, _ := c.APIKey(ctx); key != "stored-key" {
		t.Errorf("key = %q, want stored-key", key)
	}
	if src, _ := c.Source(ctx); src != credstore.SourceStored {
		t.Errorf("source = %q, want stored", src)
	}

	empty := &credentials{store: store}
	_ = store.Delete(ctx)
	if _, err := empty.APIKey(ctx); err == nil {
		t.Error("no key anywhere should fail")
	}
}
