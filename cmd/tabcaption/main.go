// Command tabcaption captures a browser tab's audio and renders live captions
// from a realtime transcription service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.opentelemetry.io/otel/attribute"

	"github.com/MrWong99/tabcaption/internal/app"
	"github.com/MrWong99/tabcaption/internal/config"
	"github.com/MrWong99/tabcaption/internal/observe"
	"github.com/MrWong99/tabcaption/internal/resilience"
	"github.com/MrWong99/tabcaption/pkg/provider/stt"
	"github.com/MrWong99/tabcaption/pkg/provider/stt/speechmatics"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "tabcaption.yaml", "path to the YAML configuration file")
	tuiFlag := flag.Bool("tui", false, "render the overlay in the terminal (overrides tui.enabled)")
	logFile := flag.String("log-file", "", "write logs to this file instead of stderr")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	watch := true
	switch {
	case errors.Is(err, os.ErrNotExist):
		fmt.Fprintf(os.Stderr, "tabcaption: config file %q not found, running with defaults\n", *configPath)
		cfg, watch = config.Default(), false
	case err != nil:
		fmt.Fprintf(os.Stderr, "tabcaption: %v\n", err)
		return 1
	}
	if *tuiFlag {
		cfg.TUI.Enabled = true
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(slogLevel(cfg.Server.LogLevel))
	out, closeLog, err := logOutput(*logFile, cfg.TUI.Enabled)
	if err != nil {
		fmt.Fprintf(os.Stderr, "tabcaption: %v\n", err)
		return 1
	}
	defer closeLog()
	slog.SetDefault(slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})))

	slog.Info("tabcaption starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Environment ───────────────────────────────────────────────────────────
	if f := cfg.Credentials.EnvFile; f != "" {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			slog.Warn("failed to load env file", "path", f, "err", err)
		}
	}

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceVersion: version,
		Attributes:     []attribute.KeyValue{attribute.String("transcription.provider", cfg.Transcription.Name)},
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown", "err", err)
		}
	}()

	// ── Transcription backend ─────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg, cfg.Capture.SampleRate)

	tr, err := reg.CreateTranscriber(cfg.Transcription)
	if err != nil {
		slog.Error("failed to build transcription backend", "err", err, "registered", reg.Transcribers())
		return 1
	}

	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, tr)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Hot reload ────────────────────────────────────────────────────────────
	if watch {
		w, err := config.NewWatcher(*configPath, func(old, next *config.Config) {
			d := config.Diff(old, next)
			if d.LogLevelChanged {
				level.Set(slogLevel(d.NewLogLevel))
				slog.Info("log level changed", "level", d.NewLogLevel)
			}
			application.Reconfigure(d, next)
		})
		if err != nil {
			slog.Warn("config hot reload disabled", "err", err)
		} else {
			defer w.Stop()
		}
	}

	slog.Info("ready, press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("application error", "err", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}

	slog.Info("goodbye")
	return 0
}

// ── Provider registration ─────────────────────────────────────────────────────

// registerBuiltinProviders registers every compiled-in transcription backend.
func registerBuiltinProviders(reg *config.Registry, sampleRate int) {
	reg.RegisterTranscriber("speechmatics", func(tc config.TranscriptionConfig) (config.Transcriber, error) {
		var opts []speechmatics.Option
		if tc.Language != "" {
			opts = append(opts, speechmatics.WithLanguage(tc.Language))
		}
		if tc.OperatingPoint != "" {
			opts = append(opts, speechmatics.WithOperatingPoint(string(tc.OperatingPoint)))
		}
		if sampleRate > 0 {
			opts = append(opts, speechmatics.WithSampleRate(sampleRate))
		}
		if tc.StartTimeout > 0 {
			opts = append(opts, speechmatics.WithStartTimeout(tc.StartTimeout))
		}
		if d, ok := optFloat(tc.Options, "max_delay"); ok {
			opts = append(opts, speechmatics.WithMaxDelay(d))
		}

		primary := tc.BaseURL
		if primary == "" {
			primary = speechmatics.DefaultRealtimeURL
		}

		var provider stt.Provider
		fallbacks := optStrings(tc.Options, "fallback_urls")
		if len(fallbacks) == 0 {
			p, err := speechmatics.New(append(opts, speechmatics.WithURL(primary))...)
			if err != nil {
				return config.Transcriber{}, err
			}
			provider = p
		} else {
			regions := resilience.NewRegions(resilience.CircuitBreakerConfig{
				MaxFailures:  tc.Breaker.MaxFailures,
				ResetTimeout: tc.Breaker.ResetTimeout,
				HalfOpenMax:  tc.Breaker.HalfOpenMax,
			})
			for _, u := range append([]string{primary}, fallbacks...) {
				p, err := speechmatics.New(append(opts, speechmatics.WithURL(u))...)
				if err != nil {
					return config.Transcriber{}, fmt.Errorf("region %q: %w", u, err)
				}
				regions.Add(u, p)
			}
			provider = regions
		}

		var tokenOpts []speechmatics.TokenOption
		if tc.AuthURL != "" {
			tokenOpts = append(tokenOpts, speechmatics.WithAuthURL(tc.AuthURL))
		}
		if tc.TokenTTL > 0 {
			tokenOpts = append(tokenOpts, speechmatics.WithTTL(tc.TokenTTL))
		}
		return config.Transcriber{
			Provider: provider,
			Tokens:   speechmatics.NewTokenClient(tokenOpts...),
		}, nil
	})
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║       tabcaption startup summary      ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Provider", cfg.Transcription.Name)
	lang := cfg.Transcription.Language
	if lang == "" {
		lang = "(provider default)"
	}
	printRow("Language", lang)
	printRow("Listen addr", cfg.Server.ListenAddr)
	printRow("Credential DB", cfg.Credentials.DBPath)
	fmt.Printf("║  %-13s : %-19d ║\n", "Tabs", len(cfg.Tabs))
	tui := "(disabled)"
	if cfg.TUI.Enabled {
		tui = "enabled"
	}
	printRow("TUI", tui)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(key, value string) {
	if value == "" {
		value = "(not configured)"
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-13s : %-19s ║\n", key, value)
}

// ── Logger ────────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// logOutput picks the log destination. The TUI owns the terminal, so logs
// go to tabcaption.log unless a file was given.
func logOutput(path string, tui bool) (io.Writer, func(), error) {
	if path == "" && tui {
		path = "tabcaption.log"
	}
	if path == "" {
		return os.Stderr, func() {}, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	return f, func() { _ = f.Close() }, nil
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optFloat extracts a numeric value from a provider Options map. YAML
// decodes integers as int, so both are accepted.
func optFloat(opts map[string]any, key string) (float64, bool) {
	switch v := opts[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}

// optStrings extracts a string list from a provider Options map. A single
// string is treated as a one-element list.
func optStrings(opts map[string]any, key string) []string {
	switch v := opts[key].(type) {
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
