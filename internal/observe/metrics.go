// Package observe provides application-wide observability primitives for
// tabcaption: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all tabcaption metrics.
const meterName = "github.com/MrWong99/tabcaption"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// ToggleDuration tracks how long a recording toggle takes end to end.
	ToggleDuration metric.Float64Histogram

	// TokenExchangeDuration tracks the short-lived token request latency.
	TokenExchangeDuration metric.Float64Histogram

	// TranscriptionStartDuration tracks the time from startListening to an
	// open streaming session.
	TranscriptionStartDuration metric.Float64Histogram

	// --- Audio host counters ---

	// FramesProcessed counts raw frames read by the audio host.
	FramesProcessed metric.Int64Counter

	// FramesForwarded counts frames relayed for transcription.
	FramesForwarded metric.Int64Counter

	// FramesSuppressed counts silent frames withheld by the silence gate.
	FramesSuppressed metric.Int64Counter

	// --- Routing counters ---

	// MessagesRouted counts controller dispatches. Use with attributes:
	//   attribute.String("type", ...), attribute.String("outcome", ...)
	MessagesRouted metric.Int64Counter

	// RelayFailures counts best-effort deliveries that were dropped. Use
	// with attributes:
	//   attribute.String("type", ...), attribute.String("reason", ...)
	RelayFailures metric.Int64Counter

	// --- Transcription counters ---

	// TokenExchanges counts token requests by status.
	TokenExchanges metric.Int64Counter

	// TranscriptEvents counts session events by kind.
	TranscriptEvents metric.Int64Counter

	// CaptionCommits counts changes of the displayed caption.
	CaptionCommits metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveRecordings tracks live capture sessions (0 or 1).
	ActiveRecordings metric.Int64UpDownCounter

	// ActiveTranscriptions tracks open streaming sessions across overlays.
	ActiveTranscriptions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// control-plane latencies.
var latencyBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.ToggleDuration, err = m.Float64Histogram("tabcaption.toggle.duration",
		metric.WithDescription("Latency of a recording toggle."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TokenExchangeDuration, err = m.Float64Histogram("tabcaption.token_exchange.duration",
		metric.WithDescription("Latency of the streaming token exchange."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TranscriptionStartDuration, err = m.Float64Histogram("tabcaption.transcription_start.duration",
		metric.WithDescription("Time to open a transcription session."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Audio host counters.
	if met.FramesProcessed, err = m.Int64Counter("tabcaption.frames.processed",
		metric.WithDescription("Raw frames read by the audio host."),
	); err != nil {
		return nil, err
	}
	if met.FramesForwarded, err = m.Int64Counter("tabcaption.frames.forwarded",
		metric.WithDescription("Frames relayed for transcription."),
	); err != nil {
		return nil, err
	}
	if met.FramesSuppressed, err = m.Int64Counter("tabcaption.frames.suppressed",
		metric.WithDescription("Silent frames withheld by the silence gate."),
	); err != nil {
		return nil, err
	}

	// Routing counters.
	if met.MessagesRouted, err = m.Int64Counter("tabcaption.messages.routed",
		metric.WithDescription("Controller dispatches by message type and outcome."),
	); err != nil {
		return nil, err
	}
	if met.RelayFailures, err = m.Int64Counter("tabcaption.relay.failures",
		metric.WithDescription("Dropped best-effort deliveries by message type and reason."),
	); err != nil {
		return nil, err
	}

	// Transcription counters.
	if met.TokenExchanges, err = m.Int64Counter("tabcaption.token_exchanges",
		metric.WithDescription("Token exchanges by status."),
	); err != nil {
		return nil, err
	}
	if met.TranscriptEvents, err = m.Int64Counter("tabcaption.transcript.events",
		metric.WithDescription("Transcription session events by kind."),
	); err != nil {
		return nil, err
	}
	if met.CaptionCommits, err = m.Int64Counter("tabcaption.caption.commits",
		metric.WithDescription("Changes of the displayed caption."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("tabcaption.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveRecordings, err = m.Int64UpDownCounter("tabcaption.active_recordings",
		metric.WithDescription("Number of live capture sessions."),
	); err != nil {
		return nil, err
	}
	if met.ActiveTranscriptions, err = m.Int64UpDownCounter("tabcaption.active_transcriptions",
		metric.WithDescription("Number of open transcription sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("tabcaption.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordMessageRouted records one controller dispatch.
func (m *Metrics) RecordMessageRouted(ctx context.Context, msgType, outcome string) {
	m.MessagesRouted.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("type", msgType),
			attribute.String("outcome", outcome),
		),
	)
}

// RecordRelayFailure records one dropped best-effort delivery.
func (m *Metrics) RecordRelayFailure(ctx context.Context, msgType, reason string) {
	m.RelayFailures.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("type", msgType),
			attribute.String("reason", reason),
		),
	)
}

// RecordTokenExchange records one token exchange outcome.
func (m *Metrics) RecordTokenExchange(ctx context.Context, status string) {
	m.TokenExchanges.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// RecordTranscriptEvent records one transcription session event.
func (m *Metrics) RecordTranscriptEvent(ctx context.Context, kind string) {
	m.TranscriptEvents.Add(ctx, 1,
		metric.WithAttributes(attribute.String("kind", kind)),
	)
}

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}
