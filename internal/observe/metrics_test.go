package observe

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// sumWhere returns the value of the int64 sum data point whose attribute key
// equals value, or -1.
func sumWhere(t *testing.T, rm metricdata.ResourceMetrics, name, key, value string) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not an int64 sum", name)
	}
	for _, dp := range sum.DataPoints {
		if key == "" {
			return dp.Value
		}
		for _, kv := range dp.Attributes.ToSlice() {
			if string(kv.Key) == key && kv.Value.AsString() == value {
				return dp.Value
			}
		}
	}
	return -1
}

func TestHistogramObservation(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	histograms := []struct {
		name string
		h    metric.Float64Histogram
	}{
		{"tabcaption.toggle.duration", m.ToggleDuration},
		{"tabcaption.token_exchange.duration", m.TokenExchangeDuration},
		{"tabcaption.transcription_start.duration", m.TranscriptionStartDuration},
		{"tabcaption.http.request.duration", m.HTTPRequestDuration},
	}
	for _, tc := range histograms {
		tc.h.Record(ctx, 0.02)
		tc.h.Record(ctx, 0.3)
	}

	rm := collect(t, reader)
	for _, tc := range histograms {
		t.Run(tc.name, func(t *testing.T) {
			met := findMetric(rm, tc.name)
			if met == nil {
				t.Fatalf("metric %q not found", tc.name)
			}
			hist, ok := met.Data.(metricdata.Histogram[float64])
			if !ok {
				t.Fatalf("metric %q is not a histogram", tc.name)
			}
			if len(hist.DataPoints) == 0 || hist.DataPoints[0].Count != 2 {
				t.Errorf("unexpected data points: %+v", hist.DataPoints)
			}
		})
	}
}

func TestFrameCounters(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.FramesProcessed.Add(ctx, 40)
	m.FramesForwarded.Add(ctx, 32)
	m.FramesSuppressed.Add(ctx, 8)

	rm := collect(t, reader)
	for name, want := range map[string]int64{
		"tabcaption.frames.processed":  40,
		"tabcaption.frames.forwarded":  32,
		"tabcaption.frames.suppressed": 8,
	} {
		if got := sumWhere(t, rm, name, "", ""); got != want {
			t.Errorf("%s = %d, want %d", name, got, want)
		}
	}
}

func TestRecordRelayFailure(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordRelayFailure(ctx, "forward-audio-data", "not_ready")
	m.RecordRelayFailure(ctx, "forward-audio-data", "not_ready")
	m.RecordRelayFailure(ctx, "forward-audio-level", "mailbox_full")

	rm := collect(t, reader)
	if got := sumWhere(t, rm, "tabcaption.relay.failures", "reason", "not_ready"); got != 2 {
		t.Errorf("not_ready = %d, want 2", got)
	}
	if got := sumWhere(t, rm, "tabcaption.relay.failures", "reason", "mailbox_full"); got != 1 {
		t.Errorf("mailbox_full = %d, want 1", got)
	}
}

func TestRecordMessageRouted(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordMessageRouted(ctx, "start-recording", "forwarded")
	m.RecordMessageRouted(ctx, "bogus", "rejected")

	rm := collect(t, reader)
	if got := sumWhere(t, rm, "tabcaption.messages.routed", "outcome", "rejected"); got != 1 {
		t.Errorf("rejected = %d, want 1", got)
	}
}

func TestTranscriptionCounters(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordTokenExchange(ctx, "401")
	m.RecordTranscriptEvent(ctx, "partial")
	m.RecordTranscriptEvent(ctx, "partial")
	m.CaptionCommits.Add(ctx, 1)
	m.RecordProviderError(ctx, "speechmatics", "connection")

	rm := collect(t, reader)
	if got := sumWhere(t, rm, "tabcaption.token_exchanges", "status", "401"); got != 1 {
		t.Errorf("token_exchanges{401} = %d", got)
	}
	if got := sumWhere(t, rm, "tabcaption.transcript.events", "kind", "partial"); got != 2 {
		t.Errorf("transcript.events{partial} = %d", got)
	}
	if got := sumWhere(t, rm, "tabcaption.caption.commits", "", ""); got != 1 {
		t.Errorf("caption.commits = %d", got)
	}
	if got := sumWhere(t, rm, "tabcaption.provider.errors", "kind", "connection"); got != 1 {
		t.Errorf("provider.errors = %d", got)
	}
}

func TestGauges(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ActiveRecordings.Add(ctx, 1)
	m.ActiveRecordings.Add(ctx, -1)
	m.ActiveRecordings.Add(ctx, 1)
	m.ActiveTranscriptions.Add(ctx, 2)

	rm := collect(t, reader)
	if got := sumWhere(t, rm, "tabcaption.active_recordings", "", ""); got != 1 {
		t.Errorf("active_recordings = %d, want 1", got)
	}
	if got := sumWhere(t, rm, "tabcaption.active_transcriptions", "", ""); got != 2 {
		t.Errorf("active_transcriptions = %d, want 2", got)
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	if DefaultMetrics() != DefaultMetrics() {
		t.Error("DefaultMetrics returned different pointers")
	}
}
