// ABOUTME: Tests for core telemetry interface and no-op implementation functionality
// ABOUTME: Validates telemetry recording, span creation, and helper functions

package telemetry

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
)

func TestNoopTelemetry(t *testing.T) {
	tel := NewNoop()
	ctx := context.Background()

	tel.RecordHistogram(ctx, "test.histogram", 1.5, attribute.String("key", "value"))
	tel.RecordCounter(ctx, "test.counter", 10, attribute.String("key", "value"))

	spanCtx, span := tel.StartSpan(ctx, "test.span", attribute.String("test", "value"))
	if spanCtx == nil {
		t.Error("StartSpan returned nil context")
	}
	if span == nil {
		t.Error("StartSpan returned nil span")
	}
	span.End()

	if err := tel.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown returned error: %v", err)
	}
}

type recordingTelemetry struct {
	NoopTelemetry
	histograms map[string]float64
	counters   map[string]int64
}

func (r *recordingTelemetry) RecordHistogram(ctx context.Context, name string, value float64, attrs ...attribute.KeyValue) {
	r.histograms[name] = value
}

func (r *recordingTelemetry) RecordCounter(ctx context.Context, name string, value int64, attrs ...attribute.KeyValue) {
	r.counters[name] += value
}

func TestHelpers(t *testing.T) {
	rec := &recordingTelemetry{
		histograms: make(map[string]float64),
		counters:   make(map[string]int64),
	}
	ctx := context.Background()

	RecordDuration(ctx, rec, "op.duration", time.Now().Add(-time.Second))
	if rec.histograms["op.duration"] < 1.0 {
		t.Errorf("expected duration >= 1s, got %f", rec.histograms["op.duration"])
	}

	RecordBytes(ctx, rec, "op.bytes", 6)
	RecordBytes(ctx, rec, "op.bytes", 4)
	if rec.counters["op.bytes"] != 10 {
		t.Errorf("expected 10 bytes, got %d", rec.counters["op.bytes"])
	}
}
