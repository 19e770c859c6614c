package emit

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newTestTracer(t *testing.T) (*tracetest.InMemoryExporter, *OTelEmitter) {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exporter),
	)
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	return exporter, NewOTelEmitter(otel.Tracer("test"))
}

func attributeMap(attrs []attribute.KeyValue) map[string]interface{} {
	out := make(map[string]interface{}, len(attrs))
	for _, kv := range attrs {
		out[string(kv.Key)] = kv.Value.AsInterface()
	}
	return out
}

func TestOTelEmitter_Emit(t *testing.T) {
	exporter, emitter := newTestTracer(t)

	emitter.Emit(Event{
		TaskID: "task-001",
		Step:   3,
		Msg:    "checkpoint_saved",
		Meta: map[string]interface{}{
			"checkpoint_id": "cp-9",
			"attempt":       2,
		},
	})

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	span := spans[0]

	if span.Name != "checkpoint_saved" {
		t.Errorf("span name = %q, want checkpoint_saved", span.Name)
	}

	attrs := attributeMap(span.Attributes)
	if got := attrs["task.id"]; got != "task-001" {
		t.Errorf("task.id = %v, want task-001", got)
	}
	if got := attrs["task.step"]; got != int64(3) {
		t.Errorf("task.step = %v, want 3", got)
	}
	if got := attrs["task.meta.checkpoint_id"]; got != "cp-9" {
		t.Errorf("checkpoint_id = %v, want cp-9", got)
	}
	if got := attrs["task.meta.attempt"]; got != int64(2) {
		t.Errorf("attempt = %v, want 2", got)
	}

	if !span.EndTime.After(span.StartTime) {
		t.Error("span was not ended")
	}
}

func TestOTelEmitter_ErrorStatus(t *testing.T) {
	exporter, emitter := newTestTracer(t)

	emitter.Emit(Event{
		TaskID: "task-002",
		Step:   1,
		Msg:    "step_failure",
		Meta:   map[string]interface{}{"error": "backend unreachable"},
	})

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	status := spans[0].Status
	if status.Code != codes.Error {
		t.Errorf("status code = %v, want Error", status.Code)
	}
	if status.Description != "backend unreachable" {
		t.Errorf("status description = %q", status.Description)
	}
}

func TestOTelEmitter_NilTracer(t *testing.T) {
	emitter := NewOTelEmitter(nil)
	// Must be a silent no-op.
	emitter.Emit(Event{TaskID: "task-003", Msg: "task_started"})
}
