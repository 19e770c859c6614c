package task

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	// None of these may panic.
	m.taskStarted()
	m.taskStopped()
	m.observeStep(nil, time.Millisecond)
	m.observeStep(errors.New("x"), time.Millisecond)
	m.retryAttempted()
	m.checkpointSaved()
	m.taskOutcome("completed")
}

func TestMetrics_Counters(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)

	m.taskStarted()
	m.taskStarted()
	m.taskStopped()
	if got := testutil.ToFloat64(m.activeTasks); got != 1 {
		t.Errorf("active_tasks = %v, want 1", got)
	}

	m.observeStep(nil, 10*time.Millisecond)
	m.observeStep(errors.New("boom"), 5*time.Millisecond)
	if got := testutil.ToFloat64(m.steps.WithLabelValues("success")); got != 1 {
		t.Errorf("steps_total{success} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.steps.WithLabelValues("failure")); got != 1 {
		t.Errorf("steps_total{failure} = %v, want 1", got)
	}

	m.retryAttempted()
	m.checkpointSaved()
	m.taskOutcome("failed")
	if got := testutil.ToFloat64(m.retries); got != 1 {
		t.Errorf("retries_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.checkpoints); got != 1 {
		t.Errorf("checkpoints_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.tasks.WithLabelValues("failed")); got != 1 {
		t.Errorf("tasks_total{failed} = %v, want 1", got)
	}
}

func TestMetrics_WiredIntoEngine(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)
	engine, _, _ := newTestEngine(t, WithMetrics(m), WithCheckpointInterval(2))

	ctx := context.Background()
	steps, _ := countingSteps(4)
	id, err := engine.CreateTask(ctx, "metered", steps, "", PriorityNormal)
	if err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}
	if _, err := engine.Execute(ctx, id); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if got := testutil.ToFloat64(m.steps.WithLabelValues("success")); got != 4 {
		t.Errorf("steps_total{success} = %v, want 4", got)
	}
	if got := testutil.ToFloat64(m.checkpoints); got != 2 {
		t.Errorf("checkpoints_total = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.tasks.WithLabelValues("completed")); got != 1 {
		t.Errorf("tasks_total{completed} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.activeTasks); got != 0 {
		t.Errorf("active_tasks after completion = %v, want 0", got)
	}
}
