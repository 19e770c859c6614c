package task

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides Prometheus-compatible metrics for task execution.
//
// Metrics exposed (all namespaced with "taskvault_"):
//
//   - active_tasks (gauge): tasks currently executing in this process
//   - steps_total (counter): step invocations, labeled by status
//     (success/failure)
//   - retries_total (counter): retry attempts across all tasks
//   - checkpoints_total (counter): checkpoints persisted
//   - tasks_total (counter): task outcomes, labeled by outcome
//     (completed/failed/suspended/interrupted)
//   - step_duration_seconds (histogram): step execution latency
//
// Usage:
//
//	registry := prometheus.NewRegistry()
//	metrics := task.NewMetrics(registry)
//	engine := task.New(manager, emitter, task.WithMetrics(metrics))
//	http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
//
// All methods are nil-safe: a nil *Metrics records nothing.
type Metrics struct {
	activeTasks  prometheus.Gauge
	steps        *prometheus.CounterVec
	retries      prometheus.Counter
	checkpoints  prometheus.Counter
	tasks        *prometheus.CounterVec
	stepDuration prometheus.Histogram
}

// NewMetrics creates and registers all engine metrics with the provided
// Prometheus registry. A nil registry uses prometheus.DefaultRegisterer.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		activeTasks: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "taskvault",
			Name:      "active_tasks",
			Help:      "Number of tasks currently executing in this process",
		}),
		steps: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "taskvault",
			Name:      "steps_total",
			Help:      "Total step invocations by status",
		}, []string{"status"}),
		retries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "taskvault",
			Name:      "retries_total",
			Help:      "Total step retry attempts",
		}),
		checkpoints: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "taskvault",
			Name:      "checkpoints_total",
			Help:      "Total checkpoints persisted",
		}),
		tasks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "taskvault",
			Name:      "tasks_total",
			Help:      "Total task outcomes",
		}, []string{"outcome"}),
		stepDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "taskvault",
			Name:      "step_duration_seconds",
			Help:      "Step execution latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

func (m *Metrics) taskStarted() {
	if m == nil {
		return
	}
	m.activeTasks.Inc()
}

func (m *Metrics) taskStopped() {
	if m == nil {
		return
	}
	m.activeTasks.Dec()
}

func (m *Metrics) observeStep(err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "failure"
	}
	m.steps.WithLabelValues(status).Inc()
	m.stepDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) retryAttempted() {
	if m == nil {
		return
	}
	m.retries.Inc()
}

func (m *Metrics) checkpointSaved() {
	if m == nil {
		return
	}
	m.checkpoints.Inc()
}

func (m *Metrics) taskOutcome(outcome string) {
	if m == nil {
		return
	}
	m.tasks.WithLabelValues(outcome).Inc()
}
