// Package metrics holds the Prometheus instruments of the ingest pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "embedr"

// Metrics holds all Prometheus metrics of the pipeline.
type Metrics struct {
	registry *prometheus.Registry

	// Task metrics
	TasksProcessed *prometheus.CounterVec
	TaskRetries    *prometheus.CounterVec
	TaskDuration   *prometheus.HistogramVec
	WorkersBusy    prometheus.Gauge

	// Finalization metrics
	Finalizations *prometheus.CounterVec
	Cleanups      *prometheus.CounterVec

	// Submission metrics
	BatchesSubmitted prometheus.Counter
	TasksCreated     *prometheus.CounterVec

	// Queue metrics
	QueueDepth *prometheus.GaugeVec
}

// New creates the metrics on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	factory := promauto.With(reg)
	m := &Metrics{registry: reg}

	m.TasksProcessed = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "worker",
		Name:      "tasks_processed_total",
		Help:      "Tasks that reached a terminal status",
	}, []string{"type", "status"})

	m.TaskRetries = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "worker",
		Name:      "task_retries_total",
		Help:      "Failed task attempts that were rescheduled",
	}, []string{"type"})

	m.TaskDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "worker",
		Name:      "task_duration_seconds",
		Help:      "Duration of one task attempt",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14),
	}, []string{"type"})

	m.WorkersBusy = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "worker",
		Name:      "workers_busy",
		Help:      "Workers currently processing a task",
	})

	m.Finalizations = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "finalizer",
		Name:      "finalizations_total",
		Help:      "Finalizer runs by outcome",
	}, []string{"outcome"})

	m.Cleanups = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "finalizer",
		Name:      "cleanup_steps_total",
		Help:      "Compensating cleanup steps by result",
	}, []string{"step", "result"})

	m.BatchesSubmitted = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "coordinator",
		Name:      "batches_submitted_total",
		Help:      "Accepted ingest submissions",
	})

	m.TasksCreated = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "coordinator",
		Name:      "tasks_created_total",
		Help:      "Tasks created by submissions",
	}, []string{"type"})

	m.QueueDepth = factory.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "queue",
		Name:      "depth",
		Help:      "Queue entries by state",
	}, []string{"state"})

	return m
}

// ObserveTask records one task attempt.
func (m *Metrics) ObserveTask(taskType string, d time.Duration) {
	m.TaskDuration.WithLabelValues(taskType).Observe(d.Seconds())
}

// Registry returns the registry holding every metric.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the metrics in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
