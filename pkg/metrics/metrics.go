// Package metrics exposes Prometheus collectors for the job broker and
// its workers: queue depth, job outcomes, handler latency, and orphan
// recovery counts.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the engine's Prometheus collectors.
type Metrics struct {
	// QueueDepth is the current number of jobs in a given status per
	// queue. Labels: queue, status.
	QueueDepth *prometheus.GaugeVec

	// JobsProcessed counts completed/failed job outcomes.
	// Labels: queue, outcome (completed|failed|retried).
	JobsProcessed *prometheus.CounterVec

	// JobDuration measures handler execution time in seconds.
	// Labels: queue.
	JobDuration *prometheus.HistogramVec

	// OrphansRecovered counts jobs reclaimed from a stale worker.
	OrphansRecovered prometheus.Counter

	// ActiveWorkers is the current number of worker goroutines per queue.
	ActiveWorkers *prometheus.GaugeVec

	// ExportsWritten counts export artifacts written, by format.
	ExportsWritten *prometheus.CounterVec
}

// New constructs a Metrics registered against the default registry.
func New() *Metrics {
	return &Metrics{
		QueueDepth: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "studyengine_queue_depth",
				Help: "Current number of jobs by queue and status",
			},
			[]string{"queue", "status"},
		),
		JobsProcessed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "studyengine_jobs_processed_total",
				Help: "Total number of jobs processed by queue and outcome",
			},
			[]string{"queue", "outcome"},
		),
		JobDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "studyengine_job_duration_seconds",
				Help:    "Handler execution duration in seconds by queue",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"queue"},
		),
		OrphansRecovered: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "studyengine_orphans_recovered_total",
				Help: "Total number of jobs reclaimed from workers with a stale heartbeat",
			},
		),
		ActiveWorkers: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "studyengine_active_workers",
				Help: "Current number of worker goroutines by queue",
			},
			[]string{"queue"},
		),
		ExportsWritten: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "studyengine_exports_written_total",
				Help: "Total number of export artifacts written by format",
			},
			[]string{"format"},
		),
	}
}

// ObserveJob records one handler's outcome and duration for queue.
func (m *Metrics) ObserveJob(queue, outcome string, d time.Duration) {
	m.JobsProcessed.WithLabelValues(queue, outcome).Inc()
	m.JobDuration.WithLabelValues(queue).Observe(d.Seconds())
}
