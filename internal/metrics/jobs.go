// Package metrics exposes Prometheus instrumentation for the generation
// pipeline. Labels are kept to the bounded job outcome set so cardinality
// never grows with traffic.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// jobsSubmitted counts jobs accepted into the queue.
	jobsSubmitted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "generation_jobs_submitted_total",
			Help: "Total number of generation jobs accepted into the queue.",
		},
	)

	// jobsDone counts finished jobs by outcome.
	jobsDone = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "generation_jobs_done_total",
			Help: "Total number of finished generation jobs by outcome.",
		},
		[]string{"outcome"}, // completed | failed | aborted
	)

	// queueDepth gauges jobs waiting behind the running one.
	queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "generation_queue_depth",
			Help: "Number of generation jobs currently queued.",
		},
	)

	// jobDuration records wall-clock job processing time. Generation runs
	// for seconds to minutes, so the buckets skew long.
	jobDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "generation_job_duration_seconds",
			Help:    "Wall-clock duration of generation jobs in seconds.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		},
	)
)

func init() {
	prometheus.MustRegister(jobsSubmitted, jobsDone, queueDepth, jobDuration)
}

// JobRecorder feeds the manager's scheduling callbacks into the collectors
// above. It satisfies generation.Recorder.
type JobRecorder struct{}

// JobQueued records an accepted job and the resulting queue depth.
func (JobRecorder) JobQueued(depth int) {
	jobsSubmitted.Inc()
	queueDepth.Set(float64(depth))
}

// JobStarted records the queue depth after the worker picked a job up.
func (JobRecorder) JobStarted(depth int) {
	queueDepth.Set(float64(depth))
}

// JobDone records a finished job with its outcome and duration.
func (JobRecorder) JobDone(outcome string, elapsed time.Duration) {
	jobsDone.WithLabelValues(outcome).Inc()
	jobDuration.Observe(elapsed.Seconds())
}
