// Package metrics exposes Prometheus collectors for the optimizer service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles the service collectors. Register once per process.
type Metrics struct {
	RunsStarted      *prometheus.CounterVec
	RunsCompleted    *prometheus.CounterVec
	RunDuration      *prometheus.HistogramVec
	SolutionsValid   prometheus.Counter
	WorkerFailures   prometheus.Counter
	ProgressMessages *prometheus.CounterVec
}

// New registers the collectors with the given registerer (nil means the
// default registry) and returns them.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		RunsStarted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tiopt_runs_started_total",
			Help: "Optimization runs started, by kind (single, pareto).",
		}, []string{"kind"}),
		RunsCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tiopt_runs_completed_total",
			Help: "Optimization runs finished, by kind and outcome.",
		}, []string{"kind", "outcome"}),
		RunDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tiopt_run_duration_seconds",
			Help:    "Wall time of optimization runs.",
			Buckets: prometheus.ExponentialBuckets(0.1, 4, 10),
		}, []string{"kind"}),
		SolutionsValid: factory.NewCounter(prometheus.CounterOpts{
			Name: "tiopt_pareto_solutions_total",
			Help: "Valid Pareto solutions collected.",
		}),
		WorkerFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "tiopt_worker_failures_total",
			Help: "Worker-side task failures excluded from results.",
		}),
		ProgressMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tiopt_progress_messages_total",
			Help: "Progress callback events, by severity.",
		}, []string{"level"}),
	}
}
