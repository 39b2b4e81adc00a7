package engine

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ranjbar-amirabbas/PYTS/internal/model"
)

// Metric label values for submission results.
const (
	submitAccepted = "accepted"
	submitRejected = "rejected"
)

var (
	jobsSubmittedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pyts_jobs_submitted_total",
			Help: "Total number of batch job submissions by admission result.",
		},
		[]string{"result"},
	)

	jobsFinishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pyts_jobs_finished_total",
			Help: "Total number of batch jobs that reached a terminal status.",
		},
		[]string{"status"},
	)

	jobDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pyts_job_processing_seconds",
			Help:    "Time spent in the engine per batch job, in seconds.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		},
	)

	jobsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pyts_jobs_active",
			Help: "Number of batch jobs currently being transcribed.",
		},
	)

	jobsQueued = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pyts_jobs_queued",
			Help: "Number of admitted batch jobs waiting for a worker.",
		},
	)

	jobsCleanedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pyts_jobs_cleaned_total",
			Help: "Total number of finished jobs evicted by cleanup.",
		},
	)
)

func init() {
	prometheus.MustRegister(jobsSubmittedTotal)
	prometheus.MustRegister(jobsFinishedTotal)
	prometheus.MustRegister(jobDuration)
	prometheus.MustRegister(jobsActive)
	prometheus.MustRegister(jobsQueued)
	prometheus.MustRegister(jobsCleanedTotal)

	// Pre-initialize label combinations so they appear in /metrics with
	// value 0 from startup.
	jobsSubmittedTotal.WithLabelValues(submitAccepted)
	jobsSubmittedTotal.WithLabelValues(submitRejected)
	jobsFinishedTotal.WithLabelValues(model.StatusCompleted)
	jobsFinishedTotal.WithLabelValues(model.StatusFailed)
}
