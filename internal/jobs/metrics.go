package jobs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_jobs_dispatched_total",
			Help: "Jobs handed to the task queue",
		},
		[]string{"type"},
	)

	jobsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_jobs_processed_total",
			Help: "Job runs by outcome",
		},
		[]string{"type", "outcome"},
	)

	jobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "media_job_duration_seconds",
			Help:    "Time spent in job handlers",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 15),
		},
		[]string{"type"},
	)
)

const (
	outcomeCompleted = "completed"
	outcomeRetry     = "retry"
	outcomeFailed    = "failed"
	outcomeCancelled = "cancelled"
	outcomeDeferred  = "deferred"
)
