package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for the scheduler.
var (
	concurrencyLimit = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "reportstream_scheduler_concurrency",
		Help: "Current global concurrency limit",
	})

	laneCap = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "reportstream_scheduler_lane_cap",
		Help: "Current concurrency cap per report lane",
	}, []string{"report"})

	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "reportstream_scheduler_queue_depth",
		Help: "Number of queued page requests",
	})

	jobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reportstream_scheduler_jobs_total",
		Help: "Finished page requests by report and outcome",
	}, []string{"report", "outcome"})

	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reportstream_scheduler_retries_total",
		Help: "Total retries by report",
	}, []string{"report"})

	retryBackoffSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "reportstream_scheduler_retry_backoff_seconds",
		Help:    "Backoff before a retry in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
	})
)

// Job outcomes.
const (
	outcomeSucceeded = "succeeded"
	outcomeFailed    = "failed"
	outcomeExhausted = "retry_exhausted"
	outcomeCancelled = "cancelled"
)
