package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for the pipeline.
var (
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reportstream_runs_total",
		Help: "Finished runs by outcome",
	}, []string{"outcome"})

	pairsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reportstream_pairs_total",
		Help: "Finished report/facility pairs by status",
	}, []string{"status"})

	pagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reportstream_pages_consumed_total",
		Help: "Pages handed to the consumer by report",
	}, []string{"report"})

	rowsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reportstream_rows_consumed_total",
		Help: "Rows handed to the consumer by report",
	}, []string{"report"})

	stalePagesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reportstream_pages_discarded_total",
		Help: "Fetched pages dropped because the run ended or the page lies beyond the effective last page",
	})

	chunkSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "reportstream_async_chunk_size",
		Help: "Current row chunk size of the async consumer",
	})

	asyncBacklog = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "reportstream_async_backlog",
		Help: "Batches waiting in the async consumer queue",
	})
)
