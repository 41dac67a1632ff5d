package store

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// StoreHits tracks snapshot reads that found an entry
	StoreHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reportstream_store_hits_total",
			Help: "Total number of snapshot store hits",
		},
	)

	// StoreMisses tracks snapshot reads that found nothing
	StoreMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reportstream_store_misses_total",
			Help: "Total number of snapshot store misses",
		},
	)

	// StoreWrittenBytes tracks the size of written snapshots
	StoreWrittenBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reportstream_store_written_bytes_total",
			Help: "Total bytes of snapshot JSON written to Redis",
		},
	)

	// StoreErrors tracks store operation errors
	StoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reportstream_store_errors_total",
			Help: "Total number of snapshot store operation errors",
		},
		[]string{"operation"}, // "save", "get", "list", "delete"
	)
)
