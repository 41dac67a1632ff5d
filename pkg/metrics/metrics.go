// Package metrics provides the Prometheus registry and HTTP handler for
// reportstream. All metrics are defined in their respective packages
// (client, ratelimit, scheduler, pipeline, store) to maintain modularity and
// avoid circular dependencies.
//
// This package provides documentation and reference for all available metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by reportstream.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Gatherer is the gatherer served by Handler.
var Gatherer = prometheus.DefaultGatherer

// Handler returns an HTTP handler exposing all registered metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Metrics Documentation
//
// Request Metrics (pkg/client):
//   - reportstream_requests_total{report, status} (Counter): Requests by report and HTTP status
//   - reportstream_request_duration_seconds{report} (Histogram): Request duration by report
//   - reportstream_request_errors_total{class} (Counter): Failed requests by class (transient, auth, client)
//
// Rate Limit Metrics (pkg/ratelimit):
//   - reportstream_ratelimit_remaining (Gauge): Requests remaining in the server's window
//   - reportstream_ratelimit_blocks_total (Counter): Requests delayed by Retry-After or a critical budget
//   - reportstream_ratelimit_throttles_total (Counter): Requests throttled in the warning band
//
// Scheduler Metrics (pkg/scheduler):
//   - reportstream_scheduler_concurrency (Gauge): Global concurrency limit
//   - reportstream_scheduler_lane_cap{report} (Gauge): Lane cap per report
//   - reportstream_scheduler_queue_depth (Gauge): Queued page requests
//   - reportstream_scheduler_jobs_total{report, outcome} (Counter): Finished page requests
//   - reportstream_scheduler_retries_total{report} (Counter): Retries by report
//   - reportstream_scheduler_retry_backoff_seconds (Histogram): Backoff before a retry
//
// Pipeline Metrics (pkg/pipeline):
//   - reportstream_runs_total{outcome} (Counter): Finished runs (done, failed, cancelled)
//   - reportstream_pairs_total{status} (Counter): Finished report/facility pairs
//   - reportstream_pages_consumed_total{report} (Counter): Pages handed to the consumer
//   - reportstream_rows_consumed_total{report} (Counter): Rows handed to the consumer
//   - reportstream_pages_discarded_total (Counter): Stale or out-of-range pages dropped
//   - reportstream_async_chunk_size (Gauge): Row chunk size of the async consumer
//   - reportstream_async_backlog (Gauge): Batches waiting for the async consumer
//
// Store Metrics (pkg/store):
//   - reportstream_store_hits_total (Counter): Snapshot reads that found an entry
//   - reportstream_store_misses_total (Counter): Snapshot reads that found nothing
//   - reportstream_store_written_bytes_total (Counter): Snapshot JSON bytes written
//   - reportstream_store_errors_total{operation} (Counter): Store operation errors
//
// Example Prometheus Queries:
//
//   # Adaptive concurrency over time
//   reportstream_scheduler_concurrency
//
//   # Lanes under latency pressure
//   reportstream_scheduler_lane_cap < 2
//
//   # Transient error rate
//   rate(reportstream_request_errors_total{class="transient"}[5m])
//
//   # P95 Request Latency per report
//   histogram_quantile(0.95, sum by (report, le) (rate(reportstream_request_duration_seconds_bucket[5m])))
//
//   # Rows per second
//   sum(rate(reportstream_rows_consumed_total[1m]))
package metrics
