// Package metrics provides the Prometheus registry of the EDSM fetcher.
// All metrics are defined in their respective packages (client, cache,
// ratelimit, scheduler, enrich) to maintain modularity and avoid circular
// dependencies. A run is a short-lived batch job, so metrics are exported as
// a node-exporter textfile rather than scraped.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registry used by the fetcher.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Gatherer collects the metrics of Registry.
var Gatherer = prometheus.DefaultGatherer

// WriteTextfile writes the metrics of g in the text exposition format to
// path, for the node-exporter textfile collector. A nil g writes Gatherer.
func WriteTextfile(path string, g prometheus.Gatherer) error {
	if g == nil {
		g = Gatherer
	}
	if err := prometheus.WriteToTextfile(path, g); err != nil {
		return fmt.Errorf("write metrics textfile %s: %w", path, err)
	}
	return nil
}

// Metrics Documentation
//
// Rate Limit Metrics (pkg/ratelimit):
//   - edsm_rate_limit_remaining (Gauge): Requests left in the EDSM rate-limit window
//   - edsm_rate_limit_blocks_total (Counter): Requests held until the window reset
//   - edsm_rate_limit_throttles_total (Counter): Requests delayed in the warning range
//   - edsm_pacer_wait_seconds (Histogram): Time spent waiting for the request pacer
//
// Cache Metrics (pkg/cache):
//   - edsm_cache_hits_total{store} (Counter): Completed intervals / fresh traffic found
//   - edsm_cache_misses_total{store} (Counter): Lookups that require a fetch
//   - edsm_cache_flushes_total{store} (Counter): Atomic writes of a cache file
//   - edsm_cache_errors_total{operation} (Counter): Cache file errors
//   - edsm_cache_entries{store} (Gauge): Entries held by a cache
//
// Request Metrics (pkg/client):
//   - edsm_requests_total{endpoint, status} (Counter): Requests by endpoint and HTTP status
//   - edsm_request_duration_seconds{endpoint} (Histogram): Request duration by endpoint
//   - edsm_errors_total{kind} (Counter): Classified request errors
//
// Retry Metrics (pkg/client):
//   - edsm_retries_total{error_kind} (Counter): Retry attempts by error kind
//   - edsm_retry_backoff_seconds{error_kind} (Histogram): Backoff duration by error kind
//   - edsm_retry_exhausted_total{error_kind} (Counter): Requests that exhausted their attempts
//
// Scheduler Metrics (pkg/scheduler):
//   - edsm_scheduler_intervals_total{result} (Counter): Intervals fetched, skipped or failed
//   - edsm_scheduler_intervals_pending (Gauge): Intervals left in the current run
//   - edsm_scheduler_intervals_invalidated_total (Counter): Intervals dropped by the safety refresh
//
// Enrichment Metrics (pkg/enrich):
//   - edsm_enrich_systems_total{source} (Counter): Systems served from cache, fetched or skipped
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate of the discovery cache
//   edsm_cache_hits_total{store="discoveries"} /
//   (edsm_cache_hits_total{store="discoveries"} + edsm_cache_misses_total{store="discoveries"})
//
//   # Rate Limit Status
//   edsm_rate_limit_remaining < 20
//
//   # Aborted runs
//   edsm_scheduler_intervals_total{result="failed"} > 0
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(edsm_request_duration_seconds_bucket[1h]))
