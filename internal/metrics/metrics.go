// Package metrics registers the Prometheus collectors exported on /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Sync pipeline metrics. The "job" label is the pipeline name
	// (e.g. "projects", "files").
	SyncBucketsScanned = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cflookup_sync_buckets_scanned_total",
			Help: "Total number of ID buckets scanned",
		},
		[]string{"job"},
	)

	SyncRowsWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cflookup_sync_rows_written_total",
			Help: "Total number of rows committed to the store",
		},
		[]string{"job"},
	)

	SyncBatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cflookup_sync_batches_total",
			Help: "Total number of batch commit outcomes",
		},
		[]string{"job", "result"}, // result: "committed", "retried", "dropped"
	)

	SyncRemoteErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cflookup_sync_remote_errors_total",
			Help: "Total number of non-404 remote fetch errors",
		},
		[]string{"job"},
	)

	SyncRunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cflookup_sync_run_duration_seconds",
			Help:    "Duration of complete sync runs",
			Buckets: []float64{1, 10, 60, 300, 900, 1800, 3600, 7200},
		},
		[]string{"job", "status"},
	)

	SyncLastSuccess = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cflookup_sync_last_success_timestamp_seconds",
			Help: "Unix time of the last successful sync run",
		},
		[]string{"job"},
	)

	// Lock metrics
	LockAcquisitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cflookup_lock_acquisitions_total",
			Help: "Total number of lock acquisition attempts",
		},
		[]string{"lock", "result"}, // result: "acquired", "contended", "error"
	)

	LockLost = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cflookup_lock_lost_total",
			Help: "Total number of held locks whose ownership was lost",
		},
		[]string{"lock"},
	)

	// Cache metrics
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"cache_type"},
	)

	// Remote API metrics
	APIRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cflookup_remote_requests_total",
			Help: "Total number of CurseForge API requests",
		},
		[]string{"endpoint", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cflookup_remote_request_duration_seconds",
			Help:    "Duration of CurseForge API requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	// Circuit breaker metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker",
		},
		[]string{"name", "result"}, // result: "success", "failure", "rejected"
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)

	// HTTP API metrics
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cflookup_http_requests_total",
			Help: "Total number of HTTP API requests",
		},
		[]string{"method", "route", "status"},
	)
)

// RecordSyncRun records the outcome of a finished sync run.
func RecordSyncRun(job, status string, duration time.Duration) {
	SyncRunDuration.WithLabelValues(job, status).Observe(duration.Seconds())
	if status == "success" {
		SyncLastSuccess.WithLabelValues(job).SetToCurrentTime()
	}
}
