// Package metrics defines custom Prometheus metrics for the file storage
// service.
package metrics

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// registerOnce ensures Register() is idempotent.
var registerOnce sync.Once

// sizeBuckets are exponential buckets for size histograms (bytes).
var sizeBuckets = []float64{256, 1024, 4096, 16384, 65536, 262144, 1048576, 4194304, 16777216, 67108864}

// HTTP metrics (RED: Rate, Errors, Duration).
var (
	// HTTPRequestsTotal counts total HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filestorage_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency in seconds by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "filestorage_http_request_duration_seconds",
			Help:    "Request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// HTTPResponseSize observes response body size in bytes.
	HTTPResponseSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "filestorage_http_response_size_bytes",
			Help:    "Response body size in bytes",
			Buckets: sizeBuckets,
		},
		[]string{"method", "path"},
	)
)

// Storage operation metrics.
var (
	// OperationsTotal counts orchestrator operations by name and status.
	OperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filestorage_operations_total",
			Help: "Storage operations by type and outcome",
		},
		[]string{"operation", "status"},
	)

	// OperationDuration observes orchestrator operation latency in seconds.
	OperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "filestorage_operation_duration_seconds",
			Help:    "Storage operation latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// BytesStoredTotal counts bytes written to backends, by storage name.
	BytesStoredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filestorage_bytes_stored_total",
			Help: "Total bytes written to storage backends",
		},
		[]string{"storage"},
	)

	// HookInvocationsTotal counts hook runs by lifecycle phase and outcome.
	HookInvocationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filestorage_hook_invocations_total",
			Help: "Lifecycle hook invocations",
		},
		[]string{"phase", "status"},
	)

	// VariantDeletionsTotal counts variant deletions by outcome.
	VariantDeletionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filestorage_variant_deletions_total",
			Help: "Variant file deletions",
		},
		[]string{"status"},
	)
)

// Metadata cache metrics.
var (
	CacheHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "filestorage_metadata_cache_hits_total",
			Help: "File record cache hits",
		},
	)

	CacheMissesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "filestorage_metadata_cache_misses_total",
			Help: "File record cache misses",
		},
	)
)

// Operation status label values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Status returns the status label for err.
func Status(err error) string {
	if err != nil {
		return StatusError
	}
	return StatusSuccess
}

// Register registers all Prometheus collectors with the default registry.
// This must be called explicitly (typically from main) so that metrics
// registration can be made conditional on configuration. It is safe to call
// multiple times; subsequent calls are no-ops.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			HTTPRequestsTotal,
			HTTPRequestDuration,
			HTTPResponseSize,
			OperationsTotal,
			OperationDuration,
			BytesStoredTotal,
			HookInvocationsTotal,
			VariantDeletionsTotal,
			CacheHitsTotal,
			CacheMissesTotal,
		)
		// Initialize OperationsTotal so it appears in /metrics output
		// before any file has been stored.
		OperationsTotal.WithLabelValues("store", StatusSuccess)
	})
}

// NormalizePath maps actual request paths to normalized path templates
// suitable for use as Prometheus metric labels. This avoids high-cardinality
// labels from individual file UUIDs and variant names.
func NormalizePath(path string) string {
	// Known fixed paths.
	switch path {
	case "/health", "/healthz", "/readyz", "/metrics", "/openapi.json", "/files":
		return path
	case "/docs", "/docs/":
		return "/docs"
	case "/files/":
		return "/files"
	case "/", "":
		return "/"
	}

	if strings.HasPrefix(path, "/docs") {
		return "/docs"
	}
	if !strings.HasPrefix(path, "/files/") {
		return "/other"
	}

	parts := strings.Split(strings.Trim(strings.TrimPrefix(path, "/files/"), "/"), "/")
	switch {
	case len(parts) == 1:
		return "/files/{uuid}"
	case len(parts) == 2 && parts[1] == "content":
		return "/files/{uuid}/content"
	case len(parts) == 3 && parts[1] == "variants":
		return "/files/{uuid}/variants/{name}"
	case len(parts) == 4 && parts[1] == "variants" && parts[3] == "content":
		return "/files/{uuid}/variants/{name}/content"
	default:
		return "/files/{uuid}/other"
	}
}
