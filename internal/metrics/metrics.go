package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// API Metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "composer_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "composer_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Composition Metrics
	CompositionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "composer_compositions_active",
			Help: "Number of open editing sessions",
		},
	)

	OverlayOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "composer_overlay_operations_total",
			Help: "Total number of overlay mutations",
		},
		[]string{"operation", "status"},
	)

	PlacementRow = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "composer_placement_row",
			Help:    "Row chosen by automatic overlay placement",
			Buckets: prometheus.LinearBuckets(0, 1, 10),
		},
	)

	// Keyframe Metrics
	KeyframeExtractionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "composer_keyframe_extractions_total",
			Help: "Total number of keyframe extractions by outcome",
		},
		[]string{"outcome"},
	)

	KeyframeExtractionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "composer_keyframe_extraction_duration_seconds",
			Help:    "Keyframe extraction duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s
		},
	)

	KeyframeYieldRatio = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "composer_keyframe_yield_ratio",
			Help:    "Fraction of planned keyframes that were extracted",
			Buckets: []float64{0.1, 0.3, 0.5, 0.7, 0.8, 0.9, 1.0},
		},
	)

	KeyframeAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "composer_keyframe_attempts_total",
			Help: "Total number of single frame extraction attempts",
		},
		[]string{"status"},
	)

	KeyframeCacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "composer_keyframe_cache_lookups_total",
			Help: "Keyframe cache lookups by result",
		},
		[]string{"result"},
	)

	// Render Metrics
	RenderSubmissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "composer_render_submissions_total",
			Help: "Total number of render submissions",
		},
		[]string{"status"},
	)

	RenderPollsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "composer_render_polls_total",
			Help: "Total number of render progress checks by response type",
		},
		[]string{"type"},
	)

	RenderOutputSizeBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "composer_render_output_size_bytes",
			Help:    "Size of finished renders in bytes",
			Buckets: prometheus.ExponentialBuckets(1024*1024, 2, 12), // 1MB to 2GB
		},
	)

	RendersInProgress = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "composer_renders_in_progress",
			Help: "Number of render jobs currently polling",
		},
	)

	// Proxy Metrics
	ProxyRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "composer_proxy_requests_total",
			Help: "Total number of media proxy requests",
		},
		[]string{"status"},
	)

	ProxyBytesTransferred = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "composer_proxy_bytes_transferred_total",
			Help: "Total bytes streamed by the media proxy",
		},
	)

	ProxyUpstreamDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "composer_proxy_upstream_duration_seconds",
			Help:    "Time to first byte from proxied origins",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Storage Metrics
	StorageOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "composer_storage_operations_total",
			Help: "Total number of storage operations",
		},
		[]string{"operation", "status"},
	)

	StorageOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "composer_storage_operation_duration_seconds",
			Help:    "Storage operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// Queue Metrics
	PrewarmJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "composer_prewarm_jobs_total",
			Help: "Total number of keyframe pre-warm jobs",
		},
		[]string{"status"},
	)

	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "composer_queue_depth",
			Help: "Messages waiting in each pre-warm queue",
		},
		[]string{"queue"},
	)

	// Cache Metrics
	CacheHitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "composer_cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMissesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "composer_cache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"cache_type"},
	)

	// Error Metrics
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "composer_errors_total",
			Help: "Total number of errors",
		},
		[]string{"component", "error_type"},
	)
)

// RecordHTTPRequest records an HTTP request
func RecordHTTPRequest(method, endpoint, status string, duration float64) {
	HTTPRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration)
}

// RecordOverlayOperation records an add, change or remove
func RecordOverlayOperation(operation string, err error) {
	OverlayOperationsTotal.WithLabelValues(operation, statusOf(err)).Inc()
}

// RecordPlacement records the row picked by automatic placement
func RecordPlacement(row int) {
	PlacementRow.Observe(float64(row))
}

// UpdateCompositions sets the number of open sessions
func UpdateCompositions(active int) {
	CompositionsActive.Set(float64(active))
}

// RecordKeyframeExtraction records a finished extraction
func RecordKeyframeExtraction(outcome string, planned, succeeded int, duration float64) {
	KeyframeExtractionsTotal.WithLabelValues(outcome).Inc()
	KeyframeExtractionDuration.Observe(duration)
	if planned > 0 {
		KeyframeYieldRatio.Observe(float64(succeeded) / float64(planned))
	}
}

// RecordKeyframeAttempt records one frame grab
func RecordKeyframeAttempt(success bool) {
	if success {
		KeyframeAttemptsTotal.WithLabelValues("success").Inc()
	} else {
		KeyframeAttemptsTotal.WithLabelValues("failed").Inc()
	}
}

// RecordKeyframeCacheLookup records hit, miss, stale, duration_changed or corrupt
func RecordKeyframeCacheLookup(result string) {
	KeyframeCacheLookupsTotal.WithLabelValues(result).Inc()
}

// RecordRenderSubmission records a submission
func RecordRenderSubmission(err error) {
	RenderSubmissionsTotal.WithLabelValues(statusOf(err)).Inc()
	if err == nil {
		RendersInProgress.Inc()
	}
}

// RecordRenderPoll records a progress check. Terminal responses release the
// in-progress gauge.
func RecordRenderPoll(responseType string, terminal bool) {
	RenderPollsTotal.WithLabelValues(responseType).Inc()
	if terminal {
		RendersInProgress.Dec()
	}
}

// RecordRenderOutput records the size of a finished render
func RecordRenderOutput(sizeBytes int64) {
	RenderOutputSizeBytes.Observe(float64(sizeBytes))
}

// RecordProxyRequest records a media proxy response
func RecordProxyRequest(status int, bytes int64, upstreamDuration float64) {
	ProxyRequestsTotal.WithLabelValues(strconv.Itoa(status)).Inc()
	ProxyBytesTransferred.Add(float64(bytes))
	if upstreamDuration > 0 {
		ProxyUpstreamDuration.Observe(upstreamDuration)
	}
}

// RecordStorageOperation records a storage operation
func RecordStorageOperation(operation, status string, duration float64) {
	StorageOperationsTotal.WithLabelValues(operation, status).Inc()
	StorageOperationDuration.WithLabelValues(operation).Observe(duration)
}

// RecordPrewarmJob records a pre-warm job state change
func RecordPrewarmJob(status string) {
	PrewarmJobsTotal.WithLabelValues(status).Inc()
}

// UpdateQueueDepth sets the pending message count of a queue
func UpdateQueueDepth(queue string, depth int) {
	QueueDepth.WithLabelValues(queue).Set(float64(depth))
}

// RecordCacheAccess records cache hit or miss
func RecordCacheAccess(cacheType string, hit bool) {
	if hit {
		CacheHitsTotal.WithLabelValues(cacheType).Inc()
	} else {
		CacheMissesTotal.WithLabelValues(cacheType).Inc()
	}
}

// RecordError records an error
func RecordError(component, errorType string) {
	ErrorsTotal.WithLabelValues(component, errorType).Inc()
}

func statusOf(err error) string {
	if err != nil {
		return "failed"
	}
	return "success"
}
