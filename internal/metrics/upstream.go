package metrics

import (
	"strconv"
	"time"

	"github.com/vmetrics/vmetrics/internal/observability"
)

// Upstream fetch queue metrics
const (
	UpstreamRequestsTotal      = "upstream_requests_total"
	UpstreamCacheLookupsTotal  = "upstream_cache_lookups_total"
	UpstreamRateLimitWait      = "upstream_rate_limit_wait_ms"
	UpstreamRetriesTotal       = "upstream_retries_total"
	UpstreamQueueDepth         = "upstream_queue_depth"
	UpstreamDegradedTotal      = "upstream_degraded_total"
	UpstreamRequestDurationMs  = "upstream_request_duration_ms"
	cacheResultHit             = "hit"
	cacheResultMiss            = "miss"
	upstreamStatusNetworkError = "network_error"
)

// RecordUpstreamRequest records one outbound call and its outcome.
// status is the HTTP status code, or 0 for a transport failure.
func RecordUpstreamRequest(endpoint string, status int, duration time.Duration) {
	if observability.TelemetrySystem == nil {
		return
	}

	statusLabel := upstreamStatusNetworkError
	if status > 0 {
		statusLabel = strconv.Itoa(status)
	}

	_ = observability.TelemetrySystem.Counter(
		UpstreamRequestsTotal,
		1,
		map[string]string{
			"endpoint": endpoint,
			"status":   statusLabel,
		},
	)
	_ = observability.TelemetrySystem.Histogram(
		UpstreamRequestDurationMs,
		duration,
		map[string]string{
			"endpoint": endpoint,
		},
	)
}

// RecordCacheLookup records a response cache hit or miss.
func RecordCacheLookup(hit bool) {
	if observability.TelemetrySystem == nil {
		return
	}

	result := cacheResultMiss
	if hit {
		result = cacheResultHit
	}
	_ = observability.TelemetrySystem.Counter(
		UpstreamCacheLookupsTotal,
		1,
		map[string]string{"result": result},
	)
}

// RecordRateLimitWait records how long the drain loop slept before a call.
func RecordRateLimitWait(endpoint string, wait time.Duration) {
	if observability.TelemetrySystem == nil {
		return
	}
	_ = observability.TelemetrySystem.Histogram(
		UpstreamRateLimitWait,
		wait,
		map[string]string{"endpoint": endpoint},
	)
}

// RecordRetry records a retry after an HTTP 429.
func RecordRetry(endpoint string) {
	if observability.TelemetrySystem == nil {
		return
	}
	_ = observability.TelemetrySystem.Counter(
		UpstreamRetriesTotal,
		1,
		map[string]string{"endpoint": endpoint},
	)
}

// RecordDegraded records a request answered with the empty result after a second 429.
func RecordDegraded(endpoint string) {
	if observability.TelemetrySystem == nil {
		return
	}
	_ = observability.TelemetrySystem.Counter(
		UpstreamDegradedTotal,
		1,
		map[string]string{"endpoint": endpoint},
	)
}

// SetQueueDepth reports the number of requests waiting in the fetch queue.
func SetQueueDepth(depth int) {
	if observability.TelemetrySystem == nil {
		return
	}
	_ = observability.TelemetrySystem.Gauge(UpstreamQueueDepth, float64(depth), nil)
}
