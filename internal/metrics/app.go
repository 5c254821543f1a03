package metrics

import (
	"time"

	"github.com/vmetrics/vmetrics/internal/observability"
)

// Application-level metric names.
const (
	ReportsTotal        = "app_reports_total"
	HealthCheckTotal    = "app_health_check_total"
	HealthCheckDuration = "app_health_check_duration_ms"
	ServerStartTime     = "app_server_start_time_seconds"
)

// RecordReport counts one report request by grouping and outcome.
func RecordReport(group string, success bool) {
	status := "success"
	if !success {
		status = "failure"
	}
	if sys := observability.TelemetrySystem; sys != nil {
		_ = sys.Counter(ReportsTotal, 1, map[string]string{
			"group":  group,
			"status": status,
		})
	}
}

// RecordHealthCheck records one checker run. status is the check result
// label (healthy, degraded, unhealthy, timeout).
func RecordHealthCheck(checkName, status string, duration time.Duration) {
	sys := observability.TelemetrySystem
	if sys == nil {
		return
	}
	_ = sys.Counter(HealthCheckTotal, 1, map[string]string{
		"check":  checkName,
		"status": status,
	})
	_ = sys.Histogram(HealthCheckDuration, duration, map[string]string{"check": checkName})
}

// SetServerStartTime records the server start time as a Unix timestamp.
func SetServerStartTime(at time.Time) {
	if sys := observability.TelemetrySystem; sys != nil {
		_ = sys.Gauge(ServerStartTime, float64(at.Unix()), nil)
	}
}
