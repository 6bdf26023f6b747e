// Package metrics holds the Prometheus instruments shared by the recorder
// components. They are registered on the default registry at init and served
// by the daemon when metrics.addr is configured.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Resolve results
const (
	ResultFound    = "found"
	ResultNoStream = "no_stream"
	ResultNetwork  = "network_error"
)

// Recording outcomes
const (
	OutcomeFinished    = "finished"
	OutcomeEmptyOutput = "empty_output"
	OutcomeAbnormal    = "abnormal_exit"
	OutcomeStopped     = "stopped"
)

var (
	// Resolver
	Resolves = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webcorder_resolves_total",
			Help: "Total number of page resolutions by result",
		},
		[]string{"result"}, // "found", "no_stream", "network_error"
	)

	ResolveDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "webcorder_resolve_duration_seconds",
			Help:    "Duration of page resolutions in seconds",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 20},
		},
	)

	// Recordings
	RecordingsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "webcorder_recordings_started_total",
			Help: "Total number of capture processes spawned",
		},
	)

	RecordingsFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webcorder_recordings_finished_total",
			Help: "Total number of recordings that ended, by outcome",
		},
		[]string{"outcome"},
	)

	ActiveRecordings = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "webcorder_active_recordings",
			Help: "Current number of running capture processes",
		},
	)

	LaunchFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "webcorder_launch_failures_total",
			Help: "Total number of capture processes that failed to start",
		},
	)

	// Health monitor
	Restarts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "webcorder_restarts_total",
			Help: "Total number of recordings restarted by the health monitor",
		},
	)

	WatchedSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "webcorder_watched_sessions",
			Help: "Current number of recordings watched by the health monitor",
		},
	)

	// Auto-record
	AutoRecordFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "webcorder_autorecord_failures_total",
			Help: "Total number of failed auto-record detections",
		},
	)

	MonitoredSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "webcorder_monitored_sessions",
			Help: "Current number of sessions monitored for auto-record",
		},
	)

	// Circuit breaker
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "webcorder_circuit_breaker_state",
			Help: "Circuit breaker state per host (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name", "host"},
	)
)

// RecordResolve counts one resolution and its duration
func RecordResolve(result string, seconds float64) {
	Resolves.WithLabelValues(result).Inc()
	ResolveDuration.Observe(seconds)
}

// RecordFinished counts a recording that ended and lowers the active gauge
func RecordFinished(outcome string) {
	RecordingsFinished.WithLabelValues(outcome).Inc()
	ActiveRecordings.Dec()
}

// RecordStarted counts a spawned capture process and raises the active gauge
func RecordStarted() {
	RecordingsStarted.Inc()
	ActiveRecordings.Inc()
}
