// Package metrics provides Prometheus metrics for the project engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Filesystem metrics
	fsEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assetsync_fs_events_total",
			Help: "Total number of classified filesystem events",
		},
		[]string{"kind"},
	)

	rescansTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "assetsync_rescans_total",
			Help: "Total number of debounced project tree rescans",
		},
	)

	scanDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "assetsync_scan_duration_seconds",
			Help:    "Time to scan the project tree",
			Buckets: prometheus.DefBuckets,
		},
	)

	treeDirectories = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "assetsync_tree_directories",
			Help: "Number of directories in the current project tree",
		},
	)

	// Manifest metrics
	reconcilesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "assetsync_reconciles_total",
			Help: "Total number of manifest reconciliations",
		},
	)

	manifestWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assetsync_manifest_writes_total",
			Help: "Total number of manifest writes",
		},
		[]string{"status"},
	)

	// Resource metrics
	watchCommandsRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "assetsync_watch_commands_running",
			Help: "Number of running watch commands across all resources",
		},
	)

	buildCommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assetsync_build_commands_total",
			Help: "Total number of build commands by result",
		},
		[]string{"status"},
	)

	restartRequestsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "assetsync_restart_requests_total",
			Help: "Total number of resource restart requests",
		},
	)
)

// RecordFsEvent records a classified filesystem event.
func RecordFsEvent(kind string) {
	fsEventsTotal.WithLabelValues(kind).Inc()
}

// RecordRescan records a completed tree rescan.
func RecordRescan(duration time.Duration, directories int) {
	rescansTotal.Inc()
	scanDuration.Observe(duration.Seconds())
	treeDirectories.Set(float64(directories))
}

// RecordReconcile records a manifest reconciliation.
func RecordReconcile() {
	reconcilesTotal.Inc()
}

// RecordManifestWrite records a manifest write attempt.
func RecordManifestWrite(err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	manifestWritesTotal.WithLabelValues(status).Inc()
}

// WatchCommandStarted increments the running watch command gauge.
func WatchCommandStarted() {
	watchCommandsRunning.Inc()
}

// WatchCommandStopped decrements the running watch command gauge.
func WatchCommandStopped() {
	watchCommandsRunning.Dec()
}

// RecordBuildCommand records a finished build command.
func RecordBuildCommand(err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	buildCommandsTotal.WithLabelValues(status).Inc()
}

// RecordRestartRequest records a resource restart request.
func RecordRestartRequest() {
	restartRequestsTotal.Inc()
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
