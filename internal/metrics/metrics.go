// Package metrics provides Prometheus metrics for bimsync.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// API request metrics
	apiRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bimsync_api_requests_total",
			Help: "Total number of BINA API requests by operation and result kind",
		},
		[]string{"operation", "result"},
	)

	apiRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bimsync_api_request_duration_seconds",
			Help:    "BINA API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// Transfer metrics
	transferBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bimsync_transfer_bytes_total",
			Help: "Total bytes written by completed file transfers",
		},
	)

	transfersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bimsync_transfers_total",
			Help: "Total number of file transfers",
		},
		[]string{"status"},
	)

	transferDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bimsync_transfer_duration_seconds",
			Help:    "File transfer duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		},
	)

	// Sync run metrics
	syncRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bimsync_sync_runs_total",
			Help: "Total number of sync runs by outcome",
		},
		[]string{"outcome"},
	)

	syncItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bimsync_sync_items_total",
			Help: "Total number of work items by terminal status",
		},
		[]string{"status"},
	)

	syncRunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bimsync_sync_run_duration_seconds",
			Help:    "Sync run duration in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 300, 900, 1800},
		},
	)

	lastRunTimestamp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bimsync_last_run_timestamp_seconds",
			Help: "Unix time of the last finished sync run",
		},
	)

	// Progress stream metrics
	progressSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bimsync_progress_subscribers",
			Help: "Number of active progress event subscribers",
		},
	)

	progressEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bimsync_progress_events_total",
			Help: "Total progress events published by type",
		},
		[]string{"type"},
	)

	// Report upload metrics
	reportUploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bimsync_report_uploads_total",
			Help: "Total clash report uploads",
		},
		[]string{"status"},
	)

	// Mirror metrics
	mirrorOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bimsync_mirror_operations_total",
			Help: "Total mirror operations by backend and status",
		},
		[]string{"backend", "operation", "status"},
	)

	mirrorOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bimsync_mirror_operation_duration_seconds",
			Help:    "Mirror operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend", "operation"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordAPIRequest records one API call. result is "ok" or a failure kind.
func RecordAPIRequest(operation, result string, duration time.Duration) {
	apiRequestsTotal.WithLabelValues(operation, result).Inc()
	apiRequestDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordTransfer records a file transfer.
func RecordTransfer(bytes int64, duration time.Duration, success bool) {
	status := "success"
	if !success {
		status = "failure"
	}
	transfersTotal.WithLabelValues(status).Inc()
	transferDuration.Observe(duration.Seconds())
	if success {
		transferBytesTotal.Add(float64(bytes))
	}
}

// RecordSyncRun records a finished run with its outcome label.
func RecordSyncRun(outcome string, duration time.Duration) {
	syncRunsTotal.WithLabelValues(outcome).Inc()
	syncRunDuration.Observe(duration.Seconds())
	lastRunTimestamp.SetToCurrentTime()
}

// RecordSyncItem records an item reaching a terminal status.
func RecordSyncItem(status string) {
	syncItemsTotal.WithLabelValues(status).Inc()
}

// SetProgressSubscribers sets the active progress subscriber gauge.
func SetProgressSubscribers(count int64) {
	progressSubscribers.Set(float64(count))
}

// RecordProgressEvent records a published progress event.
func RecordProgressEvent(eventType string) {
	progressEventsTotal.WithLabelValues(eventType).Inc()
}

// RecordReportUpload records a clash report upload attempt.
func RecordReportUpload(success bool) {
	status := "success"
	if !success {
		status = "failure"
	}
	reportUploadsTotal.WithLabelValues(status).Inc()
}

// RecordMirrorOperation records a mirror backend operation.
func RecordMirrorOperation(backend, operation string, duration time.Duration, success bool) {
	status := "success"
	if !success {
		status = "failure"
	}
	mirrorOperationsTotal.WithLabelValues(backend, operation, status).Inc()
	mirrorOperationDuration.WithLabelValues(backend, operation).Observe(duration.Seconds())
}
