package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Visual-API Metrics
var (
	// Request counters
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "jan",
			Subsystem: "visual_api",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	// Request duration histogram
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "jan",
			Subsystem: "visual_api",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"method", "endpoint"},
	)

	// Upload counters
	UploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "jan",
			Subsystem: "visual_api",
			Name:      "uploads_total",
			Help:      "Total visual uploads",
		},
		[]string{"content_type", "status"},
	)

	UploadBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "jan",
			Subsystem: "visual_api",
			Name:      "upload_bytes_total",
			Help:      "Total bytes uploaded",
		},
		[]string{"content_type"},
	)

	// Storage operations per backend scheme
	StorageOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "jan",
			Subsystem: "visual_api",
			Name:      "storage_operations_total",
			Help:      "Total storage backend operations",
		},
		[]string{"scheme", "operation", "status"},
	)

	StorageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "jan",
			Subsystem: "visual_api",
			Name:      "storage_duration_seconds",
			Help:      "Storage backend operation duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 30},
		},
		[]string{"scheme", "operation"},
	)

	// Job transitions per target step
	JobTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "jan",
			Subsystem: "visual_api",
			Name:      "job_transitions_total",
			Help:      "Processing job transitions by target step",
		},
		[]string{"step"},
	)

	// Processing outcomes per visual kind
	ProcessingOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "jan",
			Subsystem: "visual_api",
			Name:      "processing_outcomes_total",
			Help:      "Visual processing outcomes",
		},
		[]string{"kind", "outcome"},
	)

	// Background tasks
	TasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "jan",
			Subsystem: "visual_api",
			Name:      "background_tasks_total",
			Help:      "Background tasks executed by the worker pool",
		},
		[]string{"task", "status"},
	)

	TaskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "jan",
			Subsystem: "visual_api",
			Name:      "background_task_duration_seconds",
			Help:      "Background task duration in seconds",
			Buckets:   []float64{1, 5, 30, 60, 300, 900, 1800},
		},
		[]string{"task"},
	)

	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "jan",
			Subsystem: "visual_api",
			Name:      "background_queue_depth",
			Help:      "Background tasks waiting for a worker",
		},
	)

	// Stale job sweep
	SweepRestartsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "jan",
			Subsystem: "visual_api",
			Name:      "sweep_restarts_total",
			Help:      "Stale jobs seen by the sweep",
		},
		[]string{"result"},
	)
)

// RecordRequest records an HTTP request
func RecordRequest(method, endpoint, status string, durationSec float64) {
	RequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	RequestDuration.WithLabelValues(method, endpoint).Observe(durationSec)
}

// RecordUpload records a visual upload
func RecordUpload(contentType, status string, bytes int64) {
	UploadsTotal.WithLabelValues(contentType, status).Inc()
	if status == "success" {
		UploadBytesTotal.WithLabelValues(contentType).Add(float64(bytes))
	}
}

// RecordStorageOperation records a backend operation
func RecordStorageOperation(scheme, operation, status string, durationSec float64) {
	StorageOperationsTotal.WithLabelValues(scheme, operation, status).Inc()
	StorageDuration.WithLabelValues(scheme, operation).Observe(durationSec)
}

func RecordJobTransition(step string) {
	JobTransitionsTotal.WithLabelValues(step).Inc()
}

func RecordProcessingOutcome(kind, outcome string) {
	ProcessingOutcomesTotal.WithLabelValues(kind, outcome).Inc()
}

func RecordTask(task, status string, durationSec float64) {
	TasksTotal.WithLabelValues(task, status).Inc()
	TaskDuration.WithLabelValues(task).Observe(durationSec)
}

func SetQueueDepth(depth int) {
	QueueDepth.Set(float64(depth))
}

func RecordSweepRestart(result string) {
	SweepRestartsTotal.WithLabelValues(result).Inc()
}
