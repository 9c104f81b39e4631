package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"jan-server/services/attachments-api/internal/domain/rowfiles"
)

// Attachments-API Metrics
var (
	// Request counters
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "jan",
			Subsystem: "attachments_api",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "jan",
			Subsystem: "attachments_api",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"method", "endpoint"},
	)

	TransfersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "jan",
			Subsystem: "attachments_api",
			Name:      "transfers_total",
			Help:      "Bulk transfers by direction and outcome",
		},
		[]string{"direction", "outcome"},
	)

	TransferFilesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "jan",
			Subsystem: "attachments_api",
			Name:      "transfer_files_total",
			Help:      "Files moved by successful transfers",
		},
		[]string{"direction"},
	)

	TransferBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "jan",
			Subsystem: "attachments_api",
			Name:      "transfer_bytes_total",
			Help:      "Bytes moved by successful transfers",
		},
		[]string{"direction"},
	)

	// Lock wait time, labelled by acquisition outcome
	LockWaitDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "jan",
			Subsystem: "attachments_api",
			Name:      "row_lock_wait_seconds",
			Help:      "Time spent waiting for row locks",
			Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		},
		[]string{"outcome"},
	)

	LockTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "jan",
			Subsystem: "attachments_api",
			Name:      "row_lock_transitions_total",
			Help:      "Row lock state transitions",
		},
		[]string{"state"},
	)

	LocksHeld = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "jan",
			Subsystem: "attachments_api",
			Name:      "row_locks_held",
			Help:      "Row locks currently held by this replica",
		},
	)
)

// RecordRequest records an HTTP request
func RecordRequest(method, endpoint, status string, durationSec float64) {
	RequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	RequestDuration.WithLabelValues(method, endpoint).Observe(durationSec)
}

// Recorder feeds rowfiles measurements into the prometheus collectors.
type Recorder struct{}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (*Recorder) RecordLockWait(outcome string, wait time.Duration) {
	LockWaitDuration.WithLabelValues(outcome).Observe(wait.Seconds())
}

func (*Recorder) RecordLockState(state rowfiles.LockState) {
	LockTransitionsTotal.WithLabelValues(string(state)).Inc()
	switch state {
	case rowfiles.LockHeld:
		LocksHeld.Inc()
	case rowfiles.LockReleased:
		LocksHeld.Dec()
	}
}

func (*Recorder) RecordTransfer(direction, outcome string, files int, bytes int64) {
	TransfersTotal.WithLabelValues(direction, outcome).Inc()
	if outcome == "ok" {
		TransferFilesTotal.WithLabelValues(direction).Add(float64(files))
		TransferBytesTotal.WithLabelValues(direction).Add(float64(bytes))
	}
}
