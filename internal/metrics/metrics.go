package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Frame/time conversion metrics
	conversionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "frametime_conversions_total",
		Help: "Total frame/time conversions by operation",
	}, []string{"operation"})

	// Capture session metrics
	sessionsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "capture_sessions_created_total",
		Help: "Total capture sessions created",
	})

	sessionsDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "capture_sessions_deleted_total",
		Help: "Total capture sessions deleted explicitly",
	})

	framesSteppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "capture_frames_stepped_total",
		Help: "Total frame step requests by direction",
	}, []string{"direction"})

	seeksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "capture_seeks_total",
		Help: "Total seek requests",
	})

	picturesCapturedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "capture_pictures_captured_total",
		Help: "Total pictures captured by image format",
	}, []string{"format"})

	picturesRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "capture_pictures_rejected_total",
		Help: "Total pictures not stored by reason",
	}, []string{"reason"})

	picturesReplacedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "capture_pictures_replaced_total",
		Help: "Total pictures that replaced one taken at the same video time",
	})

	// Session store metrics
	storeOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "session_store_operation_duration_seconds",
		Help:    "Session store operation latency in seconds",
		Buckets: prometheus.ExponentialBuckets(0.00005, 4, 8), // 50µs to ~0.8s
	}, []string{"backend", "operation"})

	storeErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "session_store_errors_total",
		Help: "Total failed session store operations",
	}, []string{"backend", "operation"})

	storeConflictRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "session_store_conflict_retries_total",
		Help: "Total optimistic transaction retries",
	}, []string{"backend"})

	rateLimitedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "http_requests_rate_limited_total",
		Help: "Total HTTP requests rejected by the rate limiter",
	})
)

// RecordConversion counts one frame/time conversion.
func RecordConversion(operation string) {
	conversionsTotal.WithLabelValues(operation).Inc()
}

func SessionCreated() {
	sessionsCreatedTotal.Inc()
}

func SessionDeleted() {
	sessionsDeletedTotal.Inc()
}

// RecordStep counts a frame step; negative deltas count as backward.
func RecordStep(delta int64) {
	direction := "forward"
	if delta < 0 {
		direction = "backward"
	}
	framesSteppedTotal.WithLabelValues(direction).Inc()
}

func RecordSeek() {
	seeksTotal.Inc()
}

func PictureCaptured(format string) {
	picturesCapturedTotal.WithLabelValues(format).Inc()
}

func PictureRejected(reason string) {
	picturesRejectedTotal.WithLabelValues(reason).Inc()
}

func PictureReplaced() {
	picturesReplacedTotal.Inc()
}

// ObserveStoreOperation records the latency of a store call and counts it
// as failed when err is non-nil.
func ObserveStoreOperation(backend, operation string, start time.Time, err error) {
	storeOperationDuration.WithLabelValues(backend, operation).Observe(time.Since(start).Seconds())
	if err != nil {
		storeErrorsTotal.WithLabelValues(backend, operation).Inc()
	}
}

func StoreConflictRetry(backend string) {
	storeConflictRetriesTotal.WithLabelValues(backend).Inc()
}

func RequestRateLimited() {
	rateLimitedTotal.Inc()
}
