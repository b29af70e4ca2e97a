package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestCounter counts HTTP requests by status code, method, and path
	RequestCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "motoreg_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"status", "method", "path"},
	)

	// RequestDuration measures HTTP request duration
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "motoreg_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"status", "method", "path"},
	)

	Registrations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "motoreg_registrations_total",
			Help: "Participants registered, by category",
		},
		[]string{"category"},
	)

	CheckIns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "motoreg_checkins_total",
			Help: "Transponder check-ins, by outcome (created/existing)",
		},
		[]string{"outcome"},
	)

	RaceStarts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "motoreg_race_starts_total",
			Help: "Times a new race session was started",
		},
	)

	AccessCodeRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "motoreg_access_code_rejections_total",
			Help: "Access-code attempts rejected, by reason (unknown/rate_limited)",
		},
		[]string{"reason"},
	)

	AnalysisCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "motoreg_analysis_calls_total",
			Help: "AI summary calls, by provider and outcome",
		},
		[]string{"provider", "outcome"},
	)

	// StoreOperationDuration measures persisted store transactions
	StoreOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "motoreg_store_operation_duration_seconds",
			Help:    "Store transaction duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)
)

// RecordStoreOperation records the duration of a store transaction
func RecordStoreOperation(operation string, startTime time.Time) {
	StoreOperationDuration.WithLabelValues(operation).Observe(time.Since(startTime).Seconds())
}
