package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "goal_cache_lookups_total",
			Help: "Goal cache lookups by outcome",
		},
		[]string{"outcome"}, // outcome: hit, miss, expired
	)

	AggregationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "goal_aggregation_duration_seconds",
			Help:    "Duration of one goal aggregation pass in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"goal_type"},
	)

	APICallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "backend_api_call_duration_seconds",
			Help:    "Backend API call duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"endpoint", "status"},
	)

	CompletionAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "goal_completion_attempts_total",
			Help: "Completion transition attempts by outcome",
		},
		[]string{"outcome"}, // outcome: success, failed, suppressed
	)

	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "goal_events_published_total",
			Help: "Goal lifecycle events published to the broker",
		},
		[]string{"routing_key", "status"},
	)
)

func RecordCacheLookup(outcome string) {
	CacheLookups.WithLabelValues(outcome).Inc()
}

func RecordAggregation(goalType string, duration time.Duration) {
	AggregationDuration.WithLabelValues(goalType).Observe(duration.Seconds())
}

func RecordAPICall(endpoint, status string, duration time.Duration) {
	APICallDuration.WithLabelValues(endpoint, status).Observe(duration.Seconds())
}

func RecordCompletionAttempt(outcome string) {
	CompletionAttempts.WithLabelValues(outcome).Inc()
}

func RecordEventPublished(routingKey, status string) {
	EventsPublished.WithLabelValues(routingKey, status).Inc()
}
