package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CallsTotal tracks calls through each resilience primitive
	CallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shield_calls_total",
			Help: "Total number of calls per component and outcome",
		},
		[]string{"component", "outcome"},
	)

	// RetryAttempts tracks retry attempts consumed per service
	RetryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shield_retry_attempts_total",
			Help: "Total number of operation attempts, including first tries",
		},
		[]string{"service"},
	)

	// BreakerStateChanges tracks circuit breaker transitions
	BreakerStateChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shield_breaker_state_changes_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"service", "state"},
	)

	// BreakerRejections tracks fail-fast rejections while a circuit is open
	BreakerRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shield_breaker_rejections_total",
			Help: "Total number of calls rejected by an open circuit",
		},
		[]string{"service"},
	)

	// BatchItems tracks per-item batch outcomes
	BatchItems = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shield_batch_items_total",
			Help: "Total number of batch items per outcome",
		},
		[]string{"outcome"},
	)

	// Escalations tracks escalation gate events
	Escalations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shield_escalations_total",
			Help: "Total number of escalation gate events",
		},
		[]string{"event"},
	)

	// FallbackResolutions tracks which tier served each fallback resolution
	FallbackResolutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shield_fallback_resolutions_total",
			Help: "Total number of fallback resolutions per tier",
		},
		[]string{"tier"},
	)

	// CallLatency tracks end-to-end latency per component
	CallLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "shield_call_latency_seconds",
			Help:    "Call latency per component in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"component"},
	)
)
