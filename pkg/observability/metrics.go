package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Turn outcomes used as the "outcome" label.
const (
	OutcomeTerminate = "terminate"
	OutcomeError     = "error"
	OutcomeTimeout   = "timeout"
)

var (
	// Relay metrics
	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "chatrelay",
			Subsystem: "relay",
			Name:      "sessions_active",
			Help:      "Number of threads with an open broker connection",
		},
	)

	TurnsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chatrelay",
			Subsystem: "relay",
			Name:      "turns_total",
			Help:      "Total number of finished turns by outcome",
		},
		[]string{"outcome"},
	)

	FragmentsReceived = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "chatrelay",
			Subsystem: "relay",
			Name:      "fragments_total",
			Help:      "Total number of incremental output fragments relayed",
		},
	)

	DecodeFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "chatrelay",
			Subsystem: "relay",
			Name:      "decode_fallbacks_total",
			Help:      "Messages whose payload could not be decoded and were relayed as raw text",
		},
	)

	PersistFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "chatrelay",
			Subsystem: "relay",
			Name:      "persist_failures_total",
			Help:      "Total number of failed end-of-turn persistence calls",
		},
	)

	TurnDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "chatrelay",
			Subsystem: "relay",
			Name:      "turn_duration_seconds",
			Help:      "Time from publishing a request to the end of the turn",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 9), // 250ms to ~64s
		},
	)

	// Callout metrics
	AuthRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chatrelay",
			Subsystem: "callout",
			Name:      "requests_total",
			Help:      "Total number of authorization requests by result",
		},
		[]string{"result"}, // "granted", "denied" or "dropped"
	)

	AuthLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "chatrelay",
			Subsystem: "callout",
			Name:      "duration_seconds",
			Help:      "Authorization request processing latency in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 10), // 1ms to ~1s
		},
	)
)
