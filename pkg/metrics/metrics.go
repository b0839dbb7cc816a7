package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_events_received_total",
		Help: "The total number of webhook events received from Plane",
	}, []string{"event_type"})

	EventsRelayed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_events_relayed_total",
		Help: "The total number of events that reached a terminal outcome",
	}, []string{"event_type", "outcome"})

	EventsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_events_rejected_total",
		Help: "The total number of inbound requests rejected before relay",
	}, []string{"reason"})

	DuplicatesSuppressed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_duplicates_suppressed_total",
		Help: "The total number of redeliveries skipped by the duplicate guard",
	}, []string{"event_type"})

	DeliveryAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_delivery_attempts_total",
		Help: "The total number of outbound Discord webhook attempts",
	}, []string{"result"})

	DeliveryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "relay_delivery_duration_seconds",
		Help:    "Time from claim to terminal delivery outcome",
		Buckets: prometheus.DefBuckets,
	}, []string{"event_type"})

	RateLimitWaits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_rate_limit_waits_total",
		Help: "The total number of outbound sends delayed by a 429 retry-after",
	})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_queue_depth",
		Help: "Current depth of the broker delivery queue (queue mode only)",
	})
)
