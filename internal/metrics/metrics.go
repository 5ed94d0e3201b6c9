package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Listener metrics
var (
	// NotificationsReceived counts notifications delivered to the handler by channel
	NotificationsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pglistener_notifications_received_total",
			Help: "Notifications delivered to the handler by channel",
		},
		[]string{"channel"},
	)

	// NotificationsDropped counts notifications that arrived on a channel nobody listens to
	NotificationsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pglistener_notifications_dropped_total",
			Help: "Notifications dropped because their channel is not watched",
		},
	)

	// PayloadDecodeFailures counts payloads that were not a JSON object
	PayloadDecodeFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pglistener_payload_decode_failures_total",
			Help: "Payloads that could not be decoded as a JSON object",
		},
	)

	IdleTimeouts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pglistener_idle_timeouts_total",
			Help: "Idle timeouts elapsed without any notification",
		},
	)

	ConnectionLost = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pglistener_connection_lost_total",
			Help: "Run loops terminated by a transport failure",
		},
	)

	// ListenerState tracks the current lifecycle state (0=created, 1=subscribed, 2=running, 3=stopped)
	ListenerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pglistener_state",
			Help: "Current listener state (0=created, 1=subscribed, 2=running, 3=stopped)",
		},
	)
)

// Kafka sink metrics
var (
	KafkaForwarded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pglistener_kafka_forwarded_total",
			Help: "Notifications forwarded to Kafka by status",
		},
		[]string{"status"},
	)
)
