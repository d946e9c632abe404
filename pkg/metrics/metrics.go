// Package metrics provides Prometheus instrumentation for the chat agent.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MessagesReceived counts live messages by outcome (appended, preview_only, dropped, duplicate).
	MessagesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_messages_received_total",
			Help: "Live messages received from the channel",
		},
		[]string{"outcome"},
	)

	// MessagesSent counts send attempts by result.
	MessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_messages_sent_total",
			Help: "Send attempts over the live channel",
		},
		[]string{"result"},
	)

	// AckLatency tracks how long acknowledgments take.
	AckLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chat_ack_latency_seconds",
			Help:    "Time between send and acknowledgment",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
	)

	// Fetches counts REST fetches by kind and result.
	Fetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_fetches_total",
			Help: "History API fetches",
		},
		[]string{"kind", "result"},
	)

	// StaleFetches counts history results discarded because a newer selection superseded them.
	StaleFetches = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_stale_fetches_total",
			Help: "History results discarded after a newer selection",
		},
	)

	// ConnectionUp is 1 while the live channel is established.
	ConnectionUp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_connection_up",
			Help: "Whether the live channel is connected",
		},
	)

	// Reconnects counts reconnection attempts by result.
	Reconnects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_reconnects_total",
			Help: "Live channel reconnection attempts",
		},
		[]string{"result"},
	)
)

// RecordFetch records a history API fetch.
func RecordFetch(kind string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	Fetches.WithLabelValues(kind, result).Inc()
}

// SetConnected flips the connection gauge.
func SetConnected(up bool) {
	if up {
		ConnectionUp.Set(1)
		return
	}
	ConnectionUp.Set(0)
}
