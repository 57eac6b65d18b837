// Package metrics provides Prometheus metrics for the trellis service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ConnectionsActive tracks websocket connections currently open per room
	ConnectionsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "trellis",
			Subsystem: "relay",
			Name:      "connections_active",
			Help:      "Number of websocket connections currently open",
		},
		[]string{"community"},
	)

	// ConnectionsTotal tracks websocket connection attempts by outcome
	ConnectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trellis",
			Subsystem: "relay",
			Name:      "connections_total",
			Help:      "Total number of websocket connection attempts by outcome",
		},
		[]string{"community", "outcome"},
	)

	// MessagesRelayed tracks protocol messages fanned out to peers
	MessagesRelayed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trellis",
			Subsystem: "relay",
			Name:      "messages_relayed_total",
			Help:      "Total number of protocol messages relayed to room peers",
		},
		[]string{"kind"},
	)

	// RoomsActive tracks rooms currently held in memory
	RoomsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "trellis",
			Subsystem: "relay",
			Name:      "rooms_active",
			Help:      "Number of rooms currently held in memory",
		},
	)

	// UpdatesPersisted tracks document updates written to the update log
	UpdatesPersisted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trellis",
			Subsystem: "store",
			Name:      "updates_persisted_total",
			Help:      "Total number of document updates written to the update log",
		},
		[]string{"backend", "status"},
	)

	// UpdatePersistDuration tracks update log write duration
	UpdatePersistDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "trellis",
			Subsystem: "store",
			Name:      "update_persist_duration_seconds",
			Help:      "Duration of update log writes in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"backend"},
	)

	// DocumentLoadDuration tracks full document replay duration on room bind
	DocumentLoadDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "trellis",
			Subsystem: "store",
			Name:      "document_load_duration_seconds",
			Help:      "Duration of document replays from the update log in seconds",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"backend"},
	)

	// AuthDecisions tracks admission decisions at the websocket gateway
	AuthDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trellis",
			Subsystem: "auth",
			Name:      "decisions_total",
			Help:      "Total number of admission decisions by result",
		},
		[]string{"result"},
	)

	// LocksHeld tracks node locks acquired by sessions in this process
	LocksHeld = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "trellis",
			Subsystem: "locks",
			Name:      "held",
			Help:      "Number of node locks currently held by sessions in this process",
		},
	)

	// LockContention tracks lock acquisitions that hit an existing holder
	LockContention = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "trellis",
			Subsystem: "locks",
			Name:      "contention_total",
			Help:      "Total number of lock acquisitions denied due to an existing holder",
		},
	)

	// KafkaMessagesPublished tracks Kafka messages published
	KafkaMessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trellis",
			Subsystem: "kafka",
			Name:      "messages_published_total",
			Help:      "Total number of messages published to Kafka",
		},
		[]string{"topic", "status"},
	)

	// HydrationRequests tracks diagram content fetches by status
	HydrationRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trellis",
			Subsystem: "hydrate",
			Name:      "requests_total",
			Help:      "Total number of diagram content fetches by status",
		},
		[]string{"status"},
	)
)

// RecordConnection records a websocket connection attempt outcome
func RecordConnection(community, outcome string) {
	ConnectionsTotal.WithLabelValues(community, outcome).Inc()
}

// RecordUpdatePersist records an update log write
func RecordUpdatePersist(backend, status string, durationSeconds float64) {
	UpdatesPersisted.WithLabelValues(backend, status).Inc()
	UpdatePersistDuration.WithLabelValues(backend).Observe(durationSeconds)
}

// RecordKafkaPublish records a Kafka publish operation
func RecordKafkaPublish(topic, status string) {
	KafkaMessagesPublished.WithLabelValues(topic, status).Inc()
}
