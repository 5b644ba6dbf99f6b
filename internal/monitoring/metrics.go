package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus metrics for the sync hub. Scraped from /metrics.
var (
	// Connection metrics
	ConnectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "poshub_connections_total",
		Help: "Total number of WebSocket connections established",
	})
	ConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "poshub_connections_active",
		Help: "Current number of active WebSocket connections",
	})
	ConnectionsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "poshub_connections_failed_total",
		Help: "Total number of rejected or failed connection attempts",
	})
	DisconnectsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "poshub_disconnects_total",
		Help: "Total disconnections by reason",
	}, []string{"reason"})

	// Message metrics
	MessagesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "poshub_messages_sent_total",
		Help: "Total number of messages sent to clients",
	})
	MessagesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "poshub_messages_received_total",
		Help: "Total number of messages received from clients",
	})
	BytesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "poshub_bytes_sent_total",
		Help: "Total number of bytes sent to clients",
	})
	BytesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "poshub_bytes_received_total",
		Help: "Total number of bytes received from clients",
	})

	// Event store metrics
	EventsAppended = promauto.NewCounter(prometheus.CounterOpts{
		Name: "poshub_events_appended_total",
		Help: "Total number of events accepted by the store",
	})
	EventsDuplicate = promauto.NewCounter(prometheus.CounterOpts{
		Name: "poshub_events_duplicate_total",
		Help: "Total number of idempotent re-appends (same eventId)",
	})
	EventsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "poshub_events_rejected_total",
		Help: "Total number of events rejected by validation or authorization",
	})
	EventsEvicted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "poshub_events_evicted_total",
		Help: "Total number of events evicted by the retention cap",
	})
	EventsStored = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "poshub_events_stored",
		Help: "Current number of events retained in the store",
	})

	// Relay and replay metrics
	RelaysTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "poshub_relays_total",
		Help: "Total number of events.relay fan-outs performed",
	})
	ReplayRequests = promauto.NewCounter(prometheus.CounterOpts{
		Name: "poshub_replay_requests_total",
		Help: "Total number of cursor catch-up replays served",
	})

	// Lock manager metrics
	LocksActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "poshub_locks_active",
		Help: "Current number of unexpired aggregate locks",
	})
	LocksAcquired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "poshub_locks_acquired_total",
		Help: "Total number of successful lock acquisitions",
	})
	LocksContended = promauto.NewCounter(prometheus.CounterOpts{
		Name: "poshub_locks_contended_total",
		Help: "Total number of lock requests denied because another device holds the lock",
	})
	LocksReleased = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "poshub_locks_released_total",
		Help: "Total number of lock releases by reason",
	}, []string{"reason"})

	// Client behavior metrics
	RateLimitedMessages = promauto.NewCounter(prometheus.CounterOpts{
		Name: "poshub_rate_limited_messages_total",
		Help: "Total number of client messages dropped by rate limiting",
	})
	SlowClientsDisconnected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "poshub_slow_clients_disconnected_total",
		Help: "Total number of clients disconnected for not draining their send buffer",
	})
)

// Lock release reasons, shared between metrics labels and wire payloads.
const (
	ReleaseReasonManual       = "manual_release"
	ReleaseReasonDisconnected = "device_disconnected"
	ReleaseReasonExpired      = "expired"
)

// MetricsHandler returns the Prometheus scrape handler.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
