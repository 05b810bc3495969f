package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the relay.
type Metrics struct {
	ConnectionsTotal   prometheus.Counter
	ActiveConnections  prometheus.Gauge
	RegistrationsTotal *prometheus.CounterVec
	MessagesTotal      prometheus.Counter
	BroadcastsTotal    *prometheus.CounterVec
	SendFailuresTotal  prometheus.Counter
	EvictionsTotal     *prometheus.CounterVec
	ErrorsTotal        *prometheus.CounterVec
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		ConnectionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "chatrelay_connections_total",
			Help: "Total WebSocket connections accepted",
		}),
		ActiveConnections: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "chatrelay_active_connections",
			Help: "Current open WebSocket connections",
		}),
		RegistrationsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "chatrelay_registrations_total",
			Help: "Identity registration attempts",
		}, []string{"result"}),
		MessagesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "chatrelay_messages_total",
			Help: "Total chat messages relayed",
		}),
		BroadcastsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "chatrelay_broadcasts_total",
			Help: "Broadcast fan-outs performed",
		}, []string{"kind"}),
		SendFailuresTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "chatrelay_send_failures_total",
			Help: "Per-target delivery failures during broadcast",
		}),
		EvictionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "chatrelay_evictions_total",
			Help: "Eviction scheduler activity",
		}, []string{"event"}),
		ErrorsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "chatrelay_errors_total",
			Help: "Total errors",
		}, []string{"type"}),
	}
}
