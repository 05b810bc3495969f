package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNew(t *testing.T) {
	// Reset default registry for test isolation
	reg := prometheus.NewRegistry()
	prometheus.DefaultRegisterer = reg
	prometheus.DefaultGatherer = reg

	m := New()

	if m.ConnectionsTotal == nil {
		t.Error("ConnectionsTotal is nil")
	}
	if m.ActiveConnections == nil {
		t.Error("ActiveConnections is nil")
	}
	if m.RegistrationsTotal == nil {
		t.Error("RegistrationsTotal is nil")
	}
	if m.MessagesTotal == nil {
		t.Error("MessagesTotal is nil")
	}
	if m.BroadcastsTotal == nil {
		t.Error("BroadcastsTotal is nil")
	}
	if m.SendFailuresTotal == nil {
		t.Error("SendFailuresTotal is nil")
	}
	if m.EvictionsTotal == nil {
		t.Error("EvictionsTotal is nil")
	}
	if m.ErrorsTotal == nil {
		t.Error("ErrorsTotal is nil")
	}
}

func TestCountersIncrement(t *testing.T) {
	reg := prometheus.NewRegistry()
	prometheus.DefaultRegisterer = reg
	prometheus.DefaultGatherer = reg

	m := New()

	m.ConnectionsTotal.Inc()
	m.ActiveConnections.Inc()
	m.ActiveConnections.Dec()
	m.RegistrationsTotal.WithLabelValues("ok").Inc()
	m.RegistrationsTotal.WithLabelValues("conflict").Inc()
	m.MessagesTotal.Inc()
	m.BroadcastsTotal.WithLabelValues("message").Inc()
	m.BroadcastsTotal.WithLabelValues("roster").Inc()
	m.SendFailuresTotal.Inc()
	m.EvictionsTotal.WithLabelValues("scheduled").Inc()
	m.EvictionsTotal.WithLabelValues("fired").Inc()
	m.ErrorsTotal.WithLabelValues("malformed_frame").Inc()

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(mfs) == 0 {
		t.Error("no metric families gathered")
	}
}
