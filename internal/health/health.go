// Package health serves the local health endpoint. It runs on its own
// loopback listener so monitoring tools can probe the process without
// reaching the public relay port.
package health

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"runtime"
	"time"

	"github.com/ferrovax/chatrelay/internal/eviction"
	"github.com/ferrovax/chatrelay/internal/relay"
	"github.com/ferrovax/chatrelay/internal/roster"
	"github.com/ferrovax/chatrelay/internal/server"
)

// Response is the JSON response from the /health endpoint.
type Response struct {
	Status            string   `json:"status"`
	Uptime            string   `json:"uptime"`
	ActiveConnections int      `json:"active_connections"`
	RosterSize        int      `json:"roster_size"`
	Version           string   `json:"version,omitempty"`
	Timestamp         string   `json:"timestamp"`
	Details           *Details `json:"details,omitempty"`
}

// Details contains extended health information.
type Details struct {
	TotalConnections int64   `json:"total_connections"`
	HistoryMessages  int     `json:"history_messages"`
	PendingEvictions int     `json:"pending_evictions"`
	MemoryMB         float64 `json:"memory_mb"`
}

// Handler serves the health check endpoint.
type Handler struct {
	startTime time.Time
	tracker   *server.Tracker
	roster    *roster.Roster
	history   *relay.History
	scheduler *eviction.Scheduler
	version   string
	detailed  bool
}

// NewHandler creates a new health check handler.
func NewHandler(tracker *server.Tracker, ro *roster.Roster, history *relay.History, sched *eviction.Scheduler, version string, detailed bool) *Handler {
	return &Handler{
		startTime: time.Now(),
		tracker:   tracker,
		roster:    ro,
		history:   history,
		scheduler: sched,
		version:   version,
		detailed:  detailed,
	}
}

// ServeHTTP handles health check requests.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp := Response{
		Status:            "ok",
		Uptime:            time.Since(h.startTime).Round(time.Second).String(),
		ActiveConnections: h.tracker.Active(),
		RosterSize:        h.roster.Len(),
		Timestamp:         time.Now().UTC().Format(time.RFC3339),
	}

	if h.detailed {
		var memStats runtime.MemStats
		runtime.ReadMemStats(&memStats)
		resp.Version = h.version
		resp.Details = &Details{
			TotalConnections: h.tracker.Total(),
			HistoryMessages:  h.history.Len(),
			PendingEvictions: h.scheduler.PendingCount(),
			MemoryMB:         float64(memStats.Alloc) / 1024 / 1024,
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode health response", "error", err)
	}
}
