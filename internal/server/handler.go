package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/time/rate"

	"github.com/ferrovax/chatrelay/internal/config"
	"github.com/ferrovax/chatrelay/internal/metrics"
	"github.com/ferrovax/chatrelay/internal/relay"
	"github.com/ferrovax/chatrelay/internal/roster"
)

// Handler is the HTTP handler for the relay: identity registration and
// verification plus the WebSocket endpoint that feeds the session loop.
type Handler struct {
	Roster      *roster.Roster
	Hub         *relay.Hub
	History     *relay.History
	Tracker     *Tracker
	RateLimiter *RateLimiter     // optional, nil if rate limiting disabled
	Metrics     *metrics.Metrics // optional, nil if metrics disabled
	ShutdownCtx context.Context  // cancelled on server shutdown

	// mu protects cfg during hot-reload
	mu  sync.RWMutex
	cfg *config.Config
	mux *http.ServeMux
}

// New creates the relay HTTP handler.
func New(cfg *config.Config, ro *roster.Roster, hub *relay.Hub, history *relay.History, rl *RateLimiter, shutdownCtx context.Context) *Handler {
	h := &Handler{
		Roster:      ro,
		Hub:         hub,
		History:     history,
		Tracker:     NewTracker(),
		RateLimiter: rl,
		ShutdownCtx: shutdownCtx,
		cfg:         cfg,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /register", h.handleRegister)
	mux.HandleFunc("POST /verify", h.handleVerify)
	mux.HandleFunc("/ws", h.handleWS)
	h.mux = mux
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// GetConfig returns the current config (thread-safe for hot-reload).
func (h *Handler) GetConfig() *config.Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.cfg
}

// UpdateConfig swaps the config on reload.
func (h *Handler) UpdateConfig(cfg *config.Config) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cfg = cfg
}

// statusBody is the envelope for register/verify responses.
type statusBody struct {
	Status   string           `json:"status"`
	Message  string           `json:"message,omitempty"`
	Identity *roster.Identity `json:"identity,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, body statusBody) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(body)
}

// handleRegister creates a new identity and pushes the updated roster
// to every open connection.
func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	clientIP := remoteIP(r)
	if !h.allow(clientIP) {
		writeJSON(w, http.StatusTooManyRequests, statusBody{Status: "error", Message: "too many requests"})
		return
	}

	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		writeJSON(w, http.StatusBadRequest, statusBody{Status: "error", Message: "bad request"})
		return
	}

	identity, err := h.Roster.Register(req.Name)
	if err != nil {
		if h.Metrics != nil {
			h.Metrics.RegistrationsTotal.WithLabelValues("conflict").Inc()
		}
		writeJSON(w, http.StatusConflict, statusBody{Status: "error", Message: "name taken"})
		return
	}
	if h.Metrics != nil {
		h.Metrics.RegistrationsTotal.WithLabelValues("ok").Inc()
	}

	writeJSON(w, http.StatusOK, statusBody{Status: "ok", Identity: &identity})

	// All connected peers see the new identity immediately.
	h.Hub.BroadcastRoster(h.ShutdownCtx)
}

// handleVerify reports whether an (id, name) pair is registered.
func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == "" || req.Name == "" {
		writeJSON(w, http.StatusBadRequest, statusBody{Status: "error", Message: "bad request"})
		return
	}

	if !h.Roster.Verify(req.ID, req.Name) {
		writeJSON(w, http.StatusNotFound, statusBody{Status: "error", Message: "not found"})
		return
	}
	writeJSON(w, http.StatusOK, statusBody{Status: "ok"})
}

// handleWS upgrades the connection and runs the relay session loop on it.
func (h *Handler) handleWS(w http.ResponseWriter, r *http.Request) {
	cfg := h.GetConfig()
	clientIP := remoteIP(r)

	if !h.allow(clientIP) {
		slog.Warn("rate limit exceeded", "client_ip", clientIP)
		http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
		return
	}

	if reason := h.Tracker.TryAdd(clientIP, cfg.Security.MaxConnections, cfg.Security.MaxConnectionsPerIP); reason != "" {
		if reason == "max_connections" {
			slog.Warn("max connections reached", "current", h.Tracker.Active(), "max", cfg.Security.MaxConnections)
			http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
		} else {
			slog.Warn("max connections per IP reached", "client_ip", clientIP, "current", h.Tracker.ActiveForIP(clientIP))
			http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
		}
		return
	}
	if h.Metrics != nil {
		h.Metrics.ConnectionsTotal.Inc()
		h.Metrics.ActiveConnections.Inc()
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.Tracker.Remove(clientIP)
		if h.Metrics != nil {
			h.Metrics.ActiveConnections.Dec()
			h.Metrics.ErrorsTotal.WithLabelValues("accept_failure").Inc()
		}
		slog.Error("failed to accept WebSocket", "client_ip", clientIP, "error", err)
		return
	}
	conn.SetReadLimit(cfg.Relay.MaxMessageSize)

	slog.Info("connection established", "client_ip", clientIP)
	start := time.Now()

	// Session lifetime is bounded by server shutdown, not the request
	// context: ServeHTTP stays on the stack for the whole session here,
	// but shutdown must be able to tear every session down.
	sessCtx, sessCancel := context.WithCancel(h.ShutdownCtx)
	defer sessCancel()

	// Keepalive must run concurrently with the read loop per
	// coder/websocket docs.
	if cfg.Relay.PingInterval > 0 {
		go h.keepAlive(sessCtx, conn, cfg.Relay.PingInterval, cfg.Relay.PongTimeout, sessCancel)
	}

	var limiter *rate.Limiter
	if cfg.Security.RateLimit.Enabled && cfg.Security.RateLimit.MessagesPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.Security.RateLimit.MessagesPerSecond), cfg.Security.RateLimit.MessagesPerSecond)
	}

	sess := relay.NewSession(h.Hub, h.History, conn, cfg.Relay.GracePeriod, clientIP, limiter)
	sess.Run(sessCtx)

	conn.Close(websocket.StatusNormalClosure, "")
	h.Tracker.Remove(clientIP)
	if h.Metrics != nil {
		h.Metrics.ActiveConnections.Dec()
	}
	slog.Info("connection closed", "client_ip", clientIP, "duration", time.Since(start).String())
}

// keepAlive sends periodic pings to detect dead connections. On failure
// it closes the connection and cancels the session context.
func (h *Handler) keepAlive(ctx context.Context, conn *websocket.Conn, interval, pongTimeout time.Duration, onFail context.CancelFunc) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, pingCancel := context.WithTimeout(ctx, pongTimeout)
			err := conn.Ping(pingCtx)
			pingCancel()
			if err != nil {
				slog.Debug("keepalive ping failed, closing connection", "error", err)
				conn.Close(websocket.StatusGoingAway, "keepalive timeout")
				onFail()
				return
			}
		}
	}
}

func (h *Handler) allow(ip string) bool {
	if h.RateLimiter == nil {
		return true
	}
	return h.RateLimiter.Allow(ip)
}

func remoteIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
