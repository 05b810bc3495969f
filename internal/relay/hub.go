// Package relay implements the presence-and-broadcast core: the
// connection registry, broadcast fan-out, message history, and the
// per-connection session state machine that drives them.
package relay

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/ferrovax/chatrelay/internal/eviction"
	"github.com/ferrovax/chatrelay/internal/metrics"
	"github.com/ferrovax/chatrelay/internal/roster"
)

// connState is the registry-owned record for one open connection. The
// identity association lives here explicitly, never in handler closures.
type connState struct {
	identityID string // empty until the peer announces itself
}

// Hub tracks the live set of open connections and is the single source
// of truth for "who is currently reachable". Thread-safe via sync.RWMutex.
// Broadcasts snapshot their targets under RLock, then write without
// holding the lock; coder/websocket Write() serializes internally, so
// concurrent writes to one connection are safe.
type Hub struct {
	mu    sync.RWMutex
	conns map[*websocket.Conn]*connState

	roster       *roster.Roster
	scheduler    *eviction.Scheduler
	writeTimeout time.Duration
	metrics      *metrics.Metrics // optional, nil if metrics disabled
}

// NewHub creates an empty hub. writeTimeout bounds each per-target send
// so one slow destination never stalls delivery to the others.
func NewHub(ro *roster.Roster, sched *eviction.Scheduler, writeTimeout time.Duration) *Hub {
	return &Hub{
		conns:        make(map[*websocket.Conn]*connState),
		roster:       ro,
		scheduler:    sched,
		writeTimeout: writeTimeout,
	}
}

// SetMetrics attaches optional Prometheus metrics.
func (h *Hub) SetMetrics(m *metrics.Metrics) {
	h.metrics = m
}

// Admit registers a newly opened connection with no associated identity
// and immediately sends it the current roster snapshot.
func (h *Hub) Admit(ctx context.Context, conn *websocket.Conn) {
	h.mu.Lock()
	h.conns[conn] = &connState{}
	total := len(h.conns)
	h.mu.Unlock()
	slog.Debug("hub: connection admitted", "connections", total)

	if err := h.SendTo(ctx, conn, encodeRoster(h.roster.Snapshot())); err != nil {
		slog.Debug("hub: initial snapshot send failed", "error", err)
	}
}

// Associate records that conn currently represents identityID and
// cancels any pending eviction for that identity. Announcing presence
// cancels the eviction no matter which connection announces it.
func (h *Hub) Associate(conn *websocket.Conn, identityID string) {
	h.mu.Lock()
	if st, ok := h.conns[conn]; ok {
		st.identityID = identityID
	}
	h.mu.Unlock()

	if h.scheduler.Cancel(identityID) && h.metrics != nil {
		h.metrics.EvictionsTotal.WithLabelValues("cancelled").Inc()
	}
}

// Dissociate removes conn from the live set and returns the identity it
// last represented, if any. The caller decides whether to schedule an
// eviction for it.
func (h *Hub) Dissociate(conn *websocket.Conn) (string, bool) {
	h.mu.Lock()
	st, ok := h.conns[conn]
	var id string
	if ok {
		id = st.identityID
		delete(h.conns, conn)
	}
	h.mu.Unlock()

	if !ok || id == "" {
		return "", false
	}
	return id, true
}

// BroadcastAll delivers payload to every currently open connection,
// best-effort. A failed send is logged and skipped; delivery to the
// remaining targets continues and no error surfaces to the caller.
func (h *Hub) BroadcastAll(ctx context.Context, payload []byte) {
	h.mu.RLock()
	targets := make([]*websocket.Conn, 0, len(h.conns))
	for conn := range h.conns {
		targets = append(targets, conn)
	}
	h.mu.RUnlock()

	for _, conn := range targets {
		if err := h.SendTo(ctx, conn, payload); err != nil {
			slog.Debug("hub: broadcast write failed", "error", err)
			if h.metrics != nil {
				h.metrics.SendFailuresTotal.Inc()
			}
		}
	}
}

// BroadcastRoster serializes the current roster snapshot and fans it
// out to every open connection.
func (h *Hub) BroadcastRoster(ctx context.Context) {
	h.BroadcastAll(ctx, encodeRoster(h.roster.Snapshot()))
	if h.metrics != nil {
		h.metrics.BroadcastsTotal.WithLabelValues("roster").Inc()
	}
}

// SendTo delivers payload to a single connection with the hub's write
// timeout applied.
func (h *Hub) SendTo(ctx context.Context, conn *websocket.Conn, payload []byte) error {
	writeCtx := ctx
	if h.writeTimeout > 0 {
		var cancel context.CancelFunc
		writeCtx, cancel = context.WithTimeout(ctx, h.writeTimeout)
		defer cancel()
	}
	return conn.Write(writeCtx, websocket.MessageText, payload)
}

// ConnCount returns the number of open connections.
func (h *Hub) ConnCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// IdentityFor returns the identity currently associated with conn.
func (h *Hub) IdentityFor(conn *websocket.Conn) (string, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	st, ok := h.conns[conn]
	if !ok || st.identityID == "" {
		return "", false
	}
	return st.identityID, true
}

// CloseAll sends a close frame to every open connection. Used when the
// server drains on shutdown.
func (h *Hub) CloseAll(code websocket.StatusCode, reason string) {
	h.mu.RLock()
	targets := make([]*websocket.Conn, 0, len(h.conns))
	for conn := range h.conns {
		targets = append(targets, conn)
	}
	h.mu.RUnlock()

	for _, conn := range targets {
		conn.Close(code, reason)
	}
}
