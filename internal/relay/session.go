package relay

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/time/rate"
)

// Session interprets inbound frames on one connection and drives the
// hub, history, and eviction scheduler. States: unannounced (connected,
// no identity) -> announced (identity associated) -> closed (terminal).
type Session struct {
	hub     *Hub
	history *History
	conn    *websocket.Conn

	grace      time.Duration
	remoteAddr string
	limiter    *rate.Limiter // optional per-connection inbound limiter

	userName string // display name from the last announce, for history metadata
	closed   bool
}

// NewSession creates a session for an admitted connection. limiter may
// be nil to disable inbound rate limiting.
func NewSession(hub *Hub, history *History, conn *websocket.Conn, grace time.Duration, remoteAddr string, limiter *rate.Limiter) *Session {
	return &Session{
		hub:        hub,
		history:    history,
		conn:       conn,
		grace:      grace,
		remoteAddr: remoteAddr,
		limiter:    limiter,
	}
}

// Run admits the connection and processes inbound frames in arrival
// order until an exit frame, a transport-level close, or context
// cancellation. Both exit and transport close schedule an eviction for
// the last announced identity and broadcast the roster.
func (s *Session) Run(ctx context.Context) {
	s.hub.Admit(ctx, s.conn)
	defer s.finish(ctx)

	for {
		msgType, payload, err := s.conn.Read(ctx)
		if err != nil {
			slog.Debug("session: read ended", "remote_addr", s.remoteAddr, "reason", err)
			return
		}
		if msgType != websocket.MessageText {
			continue
		}

		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				slog.Debug("session: rate limit wait ended", "remote_addr", s.remoteAddr, "reason", err)
				return
			}
		}

		if done := s.handleFrame(ctx, payload); done {
			return
		}
	}
}

// handleFrame processes one inbound frame. Returns true when the
// session is logically done and no further frames should be processed.
func (s *Session) handleFrame(ctx context.Context, payload []byte) bool {
	var frame Frame
	if err := json.Unmarshal(payload, &frame); err != nil {
		// Per-message failure: log and drop, connection stays open.
		slog.Debug("session: malformed frame dropped", "remote_addr", s.remoteAddr, "error", err)
		if s.hub.metrics != nil {
			s.hub.metrics.ErrorsTotal.WithLabelValues("malformed_frame").Inc()
		}
		return false
	}

	// Any frame carrying an identity reference announces presence,
	// idempotently, and cancels any pending eviction for that identity.
	if frame.User != nil && frame.User.ID != "" {
		s.hub.Associate(s.conn, frame.User.ID)
		s.userName = frame.User.Name
	}

	switch frame.Type {
	case FrameJoin:
		replay := encodeHistory(s.history.Replay())
		if err := s.hub.SendTo(ctx, s.conn, replay); err != nil {
			slog.Debug("session: history replay send failed", "remote_addr", s.remoteAddr, "error", err)
		}

	case FrameSend:
		senderID, _ := s.hub.IdentityFor(s.conn)
		s.history.Append(senderID, s.userName, payload)
		s.hub.BroadcastAll(ctx, payload)
		if s.hub.metrics != nil {
			s.hub.metrics.MessagesTotal.Inc()
			s.hub.metrics.BroadcastsTotal.WithLabelValues("message").Inc()
		}

	case FrameExit:
		return true

	default:
		slog.Debug("session: unrecognized frame type ignored", "remote_addr", s.remoteAddr, "type", frame.Type)
	}
	return false
}

// finish runs exactly once per session, for both explicit exit and
// transport-level close: dissociate, schedule eviction for the last
// announced identity, broadcast the roster.
func (s *Session) finish(ctx context.Context) {
	if s.closed {
		return
	}
	s.closed = true

	id, ok := s.hub.Dissociate(s.conn)
	if ok {
		s.hub.scheduler.Schedule(id, s.grace)
		if s.hub.metrics != nil {
			s.hub.metrics.EvictionsTotal.WithLabelValues("scheduled").Inc()
		}
	}
	// Roster broadcast must not die with the session's request context.
	bctx := context.Background()
	if ctx.Err() == nil {
		bctx = ctx
	}
	s.hub.BroadcastRoster(bctx)
}
