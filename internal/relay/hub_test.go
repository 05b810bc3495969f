package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/ferrovax/chatrelay/internal/eviction"
	"github.com/ferrovax/chatrelay/internal/roster"
)

func newTestHub(t *testing.T) (*Hub, *roster.Roster) {
	t.Helper()
	ro, err := roster.New(nil)
	if err != nil {
		t.Fatalf("roster: %v", err)
	}
	sched := eviction.New(ro, nil)
	t.Cleanup(sched.Stop)
	return NewHub(ro, sched, 5*time.Second), ro
}

// wsPair dials a throwaway server and returns both ends of a WebSocket
// connection. The server side is what the hub writes to.
func wsPair(t *testing.T, ctx context.Context) (server, client *websocket.Conn) {
	t.Helper()

	serverConns := make(chan *websocket.Conn, 1)
	done := make(chan struct{})
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		conn, err := websocket.Accept(w, req, nil)
		if err != nil {
			return
		}
		serverConns <- conn
		<-done // keep handler alive until test cleanup
		conn.CloseNow()
	}))
	t.Cleanup(s.Close)
	t.Cleanup(func() { close(done) })

	c, _, err := websocket.Dial(ctx, "ws"+s.URL[4:], nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { c.CloseNow() })
	return <-serverConns, c
}

func TestAdmitSendsRosterSnapshot(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	hub, ro := newTestHub(t)
	alice, _ := ro.Register("alice")

	sc, cc := wsPair(t, ctx)
	hub.Admit(ctx, sc)

	_, msg, err := cc.Read(ctx)
	if err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	var snap []roster.Identity
	if err := json.Unmarshal(msg, &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if len(snap) != 1 || snap[0].ID != alice.ID {
		t.Errorf("snapshot = %v, want [alice]", snap)
	}
	if hub.ConnCount() != 1 {
		t.Errorf("conn count = %d, want 1", hub.ConnCount())
	}
}

func TestAssociateCancelsPendingEviction(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ro, _ := roster.New(nil)
	alice, _ := ro.Register("alice")
	sched := eviction.New(ro, nil)
	defer sched.Stop()
	hub := NewHub(ro, sched, 5*time.Second)

	sched.Schedule(alice.ID, 80*time.Millisecond)

	sc, _ := wsPair(t, ctx)
	hub.Admit(ctx, sc)
	hub.Associate(sc, alice.ID)

	if sched.PendingCount() != 0 {
		t.Error("associate must cancel the pending eviction")
	}
	time.Sleep(150 * time.Millisecond)
	if !ro.Verify(alice.ID, "alice") {
		t.Error("identity was evicted despite re-announcement")
	}
}

func TestDissociateReturnsLastIdentity(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	hub, ro := newTestHub(t)
	alice, _ := ro.Register("alice")

	sc, _ := wsPair(t, ctx)
	hub.Admit(ctx, sc)
	hub.Associate(sc, alice.ID)

	id, ok := hub.Dissociate(sc)
	if !ok || id != alice.ID {
		t.Errorf("dissociate = (%q, %v), want (%q, true)", id, ok, alice.ID)
	}
	if hub.ConnCount() != 0 {
		t.Errorf("conn count after dissociate = %d, want 0", hub.ConnCount())
	}
}

func TestDissociateUnannouncedConnection(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	hub, _ := newTestHub(t)
	sc, _ := wsPair(t, ctx)
	hub.Admit(ctx, sc)

	if id, ok := hub.Dissociate(sc); ok {
		t.Errorf("unannounced connection returned identity %q", id)
	}
	if hub.ConnCount() != 0 {
		t.Error("connection must still be removed from the live set")
	}
}

func TestBroadcastAllReachesEveryConnection(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	hub, _ := newTestHub(t)

	var clients []*websocket.Conn
	for i := 0; i < 3; i++ {
		sc, cc := wsPair(t, ctx)
		hub.Admit(ctx, sc)
		// Drain the admit-time snapshot.
		if _, _, err := cc.Read(ctx); err != nil {
			t.Fatalf("read snapshot: %v", err)
		}
		clients = append(clients, cc)
	}

	payload := []byte(`{"type":"send","text":"hello"}`)
	hub.BroadcastAll(ctx, payload)

	for i, cc := range clients {
		_, msg, err := cc.Read(ctx)
		if err != nil {
			t.Fatalf("client %d read: %v", i, err)
		}
		if string(msg) != string(payload) {
			t.Errorf("client %d received %s, want %s", i, msg, payload)
		}
	}
}

func TestBroadcastContinuesPastFailedTarget(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	hub, _ := newTestHub(t)

	scDead, _ := wsPair(t, ctx)
	hub.Admit(ctx, scDead)
	scLive, ccLive := wsPair(t, ctx)
	hub.Admit(ctx, scLive)
	if _, _, err := ccLive.Read(ctx); err != nil {
		t.Fatalf("read snapshot: %v", err)
	}

	// Kill one server-side connection so its send fails.
	scDead.CloseNow()

	payload := []byte(`{"type":"send","text":"still delivered"}`)
	hub.BroadcastAll(ctx, payload)

	_, msg, err := ccLive.Read(ctx)
	if err != nil {
		t.Fatalf("live client read: %v", err)
	}
	if string(msg) != string(payload) {
		t.Errorf("live client received %s, want %s", msg, payload)
	}
}

func TestBroadcastRosterReflectsRemoval(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	hub, ro := newTestHub(t)
	alice, _ := ro.Register("alice")
	ro.Register("bob")

	sc, cc := wsPair(t, ctx)
	hub.Admit(ctx, sc)
	if _, _, err := cc.Read(ctx); err != nil {
		t.Fatalf("read snapshot: %v", err)
	}

	ro.Remove(alice.ID)
	hub.BroadcastRoster(ctx)

	_, msg, err := cc.Read(ctx)
	if err != nil {
		t.Fatalf("read roster: %v", err)
	}
	var snap []roster.Identity
	if err := json.Unmarshal(msg, &snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(snap) != 1 || snap[0].Name != "bob" {
		t.Errorf("roster after removal = %v, want [bob]", snap)
	}
}
