// Package eviction arms per-identity one-shot timers that remove an
// identity from the roster after a grace period, unless cancelled first
// by a re-announcement. The grace period absorbs page reloads and
// transient network blips without treating them as true departures.
package eviction

import (
	"log/slog"
	"sync"
	"time"
)

// Remover is the roster surface the scheduler needs.
type Remover interface {
	Remove(id string) bool
}

// Scheduler owns the pending-eviction map and all active timer handles.
// At most one pending eviction exists per identity; scheduling again
// re-arms the timer rather than duplicating it.
type Scheduler struct {
	mu      sync.Mutex
	pending map[string]*time.Timer
	roster  Remover
	evicted func(id string) // invoked after a firing timer removed the identity
}

// New creates a scheduler removing identities from roster. The evicted
// callback (may be nil) runs after a successful removal, outside the
// scheduler lock; the caller wires it to a roster broadcast.
func New(roster Remover, evicted func(id string)) *Scheduler {
	return &Scheduler{
		pending: make(map[string]*time.Timer),
		roster:  roster,
		evicted: evicted,
	}
}

// Schedule arms (or re-arms) the eviction timer for id. Any existing
// pending eviction for the same identity is superseded.
func (s *Scheduler) Schedule(id string, grace time.Duration) {
	s.mu.Lock()
	if prev, ok := s.pending[id]; ok {
		prev.Stop()
	}
	var t *time.Timer
	t = time.AfterFunc(grace, func() {
		s.fire(id, t)
	})
	s.pending[id] = t
	s.mu.Unlock()

	slog.Debug("eviction scheduled", "id", id, "grace", grace)
}

// Cancel stops and forgets the pending eviction for id, reporting
// whether one was pending. Safe to call concurrently with the timer
// firing: a timer that already started firing may still complete, which
// is tolerated since re-announcement after removal simply re-registers.
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	t, ok := s.pending[id]
	if ok {
		t.Stop()
		delete(s.pending, id)
	}
	s.mu.Unlock()

	if ok {
		slog.Debug("eviction cancelled", "id", id)
	}
	return ok
}

// PendingCount returns the number of outstanding evictions.
func (s *Scheduler) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Stop cancels every outstanding timer. Used on shutdown.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	for id, t := range s.pending {
		t.Stop()
		delete(s.pending, id)
	}
	s.mu.Unlock()
}

// fire runs when a timer elapses. A superseded timer finds a different
// handle in the map and must not act. The record is always cleared,
// whether or not the identity was still present.
func (s *Scheduler) fire(id string, self *time.Timer) {
	s.mu.Lock()
	current, ok := s.pending[id]
	if !ok || current != self {
		s.mu.Unlock()
		return
	}
	delete(s.pending, id)
	s.mu.Unlock()

	if s.roster.Remove(id) {
		slog.Info("identity evicted after grace period", "id", id)
		if s.evicted != nil {
			s.evicted(id)
		}
	}
}
