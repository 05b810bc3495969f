// Package server exposes the relay's HTTP surface: identity
// registration and verification endpoints plus the WebSocket upgrade
// that hands connections to the relay session loop.
package server

import (
	"sync"
	"sync/atomic"
)

// Tracker counts active and lifetime connections, globally and per IP.
type Tracker struct {
	active atomic.Int64
	total  atomic.Int64

	mu    sync.Mutex
	perIP map[string]int
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{perIP: make(map[string]int)}
}

// TryAdd atomically checks both limits and increments the counters.
// Returns "" on success or the limit that was hit. The map lock covers
// the whole check-and-increment so concurrent upgrades cannot race past
// the limit.
func (t *Tracker) TryAdd(ip string, maxGlobal, maxPerIP int) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	if int(t.active.Load()) >= maxGlobal {
		return "max_connections"
	}
	if t.perIP[ip] >= maxPerIP {
		return "max_connections_per_ip"
	}

	t.active.Add(1)
	t.total.Add(1)
	t.perIP[ip]++
	return ""
}

// Remove decrements the counters for a closed connection.
func (t *Tracker) Remove(ip string) {
	t.active.Add(-1)
	t.mu.Lock()
	t.perIP[ip]--
	if t.perIP[ip] <= 0 {
		delete(t.perIP, ip)
	}
	t.mu.Unlock()
}

// Active returns the current number of open connections.
func (t *Tracker) Active() int {
	return int(t.active.Load())
}

// Total returns the lifetime connection count.
func (t *Tracker) Total() int64 {
	return t.total.Load()
}

// ActiveForIP returns the open connection count for one IP.
func (t *Tracker) ActiveForIP(ip string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.perIP[ip]
}
