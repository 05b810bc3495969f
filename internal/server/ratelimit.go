package server

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type ipBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter applies a per-IP token bucket to registration and upgrade
// requests. Stale entries are evicted by a background sweep so the map
// stays bounded.
type RateLimiter struct {
	mu         sync.Mutex
	buckets    map[string]*ipBucket
	r          rate.Limit
	burst      int
	ttl        time.Duration
	maxEntries int
	cancel     context.CancelFunc
}

// NewRateLimiter creates a per-IP limiter allowing r events per second
// with the given burst.
func NewRateLimiter(r rate.Limit, burst int) *RateLimiter {
	ctx, cancel := context.WithCancel(context.Background())
	rl := &RateLimiter{
		buckets:    make(map[string]*ipBucket),
		r:          r,
		burst:      burst,
		ttl:        10 * time.Minute,
		maxEntries: 10000,
		cancel:     cancel,
	}
	go rl.sweep(ctx)
	return rl
}

// Allow reports whether the given IP may proceed.
func (rl *RateLimiter) Allow(ip string) bool {
	rl.mu.Lock()
	b, ok := rl.buckets[ip]
	if !ok {
		if len(rl.buckets) >= rl.maxEntries {
			rl.mu.Unlock()
			return false // refuse rather than grow without bound
		}
		b = &ipBucket{limiter: rate.NewLimiter(rl.r, rl.burst)}
		rl.buckets[ip] = b
	}
	b.lastSeen = time.Now()
	rl.mu.Unlock()

	return b.limiter.Allow()
}

// UpdateRate swaps the rate parameters. Every bucket is rebuilt at the
// new rate but keeps its lastSeen, so a reload neither extends an idle
// entry's life nor lets the sweep evict an active one early. Called on
// config reload.
func (rl *RateLimiter) UpdateRate(r rate.Limit, burst int) {
	rl.mu.Lock()
	rl.r = r
	rl.burst = burst
	for ip, b := range rl.buckets {
		rl.buckets[ip] = &ipBucket{
			limiter:  rate.NewLimiter(r, burst),
			lastSeen: b.lastSeen,
		}
	}
	rl.mu.Unlock()
}

// Stop shuts down the sweep goroutine.
func (rl *RateLimiter) Stop() {
	rl.cancel()
}

func (rl *RateLimiter) sweep(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.mu.Lock()
			for ip, b := range rl.buckets {
				if time.Since(b.lastSeen) > rl.ttl {
					delete(rl.buckets, ip)
				}
			}
			rl.mu.Unlock()
		}
	}
}
