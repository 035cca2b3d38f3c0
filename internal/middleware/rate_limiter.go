// Package middleware carries the cross-cutting HTTP concerns: per-client
// rate limiting, CORS, panic recovery, and request metrics.
package middleware

import (
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// RateLimiter enforces a per-client requests-per-minute ceiling with a
// sliding one-minute window per key. Keys are client IPs; authenticated
// routes use the player id instead so NAT'd players don't share a bucket.
type RateLimiter struct {
	mu        sync.RWMutex
	windows   map[string]*rateLimitWindow
	perMinute int
	stopCh    chan struct{}
	logger    *log.Logger
}

// count is atomic so concurrent requests on the read-lock fast path can
// bump it without racing; windowStart only changes under the full lock.
type rateLimitWindow struct {
	count       atomic.Int64
	windowStart time.Time
}

func NewRateLimiter(perMinute int) *RateLimiter {
	if perMinute <= 0 {
		perMinute = 120
	}
	rl := &RateLimiter{
		windows:   make(map[string]*rateLimitWindow),
		perMinute: perMinute,
		stopCh:    make(chan struct{}),
		logger:    log.New(log.Writer(), "[RATE-LIMIT] ", log.LstdFlags),
	}
	go rl.cleanup()
	return rl
}

// Allow reports whether a request from key fits in the current window.
func (rl *RateLimiter) Allow(key string) bool {
	now := time.Now()

	// Fast path: look the window up under the read lock, bump atomically.
	rl.mu.RLock()
	w, ok := rl.windows[key]
	rl.mu.RUnlock()
	if ok && now.Sub(w.windowStart) <= time.Minute {
		count := w.count.Add(1)
		if count > int64(rl.perMinute) {
			rl.logger.Printf("rate limit exceeded: key=%s count=%d limit=%d", key, count, rl.perMinute)
			return false
		}
		return true
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()
	w, ok = rl.windows[key]
	if ok && now.Sub(w.windowStart) <= time.Minute {
		return w.count.Add(1) <= int64(rl.perMinute)
	}
	w = &rateLimitWindow{windowStart: now}
	w.count.Store(1)
	rl.windows[key] = w
	return true
}

// cleanup drops windows idle past two minutes.
func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			cutoff := time.Now().Add(-2 * time.Minute)
			rl.mu.Lock()
			for key, w := range rl.windows {
				if w.windowStart.Before(cutoff) {
					delete(rl.windows, key)
				}
			}
			rl.mu.Unlock()
		case <-rl.stopCh:
			return
		}
	}
}

// Stop halts the cleanup loop.
func (rl *RateLimiter) Stop() {
	close(rl.stopCh)
}
