// Package admission provides the two admission controls shared by every
// inbound request: a sliding-window spawn budget and a per-class concurrency
// ceiling.
package admission

import (
	"sync"
	"time"
)

// Default spawn budget.
const (
	DefaultWindow   = 60 * time.Second
	DefaultCapacity = 5
)

// RateLimiter is a sliding-window log. It remembers the timestamp of every
// admission inside the trailing window and admits while fewer than capacity
// remain.
type RateLimiter struct {
	mu       sync.Mutex
	window   time.Duration
	capacity int
	stamps   []time.Time
	now      func() time.Time
}

// NewRateLimiter creates a limiter. Non-positive values fall back to the defaults.
func NewRateLimiter(window time.Duration, capacity int) *RateLimiter {
	if window <= 0 {
		window = DefaultWindow
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &RateLimiter{
		window:   window,
		capacity: capacity,
		stamps:   make([]time.Time, 0, capacity),
		now:      time.Now,
	}
}

// Admit purges expired entries and records a new spawn if budget remains.
// A denied call leaves the window untouched.
func (r *RateLimiter) Admit() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	r.purge(now)
	if len(r.stamps) >= r.capacity {
		return false
	}
	r.stamps = append(r.stamps, now)
	return true
}

// InUse reports how many admissions are currently inside the window.
func (r *RateLimiter) InUse() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.purge(r.now())
	return len(r.stamps)
}

// Capacity returns the configured budget.
func (r *RateLimiter) Capacity() int { return r.capacity }

// RetryAfter returns how long until the oldest entry leaves the window, or
// zero when budget is available.
func (r *RateLimiter) RetryAfter() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	r.purge(now)
	if len(r.stamps) < r.capacity {
		return 0
	}
	return r.stamps[0].Add(r.window).Sub(now)
}

// purge drops stamps older than now-window. Stamps are appended in order so
// the expired ones always form a prefix.
func (r *RateLimiter) purge(now time.Time) {
	cutoff := now.Add(-r.window)
	i := 0
	for i < len(r.stamps) && !r.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		r.stamps = append(r.stamps[:0], r.stamps[i:]...)
	}
}
