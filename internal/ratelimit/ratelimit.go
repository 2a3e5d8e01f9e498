// Package ratelimit provides a fixed-window budget for a single entity, used
// to cap inbound messages on a feed connection.
package ratelimit

import (
	"sync"
	"time"
)

// Limiter is a fixed-window rate limiter for a single entity.
type Limiter struct {
	mu          sync.Mutex
	count       int
	windowStart time.Time
	rate        int
	window      time.Duration
}

// New creates a Limiter that allows rate events per window.
func New(rate int, window time.Duration) *Limiter {
	return &Limiter{
		rate:        rate,
		window:      window,
		windowStart: time.Now(),
	}
}

// Allow consumes one event and reports whether it fit the budget.
func (l *Limiter) Allow() bool {
	return l.AllowN(1)
}

// AllowN consumes n events at once and reports whether they all fit.
func (l *Limiter) AllowN(n int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.roll(time.Now())
	l.count += n
	return l.count <= l.rate
}

// Remaining reports how much of the current window's budget is left.
func (l *Limiter) Remaining() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.roll(time.Now())
	left := l.rate - l.count
	if left < 0 {
		return 0
	}
	return left
}

// roll resets the window when it has expired. Caller holds the lock.
func (l *Limiter) roll(now time.Time) {
	if now.Sub(l.windowStart) > l.window {
		l.count = 0
		l.windowStart = now
	}
}
