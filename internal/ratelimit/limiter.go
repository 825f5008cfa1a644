// ABOUTME: Per-user cooldown tracker gating agent invocations
// ABOUTME: Atomic check-and-set with background eviction of idle entries

package ratelimit

import (
	"sync"
	"time"
)

// idleFactor controls eviction: entries untouched for idleFactor windows
// are swept. An entry older than one window already means "never
// requested", so eviction is not observable through TryAcquire.
const idleFactor = 10

// Limiter records the most recent successful acquisition per user and
// allows at most one acquisition per user per rolling window.
type Limiter struct {
	mu     sync.Mutex
	last   map[string]time.Time
	window time.Duration

	now    func() time.Time
	done   chan struct{}
	closed bool
}

// New creates a limiter with the given cooldown window and starts the
// eviction sweep.
func New(window time.Duration) *Limiter {
	l := &Limiter{
		last:   make(map[string]time.Time),
		window: window,
		now:    time.Now,
		done:   make(chan struct{}),
	}
	go l.sweep()
	return l
}

// TryAcquire returns true if the user may trigger an agent invocation now,
// recording the acquisition time as a side effect. A denied attempt has no
// side effect. The check and the set happen under one lock, so two
// concurrent attempts for the same user cannot both succeed.
func (l *Limiter) TryAcquire(userID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if at, ok := l.last[userID]; ok && now.Sub(at) < l.window {
		return false
	}
	l.last[userID] = now
	return true
}

// Window returns the configured cooldown window.
func (l *Limiter) Window() time.Duration {
	return l.window
}

// sweep periodically removes entries idle long enough to be meaningless.
func (l *Limiter) sweep() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.evictIdle()
		case <-l.done:
			return
		}
	}
}

func (l *Limiter) evictIdle() {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-idleFactor * l.window)
	for userID, at := range l.last {
		if at.Before(cutoff) {
			delete(l.last, userID)
		}
	}
}

// Len returns the number of tracked users.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.last)
}

// Close stops the eviction sweep. Safe to call multiple times.
func (l *Limiter) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.closed {
		close(l.done)
		l.closed = true
	}
}
