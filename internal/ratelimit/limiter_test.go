// ABOUTME: Tests for the per-user cooldown limiter
// ABOUTME: Covers acquire/deny windows, no side effect on deny, eviction

package ratelimit

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// withClock installs a controllable clock.
func withClock(l *Limiter, at time.Time) *time.Time {
	current := at
	l.now = func() time.Time { return current }
	return &current
}

func TestTryAcquire_FirstRequestAllowed(t *testing.T) {
	l := New(100 * time.Second)
	defer l.Close()

	assert.True(t, l.TryAcquire("u1"))
}

func TestTryAcquire_DeniedWithinWindow(t *testing.T) {
	l := New(100 * time.Second)
	defer l.Close()
	clock := withClock(l, time.Unix(1000, 0))

	assert.True(t, l.TryAcquire("u1"))

	*clock = clock.Add(99 * time.Second)
	assert.False(t, l.TryAcquire("u1"))
}

func TestTryAcquire_AllowedAfterWindow(t *testing.T) {
	l := New(100 * time.Second)
	defer l.Close()
	clock := withClock(l, time.Unix(1000, 0))

	assert.True(t, l.TryAcquire("u1"))

	*clock = clock.Add(100 * time.Second)
	assert.True(t, l.TryAcquire("u1"))
}

func TestTryAcquire_DenyHasNoSideEffect(t *testing.T) {
	l := New(100 * time.Second)
	defer l.Close()
	clock := withClock(l, time.Unix(1000, 0))

	assert.True(t, l.TryAcquire("u1"))

	// Repeated denied attempts must not extend the cooldown.
	*clock = clock.Add(60 * time.Second)
	assert.False(t, l.TryAcquire("u1"))
	*clock = clock.Add(40 * time.Second)
	assert.True(t, l.TryAcquire("u1"), "window is measured from the last allowed request")
}

func TestTryAcquire_UsersAreIndependent(t *testing.T) {
	l := New(100 * time.Second)
	defer l.Close()

	assert.True(t, l.TryAcquire("u1"))
	assert.True(t, l.TryAcquire("u2"))
	assert.False(t, l.TryAcquire("u1"))
}

func TestTryAcquire_ConcurrentSameUserSingleWinner(t *testing.T) {
	l := New(time.Hour)
	defer l.Close()

	const attempts = 32
	var wg sync.WaitGroup
	results := make(chan bool, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- l.TryAcquire("u1")
		}()
	}
	wg.Wait()
	close(results)

	allowed := 0
	for ok := range results {
		if ok {
			allowed++
		}
	}
	assert.Equal(t, 1, allowed, "exactly one concurrent acquisition may succeed")
}

func TestEvictIdle(t *testing.T) {
	l := New(time.Second)
	defer l.Close()
	clock := withClock(l, time.Unix(1000, 0))

	l.TryAcquire("u1")
	l.TryAcquire("u2")
	assert.Equal(t, 2, l.Len())

	*clock = clock.Add(idleFactor*time.Second + time.Second)
	l.evictIdle()

	assert.Equal(t, 0, l.Len())
	assert.True(t, l.TryAcquire("u1"), "evicted user is treated as never having requested")
}

func TestClose_Twice(t *testing.T) {
	l := New(time.Second)
	l.Close()
	l.Close()
}
