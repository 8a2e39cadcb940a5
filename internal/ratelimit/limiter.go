// Package ratelimit provides a process-local sliding-window request budget
// shared across all outbound API calls.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Limiter allows at most limit requests per window. Wait blocks until the
// oldest tracked request ages out of the window and then re-checks in a
// loop; there is no fixed sleep and no recursion, and the timestamp buffer
// is bounded by the limit itself.
type Limiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	stamps []time.Time

	now func() time.Time
}

// New creates a limiter with the given budget.
func New(limit int, window time.Duration) *Limiter {
	return &Limiter{
		limit:  limit,
		window: window,
		stamps: make([]time.Time, 0, limit),
		now:    time.Now,
	}
}

// Allow reports whether a request fits the budget right now, counting it
// when it does.
func (l *Limiter) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	ok, _ := l.tryLocked()
	return ok
}

// Wait blocks until a request is allowed or the context ends.
func (l *Limiter) Wait(ctx context.Context) error {
	for {
		l.mu.Lock()
		ok, retryIn := l.tryLocked()
		l.mu.Unlock()
		if ok {
			return nil
		}

		timer := time.NewTimer(retryIn)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("ratelimit: wait: %w", ctx.Err())
		case <-timer.C:
		}
	}
}

// tryLocked prunes expired stamps and either records the request or returns
// how long until the oldest stamp leaves the window.
func (l *Limiter) tryLocked() (allowed bool, retryIn time.Duration) {
	now := l.now()
	cutoff := now.Add(-l.window)

	keep := 0
	for _, ts := range l.stamps {
		if ts.After(cutoff) {
			l.stamps[keep] = ts
			keep++
		}
	}
	l.stamps = l.stamps[:keep]

	if len(l.stamps) < l.limit {
		l.stamps = append(l.stamps, now)
		return true, 0
	}

	retryIn = l.stamps[0].Sub(cutoff)
	if retryIn <= 0 {
		retryIn = time.Millisecond
	}
	return false, retryIn
}

// Pending returns the number of requests currently counted in the window.
func (l *Limiter) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := l.now().Add(-l.window)
	n := 0
	for _, ts := range l.stamps {
		if ts.After(cutoff) {
			n++
		}
	}
	return n
}
