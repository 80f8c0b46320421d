package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/crimson-sun/vigil/internal/model"
)

// Bucket enforces an N-requests-per-window quota. Each grant is timestamped
// and expires once the window elapses, so the observed request rate never
// exceeds limit per window. The counters are the only mutable state and are
// serialized under one mutex; safe for concurrent use.
type Bucket struct {
	limit  int
	window time.Duration
	clock  clock.Clock

	mu     sync.Mutex
	grants []time.Time // live grant timestamps, oldest first
}

// Option configures a Bucket.
type Option func(*Bucket)

// WithClock replaces the wall clock, for tests.
func WithClock(c clock.Clock) Option {
	return func(b *Bucket) { b.clock = c }
}

// New creates a Bucket allowing limit requests per window.
func New(limit int, window time.Duration, opts ...Option) *Bucket {
	if limit < 1 {
		limit = 1
	}
	b := &Bucket{
		limit:  limit,
		window: window,
		clock:  clock.RealClock{},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Wait blocks until a token is available, then consumes it. When ctx expires
// first, the returned error matches both model.ErrRateLimited and the
// context error.
func (b *Bucket) Wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("ratelimit: %w: %w", model.ErrRateLimited, err)
	}
	for {
		wait, ok := b.tryAcquire()
		if ok {
			return nil
		}
		t := b.clock.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return fmt.Errorf("ratelimit: %w: %w", model.ErrRateLimited, ctx.Err())
		case <-t.C():
		}
	}
}

// tryAcquire consumes a token if one is free. Otherwise it reports how long
// until the oldest grant leaves the window.
func (b *Bucket) tryAcquire() (time.Duration, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock.Now()
	cutoff := now.Add(-b.window)
	expired := 0
	for expired < len(b.grants) && !b.grants[expired].After(cutoff) {
		expired++
	}
	if expired > 0 {
		b.grants = append(b.grants[:0], b.grants[expired:]...)
	}

	if len(b.grants) < b.limit {
		b.grants = append(b.grants, now)
		return 0, true
	}
	return b.grants[0].Add(b.window).Sub(now), false
}
