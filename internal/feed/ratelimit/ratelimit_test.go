package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/crimson-sun/vigil/internal/model"
)

func TestTryAcquire_QuotaBoundary(t *testing.T) {
	fc := testingclock.NewFakeClock(time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC))
	b := New(3, 30*time.Second, WithClock(fc))

	for i := 0; i < 3; i++ {
		wait, ok := b.tryAcquire()
		require.True(t, ok, "grant %d should be immediate", i)
		require.Zero(t, wait)
	}

	// Quota spent: the fourth caller must wait out the full window.
	wait, ok := b.tryAcquire()
	require.False(t, ok)
	assert.Equal(t, 30*time.Second, wait)

	// Halfway through the window nothing has expired yet.
	fc.Step(15 * time.Second)
	wait, ok = b.tryAcquire()
	require.False(t, ok)
	assert.Equal(t, 15*time.Second, wait)

	// Window elapsed: oldest grants expire and a token frees up.
	fc.Step(15 * time.Second)
	_, ok = b.tryAcquire()
	assert.True(t, ok)
}

func TestTryAcquire_SlidingWindow(t *testing.T) {
	fc := testingclock.NewFakeClock(time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC))
	b := New(2, 30*time.Second, WithClock(fc))

	_, ok := b.tryAcquire()
	require.True(t, ok)

	fc.Step(20 * time.Second)
	_, ok = b.tryAcquire()
	require.True(t, ok)

	// t=20s: both grants live, next slot when the first expires at t=30s.
	wait, ok := b.tryAcquire()
	require.False(t, ok)
	assert.Equal(t, 10*time.Second, wait)

	fc.Step(10 * time.Second)
	_, ok = b.tryAcquire()
	require.True(t, ok)

	// t=30s: grants at 20s and 30s are live, quota full again.
	_, ok = b.tryAcquire()
	assert.False(t, ok)
}

func TestWait_BlocksUntilTokenFrees(t *testing.T) {
	fc := testingclock.NewFakeClock(time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC))
	b := New(1, 30*time.Second, WithClock(fc))

	require.NoError(t, b.Wait(context.Background()))

	done := make(chan error, 1)
	go func() {
		done <- b.Wait(context.Background())
	}()

	require.Eventually(t, fc.HasWaiters, time.Second, time.Millisecond,
		"second Wait should park on the clock")

	select {
	case err := <-done:
		t.Fatalf("Wait returned before the window elapsed: %v", err)
	default:
	}

	fc.Step(30 * time.Second)
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Wait did not wake after the window elapsed")
	}
}

func TestWait_ContextCanceled(t *testing.T) {
	fc := testingclock.NewFakeClock(time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC))
	b := New(1, 30*time.Second, WithClock(fc))

	require.NoError(t, b.Wait(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- b.Wait(ctx)
	}()

	require.Eventually(t, fc.HasWaiters, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.ErrorIs(t, err, model.ErrRateLimited)
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after cancellation")
	}
}

func TestWait_ExpiredContext(t *testing.T) {
	b := New(5, 30*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := b.Wait(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrRateLimited)
}

func TestNew_MinimumLimit(t *testing.T) {
	fc := testingclock.NewFakeClock(time.Now())
	b := New(0, 30*time.Second, WithClock(fc))

	_, ok := b.tryAcquire()
	require.True(t, ok, "a zero limit should be clamped to one grant per window")
	_, ok = b.tryAcquire()
	assert.False(t, ok)
}
