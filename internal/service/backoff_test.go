package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoff_DelayBounds(t *testing.T) {
	base := time.Minute
	low := Backoff{Base: base, jitter: func(n int64) int64 { return 0 }}
	high := Backoff{Base: base, jitter: func(n int64) int64 { return n - 1 }}

	for a := 1; a <= 10; a++ {
		step := time.Duration(a) * base
		assert.GreaterOrEqual(t, low.Delay(a), 2*step, "attempt %d", a)
		assert.LessOrEqual(t, high.Delay(a), 3*step, "attempt %d", a)
		assert.LessOrEqual(t, high.Delay(a), high.Max(a), "attempt %d", a)
	}
}

func TestBackoff_NonDecreasing(t *testing.T) {
	// Worst case: maximum jitter on attempt a, minimum jitter on attempt a+1.
	high := Backoff{Base: time.Second, jitter: func(n int64) int64 { return n - 1 }}
	low := Backoff{Base: time.Second, jitter: func(n int64) int64 { return 0 }}

	for a := 1; a < 20; a++ {
		assert.LessOrEqual(t, high.Delay(a), low.Delay(a+1), "attempt %d", a)
	}

	b := NewBackoff(time.Second)
	prev := time.Duration(0)
	for a := 1; a < 50; a++ {
		d := b.Delay(a)
		assert.GreaterOrEqual(t, d, prev)
		prev = d
	}
}

func TestBackoff_ZeroBase(t *testing.T) {
	assert.Zero(t, NewBackoff(0).Delay(3))
	assert.Zero(t, NewBackoff(time.Second).Delay(0))
}

func TestRetry(t *testing.T) {
	ctx := context.Background()
	var slept []time.Duration
	sleep := func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	b := Backoff{Base: time.Second, jitter: func(n int64) int64 { return 0 }}

	t.Run("succeeds after failures", func(t *testing.T) {
		slept = nil
		calls := 0
		err := retry(ctx, 3, b, sleep, func() error {
			calls++
			if calls < 3 {
				return errors.New("transient")
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
		assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, slept)
	})

	t.Run("returns last error when exhausted", func(t *testing.T) {
		slept = nil
		calls := 0
		err := retry(ctx, 2, b, sleep, func() error {
			calls++
			return errors.New("permanent")
		})
		assert.EqualError(t, err, "permanent")
		assert.Equal(t, 2, calls)
		assert.Len(t, slept, 1)
	})

	t.Run("stops when the sleep is interrupted", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		err := retry(cctx, 5, b, sleepContext, func() error { return errors.New("transient") })
		assert.ErrorIs(t, err, context.Canceled)
	})
}
