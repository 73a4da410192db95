package service

import (
	"context"
	"math/rand/v2"
	"time"
)

// Backoff computes linear-with-jitter retry delays:
// attempt*base + U[attempt*base, 2*attempt*base], never below the previous attempt's maximum.
type Backoff struct {
	Base   time.Duration
	jitter func(n int64) int64
}

// NewBackoff creates a backoff with the given base delay.
func NewBackoff(base time.Duration) Backoff {
	return Backoff{Base: base, jitter: rand.Int64N}
}

// Delay returns the delay before the retry following attempt (1-based).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 || b.Base <= 0 {
		return 0
	}
	jitter := b.jitter
	if jitter == nil {
		jitter = rand.Int64N
	}

	step := int64(attempt) * int64(b.Base)
	d := step + step + jitter(step+1)

	// Keeps delays non-decreasing in the attempt number
	if floor := 3 * int64(attempt-1) * int64(b.Base); d < floor {
		d = floor
	}
	return time.Duration(d)
}

// Max returns the largest delay Delay can return for attempt.
func (b Backoff) Max(attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}
	return 3 * time.Duration(attempt) * b.Base
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// retry runs fn up to attempts times, sleeping with backoff between failures.
func retry(ctx context.Context, attempts int, b Backoff, sleep Sleeper, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for a := 1; a <= attempts; a++ {
		if err = fn(); err == nil {
			return nil
		}
		if a == attempts {
			break
		}
		if serr := sleep(ctx, b.Delay(a)); serr != nil {
			return serr
		}
	}
	return err
}
