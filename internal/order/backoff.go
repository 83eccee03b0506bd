package order

import (
	"context"
	"math/rand/v2"
	"time"
)

// Clock is the time source used between retries.
type Clock interface {
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Backoff retries a call with exponential delays: Base×2^n capped at Max, plus Jitter.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
	// Retries is the number of attempts after the first one.
	Retries int
	Jitter  func(time.Duration) time.Duration
	Clock   Clock
}

// ProportionalJitter adds up to frac×d of random delay.
func ProportionalJitter(frac float64) func(time.Duration) time.Duration {
	return func(d time.Duration) time.Duration {
		if frac <= 0 || d <= 0 {
			return 0
		}
		return time.Duration(rand.Float64() * frac * float64(d))
	}
}

// Delay is the wait before retry n (0-based).
func (b Backoff) Delay(n int) time.Duration {
	d := b.Base
	for i := 0; i < n && (b.Max <= 0 || d < b.Max); i++ {
		d *= 2
	}
	if b.Max > 0 && d > b.Max {
		d = b.Max
	}
	if b.Jitter != nil {
		d += b.Jitter(d)
	}
	return d
}

// Do runs fn until it succeeds, returns a non-retryable error, runs out of
// retries or ctx ends. It reports how many attempts ran and the last error.
func (b Backoff) Do(ctx context.Context, fn func(attempt int) error, retryable func(error) bool, onRetry func(attempt int, err error, delay time.Duration)) (int, error) {
	clock := b.Clock
	if clock == nil {
		clock = realClock{}
	}
	attempt := 0
	for {
		attempt++
		err := fn(attempt)
		if err == nil || !retryable(err) || attempt > b.Retries {
			return attempt, err
		}
		delay := b.Delay(attempt - 1)
		if onRetry != nil {
			onRetry(attempt, err, delay)
		}
		select {
		case <-ctx.Done():
			return attempt, err
		case <-clock.After(delay):
		}
	}
}
