package order

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"pair-trader/pkg/errs"
)

// fakeClock fires immediately and remembers every requested delay.
type fakeClock struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.delays = append(c.delays, d)
	c.mu.Unlock()
	ch := make(chan time.Time, 1)
	ch <- time.Time{}
	return ch
}

func (c *fakeClock) Delays() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.delays...)
}

func TestBackoffDelay(t *testing.T) {
	b := Backoff{Base: 100 * time.Millisecond, Max: time.Second}
	want := []time.Duration{100, 200, 400, 800, 1000, 1000}
	for i, w := range want {
		assert.Equal(t, w*time.Millisecond, b.Delay(i), "retry %d", i)
	}
	assert.Equal(t, time.Second, b.Delay(60))
}

func TestBackoffJitter(t *testing.T) {
	b := Backoff{Base: 100 * time.Millisecond, Jitter: func(d time.Duration) time.Duration { return d / 10 }}
	assert.Equal(t, 110*time.Millisecond, b.Delay(0))

	j := ProportionalJitter(0.2)
	for i := 0; i < 100; i++ {
		got := j(time.Second)
		assert.GreaterOrEqual(t, got, time.Duration(0))
		assert.Less(t, got, 200*time.Millisecond)
	}
}

func TestBackoffDoRetriesRetryable(t *testing.T) {
	clock := &fakeClock{}
	b := Backoff{Base: 50 * time.Millisecond, Max: time.Second, Retries: 3, Clock: clock}
	calls := 0
	n, err := b.Do(context.Background(), func(int) error {
		calls++
		if calls < 3 {
			return errs.New(errs.Transient, "503")
		}
		return nil
	}, errs.IsRetryable, nil)
	assert.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []time.Duration{50 * time.Millisecond, 100 * time.Millisecond}, clock.Delays())
}

func TestBackoffDoStopsOnPermanentError(t *testing.T) {
	clock := &fakeClock{}
	b := Backoff{Base: time.Millisecond, Retries: 5, Clock: clock}
	n, err := b.Do(context.Background(), func(int) error {
		return errs.New(errs.ExchangeRejected, "bad qty")
	}, errs.IsRetryable, nil)
	assert.True(t, errs.IsKind(err, errs.ExchangeRejected))
	assert.Equal(t, 1, n)
	assert.Empty(t, clock.Delays())
}

func TestBackoffDoExhausts(t *testing.T) {
	clock := &fakeClock{}
	b := Backoff{Base: time.Millisecond, Max: 4 * time.Millisecond, Retries: 3, Clock: clock}
	var retried []int
	n, err := b.Do(context.Background(), func(int) error {
		return errs.New(errs.Transient, "down")
	}, errs.IsRetryable, func(attempt int, _ error, _ time.Duration) { retried = append(retried, attempt) })
	assert.Error(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, []int{1, 2, 3}, retried)
	assert.Equal(t, []time.Duration{1 * time.Millisecond, 2 * time.Millisecond, 4 * time.Millisecond}, clock.Delays())
}

func TestBackoffDoHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	b := Backoff{Base: time.Hour, Retries: 3}
	boom := errs.New(errs.Transient, "down")
	n, err := b.Do(ctx, func(int) error { return boom }, errs.IsRetryable, nil)
	assert.True(t, errors.Is(err, boom))
	assert.Equal(t, 1, n)
}
