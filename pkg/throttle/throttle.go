// Package throttle rate-limits calls per key (one key per exchange) with token buckets.
package throttle

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limit admits Calls per Window. Burst defaults to 1, which spaces admissions evenly.
type Limit struct {
	Calls  int
	Window time.Duration
	Burst  int
}

func (l Limit) limiter() *rate.Limiter {
	if l.Calls <= 0 || l.Window <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	burst := l.Burst
	if burst <= 0 {
		burst = 1
	}
	every := l.Window / time.Duration(l.Calls)
	return rate.NewLimiter(rate.Every(every), burst)
}

// Throttler holds one limiter per key, created on first use.
type Throttler struct {
	def       Limit
	overrides map[string]Limit

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// New builds a throttler with def for unknown keys and per-key overrides.
func New(def Limit, overrides map[string]Limit) *Throttler {
	o := make(map[string]Limit, len(overrides))
	for k, v := range overrides {
		o[k] = v
	}
	return &Throttler{def: def, overrides: o, limiters: make(map[string]*rate.Limiter)}
}

func (t *Throttler) get(key string) *rate.Limiter {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.limiters[key]
	if !ok {
		lim, has := t.overrides[key]
		if !has {
			lim = t.def
		}
		l = lim.limiter()
		t.limiters[key] = l
	}
	return l
}

// Acquire blocks until key has a token or ctx ends. It never drops a request.
// The returned duration is the time spent waiting.
func (t *Throttler) Acquire(ctx context.Context, key string) (time.Duration, error) {
	start := time.Now()
	err := t.get(key).Wait(ctx)
	return time.Since(start), err
}
