package common

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// WeightHeader carries the request weight used in the current minute.
const WeightHeader = "X-MBX-USED-WEIGHT-1M"

// WeightBudget follows the request weight a venue reports and any ban it
// announces with Retry-After. The venue resets weight on wall-clock window
// boundaries, so the window is derived from the clock instead of tracked.
type WeightBudget struct {
	mu         sync.Mutex
	limit      int
	window     time.Duration
	used       int
	windowAt   time.Time
	bannedTill time.Time
	warned     time.Time
	now        func() time.Time
	log        zerolog.Logger
}

// NewWeightBudget tracks limit weight per window. limit <= 0 only honours bans.
func NewWeightBudget(limit int, window time.Duration, log zerolog.Logger) *WeightBudget {
	if window <= 0 {
		window = time.Minute
	}
	return &WeightBudget{limit: limit, window: window, now: time.Now, log: log}
}

// Observe records the weight header and, on 418/429, the ban horizon.
func (b *WeightBudget) Observe(h http.Header, status int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()

	if w, err := strconv.Atoi(h.Get(WeightHeader)); err == nil {
		b.used = w
		b.windowAt = now.Truncate(b.window)
		if b.limit > 0 && w*100 >= b.limit*80 && !b.warned.Equal(b.windowAt) {
			b.warned = b.windowAt
			b.log.Warn().Int("used", w).Int("limit", b.limit).Msg("request weight above 80% of the window")
		}
	}

	if status != http.StatusTooManyRequests && status != http.StatusTeapot {
		return
	}
	wait := b.window - now.Sub(now.Truncate(b.window))
	if secs, err := strconv.Atoi(h.Get("Retry-After")); err == nil && secs > 0 {
		wait = time.Duration(secs) * time.Second
	}
	if till := now.Add(wait); till.After(b.bannedTill) {
		b.bannedTill = till
		b.log.Error().Int("status", status).Time("until", till).Msg("venue is throttling this client")
	}
}

// Usage returns the weight used in the current window.
func (b *WeightBudget) Usage() (used, limit int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.now().Truncate(b.window).Equal(b.windowAt) {
		return 0, b.limit
	}
	return b.used, b.limit
}

// Wait is how long callers must hold off: until a ban lifts, or until the
// next window once 90% of the weight is spent. Zero means go.
func (b *WeightBudget) Wait() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()
	if now.Before(b.bannedTill) {
		return b.bannedTill.Sub(now)
	}
	if b.limit <= 0 || !now.Truncate(b.window).Equal(b.windowAt) {
		return 0
	}
	if b.used*100 >= b.limit*90 {
		return b.windowAt.Add(b.window).Sub(now)
	}
	return 0
}
