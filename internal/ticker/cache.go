// Package ticker owns the latest-value ticker cache and the listener that
// feeds it and forwards strategy signals to the pair state manager.
package ticker

import (
	"sort"
	"time"

	"pair-trader/pkg/cache"
	"pair-trader/pkg/errs"
	"pair-trader/pkg/exchanges/common"
)

// Cache holds the last ticker per exchange and symbol. The listener is its only writer.
type Cache struct {
	store *cache.ShardedCache[common.Ticker]
	now   func() time.Time
}

func NewCache() *Cache {
	c := &Cache{now: time.Now}
	c.store = cache.NewWithClock[common.Ticker](func() time.Time { return c.now() })
	return c
}

func key(exchange, symbol string) string {
	return exchange + ":" + common.NormalizeSymbol(symbol)
}

// Set overwrites the pair's ticker. A zero Time is stamped with the current time.
func (c *Cache) Set(t common.Ticker) {
	if t.Time.IsZero() {
		t.Time = c.now()
	}
	c.store.SetAt(key(t.Exchange, t.Symbol), t, t.Time)
}

func (c *Cache) Get(exchange, symbol string) (common.Ticker, bool) {
	return c.store.Get(key(exchange, symbol))
}

// Fresh returns the ticker when it has both sides and is at most maxAge old.
// maxAge <= 0 skips the age check.
func (c *Cache) Fresh(exchange, symbol string, maxAge time.Duration) (common.Ticker, error) {
	t, age, ok := c.store.GetWithAge(key(exchange, symbol))
	if !ok {
		return common.Ticker{}, errs.Newf(errs.DataUnavailable, "no ticker for %s %s", exchange, symbol)
	}
	if t.Bid <= 0 || t.Ask <= 0 {
		return common.Ticker{}, errs.Newf(errs.DataUnavailable, "incomplete ticker for %s %s", exchange, symbol)
	}
	if maxAge > 0 && age > maxAge {
		return common.Ticker{}, errs.Newf(errs.DataUnavailable, "ticker for %s %s is %s old", exchange, symbol, age.Truncate(time.Millisecond))
	}
	return t, nil
}

// All returns every cached ticker ordered by exchange and symbol.
func (c *Cache) All() []common.Ticker {
	m := c.store.All()
	out := make([]common.Ticker, 0, len(m))
	for _, t := range m {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Exchange != out[j].Exchange {
			return out[i].Exchange < out[j].Exchange
		}
		return out[i].Symbol < out[j].Symbol
	})
	return out
}

func (c *Cache) Len() int { return c.store.Len() }

// Prune drops tickers not updated within maxAge, e.g. symbols a feed stopped
// publishing. It returns how many were removed.
func (c *Cache) Prune(maxAge time.Duration) int {
	if maxAge <= 0 {
		return 0
	}
	return c.store.Cleanup(maxAge)
}

func (c *Cache) Stats() cache.Stats { return c.store.Stats() }
