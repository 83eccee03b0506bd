package common

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ServerClock estimates the venue's clock from server time probes so signed
// requests stay inside their recvWindow when the local clock drifts.
type ServerClock struct {
	probe    func(ctx context.Context) (int64, error)
	interval time.Duration
	maxRTT   time.Duration
	now      func() time.Time
	log      zerolog.Logger

	mu     sync.RWMutex
	offset time.Duration
	rtt    time.Duration
	synced bool
}

// NewServerClock uses probe (server time in ms). Samples slower than maxRTT
// are discarded; maxRTT <= 0 accepts every sample.
func NewServerClock(probe func(ctx context.Context) (int64, error), maxRTT time.Duration, log zerolog.Logger) *ServerClock {
	return &ServerClock{probe: probe, interval: 30 * time.Minute, maxRTT: maxRTT, now: time.Now, log: log}
}

// Start syncs once, then on every interval until ctx is done.
func (c *ServerClock) Start(ctx context.Context) {
	if err := c.Sync(ctx); err != nil {
		c.log.Warn().Err(err).Msg("initial server clock sync failed, using local time")
	}
	go func() {
		t := time.NewTicker(c.interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if err := c.Sync(ctx); err != nil {
					c.log.Warn().Err(err).Msg("server clock sync failed")
				}
			}
		}
	}()
}

// Sync takes one sample, assuming the server stamped it halfway through the round trip.
func (c *ServerClock) Sync(ctx context.Context) error {
	sent := c.now()
	ms, err := c.probe(ctx)
	if err != nil {
		return fmt.Errorf("server time: %w", err)
	}
	rtt := c.now().Sub(sent)
	if c.maxRTT > 0 && rtt > c.maxRTT {
		return fmt.Errorf("server time round trip %s exceeds %s", rtt, c.maxRTT)
	}
	offset := time.UnixMilli(ms).Sub(sent.Add(rtt / 2))

	c.mu.Lock()
	c.offset, c.rtt, c.synced = offset, rtt, true
	c.mu.Unlock()

	c.log.Debug().Dur("offset", offset).Dur("rtt", rtt).Msg("server clock synced")
	return nil
}

// Now is the estimated server time; local time until the first successful sync.
func (c *ServerClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now().Add(c.offset)
}

func (c *ServerClock) Offset() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.offset
}

func (c *ServerClock) Synced() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.synced
}
