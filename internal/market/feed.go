// Package market publishes tickers onto the event bus from a Binance
// bookTicker stream, from connector polling, or from a random walk.
package market

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"pair-trader/internal/events"
	market "pair-trader/pkg/market/binance"
)

// Feed streams best bid/ask for one exchange over a single combined
// connection and publishes tickers. A dropped stream is redialed with a delay
// that doubles up to MaxReconnect and resets once data flows again.
type Feed struct {
	Exchange string
	Stream   *market.StreamClient
	Bus      *events.Bus
	Symbols  []string

	Reconnect    time.Duration
	MaxReconnect time.Duration
	Log          zerolog.Logger

	wg sync.WaitGroup
}

// Start runs the connection loop on its own goroutine and returns.
func (f *Feed) Start(ctx context.Context) {
	if f.Bus == nil || f.Stream == nil || len(f.Symbols) == 0 {
		f.Log.Warn().Str("exchange", f.Exchange).Msg("market feed not fully configured; skipping start")
		return
	}
	if f.Reconnect <= 0 {
		f.Reconnect = 5 * time.Second
	}
	if f.MaxReconnect < f.Reconnect {
		f.MaxReconnect = 12 * f.Reconnect
	}
	f.wg.Add(1)
	go f.run(ctx)
}

// Wait blocks until the connection loop exited.
func (f *Feed) Wait() { f.wg.Wait() }

func (f *Feed) run(ctx context.Context) {
	defer f.wg.Done()
	log := f.Log.With().Str("exchange", f.Exchange).Int("symbols", len(f.Symbols)).Logger()
	delay := f.Reconnect
	for {
		if f.session(ctx, log) > 0 {
			delay = f.Reconnect
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
			log.Info().Dur("after", delay).Msg("bookTicker reconnecting")
		}
		if delay *= 2; delay > f.MaxReconnect {
			delay = f.MaxReconnect
		}
	}
}

// session consumes one connection and returns how many tickers it published.
func (f *Feed) session(ctx context.Context, log zerolog.Logger) int {
	ch, stop, err := f.Stream.SubscribeBookTickers(ctx, f.Symbols)
	if err != nil {
		log.Warn().Err(err).Msg("bookTicker subscribe failed")
		return 0
	}
	defer stop()

	published := 0
	for bt := range ch {
		if !bt.Valid() {
			continue
		}
		f.Bus.Tickers.Publish(bt.Ticker(f.Exchange, time.Now()))
		published++
	}
	return published
}
