package market

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"pair-trader/internal/events"
	"pair-trader/pkg/exchanges/common"
)

// TickerGetter is the read side of a connector.
type TickerGetter interface {
	GetTicker(ctx context.Context, symbol string) (common.Ticker, error)
}

// PollFeed publishes tickers by asking a connector on a fixed interval.
type PollFeed struct {
	Exchange string
	Source   TickerGetter
	Bus      *events.Bus
	Symbols  []string
	Interval time.Duration
	Timeout  time.Duration
	Log      zerolog.Logger
}

func (p *PollFeed) Start(ctx context.Context) {
	if p.Bus == nil || p.Source == nil {
		p.Log.Warn().Str("exchange", p.Exchange).Msg("poll feed not fully configured; skipping start")
		return
	}
	if p.Interval <= 0 {
		p.Interval = 5 * time.Second
	}
	if p.Timeout <= 0 {
		p.Timeout = p.Interval
	}
	go func() {
		t := time.NewTicker(p.Interval)
		defer t.Stop()
		p.PollOnce(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				p.PollOnce(ctx)
			}
		}
	}()
}

// PollOnce fetches every symbol once and returns how many tickers were published.
func (p *PollFeed) PollOnce(ctx context.Context) int {
	n := 0
	for _, sym := range p.Symbols {
		cctx, cancel := context.WithTimeout(ctx, p.Timeout)
		t, err := p.Source.GetTicker(cctx, sym)
		cancel()
		if err != nil {
			p.Log.Debug().Err(err).Str("exchange", p.Exchange).Str("symbol", sym).Msg("ticker poll failed")
			continue
		}
		t.Exchange = p.Exchange
		if t.Symbol == "" {
			t.Symbol = sym
		}
		if t.Time.IsZero() {
			t.Time = time.Now()
		}
		p.Bus.Tickers.Publish(t)
		n++
	}
	return n
}
