package strategy

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"pair-trader/internal/events"
	"pair-trader/pkg/config"
	"pair-trader/pkg/exchanges/common"
)

// Worker evaluates one tick.
type Worker interface {
	OnTick(ctx context.Context, t common.Ticker, options map[string]any) (Decision, error)
}

// SignalType maps a worker action to a signal type. HOLD and unknown actions map to "".
func SignalType(action string) string {
	switch action {
	case "BUY", "LONG":
		return "long"
	case "SELL", "SHORT":
		return "short"
	case "CLOSE", "EXIT":
		return "close"
	case "CANCEL":
		return "cancel"
	default:
		return ""
	}
}

// Bridge asks the worker about configured pairs at most once per Interval and
// publishes its decisions as signals.
type Bridge struct {
	Worker   Worker
	Bus      *events.Bus
	Pairs    []config.PairConfig
	Interval time.Duration
	Log      zerolog.Logger

	mu   sync.Mutex
	last map[string]time.Time
	now  func() time.Time
}

const signalSource = "strategy_worker"

func (b *Bridge) Start(ctx context.Context) {
	if b.Bus == nil || b.Worker == nil {
		b.Log.Warn().Msg("strategy bridge not fully configured; skipping start")
		return
	}
	tickers, unsub := b.Bus.Tickers.Subscribe(256)
	go func() {
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return
			case t, ok := <-tickers:
				if !ok {
					return
				}
				b.OnTicker(ctx, t)
			}
		}
	}()
	b.Log.Info().Int("pairs", len(b.Pairs)).Dur("interval", b.Interval).Msg("strategy bridge started")
}

// OnTicker evaluates t if it belongs to a configured pair that is due.
// It reports whether a signal was published.
func (b *Bridge) OnTicker(ctx context.Context, t common.Ticker) bool {
	pc, ok := b.pair(t)
	if !ok || !b.due(pc.Key()) {
		return false
	}

	d, err := b.Worker.OnTick(ctx, t, pc.Options)
	if err != nil {
		b.Log.Warn().Err(err).Str("exchange", pc.Exchange).Str("symbol", pc.Symbol).Msg("strategy worker call failed")
		return false
	}
	typ := SignalType(d.Action)
	if typ == "" {
		return false
	}

	var opts map[string]any
	if d.Size > 0 {
		opts = map[string]any{"amount": d.Size}
	}
	b.Bus.Signals.Publish(events.Signal{
		Exchange: pc.Exchange,
		Symbol:   pc.Symbol,
		Type:     typ,
		Options:  opts,
		Source:   signalSource,
		Time:     b.clock(),
	})
	b.Log.Info().
		Str("exchange", pc.Exchange).
		Str("symbol", pc.Symbol).
		Str("signal", typ).
		Str("note", d.Note).
		Msg("strategy signal")
	return true
}

func (b *Bridge) pair(t common.Ticker) (config.PairConfig, bool) {
	sym := common.NormalizeSymbol(t.Symbol)
	for _, pc := range b.Pairs {
		if pc.Exchange == t.Exchange && common.NormalizeSymbol(pc.Symbol) == sym {
			return pc, true
		}
	}
	return config.PairConfig{}, false
}

func (b *Bridge) due(key string) bool {
	now := b.clock()
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.last == nil {
		b.last = make(map[string]time.Time)
	}
	if last, ok := b.last[key]; ok && now.Sub(last) < b.Interval {
		return false
	}
	b.last[key] = now
	return true
}

func (b *Bridge) clock() time.Time {
	if b.now != nil {
		return b.now()
	}
	return time.Now()
}
