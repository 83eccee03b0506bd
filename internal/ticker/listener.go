package ticker

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"pair-trader/internal/events"
	"pair-trader/internal/monitor"
	"pair-trader/internal/pairstate"
	"pair-trader/internal/persistence"
	"pair-trader/pkg/config"
	"pair-trader/pkg/db"
	"pair-trader/pkg/exchanges/common"
)

// Triggerer admits pair transitions.
type Triggerer interface {
	Trigger(ctx context.Context, exchange, symbol string, action pairstate.Action, options map[string]any) (pairstate.PairState, error)
}

// Feeder receives every ticker, e.g. to let simulated exchanges fill resting orders.
type Feeder interface {
	FeedTicker(t common.Ticker)
}

// PairLookup resolves the configured pair of a signal.
type PairLookup func(exchange, symbol string) (config.PairConfig, bool)

// Listener consumes the ticker and signal topics.
type Listener struct {
	Bus     *events.Bus
	Cache   *Cache
	Feeder  Feeder
	Pairs   Triggerer
	Lookup  PairLookup
	Audit   persistence.Recorder
	Metrics *monitor.Metrics
	Log     zerolog.Logger
	Buffer  int

	// PruneAge drops tickers older than this every PruneEvery. Zero disables pruning.
	PruneAge   time.Duration
	PruneEvery time.Duration
}

// Start subscribes to both topics and returns; the loop ends with ctx.
func (l *Listener) Start(ctx context.Context) {
	buf := l.Buffer
	if buf <= 0 {
		buf = 256
	}
	tickers, unsubTickers := l.Bus.Tickers.Subscribe(buf)
	signals, unsubSignals := l.Bus.Signals.Subscribe(buf)

	var prune <-chan time.Time
	if l.PruneAge > 0 {
		every := l.PruneEvery
		if every <= 0 {
			every = l.PruneAge
		}
		pt := time.NewTicker(every)
		prune = pt.C
		go func() {
			<-ctx.Done()
			pt.Stop()
		}()
	}

	go func() {
		defer unsubTickers()
		defer unsubSignals()
		for {
			select {
			case <-ctx.Done():
				return
			case <-prune:
				l.Prune()
			case t, ok := <-tickers:
				if !ok {
					return
				}
				l.HandleTicker(t)
			case s, ok := <-signals:
				if !ok {
					return
				}
				l.HandleSignal(ctx, s)
			}
		}
	}()
}

// Prune removes stale tickers from the cache and reports how many went.
func (l *Listener) Prune() int {
	n := l.Cache.Prune(l.PruneAge)
	if n > 0 {
		l.Log.Info().Int("removed", n).Dur("max_age", l.PruneAge).Msg("pruned stale tickers")
	}
	return n
}

func (l *Listener) HandleTicker(t common.Ticker) {
	l.Cache.Set(t)
	if l.Feeder != nil {
		l.Feeder.FeedTicker(t)
	}
	l.Metrics.IncTicker(t.Exchange)
}

// HandleSignal forwards s to the pair state manager when the pair is configured
// for trading, and records it either way. It reports whether s was admitted.
func (l *Listener) HandleSignal(ctx context.Context, s events.Signal) bool {
	l.Metrics.IncSignal(s.Source)
	log := l.Log.With().
		Str("exchange", s.Exchange).
		Str("symbol", s.Symbol).
		Str("signal", s.Type).
		Str("source", s.Source).
		Logger()

	forwarded := false
	defer func() { l.record(s, forwarded) }()

	action, err := pairstate.ParseAction(strings.ToLower(s.Type))
	if err != nil {
		log.Debug().Msg("ignoring non-trading signal")
		return false
	}
	if l.Lookup != nil {
		if pc, ok := l.Lookup(s.Exchange, s.Symbol); !ok || !pc.Trading() {
			log.Debug().Msg("pair not configured for trading")
			return false
		}
	}

	// configured pair options are merged in by the execution
	if _, err := l.Pairs.Trigger(ctx, s.Exchange, s.Symbol, action, s.Options); err != nil {
		log.Info().Err(err).Msg("signal not admitted")
		return false
	}
	forwarded = true
	log.Info().Msg("signal forwarded")
	return true
}

func (l *Listener) record(s events.Signal, forwarded bool) {
	if l.Audit == nil {
		return
	}
	var raw string
	if len(s.Options) > 0 {
		if b, err := json.Marshal(s.Options); err == nil {
			raw = string(b)
		}
	}
	l.Audit.Record(db.SignalRecord{
		Exchange:  s.Exchange,
		Symbol:    s.Symbol,
		Type:      s.Type,
		Source:    s.Source,
		Options:   raw,
		Forwarded: forwarded,
		CreatedAt: s.Time,
	})
}
