package main

import (
	"context"
	"time"

	"pair-trader/internal/exchange"
	"pair-trader/internal/order"
	"pair-trader/internal/pairstate"
	"pair-trader/internal/ticker"
	"pair-trader/internal/watchdog"
	"pair-trader/pkg/exchanges/common"
	"pair-trader/pkg/exchanges/paper"
	"pair-trader/pkg/logger"
	"pair-trader/pkg/queue"
	"pair-trader/pkg/throttle"
)

// dry_run_demo walks one pair through a full lifecycle against the paper
// exchange. It does not touch a real exchange, redis or the database.
//
// Usage:
//   go run ./scripts/dry_run_demo
//
// It will:
//   1) Place a long entry with stop and take-profit below the ask.
//   2) Move the market through the entry and let the watchdog mark the position open.
//   3) Close the position and let the watchdog clear the pair.

const (
	venue  = "paper"
	symbol = "BTCUSDT"
)

func main() {
	log := logger.New(logger.Options{Service: "dry-run-demo", Level: "info", Pretty: true})
	ctx := context.Background()

	ex := paper.New(paper.Config{Name: venue, InitialBalance: 10000, FeeRate: 0.0004}, log)
	reg := exchange.NewManager(log)
	if err := reg.Register(ex); err != nil {
		log.Fatal().Err(err).Msg("register paper exchange")
	}

	exec := order.NewExecutor(reg, queue.New(), throttle.New(throttle.Limit{Calls: 10, Window: time.Second}, nil),
		order.Config{CallTimeout: 5 * time.Second, Backoff: order.Backoff{Base: 100 * time.Millisecond, Retries: 2}}, log)
	tickers := ticker.NewCache()
	pairs := pairstate.NewManager(&pairstate.Execution{
		Tickers:   tickers,
		Positions: exec,
		Orders:    exec,
		MaxAge:    time.Minute,
		Log:       log,
	}, log)
	dog := watchdog.NewService(reg, pairs, exec, tickers, watchdog.Config{DriftPct: 5, TickerMaxAge: time.Minute}, log)

	market := func(bid, ask float64) {
		t := common.Ticker{Exchange: venue, Symbol: symbol, Bid: bid, Ask: ask, Time: time.Now()}
		tickers.Set(t)
		reg.FeedTicker(t)
	}
	state := func(step string) {
		ps, ok := pairs.GetPairState(venue, symbol)
		if !ok {
			log.Info().Str("step", step).Str("state", string(pairstate.StateNone)).Float64("balance", ex.Balance()).Msg("pair")
			return
		}
		log.Info().Str("step", step).Str("state", string(ps.State)).Str("order_id", ps.OrderID).Float64("balance", ex.Balance()).Msg("pair")
	}

	log.Info().Msg("[SCENARIO 1] long entry below the ask")
	market(100, 100.5)
	if _, err := pairs.Trigger(ctx, venue, symbol, pairstate.ActionLong, map[string]any{
		"amount": 0.1, "stop_pct": 2, "risk_reward_ratio": 2, "tick_size": 0.1,
	}); err != nil {
		log.Fatal().Err(err).Msg("trigger long")
	}
	pairs.Wait()
	state("entry placed")

	log.Info().Msg("[SCENARIO 2] market trades through the entry")
	market(99.5, 99.8)
	dog.RunOnce(ctx)
	state("after watchdog")

	log.Info().Msg("[SCENARIO 3] close the position")
	market(103, 103.2)
	if _, err := pairs.Trigger(ctx, venue, symbol, pairstate.ActionClose, map[string]any{"market": true}); err != nil {
		log.Fatal().Err(err).Msg("trigger close")
	}
	pairs.Wait()
	state("close sent")
	dog.RunOnce(ctx)
	state("after watchdog")

	for _, r := range dog.LastReports() {
		log.Info().Str("exchange", r.Exchange).Int("actions", len(r.Actions)).Msg("last watchdog cycle")
	}
	log.Info().Msg("=== DRY-RUN demo finished ===")
}
