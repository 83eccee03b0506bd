package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"pair-trader/internal/api"
	"pair-trader/internal/engine"
	"pair-trader/internal/events"
	"pair-trader/internal/exchange"
	"pair-trader/internal/market"
	"pair-trader/internal/monitor"
	"pair-trader/internal/order"
	"pair-trader/internal/pairstate"
	"pair-trader/internal/persistence"
	"pair-trader/internal/strategy"
	"pair-trader/internal/ticker"
	"pair-trader/internal/watchdog"
	"pair-trader/pkg/config"
	"pair-trader/pkg/db"
	"pair-trader/pkg/logger"
	marketbinance "pair-trader/pkg/market/binance"
	"pair-trader/pkg/queue"
	"pair-trader/pkg/throttle"
)

const serviceName = "pair-trader"

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := logger.New(logger.Options{Service: serviceName})
		boot.Fatal().Err(err).Msg("load config")
	}
	log := logger.New(logger.Options{Service: serviceName, Level: cfg.LogLevel, Pretty: cfg.LogPretty})

	buildVersion := os.Getenv("APP_VERSION")
	if buildVersion == "" {
		buildVersion = "v1.0-dev"
	}
	log.Info().Str("version", buildVersion).Str("port", cfg.Port).Bool("dry_run", cfg.DryRun).Msg("starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pairs, err := config.LoadPairs(cfg.PairsFile)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.PairsFile).Msg("load pairs file")
	}
	log.Info().Int("pairs", len(pairs.Pairs)).Str("path", cfg.PairsFile).Msg("pairs loaded")

	// Core services
	bus := events.NewBus()
	metrics := monitor.New(nil)

	database, err := db.New(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Msg("open database")
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		log.Fatal().Err(err).Msg("apply migrations")
	}
	audit := persistence.NewBatchWriter(database.DB, 100, time.Second, log)
	defer audit.Close()

	exchanges, err := exchange.FromConfig(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("register exchanges")
	}
	exchanges.StartClockSync(ctx)

	executor := order.NewExecutor(exchanges, queue.New(), throttle.New(
		throttle.Limit{Calls: cfg.ThrottleCalls, Window: cfg.ThrottleWindow},
		throttleOverrides(pairs),
	), order.Config{
		CallTimeout: cfg.CallTimeout,
		Backoff: order.Backoff{
			Base:    cfg.ExecutorBackoffBase,
			Max:     cfg.ExecutorBackoffMax,
			Retries: cfg.ExecutorMaxRetries,
			Jitter:  order.ProportionalJitter(0.2),
		},
	}, log, order.WithMetrics(metrics), order.WithRecorder(audit), order.WithBus(bus))

	tickers := ticker.NewCache()
	defaults := func(exchange, symbol string) map[string]any {
		if pc, ok := pairs.Lookup(exchange, symbol); ok {
			return pc.Options
		}
		return nil
	}

	opts := []pairstate.Option{
		pairstate.WithBus(bus),
		pairstate.WithRecorder(audit),
		pairstate.WithMetrics(metrics),
	}
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("redis unreachable; pair states are not mirrored")
		} else {
			opts = append(opts, pairstate.WithMirror(pairstate.NewRedisMirror(rdb, pairstate.DefaultRedisKey)))
		}
	}
	pairStates := pairstate.NewManager(&pairstate.Execution{
		Tickers:   tickers,
		Positions: executor,
		Orders:    executor,
		Defaults:  defaults,
		MaxAge:    cfg.TickerMaxAge,
		Log:       log,
	}, log, opts...)
	if _, err := pairStates.Restore(ctx); err != nil {
		log.Warn().Err(err).Msg("restore pair states")
	}

	listener := &ticker.Listener{
		Bus:     bus,
		Cache:   tickers,
		Feeder:  exchanges,
		Pairs:   pairStates,
		Lookup:  pairs.Lookup,
		Audit:   audit,
		Metrics: metrics,
		Log:     log.With().Str("component", "listener").Logger(),

		PruneAge:   cfg.TickerPruneAge,
		PruneEvery: time.Minute,
	}
	listener.Start(ctx)

	startFeeds(ctx, cfg, pairs, exchanges, bus, log)

	if cfg.EnableSignalWorker {
		client, err := strategy.Dial(cfg.SignalWorkerAddr, cfg.CallTimeout)
		if err != nil {
			log.Error().Err(err).Str("addr", cfg.SignalWorkerAddr).Msg("signal worker unavailable")
		} else {
			defer client.Close()
			bridge := &strategy.Bridge{
				Worker:   client,
				Bus:      bus,
				Pairs:    pairs.Pairs,
				Interval: cfg.SignalInterval,
				Log:      log.With().Str("component", "strategy_bridge").Logger(),
			}
			bridge.Start(ctx)
			log.Info().Str("addr", cfg.SignalWorkerAddr).Msg("signal worker bridge enabled")
		}
	}

	dog := watchdog.NewService(exchanges, pairStates, executor, tickers, watchdog.Config{
		Interval:       cfg.WatchdogInterval,
		DriftPct:       cfg.WatchdogDriftPct,
		MaxOrderAge:    cfg.WatchdogMaxOrderAge,
		DefaultStopPct: cfg.WatchdogDefaultStopPct,
		TickerMaxAge:   cfg.TickerMaxAge,
		Defaults:       defaults,
	}, log, watchdog.WithMetrics(metrics), watchdog.WithRecorder(audit))
	if err := dog.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("start watchdog")
	}

	(&monitor.Monitor{Bus: bus, Log: log.With().Str("component", "monitor").Logger()}).Start(ctx)

	mode := "LIVE"
	if cfg.DryRun {
		mode = "DRY_RUN"
	}
	engService := engine.NewImpl(engine.Config{
		Pairs:     pairStates,
		Orders:    executor,
		Exchanges: exchanges,
		Tickers:   tickers,
		History:   database,
		Reports:   dog,
		PairsFile: pairs,
		Meta: engine.SystemStatus{
			Mode:        mode,
			DryRun:      cfg.DryRun,
			UseMockFeed: cfg.UseMockFeed,
			Version:     buildVersion,
			NodeID:      logger.NodeID(serviceName),
			StartedAt:   time.Now(),
		},
		Log: log,
	})

	server, err := api.NewServer(api.Config{
		Engine:    engService,
		Bus:       bus,
		Metrics:   metrics,
		JWTSecret: cfg.JWTSecret,
		Username:  cfg.AuthUsername,
		Password:  cfg.AuthPassword,
		Log:       log,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("build api server")
	}
	go func() {
		if err := server.Start(":" + cfg.Port); err != nil {
			log.Error().Err(err).Msg("api server stopped")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("api shutdown")
	}
	pairStates.Wait()
	if err := audit.Flush(); err != nil {
		log.Warn().Err(err).Msg("flush audit log")
	}
}

func throttleOverrides(pf *config.PairsFile) map[string]throttle.Limit {
	out := make(map[string]throttle.Limit, len(pf.Throttle))
	for name, t := range pf.Throttle {
		out[name] = throttle.Limit{Calls: t.Calls, Window: t.Window, Burst: t.Burst}
	}
	return out
}

// startFeeds starts one ticker source per exchange for its configured symbols:
// the mock random walk, REST polling, or the Binance bookTicker stream.
func startFeeds(ctx context.Context, cfg *config.Config, pf *config.PairsFile, exchanges *exchange.Manager, bus *events.Bus, log zerolog.Logger) {
	symbols := make(map[string][]string)
	for _, p := range pf.Pairs {
		symbols[p.Exchange] = append(symbols[p.Exchange], p.Symbol)
	}
	hosts := streamHosts(cfg)

	for _, name := range exchanges.Names() {
		syms := symbols[name]
		if len(syms) == 0 {
			continue
		}
		flog := log.With().Str("component", "feed").Str("exchange", name).Logger()

		switch {
		case cfg.UseMockFeed:
			(&market.MockFeed{Exchange: name, Bus: bus, Symbols: syms, Interval: time.Second, Log: flog}).Start(ctx)
			flog.Info().Strs("symbols", syms).Msg("mock feed started")
		case cfg.TickerPollInterval > 0 && !cfg.DryRun:
			conn, err := exchanges.Get(name)
			if err != nil {
				continue
			}
			(&market.PollFeed{Exchange: name, Source: conn, Bus: bus, Symbols: syms, Interval: cfg.TickerPollInterval, Log: flog}).Start(ctx)
			flog.Info().Strs("symbols", syms).Dur("interval", cfg.TickerPollInterval).Msg("poll feed started")
		default:
			host, ok := hosts[name]
			if !ok {
				flog.Warn().Msg("no market stream for exchange; tickers only arrive from other publishers")
				continue
			}
			feed := &market.Feed{Exchange: name, Stream: marketbinance.NewStreamClient(host, flog), Bus: bus, Symbols: syms, Log: flog}
			feed.Start(ctx)
			flog.Info().Strs("symbols", syms).Str("host", host).Msg("bookTicker feed started")
		}
	}
}

// streamHosts maps venue names to their public bookTicker host.
func streamHosts(cfg *config.Config) map[string]string {
	spotHost, futHost, coinHost := marketbinance.SpotHost, marketbinance.USDTFuturesHost, marketbinance.CoinFuturesHost
	if cfg.BinanceTestnet {
		spotHost, futHost, coinHost = marketbinance.SpotTestnetHost, marketbinance.FuturesTestHost, marketbinance.FuturesTestHost
	}
	return map[string]string{
		cfg.BinanceSpot.Name:        spotHost,
		cfg.BinanceMargin.Name:      spotHost,
		cfg.BinanceUSDTFutures.Name: futHost,
		cfg.BinanceCoinFutures.Name: coinHost,
	}
}
