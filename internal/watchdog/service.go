// Package watchdog periodically reconciles what the exchanges report against
// the pair records and issues corrective cancels and protective orders.
package watchdog

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"pair-trader/internal/monitor"
	"pair-trader/internal/order"
	"pair-trader/internal/pairstate"
	"pair-trader/internal/persistence"
	"pair-trader/pkg/db"
	"pair-trader/pkg/exchanges/common"
)

// Pairs is the subset of the pair state manager the watchdog reads and advances.
type Pairs interface {
	All() []pairstate.PairState
	MarkPositionOpen(exchange, symbol string) bool
	Clear(exchange, symbol, reason string) bool
}

// Orders is the subset of the order executor used for reads and corrections.
type Orders interface {
	OpenOrders(ctx context.Context, exchange, symbol string) ([]common.Order, error)
	Positions(ctx context.Context, exchange string) ([]common.Position, error)
	CreateOrder(ctx context.Context, exchange, symbol string, plan order.Plan) order.Result
	CancelOrder(ctx context.Context, exchange, symbol, orderID string) order.Result
	PlaceProtective(ctx context.Context, exchange string, req common.OrderRequest) order.Result
}

// Exchanges lists the connectors to reconcile.
type Exchanges interface {
	Names() []string
}

type Config struct {
	Interval       time.Duration
	DriftPct       float64       // 0 disables drift checks
	MaxOrderAge    time.Duration // 0 disables stale entry cancellation
	DefaultStopPct float64       // used for positions without a pair stop_pct
	TickerMaxAge   time.Duration
	// Defaults returns the configured options of a pair.
	Defaults func(exchange, symbol string) map[string]any
}

type Service struct {
	exchanges Exchanges
	pairs     Pairs
	orders    Orders
	tickers   pairstate.TickerSource
	cfg       Config
	calc      order.Calculator

	metrics *monitor.Metrics
	audit   persistence.Recorder
	log     zerolog.Logger
	now     func() time.Time

	mu   sync.Mutex
	last []Report
	cron *cron.Cron
}

type Option func(*Service)

func WithMetrics(m *monitor.Metrics) Option { return func(s *Service) { s.metrics = m } }

func WithRecorder(r persistence.Recorder) Option { return func(s *Service) { s.audit = r } }

func NewService(ex Exchanges, pairs Pairs, orders Orders, tickers pairstate.TickerSource, cfg Config, log zerolog.Logger, opts ...Option) *Service {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	s := &Service{
		exchanges: ex,
		pairs:     pairs,
		orders:    orders,
		tickers:   tickers,
		cfg:       cfg,
		audit:     persistence.Discard{},
		log:       log.With().Str("component", "watchdog").Logger(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start schedules RunOnce every Interval until ctx ends. A cycle still running
// when the next one is due causes that one to be skipped.
func (s *Service) Start(ctx context.Context) error {
	c := cron.New(cron.WithChain(cron.Recover(cron.DiscardLogger), cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc("@every "+s.cfg.Interval.String(), func() {
		if ctx.Err() != nil {
			return
		}
		s.RunOnce(ctx)
	}); err != nil {
		return fmt.Errorf("schedule watchdog: %w", err)
	}
	c.Start()
	s.mu.Lock()
	s.cron = c
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		<-c.Stop().Done()
	}()
	s.log.Info().Dur("interval", s.cfg.Interval).Msg("watchdog started")
	return nil
}

// RunOnce reconciles every exchange concurrently and returns one report per exchange.
func (s *Service) RunOnce(ctx context.Context) []Report {
	names := s.exchanges.Names()

	reports := make([]Report, len(names))
	var wg sync.WaitGroup
	for i, name := range names {
		wg.Add(1)
		go func(i int, name string) {
			defer wg.Done()
			reports[i] = s.reconcile(ctx, name)
		}(i, name)
	}
	wg.Wait()

	for _, r := range reports {
		s.publish(r)
	}
	s.mu.Lock()
	s.last = reports
	s.mu.Unlock()
	return reports
}

// LastReports returns the reports of the most recent cycle.
func (s *Service) LastReports() []Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Report(nil), s.last...)
}

func pairsOf(all []pairstate.PairState, exchange string) map[string]pairstate.PairState {
	out := make(map[string]pairstate.PairState)
	for _, ps := range all {
		if ps.Exchange == exchange {
			out[common.NormalizeSymbol(ps.Symbol)] = ps
		}
	}
	return out
}

// cycle is the working set of one exchange reconciliation.
type cycle struct {
	exchange  string
	pairs     map[string]pairstate.PairState
	positions map[string]common.Position
	open      map[string][]common.Order // remaining open orders by normalized symbol
	report    *Report
}

func (s *Service) reconcile(ctx context.Context, exchange string) (rep Report) {
	start := s.now()
	rep = Report{Exchange: exchange, Time: start}
	defer func() { rep.Duration = s.now().Sub(start) }()

	orders, err := s.orders.OpenOrders(ctx, exchange, "")
	if err != nil {
		rep.Err = fmt.Sprintf("open orders: %v", err)
		return rep
	}
	positions, err := s.orders.Positions(ctx, exchange)
	if err != nil {
		rep.Err = fmt.Sprintf("positions: %v", err)
		return rep
	}

	// Pair records are read after the exchange listings so that an entry
	// placed while the listings were in flight is matched to its record.
	c := &cycle{
		exchange:  exchange,
		pairs:     pairsOf(s.pairs.All(), exchange),
		positions: make(map[string]common.Position),
		open:      make(map[string][]common.Order),
		report:    &rep,
	}
	for _, p := range positions {
		if p.Amount != 0 {
			c.positions[common.NormalizeSymbol(p.Symbol)] = p
		}
	}
	rep.OpenOrders = len(orders)
	rep.Positions = len(c.positions)

	for _, o := range orders {
		if !o.Status.IsOpen() {
			continue
		}
		if !s.checkOrder(ctx, c, o) {
			continue
		}
		sym := common.NormalizeSymbol(o.Symbol)
		c.open[sym] = append(c.open[sym], o)
	}
	s.protectPositions(ctx, c)
	s.advance(ctx, c)
	return rep
}

// checkOrder applies the per-order rules and reports whether o is still open afterwards.
func (s *Service) checkOrder(ctx context.Context, c *cycle, o common.Order) bool {
	sym := common.NormalizeSymbol(o.Symbol)
	ps, tracked := c.pairs[sym]
	_, hasPos := c.positions[sym]

	if !tracked && !hasPos {
		return !s.cancel(ctx, c, o, ActionCancelOrphan, "no pair and no position")
	}
	if !tracked || ps.InFlight || ps.State != pairstate.StateOrderPlaced {
		return true
	}
	if o.ReduceOnly || o.Type != common.OrderTypeLimit {
		return true
	}

	if s.cfg.MaxOrderAge > 0 && !o.CreatedAt.IsZero() && s.now().Sub(o.CreatedAt) > s.cfg.MaxOrderAge {
		return !s.cancel(ctx, c, o, ActionCancelStale, fmt.Sprintf("older than %s", s.cfg.MaxOrderAge))
	}
	if s.cfg.DriftPct <= 0 {
		return true
	}
	return !s.redrift(ctx, c, ps, o)
}

// redrift cancels a limit entry whose price moved away from the market and
// places it again at the current entry price. It reports whether o was cancelled.
func (s *Service) redrift(ctx context.Context, c *cycle, ps pairstate.PairState, o common.Order) bool {
	t, err := s.tickers.Fresh(c.exchange, o.Symbol, s.cfg.TickerMaxAge)
	if err != nil {
		return false
	}
	opts := s.options(ps)
	target := order.EntryPrice(t, o.Side, opts.SlippagePct)
	if target <= 0 || o.Price <= 0 {
		return false
	}
	drift := math.Abs(o.Price-target) / target * 100
	if drift <= s.cfg.DriftPct {
		return false
	}

	if !s.cancel(ctx, c, o, ActionCancelDrift, fmt.Sprintf("price %g drifted %.2f%% from %g", o.Price, drift, target)) {
		return false
	}
	remaining := o.Remaining()
	if remaining <= 0 {
		return true
	}
	plan := order.Plan{Side: o.Side, Type: common.OrderTypeLimit, Price: target, Amount: remaining}
	if opts.TickSize > 0 {
		plan.Price = roundTick(target, opts.TickSize)
	}
	res := s.orders.CreateOrder(ctx, c.exchange, o.Symbol, plan)
	s.note(c, ActionRecreate, o.Symbol, orderID(res), res)
	if res.Success {
		c.report.Recreated++
		if res.Order != nil {
			sym := common.NormalizeSymbol(o.Symbol)
			c.open[sym] = append(c.open[sym], *res.Order)
		}
	}
	return true
}

// protectPositions places a reduce-only stop for every position without one.
func (s *Service) protectPositions(ctx context.Context, c *cycle) {
	syms := make([]string, 0, len(c.positions))
	for sym := range c.positions {
		syms = append(syms, sym)
	}
	sort.Strings(syms)

	for _, sym := range syms {
		pos := c.positions[sym]
		exit := common.SideSell
		entrySide := common.SideBuy
		if pos.Amount < 0 {
			exit, entrySide = common.SideBuy, common.SideSell
		}
		if hasStop(c.open[sym], exit) {
			continue
		}

		ps, tracked := c.pairs[sym]
		if tracked && ps.InFlight {
			continue
		}
		opts := s.options(ps)
		stopPct := opts.StopPct
		if stopPct <= 0 {
			stopPct = s.cfg.DefaultStopPct
		}
		if stopPct <= 0 || pos.EntryPrice <= 0 {
			continue
		}
		stop, ok := s.calc.StopLoss.StopPrice(pos.EntryPrice, entrySide, stopPct, opts.TickSize)
		if !ok {
			continue
		}
		res := s.orders.PlaceProtective(ctx, c.exchange, common.OrderRequest{
			Symbol:     pos.Symbol,
			Side:       exit,
			Type:       common.OrderTypeStopMarket,
			Qty:        math.Abs(pos.Amount),
			StopPrice:  stop,
			ReduceOnly: true,
		})
		s.note(c, ActionPlaceStop, pos.Symbol, orderID(res), res)
		if res.Success {
			c.report.StopsPlaced++
			if res.Order != nil {
				c.open[sym] = append(c.open[sym], *res.Order)
			}
		}
	}
}

func hasStop(orders []common.Order, exit common.Side) bool {
	for _, o := range orders {
		if o.ReduceOnly && o.Type.IsStop() && o.Side == exit {
			return true
		}
	}
	return false
}

// advance moves settled pairs along what the exchange reports.
func (s *Service) advance(ctx context.Context, c *cycle) {
	syms := make([]string, 0, len(c.pairs))
	for sym := range c.pairs {
		syms = append(syms, sym)
	}
	sort.Strings(syms)

	for _, sym := range syms {
		ps := c.pairs[sym]
		if ps.InFlight {
			continue
		}
		_, hasPos := c.positions[sym]
		switch ps.State {
		case pairstate.StateOrderPlaced, pairstate.StatePositionOpen, pairstate.StatePositionClosing:
			// exchange-backed states
		default:
			continue
		}

		if hasPos {
			if ps.State == pairstate.StateOrderPlaced && s.pairs.MarkPositionOpen(ps.Exchange, ps.Symbol) {
				c.report.Advanced++
				s.note(c, ActionMarkOpen, ps.Symbol, "", order.Result{Success: true, Message: "position reported"})
			}
			continue
		}

		open := c.open[sym]
		if !allReduceOnly(open) {
			continue
		}
		cleaned := true
		for _, o := range open {
			if !s.cancel(ctx, c, o, ActionCancelLeftover, "position gone") {
				cleaned = false
			}
		}
		if cleaned && s.pairs.Clear(ps.Exchange, ps.Symbol, "no position and no open orders") {
			c.report.Cleared++
			s.note(c, ActionClear, ps.Symbol, "", order.Result{Success: true, Message: "pair cleared"})
		}
	}
}

// allReduceOnly is true for an empty list too.
func allReduceOnly(orders []common.Order) bool {
	for _, o := range orders {
		if !o.ReduceOnly {
			return false
		}
	}
	return true
}

func (s *Service) cancel(ctx context.Context, c *cycle, o common.Order, action ActionKind, reason string) bool {
	res := s.orders.CancelOrder(ctx, c.exchange, o.Symbol, o.ID)
	if res.Success {
		c.report.Cancelled++
		res.Message = reason
	}
	s.note(c, action, o.Symbol, o.ID, res)
	return res.Success
}

func (s *Service) note(c *cycle, kind ActionKind, symbol, id string, res order.Result) {
	a := Action{Kind: kind, Symbol: symbol, OrderID: id, Success: res.Success, Message: res.Message}
	c.report.Actions = append(c.report.Actions, a)
	if !res.Success {
		c.report.Failures++
	}
	s.metrics.IncWatchdogAction(c.exchange, string(kind), 1)
}

func (s *Service) options(ps pairstate.PairState) order.Options {
	var base map[string]any
	if s.cfg.Defaults != nil && ps.Exchange != "" {
		base = s.cfg.Defaults(ps.Exchange, ps.Symbol)
	}
	opts, err := order.ParseOptions(order.MergeOptions(base, ps.Options))
	if err != nil {
		return order.Options{}
	}
	return opts
}

func (s *Service) publish(r Report) {
	if r.Err != "" {
		s.metrics.IncWatchdogFailure(r.Exchange)
	}
	s.audit.Record(db.WatchdogReport{
		Exchange:    r.Exchange,
		OpenOrders:  r.OpenOrders,
		Positions:   r.Positions,
		Cancelled:   r.Cancelled,
		Recreated:   r.Recreated,
		StopsPlaced: r.StopsPlaced,
		Advanced:    r.Advanced,
		Cleared:     r.Cleared,
		Error:       r.Err,
		DurationMs:  r.Duration.Milliseconds(),
		CreatedAt:   r.Time,
	})

	switch {
	case r.Err != "":
		s.log.Warn().Str("exchange", r.Exchange).Str("error", r.Err).Msg("reconciliation failed, retrying next cycle")
	case len(r.Actions) > 0:
		ev := s.log.Info()
		if r.Failures > 0 {
			ev = s.log.Warn()
		}
		ev.Str("exchange", r.Exchange).
			Int("cancelled", r.Cancelled).
			Int("recreated", r.Recreated).
			Int("stops_placed", r.StopsPlaced).
			Int("advanced", r.Advanced).
			Int("cleared", r.Cleared).
			Int("failures", r.Failures).
			Msg("reconciliation corrected state")
	default:
		s.log.Debug().Str("exchange", r.Exchange).Int("open_orders", r.OpenOrders).Int("positions", r.Positions).Msg("reconciliation ok")
	}
}

func orderID(res order.Result) string {
	if res.Order != nil {
		return res.Order.ID
	}
	return ""
}
