package engine

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"pair-trader/internal/exchange"
	"pair-trader/internal/order"
	"pair-trader/internal/pairstate"
	"pair-trader/internal/watchdog"
	"pair-trader/pkg/cache"
	"pair-trader/pkg/config"
	"pair-trader/pkg/db"
	"pair-trader/pkg/errs"
	"pair-trader/pkg/exchanges/common"
)

// Pairs is the pair state manager as seen by the facade.
type Pairs interface {
	Trigger(ctx context.Context, exchange, symbol string, action pairstate.Action, options map[string]any) (pairstate.PairState, error)
	GetPairState(exchange, symbol string) (pairstate.PairState, bool)
	All() []pairstate.PairState
	LastError(exchange, symbol string) string
}

// Orders is the order executor as seen by the facade.
type Orders interface {
	CreateOrder(ctx context.Context, exchange, symbol string, plan order.Plan) order.Result
	CancelOrder(ctx context.Context, exchange, symbol, orderID string) order.Result
	CancelOrderByID(ctx context.Context, exchange, orderID string) order.Result
	CancelAll(ctx context.Context, exchange, symbol string) order.Result
	OpenOrders(ctx context.Context, exchange, symbol string) ([]common.Order, error)
	Positions(ctx context.Context, exchange string) ([]common.Position, error)
}

// Exchanges is the connector registry as seen by the facade.
type Exchanges interface {
	Names() []string
	Get(name string) (common.Connector, error)
	IsInverse(exchange, symbol string) bool
	Health() []exchange.Health
}

// Tickers is the ticker cache.
type Tickers interface {
	Get(exchange, symbol string) (common.Ticker, bool)
}

// TickerStats is implemented by caches that report their occupancy.
type TickerStats interface {
	Stats() cache.Stats
}

// Reports exposes the watchdog's last cycle.
type Reports interface {
	LastReports() []watchdog.Report
}

// Impl implements Service by composing the core components.
type Impl struct {
	pairs     Pairs
	orders    Orders
	exchanges Exchanges
	tickers   Tickers
	history   *db.Database
	reports   Reports
	config    *config.PairsFile
	calc      order.Calculator
	log       zerolog.Logger

	meta SystemStatus
}

// Config holds the collaborators of an Impl. History and Reports are optional.
type Config struct {
	Pairs     Pairs
	Orders    Orders
	Exchanges Exchanges
	Tickers   Tickers
	History   *db.Database
	Reports   Reports
	PairsFile *config.PairsFile
	Meta      SystemStatus
	Log       zerolog.Logger
}

func NewImpl(cfg Config) *Impl {
	pf := cfg.PairsFile
	if pf == nil {
		pf = &config.PairsFile{}
	}
	return &Impl{
		pairs:     cfg.Pairs,
		orders:    cfg.Orders,
		exchanges: cfg.Exchanges,
		tickers:   cfg.Tickers,
		history:   cfg.History,
		reports:   cfg.Reports,
		config:    pf,
		log:       cfg.Log.With().Str("component", "engine").Logger(),
		meta:      cfg.Meta,
	}
}

// --- Pair state ---

// GetPairs lists configured pairs and any live pair that is not configured.
func (e *Impl) GetPairs(ctx context.Context) ([]PairInfo, error) {
	byKey := make(map[string]*PairInfo)
	var out []*PairInfo
	add := func(exchange, symbol string) *PairInfo {
		k := pairstate.Key(exchange, symbol)
		if p, ok := byKey[k]; ok {
			return p
		}
		p := &PairInfo{
			Pair:        PairName(exchange, symbol),
			Exchange:    exchange,
			Symbol:      symbol,
			Mode:        config.PairWatch,
			State:       pairstate.StateNone,
			TradingView: TradingViewSymbol(exchange, symbol),
		}
		byKey[k] = p
		out = append(out, p)
		return p
	}

	for _, pc := range e.config.Pairs {
		p := add(pc.Exchange, pc.Symbol)
		p.Mode = pc.State
		p.Trading = pc.Trading()
		p.Options = pc.Options
	}
	for _, ps := range e.pairs.All() {
		p := add(ps.Exchange, ps.Symbol)
		live := ps
		p.Live = &live
		p.State = ps.State
		p.Action = ps.Action
		p.InFlight = ps.InFlight
	}

	held := e.positionSymbols(ctx, out)
	for _, p := range out {
		p.HasPosition = held[pairstate.Key(p.Exchange, p.Symbol)]
		if p.Live == nil {
			p.LastError = e.pairs.LastError(p.Exchange, p.Symbol)
		} else {
			p.LastError = p.Live.LastError
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Pair < out[j].Pair })
	res := make([]PairInfo, len(out))
	for i, p := range out {
		res[i] = *p
	}
	return res, nil
}

// positionSymbols fetches positions once per exchange in use. Failing
// exchanges are logged and report no positions.
func (e *Impl) positionSymbols(ctx context.Context, pairs []*PairInfo) map[string]bool {
	exchanges := make(map[string]bool)
	for _, p := range pairs {
		exchanges[p.Exchange] = true
	}
	held := make(map[string]bool)
	var mu sync.Mutex
	var wg sync.WaitGroup
	for name := range exchanges {
		if _, err := e.exchanges.Get(name); err != nil {
			continue
		}
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			positions, err := e.orders.Positions(ctx, name)
			if err != nil {
				e.log.Warn().Err(err).Str("exchange", name).Msg("positions unavailable")
				return
			}
			mu.Lock()
			defer mu.Unlock()
			for _, pos := range positions {
				if pos.Amount != 0 {
					held[pairstate.Key(name, pos.Symbol)] = true
				}
			}
		}(name)
	}
	wg.Wait()
	return held
}

func (e *Impl) TriggerOrder(ctx context.Context, pair, action string, options map[string]any) (pairstate.PairState, error) {
	exchange, symbol, err := ParsePair(pair)
	if err != nil {
		return pairstate.PairState{}, err
	}
	a, err := pairstate.ParseAction(strings.ToLower(action))
	if err != nil {
		return pairstate.PairState{}, err
	}
	if _, err := e.exchanges.Get(exchange); err != nil {
		return pairstate.PairState{}, err
	}
	e.log.Info().Str("exchange", exchange).Str("symbol", symbol).Str("action", string(a)).Msg("manual trigger")
	return e.pairs.Trigger(ctx, exchange, symbol, a, options)
}

// --- Orders of one pair ---

func (e *Impl) GetOrders(ctx context.Context, pair string) (*PairOrders, error) {
	exchange, symbol, err := ParsePair(pair)
	if err != nil {
		return nil, err
	}
	orders, err := e.orders.OpenOrders(ctx, exchange, symbol)
	if err != nil {
		return nil, err
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].CreatedAt.Before(orders[j].CreatedAt) })

	out := &PairOrders{Pair: pair, Orders: orders, TradingView: TradingViewSymbol(exchange, symbol)}
	if pos, err := e.GetPosition(ctx, exchange, symbol); err == nil {
		out.Position = pos
	} else {
		e.log.Warn().Err(err).Str("pair", pair).Msg("position unavailable")
	}
	if t, ok := e.tickers.Get(exchange, symbol); ok {
		out.Ticker = &t
	}
	if ps, ok := e.pairs.GetPairState(exchange, symbol); ok {
		out.State = &ps
	}
	return out, nil
}

func (e *Impl) GetTicker(pair string) (common.Ticker, error) {
	exchange, symbol, err := ParsePair(pair)
	if err != nil {
		return common.Ticker{}, err
	}
	t, ok := e.tickers.Get(exchange, symbol)
	if !ok {
		return common.Ticker{}, errs.Newf(errs.DataUnavailable, "no ticker for %s", pair)
	}
	return t, nil
}

// GetPosition reads positions through the throttled executor path.
func (e *Impl) GetPosition(ctx context.Context, exchange, symbol string) (*common.Position, error) {
	positions, err := e.orders.Positions(ctx, exchange)
	if err != nil {
		return nil, err
	}
	want := common.NormalizeSymbol(symbol)
	for _, p := range positions {
		if common.NormalizeSymbol(p.Symbol) == want && p.Amount != 0 {
			pos := p
			return &pos, nil
		}
	}
	return nil, nil
}

// CreateOrder places a manual order through the same executor as automatic entries.
func (e *Impl) CreateOrder(ctx context.Context, pair string, form OrderForm) order.Result {
	exchange, symbol, err := ParsePair(pair)
	if err != nil {
		return order.FromError(err)
	}
	plan, err := e.planFromForm(exchange, symbol, form)
	if err != nil {
		return order.FromError(err)
	}
	e.log.Info().Str("exchange", exchange).Str("symbol", symbol).Interface("plan", plan).Msg("manual order")
	return e.orders.CreateOrder(ctx, exchange, symbol, plan)
}

func (e *Impl) planFromForm(exchange, symbol string, form OrderForm) (order.Plan, error) {
	var side common.Side
	switch strings.ToLower(form.Side) {
	case "long", "buy":
		side = common.SideBuy
	case "short", "sell":
		side = common.SideSell
	default:
		return order.Plan{}, errs.Newf(errs.InvalidParam, "invalid side %q", form.Side)
	}
	if !order.Finite(form.Price, form.Amount, form.StopPct, form.RiskRewardRatio, form.TickSize) {
		return order.Plan{}, errs.New(errs.InvalidParam, "order form values must be finite numbers")
	}

	plan := order.Plan{Side: side, Type: common.OrderTypeLimit, Price: form.Price, Amount: form.Amount}
	switch strings.ToLower(form.Type) {
	case "", "limit":
	case "market":
		plan.Type = common.OrderTypeMarket
		plan.Price = 0
	default:
		return order.Plan{}, errs.Newf(errs.InvalidParam, "invalid order type %q", form.Type)
	}

	ref := plan.Price
	if ref <= 0 {
		t, ok := e.tickers.Get(exchange, symbol)
		if !ok || t.Bid <= 0 || t.Ask <= 0 {
			if plan.Type == common.OrderTypeLimit || form.StopPct > 0 {
				return order.Plan{}, errs.Newf(errs.DataUnavailable, "no ticker for %s %s", exchange, symbol)
			}
		} else {
			ref = order.EntryPrice(t, side, 0)
			if plan.Type == common.OrderTypeLimit {
				plan.Price = ref
			}
		}
	}

	if stop, ok := e.calc.StopLoss.StopPrice(ref, side, form.StopPct, form.TickSize); ok {
		plan.StopPrice = stop
		if tp, ok := e.calc.RiskReward.TakeProfitPrice(ref, stop, form.RiskRewardRatio, form.TickSize); ok {
			plan.TakeProfitPrice = tp
		}
	}
	return plan, plan.Validate()
}

func (e *Impl) Cancel(ctx context.Context, pair, orderID string) order.Result {
	exchange, symbol, err := ParsePair(pair)
	if err != nil {
		return order.FromError(err)
	}
	return e.orders.CancelOrder(ctx, exchange, symbol, orderID)
}

func (e *Impl) CancelAll(ctx context.Context, pair string) order.Result {
	exchange, symbol, err := ParsePair(pair)
	if err != nil {
		return order.FromError(err)
	}
	return e.orders.CancelAll(ctx, exchange, symbol)
}

func (e *Impl) CancelByID(ctx context.Context, exchange, orderID string) order.Result {
	return e.orders.CancelOrderByID(ctx, exchange, orderID)
}

// --- Cross-exchange views ---

// Trades collects positions and open orders of every exchange concurrently.
// A failing exchange is reported in Errors and does not fail the view.
func (e *Impl) Trades(ctx context.Context) (*Trades, error) {
	out := &Trades{Positions: []PositionView{}, Orders: []OrderView{}}
	var mu sync.Mutex
	var wg sync.WaitGroup
	fail := func(name string, err error) {
		mu.Lock()
		defer mu.Unlock()
		if out.Errors == nil {
			out.Errors = make(map[string]string)
		}
		out.Errors[name] = err.Error()
	}

	for _, name := range e.exchanges.Names() {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			positions, err := e.orders.Positions(ctx, name)
			if err != nil {
				fail(name, err)
				return
			}
			orders, err := e.orders.OpenOrders(ctx, name, "")
			if err != nil {
				fail(name, err)
				return
			}

			pv := make([]PositionView, 0, len(positions))
			for _, p := range positions {
				if p.Amount == 0 {
					continue
				}
				pv = append(pv, e.positionView(name, p))
			}
			ov := make([]OrderView, 0, len(orders))
			for _, o := range orders {
				v := OrderView{Exchange: name, Order: o}
				if t, ok := e.tickers.Get(name, o.Symbol); ok && o.Price > 0 && t.Bid > 0 {
					pct := percentDifference(o.Price, t.Bid)
					v.PercentToPrice = &pct
				}
				ov = append(ov, v)
			}

			mu.Lock()
			out.Positions = append(out.Positions, pv...)
			out.Orders = append(out.Orders, ov...)
			mu.Unlock()
		}(name)
	}
	wg.Wait()

	sort.Slice(out.Positions, func(i, j int) bool {
		return out.Positions[i].Position.Symbol < out.Positions[j].Position.Symbol
	})
	sort.Slice(out.Orders, func(i, j int) bool { return out.Orders[i].Order.Symbol < out.Orders[j].Order.Symbol })
	return out, nil
}

// positionView values a position in quote currency. Inverse contracts are
// already denominated in it.
func (e *Impl) positionView(exchange string, p common.Position) PositionView {
	v := PositionView{Exchange: exchange, Position: p}
	if e.exchanges.IsInverse(exchange, p.Symbol) {
		v.Currency = math.Abs(p.Amount)
	} else if p.EntryPrice > 0 {
		v.Currency = p.EntryPrice * math.Abs(p.Amount)
	}
	t, ok := e.tickers.Get(exchange, p.Symbol)
	if !ok || t.Bid <= 0 || p.EntryPrice <= 0 {
		return v
	}
	profit := percentDifference(p.EntryPrice, t.Bid)
	if p.Amount < 0 {
		profit = -profit
	}
	v.ProfitPct = &profit
	if v.Currency > 0 {
		cp := v.Currency * profit / 100
		v.CurrencyProfit = &cp
	}
	return v
}

// percentDifference is the change from a to b in percent of a.
func percentDifference(a, b float64) float64 {
	return (b - a) / a * 100
}

func (e *Impl) Exchanges() []ExchangeInfo {
	health := e.exchanges.Health()
	out := make([]ExchangeInfo, 0, len(health))
	for _, h := range health {
		out = append(out, ExchangeInfo{
			Name:        h.Name,
			Healthy:     h.Healthy,
			Inverse:     h.Inverse,
			Failures:    h.Failures,
			LastError:   h.LastError,
			LastFailure: h.LastFailure,
		})
	}
	return out
}

// History returns the audit trail, optionally filtered to one pair.
func (e *Impl) History(ctx context.Context, pair string, limit int) (*History, error) {
	out := &History{}
	if e.reports != nil {
		out.LastCycle = e.reports.LastReports()
	}
	if e.history == nil {
		return out, nil
	}
	var exchange, symbol string
	if pair != "" {
		var err error
		if exchange, symbol, err = ParsePair(pair); err != nil {
			return nil, err
		}
	}

	var err error
	if out.PairEvents, err = e.history.RecentPairEvents(ctx, exchange, symbol, limit); err != nil {
		return nil, err
	}
	if out.Orders, err = e.history.RecentOrderLog(ctx, exchange, symbol, limit); err != nil {
		return nil, err
	}
	if out.Watchdog, err = e.history.RecentWatchdogReports(ctx, limit); err != nil {
		return nil, err
	}
	if out.Signals, err = e.history.RecentSignals(ctx, limit); err != nil {
		return nil, err
	}
	return out, nil
}

func (e *Impl) GetSystemStatus(ctx context.Context) *SystemStatus {
	status := e.meta
	status.Exchanges = e.exchanges.Names()
	status.Pairs = len(e.config.Pairs)
	status.ActivePairs = len(e.pairs.All())
	status.ServerTime = time.Now()
	if ts, ok := e.tickers.(TickerStats); ok {
		st := ts.Stats()
		status.TickerCache = &st
	}
	return &status
}
