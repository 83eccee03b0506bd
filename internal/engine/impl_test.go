package engine

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pair-trader/internal/exchange"
	"pair-trader/internal/order"
	"pair-trader/internal/pairstate"
	"pair-trader/internal/ticker"
	"pair-trader/internal/watchdog"
	"pair-trader/pkg/config"
	"pair-trader/pkg/errs"
	"pair-trader/pkg/exchanges/common"
	"pair-trader/pkg/exchanges/paper"
)

type fakePairs struct {
	states   []pairstate.PairState
	lastErr  map[string]string
	triggers []pairstate.Action
}

func (f *fakePairs) Trigger(ctx context.Context, ex, sym string, a pairstate.Action, opts map[string]any) (pairstate.PairState, error) {
	f.triggers = append(f.triggers, a)
	return pairstate.PairState{Exchange: ex, Symbol: sym, Action: a, State: pairstate.StateOrderPlaced, InFlight: true}, nil
}

func (f *fakePairs) GetPairState(ex, sym string) (pairstate.PairState, bool) {
	for _, ps := range f.states {
		if ps.Key() == pairstate.Key(ex, sym) {
			return ps, true
		}
	}
	return pairstate.PairState{}, false
}

func (f *fakePairs) All() []pairstate.PairState { return f.states }

func (f *fakePairs) LastError(ex, sym string) string { return f.lastErr[pairstate.Key(ex, sym)] }

type fakeOrders struct {
	mu        sync.Mutex
	positions map[string][]common.Position
	orders    map[string][]common.Order
	failing   map[string]error
	plans     []order.Plan
	cancelled []string
}

func (f *fakeOrders) CreateOrder(ctx context.Context, ex, sym string, plan order.Plan) order.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.plans = append(f.plans, plan)
	return order.Placed(common.Order{ID: "1", Symbol: sym, Side: plan.Side, Type: plan.Type, Price: plan.Price, Amount: plan.Amount}, "placed")
}

func (f *fakeOrders) CancelOrder(ctx context.Context, ex, sym, id string) order.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, ex+"/"+sym+"/"+id)
	return order.Cancelled("cancelled")
}

func (f *fakeOrders) CancelOrderByID(ctx context.Context, ex, id string) order.Result {
	return f.CancelOrder(ctx, ex, "", id)
}

func (f *fakeOrders) CancelAll(ctx context.Context, ex, sym string) order.Result {
	return f.CancelOrder(ctx, ex, sym, "*")
}

func (f *fakeOrders) OpenOrders(ctx context.Context, ex, sym string) ([]common.Order, error) {
	if err := f.failing[ex]; err != nil {
		return nil, err
	}
	var out []common.Order
	for _, o := range f.orders[ex] {
		if sym == "" || common.NormalizeSymbol(o.Symbol) == common.NormalizeSymbol(sym) {
			out = append(out, o)
		}
	}
	return out, nil
}

func (f *fakeOrders) Positions(ctx context.Context, ex string) ([]common.Position, error) {
	if err := f.failing[ex]; err != nil {
		return nil, err
	}
	return f.positions[ex], nil
}

type fakeExchanges struct {
	names   []string
	inverse map[string]bool
}

func (f *fakeExchanges) Names() []string { return f.names }

func (f *fakeExchanges) Get(name string) (common.Connector, error) {
	for _, n := range f.names {
		if n == name {
			return paper.New(paper.Config{Name: name}, zerolog.Nop()), nil
		}
	}
	return nil, errs.Newf(errs.NotFound, "exchange %s not registered", name)
}

func (f *fakeExchanges) IsInverse(ex, sym string) bool { return f.inverse[ex] }

func (f *fakeExchanges) Health() []exchange.Health {
	out := make([]exchange.Health, 0, len(f.names))
	for _, n := range f.names {
		out = append(out, exchange.Health{Name: n, Healthy: true, Inverse: f.inverse[n]})
	}
	return out
}

type tickerMap map[string]common.Ticker

func (m tickerMap) Get(ex, sym string) (common.Ticker, bool) {
	t, ok := m[pairstate.Key(ex, sym)]
	return t, ok
}

type fixedReports []watchdog.Report

func (r fixedReports) LastReports() []watchdog.Report { return r }

type fixture struct {
	impl   *Impl
	pairs  *fakePairs
	orders *fakeOrders
	ex     *fakeExchanges
	ticks  tickerMap
}

func newFixture() *fixture {
	f := &fixture{
		pairs:  &fakePairs{lastErr: map[string]string{}},
		orders: &fakeOrders{positions: map[string][]common.Position{}, orders: map[string][]common.Order{}, failing: map[string]error{}},
		ex:     &fakeExchanges{names: []string{"binance", "binance_coin"}, inverse: map[string]bool{"binance_coin": true}},
		ticks:  tickerMap{},
	}
	f.impl = NewImpl(Config{
		Pairs:     f.pairs,
		Orders:    f.orders,
		Exchanges: f.ex,
		Tickers:   f.ticks,
		Reports:   fixedReports{{Exchange: "binance"}},
		PairsFile: &config.PairsFile{Pairs: []config.PairConfig{
			{Exchange: "binance", Symbol: "BTCUSDT", State: config.PairTrade},
			{Exchange: "binance", Symbol: "ETHUSDT", State: config.PairWatch},
		}},
		Meta: SystemStatus{Mode: "paper", Version: "test"},
		Log:  zerolog.Nop(),
	})
	return f
}

func TestGetPairsMergesConfiguredAndLive(t *testing.T) {
	f := newFixture()
	f.pairs.states = []pairstate.PairState{
		{Exchange: "binance", Symbol: "BTC-USDT", State: pairstate.StatePositionOpen, Action: pairstate.ActionLong},
		{Exchange: "binance", Symbol: "SOLUSDT", State: pairstate.StateOrderPlaced, Action: pairstate.ActionShort, InFlight: true},
	}
	f.pairs.lastErr[pairstate.Key("binance", "ETHUSDT")] = "rejected"
	f.orders.positions["binance"] = []common.Position{{Symbol: "BTCUSDT", Amount: 1}}

	pairs, err := f.impl.GetPairs(context.Background())
	require.NoError(t, err)
	require.Len(t, pairs, 3)

	assert.Equal(t, "binance-BTCUSDT", pairs[0].Pair)
	assert.True(t, pairs[0].Trading)
	assert.True(t, pairs[0].HasPosition)
	assert.Equal(t, pairstate.StatePositionOpen, pairs[0].State)
	assert.Equal(t, "BINANCE:BTCUSDT", pairs[0].TradingView)

	assert.Equal(t, "binance-ETHUSDT", pairs[1].Pair)
	assert.Equal(t, config.PairWatch, pairs[1].Mode)
	assert.Equal(t, pairstate.StateNone, pairs[1].State)
	assert.Equal(t, "rejected", pairs[1].LastError)

	assert.Equal(t, "binance-SOLUSDT", pairs[2].Pair)
	assert.Equal(t, config.PairWatch, pairs[2].Mode, "unconfigured pairs are watch only")
	assert.True(t, pairs[2].InFlight)
	assert.False(t, pairs[2].HasPosition)
}

func TestTriggerOrderValidates(t *testing.T) {
	f := newFixture()

	_, err := f.impl.TriggerOrder(context.Background(), "binance", "long", nil)
	assert.True(t, errs.IsKind(err, errs.InvalidParam))

	_, err = f.impl.TriggerOrder(context.Background(), "binance-BTCUSDT", "hold", nil)
	assert.True(t, errs.IsKind(err, errs.InvalidParam))

	_, err = f.impl.TriggerOrder(context.Background(), "kraken-BTCUSD", "long", nil)
	assert.True(t, errs.IsKind(err, errs.NotFound))
	assert.Empty(t, f.pairs.triggers)

	ps, err := f.impl.TriggerOrder(context.Background(), "binance-BTCUSDT", "SHORT", nil)
	require.NoError(t, err)
	assert.Equal(t, pairstate.ActionShort, ps.Action)
}

func TestCreateOrderPricesFromTicker(t *testing.T) {
	f := newFixture()
	f.ticks[pairstate.Key("binance", "BTCUSDT")] = common.Ticker{Exchange: "binance", Symbol: "BTCUSDT", Bid: 100, Ask: 101}

	res := f.impl.CreateOrder(context.Background(), "binance-BTCUSDT", OrderForm{Side: "long", Amount: 2, StopPct: 2, RiskRewardRatio: 2, TickSize: 1})
	require.Equal(t, order.OutcomePlaced, res.Outcome)
	require.Len(t, f.orders.plans, 1)
	p := f.orders.plans[0]
	assert.Equal(t, common.SideBuy, p.Side)
	assert.Equal(t, common.OrderTypeLimit, p.Type)
	assert.Equal(t, 100.0, p.Price)
	assert.Equal(t, 98.0, p.StopPrice)
	assert.Equal(t, 104.0, p.TakeProfitPrice)
}

func TestCreateOrderRejectsBadInput(t *testing.T) {
	f := newFixture()

	res := f.impl.CreateOrder(context.Background(), "binance-BTCUSDT", OrderForm{Side: "up", Amount: 1})
	assert.Equal(t, order.OutcomeFailed, res.Outcome)

	res = f.impl.CreateOrder(context.Background(), "binance-BTCUSDT", OrderForm{Side: "sell", Amount: 1})
	assert.True(t, errs.IsKind(res.Error(), errs.DataUnavailable), "limit without price or ticker")

	res = f.impl.CreateOrder(context.Background(), "binance-BTCUSDT", OrderForm{Side: "sell", Type: "market", Amount: 1})
	assert.Equal(t, order.OutcomePlaced, res.Outcome, "market needs no reference price")
	assert.Len(t, f.orders.plans, 1)
}

func TestCreateOrderRejectsNonFiniteForm(t *testing.T) {
	forms := map[string]OrderForm{
		"nan stop":    {Side: "buy", Type: "market", Amount: 1, StopPct: math.NaN()},
		"inf amount":  {Side: "buy", Type: "market", Amount: math.Inf(1)},
		"nan price":   {Side: "sell", Price: math.NaN(), Amount: 1},
		"inf rr":      {Side: "buy", Type: "market", Amount: 1, StopPct: 1, RiskRewardRatio: math.Inf(1)},
		"-inf ticker": {Side: "buy", Price: 100, Amount: 1, TickSize: math.Inf(-1)},
	}
	for name, form := range forms {
		t.Run(name, func(t *testing.T) {
			f := newFixture()
			res := f.impl.CreateOrder(context.Background(), "binance-BTCUSDT", form)
			assert.Equal(t, order.OutcomeFailed, res.Outcome)
			assert.True(t, errs.IsKind(res.Error(), errs.InvalidParam))
			assert.Empty(t, f.orders.plans)
		})
	}
}

func TestCancelRoutes(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.impl.Cancel(ctx, "binance-BTCUSDT", "42")
	f.impl.CancelAll(ctx, "binance-ETHUSDT")
	f.impl.CancelByID(ctx, "binance", "7")
	res := f.impl.Cancel(ctx, "nodash", "1")

	assert.Equal(t, []string{"binance/BTCUSDT/42", "binance/ETHUSDT/*", "binance//7"}, f.orders.cancelled)
	assert.Equal(t, order.OutcomeFailed, res.Outcome)
}

func TestGetOrders(t *testing.T) {
	f := newFixture()
	now := time.Now()
	f.orders.orders["binance"] = []common.Order{
		{ID: "2", Symbol: "BTCUSDT", CreatedAt: now},
		{ID: "1", Symbol: "BTCUSDT", CreatedAt: now.Add(-time.Minute)},
		{ID: "3", Symbol: "ETHUSDT", CreatedAt: now},
	}
	f.orders.positions["binance"] = []common.Position{{Symbol: "BTCUSDT", Amount: -3}}
	f.ticks[pairstate.Key("binance", "BTCUSDT")] = common.Ticker{Bid: 1, Ask: 2}

	po, err := f.impl.GetOrders(context.Background(), "binance-BTCUSDT")
	require.NoError(t, err)
	require.Len(t, po.Orders, 2)
	assert.Equal(t, "1", po.Orders[0].ID)
	require.NotNil(t, po.Position)
	assert.Equal(t, -3.0, po.Position.Amount)
	assert.NotNil(t, po.Ticker)
	assert.Nil(t, po.State)
}

func TestTradesValuation(t *testing.T) {
	f := newFixture()
	f.orders.positions["binance"] = []common.Position{
		{Symbol: "BTCUSDT", Amount: 2, EntryPrice: 100},
		{Symbol: "ETHUSDT", Amount: -1, EntryPrice: 200},
		{Symbol: "XRPUSDT", Amount: 0},
	}
	f.orders.positions["binance_coin"] = []common.Position{{Symbol: "BTCUSD_PERP", Amount: -50, EntryPrice: 100}}
	f.orders.orders["binance"] = []common.Order{{ID: "1", Symbol: "BTCUSDT", Price: 100}}
	f.ticks[pairstate.Key("binance", "BTCUSDT")] = common.Ticker{Bid: 110, Ask: 111}
	f.ticks[pairstate.Key("binance", "ETHUSDT")] = common.Ticker{Bid: 190, Ask: 191}
	f.ticks[pairstate.Key("binance_coin", "BTCUSD_PERP")] = common.Ticker{Bid: 90, Ask: 91}

	tr, err := f.impl.Trades(context.Background())
	require.NoError(t, err)
	require.Len(t, tr.Positions, 3)
	assert.Empty(t, tr.Errors)

	byKey := map[string]PositionView{}
	for _, p := range tr.Positions {
		byKey[p.Exchange+":"+p.Position.Symbol] = p
	}

	btc := byKey["binance:BTCUSDT"]
	assert.Equal(t, 200.0, btc.Currency)
	assert.InDelta(t, 10.0, *btc.ProfitPct, 1e-9)
	assert.InDelta(t, 20.0, *btc.CurrencyProfit, 1e-9)

	eth := byKey["binance:ETHUSDT"]
	assert.InDelta(t, 5.0, *eth.ProfitPct, 1e-9, "short gains when price falls")

	inv := byKey["binance_coin:BTCUSD_PERP"]
	assert.Equal(t, 50.0, inv.Currency)
	assert.InDelta(t, 10.0, *inv.ProfitPct, 1e-9)

	require.Len(t, tr.Orders, 1)
	assert.InDelta(t, 10.0, *tr.Orders[0].PercentToPrice, 1e-9)
}

func TestTradesReportsFailingExchange(t *testing.T) {
	f := newFixture()
	f.orders.failing["binance_coin"] = errs.New(errs.Transient, "timeout")
	f.orders.positions["binance"] = []common.Position{{Symbol: "BTCUSDT", Amount: 1}}

	tr, err := f.impl.Trades(context.Background())
	require.NoError(t, err)
	assert.Len(t, tr.Positions, 1)
	assert.Contains(t, tr.Errors, "binance_coin")
	assert.Nil(t, tr.Positions[0].ProfitPct)
}

func TestExchangesAndStatus(t *testing.T) {
	f := newFixture()
	f.pairs.states = []pairstate.PairState{{Exchange: "binance", Symbol: "BTCUSDT"}}

	info := f.impl.Exchanges()
	require.Len(t, info, 2)
	assert.True(t, info[1].Inverse)

	st := f.impl.GetSystemStatus(context.Background())
	assert.Equal(t, "paper", st.Mode)
	assert.Equal(t, 2, st.Pairs)
	assert.Equal(t, 1, st.ActivePairs)
	assert.False(t, st.ServerTime.IsZero())
}

func TestSystemStatusReportsTickerCache(t *testing.T) {
	f := newFixture()
	assert.Nil(t, f.impl.GetSystemStatus(context.Background()).TickerCache, "map fake has no stats")

	c := ticker.NewCache()
	c.Set(common.Ticker{Exchange: "binance", Symbol: "BTCUSDT", Bid: 100, Ask: 101})
	c.Set(common.Ticker{Exchange: "binance", Symbol: "ETHUSDT", Bid: 10, Ask: 11})
	f.impl.tickers = c

	st := f.impl.GetSystemStatus(context.Background())
	require.NotNil(t, st.TickerCache)
	assert.Equal(t, 2, st.TickerCache.TotalItems)
}

func TestHistoryWithoutDatabase(t *testing.T) {
	f := newFixture()
	h, err := f.impl.History(context.Background(), "", 10)
	require.NoError(t, err)
	assert.Len(t, h.LastCycle, 1)
	assert.Empty(t, h.PairEvents)
}

func TestTradingViewSymbol(t *testing.T) {
	cases := map[[2]string]string{
		{"binance_futures", "BTCUSDT"}: "BINANCE:BTCUSDTPERP",
		{"binance_margin", "btcusdt"}:  "BINANCE:BTCUSDT",
		{"coinbase_pro", "BTC-USD"}:    "COINBASE:BTCUSD",
		{"paper", "ETHUSDT"}:           "PAPER:ETHUSDT",
	}
	for in, want := range cases {
		assert.Equal(t, want, TradingViewSymbol(in[0], in[1]))
	}
}

func TestParsePair(t *testing.T) {
	ex, sym, err := ParsePair("coinbase_pro-BTC-USD")
	require.NoError(t, err)
	assert.Equal(t, "coinbase_pro", ex)
	assert.Equal(t, "BTC-USD", sym)

	for _, bad := range []string{"", "binance", "-BTC", "binance-"} {
		_, _, err := ParsePair(bad)
		assert.True(t, errs.IsKind(err, errs.InvalidParam), bad)
	}
}
