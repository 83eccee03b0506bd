package order

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pair-trader/internal/events"
	"pair-trader/pkg/db"
	"pair-trader/pkg/errs"
	"pair-trader/pkg/exchanges/common"
	"pair-trader/pkg/exchanges/paper"
	"pair-trader/pkg/queue"
	"pair-trader/pkg/throttle"
)

type registry map[string]common.Connector

func (r registry) Get(name string) (common.Connector, error) {
	c, ok := r[name]
	if !ok {
		return nil, errs.Newf(errs.NotFound, "exchange %s not registered", name)
	}
	return c, nil
}

// scripted is a connector whose create calls fail with the queued errors in order.
type scripted struct {
	mu        sync.Mutex
	createErr []error
	block     bool
	requests  []common.OrderRequest
	open      []common.Order
	cancelled []string
}

func (s *scripted) Name() string { return "scripted" }

func (s *scripted) CreateOrder(ctx context.Context, req common.OrderRequest) (common.Order, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	n := len(s.requests)
	var err error
	if len(s.createErr) > 0 {
		err, s.createErr = s.createErr[0], s.createErr[1:]
	}
	block := s.block
	s.mu.Unlock()

	if block {
		<-ctx.Done()
		return common.Order{}, ctx.Err()
	}
	if err != nil {
		return common.Order{}, err
	}
	return common.Order{ID: fmt.Sprint(n), Symbol: req.Symbol, Side: req.Side, Type: req.Type, Amount: req.Qty, Status: common.StatusNew}, nil
}

func (s *scripted) CancelOrder(ctx context.Context, symbol, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled = append(s.cancelled, symbol+"/"+orderID)
	return nil
}

func (s *scripted) GetOrders(ctx context.Context, symbol string) ([]common.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []common.Order
	for _, o := range s.open {
		if symbol == "" || o.Symbol == symbol {
			out = append(out, o)
		}
	}
	return out, nil
}

func (s *scripted) GetPositions(ctx context.Context) ([]common.Position, error) { return nil, nil }

func (s *scripted) GetTicker(ctx context.Context, symbol string) (common.Ticker, error) {
	return common.Ticker{}, errs.New(errs.DataUnavailable, "no ticker")
}

type rows struct {
	mu   sync.Mutex
	rows []db.Statement
}

func (r *rows) Record(s db.Statement) {
	r.mu.Lock()
	r.rows = append(r.rows, s)
	r.mu.Unlock()
}

func newTestExecutor(reg Registry, clock Clock, timeout time.Duration, opts ...Option) *Executor {
	var seq atomic.Int64
	opts = append([]Option{WithClientIDs(func() string { return fmt.Sprintf("cid-%d", seq.Add(1)) })}, opts...)
	return NewExecutor(reg, queue.New(), throttle.New(throttle.Limit{}, nil), Config{
		CallTimeout: timeout,
		Backoff:     Backoff{Base: 100 * time.Millisecond, Max: time.Second, Retries: 3, Clock: clock},
	}, zerolog.Nop(), opts...)
}

func TestLongEntryWithProtection(t *testing.T) {
	ex := paper.New(paper.Config{Name: "exchangeA", InitialBalance: 10000}, zerolog.Nop())
	ex.SetTicker(common.Ticker{Symbol: "BTCUSD", Bid: 100, Ask: 100})
	e := newTestExecutor(registry{"exchangeA": ex}, &fakeClock{}, time.Second)

	plan, err := Calculator{}.EntryPlan(common.Ticker{Symbol: "BTCUSD", Bid: 100, Ask: 100}, common.SideBuy, Options{Amount: 1, StopPct: 2, RiskRewardRatio: 2})
	require.NoError(t, err)

	res := e.CreateOrder(context.Background(), "exchangeA", "BTCUSD", plan)
	require.True(t, res.Success, res.Message)
	assert.Equal(t, OutcomePlaced, res.Outcome)
	assert.InDelta(t, 100.0, plan.Price, 1e-9)
	require.Len(t, res.Protective, 2)

	stop, tp := res.Protective[0], res.Protective[1]
	assert.Equal(t, common.OrderTypeStopMarket, stop.Type)
	assert.InDelta(t, 98.0, stop.StopPrice, 1e-9)
	assert.Equal(t, common.OrderTypeTakeProfitMarket, tp.Type)
	assert.InDelta(t, 104.0, tp.StopPrice, 1e-9)
	for _, o := range res.Protective {
		assert.Equal(t, common.SideSell, o.Side)
		assert.True(t, o.ReduceOnly)
	}

	open, _ := ex.GetOrders(context.Background(), "BTCUSD")
	assert.Len(t, open, 2)
}

func TestRetriesTransientWithSameClientID(t *testing.T) {
	conn := &scripted{createErr: []error{errs.New(errs.Transient, "502"), errs.New(errs.Transient, "503")}}
	clock := &fakeClock{}
	e := newTestExecutor(registry{"x": conn}, clock, time.Second)

	res := e.CreateOrder(context.Background(), "x", "ETHUSDT", Plan{Side: common.SideBuy, Type: common.OrderTypeMarket, Amount: 1})
	require.True(t, res.Success, res.Message)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, clock.Delays())

	require.Len(t, conn.requests, 3)
	for _, r := range conn.requests {
		assert.Equal(t, "cid-1", r.ClientID)
	}
}

func TestRejectedIsNotRetried(t *testing.T) {
	conn := &scripted{createErr: []error{errs.New(errs.ExchangeRejected, "min notional")}}
	clock := &fakeClock{}
	e := newTestExecutor(registry{"x": conn}, clock, time.Second)

	res := e.CreateOrder(context.Background(), "x", "ETHUSDT", Plan{Side: common.SideBuy, Type: common.OrderTypeLimit, Price: 10, Amount: 1, StopPrice: 9})
	assert.False(t, res.Success)
	assert.Equal(t, OutcomeRejected, res.Outcome)
	assert.True(t, res.ShouldCancelOrderProcess)
	assert.Len(t, conn.requests, 1)
	assert.Empty(t, clock.Delays())
}

func TestRetriesExhausted(t *testing.T) {
	var failures []error
	for i := 0; i < 10; i++ {
		failures = append(failures, errs.New(errs.Transient, "timeout from upstream"))
	}
	conn := &scripted{createErr: failures}
	e := newTestExecutor(registry{"x": conn}, &fakeClock{}, time.Second)

	res := e.CreateOrder(context.Background(), "x", "ETHUSDT", Plan{Side: common.SideSell, Type: common.OrderTypeMarket, Amount: 1})
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.False(t, res.ShouldCancelOrderProcess)
	assert.Equal(t, 4, res.Attempts)
	assert.Len(t, conn.requests, 4)
}

func TestTimeoutIsUnknown(t *testing.T) {
	conn := &scripted{block: true}
	e := newTestExecutor(registry{"x": conn}, &fakeClock{}, 20*time.Millisecond)

	res := e.CreateOrder(context.Background(), "x", "ETHUSDT", Plan{Side: common.SideBuy, Type: common.OrderTypeMarket, Amount: 1, StopPrice: 1})
	assert.Equal(t, OutcomeUnknown, res.Outcome)
	assert.False(t, res.Success)
	assert.False(t, res.ShouldCancelOrderProcess)
	assert.Len(t, conn.requests, 1, "timeouts are not retried and protection is skipped")
}

func TestProtectiveFailureKeepsEntry(t *testing.T) {
	conn := &scripted{createErr: []error{nil, errs.New(errs.ExchangeRejected, "would trigger immediately")}}
	e := newTestExecutor(registry{"x": conn}, &fakeClock{}, time.Second)

	res := e.CreateOrder(context.Background(), "x", "ETHUSDT", Plan{Side: common.SideBuy, Type: common.OrderTypeMarket, Amount: 1, StopPrice: 90, TakeProfitPrice: 120})
	require.True(t, res.Success)
	assert.Contains(t, res.Message, "protective orders failed")
	require.Len(t, res.Protective, 1)
	assert.Equal(t, common.OrderTypeTakeProfitMarket, res.Protective[0].Type)
}

func TestInvalidPlanNeverReachesConnector(t *testing.T) {
	conn := &scripted{}
	e := newTestExecutor(registry{"x": conn}, &fakeClock{}, time.Second)
	res := e.CreateOrder(context.Background(), "x", "ETHUSDT", Plan{Side: common.SideBuy, Type: common.OrderTypeLimit, Amount: 1})
	assert.Equal(t, errs.InvalidParam, res.Kind)
	assert.Empty(t, conn.requests)
}

func TestUnknownExchange(t *testing.T) {
	e := newTestExecutor(registry{}, &fakeClock{}, time.Second)
	res := e.CancelOrder(context.Background(), "nope", "BTCUSDT", "1")
	assert.False(t, res.Success)
	assert.Equal(t, errs.NotFound, res.Kind)
}

func TestCancelAll(t *testing.T) {
	conn := &scripted{open: []common.Order{
		{ID: "1", Symbol: "BTCUSDT"},
		{ID: "2", Symbol: "BTCUSDT"},
		{ID: "3", Symbol: "ETHUSDT"},
	}}
	e := newTestExecutor(registry{"x": conn}, &fakeClock{}, time.Second)

	res := e.CancelAll(context.Background(), "x", "BTCUSDT")
	require.True(t, res.Success)
	assert.Equal(t, OutcomeCancelled, res.Outcome)
	assert.Len(t, res.Affected, 2)
	assert.Equal(t, []string{"BTCUSDT/1", "BTCUSDT/2"}, conn.cancelled)

	res = e.CancelAll(context.Background(), "x", "XRPUSDT")
	assert.True(t, res.Success)
	assert.Equal(t, OutcomeNoOp, res.Outcome)
}

func TestCancelOrderByIDResolvesSymbol(t *testing.T) {
	conn := &scripted{open: []common.Order{{ID: "7", Symbol: "ETHUSDT"}}}
	e := newTestExecutor(registry{"x": conn}, &fakeClock{}, time.Second)

	res := e.CancelOrderByID(context.Background(), "x", "7")
	require.True(t, res.Success)
	assert.Equal(t, []string{"ETHUSDT/7"}, conn.cancelled)

	res = e.CancelOrderByID(context.Background(), "x", "8")
	assert.Equal(t, errs.NotFound, res.Kind)
}

func TestResultsAreRecordedAndPublished(t *testing.T) {
	conn := &scripted{}
	audit := &rows{}
	bus := events.NewBus()
	sub, unsub := bus.Orders.Subscribe(4)
	defer unsub()
	e := newTestExecutor(registry{"x": conn}, &fakeClock{}, time.Second, WithRecorder(audit), WithBus(bus))

	res := e.CreateOrder(context.Background(), "x", "ETHUSDT", Plan{Side: common.SideBuy, Type: common.OrderTypeLimit, Price: 10, Amount: 2})
	require.True(t, res.Success)

	require.Len(t, audit.rows, 1)
	row := audit.rows[0].(db.OrderLog)
	assert.Equal(t, "create", row.Op)
	assert.Equal(t, "placed", row.Outcome)
	assert.Equal(t, "cid-1", row.ClientID)
	assert.Equal(t, 2.0, row.Amount)

	select {
	case ev := <-sub:
		assert.Equal(t, "placed", ev.Outcome)
		assert.Equal(t, "1", ev.OrderID)
	case <-time.After(time.Second):
		t.Fatal("no order event")
	}
}

func TestSamePairCallsAreSerialized(t *testing.T) {
	ex := paper.New(paper.Config{Name: "p", InitialBalance: 1e6}, zerolog.Nop())
	ex.SetTicker(common.Ticker{Symbol: "BTCUSDT", Bid: 100, Ask: 101})
	e := newTestExecutor(registry{"p": ex}, &fakeClock{}, time.Second)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.CreateOrder(context.Background(), "p", "BTCUSDT", Plan{Side: common.SideBuy, Type: common.OrderTypeLimit, Price: 50, Amount: 1})
		}()
	}
	wg.Wait()
	open, _ := ex.GetOrders(context.Background(), "BTCUSDT")
	assert.Len(t, open, 8)
}
