package order

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"pair-trader/internal/events"
	"pair-trader/internal/monitor"
	"pair-trader/internal/persistence"
	"pair-trader/pkg/db"
	"pair-trader/pkg/errs"
	"pair-trader/pkg/exchanges/common"
	"pair-trader/pkg/queue"
	"pair-trader/pkg/throttle"
)

// Registry resolves connectors by exchange name.
type Registry interface {
	Get(name string) (common.Connector, error)
}

// HealthRecorder receives per-connector call outcomes. Registries that
// implement it are notified after every call.
type HealthRecorder interface {
	RecordSuccess(name string)
	RecordFailure(name string, err error)
}

// Config tunes connector calls.
type Config struct {
	CallTimeout time.Duration
	Backoff     Backoff
}

// Executor is the only component that calls mutating connector operations.
// Every call is serialized per exchange:symbol, throttled per exchange,
// bounded by CallTimeout and retried on transient failures.
type Executor struct {
	registry Registry
	queue    *queue.Queue
	throttle *throttle.Throttler
	cfg      Config

	metrics *monitor.Metrics
	audit   persistence.Recorder
	bus     *events.Bus
	log     zerolog.Logger
	newID   func() string
}

type Option func(*Executor)

func WithMetrics(m *monitor.Metrics) Option { return func(e *Executor) { e.metrics = m } }

func WithRecorder(r persistence.Recorder) Option { return func(e *Executor) { e.audit = r } }

func WithBus(b *events.Bus) Option { return func(e *Executor) { e.bus = b } }

// WithClientIDs replaces the uuid client order id generator.
func WithClientIDs(fn func() string) Option { return func(e *Executor) { e.newID = fn } }

func NewExecutor(reg Registry, q *queue.Queue, th *throttle.Throttler, cfg Config, log zerolog.Logger, opts ...Option) *Executor {
	e := &Executor{
		registry: reg,
		queue:    q,
		throttle: th,
		cfg:      cfg,
		audit:    persistence.Discard{},
		log:      log.With().Str("component", "executor").Logger(),
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CreateOrder places the plan's entry and, once it is accepted, its reduce-only
// stop-loss and take-profit on the opposite side. A failed protective order
// does not fail the entry.
func (e *Executor) CreateOrder(ctx context.Context, exchange, symbol string, plan Plan) Result {
	if err := plan.Validate(); err != nil {
		res := FromError(err)
		e.record(exchange, symbol, "create", nil, res, 0)
		return res
	}
	res := e.place(ctx, exchange, symbol, "create", plan.Request(symbol, e.newID()))
	if !res.Success {
		return res
	}

	var failures []string
	protect := func(kind common.OrderType, trigger float64) {
		req := common.OrderRequest{
			Symbol:     symbol,
			Side:       plan.Side.Opposite(),
			Type:       kind,
			Qty:        plan.Amount,
			StopPrice:  trigger,
			ClientID:   e.newID(),
			ReduceOnly: true,
		}
		pr := e.place(ctx, exchange, symbol, "protect", req)
		if pr.Success {
			res.Protective = append(res.Protective, *pr.Order)
			return
		}
		failures = append(failures, fmt.Sprintf("%s: %s", kind, pr.Message))
	}
	if plan.StopPrice > 0 {
		protect(common.OrderTypeStopMarket, plan.StopPrice)
	}
	if plan.TakeProfitPrice > 0 {
		protect(common.OrderTypeTakeProfitMarket, plan.TakeProfitPrice)
	}
	if len(failures) > 0 {
		res.Message = "entry placed; protective orders failed: " + strings.Join(failures, "; ")
	}
	return res
}

// PlaceProtective places a single reduce-only order. The watchdog uses it for missing stops.
func (e *Executor) PlaceProtective(ctx context.Context, exchange string, req common.OrderRequest) Result {
	if !req.ReduceOnly {
		return FromError(errs.New(errs.InvalidParam, "protective orders must be reduce-only"))
	}
	if req.ClientID == "" {
		req.ClientID = e.newID()
	}
	return e.place(ctx, exchange, req.Symbol, "protect", req)
}

func (e *Executor) place(ctx context.Context, exchange, symbol, op string, req common.OrderRequest) Result {
	start := time.Now()
	var placed common.Order
	attempts, err := e.call(ctx, exchange, symbol, op, func(cctx context.Context, c common.Connector) error {
		o, err := c.CreateOrder(cctx, req)
		if err == nil {
			placed = o
		}
		return err
	})

	var res Result
	if err != nil {
		res = FromError(err)
	} else {
		if placed.ClientID == "" {
			placed.ClientID = req.ClientID
		}
		res = Placed(placed, fmt.Sprintf("%s %s %g %s", req.Type, req.Side, req.Qty, symbol))
	}
	res.Attempts = attempts
	e.record(exchange, symbol, op, &req, res, time.Since(start))
	return res
}

// CancelOrder cancels one order.
func (e *Executor) CancelOrder(ctx context.Context, exchange, symbol, orderID string) Result {
	start := time.Now()
	attempts, err := e.call(ctx, exchange, symbol, "cancel", func(cctx context.Context, c common.Connector) error {
		return c.CancelOrder(cctx, symbol, orderID)
	})
	var res Result
	if err != nil {
		res = FromError(err)
	} else {
		res = Cancelled("order " + orderID + " cancelled")
		res.Affected = []common.Order{{ID: orderID, Symbol: symbol}}
	}
	res.Attempts = attempts
	e.record(exchange, symbol, "cancel", nil, res.withOrderID(orderID), time.Since(start))
	return res
}

// CancelOrderByID cancels an order when only the exchange and id are known.
func (e *Executor) CancelOrderByID(ctx context.Context, exchange, orderID string) Result {
	orders, err := e.OpenOrders(ctx, exchange, "")
	if err != nil {
		return FromError(err)
	}
	for _, o := range orders {
		if o.ID == orderID {
			return e.CancelOrder(ctx, exchange, o.Symbol, o.ID)
		}
	}
	return FromError(errs.Newf(errs.NotFound, "order %s is not open on %s", orderID, exchange))
}

// CancelAll cancels every open order of a pair, one call per order.
func (e *Executor) CancelAll(ctx context.Context, exchange, symbol string) Result {
	orders, err := e.OpenOrders(ctx, exchange, symbol)
	if err != nil {
		return FromError(err)
	}
	if len(orders) == 0 {
		return NoOp("no open orders for " + symbol)
	}

	var done []common.Order
	var failed []Result
	for _, o := range orders {
		r := e.CancelOrder(ctx, exchange, o.Symbol, o.ID)
		if r.Success {
			done = append(done, o)
			continue
		}
		failed = append(failed, r)
	}
	if len(failed) > 0 {
		out := failed[0]
		out.Affected = done
		out.Message = fmt.Sprintf("cancelled %d of %d orders: %s", len(done), len(orders), failed[0].Message)
		return out
	}
	res := Cancelled(fmt.Sprintf("cancelled %d orders", len(done)))
	res.Affected = done
	return res
}

// OpenOrders lists open orders through the throttled call path.
func (e *Executor) OpenOrders(ctx context.Context, exchange, symbol string) ([]common.Order, error) {
	var out []common.Order
	start := time.Now()
	_, err := e.call(ctx, exchange, symbol, "open_orders", func(cctx context.Context, c common.Connector) error {
		orders, err := c.GetOrders(cctx, symbol)
		out = orders
		return err
	})
	e.metrics.ObserveCall(exchange, "open_orders", string(readOutcome(err)), time.Since(start))
	return out, err
}

// Positions lists positions through the throttled call path.
func (e *Executor) Positions(ctx context.Context, exchange string) ([]common.Position, error) {
	var out []common.Position
	start := time.Now()
	_, err := e.call(ctx, exchange, "", "positions", func(cctx context.Context, c common.Connector) error {
		pos, err := c.GetPositions(cctx)
		out = pos
		return err
	})
	e.metrics.ObserveCall(exchange, "positions", string(readOutcome(err)), time.Since(start))
	return out, err
}

// GetPosition returns the non-flat position of symbol, or nil.
func (e *Executor) GetPosition(ctx context.Context, exchange, symbol string) (*common.Position, error) {
	positions, err := e.Positions(ctx, exchange)
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

func readOutcome(err error) Outcome {
	if err == nil {
		return OutcomeNoOp
	}
	return FromError(err).Outcome
}

// call runs fn as queue → throttle → timeout → connector, retrying transient failures.
func (e *Executor) call(ctx context.Context, exchange, symbol, op string, fn func(context.Context, common.Connector) error) (int, error) {
	conn, err := e.registry.Get(exchange)
	if err != nil {
		return 0, err
	}
	key := exchange + ":" + common.NormalizeSymbol(symbol)

	var attempts int
	err = e.queue.Do(ctx, key, func(qctx context.Context) error {
		n, err := e.cfg.Backoff.Do(qctx, func(int) error {
			return e.attempt(qctx, conn, exchange, op, fn)
		}, errs.IsRetryable, func(attempt int, err error, delay time.Duration) {
			e.metrics.IncRetry(exchange, op)
			e.log.Warn().
				Err(err).
				Str("exchange", exchange).
				Str("symbol", symbol).
				Str("op", op).
				Int("attempt", attempt).
				Dur("delay", delay).
				Msg("retrying connector call")
		})
		attempts = n
		return err
	})

	if h, ok := e.registry.(HealthRecorder); ok {
		switch {
		case err == nil || errs.IsKind(err, errs.ExchangeRejected):
			h.RecordSuccess(exchange)
		case errs.IsKind(err, errs.Transient) || errs.IsKind(err, errs.Unknown):
			h.RecordFailure(exchange, err)
		}
	}
	return attempts, err
}

func (e *Executor) attempt(ctx context.Context, conn common.Connector, exchange, op string, fn func(context.Context, common.Connector) error) error {
	wait, err := e.throttle.Acquire(ctx, exchange)
	e.metrics.ObserveThrottleWait(exchange, wait)
	if err != nil {
		// nothing was sent, so this is a plain failure
		te := errs.Wrap(errs.Transient, err, "throttle wait")
		te.Retryable = false
		return te
	}

	cctx, cancel := ctx, context.CancelFunc(func() {})
	if e.cfg.CallTimeout > 0 {
		cctx, cancel = context.WithTimeout(ctx, e.cfg.CallTimeout)
	}
	defer cancel()

	err = fn(cctx, conn)
	if err != nil && errors.Is(cctx.Err(), context.DeadlineExceeded) && !errs.IsKind(err, errs.ExchangeRejected) && !errs.IsKind(err, errs.Unknown) {
		return errs.Wrap(errs.Unknown, err, op+" timed out")
	}
	return err
}

func (r Result) withOrderID(id string) Result {
	if r.Order == nil {
		r.Order = &common.Order{ID: id}
	}
	return r
}

func (e *Executor) record(exchange, symbol, op string, req *common.OrderRequest, res Result, d time.Duration) {
	e.metrics.ObserveCall(exchange, op, string(res.Outcome), d)

	row := db.OrderLog{
		Exchange:  exchange,
		Symbol:    symbol,
		Op:        op,
		Outcome:   string(res.Outcome),
		Attempts:  res.Attempts,
		LatencyMs: d.Milliseconds(),
		Message:   res.Message,
		CreatedAt: time.Now(),
	}
	if req != nil {
		row.ClientID = req.ClientID
		row.Side = string(req.Side)
		row.Type = string(req.Type)
		row.Price = req.Price
		row.StopPrice = req.StopPrice
		row.Amount = req.Qty
	}
	if res.Order != nil {
		row.OrderID = res.Order.ID
	}
	e.audit.Record(row)

	if e.bus != nil {
		e.bus.Orders.Publish(events.OrderEvent{
			Exchange: exchange,
			Symbol:   symbol,
			Op:       op,
			Outcome:  string(res.Outcome),
			OrderID:  row.OrderID,
			Message:  res.Message,
			Time:     row.CreatedAt,
		})
	}

	ev := e.log.Info()
	if !res.Success {
		ev = e.log.Warn().Err(res.Err)
	}
	ev.Str("exchange", exchange).
		Str("symbol", symbol).
		Str("op", op).
		Str("outcome", string(res.Outcome)).
		Str("order_id", row.OrderID).
		Int("attempts", res.Attempts).
		Dur("latency", d).
		Msg(res.Message)
}
