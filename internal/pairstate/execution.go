package pairstate

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"pair-trader/internal/order"
	"pair-trader/pkg/errs"
	"pair-trader/pkg/exchanges/common"
)

// TickerSource returns the latest ticker if it is younger than maxAge.
type TickerSource interface {
	Fresh(exchange, symbol string, maxAge time.Duration) (common.Ticker, error)
}

// PositionSource returns the exchange position of a pair, nil when flat.
type PositionSource interface {
	GetPosition(ctx context.Context, exchange, symbol string) (*common.Position, error)
}

// OrderSubmitter is the subset of the order executor used by transitions.
type OrderSubmitter interface {
	CreateOrder(ctx context.Context, exchange, symbol string, plan order.Plan) order.Result
	CancelAll(ctx context.Context, exchange, symbol string) order.Result
}

// Execution turns a pair transition into an order plan and submits it.
type Execution struct {
	Tickers   TickerSource
	Positions PositionSource
	Orders    OrderSubmitter
	Calc      order.Calculator
	// Defaults returns the configured options of a pair; trigger options override them.
	Defaults func(exchange, symbol string) map[string]any
	MaxAge   time.Duration
	Log      zerolog.Logger
}

// Execute runs the transition described by ps.
func (x *Execution) Execute(ctx context.Context, ps PairState) order.Result {
	var base map[string]any
	if x.Defaults != nil {
		base = x.Defaults(ps.Exchange, ps.Symbol)
	}
	opts, err := order.ParseOptions(order.MergeOptions(base, ps.Options))
	if err != nil {
		return order.FromError(err)
	}

	switch ps.Action {
	case ActionLong, ActionShort:
		return x.enter(ctx, ps, opts)
	case ActionClose:
		return x.close(ctx, ps, opts)
	case ActionCancel:
		return x.Orders.CancelAll(ctx, ps.Exchange, ps.Symbol)
	default:
		return order.FromError(errs.Newf(errs.InvalidParam, "unknown action %q", ps.Action))
	}
}

func (x *Execution) enter(ctx context.Context, ps PairState, opts order.Options) order.Result {
	t, err := x.Tickers.Fresh(ps.Exchange, ps.Symbol, x.MaxAge)
	if err != nil {
		return order.FromError(err)
	}
	plan, err := x.Calc.EntryPlan(t, ps.Action.Side(), opts)
	if err != nil {
		return order.FromError(err)
	}
	x.Log.Debug().
		Str("exchange", ps.Exchange).
		Str("symbol", ps.Symbol).
		Str("action", string(ps.Action)).
		Interface("plan", plan).
		Msg("entry planned")
	return x.Orders.CreateOrder(ctx, ps.Exchange, ps.Symbol, plan)
}

func (x *Execution) close(ctx context.Context, ps PairState, opts order.Options) order.Result {
	pos, err := x.Positions.GetPosition(ctx, ps.Exchange, ps.Symbol)
	if err != nil {
		return order.FromError(errs.Wrap(errs.DataUnavailable, err, "position lookup failed"))
	}
	if pos == nil || pos.Amount == 0 {
		return order.NoOp("no position to close")
	}

	var t common.Ticker
	if !opts.Market {
		if t, err = x.Tickers.Fresh(ps.Exchange, ps.Symbol, x.MaxAge); err != nil {
			return order.FromError(err)
		}
	}
	plan, err := x.Calc.ClosePlan(t, pos.Amount, opts)
	if err != nil {
		return order.FromError(err)
	}
	return x.Orders.CreateOrder(ctx, ps.Exchange, ps.Symbol, plan)
}
