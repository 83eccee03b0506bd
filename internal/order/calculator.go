package order

import (
	"math"

	"github.com/shopspring/decimal"

	"pair-trader/pkg/errs"
	"pair-trader/pkg/exchanges/common"
)

var hundred = decimal.NewFromInt(100)

type rounding int

const (
	roundNearest rounding = iota
	roundDown
	roundUp
)

// roundToStep snaps v onto a multiple of step. A non-positive step leaves v unchanged.
func roundToStep(v, step decimal.Decimal, mode rounding) decimal.Decimal {
	if !step.IsPositive() {
		return v
	}
	n := v.Div(step)
	switch mode {
	case roundDown:
		n = n.Floor()
	case roundUp:
		n = n.Ceil()
	default:
		n = n.Round(0)
	}
	return n.Mul(step)
}

func pct(p float64) decimal.Decimal {
	return decimal.NewFromFloat(p).Div(hundred)
}

// Size returns the quantity that risks riskPct of balance at price.
func Size(balance, riskPct, price float64) float64 {
	if balance <= 0 || riskPct <= 0 || price <= 0 {
		return 0
	}
	q, _ := decimal.NewFromFloat(balance).
		Mul(pct(riskPct)).
		Div(decimal.NewFromFloat(price)).
		Float64()
	return q
}

// EntryPrice is the limit price for an entry on side: bid plus slippage for
// longs, ask minus slippage for shorts.
func EntryPrice(t common.Ticker, side common.Side, slippagePct float64) float64 {
	var px float64
	if side == common.SideBuy {
		px, _ = decimal.NewFromFloat(t.Bid).Mul(decimal.NewFromInt(1).Add(pct(slippagePct))).Float64()
	} else {
		px, _ = decimal.NewFromFloat(t.Ask).Mul(decimal.NewFromInt(1).Sub(pct(slippagePct))).Float64()
	}
	return px
}

// StopLossCalculator prices stop-loss triggers.
type StopLossCalculator struct{}

// StopPrice returns the stop for a position entered at entry on side. The
// result is rounded away from entry onto tick, so it is always strictly worse.
func (StopLossCalculator) StopPrice(entry float64, side common.Side, stopPct, tick float64) (float64, bool) {
	if stopPct <= 0 || entry <= 0 {
		return 0, false
	}
	e := decimal.NewFromFloat(entry)
	t := decimal.NewFromFloat(tick)
	var stop decimal.Decimal
	if side == common.SideBuy {
		stop = roundToStep(e.Mul(decimal.NewFromInt(1).Sub(pct(stopPct))), t, roundDown)
		if t.IsPositive() && stop.GreaterThanOrEqual(e) {
			stop = stop.Sub(t)
		}
	} else {
		stop = roundToStep(e.Mul(decimal.NewFromInt(1).Add(pct(stopPct))), t, roundUp)
		if t.IsPositive() && stop.LessThanOrEqual(e) {
			stop = stop.Add(t)
		}
	}
	if !stop.IsPositive() {
		return 0, false
	}
	f, _ := stop.Float64()
	return f, true
}

// RiskRewardCalculator prices take-profit targets from the stop distance.
type RiskRewardCalculator struct{}

// TakeProfitPrice returns entry moved ratio stop-distances away from the
// stop, rounded to the nearest tick. A stop below entry means a long.
func (RiskRewardCalculator) TakeProfitPrice(entry, stop, ratio, tick float64) (float64, bool) {
	if ratio <= 0 || stop <= 0 || entry <= 0 || stop == entry {
		return 0, false
	}
	e := decimal.NewFromFloat(entry)
	s := decimal.NewFromFloat(stop)
	dist := e.Sub(s).Abs().Mul(decimal.NewFromFloat(ratio))
	var tp decimal.Decimal
	if s.LessThan(e) {
		tp = e.Add(dist)
	} else {
		tp = e.Sub(dist)
	}
	tp = roundToStep(tp, decimal.NewFromFloat(tick), roundNearest)
	if !tp.IsPositive() {
		return 0, false
	}
	f, _ := tp.Float64()
	return f, true
}

// Calculator builds order plans from tickers and options.
type Calculator struct {
	StopLoss   StopLossCalculator
	RiskReward RiskRewardCalculator
}

// EntryPlan builds a long (SideBuy) or short (SideSell) entry. Protective
// prices are only set when stop_pct and risk_reward_ratio are given.
func (c Calculator) EntryPlan(t common.Ticker, side common.Side, opts Options) (Plan, error) {
	if t.Bid <= 0 || t.Ask <= 0 {
		return Plan{}, errs.Newf(errs.DataUnavailable, "no usable ticker for %s", t.Symbol)
	}
	price := EntryPrice(t, side, opts.SlippagePct)
	if opts.TickSize > 0 {
		price, _ = roundToStep(decimal.NewFromFloat(price), decimal.NewFromFloat(opts.TickSize), roundNearest).Float64()
	}

	amount, err := c.amount(price, opts)
	if err != nil {
		return Plan{}, err
	}

	plan := Plan{Side: side, Type: common.OrderTypeLimit, Price: price, Amount: amount}
	if opts.Market {
		plan.Type = common.OrderTypeMarket
	}
	if stop, ok := c.StopLoss.StopPrice(price, side, opts.StopPct, opts.TickSize); ok {
		plan.StopPrice = stop
		if tp, ok := c.RiskReward.TakeProfitPrice(price, stop, opts.RiskRewardRatio, opts.TickSize); ok {
			plan.TakeProfitPrice = tp
		}
	}
	return plan, nil
}

// ClosePlan builds the reduce-only exit for a signed position amount. The
// limit sits on the maker side of the book.
func (c Calculator) ClosePlan(t common.Ticker, positionAmount float64, opts Options) (Plan, error) {
	if positionAmount == 0 {
		return Plan{}, errs.New(errs.InvalidParam, "no position to close")
	}
	side := common.SideSell
	if positionAmount < 0 {
		side = common.SideBuy
	}
	plan := Plan{Side: side, Type: common.OrderTypeMarket, Amount: math.Abs(positionAmount), ReduceOnly: true}
	if opts.Market {
		return plan, nil
	}
	if t.Bid <= 0 || t.Ask <= 0 {
		return Plan{}, errs.Newf(errs.DataUnavailable, "no usable ticker for %s", t.Symbol)
	}
	plan.Type = common.OrderTypeLimit
	// selling rests on the ask, buying back rests on the bid
	if side == common.SideSell {
		plan.Price = t.Ask
	} else {
		plan.Price = t.Bid
	}
	return plan, nil
}

func (c Calculator) amount(price float64, opts Options) (float64, error) {
	var q float64
	switch {
	case opts.Amount > 0:
		q = opts.Amount
	case opts.Capital > 0:
		q, _ = decimal.NewFromFloat(opts.Capital).Div(decimal.NewFromFloat(price)).Float64()
	case opts.Balance > 0 && opts.RiskPct > 0:
		q = Size(opts.Balance, opts.RiskPct, price)
	default:
		return 0, errs.New(errs.InvalidParam, "no order size: set amount, capital or balance with risk_pct")
	}
	if opts.StepSize > 0 {
		q, _ = roundToStep(decimal.NewFromFloat(q), decimal.NewFromFloat(opts.StepSize), roundDown).Float64()
	}
	if q <= 0 {
		return 0, errs.New(errs.InvalidParam, "order size rounds to zero")
	}
	return q, nil
}
