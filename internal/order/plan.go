package order

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"pair-trader/pkg/errs"
	"pair-trader/pkg/exchanges/common"
)

// Plan is a fully priced order intent produced by the Calculator and consumed once by the Executor.
type Plan struct {
	Side            common.Side      `json:"side"`
	Type            common.OrderType `json:"type"`
	Price           float64          `json:"price"`
	Amount          float64          `json:"amount"`
	StopPrice       float64          `json:"stop_price,omitempty"`
	TakeProfitPrice float64          `json:"take_profit_price,omitempty"`
	ReduceOnly      bool             `json:"reduce_only,omitempty"`
}

// Validate checks the plan can be turned into an exchange request.
func (p Plan) Validate() error {
	if p.Side != common.SideBuy && p.Side != common.SideSell {
		return errs.Newf(errs.InvalidParam, "invalid side %q", p.Side)
	}
	if !Finite(p.Amount, p.Price, p.StopPrice, p.TakeProfitPrice) {
		return errs.New(errs.InvalidParam, "plan prices and amount must be finite")
	}
	if p.Amount <= 0 {
		return errs.New(errs.InvalidParam, "amount must be positive")
	}
	switch p.Type {
	case common.OrderTypeMarket:
	case common.OrderTypeLimit:
		if p.Price <= 0 {
			return errs.New(errs.InvalidParam, "limit order needs a price")
		}
	default:
		return errs.Newf(errs.InvalidParam, "unsupported entry type %q", p.Type)
	}
	if p.StopPrice < 0 || p.TakeProfitPrice < 0 {
		return errs.New(errs.InvalidParam, "protective prices must not be negative")
	}
	return nil
}

// Request converts the plan into the connector request for the entry leg.
func (p Plan) Request(symbol, clientID string) common.OrderRequest {
	req := common.OrderRequest{
		Symbol:     symbol,
		Side:       p.Side,
		Type:       p.Type,
		Qty:        p.Amount,
		ClientID:   clientID,
		ReduceOnly: p.ReduceOnly,
	}
	if p.Type == common.OrderTypeLimit {
		req.Price = p.Price
		req.TimeInForce = common.TIFGTC
	}
	return req
}

// Options are the sizing and protection settings merged from pair config and the trigger.
type Options struct {
	Amount          float64 `json:"amount,omitempty"`
	Capital         float64 `json:"capital,omitempty"`
	Balance         float64 `json:"balance,omitempty"`
	RiskPct         float64 `json:"risk_pct,omitempty"`
	SlippagePct     float64 `json:"slippage_pct,omitempty"`
	StopPct         float64 `json:"stop_pct,omitempty"`
	RiskRewardRatio float64 `json:"risk_reward_ratio,omitempty"`
	TickSize        float64 `json:"tick_size,omitempty"`
	StepSize        float64 `json:"step_size,omitempty"`
	Market          bool    `json:"market,omitempty"`
}

// ParseOptions reads Options from a loosely typed map. Numbers may arrive as
// JSON numbers, strings or yaml ints.
func ParseOptions(raw map[string]any) (Options, error) {
	var o Options
	fields := []struct {
		key string
		dst *float64
	}{
		{"amount", &o.Amount},
		{"capital", &o.Capital},
		{"balance", &o.Balance},
		{"risk_pct", &o.RiskPct},
		{"slippage_pct", &o.SlippagePct},
		{"stop_pct", &o.StopPct},
		{"risk_reward_ratio", &o.RiskRewardRatio},
		{"tick_size", &o.TickSize},
		{"step_size", &o.StepSize},
	}
	for _, f := range fields {
		v, ok := raw[f.key]
		if !ok || v == nil {
			continue
		}
		n, err := toFloat(v)
		if err != nil {
			return Options{}, errs.Wrap(errs.InvalidParam, err, "option "+f.key)
		}
		if !Finite(n) {
			return Options{}, errs.Newf(errs.InvalidParam, "option %s must be a finite number", f.key)
		}
		if n < 0 {
			return Options{}, errs.Newf(errs.InvalidParam, "option %s must not be negative", f.key)
		}
		*f.dst = n
	}
	if v, ok := raw["market"]; ok && v != nil {
		b, err := toBool(v)
		if err != nil {
			return Options{}, errs.Wrap(errs.InvalidParam, err, "option market")
		}
		o.Market = b
	}
	return o, nil
}

// MergeOptions overlays trigger options on top of pair defaults. Neither input is modified.
func MergeOptions(base, overlay map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(overlay))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overlay {
		out[k] = v
	}
	return out
}

// Finite reports whether every value is neither NaN nor infinite.
func Finite(vals ...float64) bool {
	for _, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	case string:
		if strings.TrimSpace(n) == "" {
			return 0, nil
		}
		return strconv.ParseFloat(strings.TrimSpace(n), 64)
	default:
		return 0, fmt.Errorf("not a number: %T", v)
	}
}

func toBool(v any) (bool, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		if b == "" {
			return false, nil
		}
		return strconv.ParseBool(b)
	case float64:
		return b != 0, nil
	case int:
		return b != 0, nil
	default:
		return false, fmt.Errorf("not a bool: %T", v)
	}
}
