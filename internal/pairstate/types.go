// Package pairstate tracks the order lifecycle of each (exchange, symbol) pair
// and runs at most one transition per pair at a time.
package pairstate

import (
	"time"

	"pair-trader/pkg/errs"
	"pair-trader/pkg/exchanges/common"
)

// Action is the intended transition of a pair.
type Action string

const (
	ActionLong   Action = "long"
	ActionShort  Action = "short"
	ActionClose  Action = "close"
	ActionCancel Action = "cancel"
)

// ParseAction validates a user- or strategy-supplied action.
func ParseAction(s string) (Action, error) {
	switch a := Action(s); a {
	case ActionLong, ActionShort, ActionClose, ActionCancel:
		return a, nil
	default:
		return "", errs.Newf(errs.InvalidParam, "unknown action %q", s)
	}
}

// Side is the order side of an entry action.
func (a Action) Side() common.Side {
	if a == ActionShort {
		return common.SideSell
	}
	return common.SideBuy
}

// State is where a pair is in its lifecycle.
type State string

const (
	StateNone            State = "NONE"
	StateOrderPlaced     State = "ORDER_PLACED"
	StatePositionOpen    State = "POSITION_OPEN"
	StatePositionClosing State = "POSITION_CLOSING"
	StateCancelling      State = "CANCELLING"
)

// PairState is the live record of one pair. It exists from the first accepted
// trigger until the pair returns to NONE.
type PairState struct {
	Exchange  string         `json:"exchange"`
	Symbol    string         `json:"symbol"`
	Action    Action         `json:"action"`
	State     State          `json:"state"`
	Options   map[string]any `json:"options,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	InFlight  bool           `json:"in_flight"`
	OrderID   string         `json:"order_id,omitempty"`
	LastError string         `json:"last_error,omitempty"`
}

// Key identifies the pair independent of symbol spelling.
func (p PairState) Key() string { return Key(p.Exchange, p.Symbol) }

// Key builds the pair key "exchange:SYMBOL".
func Key(exchange, symbol string) string {
	return exchange + ":" + common.NormalizeSymbol(symbol)
}

func (p PairState) clone() PairState {
	if p.Options != nil {
		opts := make(map[string]any, len(p.Options))
		for k, v := range p.Options {
			opts[k] = v
		}
		p.Options = opts
	}
	return p
}
