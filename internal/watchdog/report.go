package watchdog

import (
	"time"

	"github.com/shopspring/decimal"
)

type ActionKind string

const (
	ActionCancelOrphan   ActionKind = "cancel_orphan"
	ActionCancelDrift    ActionKind = "cancel_drift"
	ActionRecreate       ActionKind = "recreate"
	ActionCancelStale    ActionKind = "cancel_stale"
	ActionCancelLeftover ActionKind = "cancel_leftover"
	ActionPlaceStop      ActionKind = "place_stop"
	ActionMarkOpen       ActionKind = "mark_open"
	ActionClear          ActionKind = "clear"
)

// Action is one corrective step taken during a cycle.
type Action struct {
	Kind    ActionKind `json:"kind"`
	Symbol  string     `json:"symbol"`
	OrderID string     `json:"order_id,omitempty"`
	Success bool       `json:"success"`
	Message string     `json:"message,omitempty"`
}

// Report summarizes one exchange's reconciliation cycle.
type Report struct {
	Exchange    string        `json:"exchange"`
	Time        time.Time     `json:"time"`
	OpenOrders  int           `json:"open_orders"`
	Positions   int           `json:"positions"`
	Cancelled   int           `json:"cancelled"`
	Recreated   int           `json:"recreated"`
	StopsPlaced int           `json:"stops_placed"`
	Advanced    int           `json:"advanced"`
	Cleared     int           `json:"cleared"`
	Failures    int           `json:"failures"`
	Actions     []Action      `json:"actions,omitempty"`
	Err         string        `json:"error,omitempty"`
	Duration    time.Duration `json:"duration"`
}

func roundTick(v, tick float64) float64 {
	t := decimal.NewFromFloat(tick)
	out, _ := decimal.NewFromFloat(v).Div(t).Round(0).Mul(t).Float64()
	return out
}
