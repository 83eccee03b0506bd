package events

import "time"

// Signal is a strategy decision for one pair. Type is long, short, close or cancel.
type Signal struct {
	Exchange string         `json:"exchange"`
	Symbol   string         `json:"symbol"`
	Type     string         `json:"type"`
	Options  map[string]any `json:"options,omitempty"`
	Source   string         `json:"source,omitempty"`
	Time     time.Time      `json:"time"`
}

// PairStateChange is published on every pair-state transition.
type PairStateChange struct {
	Exchange string    `json:"exchange"`
	Symbol   string    `json:"symbol"`
	Action   string    `json:"action"`
	State    string    `json:"state"`
	Outcome  string    `json:"outcome,omitempty"`
	Message  string    `json:"message,omitempty"`
	Time     time.Time `json:"time"`
}

// OrderEvent is published after every executor call.
type OrderEvent struct {
	Exchange string    `json:"exchange"`
	Symbol   string    `json:"symbol"`
	Op       string    `json:"op"`
	Outcome  string    `json:"outcome"`
	OrderID  string    `json:"order_id,omitempty"`
	Message  string    `json:"message,omitempty"`
	Time     time.Time `json:"time"`
}
