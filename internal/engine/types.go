package engine

import (
	"time"

	"pair-trader/internal/pairstate"
	"pair-trader/internal/watchdog"
	"pair-trader/pkg/cache"
	"pair-trader/pkg/db"
	"pair-trader/pkg/exchanges/common"
)

// PairInfo is one configured or active pair.
type PairInfo struct {
	Pair        string               `json:"pair"`
	Exchange    string               `json:"exchange"`
	Symbol      string               `json:"symbol"`
	Mode        string               `json:"mode"` // trade or watch
	Trading     bool                 `json:"trading"`
	State       pairstate.State      `json:"state"`
	Action      pairstate.Action     `json:"action,omitempty"`
	InFlight    bool                 `json:"in_flight"`
	HasPosition bool                 `json:"has_position"`
	LastError   string               `json:"last_error,omitempty"`
	TradingView string               `json:"tradingview"`
	Options     map[string]any       `json:"options,omitempty"`
	Live        *pairstate.PairState `json:"live,omitempty"`
}

// PairOrders is the order view of one pair.
type PairOrders struct {
	Pair        string               `json:"pair"`
	Orders      []common.Order       `json:"orders"`
	Position    *common.Position     `json:"position,omitempty"`
	Ticker      *common.Ticker       `json:"ticker,omitempty"`
	State       *pairstate.PairState `json:"state,omitempty"`
	TradingView string               `json:"tradingview"`
}

// OrderForm is a manual order. Side is long/buy or short/sell, Type limit
// or market. A limit without a price uses the current entry price.
type OrderForm struct {
	Side            string  `json:"side" form:"side" binding:"required"`
	Type            string  `json:"type" form:"type"`
	Price           float64 `json:"price" form:"price"`
	Amount          float64 `json:"amount" form:"amount" binding:"required,gt=0"`
	StopPct         float64 `json:"stop_pct" form:"stop_pct"`
	RiskRewardRatio float64 `json:"risk_reward_ratio" form:"risk_reward_ratio"`
	TickSize        float64 `json:"tick_size" form:"tick_size"`
}

// PositionView is a position with its currency valuation.
type PositionView struct {
	Exchange       string          `json:"exchange"`
	Position       common.Position `json:"position"`
	ProfitPct      *float64        `json:"profit_pct,omitempty"`
	Currency       float64         `json:"currency"`
	CurrencyProfit *float64        `json:"currency_profit,omitempty"`
}

// OrderView is an open order with its distance to the market.
type OrderView struct {
	Exchange       string       `json:"exchange"`
	Order          common.Order `json:"order"`
	PercentToPrice *float64     `json:"percent_to_price,omitempty"`
}

// Trades is the cross-exchange positions and orders view.
type Trades struct {
	Positions []PositionView    `json:"positions"`
	Orders    []OrderView       `json:"orders"`
	Errors    map[string]string `json:"errors,omitempty"`
}

// ExchangeInfo describes a registered connector.
type ExchangeInfo struct {
	Name        string    `json:"name"`
	Healthy     bool      `json:"healthy"`
	Inverse     bool      `json:"inverse"`
	Failures    int       `json:"failures"`
	LastError   string    `json:"last_error,omitempty"`
	LastFailure time.Time `json:"last_failure,omitempty"`
}

// History is the audit trail from the sqlite store.
type History struct {
	PairEvents []db.PairEvent      `json:"pair_events"`
	Orders     []db.OrderLog       `json:"orders"`
	Watchdog   []db.WatchdogReport `json:"watchdog"`
	Signals    []db.SignalRecord   `json:"signals"`
	LastCycle  []watchdog.Report   `json:"last_cycle,omitempty"`
}

// SystemStatus represents the system runtime status.
type SystemStatus struct {
	Mode        string    `json:"mode"`
	DryRun      bool      `json:"dry_run"`
	Exchanges   []string  `json:"exchanges"`
	Pairs       int       `json:"pairs"`
	ActivePairs int       `json:"active_pairs"`
	UseMockFeed bool      `json:"use_mock_feed"`
	Version     string    `json:"version"`
	NodeID      string    `json:"node_id,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	ServerTime  time.Time `json:"server_time"`

	TickerCache *cache.Stats `json:"ticker_cache,omitempty"`
}
