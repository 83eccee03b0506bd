// Package engine is the facade the HTTP layer talks to. It composes the pair
// state manager, the order executor and the exchange registry and shares
// their code path with automatic signals.
package engine

import (
	"context"

	"pair-trader/internal/order"
	"pair-trader/internal/pairstate"
	"pair-trader/pkg/exchanges/common"
)

// Service defines the operations exposed to manual callers.
// Pairs are addressed as "exchange-symbol".
type Service interface {
	// Pair state
	GetPairs(ctx context.Context) ([]PairInfo, error)
	TriggerOrder(ctx context.Context, pair, action string, options map[string]any) (pairstate.PairState, error)

	// Orders of one pair
	GetOrders(ctx context.Context, pair string) (*PairOrders, error)
	GetTicker(pair string) (common.Ticker, error)
	GetPosition(ctx context.Context, exchange, symbol string) (*common.Position, error)
	CreateOrder(ctx context.Context, pair string, form OrderForm) order.Result
	Cancel(ctx context.Context, pair, orderID string) order.Result
	CancelAll(ctx context.Context, pair string) order.Result
	CancelByID(ctx context.Context, exchange, orderID string) order.Result

	// Cross-exchange views
	Trades(ctx context.Context) (*Trades, error)
	Exchanges() []ExchangeInfo
	History(ctx context.Context, pair string, limit int) (*History, error)

	GetSystemStatus(ctx context.Context) *SystemStatus
}
