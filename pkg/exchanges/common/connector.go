package common

import "context"

// Connector is the capability set every exchange variant exposes to the engine.
// Mutating calls are reserved for the order executor.
type Connector interface {
	// Name is the registry key, e.g. "binance_futures".
	Name() string
	CreateOrder(ctx context.Context, req OrderRequest) (Order, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
	// GetOrders lists open orders; an empty symbol lists all symbols.
	GetOrders(ctx context.Context, symbol string) ([]Order, error)
	GetPositions(ctx context.Context) ([]Position, error)
	GetTicker(ctx context.Context, symbol string) (Ticker, error)
}

// InverseContracts is implemented by connectors whose contracts are valued in the base asset.
type InverseContracts interface {
	IsInverse(symbol string) bool
}

// IsInverse reports the inverse trait of c for symbol.
func IsInverse(c Connector, symbol string) bool {
	if inv, ok := c.(InverseContracts); ok {
		return inv.IsInverse(symbol)
	}
	return false
}
