package common

import (
	"strings"
	"time"
)

// Side denotes order side.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the exit side for an order on s.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderType denotes basic order types.
type OrderType string

const (
	OrderTypeMarket           OrderType = "MARKET"
	OrderTypeLimit            OrderType = "LIMIT"
	OrderTypeStopMarket       OrderType = "STOP_MARKET"        // futures stop-loss
	OrderTypeTakeProfitMarket OrderType = "TAKE_PROFIT_MARKET" // futures take-profit
	OrderTypeStopLossLimit    OrderType = "STOP_LOSS_LIMIT"    // spot/margin stop-loss
	OrderTypeTakeProfitLimit  OrderType = "TAKE_PROFIT_LIMIT"  // spot/margin take-profit
)

// IsStop reports whether t is a protective stop-loss type.
func (t OrderType) IsStop() bool {
	return t == OrderTypeStopMarket || t == OrderTypeStopLossLimit
}

// IsTakeProfit reports whether t is a protective take-profit type.
func (t OrderType) IsTakeProfit() bool {
	return t == OrderTypeTakeProfitMarket || t == OrderTypeTakeProfitLimit
}

// TimeInForce captures TIF semantics.
type TimeInForce string

const (
	TIFGTC TimeInForce = "GTC" // Good Till Cancelled
	TIFIOC TimeInForce = "IOC" // Immediate Or Cancel
	TIFGTX TimeInForce = "GTX" // Post Only
)

// OrderStatus normalizes exchange status into a small set.
type OrderStatus string

const (
	StatusNew      OrderStatus = "NEW"
	StatusPartial  OrderStatus = "PARTIAL"
	StatusFilled   OrderStatus = "FILLED"
	StatusCanceled OrderStatus = "CANCELED"
	StatusRejected OrderStatus = "REJECTED"
	StatusExpired  OrderStatus = "EXPIRED"
	StatusUnknown  OrderStatus = "UNKNOWN"
)

// IsOpen reports whether the order can still fill.
func (s OrderStatus) IsOpen() bool {
	return s == StatusNew || s == StatusPartial
}

// MapStatus converts a Binance-style status string.
func MapStatus(s string) OrderStatus {
	switch strings.ToUpper(s) {
	case "NEW":
		return StatusNew
	case "PARTIALLY_FILLED":
		return StatusPartial
	case "FILLED":
		return StatusFilled
	case "CANCELED", "CANCELLED":
		return StatusCanceled
	case "REJECTED":
		return StatusRejected
	case "EXPIRED":
		return StatusExpired
	default:
		return StatusUnknown
	}
}

// MarketType distinguishes venue flavours.
type MarketType string

const (
	MarketSpot    MarketType = "SPOT"
	MarketMargin  MarketType = "MARGIN"
	MarketUSDTFut MarketType = "USDT_FUTURES"
	MarketCoinFut MarketType = "COIN_FUTURES"
	MarketPaper   MarketType = "PAPER"
)

// OrderRequest captures an order intent to be sent to an exchange.
type OrderRequest struct {
	Symbol      string
	Side        Side
	Type        OrderType
	Qty         float64
	Price       float64 // required for LIMIT
	StopPrice   float64 // trigger for stop/take-profit types
	TimeInForce TimeInForce
	ClientID    string
	ReduceOnly  bool
	WorkingType string // MARK_PRICE or CONTRACT_PRICE (futures)
}

// Order is the exchange-owned view of an order.
type Order struct {
	ID         string      `json:"id"`
	ClientID   string      `json:"client_id,omitempty"`
	Symbol     string      `json:"symbol"`
	Side       Side        `json:"side"`
	Type       OrderType   `json:"type"`
	Price      float64     `json:"price"`
	StopPrice  float64     `json:"stop_price,omitempty"`
	Amount     float64     `json:"amount"`
	Filled     float64     `json:"filled"`
	Status     OrderStatus `json:"status"`
	ReduceOnly bool        `json:"reduce_only"`
	CreatedAt  time.Time   `json:"created_at"`
}

// Remaining is the unfilled amount.
func (o Order) Remaining() float64 {
	if r := o.Amount - o.Filled; r > 0 {
		return r
	}
	return 0
}

// IsProtective reports whether the order only reduces exposure.
func (o Order) IsProtective() bool {
	return o.ReduceOnly || o.Type.IsStop() || o.Type.IsTakeProfit()
}

// Position is an exchange-reported position snapshot.
type Position struct {
	Symbol           string    `json:"symbol"`
	Side             string    `json:"side"`   // long or short
	Amount           float64   `json:"amount"` // signed: negative for short
	EntryPrice       float64   `json:"entry_price"`
	UnrealizedProfit float64   `json:"unrealized_profit"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// PositionSide returns "long", "short" or "" for a signed amount.
func PositionSide(amount float64) string {
	switch {
	case amount > 0:
		return "long"
	case amount < 0:
		return "short"
	default:
		return ""
	}
}

// Ticker is the latest best bid/ask for a symbol on an exchange.
type Ticker struct {
	Exchange string    `json:"exchange"`
	Symbol   string    `json:"symbol"`
	Bid      float64   `json:"bid"`
	Ask      float64   `json:"ask"`
	Time     time.Time `json:"time"`
}

// NormalizeSymbol folds venue spellings (BTC-USD, btc/usd, BTC_USD) onto one key.
func NormalizeSymbol(symbol string) string {
	r := strings.NewReplacer("-", "", "/", "", "_", "", ":", "")
	return strings.ToUpper(r.Replace(symbol))
}
