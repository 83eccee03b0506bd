package market

import (
	"time"

	"pair-trader/pkg/exchanges/common"
)

// BookTicker is one best bid/ask update from the bookTicker stream.
type BookTicker struct {
	Symbol   string
	BidPrice float64
	AskPrice float64
	BidQty   float64
	AskQty   float64
	Time     int64 // event time in ms; spot streams omit it
}

// Valid rejects empty sides and crossed books, which the venue sends while a
// symbol is halted.
func (b BookTicker) Valid() bool {
	return b.BidPrice > 0 && b.AskPrice > 0 && b.AskPrice >= b.BidPrice
}

// Ticker converts the update for exchange. Updates without an event time are
// stamped with received.
func (b BookTicker) Ticker(exchange string, received time.Time) common.Ticker {
	at := received
	if b.Time > 0 {
		at = time.UnixMilli(b.Time)
	}
	return common.Ticker{Exchange: exchange, Symbol: b.Symbol, Bid: b.BidPrice, Ask: b.AskPrice, Time: at}
}
