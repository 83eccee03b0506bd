package engine

import (
	"strings"

	"pair-trader/pkg/errs"
)

// TradingViewSymbol maps an exchange and symbol to a TradingView chart symbol:
//
//	binance_futures:BTCUSDT => BINANCE:BTCUSDTPERP
//	binance_margin:BTCUSDT  => BINANCE:BTCUSDT
//	coinbase_pro:BTC-USD    => COINBASE:BTCUSD
func TradingViewSymbol(exchange, symbol string) string {
	s := exchange + ":" + symbol
	if strings.Contains(s, "binance_futures") {
		s = strings.Replace(s, "binance_futures", "binance", 1) + "PERP"
	}
	s = strings.ReplaceAll(s, "-", "")
	s = strings.Replace(s, "coinbase_pro", "coinbase", 1)
	s = strings.Replace(s, "binance_margin", "binance", 1)
	return strings.ToUpper(s)
}

// ParsePair splits "exchange-symbol" on the first dash; the symbol may contain dashes.
func ParsePair(pair string) (exchange, symbol string, err error) {
	exchange, symbol, ok := strings.Cut(pair, "-")
	if !ok || exchange == "" || symbol == "" {
		return "", "", errs.Newf(errs.InvalidParam, "invalid pair %q, want exchange-symbol", pair)
	}
	return exchange, symbol, nil
}

// PairName is the inverse of ParsePair.
func PairName(exchange, symbol string) string {
	return exchange + "-" + symbol
}
