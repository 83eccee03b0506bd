package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"pair-trader/pkg/config"
	marketbinance "pair-trader/pkg/market/binance"
	"pair-trader/pkg/throttle"
)

func TestThrottleOverrides(t *testing.T) {
	pf := &config.PairsFile{Throttle: map[string]config.ThrottleConfig{
		"binance_futures": {Calls: 20, Window: time.Second, Burst: 1},
	}}
	assert.Equal(t, map[string]throttle.Limit{
		"binance_futures": {Calls: 20, Window: time.Second, Burst: 1},
	}, throttleOverrides(pf))
	assert.Empty(t, throttleOverrides(&config.PairsFile{}))
}

func TestStreamHosts(t *testing.T) {
	cfg := &config.Config{
		BinanceSpot:        config.Venue{Name: "binance"},
		BinanceMargin:      config.Venue{Name: "binance_margin"},
		BinanceUSDTFutures: config.Venue{Name: "binance_futures"},
		BinanceCoinFutures: config.Venue{Name: "binance_coin_futures"},
	}
	hosts := streamHosts(cfg)
	assert.Equal(t, marketbinance.SpotHost, hosts["binance_margin"])
	assert.Equal(t, marketbinance.USDTFuturesHost, hosts["binance_futures"])
	assert.Equal(t, marketbinance.CoinFuturesHost, hosts["binance_coin_futures"])

	cfg.BinanceTestnet = true
	hosts = streamHosts(cfg)
	assert.Equal(t, marketbinance.SpotTestnetHost, hosts["binance"])
	assert.Equal(t, marketbinance.FuturesTestHost, hosts["binance_coin_futures"])
}
