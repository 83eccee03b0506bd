package futures_coin

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"pair-trader/pkg/exchanges/binance"
	"pair-trader/pkg/exchanges/common"
)

func TestCoinFuturesIsInverse(t *testing.T) {
	c := NewClient(binance.Config{}, zerolog.Nop())
	if !common.IsInverse(c, "BTCUSD_PERP") {
		t.Fatal("COIN-M must be inverse")
	}
}

func TestCoinFuturesTickerArray(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/dapi/v1/ticker/bookTicker" {
			t.Errorf("path %s", r.URL.Path)
		}
		w.Write([]byte(`[{"symbol":"BTCUSD_PERP","bidPrice":"60000.1","askPrice":"60000.2","time":1700000000000}]`))
	}))
	defer srv.Close()

	c := NewClient(binance.Config{BaseURL: srv.URL}, zerolog.Nop())
	tk, err := c.GetTicker(context.Background(), "BTCUSD_PERP")
	if err != nil || tk.Bid != 60000.1 || tk.Exchange != "binance_coin_futures" {
		t.Fatalf("ticker %+v err %v", tk, err)
	}
}
