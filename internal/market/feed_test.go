package market

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pair-trader/internal/events"
	"pair-trader/pkg/errs"
	"pair-trader/pkg/exchanges/common"
	binance "pair-trader/pkg/market/binance"
)

func TestFeedPublishesBookTickers(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteMessage(websocket.TextMessage, []byte(`{"stream":"btcusdt@bookTicker","data":{"s":"BTCUSDT","b":"0","B":"0","a":"0","A":"0"}}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"stream":"btcusdt@bookTicker","data":{"s":"BTCUSDT","b":"100.1","B":"1","a":"100.2","A":"2","T":1700000000000}}`))
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	stream := binance.NewStreamClient("unused", zerolog.Nop())
	stream.BaseURL = "ws" + strings.TrimPrefix(srv.URL, "http")

	bus := events.NewBus()
	sub, unsub := bus.Tickers.Subscribe(4)
	defer unsub()

	ctx, cancel := context.WithCancel(context.Background())
	f := &Feed{Exchange: "binance_futures", Stream: stream, Bus: bus, Symbols: []string{"BTCUSDT"}, Reconnect: 50 * time.Millisecond, Log: zerolog.Nop()}
	f.Start(ctx)

	select {
	case tk := <-sub:
		assert.Equal(t, "binance_futures", tk.Exchange)
		assert.Equal(t, 100.1, tk.Bid)
		assert.Equal(t, 100.2, tk.Ask)
		assert.Equal(t, time.UnixMilli(1700000000000), tk.Time)
	case <-time.After(2 * time.Second):
		t.Fatal("no ticker published")
	}
	cancel()
	f.Wait()
}

type getter map[string]common.Ticker

func (g getter) GetTicker(ctx context.Context, symbol string) (common.Ticker, error) {
	t, ok := g[symbol]
	if !ok {
		return common.Ticker{}, errs.New(errs.DataUnavailable, "unknown symbol")
	}
	return t, nil
}

func TestPollOnce(t *testing.T) {
	bus := events.NewBus()
	sub, unsub := bus.Tickers.Subscribe(4)
	defer unsub()

	p := &PollFeed{
		Exchange: "binance",
		Source:   getter{"ETHUSDT": {Bid: 10, Ask: 11}},
		Bus:      bus,
		Symbols:  []string{"ETHUSDT", "NOPE"},
		Timeout:  time.Second,
		Log:      zerolog.Nop(),
	}
	require.Equal(t, 1, p.PollOnce(context.Background()))
	tk := <-sub
	assert.Equal(t, "binance", tk.Exchange)
	assert.Equal(t, "ETHUSDT", tk.Symbol)
	assert.False(t, tk.Time.IsZero())
}

func TestMockFeedRandomWalk(t *testing.T) {
	bus := events.NewBus()
	sub, unsub := bus.Tickers.Subscribe(16)
	defer unsub()

	m := &MockFeed{Exchange: "paper", Bus: bus, Symbols: []string{"BTCUSDT", "ETHUSDT"}, Seed: 42, Step: 1}
	for i := 0; i < 5; i++ {
		m.Tick()
	}
	for i := 0; i < 10; i++ {
		tk := <-sub
		assert.Equal(t, "paper", tk.Exchange)
		assert.Greater(t, tk.Ask, tk.Bid)
		assert.InDelta(t, 100, tk.Bid, 6)
	}
}
