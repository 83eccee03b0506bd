package strategy

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"pair-trader/internal/events"
	"pair-trader/pkg/config"
	"pair-trader/pkg/exchanges/common"
)

// startWorker serves fn over an in-memory listener and returns a connected client.
func startWorker(t *testing.T, fn WorkerFunc) *WorkerClient {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	RegisterWorker(srv, fn)
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	c, err := Dial("passthrough:///bufnet", time.Second, grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	}))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestWorkerClientRoundTrip(t *testing.T) {
	var got map[string]any
	c := startWorker(t, func(ctx context.Context, tick *structpb.Struct) (*structpb.Struct, error) {
		got = tick.AsMap()
		return structpb.NewStruct(map[string]any{"action": "buy", "size": 0.5, "note": "cross"})
	})

	d, err := c.OnTick(context.Background(), common.Ticker{Exchange: "binance", Symbol: "BTCUSDT", Bid: 99, Ask: 101, Time: time.UnixMilli(1700000000000)}, map[string]any{"fast": 9})
	require.NoError(t, err)
	assert.Equal(t, Decision{Action: "BUY", Symbol: "BTCUSDT", Size: 0.5, Note: "cross"}, d)

	assert.Equal(t, 100.0, got["price"])
	assert.Equal(t, "binance", got["exchange"])
	assert.Equal(t, float64(1700000000000), got["time_ms"])
	assert.Equal(t, map[string]any{"fast": 9.0}, got["options"])
}

func TestWorkerClientPropagatesError(t *testing.T) {
	c := startWorker(t, func(ctx context.Context, tick *structpb.Struct) (*structpb.Struct, error) {
		return nil, assert.AnError
	})
	_, err := c.OnTick(context.Background(), common.Ticker{Symbol: "BTCUSDT"}, nil)
	assert.Error(t, err)
}

type scriptedWorker struct {
	decision Decision
	calls    int
}

func (s *scriptedWorker) OnTick(ctx context.Context, t common.Ticker, options map[string]any) (Decision, error) {
	s.calls++
	return s.decision, nil
}

func TestBridgePublishesDueSignals(t *testing.T) {
	bus := events.NewBus()
	sigs, unsub := bus.Signals.Subscribe(4)
	defer unsub()

	w := &scriptedWorker{decision: Decision{Action: "SELL", Size: 2}}
	now := time.Unix(1700000000, 0)
	b := &Bridge{
		Worker:   w,
		Bus:      bus,
		Pairs:    []config.PairConfig{{Exchange: "binance", Symbol: "BTCUSDT", State: config.PairTrade}},
		Interval: time.Minute,
		Log:      zerolog.Nop(),
		now:      func() time.Time { return now },
	}

	tk := common.Ticker{Exchange: "binance", Symbol: "btc-usdt", Bid: 1, Ask: 2}
	require.True(t, b.OnTicker(context.Background(), tk))
	assert.False(t, b.OnTicker(context.Background(), tk), "within interval")
	assert.False(t, b.OnTicker(context.Background(), common.Ticker{Exchange: "binance", Symbol: "ETHUSDT"}), "unconfigured pair")

	now = now.Add(time.Minute)
	w.decision = Decision{Action: "HOLD"}
	assert.False(t, b.OnTicker(context.Background(), tk))
	assert.Equal(t, 2, w.calls)

	s := <-sigs
	assert.Equal(t, "short", s.Type)
	assert.Equal(t, "BTCUSDT", s.Symbol)
	assert.Equal(t, 2.0, s.Options["amount"])
	assert.Equal(t, signalSource, s.Source)
}

func TestSignalType(t *testing.T) {
	cases := map[string]string{"BUY": "long", "SHORT": "short", "EXIT": "close", "CANCEL": "cancel", "HOLD": "", "": ""}
	for in, want := range cases {
		assert.Equal(t, want, SignalType(in), in)
	}
}
