// Package strategy bridges tickers to an external strategy worker over gRPC
// and turns its decisions into signals on the event bus.
package strategy

import (
	"context"
	"fmt"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"pair-trader/pkg/exchanges/common"
)

// OnTickMethod is the full gRPC method name served by strategy workers.
const OnTickMethod = "/strategy.StrategyService/OnTick"

// Decision is a worker's answer to one tick.
type Decision struct {
	Action string // BUY, SELL, CLOSE, CANCEL or HOLD
	Symbol string
	Size   float64
	Note   string
}

// WorkerClient sends ticks to the strategy worker. Messages are
// google.protobuf.Struct so no generated stubs are needed on either side.
type WorkerClient struct {
	conn    *grpc.ClientConn
	timeout time.Duration
}

// Dial connects to a worker without transport security.
func Dial(addr string, timeout time.Duration, opts ...grpc.DialOption) (*WorkerClient, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial strategy worker %s: %w", addr, err)
	}
	return NewWorkerClient(conn, timeout), nil
}

func NewWorkerClient(conn *grpc.ClientConn, timeout time.Duration) *WorkerClient {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &WorkerClient{conn: conn, timeout: timeout}
}

func (w *WorkerClient) Close() error {
	if w.conn == nil {
		return nil
	}
	return w.conn.Close()
}

// OnTick forwards a ticker and the pair options and translates the response.
func (w *WorkerClient) OnTick(ctx context.Context, t common.Ticker, options map[string]any) (Decision, error) {
	fields := map[string]any{
		"exchange": t.Exchange,
		"symbol":   t.Symbol,
		"bid":      t.Bid,
		"ask":      t.Ask,
		"price":    (t.Bid + t.Ask) / 2,
		"time_ms":  float64(t.Time.UnixMilli()),
	}
	if len(options) > 0 {
		if _, err := structpb.NewStruct(options); err == nil {
			fields["options"] = options
		}
	}
	req, err := structpb.NewStruct(fields)
	if err != nil {
		return Decision{}, fmt.Errorf("encode tick: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	resp := &structpb.Struct{}
	if err := w.conn.Invoke(ctx, OnTickMethod, req, resp); err != nil {
		return Decision{}, err
	}
	m := resp.GetFields()
	d := Decision{
		Action: strings.ToUpper(m["action"].GetStringValue()),
		Symbol: m["symbol"].GetStringValue(),
		Size:   m["size"].GetNumberValue(),
		Note:   m["note"].GetStringValue(),
	}
	if d.Symbol == "" {
		d.Symbol = t.Symbol
	}
	return d, nil
}
