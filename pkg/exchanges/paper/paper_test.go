package paper

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pair-trader/pkg/errs"
	"pair-trader/pkg/exchanges/common"
)

func newPaper() *Exchange {
	return New(Config{Name: "paper", InitialBalance: 10000}, zerolog.Nop())
}

func TestMarketOrderFillsAgainstTicker(t *testing.T) {
	ex := newPaper()
	ctx := context.Background()
	ex.SetTicker(common.Ticker{Symbol: "BTCUSDT", Bid: 100, Ask: 101})

	ord, err := ex.CreateOrder(ctx, common.OrderRequest{Symbol: "BTCUSDT", Side: common.SideBuy, Type: common.OrderTypeMarket, Qty: 2})
	require.NoError(t, err)
	assert.Equal(t, common.StatusFilled, ord.Status)

	pos, err := ex.GetPositions(ctx)
	require.NoError(t, err)
	require.Len(t, pos, 1)
	assert.Equal(t, 2.0, pos[0].Amount)
	assert.Equal(t, 101.0, pos[0].EntryPrice)
	assert.Equal(t, "long", pos[0].Side)
}

func TestMarketOrderWithoutTickerRejected(t *testing.T) {
	_, err := newPaper().CreateOrder(context.Background(), common.OrderRequest{Symbol: "ETHUSDT", Side: common.SideBuy, Type: common.OrderTypeMarket, Qty: 1})
	assert.True(t, errs.IsKind(err, errs.ExchangeRejected))
}

func TestLimitRestsUntilCrossed(t *testing.T) {
	ex := newPaper()
	ctx := context.Background()
	ex.SetTicker(common.Ticker{Symbol: "BTCUSDT", Bid: 100, Ask: 101})

	ord, err := ex.CreateOrder(ctx, common.OrderRequest{Symbol: "BTCUSDT", Side: common.SideBuy, Type: common.OrderTypeLimit, Qty: 1, Price: 99})
	require.NoError(t, err)
	assert.Equal(t, common.StatusNew, ord.Status)

	open, _ := ex.GetOrders(ctx, "BTCUSDT")
	require.Len(t, open, 1)

	ex.SetTicker(common.Ticker{Symbol: "BTCUSDT", Bid: 98.5, Ask: 98.9})
	open, _ = ex.GetOrders(ctx, "BTCUSDT")
	assert.Empty(t, open)
	pos, _ := ex.GetPositions(ctx)
	require.Len(t, pos, 1)
	assert.Equal(t, 99.0, pos[0].EntryPrice)
}

func TestStopClosesPositionAndRealizesLoss(t *testing.T) {
	ex := newPaper()
	ctx := context.Background()
	ex.SetTicker(common.Ticker{Symbol: "BTCUSDT", Bid: 100, Ask: 100})
	_, err := ex.CreateOrder(ctx, common.OrderRequest{Symbol: "BTCUSDT", Side: common.SideBuy, Type: common.OrderTypeMarket, Qty: 1})
	require.NoError(t, err)

	_, err = ex.CreateOrder(ctx, common.OrderRequest{Symbol: "BTCUSDT", Side: common.SideSell, Type: common.OrderTypeStopMarket, Qty: 1, StopPrice: 98, ReduceOnly: true})
	require.NoError(t, err)

	ex.SetTicker(common.Ticker{Symbol: "BTCUSDT", Bid: 97, Ask: 97.2})
	pos, _ := ex.GetPositions(ctx)
	assert.Empty(t, pos)
	assert.InDelta(t, 10000-3, ex.Balance(), 1e-9)
}

func TestReduceOnlyWithoutPositionRejected(t *testing.T) {
	ex := newPaper()
	ex.SetTicker(common.Ticker{Symbol: "BTCUSDT", Bid: 100, Ask: 100})
	_, err := ex.CreateOrder(context.Background(), common.OrderRequest{Symbol: "BTCUSDT", Side: common.SideSell, Type: common.OrderTypeMarket, Qty: 1, ReduceOnly: true})
	assert.True(t, errs.IsKind(err, errs.ExchangeRejected))
}

func TestReduceOnlyStopExpiresWhenFlat(t *testing.T) {
	ex := newPaper()
	ctx := context.Background()
	ex.SetTicker(common.Ticker{Symbol: "BTCUSDT", Bid: 100, Ask: 100})
	_, err := ex.CreateOrder(ctx, common.OrderRequest{Symbol: "BTCUSDT", Side: common.SideSell, Type: common.OrderTypeStopMarket, Qty: 1, StopPrice: 90, ReduceOnly: true})
	require.NoError(t, err)

	ex.SetTicker(common.Ticker{Symbol: "BTCUSDT", Bid: 89, Ask: 89.1})
	open, _ := ex.GetOrders(ctx, "BTCUSDT")
	assert.Empty(t, open)
	pos, _ := ex.GetPositions(ctx)
	assert.Empty(t, pos)
	assert.InDelta(t, 10000, ex.Balance(), 1e-9)
}

func TestDuplicateClientIDRejected(t *testing.T) {
	ex := newPaper()
	ctx := context.Background()
	req := common.OrderRequest{Symbol: "BTCUSDT", Side: common.SideBuy, Type: common.OrderTypeLimit, Qty: 1, Price: 50, ClientID: "c-1"}
	_, err := ex.CreateOrder(ctx, req)
	require.NoError(t, err)
	_, err = ex.CreateOrder(ctx, req)
	assert.True(t, errs.IsKind(err, errs.ExchangeRejected))
}

func TestCancelOrder(t *testing.T) {
	ex := newPaper()
	ctx := context.Background()
	ord, err := ex.CreateOrder(ctx, common.OrderRequest{Symbol: "BTCUSDT", Side: common.SideBuy, Type: common.OrderTypeLimit, Qty: 1, Price: 50})
	require.NoError(t, err)
	require.NoError(t, ex.CancelOrder(ctx, "BTCUSDT", ord.ID))
	assert.Error(t, ex.CancelOrder(ctx, "BTCUSDT", ord.ID))
}

func TestGetTickerMissingIsDataUnavailable(t *testing.T) {
	_, err := newPaper().GetTicker(context.Background(), "XRPUSDT")
	assert.True(t, errs.IsKind(err, errs.DataUnavailable))
}
