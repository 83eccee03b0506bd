package spot

import (
	"context"
	"net/http"
	"net/url"

	"github.com/rs/zerolog"

	"pair-trader/pkg/exchanges/binance"
	"pair-trader/pkg/exchanges/common"
)

var endpoints = binance.Endpoints{
	Venue:       "binance-spot",
	LiveURL:     "https://api.binance.com",
	TestnetURL:  "https://testnet.binance.vision",
	TimePath:    "/api/v3/time",
	WeightLimit: 1200,
}

// Spot has no STOP_MARKET; trigger orders use STOP_LOSS / TAKE_PROFIT.
var (
	toSpotType = map[common.OrderType]string{
		common.OrderTypeStopMarket:       "STOP_LOSS",
		common.OrderTypeTakeProfitMarket: "TAKE_PROFIT",
	}
	fromSpotType = map[string]common.OrderType{
		"STOP_LOSS":   common.OrderTypeStopMarket,
		"TAKE_PROFIT": common.OrderTypeTakeProfitMarket,
	}
)

// Client is a Binance spot trading client.
type Client struct {
	*binance.REST
}

func New(cfg binance.Config, log zerolog.Logger) *Client {
	if cfg.Name == "" {
		cfg.Name = "binance"
	}
	return &Client{REST: binance.NewREST(cfg, endpoints, log)}
}

// CreateOrder places a spot order. Spot has no reduceOnly flag; protective orders
// are only ever sells of held inventory, so the flag is dropped on the wire.
func (c *Client) CreateOrder(ctx context.Context, req common.OrderRequest) (common.Order, error) {
	params := binance.OrderParams(req, toSpotType)
	params.Set("newOrderRespType", "RESULT")
	body, err := c.Signed(ctx, http.MethodPost, "/api/v3/order", params)
	if err != nil {
		return common.Order{}, err
	}
	ord, err := binance.DecodeOrder(body, fromSpotType)
	ord.ReduceOnly = req.ReduceOnly
	return ord, err
}

func (c *Client) CancelOrder(ctx context.Context, symbol, orderID string) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", orderID)
	_, err := c.Signed(ctx, http.MethodDelete, "/api/v3/order", params)
	return err
}

func (c *Client) GetOrders(ctx context.Context, symbol string) ([]common.Order, error) {
	params := url.Values{}
	if symbol != "" {
		params.Set("symbol", symbol)
	}
	body, err := c.Signed(ctx, http.MethodGet, "/api/v3/openOrders", params)
	if err != nil {
		return nil, err
	}
	return binance.DecodeOrders(body, fromSpotType)
}

// GetPositions is always empty on spot: holdings are balances, not positions.
func (c *Client) GetPositions(ctx context.Context) ([]common.Position, error) {
	return []common.Position{}, nil
}

func (c *Client) GetTicker(ctx context.Context, symbol string) (common.Ticker, error) {
	return c.BookTicker(ctx, "/api/v3/ticker/bookTicker", symbol)
}

var _ common.Connector = (*Client)(nil)
