package futures_coin

import (
	"context"
	"net/http"
	"net/url"

	"github.com/rs/zerolog"

	"pair-trader/pkg/exchanges/binance"
	"pair-trader/pkg/exchanges/common"
)

var endpoints = binance.Endpoints{
	Venue:       "binance-coinm",
	LiveURL:     "https://dapi.binance.com",
	TestnetURL:  "https://testnet.binancefuture.com",
	TimePath:    "/dapi/v1/time",
	WeightLimit: 2400,
}

// Client handles Binance COIN-M (inverse) futures. Quantities are in contracts.
type Client struct {
	*binance.REST
}

func NewClient(cfg binance.Config, log zerolog.Logger) *Client {
	if cfg.Name == "" {
		cfg.Name = "binance_coin_futures"
	}
	return &Client{REST: binance.NewREST(cfg, endpoints, log)}
}

func (c *Client) CreateOrder(ctx context.Context, req common.OrderRequest) (common.Order, error) {
	params := binance.OrderParams(req, nil)
	if req.ReduceOnly {
		params.Set("reduceOnly", "true")
	}
	params.Set("newOrderRespType", "RESULT")
	body, err := c.Signed(ctx, http.MethodPost, "/dapi/v1/order", params)
	if err != nil {
		return common.Order{}, err
	}
	return binance.DecodeOrder(body, nil)
}

func (c *Client) CancelOrder(ctx context.Context, symbol, orderID string) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", orderID)
	_, err := c.Signed(ctx, http.MethodDelete, "/dapi/v1/order", params)
	return err
}

func (c *Client) GetOrders(ctx context.Context, symbol string) ([]common.Order, error) {
	params := url.Values{}
	if symbol != "" {
		params.Set("symbol", symbol)
	}
	body, err := c.Signed(ctx, http.MethodGet, "/dapi/v1/openOrders", params)
	if err != nil {
		return nil, err
	}
	return binance.DecodeOrders(body, nil)
}

func (c *Client) GetPositions(ctx context.Context) ([]common.Position, error) {
	body, err := c.Signed(ctx, http.MethodGet, "/dapi/v1/positionRisk", nil)
	if err != nil {
		return nil, err
	}
	return binance.DecodePositions(body)
}

// GetTicker fetches best bid/ask; dapi answers with an array even for one symbol.
func (c *Client) GetTicker(ctx context.Context, symbol string) (common.Ticker, error) {
	return c.BookTicker(ctx, "/dapi/v1/ticker/bookTicker", symbol)
}

// IsInverse is true for every COIN-M contract.
func (c *Client) IsInverse(string) bool { return true }

var (
	_ common.Connector        = (*Client)(nil)
	_ common.InverseContracts = (*Client)(nil)
)
