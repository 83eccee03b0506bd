package futures_usdt

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/rs/zerolog"

	"pair-trader/pkg/exchanges/binance"
	"pair-trader/pkg/exchanges/common"
)

var endpoints = binance.Endpoints{
	Venue:       "binance-usdtm",
	LiveURL:     "https://fapi.binance.com",
	TestnetURL:  "https://testnet.binancefuture.com",
	TimePath:    "/fapi/v1/time",
	WeightLimit: 2400, // weight/min for futures
}

// Client handles Binance USDT-M futures.
type Client struct {
	*binance.REST
}

// NewClient creates a new USDT-M futures client.
func NewClient(cfg binance.Config, log zerolog.Logger) *Client {
	if cfg.Name == "" {
		cfg.Name = "binance_futures"
	}
	return &Client{REST: binance.NewREST(cfg, endpoints, log)}
}

// CreateOrder places an order. Protective types are sent as-is; reduceOnly is honoured.
func (c *Client) CreateOrder(ctx context.Context, req common.OrderRequest) (common.Order, error) {
	params := binance.OrderParams(req, nil)
	if req.ReduceOnly {
		params.Set("reduceOnly", "true")
	}
	params.Set("newOrderRespType", "RESULT")
	body, err := c.Signed(ctx, http.MethodPost, "/fapi/v1/order", params)
	if err != nil {
		return common.Order{}, err
	}
	return binance.DecodeOrder(body, nil)
}

// CancelOrder cancels an order by exchange ID.
func (c *Client) CancelOrder(ctx context.Context, symbol, orderID string) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", orderID)
	_, err := c.Signed(ctx, http.MethodDelete, "/fapi/v1/order", params)
	return err
}

// GetOrders lists open orders; empty symbol lists all symbols.
func (c *Client) GetOrders(ctx context.Context, symbol string) ([]common.Order, error) {
	params := url.Values{}
	if symbol != "" {
		params.Set("symbol", symbol)
	}
	body, err := c.Signed(ctx, http.MethodGet, "/fapi/v1/openOrders", params)
	if err != nil {
		return nil, err
	}
	return binance.DecodeOrders(body, nil)
}

// GetPositions returns non-flat positions from positionRisk.
func (c *Client) GetPositions(ctx context.Context) ([]common.Position, error) {
	body, err := c.Signed(ctx, http.MethodGet, "/fapi/v2/positionRisk", nil)
	if err != nil {
		return nil, err
	}
	return binance.DecodePositions(body)
}

// GetTicker fetches best bid/ask.
func (c *Client) GetTicker(ctx context.Context, symbol string) (common.Ticker, error) {
	return c.BookTicker(ctx, "/fapi/v1/ticker/bookTicker", symbol)
}

// SetLeverage adjusts initial leverage for a symbol.
func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("leverage", strconv.Itoa(leverage))
	_, err := c.Signed(ctx, http.MethodPost, "/fapi/v1/leverage", params)
	return err
}

var _ common.Connector = (*Client)(nil)
