package spot

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"pair-trader/pkg/errs"
	"pair-trader/pkg/exchanges/binance"
	"pair-trader/pkg/exchanges/common"
)

// MarginClient trades cross margin through the sapi endpoints.
// Positions are derived from the net asset balance against QuoteAsset.
type MarginClient struct {
	*binance.REST
	quote string
}

// NewMargin builds a cross-margin client. quote defaults to USDT.
func NewMargin(cfg binance.Config, quote string, log zerolog.Logger) *MarginClient {
	if cfg.Name == "" {
		cfg.Name = "binance_margin"
	}
	if quote == "" {
		quote = "USDT"
	}
	ep := endpoints
	ep.Venue = "binance-margin"
	return &MarginClient{REST: binance.NewREST(cfg, ep, log), quote: strings.ToUpper(quote)}
}

// CreateOrder borrows on entry and auto-repays on reduce-only exits.
func (c *MarginClient) CreateOrder(ctx context.Context, req common.OrderRequest) (common.Order, error) {
	params := binance.OrderParams(req, toSpotType)
	if req.ReduceOnly {
		params.Set("sideEffectType", "AUTO_REPAY")
	} else {
		params.Set("sideEffectType", "MARGIN_BUY")
	}
	params.Set("newOrderRespType", "RESULT")
	body, err := c.Signed(ctx, http.MethodPost, "/sapi/v1/margin/order", params)
	if err != nil {
		return common.Order{}, err
	}
	ord, err := binance.DecodeOrder(body, fromSpotType)
	ord.ReduceOnly = req.ReduceOnly
	return ord, err
}

func (c *MarginClient) CancelOrder(ctx context.Context, symbol, orderID string) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", orderID)
	_, err := c.Signed(ctx, http.MethodDelete, "/sapi/v1/margin/order", params)
	return err
}

func (c *MarginClient) GetOrders(ctx context.Context, symbol string) ([]common.Order, error) {
	params := url.Values{}
	if symbol != "" {
		params.Set("symbol", symbol)
	}
	body, err := c.Signed(ctx, http.MethodGet, "/sapi/v1/margin/openOrders", params)
	if err != nil {
		return nil, err
	}
	return binance.DecodeOrders(body, fromSpotType)
}

type marginAccount struct {
	UserAssets []struct {
		Asset    string `json:"asset"`
		NetAsset string `json:"netAsset"`
	} `json:"userAssets"`
}

// GetPositions reports every non-quote asset with a non-zero net balance as a position.
func (c *MarginClient) GetPositions(ctx context.Context) ([]common.Position, error) {
	body, err := c.Signed(ctx, http.MethodGet, "/sapi/v1/margin/account", nil)
	if err != nil {
		return nil, err
	}
	var acct marginAccount
	if err := json.Unmarshal(body, &acct); err != nil {
		return nil, errs.Wrap(errs.Internal, err, "decode margin account")
	}
	now := time.Now()
	out := make([]common.Position, 0)
	for _, a := range acct.UserAssets {
		if strings.EqualFold(a.Asset, c.quote) {
			continue
		}
		net := binance.ParseFloat(a.NetAsset)
		if net == 0 {
			continue
		}
		out = append(out, common.Position{
			Symbol:    strings.ToUpper(a.Asset) + c.quote,
			Side:      common.PositionSide(net),
			Amount:    net,
			UpdatedAt: now,
		})
	}
	return out, nil
}

func (c *MarginClient) GetTicker(ctx context.Context, symbol string) (common.Ticker, error) {
	return c.BookTicker(ctx, "/api/v3/ticker/bookTicker", symbol)
}

var _ common.Connector = (*MarginClient)(nil)
