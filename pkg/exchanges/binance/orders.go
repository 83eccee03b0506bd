package binance

import (
	"encoding/json"
	"net/url"
	"strconv"
	"strings"
	"time"

	"pair-trader/pkg/errs"
	"pair-trader/pkg/exchanges/common"
)

// OrderParams builds the common order parameters. typeMap lets spot/margin translate
// futures-style protective types into their own names.
func OrderParams(req common.OrderRequest, typeMap map[common.OrderType]string) url.Values {
	ordType := string(req.Type)
	if ordType == "" {
		ordType = string(common.OrderTypeLimit)
	}
	if mapped, ok := typeMap[req.Type]; ok {
		ordType = mapped
	}

	params := url.Values{}
	params.Set("symbol", req.Symbol)
	params.Set("side", strings.ToUpper(string(req.Side)))
	params.Set("type", ordType)
	params.Set("quantity", FormatFloat(req.Qty))

	if req.Price > 0 && ordType != string(common.OrderTypeMarket) && !isMarketTrigger(ordType) {
		params.Set("price", FormatFloat(req.Price))
		tif := req.TimeInForce
		if tif == "" {
			tif = common.TIFGTC
		}
		params.Set("timeInForce", string(tif))
	}
	if req.StopPrice > 0 {
		params.Set("stopPrice", FormatFloat(req.StopPrice))
		if req.WorkingType != "" {
			params.Set("workingType", req.WorkingType)
		}
	}
	if req.ClientID != "" {
		params.Set("newClientOrderId", req.ClientID)
	}
	return params
}

func isMarketTrigger(t string) bool {
	switch t {
	case "STOP_MARKET", "TAKE_PROFIT_MARKET", "STOP_LOSS", "TAKE_PROFIT":
		return true
	}
	return false
}

// OpenOrder is the order shape shared by spot, margin and futures endpoints.
type OpenOrder struct {
	Symbol        string `json:"symbol"`
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	OrigType      string `json:"origType"`
	Price         string `json:"price"`
	StopPrice     string `json:"stopPrice"`
	OrigQty       string `json:"origQty"`
	ExecQty       string `json:"executedQty"`
	Status        string `json:"status"`
	ReduceOnly    bool   `json:"reduceOnly"`
	Time          int64  `json:"time"`
	TransactTime  int64  `json:"transactTime"`
	UpdateTime    int64  `json:"updateTime"`
}

// ToOrder converts the wire shape; reverseTypes maps venue names back onto common types.
func (o OpenOrder) ToOrder(reverseTypes map[string]common.OrderType) common.Order {
	typ := o.Type
	if typ == "" {
		typ = o.OrigType
	}
	ot := common.OrderType(typ)
	if mapped, ok := reverseTypes[typ]; ok {
		ot = mapped
	}
	created := o.Time
	if created == 0 {
		created = o.TransactTime
	}
	if created == 0 {
		created = o.UpdateTime
	}
	var createdAt time.Time
	if created > 0 {
		createdAt = time.UnixMilli(created)
	}
	return common.Order{
		ID:         strconv.FormatInt(o.OrderID, 10),
		ClientID:   o.ClientOrderID,
		Symbol:     o.Symbol,
		Side:       common.Side(strings.ToUpper(o.Side)),
		Type:       ot,
		Price:      ParseFloat(o.Price),
		StopPrice:  ParseFloat(o.StopPrice),
		Amount:     ParseFloat(o.OrigQty),
		Filled:     ParseFloat(o.ExecQty),
		Status:     common.MapStatus(o.Status),
		ReduceOnly: o.ReduceOnly,
		CreatedAt:  createdAt,
	}
}

// DecodeOrder decodes a single order response.
func DecodeOrder(body []byte, reverseTypes map[string]common.OrderType) (common.Order, error) {
	var raw OpenOrder
	if err := json.Unmarshal(body, &raw); err != nil {
		return common.Order{}, errs.Wrap(errs.Internal, err, "decode order")
	}
	return raw.ToOrder(reverseTypes), nil
}

// DecodeOrders decodes an order list, keeping only open ones.
func DecodeOrders(body []byte, reverseTypes map[string]common.OrderType) ([]common.Order, error) {
	var raw []OpenOrder
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, errs.Wrap(errs.Internal, err, "decode open orders")
	}
	out := make([]common.Order, 0, len(raw))
	for _, o := range raw {
		ord := o.ToOrder(reverseTypes)
		if ord.Status.IsOpen() {
			out = append(out, ord)
		}
	}
	return out, nil
}

// PositionRisk is the futures position view (USDT-M and COIN-M).
type PositionRisk struct {
	Symbol           string `json:"symbol"`
	PositionSide     string `json:"positionSide"`
	PositionAmt      string `json:"positionAmt"`
	EntryPrice       string `json:"entryPrice"`
	UnRealizedProfit string `json:"unRealizedProfit"`
	Leverage         string `json:"leverage"`
	UpdateTime       int64  `json:"updateTime"`
}

// DecodePositions returns the non-flat positions.
func DecodePositions(body []byte) ([]common.Position, error) {
	var raw []PositionRisk
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, errs.Wrap(errs.Internal, err, "decode positions")
	}
	out := make([]common.Position, 0)
	for _, p := range raw {
		amt := ParseFloat(p.PositionAmt)
		if amt == 0 {
			continue
		}
		updated := time.Now()
		if p.UpdateTime > 0 {
			updated = time.UnixMilli(p.UpdateTime)
		}
		out = append(out, common.Position{
			Symbol:           p.Symbol,
			Side:             common.PositionSide(amt),
			Amount:           amt,
			EntryPrice:       ParseFloat(p.EntryPrice),
			UnrealizedProfit: ParseFloat(p.UnRealizedProfit),
			UpdatedAt:        updated,
		})
	}
	return out, nil
}
