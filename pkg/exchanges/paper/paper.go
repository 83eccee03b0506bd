// Package paper simulates an exchange in memory for dry runs.
// Market orders fill against the last ticker; limit and trigger orders rest until SetTicker crosses them.
package paper

import (
	"context"
	"math"
	"math/rand"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"pair-trader/pkg/errs"
	"pair-trader/pkg/exchanges/common"
)

// Config tunes the simulation.
type Config struct {
	Name           string
	InitialBalance float64
	FeeRate        float64 // decimal, e.g. 0.0004 = 4 bps
	SlippageBps    float64 // applied to market fills
}

type position struct {
	amount float64 // signed
	entry  float64
	at     time.Time
}

// Exchange is a simulated venue. Safe for concurrent use.
type Exchange struct {
	cfg Config
	log zerolog.Logger
	rng *rand.Rand

	mu        sync.Mutex
	seq       int64
	balance   float64
	tickers   map[string]common.Ticker
	orders    map[string]*common.Order // open orders by id
	clientIDs map[string]struct{}
	positions map[string]*position
}

func New(cfg Config, log zerolog.Logger) *Exchange {
	if cfg.Name == "" {
		cfg.Name = "paper"
	}
	return &Exchange{
		cfg:       cfg,
		log:       log.With().Str("exchange", cfg.Name).Logger(),
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		balance:   cfg.InitialBalance,
		tickers:   make(map[string]common.Ticker),
		orders:    make(map[string]*common.Order),
		clientIDs: make(map[string]struct{}),
		positions: make(map[string]*position),
	}
}

func (e *Exchange) Name() string { return e.cfg.Name }

// Balance is the simulated cash after realized PnL and fees.
func (e *Exchange) Balance() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.balance
}

// SetTicker records a price and fills any resting order it crosses.
func (e *Exchange) SetTicker(t common.Ticker) {
	symbol := common.NormalizeSymbol(t.Symbol)
	if t.Time.IsZero() {
		t.Time = time.Now()
	}
	t.Exchange = e.cfg.Name

	e.mu.Lock()
	defer e.mu.Unlock()
	e.tickers[symbol] = t

	ids := make([]string, 0, len(e.orders))
	for id, o := range e.orders {
		if common.NormalizeSymbol(o.Symbol) == symbol {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	for _, id := range ids {
		o := e.orders[id]
		if px, ok := crossed(o, t); ok {
			e.fillLocked(o, px)
		}
	}
}

// crossed reports whether t triggers o and at which price it fills.
func crossed(o *common.Order, t common.Ticker) (float64, bool) {
	buy := o.Side == common.SideBuy
	switch {
	case o.Type == common.OrderTypeLimit:
		if buy && t.Ask > 0 && t.Ask <= o.Price {
			return o.Price, true
		}
		if !buy && t.Bid >= o.Price && t.Bid > 0 {
			return o.Price, true
		}
	case o.Type.IsStop():
		if buy && t.Ask >= o.StopPrice && t.Ask > 0 {
			return t.Ask, true
		}
		if !buy && t.Bid > 0 && t.Bid <= o.StopPrice {
			return t.Bid, true
		}
	case o.Type.IsTakeProfit():
		if buy && t.Ask > 0 && t.Ask <= o.StopPrice {
			return t.Ask, true
		}
		if !buy && t.Bid >= o.StopPrice && t.Bid > 0 {
			return t.Bid, true
		}
	}
	return 0, false
}

func (e *Exchange) CreateOrder(ctx context.Context, req common.OrderRequest) (common.Order, error) {
	if err := ctx.Err(); err != nil {
		return common.Order{}, errs.Wrap(errs.Unknown, err, "paper create order")
	}
	if req.Qty <= 0 {
		return common.Order{}, errs.New(errs.ExchangeRejected, "quantity must be positive")
	}
	symbol := common.NormalizeSymbol(req.Symbol)

	e.mu.Lock()
	defer e.mu.Unlock()

	if req.ClientID != "" {
		if _, dup := e.clientIDs[req.ClientID]; dup {
			return common.Order{}, errs.Newf(errs.ExchangeRejected, "duplicate clientOrderId %s", req.ClientID)
		}
	}
	tk, hasTicker := e.tickers[symbol]

	qty := req.Qty
	switch {
	case req.ReduceOnly && (req.Type.IsStop() || req.Type.IsTakeProfit()):
		// conditional reduce-only orders rest and expire at trigger when flat
	case req.ReduceOnly:
		pos := e.positions[symbol]
		if pos == nil || pos.amount == 0 || sideOf(pos.amount) == req.Side {
			return common.Order{}, errs.New(errs.ExchangeRejected, "reduce-only order would increase position")
		}
		qty = math.Min(qty, math.Abs(pos.amount))
	case req.Type == common.OrderTypeMarket || req.Type == common.OrderTypeLimit:
		ref := req.Price
		if ref <= 0 && hasTicker {
			ref = tk.Ask
		}
		if ref > 0 && e.balance > 0 && qty*ref > e.balance {
			return common.Order{}, errs.Newf(errs.ExchangeRejected, "insufficient balance: need %.2f, have %.2f", qty*ref, e.balance)
		}
	}

	e.seq++
	ord := &common.Order{
		ID:         strconv.FormatInt(e.seq, 10),
		ClientID:   req.ClientID,
		Symbol:     req.Symbol,
		Side:       req.Side,
		Type:       req.Type,
		Price:      req.Price,
		StopPrice:  req.StopPrice,
		Amount:     qty,
		Status:     common.StatusNew,
		ReduceOnly: req.ReduceOnly,
		CreatedAt:  time.Now(),
	}
	if req.ClientID != "" {
		e.clientIDs[req.ClientID] = struct{}{}
	}

	if req.Type == common.OrderTypeMarket {
		if !hasTicker {
			return common.Order{}, errs.Newf(errs.ExchangeRejected, "no market price for %s", req.Symbol)
		}
		px := tk.Ask
		if req.Side == common.SideSell {
			px = tk.Bid
		}
		e.fillLocked(ord, e.slip(px, req.Side))
		return *ord, nil
	}

	e.orders[ord.ID] = ord
	if hasTicker {
		if px, ok := crossed(ord, tk); ok {
			e.fillLocked(ord, px)
		}
	}
	return *ord, nil
}

func (e *Exchange) slip(px float64, side common.Side) float64 {
	frac := e.cfg.SlippageBps / 10000.0
	if frac <= 0 {
		return px
	}
	noise := e.rng.Float64() * frac
	if side == common.SideBuy {
		return px * (1 + noise)
	}
	return px * (1 - noise)
}

// fillLocked fills o fully at px and updates the position. Caller holds mu.
func (e *Exchange) fillLocked(o *common.Order, px float64) {
	delete(e.orders, o.ID)
	symbol := common.NormalizeSymbol(o.Symbol)
	pos := e.positions[symbol]

	qty := o.Amount
	if o.ReduceOnly {
		if pos == nil || pos.amount == 0 || sideOf(pos.amount) == o.Side {
			o.Status = common.StatusExpired
			return
		}
		qty = math.Min(qty, math.Abs(pos.amount))
	}
	if pos == nil {
		pos = &position{}
		e.positions[symbol] = pos
	}

	signed := qty
	if o.Side == common.SideSell {
		signed = -qty
	}
	var realized float64
	switch {
	case pos.amount == 0 || sideOf(pos.amount) == o.Side:
		total := math.Abs(pos.amount)*pos.entry + qty*px
		pos.amount += signed
		pos.entry = total / math.Abs(pos.amount)
	default:
		closing := math.Min(qty, math.Abs(pos.amount))
		dir := 1.0
		if pos.amount < 0 {
			dir = -1
		}
		realized = closing * (px - pos.entry) * dir
		pos.amount += signed
		if pos.amount != 0 && sideOf(pos.amount) == o.Side {
			pos.entry = px
		}
	}
	pos.at = time.Now()
	if pos.amount == 0 {
		delete(e.positions, symbol)
	}

	fee := qty * px * e.cfg.FeeRate
	e.balance += realized - fee
	o.Filled = qty
	o.Amount = qty
	o.Status = common.StatusFilled

	e.log.Info().
		Str("symbol", o.Symbol).
		Str("side", string(o.Side)).
		Str("type", string(o.Type)).
		Float64("qty", qty).
		Float64("price", px).
		Float64("realized", realized).
		Float64("balance", e.balance).
		Msg("paper fill")
}

func (e *Exchange) CancelOrder(ctx context.Context, symbol, orderID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	o, ok := e.orders[orderID]
	if !ok || (symbol != "" && common.NormalizeSymbol(o.Symbol) != common.NormalizeSymbol(symbol)) {
		return errs.Newf(errs.ExchangeRejected, "unknown order %s", orderID)
	}
	delete(e.orders, orderID)
	return nil
}

func (e *Exchange) GetOrders(ctx context.Context, symbol string) ([]common.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	want := common.NormalizeSymbol(symbol)
	out := make([]common.Order, 0, len(e.orders))
	for _, o := range e.orders {
		if symbol == "" || common.NormalizeSymbol(o.Symbol) == want {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, _ := strconv.ParseInt(out[i].ID, 10, 64)
		b, _ := strconv.ParseInt(out[j].ID, 10, 64)
		return a < b
	})
	return out, nil
}

func (e *Exchange) GetPositions(ctx context.Context) ([]common.Position, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]common.Position, 0, len(e.positions))
	for sym, p := range e.positions {
		var upnl float64
		if tk, ok := e.tickers[sym]; ok && tk.Bid > 0 {
			upnl = p.amount * (tk.Bid - p.entry)
		}
		out = append(out, common.Position{
			Symbol:           sym,
			Side:             common.PositionSide(p.amount),
			Amount:           p.amount,
			EntryPrice:       p.entry,
			UnrealizedProfit: upnl,
			UpdatedAt:        p.at,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

func (e *Exchange) GetTicker(ctx context.Context, symbol string) (common.Ticker, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	tk, ok := e.tickers[common.NormalizeSymbol(symbol)]
	if !ok {
		return common.Ticker{}, errs.Newf(errs.DataUnavailable, "no ticker for %s", symbol)
	}
	return tk, nil
}

func sideOf(amount float64) common.Side {
	if amount < 0 {
		return common.SideSell
	}
	return common.SideBuy
}

var _ common.Connector = (*Exchange)(nil)
