package db

import (
	"context"
	"database/sql"
	"time"
)

// PairEvent records a pair-state transition.
type PairEvent struct {
	ID        int64     `json:"id"`
	Exchange  string    `json:"exchange"`
	Symbol    string    `json:"symbol"`
	Action    string    `json:"action"`
	State     string    `json:"state"`
	Outcome   string    `json:"outcome,omitempty"`
	Message   string    `json:"message,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// OrderLog records one executor call.
type OrderLog struct {
	ID        int64     `json:"id"`
	Exchange  string    `json:"exchange"`
	Symbol    string    `json:"symbol"`
	Op        string    `json:"op"`
	Outcome   string    `json:"outcome"`
	OrderID   string    `json:"order_id,omitempty"`
	ClientID  string    `json:"client_id,omitempty"`
	Side      string    `json:"side,omitempty"`
	Type      string    `json:"type,omitempty"`
	Price     float64   `json:"price"`
	StopPrice float64   `json:"stop_price,omitempty"`
	Amount    float64   `json:"amount"`
	Attempts  int       `json:"attempts"`
	LatencyMs int64     `json:"latency_ms"`
	Message   string    `json:"message,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// WatchdogReport records one connector's reconciliation cycle.
type WatchdogReport struct {
	ID          int64     `json:"id"`
	Exchange    string    `json:"exchange"`
	OpenOrders  int       `json:"open_orders"`
	Positions   int       `json:"positions"`
	Cancelled   int       `json:"cancelled"`
	Recreated   int       `json:"recreated"`
	StopsPlaced int       `json:"stops_placed"`
	Advanced    int       `json:"advanced"`
	Cleared     int       `json:"cleared"`
	Error       string    `json:"error,omitempty"`
	DurationMs  int64     `json:"duration_ms"`
	CreatedAt   time.Time `json:"created_at"`
}

// SignalRecord is a received strategy signal.
type SignalRecord struct {
	ID        int64     `json:"id"`
	Exchange  string    `json:"exchange"`
	Symbol    string    `json:"symbol"`
	Type      string    `json:"type"`
	Source    string    `json:"source,omitempty"`
	Options   string    `json:"options,omitempty"` // JSON
	Forwarded bool      `json:"forwarded"`
	CreatedAt time.Time `json:"created_at"`
}

func stamp(t time.Time) int64 {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UnixMilli()
}

// Statement returns the insert query and args, for direct or batched execution.
func (e PairEvent) Statement() (string, []any) {
	return `INSERT INTO pair_events (exchange, symbol, action, state, outcome, message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		[]any{e.Exchange, e.Symbol, e.Action, e.State, e.Outcome, e.Message, stamp(e.CreatedAt)}
}

func (o OrderLog) Statement() (string, []any) {
	return `INSERT INTO order_log (exchange, symbol, op, outcome, order_id, client_id, side, type, price, stop_price, amount, attempts, latency_ms, message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		[]any{o.Exchange, o.Symbol, o.Op, o.Outcome, o.OrderID, o.ClientID, o.Side, o.Type, o.Price, o.StopPrice, o.Amount, o.Attempts, o.LatencyMs, o.Message, stamp(o.CreatedAt)}
}

func (r WatchdogReport) Statement() (string, []any) {
	return `INSERT INTO watchdog_reports (exchange, open_orders, positions, cancelled, recreated, stops_placed, advanced, cleared, error, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		[]any{r.Exchange, r.OpenOrders, r.Positions, r.Cancelled, r.Recreated, r.StopsPlaced, r.Advanced, r.Cleared, r.Error, r.DurationMs, stamp(r.CreatedAt)}
}

func (s SignalRecord) Statement() (string, []any) {
	return `INSERT INTO signals (exchange, symbol, type, source, options, forwarded, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		[]any{s.Exchange, s.Symbol, s.Type, s.Source, s.Options, s.Forwarded, stamp(s.CreatedAt)}
}

// Statement is any row that can insert itself.
type Statement interface {
	Statement() (string, []any)
}

// Insert executes a single row insert.
func (d *Database) Insert(ctx context.Context, row Statement) error {
	q, args := row.Statement()
	_, err := d.DB.ExecContext(ctx, q, args...)
	return err
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 1000 {
		return 100
	}
	return limit
}

// RecentPairEvents returns the newest events; exchange/symbol filter when non-empty.
func (d *Database) RecentPairEvents(ctx context.Context, exchange, symbol string, limit int) ([]PairEvent, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, exchange, symbol, action, state, COALESCE(outcome, ''), COALESCE(message, ''), created_at
		FROM pair_events
		WHERE (? = '' OR exchange = ?) AND (? = '' OR symbol = ?)
		ORDER BY id DESC LIMIT ?`,
		exchange, exchange, symbol, symbol, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []PairEvent
	for rows.Next() {
		var (
			e  PairEvent
			ts int64
		)
		if err := rows.Scan(&e.ID, &e.Exchange, &e.Symbol, &e.Action, &e.State, &e.Outcome, &e.Message, &ts); err != nil {
			return nil, err
		}
		e.CreatedAt = time.UnixMilli(ts)
		res = append(res, e)
	}
	return res, rows.Err()
}

// RecentOrderLog returns the newest executor calls; exchange/symbol filter when non-empty.
func (d *Database) RecentOrderLog(ctx context.Context, exchange, symbol string, limit int) ([]OrderLog, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, exchange, symbol, op, outcome, COALESCE(order_id, ''), COALESCE(client_id, ''),
			COALESCE(side, ''), COALESCE(type, ''), price, COALESCE(stop_price, 0), amount, attempts, latency_ms,
			COALESCE(message, ''), created_at
		FROM order_log
		WHERE (? = '' OR exchange = ?) AND (? = '' OR symbol = ?)
		ORDER BY id DESC LIMIT ?`,
		exchange, exchange, symbol, symbol, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []OrderLog
	for rows.Next() {
		var (
			o  OrderLog
			ts int64
		)
		if err := rows.Scan(&o.ID, &o.Exchange, &o.Symbol, &o.Op, &o.Outcome, &o.OrderID, &o.ClientID,
			&o.Side, &o.Type, &o.Price, &o.StopPrice, &o.Amount, &o.Attempts, &o.LatencyMs, &o.Message, &ts); err != nil {
			return nil, err
		}
		o.CreatedAt = time.UnixMilli(ts)
		res = append(res, o)
	}
	return res, rows.Err()
}

// RecentWatchdogReports returns the newest reconciliation reports.
func (d *Database) RecentWatchdogReports(ctx context.Context, limit int) ([]WatchdogReport, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, exchange, open_orders, positions, cancelled, recreated, stops_placed, advanced, cleared,
			COALESCE(error, ''), duration_ms, created_at
		FROM watchdog_reports ORDER BY id DESC LIMIT ?`, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []WatchdogReport
	for rows.Next() {
		var (
			r  WatchdogReport
			ts int64
		)
		if err := rows.Scan(&r.ID, &r.Exchange, &r.OpenOrders, &r.Positions, &r.Cancelled, &r.Recreated,
			&r.StopsPlaced, &r.Advanced, &r.Cleared, &r.Error, &r.DurationMs, &ts); err != nil {
			return nil, err
		}
		r.CreatedAt = time.UnixMilli(ts)
		res = append(res, r)
	}
	return res, rows.Err()
}

// RecentSignals returns the newest received signals.
func (d *Database) RecentSignals(ctx context.Context, limit int) ([]SignalRecord, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, exchange, symbol, type, COALESCE(source, ''), COALESCE(options, ''), forwarded, created_at
		FROM signals ORDER BY id DESC LIMIT ?`, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []SignalRecord
	for rows.Next() {
		var (
			s         SignalRecord
			forwarded sql.NullBool
			ts        int64
		)
		if err := rows.Scan(&s.ID, &s.Exchange, &s.Symbol, &s.Type, &s.Source, &s.Options, &forwarded, &ts); err != nil {
			return nil, err
		}
		s.Forwarded = forwarded.Bool
		s.CreatedAt = time.UnixMilli(ts)
		res = append(res, s)
	}
	return res, rows.Err()
}
