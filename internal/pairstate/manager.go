package pairstate

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"pair-trader/internal/events"
	"pair-trader/internal/monitor"
	"pair-trader/internal/order"
	"pair-trader/internal/persistence"
	"pair-trader/pkg/db"
	"pair-trader/pkg/errs"
)

// Executor runs one transition to completion.
type Executor interface {
	Execute(ctx context.Context, ps PairState) order.Result
}

// Mirror persists settled pair records so they survive a restart.
type Mirror interface {
	Save(ctx context.Context, ps PairState) error
	Delete(ctx context.Context, key string) error
	// Load returns the stored records and the keys whose payload is unreadable.
	Load(ctx context.Context) ([]PairState, []string, error)
}

type record struct {
	state PairState
	// cancel requested while another transition was in flight
	pendingCancel bool
}

// Manager owns every pair record. All record mutations go through it.
type Manager struct {
	mu      sync.Mutex
	pairs   map[string]*record
	lastErr map[string]string

	exec    Executor
	mirror  Mirror
	bus     *events.Bus
	audit   persistence.Recorder
	metrics *monitor.Metrics
	log     zerolog.Logger
	now     func() time.Time

	wg sync.WaitGroup
}

type Option func(*Manager)

func WithMirror(m Mirror) Option { return func(pm *Manager) { pm.mirror = m } }

func WithBus(b *events.Bus) Option { return func(pm *Manager) { pm.bus = b } }

func WithRecorder(r persistence.Recorder) Option { return func(pm *Manager) { pm.audit = r } }

func WithMetrics(m *monitor.Metrics) Option { return func(pm *Manager) { pm.metrics = m } }

func NewManager(exec Executor, log zerolog.Logger, opts ...Option) *Manager {
	m := &Manager{
		pairs:   make(map[string]*record),
		lastErr: make(map[string]string),
		exec:    exec,
		audit:   persistence.Discard{},
		log:     log.With().Str("component", "pair_state").Logger(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Trigger admits a transition for the pair and starts it in the background.
// A pair with a record only admits cancel, and close once the position is
// open and nothing is in flight; everything else is a Conflict.
// A cancel on a pair without a record holds a CANCELLING record until its
// sweep settles.
func (m *Manager) Trigger(ctx context.Context, exchange, symbol string, action Action, options map[string]any) (PairState, error) {
	if _, err := ParseAction(string(action)); err != nil {
		return PairState{}, err
	}
	if exchange == "" || symbol == "" {
		return PairState{}, errs.New(errs.InvalidParam, "exchange and symbol are required")
	}
	key := Key(exchange, symbol)
	now := m.now()

	m.mu.Lock()
	rec, exists := m.pairs[key]
	switch {
	case !exists:
		rec = &record{state: PairState{
			Exchange:  exchange,
			Symbol:    symbol,
			CreatedAt: now,
		}}
		m.pairs[key] = rec
	case action == ActionCancel && rec.state.InFlight:
		rec.pendingCancel = true
		rec.state.Action = ActionCancel
		rec.state.State = StateCancelling
		rec.state.UpdatedAt = now
		snap := rec.state.clone()
		m.mu.Unlock()
		m.metrics.IncPairTrigger(string(action), "deferred")
		m.emit(snap, "", "cancel queued behind in-flight transition")
		return snap, nil
	case action == ActionCancel:
		// settled record, cancel runs now
	case action == ActionClose && rec.state.State == StatePositionOpen && !rec.state.InFlight:
		// exit of an open position
	default:
		snap := rec.state.clone()
		m.mu.Unlock()
		m.metrics.IncPairTrigger(string(action), "conflict")
		return snap, errs.Newf(errs.Conflict, "%s %s already processing %s (%s)", exchange, symbol, snap.Action, snap.State)
	}

	rec.state.Action = action
	rec.state.State = initialState(action, rec.state.State)
	rec.state.Options = options
	rec.state.InFlight = true
	rec.state.LastError = ""
	rec.state.UpdatedAt = now
	delete(m.lastErr, key)
	snap := rec.state.clone()
	m.wg.Add(1)
	m.mu.Unlock()

	m.metrics.IncPairTrigger(string(action), "admitted")
	m.emit(snap, "", "transition admitted")
	go m.run(context.WithoutCancel(ctx), snap)
	return snap, nil
}

func initialState(a Action, current State) State {
	switch a {
	case ActionClose:
		return StatePositionClosing
	case ActionCancel:
		return StateCancelling
	default:
		if current == "" {
			return StateNone
		}
		return current
	}
}

func (m *Manager) run(ctx context.Context, ps PairState) {
	defer m.wg.Done()
	res := m.exec.Execute(ctx, ps)
	m.complete(ctx, ps, res)
}

// complete applies the outcome of ps. A cancel requested meanwhile runs next.
func (m *Manager) complete(ctx context.Context, ps PairState, res order.Result) {
	key := ps.Key()
	now := m.now()

	m.mu.Lock()
	rec, ok := m.pairs[key]
	if !ok {
		m.mu.Unlock()
		return
	}
	rec.state.InFlight = false
	rec.state.UpdatedAt = now
	if res.Order != nil && res.Order.ID != "" && ps.Action != ActionCancel {
		rec.state.OrderID = res.Order.ID
	}

	if rec.pendingCancel {
		rec.pendingCancel = false
		rec.state.Action = ActionCancel
		rec.state.State = StateCancelling
		rec.state.InFlight = true
		next := rec.state.clone()
		m.wg.Add(1)
		m.mu.Unlock()
		m.emit(next, string(res.Outcome), "running queued cancel after "+string(ps.Action))
		go m.run(ctx, next)
		return
	}

	keep, target := settle(ps.Action, res)
	if !keep {
		delete(m.pairs, key)
		if !res.Success {
			m.lastErr[key] = res.Message
		}
		final := rec.state.clone()
		final.State = StateNone
		final.LastError = m.lastErr[key]
		m.mu.Unlock()

		m.mirrorDelete(ctx, key)
		m.emit(final, string(res.Outcome), res.Message)
		return
	}
	rec.state.State = target
	if res.Outcome == order.OutcomeUnknown {
		rec.state.LastError = res.Message
	}
	final := rec.state.clone()
	m.mu.Unlock()

	m.mirrorSave(ctx, final)
	m.emit(final, string(res.Outcome), res.Message)
}

// settle decides whether the record survives a finished transition and in which state.
func settle(a Action, res order.Result) (bool, State) {
	switch a {
	case ActionLong, ActionShort:
		if res.Success || res.Outcome == order.OutcomeUnknown {
			return true, StateOrderPlaced
		}
	case ActionClose:
		if res.Outcome == order.OutcomeNoOp {
			return false, StateNone
		}
		if res.Success || res.Outcome == order.OutcomeUnknown {
			return true, StatePositionClosing
		}
	}
	return false, StateNone
}

// GetPairState returns a copy of the pair's record.
func (m *Manager) GetPairState(exchange, symbol string) (PairState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.pairs[Key(exchange, symbol)]
	if !ok {
		return PairState{}, false
	}
	return rec.state.clone(), true
}

// LastError is the failure message of the pair's most recent removed record.
func (m *Manager) LastError(exchange, symbol string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr[Key(exchange, symbol)]
}

// All returns copies of every record sorted by key.
func (m *Manager) All() []PairState {
	m.mu.Lock()
	out := make([]PairState, 0, len(m.pairs))
	for _, rec := range m.pairs {
		out = append(out, rec.state.clone())
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// MarkPositionOpen moves a settled ORDER_PLACED pair to POSITION_OPEN.
func (m *Manager) MarkPositionOpen(exchange, symbol string) bool {
	m.mu.Lock()
	rec, ok := m.pairs[Key(exchange, symbol)]
	if !ok || rec.state.InFlight || rec.state.State != StateOrderPlaced {
		m.mu.Unlock()
		return false
	}
	rec.state.State = StatePositionOpen
	rec.state.UpdatedAt = m.now()
	snap := rec.state.clone()
	m.mu.Unlock()

	m.mirrorSave(context.Background(), snap)
	m.emit(snap, "filled", "position opened")
	return true
}

// Clear removes a settled record.
func (m *Manager) Clear(exchange, symbol, reason string) bool {
	key := Key(exchange, symbol)
	m.mu.Lock()
	rec, ok := m.pairs[key]
	if !ok || rec.state.InFlight {
		m.mu.Unlock()
		return false
	}
	delete(m.pairs, key)
	snap := rec.state.clone()
	snap.State = StateNone
	snap.UpdatedAt = m.now()
	m.mu.Unlock()

	m.mirrorDelete(context.Background(), key)
	m.emit(snap, "cleared", reason)
	return true
}

// Restore loads mirrored records at startup. Existing records win.
func (m *Manager) Restore(ctx context.Context) (int, error) {
	if m.mirror == nil {
		return 0, nil
	}
	states, corrupt, err := m.mirror.Load(ctx)
	if err != nil {
		return 0, err
	}
	for _, key := range corrupt {
		m.log.Warn().Str("pair", key).Msg("dropping undecodable mirror entry")
		m.mirrorDelete(ctx, key)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, ps := range states {
		if ps.State == StateNone || ps.State == "" {
			continue
		}
		key := ps.Key()
		if _, exists := m.pairs[key]; exists {
			continue
		}
		ps.InFlight = false
		m.pairs[key] = &record{state: ps}
		n++
	}
	m.log.Info().Int("restored", n).Msg("pair states restored")
	return n, nil
}

// Wait blocks until every in-flight transition finished.
func (m *Manager) Wait() {
	m.wg.Wait()
}

func (m *Manager) mirrorSave(ctx context.Context, ps PairState) {
	if m.mirror == nil {
		return
	}
	if err := m.mirror.Save(ctx, ps); err != nil {
		m.log.Warn().Err(err).Str("pair", ps.Key()).Msg("mirror save failed")
	}
}

func (m *Manager) mirrorDelete(ctx context.Context, key string) {
	if m.mirror == nil {
		return
	}
	if err := m.mirror.Delete(ctx, key); err != nil {
		m.log.Warn().Err(err).Str("pair", key).Msg("mirror delete failed")
	}
}

func (m *Manager) emit(ps PairState, outcome, msg string) {
	now := ps.UpdatedAt
	if now.IsZero() {
		now = m.now()
	}
	m.audit.Record(db.PairEvent{
		Exchange:  ps.Exchange,
		Symbol:    ps.Symbol,
		Action:    string(ps.Action),
		State:     string(ps.State),
		Outcome:   outcome,
		Message:   msg,
		CreatedAt: now,
	})
	if m.bus != nil {
		m.bus.PairStates.Publish(events.PairStateChange{
			Exchange: ps.Exchange,
			Symbol:   ps.Symbol,
			Action:   string(ps.Action),
			State:    string(ps.State),
			Outcome:  outcome,
			Message:  msg,
			Time:     now,
		})
	}

	ev := m.log.Info()
	if outcome == string(order.OutcomeFailed) || outcome == string(order.OutcomeRejected) {
		ev = m.log.Warn()
	}
	ev.Str("exchange", ps.Exchange).
		Str("symbol", ps.Symbol).
		Str("action", string(ps.Action)).
		Str("state", string(ps.State)).
		Str("outcome", outcome).
		Msg(msg)
}
