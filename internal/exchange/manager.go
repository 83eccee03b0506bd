// Package exchange holds the registry of configured exchange connectors.
package exchange

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"pair-trader/pkg/errs"
	"pair-trader/pkg/exchanges/common"
)

// DefaultFailureThreshold is the failure streak after which a connector reports unhealthy.
const DefaultFailureThreshold = 3

// TickerSink is implemented by simulated connectors that fill against pushed tickers.
type TickerSink interface {
	SetTicker(common.Ticker)
}

type entry struct {
	conn        common.Connector
	failures    int
	lastError   string
	lastFailure time.Time
	healthyAt   time.Time
}

// Health is the per-connector call health snapshot.
type Health struct {
	Name        string    `json:"name"`
	Healthy     bool      `json:"healthy"`
	Failures    int       `json:"failures"`
	LastError   string    `json:"last_error,omitempty"`
	LastFailure time.Time `json:"last_failure,omitempty"`
	HealthyAt   time.Time `json:"healthy_at"`
	Inverse     bool      `json:"inverse"`
}

// Manager maps exchange names to connectors. Connectors are registered at
// startup; afterwards only the health counters change.
type Manager struct {
	mu        sync.RWMutex
	entries   map[string]*entry
	threshold int
	log       zerolog.Logger
}

func NewManager(log zerolog.Logger) *Manager {
	return &Manager{
		entries:   make(map[string]*entry),
		threshold: DefaultFailureThreshold,
		log:       log.With().Str("component", "exchange_manager").Logger(),
	}
}

// Register adds c under c.Name(). Names must be unique.
func (m *Manager) Register(c common.Connector) error {
	name := c.Name()
	if name == "" {
		return errs.New(errs.InvalidParam, "connector has no name")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.entries[name]; dup {
		return errs.Newf(errs.Conflict, "exchange %s already registered", name)
	}
	m.entries[name] = &entry{conn: c, healthyAt: time.Now()}
	m.log.Info().Str("exchange", name).Bool("inverse", common.IsInverse(c, "")).Msg("exchange registered")
	return nil
}

// Get returns the connector registered as name.
func (m *Manager) Get(name string) (common.Connector, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[name]
	if !ok {
		return nil, errs.Newf(errs.NotFound, "unknown exchange %q", name)
	}
	return e.conn, nil
}

// All returns a copy of the registry.
func (m *Manager) All() map[string]common.Connector {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]common.Connector, len(m.entries))
	for name, e := range m.entries {
		out[name] = e.conn
	}
	return out
}

// Names returns the registered names sorted.
func (m *Manager) Names() []string {
	m.mu.RLock()
	names := make([]string, 0, len(m.entries))
	for name := range m.entries {
		names = append(names, name)
	}
	m.mu.RUnlock()
	sort.Strings(names)
	return names
}

// GetPosition returns the position for symbol, or nil when flat. Symbols are
// compared after normalization, so BTC-USD matches BTCUSD.
func (m *Manager) GetPosition(ctx context.Context, exchange, symbol string) (*common.Position, error) {
	c, err := m.Get(exchange)
	if err != nil {
		return nil, err
	}
	positions, err := c.GetPositions(ctx)
	if err != nil {
		return nil, err
	}
	want := common.NormalizeSymbol(symbol)
	for _, p := range positions {
		if common.NormalizeSymbol(p.Symbol) == want && p.Amount != 0 {
			return &p, nil
		}
	}
	return nil, nil
}

// IsInverse reports whether symbol on exchange is an inverse (coin-margined) contract.
func (m *Manager) IsInverse(exchange, symbol string) bool {
	c, err := m.Get(exchange)
	if err != nil {
		return false
	}
	return common.IsInverse(c, symbol)
}

// FeedTicker forwards t to its exchange when that connector simulates fills.
func (m *Manager) FeedTicker(t common.Ticker) {
	c, err := m.Get(t.Exchange)
	if err != nil {
		return
	}
	if sink, ok := c.(TickerSink); ok {
		sink.SetTicker(t)
	}
}

// StartClockSync starts the server time tracker of every connector that has one.
func (m *Manager) StartClockSync(ctx context.Context) {
	for name, c := range m.All() {
		if cs, ok := c.(interface{ Clock() *common.ServerClock }); ok {
			m.log.Debug().Str("exchange", name).Msg("starting server clock sync")
			cs.Clock().Start(ctx)
		}
	}
}

// RecordFailure extends the failure streak of name.
func (m *Manager) RecordFailure(name string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[name]
	if !ok {
		return
	}
	e.failures++
	e.lastFailure = time.Now()
	if err != nil {
		e.lastError = err.Error()
	}
	if e.failures == m.threshold {
		m.log.Warn().Str("exchange", name).Int("failures", e.failures).Str("error", e.lastError).Msg("exchange unhealthy")
	}
}

// RecordSuccess resets the failure streak of name.
func (m *Manager) RecordSuccess(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[name]
	if !ok {
		return
	}
	if e.failures >= m.threshold {
		m.log.Info().Str("exchange", name).Msg("exchange recovered")
	}
	e.failures = 0
	e.healthyAt = time.Now()
}

// Health returns one snapshot per connector, sorted by name.
func (m *Manager) Health() []Health {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Health, 0, len(m.entries))
	for name, e := range m.entries {
		out = append(out, Health{
			Name:        name,
			Healthy:     e.failures < m.threshold,
			Failures:    e.failures,
			LastError:   e.lastError,
			LastFailure: e.lastFailure,
			HealthyAt:   e.healthyAt,
			Inverse:     common.IsInverse(e.conn, ""),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
