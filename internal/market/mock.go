package market

import (
	"context"
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	"pair-trader/internal/events"
	"pair-trader/pkg/exchanges/common"
)

// MockFeed generates synthetic tickers for local development.
type MockFeed struct {
	Exchange   string
	Bus        *events.Bus
	Symbols    []string
	StartPrice float64
	Step       float64
	SpreadPct  float64
	Interval   time.Duration
	Seed       int64
	Log        zerolog.Logger

	prices map[string]float64
	rng    *rand.Rand
}

func (m *MockFeed) Start(ctx context.Context) {
	if m.Bus == nil {
		m.Log.Warn().Msg("mock feed: bus not set")
		return
	}
	if m.Interval == 0 {
		m.Interval = time.Second
	}
	m.init()

	go func() {
		t := time.NewTicker(m.Interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				m.Tick()
			}
		}
	}()
}

func (m *MockFeed) init() {
	if m.rng != nil {
		return
	}
	if len(m.Symbols) == 0 {
		m.Symbols = []string{"BTCUSDT"}
	}
	if m.StartPrice == 0 {
		m.StartPrice = 100.0
	}
	if m.Step == 0 {
		m.Step = 0.5
	}
	if m.SpreadPct == 0 {
		m.SpreadPct = 0.01
	}
	seed := m.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	m.rng = rand.New(rand.NewSource(seed))
	m.prices = make(map[string]float64, len(m.Symbols))
	for _, s := range m.Symbols {
		m.prices[s] = m.StartPrice
	}
}

// Tick advances every symbol one random-walk step and publishes it.
// It is not safe for concurrent use with a started feed.
func (m *MockFeed) Tick() {
	m.init()
	now := time.Now()
	for _, sym := range m.Symbols {
		mid := m.prices[sym] + (m.rng.Float64()*2-1)*m.Step
		if mid <= m.Step {
			mid = m.Step
		}
		m.prices[sym] = mid
		half := mid * m.SpreadPct / 200
		m.Bus.Tickers.Publish(common.Ticker{
			Exchange: m.Exchange,
			Symbol:   sym,
			Bid:      mid - half,
			Ask:      mid + half,
			Time:     now,
		})
	}
}
