package monitor

import (
	"context"

	"github.com/rs/zerolog"

	"pair-trader/internal/events"
)

// Monitor watches pair-state and order events and raises alerts for failures.
type Monitor struct {
	Bus     *events.Bus
	Log     zerolog.Logger
	AlertFn func(events.PairStateChange) // optional extra sink
}

// Start subscribes and returns immediately; it stops with ctx.
func (m *Monitor) Start(ctx context.Context) {
	if m.Bus == nil {
		m.Log.Warn().Msg("monitor not fully configured; skipping")
		return
	}
	states, unsubStates := m.Bus.PairStates.Subscribe(64)
	orders, unsubOrders := m.Bus.Orders.Subscribe(64)
	go func() {
		defer unsubStates()
		defer unsubOrders()
		for {
			select {
			case <-ctx.Done():
				return
			case ch, ok := <-states:
				if !ok {
					return
				}
				if ch.Outcome == "failed" || ch.Outcome == "rejected" {
					m.Log.Warn().
						Str("exchange", ch.Exchange).
						Str("symbol", ch.Symbol).
						Str("action", ch.Action).
						Str("outcome", ch.Outcome).
						Str("reason", ch.Message).
						Msg("pair transition failed")
					if m.AlertFn != nil {
						m.AlertFn(ch)
					}
				}
			case ev, ok := <-orders:
				if !ok {
					return
				}
				if ev.Outcome == "unknown" {
					m.Log.Warn().
						Str("exchange", ev.Exchange).
						Str("symbol", ev.Symbol).
						Str("op", ev.Op).
						Msg("order outcome unknown; watchdog will reconcile")
				}
			}
		}
	}()
}
