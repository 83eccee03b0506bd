package monitor

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"pair-trader/internal/events"
)

func TestMetricsCounters(t *testing.T) {
	m := New(nil)
	m.ObserveCall("paper", "create", "placed", 20*time.Millisecond)
	m.ObserveCall("paper", "create", "rejected", 5*time.Millisecond)
	m.IncRetry("paper", "create")
	m.IncWatchdogAction("paper", "cancel_orphan", 2)
	m.IncWatchdogAction("paper", "cancel_orphan", 0)
	m.IncTicker("paper")

	if got := testutil.ToFloat64(m.ConnectorCalls.WithLabelValues("paper", "create", "placed")); got != 1 {
		t.Fatalf("placed calls = %v", got)
	}
	if got := testutil.ToFloat64(m.WatchdogActions.WithLabelValues("paper", "cancel_orphan")); got != 2 {
		t.Fatalf("watchdog actions = %v", got)
	}
	snap := m.GetSnapshot()
	if snap.OrdersProcessed != 2 || snap.ErrorsCount != 1 || snap.TicksProcessed != 1 || snap.OrderLatency.Count != 2 {
		t.Fatalf("snapshot %+v", snap)
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveCall("x", "create", "placed", time.Millisecond)
	m.IncPairTrigger("long", "admitted")
	m.IncWatchdogFailure("x")
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New(nil)
	m.IncSignal("grpc")
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `pairtrader_signals_total{source="grpc"} 1`) {
		t.Fatalf("metrics output missing signal counter:\n%s", body)
	}
}

func TestLatencyHistogramWindow(t *testing.T) {
	h := NewLatencyHistogram(3)
	for _, v := range []float64{100, 1, 2, 3} {
		h.Record(v)
	}
	s := h.Stats()
	if s.Count != 3 || s.Max != 3 || s.Min != 1 {
		t.Fatalf("stats %+v", s)
	}
}

func TestMonitorAlertsOnFailure(t *testing.T) {
	bus := events.NewBus()
	got := make(chan events.PairStateChange, 1)
	mon := &Monitor{Bus: bus, Log: zerolog.Nop(), AlertFn: func(c events.PairStateChange) { got <- c }}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mon.Start(ctx)

	bus.PairStates.Publish(events.PairStateChange{Exchange: "paper", Symbol: "BTCUSDT", Outcome: "placed"})
	bus.PairStates.Publish(events.PairStateChange{Exchange: "paper", Symbol: "BTCUSDT", Outcome: "failed", Message: "no ticker"})
	select {
	case c := <-got:
		if c.Message != "no ticker" {
			t.Fatalf("alert %+v", c)
		}
	case <-time.After(time.Second):
		t.Fatal("no alert raised")
	}
}
