package monitor

import (
	"net/http"
	"runtime"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the engine's Prometheus collectors on a private registry,
// plus in-process latency windows for the JSON status endpoint.
type Metrics struct {
	ConnectorCalls   *prometheus.CounterVec   // exchange, op, outcome
	ConnectorLatency *prometheus.HistogramVec // exchange, op
	Retries          *prometheus.CounterVec   // exchange, op
	ThrottleWait     *prometheus.HistogramVec // exchange
	PairTriggers     *prometheus.CounterVec   // action, result
	WatchdogActions  *prometheus.CounterVec   // exchange, action
	WatchdogFailures *prometheus.CounterVec   // exchange
	TickerUpdates    *prometheus.CounterVec   // exchange
	Signals          *prometheus.CounterVec   // source
	APIRequests      *prometheus.CounterVec   // method, route, status

	OrderLatency *LatencyHistogram
	APILatency   *LatencyHistogram

	ordersProcessed uint64
	ticksProcessed  uint64
	signalsReceived uint64
	errorsCount     uint64

	registry *prometheus.Registry
}

// New registers metrics with registry. A nil registry gets a fresh isolated one.
func New(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	m := &Metrics{
		ConnectorCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pairtrader_connector_calls_total",
			Help: "Connector calls by exchange, operation and outcome.",
		}, []string{"exchange", "op", "outcome"}),
		ConnectorLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pairtrader_connector_call_seconds",
			Help:    "Connector call latency including retries.",
			Buckets: prometheus.DefBuckets,
		}, []string{"exchange", "op"}),
		Retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pairtrader_connector_retries_total",
			Help: "Retried connector calls.",
		}, []string{"exchange", "op"}),
		ThrottleWait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pairtrader_throttle_wait_seconds",
			Help:    "Time spent waiting for a throttle token.",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"exchange"}),
		PairTriggers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pairtrader_pair_triggers_total",
			Help: "Pair triggers by action and admission result.",
		}, []string{"action", "result"}),
		WatchdogActions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pairtrader_watchdog_actions_total",
			Help: "Corrective watchdog actions.",
		}, []string{"exchange", "action"}),
		WatchdogFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pairtrader_watchdog_failures_total",
			Help: "Watchdog reconciliation failures per exchange.",
		}, []string{"exchange"}),
		TickerUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pairtrader_ticker_updates_total",
			Help: "Ticker updates written to the cache.",
		}, []string{"exchange"}),
		Signals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pairtrader_signals_total",
			Help: "Strategy signals received.",
		}, []string{"source"}),
		APIRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pairtrader_api_requests_total",
			Help: "HTTP API requests by route and status.",
		}, []string{"method", "route", "status"}),
		OrderLatency: NewLatencyHistogram(1000),
		APILatency:   NewLatencyHistogram(1000),
		registry:     registry,
	}
	registry.MustRegister(
		m.ConnectorCalls, m.ConnectorLatency, m.Retries, m.ThrottleWait,
		m.PairTriggers, m.WatchdogActions, m.WatchdogFailures, m.TickerUpdates, m.Signals, m.APIRequests,
	)
	return m
}

// Handler returns an HTTP handler that exposes metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the private registry for extra collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ObserveCall records one executor call. Nil-safe.
func (m *Metrics) ObserveCall(exchange, op, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.ConnectorCalls.WithLabelValues(exchange, op, outcome).Inc()
	m.ConnectorLatency.WithLabelValues(exchange, op).Observe(d.Seconds())
	m.OrderLatency.RecordDuration(d)
	atomic.AddUint64(&m.ordersProcessed, 1)
	if outcome == "failed" || outcome == "rejected" || outcome == "unknown" {
		atomic.AddUint64(&m.errorsCount, 1)
	}
}

func (m *Metrics) IncRetry(exchange, op string) {
	if m == nil {
		return
	}
	m.Retries.WithLabelValues(exchange, op).Inc()
}

func (m *Metrics) ObserveThrottleWait(exchange string, d time.Duration) {
	if m == nil {
		return
	}
	m.ThrottleWait.WithLabelValues(exchange).Observe(d.Seconds())
}

func (m *Metrics) IncPairTrigger(action, result string) {
	if m == nil {
		return
	}
	m.PairTriggers.WithLabelValues(action, result).Inc()
}

func (m *Metrics) IncWatchdogAction(exchange, action string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.WatchdogActions.WithLabelValues(exchange, action).Add(float64(n))
}

func (m *Metrics) IncWatchdogFailure(exchange string) {
	if m == nil {
		return
	}
	m.WatchdogFailures.WithLabelValues(exchange).Inc()
	atomic.AddUint64(&m.errorsCount, 1)
}

func (m *Metrics) IncTicker(exchange string) {
	if m == nil {
		return
	}
	m.TickerUpdates.WithLabelValues(exchange).Inc()
	atomic.AddUint64(&m.ticksProcessed, 1)
}

func (m *Metrics) IncSignal(source string) {
	if m == nil {
		return
	}
	m.Signals.WithLabelValues(source).Inc()
	atomic.AddUint64(&m.signalsReceived, 1)
}

// ObserveAPI records one HTTP request. Nil-safe.
func (m *Metrics) ObserveAPI(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.APIRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.APILatency.RecordDuration(d)
	if status >= 500 {
		atomic.AddUint64(&m.errorsCount, 1)
	}
}

// LatencyHistogram tracks latency samples with sliding window.
// Stats are computed lazily and cached until the next sample.
type LatencyHistogram struct {
	mu          sync.Mutex
	samples     []float64
	maxSize     int
	dirty       bool
	cachedStats LatencyStats
}

// NewLatencyHistogram creates a sliding window histogram.
func NewLatencyHistogram(size int) *LatencyHistogram {
	if size <= 0 {
		size = 1000
	}
	return &LatencyHistogram{
		samples: make([]float64, 0, size),
		maxSize: size,
		dirty:   true,
	}
}

// Record adds a latency sample in milliseconds.
func (h *LatencyHistogram) Record(latencyMs float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.samples) >= h.maxSize {
		// Shift window: remove oldest
		h.samples = h.samples[1:]
	}
	h.samples = append(h.samples, latencyMs)
	h.dirty = true
}

// RecordDuration adds a latency sample.
func (h *LatencyHistogram) RecordDuration(d time.Duration) {
	h.Record(float64(d.Nanoseconds()) / 1e6)
}

// Stats returns min, max, avg, p50, p95, p99.
func (h *LatencyHistogram) Stats() LatencyStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.dirty && h.cachedStats.Count > 0 {
		return h.cachedStats
	}

	n := len(h.samples)
	if n == 0 {
		return LatencyStats{}
	}

	sorted := make([]float64, n)
	copy(sorted, h.samples)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}

	h.cachedStats = LatencyStats{
		Min:   sorted[0],
		Max:   sorted[n-1],
		Avg:   sum / float64(n),
		P50:   sorted[n/2],
		P95:   sorted[int(float64(n)*0.95)],
		P99:   sorted[int(float64(n)*0.99)],
		Count: n,
	}
	h.dirty = false

	return h.cachedStats
}

// LatencyStats holds computed latency statistics.
type LatencyStats struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
	Count int     `json:"count"`
}

// Snapshot is the JSON status view.
type Snapshot struct {
	OrderLatency    LatencyStats `json:"order_latency"`
	APILatency      LatencyStats `json:"api_latency"`
	OrdersProcessed uint64       `json:"orders_processed"`
	TicksProcessed  uint64       `json:"ticks_processed"`
	SignalsReceived uint64       `json:"signals_received"`
	ErrorsCount     uint64       `json:"errors_count"`
	GoroutineCount  int          `json:"goroutine_count"`
	HeapAlloc       uint64       `json:"heap_alloc_bytes"`
	Timestamp       time.Time    `json:"timestamp"`
}

// GetSnapshot returns a point-in-time snapshot.
func (m *Metrics) GetSnapshot() Snapshot {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	return Snapshot{
		OrderLatency:    m.OrderLatency.Stats(),
		APILatency:      m.APILatency.Stats(),
		OrdersProcessed: atomic.LoadUint64(&m.ordersProcessed),
		TicksProcessed:  atomic.LoadUint64(&m.ticksProcessed),
		SignalsReceived: atomic.LoadUint64(&m.signalsReceived),
		ErrorsCount:     atomic.LoadUint64(&m.errorsCount),
		GoroutineCount:  runtime.NumGoroutine(),
		HeapAlloc:       memStats.HeapAlloc,
		Timestamp:       time.Now(),
	}
}
