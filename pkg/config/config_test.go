package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("WATCHDOG_INTERVAL", "")
	t.Setenv("CALL_TIMEOUT", "")
	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.WatchdogInterval != 10*time.Second || cfg.CallTimeout != 10*time.Second {
		t.Fatalf("defaults: %v %v", cfg.WatchdogInterval, cfg.CallTimeout)
	}
	if cfg.BinanceUSDTFutures.Name != "binance_futures" {
		t.Fatalf("venue name %q", cfg.BinanceUSDTFutures.Name)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("WATCHDOG_INTERVAL", "30")
	t.Setenv("CALL_TIMEOUT", "1500ms")
	t.Setenv("WATCHDOG_DRIFT_PCT", "1.25")
	t.Setenv("ENABLE_BINANCE_COIN_FUTURES", "true")
	t.Setenv("EXECUTOR_MAX_RETRIES", "7")
	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.WatchdogInterval != 30*time.Second {
		t.Fatalf("bare seconds: %v", cfg.WatchdogInterval)
	}
	if cfg.CallTimeout != 1500*time.Millisecond {
		t.Fatalf("duration: %v", cfg.CallTimeout)
	}
	if cfg.WatchdogDriftPct != 1.25 || !cfg.BinanceCoinFutures.Enabled || cfg.ExecutorMaxRetries != 7 {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
}

func TestParsePairs(t *testing.T) {
	doc := []byte(`
throttle:
  binance_futures:
    calls: 5
    window: 2s
pairs:
  - exchange: binance_futures
    symbol: btcusdt
    state: trade
    options:
      amount: 0.01
      stop_pct: 2
      risk_reward_ratio: 2
  - exchange: paper
    symbol: ETHUSDT
`)
	pf, err := ParsePairs(doc)
	if err != nil {
		t.Fatal(err)
	}
	if len(pf.Pairs) != 2 {
		t.Fatalf("pairs: %+v", pf.Pairs)
	}
	p, ok := pf.Lookup("binance_futures", "BTCUSDT")
	if !ok || !p.Trading() || p.Options["stop_pct"] != 2 {
		t.Fatalf("lookup: %+v", p)
	}
	if pf.Pairs[1].State != PairWatch {
		t.Fatalf("default state %q", pf.Pairs[1].State)
	}
	if th := pf.Throttle["binance_futures"]; th.Calls != 5 || th.Window != 2*time.Second {
		t.Fatalf("throttle: %+v", th)
	}
}

func TestParsePairsRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"missing symbol": "pairs:\n  - exchange: x\n",
		"bad state":      "pairs:\n  - exchange: x\n    symbol: Y\n    state: hold\n",
		"duplicate":      "pairs:\n  - {exchange: x, symbol: y}\n  - {exchange: x, symbol: Y}\n",
	}
	for name, doc := range cases {
		if _, err := ParsePairs([]byte(doc)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestLoadPairsMissingFile(t *testing.T) {
	pf, err := LoadPairs(filepath.Join(t.TempDir(), "none.yaml"))
	if err != nil || len(pf.Pairs) != 0 {
		t.Fatalf("missing file: %v %+v", err, pf)
	}
	path := filepath.Join(t.TempDir(), "pairs.yaml")
	os.WriteFile(path, []byte("pairs: ["), 0o644)
	if _, err := LoadPairs(path); err == nil {
		t.Fatal("expected parse error")
	}
}
