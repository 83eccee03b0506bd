package logger

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestNewWritesStructuredFields(t *testing.T) {
	var buf bytes.Buffer
	log := New(Options{Service: "pair-trader", Level: "debug", Writer: &buf})

	log.Info().Str("exchange", "binance").Str("symbol", "BTCUSDT").Msg("order placed")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log line: %v (%s)", err, buf.String())
	}
	for _, key := range []string{"timestamp", "service", "node", "exchange", "symbol"} {
		if _, ok := entry[key]; !ok {
			t.Fatalf("missing field %q in %v", key, entry)
		}
	}
	if entry["message"] != "order placed" {
		t.Fatalf("unexpected message: %v", entry["message"])
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := New(Options{Service: "svc", Level: "warn", Writer: &buf})

	log.Info().Msg("dropped")
	if buf.Len() != 0 {
		t.Fatalf("info should be filtered at warn level, got %s", buf.String())
	}
	log.Warn().Msg("kept")
	if buf.Len() == 0 {
		t.Fatal("warn should be written")
	}
}

func TestInvalidLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	log := New(Options{Service: "svc", Level: "chatty", Writer: &buf})
	log.Debug().Msg("dropped")
	log.Info().Msg("kept")
	if bytes.Count(buf.Bytes(), []byte("\n")) != 1 {
		t.Fatalf("expected exactly one line, got %q", buf.String())
	}
}

func TestNodeIDNotEmpty(t *testing.T) {
	if NodeID("pair-trader") == "" {
		t.Fatal("node id should never be empty")
	}
}
