package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Pair states.
const (
	PairTrade = "trade" // automatic signals place orders
	PairWatch = "watch" // tickers only
)

// PairConfig is one configured (exchange, symbol) pair.
type PairConfig struct {
	Exchange string         `yaml:"exchange" json:"exchange"`
	Symbol   string         `yaml:"symbol" json:"symbol"`
	State    string         `yaml:"state" json:"state"`
	Options  map[string]any `yaml:"options" json:"options,omitempty"`
}

// Key is "exchange:SYMBOL".
func (p PairConfig) Key() string {
	return p.Exchange + ":" + strings.ToUpper(p.Symbol)
}

// Trading reports whether automatic signals are forwarded for this pair.
func (p PairConfig) Trading() bool { return p.State == PairTrade }

// ThrottleConfig overrides the call rate for one exchange.
type ThrottleConfig struct {
	Calls  int           `yaml:"calls"`
	Window time.Duration `yaml:"window"`
	Burst  int           `yaml:"burst"`
}

// PairsFile is the YAML pairs document.
type PairsFile struct {
	Pairs    []PairConfig              `yaml:"pairs"`
	Throttle map[string]ThrottleConfig `yaml:"throttle"`
}

// LoadPairs reads path. A missing file yields an empty set.
func LoadPairs(path string) (*PairsFile, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return &PairsFile{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read pairs file: %w", err)
	}
	return ParsePairs(data)
}

// ParsePairs decodes and validates a pairs document.
func ParsePairs(data []byte) (*PairsFile, error) {
	var pf PairsFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("parse pairs file: %w", err)
	}
	seen := make(map[string]bool, len(pf.Pairs))
	for i := range pf.Pairs {
		p := &pf.Pairs[i]
		if p.Exchange == "" || p.Symbol == "" {
			return nil, fmt.Errorf("pair %d: exchange and symbol are required", i)
		}
		p.Symbol = strings.ToUpper(p.Symbol)
		switch strings.ToLower(p.State) {
		case "":
			p.State = PairWatch
		case PairTrade, PairWatch:
			p.State = strings.ToLower(p.State)
		default:
			return nil, fmt.Errorf("pair %s: state must be trade or watch, got %q", p.Key(), p.State)
		}
		if seen[p.Key()] {
			return nil, fmt.Errorf("pair %s configured twice", p.Key())
		}
		seen[p.Key()] = true
	}
	return &pf, nil
}

// Lookup finds a configured pair.
func (pf *PairsFile) Lookup(exchange, symbol string) (PairConfig, bool) {
	key := exchange + ":" + strings.ToUpper(symbol)
	for _, p := range pf.Pairs {
		if p.Key() == key {
			return p, true
		}
	}
	return PairConfig{}, false
}
