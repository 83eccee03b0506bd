package exchange

import (
	"github.com/rs/zerolog"

	"pair-trader/pkg/config"
	"pair-trader/pkg/exchanges/binance"
	futurescoin "pair-trader/pkg/exchanges/binance/futures_coin"
	futuresusdt "pair-trader/pkg/exchanges/binance/futures_usdt"
	"pair-trader/pkg/exchanges/binance/spot"
	"pair-trader/pkg/exchanges/common"
	"pair-trader/pkg/exchanges/paper"
)

// PaperName is the registry key of the default simulated exchange.
const PaperName = "paper"

// FromConfig builds and registers the configured connectors. In dry-run mode
// every enabled venue name is backed by a paper exchange instead, and a single
// "paper" exchange is registered when no venue is enabled.
func FromConfig(cfg *config.Config, log zerolog.Logger) (*Manager, error) {
	m := NewManager(log)
	var conns []common.Connector

	if cfg.DryRun {
		for _, v := range cfg.Venues() {
			if v.Enabled {
				conns = append(conns, newPaper(cfg, v.Name, log))
			}
		}
		if len(conns) == 0 {
			conns = append(conns, newPaper(cfg, PaperName, log))
		}
	} else {
		creds := func(v config.Venue) binance.Config {
			return binance.Config{Name: v.Name, APIKey: v.APIKey, APISecret: v.APISecret, Testnet: cfg.BinanceTestnet}
		}
		if v := cfg.BinanceSpot; v.Enabled {
			conns = append(conns, spot.New(creds(v), log))
		}
		if v := cfg.BinanceMargin; v.Enabled {
			conns = append(conns, spot.NewMargin(creds(v), cfg.BinanceMarginQuote, log))
		}
		if v := cfg.BinanceUSDTFutures; v.Enabled {
			conns = append(conns, futuresusdt.NewClient(creds(v), log))
		}
		if v := cfg.BinanceCoinFutures; v.Enabled {
			conns = append(conns, futurescoin.NewClient(creds(v), log))
		}
	}

	for _, c := range conns {
		if err := m.Register(c); err != nil {
			return nil, err
		}
	}
	if len(conns) == 0 {
		m.log.Warn().Msg("no exchange enabled; set DRY_RUN=true or enable a Binance venue")
	}
	return m, nil
}

func newPaper(cfg *config.Config, name string, log zerolog.Logger) *paper.Exchange {
	return paper.New(paper.Config{
		Name:           name,
		InitialBalance: cfg.DryRunInitialBalance,
		FeeRate:        cfg.DryRunFeeRate,
		SlippageBps:    cfg.DryRunSlippageBps,
	}, log)
}
