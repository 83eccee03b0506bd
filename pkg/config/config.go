package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Venue holds the switch and credentials for one Binance account flavour.
type Venue struct {
	Enabled   bool
	Name      string // registry key
	APIKey    string
	APISecret string
}

// Config holds environment-driven settings for the engine.
type Config struct {
	Port      string
	LogLevel  string
	LogPretty bool

	// Binance venues
	BinanceTestnet     bool
	BinanceSpot        Venue
	BinanceMargin      Venue
	BinanceMarginQuote string
	BinanceUSDTFutures Venue
	BinanceCoinFutures Venue

	// Market data
	UseMockFeed        bool
	TickerPollInterval time.Duration // 0 disables the REST polling feed
	TickerMaxAge       time.Duration
	TickerPruneAge     time.Duration // tickers idle this long leave the cache; 0 keeps them

	// Execution
	DryRun               bool
	DryRunInitialBalance float64
	DryRunFeeRate        float64 // decimal (e.g. 0.0004 = 4 bps)
	DryRunSlippageBps    float64
	CallTimeout          time.Duration
	ExecutorMaxRetries   int
	ExecutorBackoffBase  time.Duration
	ExecutorBackoffMax   time.Duration
	ThrottleCalls        int
	ThrottleWindow       time.Duration

	// Watchdog
	WatchdogInterval       time.Duration
	WatchdogDriftPct       float64
	WatchdogMaxOrderAge    time.Duration // 0 disables stale-entry cancellation
	WatchdogDefaultStopPct float64

	// Storage
	DBPath        string
	RedisAddr     string // empty disables the pair-state mirror
	RedisPassword string
	RedisDB       int
	PairsFile     string

	// Strategy worker
	EnableSignalWorker bool
	SignalWorkerAddr   string
	SignalInterval     time.Duration

	// Auth
	JWTSecret    string
	AuthUsername string
	AuthPassword string
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	// Database path: prefer DB_PATH, then DATABASE_PATH for backward compatibility.
	dbPath := getEnv("DB_PATH", "")
	if dbPath == "" {
		dbPath = getEnv("DATABASE_PATH", "./data/pair-trader.db")
	}

	return &Config{
		Port:      getEnv("PORT", "8080"),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogPretty: getEnvBool("LOG_PRETTY", false),

		BinanceTestnet: getEnvBool("BINANCE_TESTNET", false),
		BinanceSpot: Venue{
			Enabled:   getEnvBool("ENABLE_BINANCE_TRADING", false),
			Name:      getEnv("BINANCE_SPOT_NAME", "binance"),
			APIKey:    os.Getenv("BINANCE_API_KEY"),
			APISecret: os.Getenv("BINANCE_API_SECRET"),
		},
		BinanceMargin: Venue{
			Enabled:   getEnvBool("ENABLE_BINANCE_MARGIN", false),
			Name:      getEnv("BINANCE_MARGIN_NAME", "binance_margin"),
			APIKey:    getEnv("BINANCE_MARGIN_KEY", os.Getenv("BINANCE_API_KEY")),
			APISecret: getEnv("BINANCE_MARGIN_SECRET", os.Getenv("BINANCE_API_SECRET")),
		},
		BinanceMarginQuote: getEnv("BINANCE_MARGIN_QUOTE", "USDT"),
		BinanceUSDTFutures: Venue{
			Enabled:   getEnvBool("ENABLE_BINANCE_USDT_FUTURES", false),
			Name:      getEnv("BINANCE_USDT_NAME", "binance_futures"),
			APIKey:    os.Getenv("BINANCE_USDT_KEY"),
			APISecret: os.Getenv("BINANCE_USDT_SECRET"),
		},
		BinanceCoinFutures: Venue{
			Enabled:   getEnvBool("ENABLE_BINANCE_COIN_FUTURES", false),
			Name:      getEnv("BINANCE_COIN_NAME", "binance_coin_futures"),
			APIKey:    os.Getenv("BINANCE_COIN_KEY"),
			APISecret: os.Getenv("BINANCE_COIN_SECRET"),
		},

		UseMockFeed:        getEnvBool("USE_MOCK_FEED", true),
		TickerPollInterval: getEnvDuration("TICKER_POLL_INTERVAL", 0),
		TickerMaxAge:       getEnvDuration("TICKER_MAX_AGE", 30*time.Second),
		TickerPruneAge:     getEnvDuration("TICKER_PRUNE_AGE", 10*time.Minute),

		DryRun:               getEnvBool("DRY_RUN", false),
		DryRunInitialBalance: getEnvFloat("DRY_RUN_INITIAL_BALANCE", 10000.0),
		DryRunFeeRate:        getEnvFloat("DRY_RUN_FEE_RATE", 0.0004),
		DryRunSlippageBps:    getEnvFloat("DRY_RUN_SLIPPAGE_BPS", 2),
		CallTimeout:          getEnvDuration("CALL_TIMEOUT", 10*time.Second),
		ExecutorMaxRetries:   getEnvInt("EXECUTOR_MAX_RETRIES", 3),
		ExecutorBackoffBase:  getEnvDuration("EXECUTOR_BACKOFF_BASE", 200*time.Millisecond),
		ExecutorBackoffMax:   getEnvDuration("EXECUTOR_BACKOFF_MAX", 5*time.Second),
		ThrottleCalls:        getEnvInt("THROTTLE_CALLS", 10),
		ThrottleWindow:       getEnvDuration("THROTTLE_WINDOW", time.Second),

		WatchdogInterval:       getEnvDuration("WATCHDOG_INTERVAL", 10*time.Second),
		WatchdogDriftPct:       getEnvFloat("WATCHDOG_DRIFT_PCT", 0.5),
		WatchdogMaxOrderAge:    getEnvDuration("WATCHDOG_MAX_ORDER_AGE", 0),
		WatchdogDefaultStopPct: getEnvFloat("WATCHDOG_DEFAULT_STOP_PCT", 0),

		DBPath:        dbPath,
		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		PairsFile:     getEnv("PAIRS_FILE", "./pairs.yaml"),

		EnableSignalWorker: getEnvBool("ENABLE_SIGNAL_WORKER", false),
		SignalWorkerAddr:   getEnv("SIGNAL_WORKER_ADDR", "localhost:50051"),
		SignalInterval:     getEnvDuration("SIGNAL_INTERVAL", 5*time.Second),

		JWTSecret:    getEnv("JWT_SECRET", "dev-secret"),
		AuthUsername: getEnv("AUTH_USERNAME", "admin"),
		AuthPassword: getEnv("AUTH_PASSWORD", ""),
	}, nil
}

// Venues returns the Binance venues in registration order.
func (c *Config) Venues() []Venue {
	return []Venue{c.BinanceSpot, c.BinanceMargin, c.BinanceUSDTFutures, c.BinanceCoinFutures}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, def bool) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	default:
		return def
	}
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

// getEnvDuration accepts Go durations ("500ms") or bare seconds ("10").
func getEnvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	return def
}
