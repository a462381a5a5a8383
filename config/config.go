package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"trendbot/internal/adapters/logger" // Import the logger package for LogLevel
)

const defaultStrategyConfig = "config.yaml"

// Equity sources for position sizing.
const (
	EquityLedger = "ledger" // initial equity plus realized PnL from the ledger
	EquityVenue  = "venue"  // live spot balances, or the paper venue's marked holdings
	EquityStatic = "static" // INITIAL_EQUITY, never updated
)

// Config holds all application configuration.
type Config struct {
	// Binance API
	APIKey    string
	SecretKey string
	IsTestnet bool

	// Market
	Symbol    string
	Timeframe string

	// Venue
	PaperTrading      bool
	FeeRate           float64 // paper venue fee, e.g. 0.001
	InitialEquity     float64
	EquitySource      string
	RequestTimeout    time.Duration
	RequestsPerSecond float64
	ReconcileInterval time.Duration

	// Webhook; disabled when WebhookAddr is empty
	WebhookAddr      string
	WebhookSecret    string
	WebhookRateLimit float64

	// Database
	DBPath string

	// Logging
	LogLevel logger.LogLevel // Use the LogLevel type from the logger adapter

	// Connection Settings
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int

	StrategyConfigPath string
	Strategy           Strategy
}

// Strategy is the YAML strategy and risk file.
type Strategy struct {
	Pair       string     `yaml:"pair"`
	Timeframe  string     `yaml:"timeframe"`
	Name       string     `yaml:"name"`
	Version    string     `yaml:"version"`
	Indicators Indicators `yaml:"indicators"`
	Entry      Entry      `yaml:"entry_long"`
	Exit       Exit       `yaml:"exit_long"`
	Risk       Risk       `yaml:"risk"`
}

type Indicators struct {
	FastPeriod       int `yaml:"fast_period"`
	SlowPeriod       int `yaml:"slow_period"`
	OscillatorPeriod int `yaml:"oscillator_period"`
	VolatilityPeriod int `yaml:"volatility_period"`
}

type Entry struct {
	EntryThreshold float64 `yaml:"entry_threshold"`
	CooldownBars   int     `yaml:"cooldown_bars"`
}

type Exit struct {
	ExitThreshold   float64 `yaml:"exit_threshold"`
	TrailATRMult    float64 `yaml:"trail_atr_mult"`
	TargetRMultiple float64 `yaml:"target_r_multiple"`
}

type Risk struct {
	PerTradeRiskPct float64 `yaml:"per_trade_risk_pct"`
	MaxDailyLossPct float64 `yaml:"max_daily_loss_pct"`
	StopATRMult     float64 `yaml:"stop_atr_mult"`
	TargetFraction  float64 `yaml:"target_fraction"`
}

// DefaultStrategy is used for keys the YAML file leaves out.
func DefaultStrategy() Strategy {
	return Strategy{
		Name:    "trend_ema_rsi",
		Version: "v1",
		Indicators: Indicators{
			FastPeriod:       20,
			SlowPeriod:       50,
			OscillatorPeriod: 14,
			VolatilityPeriod: 14,
		},
		Entry: Entry{EntryThreshold: 65, CooldownBars: 3},
		Exit:  Exit{ExitThreshold: 75, TrailATRMult: 3},
		Risk:  Risk{PerTradeRiskPct: 1, MaxDailyLossPct: 5, StopATRMult: 2},
	}
}

// LoadStrategy reads a strategy file over the defaults. A missing file yields the
// defaults only when allowMissing is set.
func LoadStrategy(path string, allowMissing bool) (Strategy, error) {
	s := DefaultStrategy()
	data, err := os.ReadFile(path)
	if err != nil {
		if allowMissing && errors.Is(err, fs.ErrNotExist) {
			return s, nil
		}
		return s, fmt.Errorf("read strategy config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("parse strategy config %s: %w", path, err)
	}
	return s, nil
}

// Validate reports every invalid strategy parameter.
func (s Strategy) Validate() []string {
	var errs []string
	ind := s.Indicators
	if ind.FastPeriod <= 0 || ind.SlowPeriod <= 0 || ind.OscillatorPeriod <= 0 || ind.VolatilityPeriod <= 0 {
		errs = append(errs, "indicator periods must be positive")
	}
	if ind.FastPeriod >= ind.SlowPeriod {
		errs = append(errs, "fast_period must be less than slow_period")
	}
	if s.Entry.EntryThreshold <= 0 || s.Entry.EntryThreshold > 100 || s.Exit.ExitThreshold <= 0 || s.Exit.ExitThreshold > 100 {
		errs = append(errs, "entry_threshold and exit_threshold must be in (0, 100]")
	}
	if s.Entry.CooldownBars < 0 {
		errs = append(errs, "cooldown_bars cannot be negative")
	}
	if s.Exit.TrailATRMult < 0 || s.Exit.TargetRMultiple < 0 {
		errs = append(errs, "trail_atr_mult and target_r_multiple cannot be negative")
	}
	if s.Risk.PerTradeRiskPct <= 0 || s.Risk.PerTradeRiskPct > 100 {
		errs = append(errs, "per_trade_risk_pct must be in (0, 100]")
	}
	if s.Risk.MaxDailyLossPct <= 0 {
		errs = append(errs, "max_daily_loss_pct must be positive")
	}
	if s.Risk.StopATRMult <= 0 {
		errs = append(errs, "stop_atr_mult must be positive")
	}
	if s.Risk.TargetFraction < 0 || s.Risk.TargetFraction > 1 {
		errs = append(errs, "target_fraction must be in [0, 1]")
	}
	return errs
}

// LoadConfig loads configuration from environment variables (.env file) and the
// strategy file named by STRATEGY_CONFIG.
func LoadConfig() (*Config, error) {
	return load(true)
}

// LoadOfflineConfig is LoadConfig without the API key requirement, for commands
// that only read public market data or the local ledger.
func LoadOfflineConfig() (*Config, error) {
	return load(false)
}

func load(requireKeys bool) (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{}
	var err error
	var errs []string // Collect validation errors

	// Strategy file first: its pair and timeframe are defaults for the env values
	cfg.StrategyConfigPath = getEnv("STRATEGY_CONFIG", defaultStrategyConfig)
	cfg.Strategy, err = LoadStrategy(cfg.StrategyConfigPath, os.Getenv("STRATEGY_CONFIG") == "")
	if err != nil {
		errs = append(errs, err.Error())
	}
	errs = append(errs, cfg.Strategy.Validate()...)

	// Binance API
	cfg.APIKey = getEnv("BINANCE_API_KEY", "")
	cfg.SecretKey = getEnv("BINANCE_API_SECRET", "")
	cfg.IsTestnet = getEnvAsBool("IS_TESTNET", true) // Default to testnet for safety
	cfg.PaperTrading = getEnvAsBool("PAPER_TRADING", false)

	// keys are needed only when orders reach the venue
	if requireKeys && !cfg.PaperTrading {
		if cfg.APIKey == "" {
			errs = append(errs, "BINANCE_API_KEY must be set")
		}
		if cfg.SecretKey == "" {
			errs = append(errs, "BINANCE_API_SECRET must be set")
		}
	}

	// Market
	cfg.Symbol = strings.ToUpper(getEnv("SYMBOL", or(cfg.Strategy.Pair, "BTCUSDT")))
	if cfg.Symbol == "" {
		errs = append(errs, "SYMBOL must be set")
	}
	cfg.Timeframe = getEnv("TIMEFRAME", or(cfg.Strategy.Timeframe, "1h"))

	// Venue
	cfg.FeeRate, err = getEnvAsFloatRequired("FEE_RATE", 0.001)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid FEE_RATE: %v", err))
	} else if cfg.FeeRate < 0 || cfg.FeeRate >= 1 {
		errs = append(errs, "FEE_RATE must be in [0, 1)")
	}

	cfg.InitialEquity, err = getEnvAsFloatRequired("INITIAL_EQUITY", 10000)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid INITIAL_EQUITY: %v", err))
	} else if cfg.InitialEquity <= 0 {
		errs = append(errs, "INITIAL_EQUITY must be positive")
	}

	cfg.EquitySource = strings.ToLower(getEnv("EQUITY_SOURCE", EquityLedger))
	switch cfg.EquitySource {
	case EquityLedger, EquityStatic, EquityVenue:
	default:
		errs = append(errs, fmt.Sprintf("EQUITY_SOURCE must be one of %s, %s, %s", EquityLedger, EquityVenue, EquityStatic))
	}

	requestTimeoutSeconds, err := getEnvAsIntRequired("REQUEST_TIMEOUT_SECONDS", 10)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid REQUEST_TIMEOUT_SECONDS: %v", err))
	} else if requestTimeoutSeconds <= 0 {
		errs = append(errs, "REQUEST_TIMEOUT_SECONDS must be positive")
	}
	cfg.RequestTimeout = time.Duration(requestTimeoutSeconds) * time.Second

	cfg.RequestsPerSecond = getEnvAsFloat("REQUESTS_PER_SECOND", 10)
	if cfg.RequestsPerSecond <= 0 {
		errs = append(errs, "REQUESTS_PER_SECOND must be positive")
	}

	reconcileSeconds := getEnvAsInt("RECONCILE_INTERVAL_SECONDS", 60)
	if reconcileSeconds < 0 {
		errs = append(errs, "RECONCILE_INTERVAL_SECONDS cannot be negative")
	}
	cfg.ReconcileInterval = time.Duration(reconcileSeconds) * time.Second

	// Webhook
	cfg.WebhookAddr = getEnv("WEBHOOK_ADDR", "")
	cfg.WebhookSecret = getEnv("WEBHOOK_SECRET", "")
	if cfg.WebhookAddr != "" && cfg.WebhookSecret == "" {
		errs = append(errs, "WEBHOOK_SECRET must be set when WEBHOOK_ADDR is set")
	}
	cfg.WebhookRateLimit = getEnvAsFloat("WEBHOOK_RATE_LIMIT", 20)

	// Database
	cfg.DBPath = getEnv("DB_PATH", "./data/trendbot.db")
	if cfg.DBPath == "" {
		errs = append(errs, "DB_PATH must be set")
	}

	// Logging
	logLevelStr := getEnv("LOG_LEVEL", "INFO")
	cfg.LogLevel = logger.ParseLevel(logLevelStr) // Use the parser from the logger package

	// Connection Settings
	reconnectDelaySeconds := getEnvAsInt("RECONNECT_DELAY_SECONDS", 5)
	if reconnectDelaySeconds <= 0 {
		errs = append(errs, "RECONNECT_DELAY_SECONDS must be positive")
	}
	cfg.ReconnectDelay = time.Duration(reconnectDelaySeconds) * time.Second

	cfg.MaxReconnectAttempts = getEnvAsInt("MAX_RECONNECT_ATTEMPTS", 10)
	if cfg.MaxReconnectAttempts < 0 {
		errs = append(errs, "MAX_RECONNECT_ATTEMPTS cannot be negative")
	}

	// Combine validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return cfg, nil
}

func or(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsIntRequired(key string, defaultValue int) (int, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		// Use default if env var is not set at all
		return defaultValue, nil
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		// Return error if env var is set but invalid
		return 0, fmt.Errorf("invalid integer value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloatRequired(key string, defaultValue float64) (float64, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid float value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
