package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// RiskConfig holds the process-wide risk limits. It is read-only after load;
// hot-reload swaps the whole struct atomically through Store so no operation
// ever observes a partially-updated limit set.
type RiskConfig struct {
	// Budget and exposure limits (quote currency, e.g. USDT).
	MaxTotalBudget       decimal.Decimal
	MaxExposurePerTrader decimal.Decimal
	MaxTotalExposure     decimal.Decimal
	MaxDailyLoss         decimal.Decimal

	// Leverage limits. MaxTotalLeverage bounds the maximum leverage across all
	// traders' active positions (a max, not a sum).
	MaxLeveragePerTrader int
	MaxTotalLeverage     int

	// DefaultStopLossPercent is applied when a signal carries no stop-loss
	// (e.g. 0.05 for 5% below entry on a long).
	DefaultStopLossPercent decimal.Decimal

	// Risk score weighting. Must sum to 1; validated at load.
	BudgetWeight   decimal.Decimal
	LeverageWeight decimal.Decimal
	ExposureWeight decimal.Decimal
	PnLWeight      decimal.Decimal

	// Score thresholds: below WarnThreshold -> ALLOW, below BlockThreshold ->
	// WARN, otherwise BLOCK. A breached daily loss forces EMERGENCY_STOP.
	WarnThreshold  decimal.Decimal
	BlockThreshold decimal.Decimal
}

// Config holds all application configuration.
type Config struct {
	Risk RiskConfig

	// Exchange API
	APIKey    string
	SecretKey string
	IsTestnet bool

	// Monitoring cycle
	MonitorInterval time.Duration

	// Exchange call policy
	ExchangeTimeout    time.Duration
	OrderRetryAttempts int

	// Database
	DBPath string

	// Metrics endpoint (empty disables the listener)
	MetricsAddr string

	// Logging
	LogLevel string
}

// Load loads configuration from environment variables (.env file).
func Load() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{}
	var errs []string

	cfg.APIKey = getEnv("EXCHANGE_API_KEY", "")
	cfg.SecretKey = getEnv("EXCHANGE_API_SECRET", "")
	cfg.IsTestnet = getEnvAsBool("IS_TESTNET", true) // Default to testnet for safety

	cfg.Risk.MaxTotalBudget = getEnvAsDecimal("MAX_TOTAL_BUDGET", "10000", &errs)
	cfg.Risk.MaxExposurePerTrader = getEnvAsDecimal("MAX_EXPOSURE_PER_TRADER", "5000", &errs)
	cfg.Risk.MaxTotalExposure = getEnvAsDecimal("MAX_TOTAL_EXPOSURE", "10000", &errs)
	cfg.Risk.MaxDailyLoss = getEnvAsDecimal("MAX_DAILY_LOSS", "500", &errs)
	if cfg.Risk.MaxDailyLoss.IsNegative() {
		errs = append(errs, "MAX_DAILY_LOSS cannot be negative")
	}

	cfg.Risk.MaxLeveragePerTrader = getEnvAsInt("MAX_LEVERAGE_PER_TRADER", 5)
	if cfg.Risk.MaxLeveragePerTrader < 1 {
		errs = append(errs, "MAX_LEVERAGE_PER_TRADER must be at least 1")
	}
	cfg.Risk.MaxTotalLeverage = getEnvAsInt("MAX_TOTAL_LEVERAGE", 10)
	if cfg.Risk.MaxTotalLeverage < cfg.Risk.MaxLeveragePerTrader {
		errs = append(errs, "MAX_TOTAL_LEVERAGE must be >= MAX_LEVERAGE_PER_TRADER")
	}

	cfg.Risk.DefaultStopLossPercent = getEnvAsDecimal("DEFAULT_STOP_LOSS_PERCENT", "0.05", &errs)
	if cfg.Risk.DefaultStopLossPercent.IsNegative() || cfg.Risk.DefaultStopLossPercent.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		errs = append(errs, "DEFAULT_STOP_LOSS_PERCENT must be in [0.0, 1.0)")
	}

	cfg.Risk.BudgetWeight = getEnvAsDecimal("RISK_BUDGET_WEIGHT", "0.30", &errs)
	cfg.Risk.LeverageWeight = getEnvAsDecimal("RISK_LEVERAGE_WEIGHT", "0.20", &errs)
	cfg.Risk.ExposureWeight = getEnvAsDecimal("RISK_EXPOSURE_WEIGHT", "0.30", &errs)
	cfg.Risk.PnLWeight = getEnvAsDecimal("RISK_PNL_WEIGHT", "0.20", &errs)
	weightSum := cfg.Risk.BudgetWeight.Add(cfg.Risk.LeverageWeight).Add(cfg.Risk.ExposureWeight).Add(cfg.Risk.PnLWeight)
	if !weightSum.Equal(decimal.NewFromInt(1)) {
		errs = append(errs, fmt.Sprintf("risk score weights must sum to 1, got %s", weightSum))
	}

	cfg.Risk.WarnThreshold = getEnvAsDecimal("RISK_WARN_THRESHOLD", "0.50", &errs)
	cfg.Risk.BlockThreshold = getEnvAsDecimal("RISK_BLOCK_THRESHOLD", "0.80", &errs)
	if cfg.Risk.WarnThreshold.GreaterThanOrEqual(cfg.Risk.BlockThreshold) {
		errs = append(errs, "RISK_WARN_THRESHOLD must be less than RISK_BLOCK_THRESHOLD")
	}

	monitorIntervalSeconds := getEnvAsInt("MONITOR_INTERVAL_SECONDS", 5)
	if monitorIntervalSeconds <= 0 {
		errs = append(errs, "MONITOR_INTERVAL_SECONDS must be positive")
	}
	cfg.MonitorInterval = time.Duration(monitorIntervalSeconds) * time.Second

	exchangeTimeoutSeconds := getEnvAsInt("EXCHANGE_TIMEOUT_SECONDS", 10)
	if exchangeTimeoutSeconds <= 0 {
		errs = append(errs, "EXCHANGE_TIMEOUT_SECONDS must be positive")
	}
	cfg.ExchangeTimeout = time.Duration(exchangeTimeoutSeconds) * time.Second

	cfg.OrderRetryAttempts = getEnvAsInt("ORDER_RETRY_ATTEMPTS", 3)
	if cfg.OrderRetryAttempts < 1 {
		errs = append(errs, "ORDER_RETRY_ATTEMPTS must be at least 1")
	}

	cfg.DBPath = getEnv("DB_PATH", "./data/autotrader.db")
	if cfg.DBPath == "" {
		errs = append(errs, "DB_PATH must be set")
	}

	cfg.MetricsAddr = getEnv("METRICS_ADDR", "")
	cfg.LogLevel = getEnv("LOG_LEVEL", "INFO")

	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return cfg, nil
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

func getEnvAsDecimal(key, defaultValue string, errs *[]string) decimal.Decimal {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		valueStr = defaultValue
	}
	value, err := decimal.NewFromString(valueStr)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("invalid decimal value '%s' for key %s", valueStr, key))
		return decimal.Zero
	}
	return value
}
