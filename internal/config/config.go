package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"triarb/internal/risk"
)

type Config struct {
	Logging struct {
		Level      string `yaml:"level"`
		Pretty     bool   `yaml:"pretty"`
		File       string `yaml:"file"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAgeDays int    `yaml:"max_age_days"`
	} `yaml:"logging"`
	Server struct {
		Enabled             bool     `yaml:"enabled"`
		Addr                string   `yaml:"addr"`
		Pprof               bool     `yaml:"pprof"`
		ReadTimeoutSeconds  int      `yaml:"read_timeout_seconds"`
		WriteTimeoutSeconds int      `yaml:"write_timeout_seconds"`
		IdleTimeoutSeconds  int      `yaml:"idle_timeout_seconds"`
		AdminAllowCIDRs     []string `yaml:"admin_allow_cidrs"`
	} `yaml:"server"`
	Trading struct {
		Live                         bool     `yaml:"live"`
		Verbose                      bool     `yaml:"verbose"`
		CommissionRate               float64  `yaml:"commission_rate"`
		MinProfitPct                 float64  `yaml:"min_profit_pct"`
		MaxProfitPct                 float64  `yaml:"max_profit_pct"`
		Anchors                      []string `yaml:"anchors"`
		TargetNotional               float64  `yaml:"target_notional"`
		HoldTimeSeconds              float64  `yaml:"hold_time_seconds"`
		ScanIntervalSeconds          float64  `yaml:"scan_interval_seconds"`
		BalanceReportIntervalSeconds float64  `yaml:"balance_report_interval_seconds"`
		LegPauseMs                   int      `yaml:"leg_pause_ms"`
		MaxConcurrency               int      `yaml:"max_concurrency"`
		DedupeRoutes                 bool     `yaml:"dedupe_routes"`
		RequestTimeoutSeconds        float64  `yaml:"request_timeout_seconds"`
		// MaxRetries and RetryDelaySeconds are accepted for compatibility
		// with existing config files; no call site retries.
		MaxRetries        int     `yaml:"max_retries"`
		RetryDelaySeconds float64 `yaml:"retry_delay_seconds"`
	} `yaml:"trading"`
	Exchange struct {
		Venue     string `yaml:"venue"`
		RateLimit struct {
			Burst     int     `yaml:"burst"`
			PerSecond float64 `yaml:"per_second"`
		} `yaml:"rate_limit"`
		Bybit struct {
			BaseURL      string `yaml:"base_url"`
			APIKey       string `yaml:"api_key"`
			Secret       string `yaml:"secret"`
			RecvWindowMs int    `yaml:"recv_window_ms"`
			BookDepth    int    `yaml:"book_depth"`
			AccountType  string `yaml:"account_type"`
		} `yaml:"bybit"`
		Binance struct {
			BaseURL      string `yaml:"base_url"`
			APIKey       string `yaml:"api_key"`
			Secret       string `yaml:"secret"`
			RecvWindowMs int    `yaml:"recv_window_ms"`
			BookDepth    int    `yaml:"book_depth"`
		} `yaml:"binance"`
	} `yaml:"exchange"`
	Telegram struct {
		Token   string `yaml:"token"`
		ChatID  string `yaml:"chat_id"`
		BaseURL string `yaml:"base_url"`
	} `yaml:"telegram"`
	Ledger struct {
		Driver string `yaml:"driver"`
		Path   string `yaml:"path"`
	} `yaml:"ledger"`
}

func defaultConfig() Config {
	var c Config
	c.Logging.Level = "info"
	c.Logging.Pretty = true
	c.Logging.MaxSizeMB = 100
	c.Logging.MaxBackups = 5
	c.Logging.MaxAgeDays = 14
	c.Server.Enabled = true
	c.Server.Addr = ":9090"
	c.Server.ReadTimeoutSeconds = 5
	c.Server.WriteTimeoutSeconds = 10
	c.Server.IdleTimeoutSeconds = 60
	c.Server.AdminAllowCIDRs = []string{"127.0.0.0/8", "::1/128"}
	c.Trading.Live = false
	c.Trading.Verbose = true
	c.Trading.CommissionRate = 0.001
	c.Trading.MinProfitPct = 0.01
	c.Trading.MaxProfitPct = 5.0
	c.Trading.Anchors = []string{"USDT", "BTC", "ETH"}
	c.Trading.TargetNotional = 10
	c.Trading.HoldTimeSeconds = 5
	c.Trading.ScanIntervalSeconds = 10
	c.Trading.BalanceReportIntervalSeconds = 3600
	c.Trading.LegPauseMs = 500
	c.Trading.RequestTimeoutSeconds = 4
	c.Trading.MaxRetries = 2
	c.Trading.RetryDelaySeconds = 1
	c.Exchange.Venue = "bybit"
	c.Exchange.RateLimit.Burst = 20
	c.Exchange.RateLimit.PerSecond = 10
	c.Exchange.Bybit.BaseURL = "https://api-testnet.bybit.com"
	c.Exchange.Bybit.RecvWindowMs = 5000
	c.Exchange.Bybit.BookDepth = 50
	c.Exchange.Bybit.AccountType = "UNIFIED"
	c.Exchange.Binance.BaseURL = "https://testnet.binance.vision"
	c.Exchange.Binance.RecvWindowMs = 5000
	c.Exchange.Binance.BookDepth = 50
	c.Ledger.Driver = "csv"
	c.Ledger.Path = "testnet_trades.csv"
	return c
}

// Load builds the configuration from defaults, the YAML file named by
// TRIARB_CONFIG, a .env file in the working directory and the environment,
// in that order of precedence (last wins).
func Load() Config {
	c := defaultConfig()
	_ = godotenv.Load()
	if path := os.Getenv("TRIARB_CONFIG"); path != "" {
		if b, err := os.ReadFile(path); err == nil {
			_ = yaml.Unmarshal(b, &c)
		}
	}
	setStr(&c.Logging.Level, "TRIARB_LOG_LEVEL")
	setStr(&c.Logging.File, "TRIARB_LOG_FILE")
	setBool(&c.Logging.Pretty, "TRIARB_LOG_PRETTY")
	setBool(&c.Server.Enabled, "TRIARB_HTTP_ENABLED")
	setStr(&c.Server.Addr, "TRIARB_HTTP_ADDR")
	setBool(&c.Server.Pprof, "TRIARB_PPROF")
	if v := os.Getenv("TRIARB_ADMIN_ALLOW_CIDRS"); v != "" {
		c.Server.AdminAllowCIDRs = splitCSV(v)
	}
	setBool(&c.Trading.Live, "TRIARB_TRADING_LIVE")
	setBool(&c.Trading.Verbose, "TRIARB_VERBOSE")
	setFloat(&c.Trading.CommissionRate, "TRIARB_COMMISSION_RATE")
	setFloat(&c.Trading.MinProfitPct, "TRIARB_MIN_PROFIT_PCT")
	setFloat(&c.Trading.MaxProfitPct, "TRIARB_MAX_PROFIT_PCT")
	if v := os.Getenv("TRIARB_ANCHORS"); v != "" {
		c.Trading.Anchors = splitCSV(v)
	}
	setFloat(&c.Trading.TargetNotional, "TRIARB_TARGET_NOTIONAL")
	setFloat(&c.Trading.HoldTimeSeconds, "TRIARB_HOLD_TIME_SECONDS")
	setFloat(&c.Trading.ScanIntervalSeconds, "TRIARB_SCAN_INTERVAL_SECONDS")
	setFloat(&c.Trading.BalanceReportIntervalSeconds, "TRIARB_BALANCE_REPORT_INTERVAL_SECONDS")
	setInt(&c.Trading.LegPauseMs, "TRIARB_LEG_PAUSE_MS")
	setInt(&c.Trading.MaxConcurrency, "TRIARB_MAX_CONCURRENCY")
	setBool(&c.Trading.DedupeRoutes, "TRIARB_DEDUPE_ROUTES")
	setStr(&c.Exchange.Venue, "TRIARB_VENUE")
	setStr(&c.Ledger.Driver, "TRIARB_LEDGER_DRIVER")
	setStr(&c.Ledger.Path, "TRIARB_LEDGER_PATH")
	// secrets only from env
	setStr(&c.Exchange.Bybit.APIKey, "BYBIT_TESTNET_API_KEY")
	setStr(&c.Exchange.Bybit.Secret, "BYBIT_TESTNET_API_SECRET")
	setStr(&c.Exchange.Bybit.APIKey, "TRIARB_BYBIT_API_KEY")
	setStr(&c.Exchange.Bybit.Secret, "TRIARB_BYBIT_SECRET")
	setStr(&c.Exchange.Bybit.BaseURL, "TRIARB_BYBIT_BASE_URL")
	setStr(&c.Exchange.Binance.APIKey, "TRIARB_BINANCE_API_KEY")
	setStr(&c.Exchange.Binance.Secret, "TRIARB_BINANCE_SECRET")
	setStr(&c.Exchange.Binance.BaseURL, "TRIARB_BINANCE_BASE_URL")
	setStr(&c.Telegram.Token, "TELEGRAM_TOKEN")
	setStr(&c.Telegram.ChatID, "TELEGRAM_CHAT_ID")
	return c
}

// Validate reports configuration that would make the scanner meaningless.
func (c Config) Validate() error {
	var errs []error
	if c.Trading.CommissionRate < 0 || c.Trading.CommissionRate >= 1 {
		errs = append(errs, fmt.Errorf("commission_rate %v out of [0,1)", c.Trading.CommissionRate))
	}
	bounds := risk.ProfitBounds{MinPct: c.Trading.MinProfitPct, MaxPct: c.Trading.MaxProfitPct}
	if err := bounds.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("profit bounds: %w", err))
	}
	if len(c.Trading.Anchors) == 0 {
		errs = append(errs, errors.New("no anchor assets configured"))
	}
	if c.Trading.TargetNotional <= 0 {
		errs = append(errs, fmt.Errorf("target_notional %v must be positive", c.Trading.TargetNotional))
	}
	if c.Trading.HoldTimeSeconds < 0 {
		errs = append(errs, fmt.Errorf("hold_time_seconds %v must not be negative", c.Trading.HoldTimeSeconds))
	}
	if c.Trading.ScanIntervalSeconds <= 0 {
		errs = append(errs, fmt.Errorf("scan_interval_seconds %v must be positive", c.Trading.ScanIntervalSeconds))
	}
	if c.Trading.RequestTimeoutSeconds <= 0 {
		errs = append(errs, fmt.Errorf("request_timeout_seconds %v must be positive", c.Trading.RequestTimeoutSeconds))
	}
	switch c.Exchange.Venue {
	case "bybit", "binance":
	default:
		errs = append(errs, fmt.Errorf("unknown venue %q", c.Exchange.Venue))
	}
	return errors.Join(errs...)
}

func (c Config) HoldTime() time.Duration { return seconds(c.Trading.HoldTimeSeconds) }

func (c Config) ScanInterval() time.Duration { return seconds(c.Trading.ScanIntervalSeconds) }

func (c Config) BalanceReportInterval() time.Duration {
	return seconds(c.Trading.BalanceReportIntervalSeconds)
}

func (c Config) LegPause() time.Duration {
	return time.Duration(c.Trading.LegPauseMs) * time.Millisecond
}

// RequestTimeout bounds a single venue call. Non-positive values fall back
// to the default.
func (c Config) RequestTimeout() time.Duration {
	if c.Trading.RequestTimeoutSeconds <= 0 {
		return defaultRequestTimeout
	}
	return seconds(c.Trading.RequestTimeoutSeconds)
}

const defaultRequestTimeout = 4 * time.Second

func seconds(s float64) time.Duration { return time.Duration(s * float64(time.Second)) }

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v == "1" || strings.EqualFold(v, "true")
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
