package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config holds all configuration for the monitor
type Config struct {
	// Telegram
	TelegramToken  string
	TelegramChatID int64 // optional pre-registered chat

	// Mode
	Debug bool

	// Symbols under watch, in evaluation order
	Symbols []string

	// Evaluation cadence
	Interval       time.Duration // risk evaluation tick
	RegimeInterval time.Duration // market-wide regime tick

	// Windowing
	Window       time.Duration // trade/liq/OI rolling window
	OIInterval   time.Duration // OI poll cadence
	OIFreshTTL   time.Duration // OI window cleared if last append older than this
	FeedFreshTTL time.Duration // quality treats a symbol as live inside this age

	// Alert levels
	EarlyAlertLevel int
	HardAlertLevel  int

	// Scoring thresholds
	FundingExtremeThreshold float64
	FundingSpikeThreshold   float64
	OISpikeThreshold        float64

	// Per-symbol liquidation notional thresholds (USD)
	LiqThresholds       map[string]decimal.Decimal
	DefaultLiqThreshold decimal.Decimal

	// Regime hysteresis
	StressConfirmTicks int
	StressExitTicks    int
	CrowdConfirmTicks  int

	// Activity regime
	ActivityWindow        time.Duration
	AlertWindow           time.Duration
	ActivityFragileAlerts int // alerts in window that end CALM
	ActivityStressAlerts  int // alerts in window that mean STRESS

	// Alert pipeline
	OutboxCapacity int
	SendDelay      time.Duration
	SendRetryLimit int
	SendBackoffCap time.Duration
	ShutdownFlush  time.Duration

	// Watchdogs
	FeedStaleTTL      time.Duration
	FeedWatchInterval time.Duration
	LoopStaleTTL      time.Duration
	LoopWatchInterval time.Duration

	// External endpoints
	FuturesWSURL  string
	FuturesAPIURL string
	HTTPTimeout   time.Duration

	// Health endpoint
	HealthAddr string

	// Event journal: empty disables, postgres:// for Postgres, else SQLite path
	JournalDSN string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		TelegramToken: os.Getenv("BOT_TOKEN"),
		Debug:         getEnvBool("DEBUG", false),

		Symbols: splitList(getEnv("SYMBOLS", "BTCUSDT,ETHUSDT,SOLUSDT")),

		Interval:       getEnvDuration("INTERVAL_SECONDS", 60*time.Second),
		RegimeInterval: getEnvDuration("REGIME_INTERVAL_SECONDS", 900*time.Second),

		Window:       getEnvDuration("WINDOW_SECONDS", 3600*time.Second),
		OIInterval:   getEnvDuration("OI_INTERVAL_SECONDS", 60*time.Second),
		OIFreshTTL:   getEnvDuration("OI_FRESH_TTL_SECONDS", 900*time.Second),
		FeedFreshTTL: getEnvDuration("FEED_FRESH_TTL_SECONDS", 300*time.Second),

		EarlyAlertLevel: getEnvInt("EARLY_ALERT_LEVEL", 4),
		HardAlertLevel:  getEnvInt("HARD_ALERT_LEVEL", 6),

		FundingExtremeThreshold: getEnvFloat("FUNDING_EXTREME_THRESHOLD", 0.02),
		FundingSpikeThreshold:   getEnvFloat("FUNDING_SPIKE_THRESHOLD", 0.003),
		OISpikeThreshold:        getEnvFloat("OI_SPIKE_THRESHOLD", 0.03),

		DefaultLiqThreshold: getEnvDecimal("LIQ_THRESHOLD_DEFAULT", decimal.NewFromInt(50_000_000)),

		StressConfirmTicks: getEnvInt("STRESS_CONFIRM_TICKS", 3),
		StressExitTicks:    getEnvInt("STRESS_EXIT_TICKS", 2),
		CrowdConfirmTicks:  getEnvInt("CROWD_CONFIRM_TICKS", 2),

		ActivityWindow:        getEnvDuration("ACTIVITY_WINDOW_HOURS", 6*time.Hour),
		AlertWindow:           getEnvDuration("ALERT_WINDOW_HOURS", 6*time.Hour),
		ActivityFragileAlerts: getEnvInt("ACTIVITY_FRAGILE_ALERTS", 5),
		ActivityStressAlerts:  getEnvInt("ACTIVITY_STRESS_ALERTS", 20),

		OutboxCapacity: getEnvInt("OUTBOX_CAPACITY", 2000),
		SendDelay:      getEnvDuration("SEND_DELAY_SECONDS", 200*time.Millisecond),
		SendRetryLimit: getEnvInt("SEND_RETRY_LIMIT", 5),
		SendBackoffCap: getEnvDuration("SEND_BACKOFF_CAP_SECONDS", 30*time.Second),
		ShutdownFlush:  getEnvDuration("SHUTDOWN_FLUSH_SECONDS", 5*time.Second),

		FeedStaleTTL:      getEnvDuration("FEED_STALE_SECONDS", 180*time.Second),
		FeedWatchInterval: getEnvDuration("FEED_WATCH_SECONDS", 60*time.Second),
		LoopStaleTTL:      getEnvDuration("LOOP_STALE_SECONDS", 330*time.Second),
		LoopWatchInterval: getEnvDuration("LOOP_WATCH_SECONDS", 120*time.Second),

		FuturesWSURL:  getEnv("FUTURES_WS_URL", "wss://fstream.binance.com/stream"),
		FuturesAPIURL: getEnv("FUTURES_API_URL", "https://fapi.binance.com"),
		HTTPTimeout:   getEnvDuration("HTTP_TIMEOUT_SECONDS", 10*time.Second),

		HealthAddr: getEnv("HEALTH_ADDR", ":8080"),
		JournalDSN: os.Getenv("JOURNAL_DSN"),
	}

	cfg.LiqThresholds = parseLiqThresholds(os.Getenv("LIQ_THRESHOLDS"), cfg.Symbols, cfg.DefaultLiqThreshold)

	if chatID := os.Getenv("TELEGRAM_CHAT_ID"); chatID != "" {
		id, err := strconv.ParseInt(chatID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid TELEGRAM_CHAT_ID: %w", err)
		}
		cfg.TelegramChatID = id
	}

	if cfg.TelegramToken == "" {
		return nil, fmt.Errorf("BOT_TOKEN is required")
	}
	if len(cfg.Symbols) == 0 {
		return nil, fmt.Errorf("SYMBOLS must name at least one symbol")
	}

	return cfg, nil
}

// LiqThreshold returns the liquidation notional threshold for a symbol.
func (c *Config) LiqThreshold(symbol string) decimal.Decimal {
	if t, ok := c.LiqThresholds[symbol]; ok {
		return t
	}
	return c.DefaultLiqThreshold
}

// parseLiqThresholds parses "BTCUSDT:80000000,ETHUSDT:50000000" into a map,
// filling unlisted symbols with the default.
func parseLiqThresholds(raw string, symbols []string, def decimal.Decimal) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(symbols))
	for _, s := range symbols {
		out[s] = def
	}
	if raw == "" {
		return out
	}
	for _, pair := range strings.Split(raw, ",") {
		parts := strings.SplitN(strings.TrimSpace(pair), ":", 2)
		if len(parts) != 2 {
			continue
		}
		v, err := decimal.NewFromString(parts[1])
		if err != nil {
			continue
		}
		out[strings.ToUpper(parts[0])] = v
	}
	return out
}

func splitList(raw string) []string {
	var out []string
	for _, s := range strings.Split(raw, ",") {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration reads a duration given either as a bare number of the unit
// named in the key suffix (SECONDS or HOURS) or as a Go duration string.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if n, err := strconv.ParseFloat(value, 64); err == nil {
		unit := time.Second
		if strings.HasSuffix(key, "_HOURS") {
			unit = time.Hour
		}
		return time.Duration(n * float64(unit))
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	return defaultValue
}

func getEnvDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if d, err := decimal.NewFromString(value); err == nil {
			return d
		}
	}
	return defaultValue
}
