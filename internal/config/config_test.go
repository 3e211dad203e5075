package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("BOT_TOKEN", "test-token")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"}, cfg.Symbols)
	assert.Equal(t, time.Minute, cfg.Interval)
	assert.Equal(t, 15*time.Minute, cfg.RegimeInterval)
	assert.Equal(t, time.Hour, cfg.Window)
	assert.Equal(t, 4, cfg.EarlyAlertLevel)
	assert.Equal(t, 6, cfg.HardAlertLevel)
	assert.Equal(t, 15*time.Minute, cfg.OIFreshTTL)
	assert.Equal(t, 5*time.Minute, cfg.FeedFreshTTL)
	assert.Equal(t, 0.02, cfg.FundingExtremeThreshold)
	assert.Equal(t, 3, cfg.StressConfirmTicks)
	assert.Equal(t, 6*time.Hour, cfg.AlertWindow)
	assert.True(t, cfg.DefaultLiqThreshold.Equal(decimal.NewFromInt(50_000_000)))
	assert.Equal(t, ":8080", cfg.HealthAddr)
}

func TestLoadRequiresToken(t *testing.T) {
	t.Setenv("BOT_TOKEN", "")
	_, err := Load()
	assert.Error(t, err)
}

func TestSymbolListParsing(t *testing.T) {
	t.Setenv("BOT_TOKEN", "test-token")
	t.Setenv("SYMBOLS", " btcusdt, ETHUSDT ,,solusdt ")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"}, cfg.Symbols)
}

func TestLiqThresholdOverrides(t *testing.T) {
	t.Setenv("BOT_TOKEN", "test-token")
	t.Setenv("SYMBOLS", "BTCUSDT,ETHUSDT")
	t.Setenv("LIQ_THRESHOLDS", "btcusdt:80000000,bogus")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.LiqThreshold("BTCUSDT").Equal(decimal.NewFromInt(80_000_000)))
	assert.True(t, cfg.LiqThreshold("ETHUSDT").Equal(decimal.NewFromInt(50_000_000)))
	// Unknown symbols fall back to the default.
	assert.True(t, cfg.LiqThreshold("XRPUSDT").Equal(decimal.NewFromInt(50_000_000)))
}

func TestDurationUnits(t *testing.T) {
	t.Setenv("BOT_TOKEN", "test-token")
	t.Setenv("INTERVAL_SECONDS", "30")
	t.Setenv("ACTIVITY_WINDOW_HOURS", "2")
	t.Setenv("OI_INTERVAL_SECONDS", "1m30s")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, cfg.Interval)
	assert.Equal(t, 2*time.Hour, cfg.ActivityWindow)
	assert.Equal(t, 90*time.Second, cfg.OIInterval)
}

func TestChatIDParsing(t *testing.T) {
	t.Setenv("BOT_TOKEN", "test-token")
	t.Setenv("TELEGRAM_CHAT_ID", "-100123456")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, int64(-100123456), cfg.TelegramChatID)

	t.Setenv("TELEGRAM_CHAT_ID", "not-a-number")
	_, err = Load()
	assert.Error(t, err)
}
