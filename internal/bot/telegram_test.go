package bot

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/perpwatch/perpwatch/internal/engine"
	"github.com/perpwatch/perpwatch/internal/risk"
)

func TestNormalizeSymbol(t *testing.T) {
	assert.Equal(t, "BTCUSDT", normalizeSymbol("BTC"))
	assert.Equal(t, "BTCUSDT", normalizeSymbol("BTCUSDT"))
	assert.Equal(t, "HYPEUSDT", normalizeSymbol("HYPE"))
}

func TestDisplaySymbol(t *testing.T) {
	assert.Equal(t, "BTC", displaySymbol("BTCUSDT"))
	assert.Equal(t, "MARKET", displaySymbol("MARKET"))
	assert.Equal(t, "USDT", displaySymbol("USDT"))
}

func TestQualitativeFunding(t *testing.T) {
	assert.Equal(t, "longs pay shorts", qualitativeFunding(0.001))
	assert.Equal(t, "shorts pay longs", qualitativeFunding(-0.001))
	assert.Equal(t, "near neutral", qualitativeFunding(0.0001))
}

func testView() engine.SymbolView {
	return engine.SymbolView{
		Symbol:      "BTCUSDT",
		Score:       5,
		Direction:   risk.DirectionLong,
		Driver:      risk.DriverCrowd,
		Reasons:     []string{"long crowding", "OI rising"},
		Confidence:  3,
		ConfLevel:   "MEDIUM",
		Quality:     risk.QualityGood,
		Trend:       "rising",
		Funding:     0.0008,
		HasFunding:  true,
		Pressure:    0.72,
		OIChange:    0.018,
		HasOIChange: true,
		LiqSum:      decimal.NewFromInt(12_300_000),
		Price:       decimal.RequireFromString("64321.5"),
		HasPrice:    true,
		At:          time.Now(),
	}
}

func TestRenderDetail(t *testing.T) {
	out := renderDetail(testView(), "")

	assert.Contains(t, out, "📊 BTC")
	assert.Contains(t, out, "Risk: 5 (rising)")
	assert.Contains(t, out, "Direction: LONG")
	assert.Contains(t, out, "Pressure: 72% long")
	assert.Contains(t, out, "OI change: +1.8%")
	assert.Contains(t, out, "Liquidations: 12.3M")
	assert.Contains(t, out, "Funding: longs pay shorts")
	assert.Contains(t, out, "Price: 64321.5")

	// Plain mode hides the diagnostics.
	assert.NotContains(t, out, "Data quality")
	assert.NotContains(t, out, "Funding raw")
}

func TestRenderDetailFull(t *testing.T) {
	out := renderDetail(testView(), "full")

	assert.Contains(t, out, "Data quality: GOOD")
	assert.Contains(t, out, "long crowding")
	assert.Contains(t, out, "OI rising")
}

func TestRenderDetailDebug(t *testing.T) {
	out := renderDetail(testView(), "debug")

	assert.Contains(t, out, "Funding raw: +0.000800")
	assert.Contains(t, out, "Confidence raw: 3/5")
	assert.Contains(t, out, "Evaluated:")
}
