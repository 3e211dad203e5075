package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/perpwatch/perpwatch/internal/divergence"
	"github.com/perpwatch/perpwatch/internal/market"
	"github.com/perpwatch/perpwatch/internal/regime"
	"github.com/perpwatch/perpwatch/internal/risk"
)

// displaySymbol shortens venue tickers for chat output.
func displaySymbol(symbol string) string {
	if s := strings.TrimSuffix(symbol, "USDT"); s != "" {
		return s
	}
	return symbol
}

func renderHard(symbol string, snap market.Snapshot, res risk.Result, confLevel string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🚨 HARD RISK ALERT: %s\n\n", displaySymbol(symbol))
	fmt.Fprintf(&b, "Risk: %d\n", res.Score)
	fmt.Fprintf(&b, "Direction: %s\n", res.Direction)
	fmt.Fprintf(&b, "Driver: %s\n", res.Driver)
	fmt.Fprintf(&b, "Confidence: %s\n", confLevel)
	if snap.HasPrice {
		fmt.Fprintf(&b, "Price: %s\n", snap.MarkPrice.String())
	}
	writeReasons(&b, res.Reasons)
	return b.String()
}

func renderBuildup(symbol string, snap market.Snapshot, res risk.Result, confLevel string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "⚠️ Risk buildup: %s\n\n", displaySymbol(symbol))
	fmt.Fprintf(&b, "Risk: %d\n", res.Score)
	fmt.Fprintf(&b, "Direction: %s\n", res.Direction)
	fmt.Fprintf(&b, "Confidence: %s\n", confLevel)
	writeReasons(&b, res.Reasons)
	return b.String()
}

func writeReasons(b *strings.Builder, reasons []string) {
	if len(reasons) == 0 {
		return
	}
	b.WriteString("\n")
	for _, r := range reasons {
		fmt.Fprintf(b, "• %s\n", r)
	}
}

func renderDivergence(symbol string, sig divergence.Signal) string {
	return fmt.Sprintf("📐 %s\n\n%s", displaySymbol(symbol), sig.Message)
}

func renderOIDiag(symbol string, ratio float64) string {
	return fmt.Sprintf("📈 %s open interest moved %+.1f%% over the window", displaySymbol(symbol), ratio*100)
}

func renderLiqDiag(symbol string, liqSum, threshold decimal.Decimal) string {
	return fmt.Sprintf("💥 %s liquidations at %s (threshold %s)",
		displaySymbol(symbol), formatMillions(liqSum), formatMillions(threshold))
}

func renderRegimeShift(from, to regime.Regime, ms regime.MarketState) string {
	return fmt.Sprintf("🧭 Market regime: %s → %s\n\nAvg risk: %.1f\nBuildups: %d\nAlerts in window: %d",
		from, to, ms.AvgRisk, ms.Buildups, ms.AlertsInWindow)
}

func renderLoopStall(age time.Duration) string {
	return fmt.Sprintf("⚠️ Monitor degraded: last risk evaluation completed %s ago", age.Truncate(time.Second))
}

// formatMillions renders a USD notional as a compact millions figure.
func formatMillions(v decimal.Decimal) string {
	m := v.Div(decimal.NewFromInt(1_000_000))
	return m.StringFixed(1) + "M"
}
