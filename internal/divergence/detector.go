// Package divergence detects qualitative mismatches between positioning,
// open interest, price trend and liquidations.
package divergence

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/perpwatch/perpwatch/internal/regime"
)

// Kind names a divergence pattern.
type Kind string

const (
	KindLongTrap     Kind = "LONG_TRAP"
	KindShortSqueeze Kind = "SHORT_SQUEEZE"
	KindFakeMove     Kind = "FAKE_MOVE"
	KindCapitulation Kind = "CAPITULATION"
)

// PriceTrend is a short label over a tiny price history.
type PriceTrend string

const (
	TrendUp   PriceTrend = "UP"
	TrendDown PriceTrend = "DOWN"
	TrendFlat PriceTrend = "FLAT"
)

// OITrend is the first-to-last direction of the open-interest window.
type OITrend string

const (
	OIUp   OITrend = "UP"
	OIDown OITrend = "DOWN"
	OINone OITrend = "NONE"
)

// TrendOf labels a price move relative to the symbol's trend epsilon.
func TrendOf(first, last, epsilon float64) PriceTrend {
	if first <= 0 {
		return TrendFlat
	}
	change := (last - first) / first
	switch {
	case change > epsilon:
		return TrendUp
	case change < -epsilon:
		return TrendDown
	default:
		return TrendFlat
	}
}

// OITrendOf labels the open-interest series direction.
func OITrendOf(series []float64) OITrend {
	if len(series) < 2 {
		return OINone
	}
	first, last := series[0], series[len(series)-1]
	switch {
	case last > first:
		return OIUp
	case last < first:
		return OIDown
	default:
		return OINone
	}
}

// Signal is one detected divergence.
type Signal struct {
	Kind    Kind
	Message string
}

var messages = map[Kind]string{
	KindLongTrap:     "LONG TRAP: aggressive buying, positions growing, price not following. Buyers may be left without continuation.",
	KindShortSqueeze: "SHORT SQUEEZE: aggressive buying into rising open interest. Shorts may be forced to cover higher.",
	KindFakeMove:     "FAKE MOVE: trades flowing but positions shrinking. Move is not confirmed by interest.",
	KindCapitulation: "CAPITULATION: positions closing under liquidation pressure. This is an exit, not a trend start.",
}

// Input is everything one detection pass needs for a symbol.
type Input struct {
	Symbol     string
	State      regime.Regime
	Pressure   float64 // normalized long share in [0,1]
	OITrend    OITrend
	PriceTrend PriceTrend
	LiqSum     decimal.Decimal
}

// Detector applies the state-gated rules with per-(symbol, kind) cooldowns.
type Detector struct {
	mu       sync.Mutex
	lastSeen map[cooldownKey]time.Time
}

type cooldownKey struct {
	symbol string
	kind   Kind
}

func NewDetector() *Detector {
	return &Detector{lastSeen: make(map[cooldownKey]time.Time)}
}

// Detect returns at most one signal per kind per cooldown. No divergences
// are emitted in CALM.
func (d *Detector) Detect(in Input, now time.Time) []Signal {
	if in.State == regime.Calm {
		return nil
	}

	p := ParamsFor(in.Symbol)
	var out []Signal

	if in.Pressure > p.LongTrapPressure &&
		in.OITrend == OIUp &&
		(in.PriceTrend == TrendFlat || in.PriceTrend == TrendDown) {
		if d.cooldownOK(in.Symbol, KindLongTrap, now) {
			out = append(out, Signal{Kind: KindLongTrap, Message: messages[KindLongTrap]})
		}
	}

	if (in.State == regime.CrowdImbalance || in.State == regime.Stress) &&
		in.Pressure > p.ShortSqueezePressure &&
		in.OITrend == OIUp &&
		in.LiqSum.IsPositive() {
		if d.cooldownOK(in.Symbol, KindShortSqueeze, now) {
			out = append(out, Signal{Kind: KindShortSqueeze, Message: messages[KindShortSqueeze]})
		}
	}

	if in.Pressure > p.FakeMovePressure &&
		in.OITrend == OIDown &&
		(in.PriceTrend == TrendUp || in.PriceTrend == TrendFlat) {
		if d.cooldownOK(in.Symbol, KindFakeMove, now) {
			out = append(out, Signal{Kind: KindFakeMove, Message: messages[KindFakeMove]})
		}
	}

	if in.State == regime.Stress &&
		in.Pressure < p.CapitulationPressure &&
		in.OITrend == OIDown &&
		in.LiqSum.IsPositive() {
		if d.cooldownOK(in.Symbol, KindCapitulation, now) {
			out = append(out, Signal{Kind: KindCapitulation, Message: messages[KindCapitulation]})
		}
	}

	return out
}

// cooldownOK reports whether the kind may fire for the symbol and, if so,
// stamps the emission time.
func (d *Detector) cooldownOK(symbol string, kind Kind, now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := cooldownKey{symbol: symbol, kind: kind}
	ttl := CooldownFor(symbol, kind)
	if last, ok := d.lastSeen[key]; ok && now.Sub(last) < ttl {
		return false
	}
	d.lastSeen[key] = now
	return true
}
