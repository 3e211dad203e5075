package divergence

import "time"

// Class is a symbol's trading-liquidity tier. Tighter thresholds for the
// deepest books, looser ones down the tail.
type Class string

const (
	ClassL1 Class = "L1"
	ClassL2 Class = "L2"
	ClassL3 Class = "L3"
	ClassL4 Class = "L4"
)

// Params tune one symbol's divergence rules.
type Params struct {
	LongTrapPressure     float64
	ShortSqueezePressure float64
	FakeMovePressure     float64
	CapitulationPressure float64
	PriceTrendDelta      float64
	CooldownMultiplier   float64
}

// baseCooldown is the per-kind emission cooldown before the class
// multiplier is applied.
var baseCooldown = map[Kind]time.Duration{
	KindLongTrap:     30 * time.Minute,
	KindShortSqueeze: 15 * time.Minute,
	KindFakeMove:     20 * time.Minute,
	KindCapitulation: 30 * time.Minute,
}

var classParams = map[Class]Params{
	ClassL1: {
		LongTrapPressure:     0.68,
		ShortSqueezePressure: 0.74,
		FakeMovePressure:     0.74,
		CapitulationPressure: 0.32,
		PriceTrendDelta:      0.0007,
		CooldownMultiplier:   1.2,
	},
	ClassL2: {
		LongTrapPressure:     0.66,
		ShortSqueezePressure: 0.72,
		FakeMovePressure:     0.72,
		CapitulationPressure: 0.34,
		PriceTrendDelta:      0.0010,
		CooldownMultiplier:   1.0,
	},
	ClassL3: {
		LongTrapPressure:     0.65,
		ShortSqueezePressure: 0.71,
		FakeMovePressure:     0.71,
		CapitulationPressure: 0.35,
		PriceTrendDelta:      0.0012,
		CooldownMultiplier:   0.95,
	},
	ClassL4: {
		LongTrapPressure:     0.64,
		ShortSqueezePressure: 0.70,
		FakeMovePressure:     0.70,
		CapitulationPressure: 0.36,
		PriceTrendDelta:      0.0015,
		CooldownMultiplier:   0.9,
	},
}

var symbolClasses = map[string]Class{
	"BTCUSDT":  ClassL1,
	"ETHUSDT":  ClassL1,
	"SOLUSDT":  ClassL2,
	"DOGEUSDT": ClassL2,
	"ADAUSDT":  ClassL2,
	"LINKUSDT": ClassL2,
	"LTCUSDT":  ClassL2,
	"BCHUSDT":  ClassL2,
	"BNBUSDT":  ClassL3,
	"TRXUSDT":  ClassL3,
	"XRPUSDT":  ClassL3,
	"XLMUSDT":  ClassL3,
	"HBARUSDT": ClassL4,
	"XMRUSDT":  ClassL4,
	"ZECUSDT":  ClassL4,
	"HYPEUSDT": ClassL4,
}

// Override adjusts a subset of a symbol's class parameters. Nil fields keep
// the class value.
type Override struct {
	LongTrapPressure     *float64
	ShortSqueezePressure *float64
	FakeMovePressure     *float64
	CapitulationPressure *float64
	PriceTrendDelta      *float64
	CooldownMultiplier   *float64
}

func f(v float64) *float64 { return &v }

var symbolOverrides = map[string]Override{
	"ETHUSDT": {
		LongTrapPressure:     f(0.67),
		ShortSqueezePressure: f(0.73),
		FakeMovePressure:     f(0.73),
		CapitulationPressure: f(0.33),
		CooldownMultiplier:   f(1.15),
	},
	"DOGEUSDT": {PriceTrendDelta: f(0.0010)},
	"ADAUSDT":  {PriceTrendDelta: f(0.0010)},
	"LINKUSDT": {PriceTrendDelta: f(0.0010)},
	"LTCUSDT":  {PriceTrendDelta: f(0.0010)},
	"BCHUSDT":  {PriceTrendDelta: f(0.0010)},
	"SOLUSDT":  {PriceTrendDelta: f(0.0009)},
	"BNBUSDT": {
		PriceTrendDelta:    f(0.0011),
		CooldownMultiplier: f(0.95),
	},
	"TRXUSDT": {
		PriceTrendDelta:    f(0.0011),
		CooldownMultiplier: f(0.95),
	},
	"XRPUSDT": {
		PriceTrendDelta:    f(0.0012),
		CooldownMultiplier: f(0.95),
	},
	"XLMUSDT": {
		PriceTrendDelta:    f(0.0012),
		CooldownMultiplier: f(0.95),
	},
	"HBARUSDT": {PriceTrendDelta: f(0.0014)},
	"XMRUSDT":  {PriceTrendDelta: f(0.0014)},
	"ZECUSDT":  {PriceTrendDelta: f(0.0015)},
	"HYPEUSDT": {
		PriceTrendDelta:    f(0.0016),
		CooldownMultiplier: f(0.85),
	},
}

// ClassOf returns a symbol's class, defaulting unknown symbols to L3.
func ClassOf(symbol string) Class {
	if c, ok := symbolClasses[symbol]; ok {
		return c
	}
	return ClassL3
}

// ParamsFor resolves a symbol's effective parameters: class defaults plus
// per-symbol overrides.
func ParamsFor(symbol string) Params {
	p := classParams[ClassOf(symbol)]
	o, ok := symbolOverrides[symbol]
	if !ok {
		return p
	}
	if o.LongTrapPressure != nil {
		p.LongTrapPressure = *o.LongTrapPressure
	}
	if o.ShortSqueezePressure != nil {
		p.ShortSqueezePressure = *o.ShortSqueezePressure
	}
	if o.FakeMovePressure != nil {
		p.FakeMovePressure = *o.FakeMovePressure
	}
	if o.CapitulationPressure != nil {
		p.CapitulationPressure = *o.CapitulationPressure
	}
	if o.PriceTrendDelta != nil {
		p.PriceTrendDelta = *o.PriceTrendDelta
	}
	if o.CooldownMultiplier != nil {
		p.CooldownMultiplier = *o.CooldownMultiplier
	}
	return p
}

// CooldownFor is the effective cooldown for a symbol and divergence kind.
func CooldownFor(symbol string, kind Kind) time.Duration {
	base, ok := baseCooldown[kind]
	if !ok {
		base = 15 * time.Minute
	}
	return time.Duration(float64(base) * ParamsFor(symbol).CooldownMultiplier)
}
