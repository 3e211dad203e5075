// Package risk holds the pure scoring rules: no I/O, no clocks, same
// inputs always produce the same result.
package risk

import (
	"math"

	"github.com/shopspring/decimal"
)

// Direction is the side the market is vulnerable from.
type Direction string

const (
	DirectionLong    Direction = "LONG"
	DirectionShort   Direction = "SHORT"
	DirectionNeutral Direction = "NEUTRAL"
)

// Driver names the dominant factor behind a score.
type Driver string

const (
	DriverCrowd       Driver = "CROWD"
	DriverLiquidation Driver = "LIQUIDATION"
	DriverFunding     Driver = "FUNDING"
	DriverOI          Driver = "OI"
	DriverMixed       Driver = "MIXED"
	DriverUnknown     Driver = "UNKNOWN"
)

// Thresholds are the configurable scoring knobs.
type Thresholds struct {
	FundingExtreme float64
	FundingSpike   float64
	OISpike        float64
}

// Input is one symbol's snapshot reduced to scoring terms.
type Input struct {
	Funding        float64
	HasFunding     bool
	PrevFunding    float64
	HasPrevFunding bool

	// Pressure is the normalized long share of taker volume in [0,1];
	// callers pass 0.5 for an empty trade window.
	Pressure float64

	// OISeries is the open-interest window, first to last.
	OISeries []float64

	LiqSum       decimal.Decimal
	LiqLong      decimal.Decimal
	LiqShort     decimal.Decimal
	LiqThreshold decimal.Decimal
}

// Result is the per-tick scoring outcome, immutable once returned.
type Result struct {
	Score        int
	Direction    Direction
	Reasons      []string
	FundingSpike bool
	OISpike      bool
	Driver       Driver
}

// Score applies the additive rule set to a snapshot. The score is always
// non-negative; direction is the argmax of long/short votes with pressure
// breaking ties.
func Score(in Input, th Thresholds) Result {
	var res Result
	votes := map[Direction]int{}

	// Funding extremes
	if in.HasFunding && math.Abs(in.Funding) > th.FundingExtreme {
		res.Score += 3
		if in.Funding > 0 {
			votes[DirectionLong]++
			res.Reasons = append(res.Reasons, "funding extremely positive")
		} else {
			votes[DirectionShort]++
			res.Reasons = append(res.Reasons, "funding extremely negative")
		}
	}

	// Funding spike flags confirmation, it does not add score
	if in.HasFunding && in.HasPrevFunding &&
		math.Abs(in.Funding-in.PrevFunding) > th.FundingSpike {
		res.FundingSpike = true
	}

	// Pressure imbalance
	switch {
	case in.Pressure > 0.85:
		res.Score += 3
		votes[DirectionLong] += 2
		res.Reasons = append(res.Reasons, "extreme long crowding")
	case in.Pressure > 0.7:
		res.Score += 2
		votes[DirectionLong]++
		res.Reasons = append(res.Reasons, "long crowding")
	case in.Pressure < 0.15:
		res.Score += 3
		votes[DirectionShort] += 2
		res.Reasons = append(res.Reasons, "extreme short crowding")
	case in.Pressure < 0.30:
		res.Score += 2
		votes[DirectionShort]++
		res.Reasons = append(res.Reasons, "short crowding")
	}

	// Open-interest trend and spike
	if n := len(in.OISeries); n >= 2 {
		first, last := in.OISeries[0], in.OISeries[n-1]
		if last > first {
			res.Score += 3
			res.Reasons = append(res.Reasons, "OI rising")
		} else if last < first {
			res.Score += 3
			res.Reasons = append(res.Reasons, "OI falling")
		}
		if first > 0 && math.Abs(last-first)/first > th.OISpike {
			res.OISpike = true
		}
	}

	// Liquidations over the per-symbol threshold
	liqOver := in.LiqSum.GreaterThan(in.LiqThreshold)
	if liqOver {
		res.Score += 3
		if in.LiqLong.GreaterThanOrEqual(in.LiqShort) {
			res.Reasons = append(res.Reasons, "abnormal liquidations, longs dominant")
		} else {
			res.Reasons = append(res.Reasons, "abnormal liquidations, shorts dominant")
		}
	}

	res.Direction = resolveDirection(votes, in.Pressure)
	res.Driver = resolveDriver(in, res, liqOver)
	return res
}

// resolveDirection takes the argmax of long/short votes; ties fall back to
// pressure bands, otherwise neutral.
func resolveDirection(votes map[Direction]int, pressure float64) Direction {
	long, short := votes[DirectionLong], votes[DirectionShort]
	switch {
	case long > short:
		return DirectionLong
	case short > long:
		return DirectionShort
	case pressure >= 0.7:
		return DirectionLong
	case pressure <= 0.3:
		return DirectionShort
	default:
		return DirectionNeutral
	}
}

func resolveDriver(in Input, res Result, liqOver bool) Driver {
	var active []Driver
	if in.Pressure >= 0.7 || in.Pressure <= 0.3 {
		active = append(active, DriverCrowd)
	}
	if liqOver {
		active = append(active, DriverLiquidation)
	}
	if res.FundingSpike {
		active = append(active, DriverFunding)
	}
	if res.OISpike {
		active = append(active, DriverOI)
	}
	switch len(active) {
	case 0:
		return DriverUnknown
	case 1:
		return active[0]
	default:
		return DriverMixed
	}
}
