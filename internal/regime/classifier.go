// Package regime classifies market-wide state across all tracked symbols.
package regime

import (
	"time"
)

// Regime is the coarse market-wide state.
type Regime string

const (
	Calm           Regime = "CALM"
	Neutral        Regime = "NEUTRAL"
	LatentStress   Regime = "LATENT_STRESS"
	CrowdImbalance Regime = "CROWD_IMBALANCE"
	Stress         Regime = "STRESS"
)

// MarketState is the cross-symbol aggregate recomputed on each regime tick.
type MarketState struct {
	AvgRisk        float64
	Buildups       int // symbols at or above the early alert level
	LongBias       int
	ShortBias      int
	AlertsInWindow int
	Tracked        int
	At             time.Time
}

// Candidate maps a market state to the regime it argues for, before any
// hysteresis is applied.
func Candidate(ms MarketState) Regime {
	switch {
	case ms.AvgRisk < 1 && ms.Buildups == 0:
		return Calm
	case ms.AvgRisk >= 2 && ms.Buildups >= 3:
		return Stress
	case ms.AvgRisk >= 2 && ms.Buildups == 0 && ms.AlertsInWindow == 0:
		return LatentStress
	case ms.Buildups >= 3 && ms.AvgRisk < 2:
		return CrowdImbalance
	default:
		return Neutral
	}
}

// Config sets the confirmation requirements for committed transitions.
type Config struct {
	StressConfirmTicks int
	StressExitTicks    int
	CrowdConfirmTicks  int
}

// Decision is the outcome of one classifier tick.
type Decision struct {
	Candidate Regime
	Committed Regime
	// Reported is the externally visible regime: an unconfirmed STRESS run
	// reports LATENT_STRESS, everything else reports the committed regime.
	Reported Regime
	Changed  bool
}

// Classifier commits regime transitions only after the configured number of
// consecutive confirming candidates. Entering STRESS and CROWD_IMBALANCE
// requires confirmation; leaving STRESS requires consecutive non-STRESS
// candidates; all other transitions commit immediately.
type Classifier struct {
	cfg       Config
	committed Regime

	stressRun    int // consecutive STRESS candidates
	nonStressRun int // consecutive non-STRESS candidates
	crowdRun     int // consecutive CROWD_IMBALANCE candidates
}

// NewClassifier starts committed at NEUTRAL.
func NewClassifier(cfg Config) *Classifier {
	if cfg.StressConfirmTicks <= 0 {
		cfg.StressConfirmTicks = 3
	}
	if cfg.StressExitTicks <= 0 {
		cfg.StressExitTicks = 2
	}
	if cfg.CrowdConfirmTicks <= 0 {
		cfg.CrowdConfirmTicks = 2
	}
	return &Classifier{cfg: cfg, committed: Neutral}
}

// Committed returns the current committed regime.
func (c *Classifier) Committed() Regime {
	return c.committed
}

// Observe feeds one market state through the hysteresis state machine.
func (c *Classifier) Observe(ms MarketState) Decision {
	candidate := Candidate(ms)

	if candidate == Stress {
		c.stressRun++
		c.nonStressRun = 0
	} else {
		c.nonStressRun++
		c.stressRun = 0
	}
	if candidate == CrowdImbalance {
		c.crowdRun++
	} else {
		c.crowdRun = 0
	}

	prev := c.committed

	if c.committed == Stress {
		if candidate != Stress && c.nonStressRun >= c.cfg.StressExitTicks {
			c.commit(candidate)
		}
	} else {
		switch candidate {
		case Stress:
			if c.stressRun >= c.cfg.StressConfirmTicks {
				c.committed = Stress
			}
		case CrowdImbalance:
			if c.crowdRun >= c.cfg.CrowdConfirmTicks {
				c.committed = CrowdImbalance
			}
		default:
			c.committed = candidate
		}
	}

	reported := c.committed
	if c.committed != Stress && candidate == Stress {
		reported = LatentStress
	}

	return Decision{
		Candidate: candidate,
		Committed: c.committed,
		Reported:  reported,
		Changed:   c.committed != prev,
	}
}

// commit applies entry rules when leaving STRESS: the destination still has
// to satisfy its own confirmation requirement.
func (c *Classifier) commit(candidate Regime) {
	if candidate == CrowdImbalance && c.crowdRun < c.cfg.CrowdConfirmTicks {
		c.committed = Neutral
		return
	}
	c.committed = candidate
}
