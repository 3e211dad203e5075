package regime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCandidateMapping(t *testing.T) {
	cases := []struct {
		name string
		ms   MarketState
		want Regime
	}{
		{"calm", MarketState{AvgRisk: 0.5, Buildups: 0}, Calm},
		{"stress", MarketState{AvgRisk: 3, Buildups: 4}, Stress},
		{"latent", MarketState{AvgRisk: 2.5, Buildups: 0, AlertsInWindow: 0}, LatentStress},
		{"latent blocked by alerts", MarketState{AvgRisk: 2.5, Buildups: 0, AlertsInWindow: 2}, Neutral},
		{"crowd", MarketState{AvgRisk: 1.5, Buildups: 3}, CrowdImbalance},
		{"neutral", MarketState{AvgRisk: 1.2, Buildups: 1}, Neutral},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Candidate(tc.ms))
		})
	}
}

func TestStressEntryNeedsConfirmation(t *testing.T) {
	c := NewClassifier(Config{StressConfirmTicks: 3, StressExitTicks: 2, CrowdConfirmTicks: 2})
	stress := MarketState{AvgRisk: 3, Buildups: 4}

	d := c.Observe(stress)
	assert.Equal(t, Stress, d.Candidate)
	assert.Equal(t, Neutral, d.Committed)
	assert.Equal(t, LatentStress, d.Reported)
	assert.False(t, d.Changed)

	d = c.Observe(stress)
	assert.Equal(t, LatentStress, d.Reported)

	d = c.Observe(stress)
	assert.Equal(t, Stress, d.Committed)
	assert.Equal(t, Stress, d.Reported)
	assert.True(t, d.Changed)
}

func TestStressExitNeedsConfirmation(t *testing.T) {
	c := NewClassifier(Config{StressConfirmTicks: 3, StressExitTicks: 2, CrowdConfirmTicks: 2})
	stress := MarketState{AvgRisk: 3, Buildups: 4}
	calm := MarketState{AvgRisk: 0.2, Buildups: 0}

	for i := 0; i < 3; i++ {
		c.Observe(stress)
	}
	require.Equal(t, Stress, c.Committed())

	// One quiet tick is not enough to leave STRESS.
	d := c.Observe(calm)
	assert.Equal(t, Stress, d.Committed)
	assert.False(t, d.Changed)

	d = c.Observe(calm)
	assert.Equal(t, Calm, d.Committed)
	assert.True(t, d.Changed)
}

func TestStressExitToUnconfirmedCrowdFallsToNeutral(t *testing.T) {
	c := NewClassifier(Config{StressConfirmTicks: 3, StressExitTicks: 2, CrowdConfirmTicks: 2})
	stress := MarketState{AvgRisk: 3, Buildups: 4}
	crowd := MarketState{AvgRisk: 1.5, Buildups: 3}
	neutral := MarketState{AvgRisk: 1.2, Buildups: 1}

	for i := 0; i < 3; i++ {
		c.Observe(stress)
	}
	require.Equal(t, Stress, c.Committed())

	// Exit confirmed by two non-STRESS ticks, but the second candidate is a
	// first-run CROWD_IMBALANCE, which has its own entry requirement.
	c.Observe(neutral)
	d := c.Observe(crowd)
	assert.Equal(t, Neutral, d.Committed)

	// A second consecutive crowd candidate commits it.
	d = c.Observe(crowd)
	assert.Equal(t, CrowdImbalance, d.Committed)
}

func TestImmediateTransitions(t *testing.T) {
	c := NewClassifier(Config{StressConfirmTicks: 3, StressExitTicks: 2, CrowdConfirmTicks: 2})

	d := c.Observe(MarketState{AvgRisk: 0.2, Buildups: 0})
	assert.Equal(t, Calm, d.Committed)
	assert.True(t, d.Changed)

	d = c.Observe(MarketState{AvgRisk: 2.5, Buildups: 0, AlertsInWindow: 0})
	assert.Equal(t, LatentStress, d.Committed)
	assert.True(t, d.Changed)
}

func TestActivityTracker(t *testing.T) {
	base := time.Now()
	a := NewActivityTracker(6*time.Hour, 5, 20)

	cur, _, changed := a.Observe(base)
	assert.Equal(t, ActivityCalm, cur)
	assert.False(t, changed)

	for i := 0; i < 5; i++ {
		a.Record(base.Add(time.Duration(i) * time.Minute))
	}
	cur, prev, changed := a.Observe(base.Add(10 * time.Minute))
	assert.Equal(t, ActivityFragileCalm, cur)
	assert.Equal(t, ActivityCalm, prev)
	assert.True(t, changed)

	for i := 0; i < 15; i++ {
		a.Record(base.Add(time.Duration(20+i) * time.Minute))
	}
	cur, _, changed = a.Observe(base.Add(40 * time.Minute))
	assert.Equal(t, ActivityStress, cur)
	assert.True(t, changed)

	// Everything ages out of the window.
	cur, prev, changed = a.Observe(base.Add(8 * time.Hour))
	assert.Equal(t, ActivityCalm, cur)
	assert.Equal(t, ActivityStress, prev)
	assert.True(t, changed)
	assert.Equal(t, 0, a.Count(base.Add(8*time.Hour)))
}
