package regime

import (
	"sync"
	"time"
)

// Activity is the coarse view over recent alert volume, independent of the
// candidate/hysteresis machinery.
type Activity string

const (
	ActivityCalm        Activity = "CALM"
	ActivityFragileCalm Activity = "FRAGILE_CALM"
	ActivityStress      Activity = "STRESS"
)

// ActivityTracker partitions the count of alerts inside a rolling window
// into CALM / FRAGILE_CALM / STRESS.
type ActivityTracker struct {
	mu sync.Mutex

	window      time.Duration
	fragileMin  int
	stressMin   int
	times       []time.Time
	current     Activity
	lastChanged time.Time
}

func NewActivityTracker(window time.Duration, fragileMin, stressMin int) *ActivityTracker {
	return &ActivityTracker{
		window:     window,
		fragileMin: fragileMin,
		stressMin:  stressMin,
		current:    ActivityCalm,
	}
}

// Record notes one delivered alert.
func (a *ActivityTracker) Record(at time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.times = append(a.times, at)
	a.evict(at)
}

// Observe recomputes the activity regime, returning the previous value when
// a transition happened.
func (a *ActivityTracker) Observe(now time.Time) (current Activity, previous Activity, changed bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.evict(now)

	next := ActivityCalm
	switch n := len(a.times); {
	case n >= a.stressMin:
		next = ActivityStress
	case n >= a.fragileMin:
		next = ActivityFragileCalm
	}

	previous = a.current
	if next != a.current {
		a.current = next
		a.lastChanged = now
		return next, previous, true
	}
	return a.current, previous, false
}

// Count returns the number of alerts inside the window.
func (a *ActivityTracker) Count(now time.Time) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.evict(now)
	return len(a.times)
}

func (a *ActivityTracker) evict(now time.Time) {
	cutoff := now.Add(-a.window)
	i := 0
	for i < len(a.times) && a.times[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		a.times = append(a.times[:0], a.times[i:]...)
	}
}
