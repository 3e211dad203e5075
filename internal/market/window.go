package market

import (
	"time"

	"github.com/shopspring/decimal"
)

// windowEntry is one sided quantity observation inside a rolling window.
type windowEntry struct {
	at   time.Time
	qty  decimal.Decimal
	side Side
}

// sideWindow is a time-bounded window of sided quantities with running
// per-side totals. Totals are maintained add-on-insert, subtract-on-evict,
// so total queries are O(1). Entries preserve producer order.
type sideWindow struct {
	span    time.Duration
	entries []windowEntry
	head    int // index of the oldest live entry
	totals  map[Side]decimal.Decimal
}

func newSideWindow(span time.Duration) *sideWindow {
	return &sideWindow{
		span: span,
		totals: map[Side]decimal.Decimal{
			SideLong:  decimal.Zero,
			SideShort: decimal.Zero,
		},
	}
}

func (w *sideWindow) add(at time.Time, qty decimal.Decimal, side Side) {
	w.entries = append(w.entries, windowEntry{at: at, qty: qty, side: side})
	w.totals[side] = w.totals[side].Add(qty)
	w.evict(at)
}

// evict drops entries older than the window span and subtracts them from
// the running totals. Compacts the backing slice once the dead prefix
// dominates it.
func (w *sideWindow) evict(now time.Time) {
	cutoff := now.Add(-w.span)
	for w.head < len(w.entries) {
		e := w.entries[w.head]
		if !e.at.Before(cutoff) {
			break
		}
		w.totals[e.side] = w.totals[e.side].Sub(e.qty)
		w.entries[w.head] = windowEntry{}
		w.head++
	}
	if w.head > 64 && w.head*2 > len(w.entries) {
		w.entries = append(w.entries[:0], w.entries[w.head:]...)
		w.head = 0
	}
}

func (w *sideWindow) total(side Side) decimal.Decimal {
	return w.totals[side]
}

func (w *sideWindow) sum() decimal.Decimal {
	return w.totals[SideLong].Add(w.totals[SideShort])
}

func (w *sideWindow) len() int {
	return len(w.entries) - w.head
}

func (w *sideWindow) oldest() (time.Time, bool) {
	if w.head >= len(w.entries) {
		return time.Time{}, false
	}
	return w.entries[w.head].at, true
}

func (w *sideWindow) newest() (time.Time, bool) {
	if w.head >= len(w.entries) {
		return time.Time{}, false
	}
	return w.entries[len(w.entries)-1].at, true
}

// oiWindow is a time-bounded window of open-interest points with a
// freshness TTL. A gap longer than the TTL invalidates the series, so the
// window is cleared before the next append; the last point survives as the
// previous committed sample for trend bootstrap.
type oiWindow struct {
	span     time.Duration
	freshTTL time.Duration
	points   []OIPoint

	// prevCommitted remembers the point that preceded the newest append,
	// including across clears, so a one-point window can still yield a
	// two-point series.
	prevCommitted *OIPoint
}

func newOIWindow(span, freshTTL time.Duration) *oiWindow {
	return &oiWindow{span: span, freshTTL: freshTTL}
}

func (w *oiWindow) add(p OIPoint, now time.Time) {
	if n := len(w.points); n > 0 {
		last := w.points[n-1]
		// The history endpoint repeats its newest row between period
		// boundaries; identical source timestamps are not new samples.
		if !p.At.After(last.At) {
			return
		}
		if now.Sub(last.At) > w.freshTTL {
			w.points = w.points[:0]
		}
		w.prevCommitted = &last
	}
	w.points = append(w.points, p)
	w.evict(now)
}

func (w *oiWindow) evict(now time.Time) {
	cutoff := now.Add(-w.span)
	i := 0
	for i < len(w.points) && w.points[i].At.Before(cutoff) {
		i++
	}
	if i > 0 {
		evictedLast := w.points[i-1]
		if w.prevCommitted == nil || evictedLast.At.After(w.prevCommitted.At) {
			w.prevCommitted = &evictedLast
		}
		w.points = append(w.points[:0], w.points[i:]...)
	}
}

// series returns the in-window points, synthesizing a two-point series from
// the previous committed sample when only one live point exists.
func (w *oiWindow) series(now time.Time) []OIPoint {
	w.evict(now)
	if len(w.points) == 1 && w.prevCommitted != nil {
		return []OIPoint{*w.prevCommitted, w.points[0]}
	}
	out := make([]OIPoint, len(w.points))
	copy(out, w.points)
	return out
}

func (w *oiWindow) newest() (time.Time, bool) {
	if len(w.points) == 0 {
		return time.Time{}, false
	}
	return w.points[len(w.points)-1].At, true
}
