package alert

import (
	"sync"
	"time"
)

// History tracks alert identity and delivery times. Event ids are marked at
// enqueue time so duplicates never enter the outbox; delivery timestamps
// are appended per symbol on the first successful send only.
type History struct {
	mu sync.Mutex

	window    time.Duration
	seen      map[string]struct{}
	delivered map[string]struct{}
	perSymbol map[string][]time.Time
}

func NewHistory(window time.Duration) *History {
	return &History{
		window:    window,
		seen:      make(map[string]struct{}),
		delivered: make(map[string]struct{}),
		perSymbol: make(map[string][]time.Time),
	}
}

// MarkEnqueued claims an event id. It returns false when the id was already
// claimed; such duplicates are silently dropped by the caller.
func (h *History) MarkEnqueued(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, dup := h.seen[id]; dup {
		return false
	}
	h.seen[id] = struct{}{}
	return true
}

// RecordDelivered appends the event's timestamp to the symbol queue once,
// on the first successful delivery of the id.
func (h *History) RecordDelivered(ev Event) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, dup := h.delivered[ev.ID]; dup {
		return false
	}
	h.delivered[ev.ID] = struct{}{}
	h.perSymbol[ev.Symbol] = append(h.perSymbol[ev.Symbol], ev.At)
	h.evict(ev.At)
	return true
}

// Delivered reports whether the id completed a successful send.
func (h *History) Delivered(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.delivered[id]
	return ok
}

// CountWithin counts deliveries across all symbols newer than the cutoff.
func (h *History) CountWithin(window time.Duration, now time.Time) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.evict(now)

	cutoff := now.Add(-window)
	n := 0
	for _, times := range h.perSymbol {
		for _, t := range times {
			if !t.Before(cutoff) {
				n++
			}
		}
	}
	return n
}

// SymbolCount counts deliveries for one symbol inside the history window.
func (h *History) SymbolCount(symbol string, now time.Time) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.evict(now)
	return len(h.perSymbol[symbol])
}

// evict drops delivery timestamps older than the history window. The id
// sets are kept for the life of the process: ids embed their tick second,
// so they never repeat and the sets grow slowly.
func (h *History) evict(now time.Time) {
	cutoff := now.Add(-h.window)
	for symbol, times := range h.perSymbol {
		i := 0
		for i < len(times) && times[i].Before(cutoff) {
			i++
		}
		if i > 0 {
			h.perSymbol[symbol] = append(times[:0], times[i:]...)
		}
	}
}
