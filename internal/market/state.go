package market

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
)

// ErrUnknownSymbol is returned for symbols not configured at startup.
var ErrUnknownSymbol = fmt.Errorf("unknown symbol")

// errMalformed marks events dropped by validation.
var errMalformed = fmt.Errorf("malformed event")

// Snapshot is a point-in-time read-only view of one symbol's state.
type Snapshot struct {
	Symbol string
	At     time.Time

	Funding        float64
	HasFunding     bool
	PrevFunding    float64
	HasPrevFunding bool

	MarkPrice decimal.Decimal
	HasPrice  bool

	LongVolume  decimal.Decimal
	ShortVolume decimal.Decimal

	LiqLong  decimal.Decimal
	LiqShort decimal.Decimal
	LiqSum   decimal.Decimal

	// OISeries holds first..last in-window samples; a lone sample with a
	// remembered predecessor arrives as a synthesized two-point series.
	OISeries []OIPoint

	// Freshness: zero time means the stream has never been seen.
	LastMark  time.Time
	LastTrade time.Time
	LastLiq   time.Time
	LastOI    time.Time
}

// PressureRatio is the long share of taker volume, 0.5 for an empty window.
func (s Snapshot) PressureRatio() float64 {
	total := s.LongVolume.Add(s.ShortVolume)
	if total.IsZero() {
		return 0.5
	}
	ratio, _ := s.LongVolume.Div(total).Float64()
	return ratio
}

// FreshestUpdate is the newest event timestamp across all streams.
func (s Snapshot) FreshestUpdate() time.Time {
	freshest := s.LastMark
	for _, t := range []time.Time{s.LastTrade, s.LastLiq, s.LastOI} {
		if t.After(freshest) {
			freshest = t
		}
	}
	return freshest
}

// OIChangeRatio is (last-first)/first over the series, false when undefined.
func (s Snapshot) OIChangeRatio() (float64, bool) {
	if len(s.OISeries) < 2 {
		return 0, false
	}
	first := s.OISeries[0].Value
	last := s.OISeries[len(s.OISeries)-1].Value
	if first <= 0 {
		return 0, false
	}
	return (last - first) / first, true
}

// symbolState is the mutable per-symbol aggregate. One writer (the book
// ingest path); readers obtain copies through Snapshot. The per-symbol lock
// guards against torn side totals.
type symbolState struct {
	mu sync.Mutex

	symbol string

	funding          float64
	hasFunding       bool
	fundingSeq       uint64 // bumped on every funding observation
	committedFunding float64
	committedSeq     uint64 // funding seq last folded into the (latest, prev) pair
	prevFunding      float64
	hasPrevFunding   bool

	markPrice decimal.Decimal
	hasPrice  bool

	trades *sideWindow
	liqs   *sideWindow
	oi     *oiWindow

	lastMark  time.Time
	lastTrade time.Time
	lastLiq   time.Time
	lastOI    time.Time
}

// Book owns the per-symbol windows for every configured symbol. The symbol
// set is fixed at construction; ingesting or snapshotting an unknown symbol
// is an error.
type Book struct {
	states  map[string]*symbolState
	order   []string
	dropped atomic.Uint64
}

// NewBook builds a book for the configured symbols.
func NewBook(symbols []string, window, oiFreshTTL time.Duration) *Book {
	b := &Book{states: make(map[string]*symbolState, len(symbols))}
	for _, s := range symbols {
		b.states[s] = &symbolState{
			symbol: s,
			trades: newSideWindow(window),
			liqs:   newSideWindow(window),
			oi:     newOIWindow(window, oiFreshTTL),
		}
		b.order = append(b.order, s)
	}
	return b
}

// Symbols returns the configured symbols in configuration order.
func (b *Book) Symbols() []string {
	out := make([]string, len(b.order))
	copy(out, b.order)
	return out
}

// Dropped reports how many malformed events were discarded.
func (b *Book) Dropped() uint64 {
	return b.dropped.Load()
}

// Ingest dispatches an event into the owning symbol window. Malformed
// events are dropped and counted without interrupting the window.
func (b *Book) Ingest(ev Event) error {
	st, ok := b.states[ev.EventSymbol()]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSymbol, ev.EventSymbol())
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	switch e := ev.(type) {
	case MarkTick:
		if math.IsNaN(e.FundingRate) || math.IsInf(e.FundingRate, 0) {
			b.dropped.Add(1)
			return errMalformed
		}
		st.funding = e.FundingRate
		st.hasFunding = true
		st.fundingSeq++
		if e.MarkPrice.IsPositive() {
			st.markPrice = e.MarkPrice
			st.hasPrice = true
		}
		st.lastMark = e.At

	case TradeEvent:
		if !e.Qty.IsPositive() || (e.Side != SideLong && e.Side != SideShort) {
			b.dropped.Add(1)
			return errMalformed
		}
		st.trades.add(e.At, e.Qty, e.Side)
		st.lastTrade = e.At

	case LiquidationEvent:
		if !e.Qty.IsPositive() || !e.Price.IsPositive() || (e.Side != SideLong && e.Side != SideShort) {
			b.dropped.Add(1)
			return errMalformed
		}
		st.liqs.add(e.At, e.Notional(), e.Side)
		st.lastLiq = e.At

	case OISample:
		if math.IsNaN(e.Value) || math.IsInf(e.Value, 0) || e.Value < 0 {
			b.dropped.Add(1)
			return errMalformed
		}
		st.oi.add(OIPoint{At: e.At, Value: e.Value}, time.Now())
		st.lastOI = e.At

	default:
		b.dropped.Add(1)
		return errMalformed
	}
	return nil
}

// AdvanceFunding folds any funding observation that arrived since the last
// call into the (latest, previous) pair. The previous value is always the
// value immediately before the latest observation.
func (b *Book) AdvanceFunding(symbol string) error {
	st, ok := b.states[symbol]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	if !st.hasFunding || st.fundingSeq == st.committedSeq {
		return nil
	}
	if st.committedSeq > 0 {
		st.prevFunding = st.committedFunding
		st.hasPrevFunding = true
	}
	st.committedFunding = st.funding
	st.committedSeq = st.fundingSeq
	return nil
}

// Snapshot returns a read-only view of a symbol, evicting stale entries
// first so every returned window entry satisfies now-ts <= window.
func (b *Book) Snapshot(symbol string, now time.Time) (Snapshot, error) {
	st, ok := b.states[symbol]
	if !ok {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	st.trades.evict(now)
	st.liqs.evict(now)

	snap := Snapshot{
		Symbol: symbol,
		At:     now,

		Funding:        st.committedFunding,
		HasFunding:     st.committedSeq > 0,
		PrevFunding:    st.prevFunding,
		HasPrevFunding: st.hasPrevFunding,

		MarkPrice: st.markPrice,
		HasPrice:  st.hasPrice,

		LongVolume:  st.trades.total(SideLong),
		ShortVolume: st.trades.total(SideShort),

		LiqLong:  st.liqs.total(SideLong),
		LiqShort: st.liqs.total(SideShort),
		LiqSum:   st.liqs.sum(),

		OISeries: st.oi.series(now),

		LastMark:  st.lastMark,
		LastTrade: st.lastTrade,
		LastLiq:   st.lastLiq,
		LastOI:    st.lastOI,
	}
	return snap, nil
}

// FreshestFeedUpdate is the newest websocket event timestamp across all
// symbols, used by the feed watchdog. OI samples are excluded: they arrive
// over REST and keep flowing while the websocket is dead. Zero when no
// stream event has been seen yet.
func (b *Book) FreshestFeedUpdate() time.Time {
	var freshest time.Time
	for _, st := range b.states {
		st.mu.Lock()
		for _, t := range []time.Time{st.lastMark, st.lastTrade, st.lastLiq} {
			if t.After(freshest) {
				freshest = t
			}
		}
		st.mu.Unlock()
	}
	return freshest
}
