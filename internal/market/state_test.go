package market

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBook() *Book {
	return NewBook([]string{"BTCUSDT", "ETHUSDT"}, time.Hour, 15*time.Minute)
}

func TestBookRejectsUnknownSymbol(t *testing.T) {
	b := newTestBook()

	err := b.Ingest(TradeEvent{Symbol: "XRPUSDT", Qty: d("1"), Side: SideLong, At: time.Now()})
	assert.ErrorIs(t, err, ErrUnknownSymbol)

	_, err = b.Snapshot("XRPUSDT", time.Now())
	assert.ErrorIs(t, err, ErrUnknownSymbol)
}

func TestBookDropsMalformedEvents(t *testing.T) {
	b := newTestBook()
	now := time.Now()

	require.Error(t, b.Ingest(MarkTick{Symbol: "BTCUSDT", FundingRate: math.NaN(), At: now}))
	require.Error(t, b.Ingest(TradeEvent{Symbol: "BTCUSDT", Qty: d("0"), Side: SideLong, At: now}))
	require.Error(t, b.Ingest(TradeEvent{Symbol: "BTCUSDT", Qty: d("1"), Side: Side("weird"), At: now}))
	require.Error(t, b.Ingest(LiquidationEvent{Symbol: "BTCUSDT", Qty: d("1"), Price: d("-5"), Side: SideLong, At: now}))

	assert.Equal(t, uint64(4), b.Dropped())

	// The windows stay usable after drops.
	require.NoError(t, b.Ingest(TradeEvent{Symbol: "BTCUSDT", Qty: d("2"), Side: SideLong, At: now}))
	snap, err := b.Snapshot("BTCUSDT", now)
	require.NoError(t, err)
	assert.True(t, snap.LongVolume.Equal(d("2")))
}

func TestPressureRatio(t *testing.T) {
	b := newTestBook()
	now := time.Now()

	snap, err := b.Snapshot("BTCUSDT", now)
	require.NoError(t, err)
	assert.Equal(t, 0.5, snap.PressureRatio())

	require.NoError(t, b.Ingest(TradeEvent{Symbol: "BTCUSDT", Qty: d("3"), Side: SideLong, At: now}))
	require.NoError(t, b.Ingest(TradeEvent{Symbol: "BTCUSDT", Qty: d("1"), Side: SideShort, At: now}))

	snap, err = b.Snapshot("BTCUSDT", now)
	require.NoError(t, err)
	assert.InDelta(t, 0.75, snap.PressureRatio(), 1e-9)
}

func TestLiquidationNotional(t *testing.T) {
	b := newTestBook()
	now := time.Now()

	require.NoError(t, b.Ingest(LiquidationEvent{
		Symbol: "BTCUSDT", Qty: d("2"), Price: d("50000"), Side: SideLong, At: now,
	}))

	snap, err := b.Snapshot("BTCUSDT", now)
	require.NoError(t, err)
	assert.True(t, snap.LiqLong.Equal(d("100000")))
	assert.True(t, snap.LiqSum.Equal(d("100000")))
}

func TestAdvanceFundingPair(t *testing.T) {
	b := newTestBook()
	now := time.Now()

	// No observation yet: nothing committed.
	require.NoError(t, b.AdvanceFunding("BTCUSDT"))
	snap, err := b.Snapshot("BTCUSDT", now)
	require.NoError(t, err)
	assert.False(t, snap.HasFunding)

	require.NoError(t, b.Ingest(MarkTick{Symbol: "BTCUSDT", FundingRate: 0.0001, MarkPrice: d("60000"), At: now}))
	require.NoError(t, b.AdvanceFunding("BTCUSDT"))

	snap, err = b.Snapshot("BTCUSDT", now)
	require.NoError(t, err)
	assert.True(t, snap.HasFunding)
	assert.Equal(t, 0.0001, snap.Funding)
	assert.False(t, snap.HasPrevFunding)

	// A tick with no new observation keeps the pair unchanged.
	require.NoError(t, b.AdvanceFunding("BTCUSDT"))
	snap, err = b.Snapshot("BTCUSDT", now)
	require.NoError(t, err)
	assert.False(t, snap.HasPrevFunding)

	// Two observations arrive before the next tick; previous becomes the
	// last committed value, not the intermediate one.
	require.NoError(t, b.Ingest(MarkTick{Symbol: "BTCUSDT", FundingRate: 0.0002, MarkPrice: d("60000"), At: now}))
	require.NoError(t, b.Ingest(MarkTick{Symbol: "BTCUSDT", FundingRate: 0.0005, MarkPrice: d("60000"), At: now}))
	require.NoError(t, b.AdvanceFunding("BTCUSDT"))

	snap, err = b.Snapshot("BTCUSDT", now)
	require.NoError(t, err)
	assert.Equal(t, 0.0005, snap.Funding)
	require.True(t, snap.HasPrevFunding)
	assert.Equal(t, 0.0001, snap.PrevFunding)
}

func TestSnapshotEvictsBeforeReading(t *testing.T) {
	b := newTestBook()
	base := time.Now()

	require.NoError(t, b.Ingest(TradeEvent{Symbol: "BTCUSDT", Qty: d("5"), Side: SideLong, At: base}))

	snap, err := b.Snapshot("BTCUSDT", base.Add(61*time.Minute))
	require.NoError(t, err)
	assert.True(t, snap.LongVolume.IsZero())
}

func TestFreshestFeedUpdateAcrossStreams(t *testing.T) {
	b := newTestBook()
	base := time.Now()

	require.NoError(t, b.Ingest(TradeEvent{Symbol: "BTCUSDT", Qty: d("1"), Side: SideLong, At: base}))
	require.NoError(t, b.Ingest(MarkTick{Symbol: "ETHUSDT", FundingRate: 0.0001, MarkPrice: d("3000"), At: base.Add(time.Minute)}))

	assert.Equal(t, base.Add(time.Minute), b.FreshestFeedUpdate())
}

func TestFreshestFeedUpdateIgnoresOISamples(t *testing.T) {
	b := newTestBook()
	base := time.Now()

	// A recent OI poll must not hide a silent websocket.
	require.NoError(t, b.Ingest(MarkTick{Symbol: "BTCUSDT", FundingRate: 0.0001, MarkPrice: d("60000"), At: base.Add(-10 * time.Minute)}))
	require.NoError(t, b.Ingest(OISample{Symbol: "BTCUSDT", Value: 1000, At: base.Add(-time.Minute)}))

	assert.Equal(t, base.Add(-10*time.Minute), b.FreshestFeedUpdate())

	// OI samples alone leave it zero; the watchdog holds off until the
	// websocket has delivered at least once.
	b2 := newTestBook()
	require.NoError(t, b2.Ingest(OISample{Symbol: "BTCUSDT", Value: 1000, At: base}))
	assert.True(t, b2.FreshestFeedUpdate().IsZero())

	// The per-symbol snapshot view still counts OI, that freshness feeds
	// the quality checks.
	snap, err := b.Snapshot("BTCUSDT", base)
	require.NoError(t, err)
	assert.Equal(t, base.Add(-time.Minute), snap.FreshestUpdate())
}
