package market

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(v string) decimal.Decimal {
	out, err := decimal.NewFromString(v)
	if err != nil {
		panic(err)
	}
	return out
}

func TestSideWindowTotals(t *testing.T) {
	base := time.Now()
	w := newSideWindow(time.Hour)

	w.add(base, d("10"), SideLong)
	w.add(base.Add(time.Minute), d("4"), SideShort)
	w.add(base.Add(2*time.Minute), d("6"), SideLong)

	assert.True(t, w.total(SideLong).Equal(d("16")))
	assert.True(t, w.total(SideShort).Equal(d("4")))
	assert.True(t, w.sum().Equal(d("20")))
	assert.Equal(t, 3, w.len())
}

func TestSideWindowEviction(t *testing.T) {
	base := time.Now()
	w := newSideWindow(time.Hour)

	w.add(base, d("10"), SideLong)
	w.add(base.Add(30*time.Minute), d("5"), SideShort)

	// The first entry falls out of the window on this add.
	w.add(base.Add(61*time.Minute), d("1"), SideLong)

	assert.True(t, w.total(SideLong).Equal(d("1")))
	assert.True(t, w.total(SideShort).Equal(d("5")))
	assert.Equal(t, 2, w.len())

	oldest, ok := w.oldest()
	require.True(t, ok)
	assert.Equal(t, base.Add(30*time.Minute), oldest)
}

func TestSideWindowEmptyTotalsZero(t *testing.T) {
	w := newSideWindow(time.Hour)
	assert.True(t, w.sum().IsZero())
	_, ok := w.oldest()
	assert.False(t, ok)
}

func TestOIWindowSkipsRepeatedTimestamps(t *testing.T) {
	base := time.Now()
	w := newOIWindow(time.Hour, 15*time.Minute)

	w.add(OIPoint{At: base, Value: 100}, base)
	w.add(OIPoint{At: base, Value: 100}, base.Add(time.Minute))
	w.add(OIPoint{At: base, Value: 101}, base.Add(2*time.Minute))

	series := w.series(base.Add(2 * time.Minute))
	require.Len(t, series, 1)
	assert.Equal(t, 100.0, series[0].Value)
}

func TestOIWindowSynthesizesTwoPointSeries(t *testing.T) {
	base := time.Now()
	w := newOIWindow(time.Hour, 15*time.Minute)

	w.add(OIPoint{At: base, Value: 100}, base)
	w.add(OIPoint{At: base.Add(5 * time.Minute), Value: 103}, base.Add(5*time.Minute))

	// Both points age out of the window except the last; the evicted one
	// survives as the previous committed sample.
	series := w.series(base.Add(64 * time.Minute))
	require.Len(t, series, 2)
	assert.Equal(t, 100.0, series[0].Value)
	assert.Equal(t, 103.0, series[1].Value)
}

func TestOIWindowFreshTTLClears(t *testing.T) {
	base := time.Now()
	w := newOIWindow(4*time.Hour, 15*time.Minute)

	w.add(OIPoint{At: base, Value: 100}, base)
	w.add(OIPoint{At: base.Add(5 * time.Minute), Value: 105}, base.Add(5*time.Minute))

	// A gap past the TTL invalidates the accumulated series.
	stale := base.Add(40 * time.Minute)
	w.add(OIPoint{At: stale, Value: 90}, stale)

	series := w.series(stale)
	require.Len(t, series, 2)
	// The pre-gap last point bootstraps the new series.
	assert.Equal(t, 105.0, series[0].Value)
	assert.Equal(t, 90.0, series[1].Value)
}
