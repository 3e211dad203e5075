package journal

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perpwatch/perpwatch/internal/alert"
	"github.com/perpwatch/perpwatch/internal/regime"
)

func TestDisabledJournalIsSilent(t *testing.T) {
	j, err := Open("")
	require.NoError(t, err)
	assert.False(t, j.Enabled())

	// All record calls are no-ops.
	j.RecordAlert(alert.Event{ID: "x"}, "delivered")
	j.RecordRegime(regime.Neutral, regime.Stress, regime.MarketState{})
	j.RecordSystem("feed_restart", "", "test")
}

func TestSQLiteJournalRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	j, err := Open(path)
	require.NoError(t, err)
	require.True(t, j.Enabled())

	ev := alert.Event{
		ID:         "BTCUSDT:1700000000:HARD",
		Symbol:     "BTCUSDT",
		Kind:       alert.KindHard,
		Risk:       7,
		Direction:  "LONG",
		Confidence: 4,
		Driver:     "CROWD",
		Price:      decimal.NewFromInt(64000),
		At:         time.Now(),
	}
	j.RecordAlert(ev, "delivered")
	// Duplicate event ids are rejected by the unique index, silently.
	j.RecordAlert(ev, "delivered")

	var alerts []AlertRecord
	require.NoError(t, j.db.Find(&alerts).Error)
	require.Len(t, alerts, 1)
	assert.Equal(t, "BTCUSDT", alerts[0].Symbol)
	assert.Equal(t, "HARD", alerts[0].Kind)
	assert.Equal(t, 7, alerts[0].Risk)
	assert.Equal(t, "delivered", alerts[0].Status)

	j.RecordRegime(regime.Neutral, regime.Stress, regime.MarketState{AvgRisk: 2.5, Buildups: 3})
	var shifts []RegimeShift
	require.NoError(t, j.db.Find(&shifts).Error)
	require.Len(t, shifts, 1)
	assert.Equal(t, "NEUTRAL", shifts[0].From)
	assert.Equal(t, "STRESS", shifts[0].To)

	j.RecordSystem("loop_stall", "", "last tick 6m ago")
	var events []SystemEvent
	require.NoError(t, j.db.Find(&events).Error)
	require.Len(t, events, 1)
	assert.Equal(t, "loop_stall", events[0].Type)
}
