package trade

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)

func newManager(t *testing.T, capital float64) *Manager {
	t.Helper()
	m, err := NewManager(capital, DefaultSizingConfig())
	require.NoError(t, err)
	return m
}

func TestNewManager_RejectsBadConfig(t *testing.T) {
	_, err := NewManager(0, DefaultSizingConfig())
	assert.Error(t, err)

	sizing := DefaultSizingConfig()
	sizing.RiskPerTrade = 0
	_, err = NewManager(1000, sizing)
	assert.Error(t, err)

	sizing = DefaultSizingConfig()
	sizing.RiskPerTrade = -0.01
	_, err = NewManager(1000, sizing)
	assert.Error(t, err)
}

func TestPositionSize_Branches(t *testing.T) {
	m := newManager(t, 100_000)

	tests := []struct {
		name  string
		entry float64
		stop  *float64
		want  float64
	}{
		{"risk based within cap", 100, Float(90), 100},
		{"risk based capped at 20 percent", 100, Float(99), 200},
		{"no stop uses 1 percent of capital", 100, nil, 10},
		{"stop at entry uses 1 percent of capital", 100, Float(100), 10},
		{"short stop above entry", 100, Float(105), 200},
		{"fractional units floor", 300, Float(290), 66},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, m.PositionSize(tt.entry, tt.stop))
		})
	}
}

func TestOpen_ZeroSizeStillReturned(t *testing.T) {
	m := newManager(t, 50)
	h, err := m.Open(OpenRequest{Symbol: "X", Direction: Long, EntryTime: t0, EntryPrice: 1000, StopLoss: Float(990)})
	require.NoError(t, err)

	tr, err := m.Trade(h)
	require.NoError(t, err)
	assert.Equal(t, 0.0, tr.PositionSize)
	assert.Equal(t, StatusOpen, tr.Status)
	assert.Equal(t, 50.0, m.Capital())
}

func TestOpen_RejectsInvalidPrices(t *testing.T) {
	m := newManager(t, 10_000)
	_, err := m.Open(OpenRequest{Symbol: "X", Direction: Long, EntryTime: t0, EntryPrice: 0})
	assert.ErrorIs(t, err, ErrInvalidPrice)

	_, err = m.Open(OpenRequest{Symbol: "X", Direction: Long, EntryTime: t0, EntryPrice: 10, StopLoss: Float(-1)})
	assert.ErrorIs(t, err, ErrInvalidPrice)
}

func TestRoundTrip_LongTarget(t *testing.T) {
	m := newManager(t, 100_000)
	h, err := m.Open(OpenRequest{
		Symbol: "AAPL", Direction: Long, EntryTime: t0, EntryPrice: 100,
		StopLoss: Float(99), Target: Float(103), Strategy: "momentum",
	})
	require.NoError(t, err)
	assert.Equal(t, 0.0, m.Capital()-100_000, "opening does not move capital")

	closed, err := m.Close(h, t0.Add(48*time.Hour), 103, ExitTarget)
	require.NoError(t, err)

	assert.Equal(t, StatusClosed, closed.Status)
	assert.Equal(t, ExitTarget, closed.ExitReason)
	assert.InDelta(t, 3.0, closed.PnLPct, 1e-9)
	assert.InDelta(t, 200*3.0, closed.PnL, 1e-9)
	assert.InDelta(t, 100_600, m.Capital(), 1e-9)
	assert.Equal(t, 0, m.OpenCount())
	assert.Len(t, m.Closed(), 1)
}

func TestClose_ShortPnLIsReversed(t *testing.T) {
	m := newManager(t, 100_000)
	h, err := m.Open(OpenRequest{Symbol: "X", Direction: Short, EntryTime: t0, EntryPrice: 50, StopLoss: Float(51)})
	require.NoError(t, err)

	closed, err := m.Close(h, t0.Add(time.Hour), 48, ExitTarget)
	require.NoError(t, err)
	assert.InDelta(t, 4.0, closed.PnLPct, 1e-9)
	assert.InDelta(t, 400*2.0, closed.PnL, 1e-9)
}

func TestClose_Twice(t *testing.T) {
	m := newManager(t, 10_000)
	h, err := m.Open(OpenRequest{Symbol: "X", Direction: Long, EntryTime: t0, EntryPrice: 10})
	require.NoError(t, err)

	_, err = m.Close(h, t0, 11, ExitTimeStop)
	require.NoError(t, err)
	capital := m.Capital()

	_, err = m.Close(h, t0, 12, ExitTimeStop)
	assert.ErrorIs(t, err, ErrTradeClosed)
	assert.Equal(t, capital, m.Capital())
	assert.Len(t, m.Closed(), 1)
}

func TestClose_Guards(t *testing.T) {
	m := newManager(t, 10_000)
	h, err := m.Open(OpenRequest{Symbol: "X", Direction: Long, EntryTime: t0, EntryPrice: 10})
	require.NoError(t, err)

	_, err = m.Close(h, t0.Add(-time.Minute), 11, ExitTimeStop)
	assert.ErrorIs(t, err, ErrExitBeforeEntry)

	_, err = m.Close(h, t0, 11, ExitReason("manual"))
	assert.ErrorIs(t, err, ErrInvalidReason)

	_, err = m.Close(Handle(42), t0, 11, ExitTimeStop)
	assert.ErrorIs(t, err, ErrUnknownHandle)
}

func TestUpdateExcursions(t *testing.T) {
	m := newManager(t, 10_000)
	long, err := m.Open(OpenRequest{Symbol: "X", Direction: Long, EntryTime: t0, EntryPrice: 100})
	require.NoError(t, err)
	short, err := m.Open(OpenRequest{Symbol: "X", Direction: Short, EntryTime: t0, EntryPrice: 100})
	require.NoError(t, err)

	for _, price := range []float64{101, 104, 97, 102} {
		require.NoError(t, m.UpdateExcursions(long, price))
		require.NoError(t, m.UpdateExcursions(short, price))

		for _, h := range []Handle{long, short} {
			tr, err := m.Trade(h)
			require.NoError(t, err)
			assert.LessOrEqual(t, tr.MAE, 0.0)
			assert.GreaterOrEqual(t, tr.MFE, 0.0)
		}
	}

	l, _ := m.Trade(long)
	assert.InDelta(t, 4.0, l.MFE, 1e-9)
	assert.InDelta(t, -3.0, l.MAE, 1e-9)

	s, _ := m.Trade(short)
	assert.InDelta(t, 3.0, s.MFE, 1e-9)
	assert.InDelta(t, -4.0, s.MAE, 1e-9)

	_, err = m.Close(long, t0, 100, ExitTimeStop)
	require.NoError(t, err)
	assert.ErrorIs(t, m.UpdateExcursions(long, 120), ErrTradeClosed)
}

func TestCanOpenAndPeakConcurrent(t *testing.T) {
	m := newManager(t, 10_000)
	assert.False(t, m.CanOpen(0))
	assert.True(t, m.CanOpen(2))

	a, _ := m.Open(OpenRequest{Symbol: "X", Direction: Long, EntryTime: t0, EntryPrice: 10})
	_, _ = m.Open(OpenRequest{Symbol: "X", Direction: Long, EntryTime: t0, EntryPrice: 10})
	assert.False(t, m.CanOpen(2))

	_, err := m.Close(a, t0, 10, ExitTimeStop)
	require.NoError(t, err)
	assert.True(t, m.CanOpen(2))
	assert.Equal(t, 2, m.PeakConcurrent())
}

func TestForceCloseAll(t *testing.T) {
	m := newManager(t, 10_000)
	_, _ = m.Open(OpenRequest{Symbol: "AAA", Direction: Long, EntryTime: t0, EntryPrice: 10})
	_, _ = m.Open(OpenRequest{Symbol: "BBB", Direction: Short, EntryTime: t0, EntryPrice: 20})
	_, _ = m.Open(OpenRequest{Symbol: "CCC", Direction: Long, EntryTime: t0, EntryPrice: 30})

	end := t0.Add(24 * time.Hour)
	closed, err := m.ForceCloseAll(end, map[string]float64{"AAA": 11, "BBB": 19}, ExitEndOfBacktest)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CCC")
	require.Len(t, closed, 2)
	for _, c := range closed {
		assert.Equal(t, ExitEndOfBacktest, c.ExitReason)
		assert.Equal(t, end, c.ExitTime)
	}
	assert.Equal(t, 1, m.OpenCount())
}

func TestAbort_LeavesCapitalUntouched(t *testing.T) {
	m := newManager(t, 10_000)
	h, err := m.Open(OpenRequest{Symbol: "X", Direction: Long, EntryTime: t0, EntryPrice: 10})
	require.NoError(t, err)

	require.NoError(t, m.Abort(h))
	assert.Equal(t, 10_000.0, m.Capital())
	assert.Equal(t, 0, m.OpenCount())
	assert.Equal(t, 1, m.Aborted())

	_, err = m.Trade(h)
	assert.ErrorIs(t, err, ErrUnknownHandle)
}

func TestTradeCopiesAreIsolated(t *testing.T) {
	m := newManager(t, 10_000)
	meta := map[string]any{"detector": "momentum"}
	h, err := m.Open(OpenRequest{Symbol: "X", Direction: Long, EntryTime: t0, EntryPrice: 10, StopLoss: Float(9), Metadata: meta})
	require.NoError(t, err)

	meta["detector"] = "mutated"
	snapshot, _ := m.Trade(h)
	*snapshot.StopLoss = 1
	snapshot.Metadata["detector"] = "also mutated"

	again, _ := m.Trade(h)
	assert.Equal(t, 9.0, *again.StopLoss)
	assert.Equal(t, "momentum", again.Metadata["detector"])
}
