package strategy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/regimerun/internal/market"
	"github.com/sawpanic/regimerun/internal/trade"
)

var start = time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC)

func seriesFromCloses(t *testing.T, closes []float64, spread float64) *market.Series {
	t.Helper()
	bars := make([]market.Bar, len(closes))
	for i, c := range closes {
		bars[i] = market.Bar{
			Time:   start.Add(time.Duration(i) * 24 * time.Hour),
			Open:   c,
			High:   c + spread,
			Low:    c - spread,
			Close:  c,
			Volume: 1000,
		}
	}
	s, err := market.NewSeries("TEST", bars)
	require.NoError(t, err)
	return s
}

func TestRegistry_BuildsEveryDetector(t *testing.T) {
	assert.Equal(t, []string{
		NameMeanReversion, NameMomentum, NameMultiTimeframe, NameSmartMoney, NameVolatilityBreakout,
	}, Names())

	for _, name := range Names() {
		d, err := New(name, DefaultConfig())
		require.NoError(t, err, name)
		assert.Equal(t, name, d.Name())
	}
	assert.NoError(t, DefaultConfig().Validate())
}

func TestRegistry_UnknownAndInvalid(t *testing.T) {
	_, err := New("astrology", DefaultConfig())
	assert.ErrorIs(t, err, ErrUnknownDetector)

	cfg := DefaultConfig()
	cfg.Momentum.SlowPeriod = cfg.Momentum.FastPeriod
	_, err = New(NameMomentum, cfg)
	assert.Error(t, err)
	assert.Error(t, cfg.Validate())
}

func TestDetectors_SetupsAreConsistent(t *testing.T) {
	series, err := market.Generate(market.DefaultSyntheticConfig())
	require.NoError(t, err)

	for _, name := range Names() {
		t.Run(name, func(t *testing.T) {
			d, err := New(name, DefaultConfig())
			require.NoError(t, err)

			setups, err := d.DetectSetups(series)
			require.NoError(t, err)

			var prev time.Time
			for _, s := range setups {
				idx, ok := series.IndexOf(s.EntryTime)
				require.True(t, ok, "entry time must be a bar of the series")
				assert.Equal(t, series.Close[idx], s.EntryPrice)
				assert.False(t, s.EntryTime.Before(prev), "setups are chronological")
				prev = s.EntryTime
				assert.Equal(t, name, s.Metadata["detector"])

				require.NotNil(t, s.StopLoss)
				require.NotNil(t, s.Target)
				sign := s.Direction.Sign()
				assert.Less(t, sign*(*s.StopLoss-s.EntryPrice), 0.0, "stop on the losing side")
				assert.Greater(t, sign*(*s.Target-s.EntryPrice), 0.0, "target on the winning side")
			}
		})
	}
}

func TestDetectors_ShortHistory(t *testing.T) {
	series := seriesFromCloses(t, []float64{100, 101, 102, 101, 100}, 0.5)
	for _, name := range Names() {
		d, err := New(name, DefaultConfig())
		require.NoError(t, err)

		setups, err := d.DetectSetups(series)
		require.NoError(t, err, name)
		assert.Empty(t, setups, name)

		_, err = d.DetectSetups(nil)
		assert.ErrorIs(t, err, market.ErrEmptySeries, name)
	}
}

func TestMeanReversion_BuysCapitulation(t *testing.T) {
	var closes []float64
	for i := 0; i < 40; i++ {
		closes = append(closes, 100+float64(i%2))
	}
	closes = append(closes, 98, 95, 91, 86, 80)
	series := seriesFromCloses(t, closes, 0.5)

	d, err := NewMeanReversion(DefaultMeanReversionConfig())
	require.NoError(t, err)
	setups, err := d.DetectSetups(series)
	require.NoError(t, err)
	require.NotEmpty(t, setups)

	s := setups[0]
	assert.Equal(t, trade.Long, s.Direction)
	assert.Greater(t, *s.Target, s.EntryPrice, "targets the middle band")
	assert.Less(t, *s.StopLoss, s.EntryPrice)
}

func TestVolatilityBreakout_WideBarThroughChannel(t *testing.T) {
	closes := make([]float64, 30)
	for i := range closes {
		closes[i] = 100
	}
	series := seriesFromCloses(t, closes, 0.5)
	bars := series.Bars()
	bars = append(bars, market.Bar{
		Time: bars[len(bars)-1].Time.Add(24 * time.Hour), Open: 100, High: 105.5, Low: 99.8, Close: 105, Volume: 5000,
	})
	series, err := market.NewSeries("TEST", bars)
	require.NoError(t, err)

	d, err := NewVolatilityBreakout(DefaultVolatilityBreakoutConfig())
	require.NoError(t, err)
	setups, err := d.DetectSetups(series)
	require.NoError(t, err)
	require.Len(t, setups, 1)

	s := setups[0]
	assert.Equal(t, trade.Long, s.Direction)
	assert.Equal(t, 105.0, s.EntryPrice)
	assert.InDelta(t, 103.0, *s.StopLoss, 1e-6)
	assert.InDelta(t, 108.0, *s.Target, 1e-6)
}

func TestStatic_ReturnsCopy(t *testing.T) {
	d := &Static{Setups: []Setup{{Direction: trade.Long, EntryTime: start, EntryPrice: 10}}}
	got, err := d.DetectSetups(nil)
	require.NoError(t, err)
	got[0].EntryPrice = 99
	assert.Equal(t, 10.0, d.Setups[0].EntryPrice)
	assert.Equal(t, "static", d.Name())
}

func TestRiskLevels(t *testing.T) {
	stop, target := riskLevels(trade.Short, 50, 2, 1.5)
	require.NotNil(t, stop)
	assert.Equal(t, 52.0, *stop)
	assert.Equal(t, 47.0, *target)

	stop, target = riskLevels(trade.Long, 1, 2, 1)
	assert.Nil(t, stop)
	assert.Nil(t, target)
}
