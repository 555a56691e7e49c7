package backtest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/regimerun/internal/market"
	"github.com/sawpanic/regimerun/internal/regime"
	"github.com/sawpanic/regimerun/internal/strategy"
)

func newSelector(t *testing.T) *regime.Selector {
	t.Helper()
	classifier, err := regime.NewClassifier(regime.DefaultClassifierConfig())
	require.NoError(t, err)
	sel, err := regime.NewSelector(classifier, regime.DefaultSelectorConfig(), strategy.DefaultConfig())
	require.NoError(t, err)
	return sel
}

func TestRunAdaptive_WalksWindows(t *testing.T) {
	series, err := market.Generate(market.DefaultSyntheticConfig())
	require.NoError(t, err)
	rec := &countingRecorder{}
	e := newEngine(t, nil, WithRecorder(rec))

	res, err := e.RunAdaptive(series, newSelector(t), DefaultAdaptiveConfig())
	require.NoError(t, err)

	// 1000 bars, 200 warmup, 50 per window
	require.Len(t, res.Windows, 16)
	assert.Equal(t, series.Time[200], res.Windows[0].Start)
	assert.Equal(t, series.Last().Time, res.Windows[15].End)

	bars := 0
	for _, w := range res.Windows {
		assert.Contains(t, strategy.Names(), w.Strategy)
		bars += w.Bars
	}
	assert.Equal(t, 800, bars)
	assert.Equal(t, 800, sumValues(res.StrategyShare()))

	for _, tr := range res.Trades {
		assert.False(t, tr.EntryTime.Before(series.Time[200]), "no trades during warmup")
		assert.LessOrEqual(t, tr.MAE, 0.0)
		assert.GreaterOrEqual(t, tr.MFE, 0.0)
	}
	assert.Equal(t, res.RegimeChanges, len(res.History))
	assert.Equal(t, res.RegimeChanges, rec.regimeChanges)
	assert.Equal(t, 1, rec.runs)
}

func TestRunAdaptive_IsDeterministic(t *testing.T) {
	series, err := market.Generate(market.DefaultSyntheticConfig())
	require.NoError(t, err)
	e := newEngine(t, func(c *Config) {
		c.SlippageEnabled = true
		c.SlippageProbability = 0.4
	})

	a, err := e.RunAdaptive(series, newSelector(t), DefaultAdaptiveConfig())
	require.NoError(t, err)
	b, err := e.RunAdaptive(series, newSelector(t), DefaultAdaptiveConfig())
	require.NoError(t, err)

	assert.Equal(t, a.Trades, b.Trades)
	assert.Equal(t, a.Windows, b.Windows)
}

func TestRunAdaptive_WarmupCoversHistory(t *testing.T) {
	series := buildSeries(t, flatBar(100), flatBar(100), flatBar(100))
	res, err := newEngine(t, nil).RunAdaptive(series, newSelector(t), DefaultAdaptiveConfig())
	require.NoError(t, err)
	assert.Empty(t, res.Windows)
	assert.Empty(t, res.Trades)
	assert.Equal(t, res.InitialCapital, res.FinalCapital)
}

func TestRunAdaptive_Validation(t *testing.T) {
	series := buildSeries(t, flatBar(100))
	e := newEngine(t, nil)

	_, err := e.RunAdaptive(series, nil, DefaultAdaptiveConfig())
	assert.Error(t, err)

	_, err = e.RunAdaptive(series, newSelector(t), AdaptiveConfig{WindowBars: 0, WarmupBars: 10})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = e.RunAdaptive(nil, newSelector(t), DefaultAdaptiveConfig())
	assert.ErrorIs(t, err, market.ErrEmptySeries)
}

func sumValues(m map[string]int) int {
	total := 0
	for _, v := range m {
		total += v
	}
	return total
}
