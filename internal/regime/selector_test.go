package regime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/regimerun/internal/market"
	"github.com/sawpanic/regimerun/internal/strategy"
)

func newSelector(t *testing.T, mutate func(*SelectorConfig)) *Selector {
	t.Helper()
	cfg := DefaultSelectorConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	s, err := NewSelector(newClassifier(t, nil), cfg, strategy.DefaultConfig())
	require.NoError(t, err)
	return s
}

func TestSelect_DefaultMapping(t *testing.T) {
	tests := []struct {
		name     string
		closes   []float64
		regime   Regime
		strategy string
	}{
		{"bull", trending(300, 100, 0.5), Bull, strategy.NameMultiTimeframe},
		{"bear", trending(300, 300, -0.5), Bear, strategy.NameMeanReversion},
		{"range", flat(250, 100), Range, strategy.NameMeanReversion},
		{"insufficient", flat(20, 100), Range, strategy.NameMeanReversion},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newSelector(t, nil)
			sel, err := s.Select(buildSeries(t, tt.closes))
			require.NoError(t, err)
			assert.Equal(t, tt.regime, sel.Regime)
			assert.Equal(t, tt.strategy, sel.Name)
			require.NotNil(t, sel.Detector)
			assert.Equal(t, tt.strategy, sel.Detector.Name())
			assert.False(t, sel.Overridden)
		})
	}
}

func TestSelect_CountsRegimeChanges(t *testing.T) {
	s := newSelector(t, nil)
	bull := buildSeries(t, trending(300, 100, 0.5))
	bear := buildSeries(t, trending(300, 300, -0.5))
	rng := buildSeries(t, flat(250, 100))

	for _, series := range []*market.Series{bull, bull, bear, rng, rng} {
		_, err := s.Select(series)
		require.NoError(t, err)
	}

	assert.Equal(t, 2, s.RegimeChanges())
	history := s.History()
	require.Len(t, history, 2)
	assert.Equal(t, Bull, history[0].FromRegime)
	assert.Equal(t, Bear, history[0].ToRegime)
	assert.Equal(t, Bear, history[1].FromRegime)
	assert.Equal(t, Range, history[1].ToRegime)

	active, ok := s.Active()
	assert.True(t, ok)
	assert.Equal(t, Range, active)

	s.Reset()
	assert.Zero(t, s.RegimeChanges())
	_, ok = s.Active()
	assert.False(t, ok)
}

func TestSelect_SwitchConfidenceHoldsRegime(t *testing.T) {
	s := newSelector(t, func(c *SelectorConfig) { c.SwitchConfidence = 0.9 })

	_, err := s.Select(buildSeries(t, trending(300, 100, 0.5)))
	require.NoError(t, err)

	// a range call at ~0.5 confidence is not enough to leave BULL
	sel, err := s.Select(buildSeries(t, append(flat(250, 100), 101)))
	require.NoError(t, err)
	assert.Equal(t, Range, sel.Result.Regime)
	assert.Equal(t, Bull, sel.Regime)
	assert.True(t, sel.Held)
	assert.Equal(t, strategy.NameMultiTimeframe, sel.Name)
	assert.Zero(t, s.RegimeChanges())

	// a confident bear call does switch
	sel, err = s.Select(buildSeries(t, trending(300, 300, -0.5)))
	require.NoError(t, err)
	assert.Equal(t, Bear, sel.Regime)
	assert.Equal(t, 1, s.RegimeChanges())
}

func zigzagTrend(n int, from, step, swing float64) []float64 {
	out := trending(n, from, step)
	for i := range out {
		if i%2 == 1 {
			out[i] += swing
		}
	}
	return out
}

func TestSelect_VolatilityFilterOverrides(t *testing.T) {
	volatileBull := buildSeries(t, zigzagTrend(300, 100, 0.5, 6))
	volatileBear := buildSeries(t, zigzagTrend(300, 300, -0.5, 6))

	s := newSelector(t, func(c *SelectorConfig) {
		c.VolatilityFilter.Enabled = true
		c.VolatilityFilter.Threshold = 0.01
	})

	sel, err := s.Select(volatileBull)
	require.NoError(t, err)
	assert.Equal(t, Bull, sel.Regime)
	assert.True(t, sel.HighVol)
	assert.True(t, sel.Overridden)
	assert.Equal(t, strategy.NameMeanReversion, sel.Name)

	// no override configured for BEAR
	sel, err = s.Select(volatileBear)
	require.NoError(t, err)
	assert.Equal(t, Bear, sel.Regime)
	assert.True(t, sel.HighVol)
	assert.False(t, sel.Overridden)
	assert.Equal(t, strategy.NameMeanReversion, sel.Name)

	calm := newSelector(t, func(c *SelectorConfig) {
		c.VolatilityFilter.Enabled = true
		c.VolatilityFilter.Threshold = 100
	})
	sel, err = calm.Select(volatileBull)
	require.NoError(t, err)
	assert.False(t, sel.HighVol)
	assert.Equal(t, strategy.NameMultiTimeframe, sel.Name)
}

func TestNewSelector_RejectsBadRouting(t *testing.T) {
	classifier := newClassifier(t, nil)

	cfg := DefaultSelectorConfig()
	delete(cfg.Mapping, "BEAR")
	_, err := NewSelector(classifier, cfg, strategy.DefaultConfig())
	assert.Error(t, err)

	cfg = DefaultSelectorConfig()
	cfg.Mapping["BULL"] = "astrology"
	_, err = NewSelector(classifier, cfg, strategy.DefaultConfig())
	assert.ErrorIs(t, err, strategy.ErrUnknownDetector)

	cfg = DefaultSelectorConfig()
	cfg.Mapping["SIDEWAYS"] = strategy.NameMomentum
	_, err = NewSelector(classifier, cfg, strategy.DefaultConfig())
	assert.Error(t, err)

	cfg = DefaultSelectorConfig()
	cfg.SwitchConfidence = 2
	_, err = NewSelector(classifier, cfg, strategy.DefaultConfig())
	assert.Error(t, err)

	_, err = NewSelector(nil, DefaultSelectorConfig(), strategy.DefaultConfig())
	assert.Error(t, err)
}

func TestSelect_EmptySeries(t *testing.T) {
	s := newSelector(t, nil)
	_, err := s.Select(nil)
	assert.Error(t, err)
}
