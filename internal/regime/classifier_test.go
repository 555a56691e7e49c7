package regime

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/regimerun/internal/market"
)

var start = time.Date(2022, 6, 1, 0, 0, 0, 0, time.UTC)

func buildSeries(t *testing.T, closes []float64) *market.Series {
	t.Helper()
	bars := make([]market.Bar, len(closes))
	for i, c := range closes {
		bars[i] = market.Bar{
			Time:   start.Add(time.Duration(i) * 24 * time.Hour),
			Open:   c,
			High:   c + 0.5,
			Low:    c - 0.5,
			Close:  c,
			Volume: 1000,
		}
	}
	s, err := market.NewSeries("TEST", bars)
	require.NoError(t, err)
	return s
}

func flat(n int, price float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = price
	}
	return out
}

func trending(n int, from, step float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = from + step*float64(i)
	}
	return out
}

func newClassifier(t *testing.T, mutate func(*ClassifierConfig)) *Classifier {
	t.Helper()
	cfg := DefaultClassifierConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	c, err := NewClassifier(cfg)
	require.NoError(t, err)
	return c
}

func TestClassify_InsufficientHistory(t *testing.T) {
	c := newClassifier(t, nil)

	res := c.Classify(buildSeries(t, trending(50, 100, 1)))
	assert.Equal(t, Range, res.Regime)
	assert.Equal(t, 0.5, res.Confidence)
	assert.True(t, res.Insufficient)

	res = c.Classify(nil)
	assert.Equal(t, Range, res.Regime)
	assert.Equal(t, 0.5, res.Confidence)
}

func TestClassify_Trends(t *testing.T) {
	c := newClassifier(t, nil)

	bull := c.Classify(buildSeries(t, trending(300, 100, 0.5)))
	assert.Equal(t, Bull, bull.Regime)
	assert.Equal(t, 1.0, bull.Confidence)
	assert.Greater(t, bull.MediumEMA, bull.EMA)

	bear := c.Classify(buildSeries(t, trending(300, 300, -0.5)))
	assert.Equal(t, Bear, bear.Regime)
	assert.Equal(t, 1.0, bear.Confidence)
	assert.Less(t, bear.Distance, 0.0)
}

func TestClassify_FlatIsTextbookRange(t *testing.T) {
	c := newClassifier(t, nil)
	res := c.Classify(buildSeries(t, flat(250, 100)))
	assert.Equal(t, Range, res.Regime)
	assert.InDelta(t, 1.0, res.Confidence, 1e-9)
	assert.False(t, res.Boosted)
}

func TestClassify_RangeConfidenceShrinksWithDistance(t *testing.T) {
	c := newClassifier(t, nil)
	res := c.Classify(buildSeries(t, append(flat(250, 100), 101)))

	require.Equal(t, Range, res.Regime)
	assert.Greater(t, res.Distance, 0.0)
	assert.InDelta(t, 1-res.Distance/0.02, res.Confidence, 1e-9)
	assert.Less(t, res.Confidence, 1.0)
}

func TestClassify_ConfidenceLinearWithBoost(t *testing.T) {
	c := newClassifier(t, nil)
	res := c.Classify(buildSeries(t, append(flat(250, 100), 105)))

	require.Equal(t, Bull, res.Regime)
	assert.True(t, res.Boosted, "EMA(50) above EMA(200)")
	assert.InDelta(t, res.Distance/0.10*1.2, res.Confidence, 1e-9)

	noBoost := newClassifier(t, func(cfg *ClassifierConfig) { cfg.AgreementBoost = 1 })
	res = noBoost.Classify(buildSeries(t, append(flat(250, 100), 105)))
	assert.InDelta(t, res.Distance/0.10, res.Confidence, 1e-9)
}

func TestClassify_ADXVeto(t *testing.T) {
	closes := make([]float64, 250)
	for i := range closes {
		closes[i] = 100 + float64(i%2)
	}
	closes = append(closes, 105)
	series := buildSeries(t, closes)

	without := newClassifier(t, nil).Classify(series)
	require.Equal(t, Bull, without.Regime)

	with := newClassifier(t, func(cfg *ClassifierConfig) { cfg.UseADX = true })
	res := with.Classify(series)
	assert.Equal(t, Range, res.Regime)
	assert.True(t, res.Vetoed)
	assert.Less(t, res.ADX, 20.0)
	assert.InDelta(t, 1-res.ADX/20, res.Confidence, 1e-9)
}

func TestClassifierConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*ClassifierConfig)
	}{
		{"ema span", func(c *ClassifierConfig) { c.EMASpan = 1 }},
		{"bull threshold", func(c *ClassifierConfig) { c.BullThreshold = 0.99 }},
		{"bear threshold", func(c *ClassifierConfig) { c.BearThreshold = 1.01 }},
		{"saturation", func(c *ClassifierConfig) { c.Saturation = 0 }},
		{"boost", func(c *ClassifierConfig) { c.AgreementBoost = 0.5 }},
		{"adx", func(c *ClassifierConfig) { c.UseADX = true; c.ADXThreshold = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultClassifierConfig()
			tt.mutate(&cfg)
			_, err := NewClassifier(cfg)
			assert.Error(t, err)
		})
	}
}

func TestRegimeText(t *testing.T) {
	b, err := json.Marshal(map[string]Regime{"r": Bear})
	require.NoError(t, err)
	assert.JSONEq(t, `{"r":"BEAR"}`, string(b))

	var r Regime
	require.NoError(t, r.UnmarshalText([]byte("bull")))
	assert.Equal(t, Bull, r)

	_, err = ParseRegime("sideways")
	assert.Error(t, err)
}
