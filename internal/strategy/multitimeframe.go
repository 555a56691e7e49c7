package strategy

import (
	"fmt"

	"github.com/sawpanic/regimerun/internal/indicators"
	"github.com/sawpanic/regimerun/internal/market"
	"github.com/sawpanic/regimerun/internal/trade"
)

// MultiTimeframeConfig defines higher-timeframe trend with lower-timeframe
// trigger parameters
type MultiTimeframeConfig struct {
	Factor        int     `yaml:"factor"`         // 4 base bars per higher-timeframe bar
	TrendPeriod   int     `yaml:"trend_period"`   // 20 higher-timeframe bars
	TriggerPeriod int     `yaml:"trigger_period"` // 10 base bars
	RSIPeriod     int     `yaml:"rsi_period"`     // 14
	RSIMin        float64 `yaml:"rsi_min"`        // 50
	ATRPeriod     int     `yaml:"atr_period"`     // 14
	StopATR       float64 `yaml:"stop_atr"`       // 1.5 ATR
	RewardRisk    float64 `yaml:"reward_risk"`    // 2.5R
	AllowShort    bool    `yaml:"allow_short"`
	CooldownBars  int     `yaml:"cooldown_bars"` // 5
}

// DefaultMultiTimeframeConfig returns the default multi-timeframe parameters
func DefaultMultiTimeframeConfig() MultiTimeframeConfig {
	return MultiTimeframeConfig{
		Factor:        4,
		TrendPeriod:   20,
		TriggerPeriod: 10,
		RSIPeriod:     14,
		RSIMin:        50,
		ATRPeriod:     14,
		StopATR:       1.5,
		RewardRisk:    2.5,
		AllowShort:    true,
		CooldownBars:  5,
	}
}

// MultiTimeframe trades base-timeframe pullback recoveries in the direction
// of the trend on an aggregated higher timeframe. Only completed
// higher-timeframe bars are consulted.
type MultiTimeframe struct {
	config MultiTimeframeConfig
}

// NewMultiTimeframe creates a multi-timeframe detector
func NewMultiTimeframe(config MultiTimeframeConfig) (*MultiTimeframe, error) {
	if config.Factor < 2 {
		return nil, fmt.Errorf("multi_timeframe: factor must be >= 2, got %d", config.Factor)
	}
	if config.TrendPeriod < 2 || config.TriggerPeriod < 2 {
		return nil, fmt.Errorf("multi_timeframe: invalid periods %d/%d", config.TrendPeriod, config.TriggerPeriod)
	}
	if config.StopATR <= 0 || config.RewardRisk <= 0 {
		return nil, fmt.Errorf("multi_timeframe: stop_atr and reward_risk must be positive")
	}
	return &MultiTimeframe{config: config}, nil
}

// Name implements Detector
func (m *MultiTimeframe) Name() string { return NameMultiTimeframe }

// higherCloses aggregates closes into completed buckets of factor bars
func higherCloses(close []float64, factor int) []float64 {
	n := len(close) / factor
	out := make([]float64, n)
	for k := 0; k < n; k++ {
		out[k] = close[k*factor+factor-1]
	}
	return out
}

// DetectSetups implements Detector
func (m *MultiTimeframe) DetectSetups(s *market.Series) ([]Setup, error) {
	if s == nil {
		return nil, market.ErrEmptySeries
	}
	c := m.config
	htf := higherCloses(s.Close, c.Factor)
	htfEMA := indicators.EMA(htf, c.TrendPeriod)
	trigger := indicators.EMA(s.Close, c.TriggerPeriod)
	rsi := indicators.RSI(s.Close, c.RSIPeriod)
	atr := indicators.ATR(s.High, s.Low, s.Close, c.ATRPeriod)

	var setups []Setup
	cd := newCooldown(c.CooldownBars)
	for i := 1; i < s.Len(); i++ {
		// last higher-timeframe bar that closed on or before bar i
		k := (i+1)/c.Factor - 1
		if k < 1 || !cd.ready(i) {
			continue
		}
		if !finite(htfEMA[k], htfEMA[k-1], trigger[i-1], trigger[i], rsi[i], atr[i]) {
			continue
		}

		trendUp := htf[k] > htfEMA[k] && htfEMA[k] > htfEMA[k-1]
		trendDown := htf[k] < htfEMA[k] && htfEMA[k] < htfEMA[k-1]
		crossUp := s.Close[i-1] <= trigger[i-1] && s.Close[i] > trigger[i]
		crossDown := s.Close[i-1] >= trigger[i-1] && s.Close[i] < trigger[i]

		var dir trade.Direction
		switch {
		case trendUp && crossUp && rsi[i] >= c.RSIMin:
			dir = trade.Long
		case c.AllowShort && trendDown && crossDown && rsi[i] <= 100-c.RSIMin:
			dir = trade.Short
		default:
			continue
		}

		stop, target := riskLevels(dir, s.Close[i], atr[i]*c.StopATR, c.RewardRisk)
		setups = append(setups, newSetup(NameMultiTimeframe, s, i, dir, stop, target, map[string]any{
			"htf_close": htf[k],
			"htf_ema":   htfEMA[k],
			"rsi":       rsi[i],
		}))
		cd.fire(i)
	}
	return setups, nil
}
