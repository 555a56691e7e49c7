package strategy

import (
	"fmt"

	"github.com/sawpanic/regimerun/internal/indicators"
	"github.com/sawpanic/regimerun/internal/market"
	"github.com/sawpanic/regimerun/internal/trade"
)

// VolatilityBreakoutConfig defines channel breakout parameters
type VolatilityBreakoutConfig struct {
	ChannelPeriod int     `yaml:"channel_period"` // 20 bars
	ATRPeriod     int     `yaml:"atr_period"`     // 14
	RangeATR      float64 `yaml:"range_atr"`      // breakout bar range >= 1.2 ATR
	StopATR       float64 `yaml:"stop_atr"`       // 2.0 ATR
	RewardRisk    float64 `yaml:"reward_risk"`    // 1.5R
	AllowShort    bool    `yaml:"allow_short"`
	CooldownBars  int     `yaml:"cooldown_bars"` // 10
}

// DefaultVolatilityBreakoutConfig returns the default breakout parameters
func DefaultVolatilityBreakoutConfig() VolatilityBreakoutConfig {
	return VolatilityBreakoutConfig{
		ChannelPeriod: 20,
		ATRPeriod:     14,
		RangeATR:      1.2,
		StopATR:       2.0,
		RewardRisk:    1.5,
		AllowShort:    true,
		CooldownBars:  10,
	}
}

// VolatilityBreakout enters when a wide-range bar closes outside the prior
// channel
type VolatilityBreakout struct {
	config VolatilityBreakoutConfig
}

// NewVolatilityBreakout creates a breakout detector
func NewVolatilityBreakout(config VolatilityBreakoutConfig) (*VolatilityBreakout, error) {
	if config.ChannelPeriod < 2 || config.ATRPeriod < 1 {
		return nil, fmt.Errorf("volatility_breakout: invalid periods %d/%d", config.ChannelPeriod, config.ATRPeriod)
	}
	if config.StopATR <= 0 || config.RewardRisk <= 0 {
		return nil, fmt.Errorf("volatility_breakout: stop_atr and reward_risk must be positive")
	}
	return &VolatilityBreakout{config: config}, nil
}

// Name implements Detector
func (v *VolatilityBreakout) Name() string { return NameVolatilityBreakout }

// DetectSetups implements Detector
func (v *VolatilityBreakout) DetectSetups(s *market.Series) ([]Setup, error) {
	if s == nil {
		return nil, market.ErrEmptySeries
	}
	c := v.config
	upper := indicators.Highest(s.High, c.ChannelPeriod)
	lower := indicators.Lowest(s.Low, c.ChannelPeriod)
	atr := indicators.ATR(s.High, s.Low, s.Close, c.ATRPeriod)

	var setups []Setup
	cd := newCooldown(c.CooldownBars)
	for i := 1; i < s.Len(); i++ {
		// channel is the one completed before this bar
		hi, lo, a := upper[i-1], lower[i-1], atr[i-1]
		if !finite(hi, lo, a) || !cd.ready(i) {
			continue
		}
		if s.High[i]-s.Low[i] < a*c.RangeATR {
			continue
		}

		var dir trade.Direction
		switch {
		case s.Close[i] > hi:
			dir = trade.Long
		case c.AllowShort && s.Close[i] < lo:
			dir = trade.Short
		default:
			continue
		}

		stop, target := riskLevels(dir, s.Close[i], a*c.StopATR, c.RewardRisk)
		setups = append(setups, newSetup(NameVolatilityBreakout, s, i, dir, stop, target, map[string]any{
			"channel_high": hi,
			"channel_low":  lo,
			"atr":          a,
		}))
		cd.fire(i)
	}
	return setups, nil
}
