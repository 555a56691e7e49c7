package strategy

import (
	"fmt"

	"github.com/sawpanic/regimerun/internal/indicators"
	"github.com/sawpanic/regimerun/internal/market"
	"github.com/sawpanic/regimerun/internal/trade"
)

// MomentumConfig defines EMA-crossover momentum parameters
type MomentumConfig struct {
	FastPeriod     int     `yaml:"fast_period"`      // 20
	SlowPeriod     int     `yaml:"slow_period"`      // 50
	RSIPeriod      int     `yaml:"rsi_period"`       // 14
	RSILongMin     float64 `yaml:"rsi_long_min"`     // 50
	RSILongMax     float64 `yaml:"rsi_long_max"`     // 75
	VolumePeriod   int     `yaml:"volume_period"`    // 20
	MinVolumeRatio float64 `yaml:"min_volume_ratio"` // 1.0x average
	ATRPeriod      int     `yaml:"atr_period"`       // 14
	StopATR        float64 `yaml:"stop_atr"`         // 1.5 ATR
	RewardRisk     float64 `yaml:"reward_risk"`      // 2R
	AllowShort     bool    `yaml:"allow_short"`
	CooldownBars   int     `yaml:"cooldown_bars"` // 5
}

// DefaultMomentumConfig returns the default momentum parameters
func DefaultMomentumConfig() MomentumConfig {
	return MomentumConfig{
		FastPeriod:     20,
		SlowPeriod:     50,
		RSIPeriod:      14,
		RSILongMin:     50,
		RSILongMax:     75,
		VolumePeriod:   20,
		MinVolumeRatio: 1.0,
		ATRPeriod:      14,
		StopATR:        1.5,
		RewardRisk:     2.0,
		AllowShort:     true,
		CooldownBars:   5,
	}
}

// Momentum enters in the direction of a fresh fast/slow EMA cross when RSI
// confirms without being stretched
type Momentum struct {
	config MomentumConfig
}

// NewMomentum creates a momentum detector
func NewMomentum(config MomentumConfig) (*Momentum, error) {
	if config.FastPeriod < 2 || config.SlowPeriod <= config.FastPeriod {
		return nil, fmt.Errorf("momentum: need 2 <= fast_period < slow_period, got %d/%d", config.FastPeriod, config.SlowPeriod)
	}
	if config.StopATR <= 0 || config.RewardRisk <= 0 {
		return nil, fmt.Errorf("momentum: stop_atr and reward_risk must be positive")
	}
	return &Momentum{config: config}, nil
}

// Name implements Detector
func (m *Momentum) Name() string { return NameMomentum }

// DetectSetups implements Detector
func (m *Momentum) DetectSetups(s *market.Series) ([]Setup, error) {
	if s == nil {
		return nil, market.ErrEmptySeries
	}
	c := m.config
	fast := indicators.EMA(s.Close, c.FastPeriod)
	slow := indicators.EMA(s.Close, c.SlowPeriod)
	rsi := indicators.RSI(s.Close, c.RSIPeriod)
	atr := indicators.ATR(s.High, s.Low, s.Close, c.ATRPeriod)
	vol := indicators.VolumeRatio(s.Volume, c.VolumePeriod)

	var setups []Setup
	cd := newCooldown(c.CooldownBars)
	for i := 1; i < s.Len(); i++ {
		if !finite(fast[i-1], slow[i-1], fast[i], slow[i], rsi[i], atr[i], vol[i]) || !cd.ready(i) {
			continue
		}
		if vol[i] < c.MinVolumeRatio {
			continue
		}

		crossUp := fast[i-1] <= slow[i-1] && fast[i] > slow[i]
		crossDown := fast[i-1] >= slow[i-1] && fast[i] < slow[i]

		var dir trade.Direction
		switch {
		case crossUp && rsi[i] >= c.RSILongMin && rsi[i] <= c.RSILongMax:
			dir = trade.Long
		case crossDown && c.AllowShort && rsi[i] <= 100-c.RSILongMin && rsi[i] >= 100-c.RSILongMax:
			dir = trade.Short
		default:
			continue
		}

		stop, target := riskLevels(dir, s.Close[i], atr[i]*c.StopATR, c.RewardRisk)
		setups = append(setups, newSetup(NameMomentum, s, i, dir, stop, target, map[string]any{
			"rsi":          rsi[i],
			"atr":          atr[i],
			"volume_ratio": vol[i],
		}))
		cd.fire(i)
	}
	return setups, nil
}
