package strategy

import (
	"fmt"

	"github.com/sawpanic/regimerun/internal/indicators"
	"github.com/sawpanic/regimerun/internal/market"
	"github.com/sawpanic/regimerun/internal/trade"
)

// SmartMoneyConfig defines liquidity-sweep parameters
type SmartMoneyConfig struct {
	SwingPeriod    int     `yaml:"swing_period"`     // 20 bars
	VolumePeriod   int     `yaml:"volume_period"`    // 20
	MinVolumeRatio float64 `yaml:"min_volume_ratio"` // 1.5x average
	ATRPeriod      int     `yaml:"atr_period"`       // 14
	StopBufferATR  float64 `yaml:"stop_buffer_atr"`  // 0.25 ATR past the sweep extreme
	RewardRisk     float64 `yaml:"reward_risk"`      // 2R
	RequireVWAP    bool    `yaml:"require_vwap"`     // longs only below VWAP, shorts only above
	AllowShort     bool    `yaml:"allow_short"`
	CooldownBars   int     `yaml:"cooldown_bars"` // 5
}

// DefaultSmartMoneyConfig returns the default liquidity-sweep parameters
func DefaultSmartMoneyConfig() SmartMoneyConfig {
	return SmartMoneyConfig{
		SwingPeriod:    20,
		VolumePeriod:   20,
		MinVolumeRatio: 1.5,
		ATRPeriod:      14,
		StopBufferATR:  0.25,
		RewardRisk:     2.0,
		RequireVWAP:    true,
		AllowShort:     true,
		CooldownBars:   5,
	}
}

// SmartMoney looks for a bar that runs the stops below a prior swing low (or
// above a swing high) on heavy volume and closes back inside the range
type SmartMoney struct {
	config SmartMoneyConfig
}

// NewSmartMoney creates a liquidity-sweep detector
func NewSmartMoney(config SmartMoneyConfig) (*SmartMoney, error) {
	if config.SwingPeriod < 2 || config.VolumePeriod < 1 {
		return nil, fmt.Errorf("smart_money: invalid periods %d/%d", config.SwingPeriod, config.VolumePeriod)
	}
	if config.RewardRisk <= 0 || config.StopBufferATR < 0 {
		return nil, fmt.Errorf("smart_money: invalid risk parameters")
	}
	return &SmartMoney{config: config}, nil
}

// Name implements Detector
func (m *SmartMoney) Name() string { return NameSmartMoney }

// DetectSetups implements Detector
func (m *SmartMoney) DetectSetups(s *market.Series) ([]Setup, error) {
	if s == nil {
		return nil, market.ErrEmptySeries
	}
	c := m.config
	swingHigh := indicators.Highest(s.High, c.SwingPeriod)
	swingLow := indicators.Lowest(s.Low, c.SwingPeriod)
	vol := indicators.VolumeRatio(s.Volume, c.VolumePeriod)
	atr := indicators.ATR(s.High, s.Low, s.Close, c.ATRPeriod)
	vwap := indicators.VWAP(s.High, s.Low, s.Close, s.Volume)

	var setups []Setup
	cd := newCooldown(c.CooldownBars)
	for i := 1; i < s.Len(); i++ {
		hi, lo := swingHigh[i-1], swingLow[i-1]
		if !finite(hi, lo, vol[i], atr[i], vwap[i]) || !cd.ready(i) {
			continue
		}
		if vol[i] < c.MinVolumeRatio {
			continue
		}

		price := s.Close[i]
		var dir trade.Direction
		var extreme, swept float64
		switch {
		case s.Low[i] < lo && price > lo && (!c.RequireVWAP || price < vwap[i]):
			dir, extreme, swept = trade.Long, s.Low[i], lo
		case c.AllowShort && s.High[i] > hi && price < hi && (!c.RequireVWAP || price > vwap[i]):
			dir, extreme, swept = trade.Short, s.High[i], hi
		default:
			continue
		}

		riskDist := dir.Sign()*(price-extreme) + atr[i]*c.StopBufferATR
		if riskDist <= 0 {
			continue
		}
		stop, target := riskLevels(dir, price, riskDist, c.RewardRisk)
		setups = append(setups, newSetup(NameSmartMoney, s, i, dir, stop, target, map[string]any{
			"swept_level":  swept,
			"volume_ratio": vol[i],
			"vwap":         vwap[i],
		}))
		cd.fire(i)
	}
	return setups, nil
}
