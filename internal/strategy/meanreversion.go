package strategy

import (
	"fmt"

	"github.com/sawpanic/regimerun/internal/indicators"
	"github.com/sawpanic/regimerun/internal/market"
	"github.com/sawpanic/regimerun/internal/trade"
)

// MeanReversionConfig defines Bollinger/RSI fade parameters
type MeanReversionConfig struct {
	BandPeriod   int     `yaml:"band_period"`  // 20
	BandStdDev   float64 `yaml:"band_std_dev"` // 2.0
	RSIPeriod    int     `yaml:"rsi_period"`   // 14
	Oversold     float64 `yaml:"oversold"`     // 30
	Overbought   float64 `yaml:"overbought"`   // 70
	ATRPeriod    int     `yaml:"atr_period"`   // 14
	StopATR      float64 `yaml:"stop_atr"`     // 1.0 ATR beyond entry
	AllowShort   bool    `yaml:"allow_short"`
	CooldownBars int     `yaml:"cooldown_bars"` // 3
}

// DefaultMeanReversionConfig returns the default mean-reversion parameters
func DefaultMeanReversionConfig() MeanReversionConfig {
	return MeanReversionConfig{
		BandPeriod:   20,
		BandStdDev:   2.0,
		RSIPeriod:    14,
		Oversold:     30,
		Overbought:   70,
		ATRPeriod:    14,
		StopATR:      1.0,
		AllowShort:   true,
		CooldownBars: 3,
	}
}

// MeanReversion fades closes outside the Bollinger bands when RSI is
// stretched, targeting the middle band
type MeanReversion struct {
	config MeanReversionConfig
}

// NewMeanReversion creates a mean-reversion detector
func NewMeanReversion(config MeanReversionConfig) (*MeanReversion, error) {
	if config.BandPeriod < 2 || config.BandStdDev <= 0 {
		return nil, fmt.Errorf("mean_reversion: invalid band %d/%v", config.BandPeriod, config.BandStdDev)
	}
	if config.Oversold >= config.Overbought {
		return nil, fmt.Errorf("mean_reversion: oversold %v must be below overbought %v", config.Oversold, config.Overbought)
	}
	return &MeanReversion{config: config}, nil
}

// Name implements Detector
func (m *MeanReversion) Name() string { return NameMeanReversion }

// DetectSetups implements Detector
func (m *MeanReversion) DetectSetups(s *market.Series) ([]Setup, error) {
	if s == nil {
		return nil, market.ErrEmptySeries
	}
	c := m.config
	bands := indicators.BollingerBands(s.Close, c.BandPeriod, c.BandStdDev)
	rsi := indicators.RSI(s.Close, c.RSIPeriod)
	atr := indicators.ATR(s.High, s.Low, s.Close, c.ATRPeriod)

	var setups []Setup
	cd := newCooldown(c.CooldownBars)
	for i := 0; i < s.Len(); i++ {
		lower, mid, upper := bands.Lower[i], bands.Middle[i], bands.Upper[i]
		if !finite(lower, mid, upper, rsi[i], atr[i]) || !cd.ready(i) {
			continue
		}

		price := s.Close[i]
		var dir trade.Direction
		switch {
		case price < lower && rsi[i] < c.Oversold:
			dir = trade.Long
		case c.AllowShort && price > upper && rsi[i] > c.Overbought:
			dir = trade.Short
		default:
			continue
		}

		stop := price - dir.Sign()*atr[i]*c.StopATR
		if stop <= 0 {
			continue
		}
		setups = append(setups, newSetup(NameMeanReversion, s, i, dir, trade.Float(stop), trade.Float(mid), map[string]any{
			"rsi":         rsi[i],
			"band_lower":  lower,
			"band_middle": mid,
			"band_upper":  upper,
		}))
		cd.fire(i)
	}
	return setups, nil
}
