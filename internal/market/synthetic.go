package market

import (
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

// Segment describes one stretch of synthetic price action
type Segment struct {
	Bars       int     `yaml:"bars"`
	Drift      float64 `yaml:"drift"`      // mean log return per bar
	Volatility float64 `yaml:"volatility"` // std of log return per bar
}

// SyntheticConfig drives the seeded random-walk generator
type SyntheticConfig struct {
	Symbol     string        `yaml:"symbol"`
	Start      time.Time     `yaml:"start"`
	Interval   time.Duration `yaml:"interval"`
	StartPrice float64       `yaml:"start_price"`
	BaseVolume float64       `yaml:"base_volume"`
	Seed       uint64        `yaml:"seed"`
	Segments   []Segment     `yaml:"segments"`
}

// DefaultSyntheticConfig returns a bull, range, bear, range cycle of daily bars
func DefaultSyntheticConfig() SyntheticConfig {
	return SyntheticConfig{
		Symbol:     "SYNTH",
		Start:      time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		Interval:   24 * time.Hour,
		StartPrice: 100,
		BaseVolume: 1_000_000,
		Seed:       42,
		Segments: []Segment{
			{Bars: 300, Drift: 0.0015, Volatility: 0.012},
			{Bars: 200, Drift: 0.0, Volatility: 0.010},
			{Bars: 250, Drift: -0.0015, Volatility: 0.018},
			{Bars: 250, Drift: 0.0, Volatility: 0.010},
		},
	}
}

// Generate produces a deterministic series for the given seed
func Generate(cfg SyntheticConfig) (*Series, error) {
	if cfg.StartPrice <= 0 {
		return nil, fmt.Errorf("start price must be positive, got %.4f", cfg.StartPrice)
	}
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("interval must be positive, got %v", cfg.Interval)
	}

	total := 0
	for _, seg := range cfg.Segments {
		if seg.Bars < 0 || seg.Volatility < 0 {
			return nil, fmt.Errorf("invalid segment %+v", seg)
		}
		total += seg.Bars
	}
	if total == 0 {
		return nil, ErrEmptySeries
	}

	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15))
	bars := make([]Bar, 0, total)
	price := cfg.StartPrice
	ts := cfg.Start

	for _, seg := range cfg.Segments {
		for range seg.Bars {
			open := price
			ret := seg.Drift + seg.Volatility*rng.NormFloat64()
			closePx := open * math.Exp(ret)

			// intrabar range scales with segment volatility
			wick := math.Abs(rng.NormFloat64()) * seg.Volatility * 0.5
			high := math.Max(open, closePx) * (1 + wick)
			low := math.Min(open, closePx) * (1 - wick)

			volume := cfg.BaseVolume * (1 + math.Abs(ret)/math.Max(seg.Volatility, 1e-9)*0.5) * (0.8 + 0.4*rng.Float64())

			bars = append(bars, Bar{
				Time:   ts,
				Open:   open,
				High:   high,
				Low:    low,
				Close:  closePx,
				Volume: volume,
			})

			price = closePx
			ts = ts.Add(cfg.Interval)
		}
	}

	return NewSeries(cfg.Symbol, bars)
}
