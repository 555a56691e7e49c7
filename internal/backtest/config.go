// Package backtest replays detector setups bar by bar through a
// trade.Manager and returns the closed trades.
package backtest

import (
	"errors"
	"fmt"

	"github.com/sawpanic/regimerun/internal/trade"
)

// ErrInvalidConfig wraps every configuration rejection
var ErrInvalidConfig = errors.New("invalid backtest config")

// ExitPolicy decides which level fills when one bar touches both the stop
// and the target
type ExitPolicy string

const (
	// ExitPessimistic assumes the stop was reached first
	ExitPessimistic ExitPolicy = "pessimistic"
	// ExitNearestOpen fills whichever level is closer to the bar open; ties go to the stop
	ExitNearestOpen ExitPolicy = "nearest_open"
)

// Config represents backtest engine configuration
type Config struct {
	InitialCapital      float64 `yaml:"initial_capital"`       // Default: 100000
	RiskPerTrade        float64 `yaml:"risk_per_trade"`        // Default: 0.01
	MaxPositionFraction float64 `yaml:"max_position_fraction"` // Default: 0.20
	NoStopFraction      float64 `yaml:"no_stop_fraction"`      // Default: 0.01
	MaxConcurrentTrades int     `yaml:"max_concurrent_trades"` // Default: 3; 0 opens nothing

	SlippageEnabled     bool    `yaml:"slippage_enabled"`
	SlippageProbability float64 `yaml:"slippage_probability"` // Default: 0.3
	SlippageDelayBars   int     `yaml:"slippage_delay_bars"`  // Default: 1
	SlippageSeed        uint64  `yaml:"slippage_seed"`        // Default: 42

	UsePercentageTargets bool    `yaml:"use_percentage_targets"`
	StopLossPct          float64 `yaml:"stop_loss_pct"`   // Default: 2.0
	TakeProfitPct        float64 `yaml:"take_profit_pct"` // Default: 4.0

	DefaultStopPct   float64 `yaml:"default_stop_pct"`   // Default: 1.0, used when a setup has no stop
	DefaultTargetPct float64 `yaml:"default_target_pct"` // Default: 3.0, used when a setup has no target

	LookaheadBars int        `yaml:"lookahead_bars"` // Default: 60
	ExitPolicy    ExitPolicy `yaml:"exit_policy"`    // Default: pessimistic
}

// DefaultConfig returns default backtest configuration
func DefaultConfig() Config {
	return Config{
		InitialCapital:       100_000,
		RiskPerTrade:         0.01,
		MaxPositionFraction:  0.20,
		NoStopFraction:       0.01,
		MaxConcurrentTrades:  3,
		SlippageEnabled:      false,
		SlippageProbability:  0.3,
		SlippageDelayBars:    1,
		SlippageSeed:         42,
		UsePercentageTargets: false,
		StopLossPct:          2.0,
		TakeProfitPct:        4.0,
		DefaultStopPct:       1.0,
		DefaultTargetPct:     3.0,
		LookaheadBars:        60,
		ExitPolicy:           ExitPessimistic,
	}
}

// Sizing returns the position sizing part of the configuration
func (c Config) Sizing() trade.SizingConfig {
	return trade.SizingConfig{
		RiskPerTrade:        c.RiskPerTrade,
		MaxPositionFraction: c.MaxPositionFraction,
		NoStopFraction:      c.NoStopFraction,
	}
}

// Validate ensures the configuration is valid and consistent
func (c Config) Validate() error {
	if err := c.validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

func (c Config) validate() error {
	if c.InitialCapital <= 0 {
		return fmt.Errorf("initial_capital must be positive, got %v", c.InitialCapital)
	}
	if err := c.Sizing().Validate(); err != nil {
		return err
	}
	if c.MaxConcurrentTrades < 0 {
		return fmt.Errorf("max_concurrent_trades cannot be negative, got %d", c.MaxConcurrentTrades)
	}

	if c.SlippageEnabled {
		if c.SlippageProbability < 0 || c.SlippageProbability > 1 {
			return fmt.Errorf("slippage_probability must be between 0 and 1, got %v", c.SlippageProbability)
		}
		if c.SlippageDelayBars < 1 {
			return fmt.Errorf("slippage_delay_bars must be >= 1, got %d", c.SlippageDelayBars)
		}
	}

	if c.UsePercentageTargets {
		if c.StopLossPct <= 0 || c.StopLossPct >= 100 {
			return fmt.Errorf("stop_loss_pct must be in (0, 100), got %v", c.StopLossPct)
		}
		if c.TakeProfitPct <= 0 {
			return fmt.Errorf("take_profit_pct must be positive, got %v", c.TakeProfitPct)
		}
	}
	if c.DefaultStopPct <= 0 || c.DefaultStopPct >= 100 {
		return fmt.Errorf("default_stop_pct must be in (0, 100), got %v", c.DefaultStopPct)
	}
	if c.DefaultTargetPct <= 0 {
		return fmt.Errorf("default_target_pct must be positive, got %v", c.DefaultTargetPct)
	}

	if c.LookaheadBars < 1 {
		return fmt.Errorf("lookahead_bars must be >= 1, got %d", c.LookaheadBars)
	}
	switch c.ExitPolicy {
	case ExitPessimistic, ExitNearestOpen:
	default:
		return fmt.Errorf("exit_policy must be %q or %q, got %q", ExitPessimistic, ExitNearestOpen, c.ExitPolicy)
	}
	return nil
}
