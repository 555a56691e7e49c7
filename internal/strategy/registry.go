package strategy

import (
	"errors"
	"fmt"
	"slices"

	"github.com/samber/lo"

	"github.com/sawpanic/regimerun/internal/market"
)

// Detector names as used in configuration and reports
const (
	NameMomentum           = "momentum"
	NameMeanReversion      = "mean_reversion"
	NameVolatilityBreakout = "volatility_breakout"
	NameMultiTimeframe     = "multi_timeframe"
	NameSmartMoney         = "smart_money"
)

// ErrUnknownDetector is returned for names outside the registry
var ErrUnknownDetector = errors.New("unknown detector")

// Config carries the parameters of every detector
type Config struct {
	Momentum           MomentumConfig           `yaml:"momentum"`
	MeanReversion      MeanReversionConfig      `yaml:"mean_reversion"`
	VolatilityBreakout VolatilityBreakoutConfig `yaml:"volatility_breakout"`
	MultiTimeframe     MultiTimeframeConfig     `yaml:"multi_timeframe"`
	SmartMoney         SmartMoneyConfig         `yaml:"smart_money"`
}

// DefaultConfig returns default parameters for all detectors
func DefaultConfig() Config {
	return Config{
		Momentum:           DefaultMomentumConfig(),
		MeanReversion:      DefaultMeanReversionConfig(),
		VolatilityBreakout: DefaultVolatilityBreakoutConfig(),
		MultiTimeframe:     DefaultMultiTimeframeConfig(),
		SmartMoney:         DefaultSmartMoneyConfig(),
	}
}

var constructors = map[string]func(Config) (Detector, error){
	NameMomentum: func(c Config) (Detector, error) {
		return NewMomentum(c.Momentum)
	},
	NameMeanReversion: func(c Config) (Detector, error) {
		return NewMeanReversion(c.MeanReversion)
	},
	NameVolatilityBreakout: func(c Config) (Detector, error) {
		return NewVolatilityBreakout(c.VolatilityBreakout)
	},
	NameMultiTimeframe: func(c Config) (Detector, error) {
		return NewMultiTimeframe(c.MultiTimeframe)
	},
	NameSmartMoney: func(c Config) (Detector, error) {
		return NewSmartMoney(c.SmartMoney)
	},
}

// Names lists the registered detectors in sorted order
func Names() []string {
	names := lo.Keys(constructors)
	slices.Sort(names)
	return names
}

// New builds the named detector from config
func New(name string, config Config) (Detector, error) {
	ctor, ok := constructors[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q (known: %v)", ErrUnknownDetector, name, Names())
	}
	d, err := ctor(config)
	if err != nil {
		return nil, fmt.Errorf("failed to build detector %s: %w", name, err)
	}
	return d, nil
}

// Validate builds every detector once so bad parameters surface at startup
func (c Config) Validate() error {
	var errs []error
	for _, name := range Names() {
		if _, err := New(name, c); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Static replays a fixed list of setups. It is used to backtest signals
// produced outside this module.
type Static struct {
	Label  string
	Setups []Setup
}

// Name implements Detector
func (s *Static) Name() string {
	if s.Label == "" {
		return "static"
	}
	return s.Label
}

// DetectSetups implements Detector
func (s *Static) DetectSetups(*market.Series) ([]Setup, error) {
	return slices.Clone(s.Setups), nil
}
