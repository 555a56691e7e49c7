package regime

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/sawpanic/regimerun/internal/indicators"
	"github.com/sawpanic/regimerun/internal/market"
	"github.com/sawpanic/regimerun/internal/strategy"
)

// VolatilityFilterConfig routes high-volatility regimes to alternative
// detectors
type VolatilityFilterConfig struct {
	Enabled        bool              `yaml:"enabled"`          // Default: false
	Window         int               `yaml:"window"`           // Default: 20 bars
	PeriodsPerYear float64           `yaml:"periods_per_year"` // Default: 252
	Threshold      float64           `yaml:"threshold"`        // Default: 0.40 annualised
	Overrides      map[string]string `yaml:"overrides"`        // regime -> detector when volatile
}

// SelectorConfig holds the regime to detector routing
type SelectorConfig struct {
	Mapping          map[string]string      `yaml:"mapping"` // regime -> detector
	VolatilityFilter VolatilityFilterConfig `yaml:"volatility_filter"`
	// SwitchConfidence keeps the active regime until a different regime is
	// classified with at least this confidence. 0 switches on every change.
	SwitchConfidence float64 `yaml:"switch_confidence"`
}

// DefaultSelectorConfig returns the default routing
func DefaultSelectorConfig() SelectorConfig {
	return SelectorConfig{
		Mapping: map[string]string{
			Bull.String():  strategy.NameMultiTimeframe,
			Bear.String():  strategy.NameMeanReversion,
			Range.String(): strategy.NameMeanReversion,
		},
		VolatilityFilter: VolatilityFilterConfig{
			Enabled:        false,
			Window:         20,
			PeriodsPerYear: 252,
			Threshold:      0.40,
			Overrides: map[string]string{
				Bull.String():  strategy.NameMeanReversion,
				Range.String(): strategy.NameVolatilityBreakout,
			},
		},
		SwitchConfidence: 0,
	}
}

// Change tracks regime transitions
type Change struct {
	Timestamp  time.Time `json:"timestamp"`
	FromRegime Regime    `json:"from_regime"`
	ToRegime   Regime    `json:"to_regime"`
	Confidence float64   `json:"confidence"`
}

// Selection is the outcome of one Select call
type Selection struct {
	Name       string            `json:"strategy"`
	Detector   strategy.Detector `json:"-"`
	Regime     Regime            `json:"regime"` // active regime after hysteresis
	Result     Result            `json:"classification"`
	Volatility float64           `json:"volatility"`
	HighVol    bool              `json:"high_vol"`
	Overridden bool              `json:"overridden"` // volatility filter replaced the mapped detector
	Held       bool              `json:"held"`       // classification differed but confidence was below the switch level
}

// Selector picks one detector per call from the classified regime. The
// regime is recomputed from scratch on every call; only the change counter
// and history carry over. Not safe for concurrent use.
type Selector struct {
	classifier *Classifier
	config     SelectorConfig
	mapping    map[Regime]string
	overrides  map[Regime]string
	detectors  map[string]strategy.Detector
	logger     zerolog.Logger

	active  *Regime
	changes []Change
}

// SelectorOption configures a Selector
type SelectorOption func(*Selector)

// WithSelectorLogger sets the logger used for regime switches
func WithSelectorLogger(l zerolog.Logger) SelectorOption {
	return func(s *Selector) { s.logger = l }
}

// NewSelector builds every detector the routing can reach so bad names fail
// before any backtest runs
func NewSelector(classifier *Classifier, config SelectorConfig, detectors strategy.Config, opts ...SelectorOption) (*Selector, error) {
	if classifier == nil {
		return nil, fmt.Errorf("selector requires a classifier")
	}
	if config.SwitchConfidence < 0 || config.SwitchConfidence > 1 {
		return nil, fmt.Errorf("switch_confidence must be in [0, 1], got %v", config.SwitchConfidence)
	}

	s := &Selector{
		classifier: classifier,
		config:     config,
		mapping:    make(map[Regime]string, len(Regimes)),
		overrides:  make(map[Regime]string),
		detectors:  make(map[string]strategy.Detector),
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	for key, name := range config.Mapping {
		r, err := ParseRegime(key)
		if err != nil {
			return nil, fmt.Errorf("invalid mapping: %w", err)
		}
		s.mapping[r] = name
	}
	for _, r := range Regimes {
		if _, ok := s.mapping[r]; !ok {
			return nil, fmt.Errorf("mapping has no detector for %s", r)
		}
	}

	vf := config.VolatilityFilter
	if vf.Enabled {
		if vf.Window < 2 || vf.PeriodsPerYear <= 0 || vf.Threshold <= 0 {
			return nil, fmt.Errorf("invalid volatility filter: window=%d periods_per_year=%v threshold=%v",
				vf.Window, vf.PeriodsPerYear, vf.Threshold)
		}
		for key, name := range vf.Overrides {
			r, err := ParseRegime(key)
			if err != nil {
				return nil, fmt.Errorf("invalid volatility override: %w", err)
			}
			s.overrides[r] = name
		}
	}

	names := make([]string, 0, len(s.mapping)+len(s.overrides))
	for _, n := range s.mapping {
		names = append(names, n)
	}
	for _, n := range s.overrides {
		names = append(names, n)
	}
	for _, name := range names {
		if _, ok := s.detectors[name]; ok {
			continue
		}
		d, err := strategy.New(name, detectors)
		if err != nil {
			return nil, err
		}
		s.detectors[name] = d
	}

	return s, nil
}

// Select classifies the history and returns the detector for its regime.
// The base mapping is applied first; the volatility filter, when enabled,
// takes priority over it.
func (s *Selector) Select(series *market.Series) (Selection, error) {
	if series == nil || series.Len() == 0 {
		return Selection{}, market.ErrEmptySeries
	}

	res := s.classifier.Classify(series)
	current := s.transition(res, series.Last().Time)

	sel := Selection{
		Regime: current,
		Result: res,
		Name:   s.mapping[current],
		Held:   current != res.Regime,
	}

	if s.config.VolatilityFilter.Enabled {
		vf := s.config.VolatilityFilter
		if hv, ok := indicators.HistoricalVolatility(series.Close, vf.Window, vf.PeriodsPerYear); ok {
			sel.Volatility = hv
			sel.HighVol = hv > vf.Threshold
		}
		if override, ok := s.overrides[current]; ok && sel.HighVol {
			sel.Name = override
			sel.Overridden = true
		}
	}

	sel.Detector = s.detectors[sel.Name]
	return sel, nil
}

// transition applies the switch threshold and records regime changes
func (s *Selector) transition(res Result, at time.Time) Regime {
	if s.active == nil {
		r := res.Regime
		s.active = &r
		return r
	}

	prev := *s.active
	if res.Regime == prev {
		return prev
	}
	if res.Confidence < s.config.SwitchConfidence {
		return prev
	}

	s.changes = append(s.changes, Change{
		Timestamp:  at,
		FromRegime: prev,
		ToRegime:   res.Regime,
		Confidence: res.Confidence,
	})
	*s.active = res.Regime

	s.logger.Info().
		Str("from", prev.String()).
		Str("to", res.Regime.String()).
		Float64("confidence", res.Confidence).
		Time("at", at).
		Msg("Regime change")

	return res.Regime
}

// RegimeChanges counts regime switches since construction or Reset
func (s *Selector) RegimeChanges() int {
	return len(s.changes)
}

// History returns the regime change history
func (s *Selector) History() []Change {
	out := make([]Change, len(s.changes))
	copy(out, s.changes)
	return out
}

// Active returns the regime in force, false before the first Select
func (s *Selector) Active() (Regime, bool) {
	if s.active == nil {
		return Range, false
	}
	return *s.active, true
}

// Reset forgets the active regime and the change history
func (s *Selector) Reset() {
	s.active = nil
	s.changes = nil
}

// Detector returns a detector the selector can route to
func (s *Selector) Detector(name string) (strategy.Detector, bool) {
	d, ok := s.detectors[name]
	return d, ok
}
