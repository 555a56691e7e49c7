// Package regime labels a price history as BULL, BEAR or RANGE and routes
// each regime to the detector that trades it.
package regime

import (
	"fmt"
	"math"
	"strings"

	"github.com/sawpanic/regimerun/internal/indicators"
	"github.com/sawpanic/regimerun/internal/market"
)

// Regime represents the current market regime classification
type Regime int

const (
	Range Regime = iota
	Bull
	Bear
)

// Regimes lists every regime in reporting order
var Regimes = []Regime{Bull, Bear, Range}

func (r Regime) String() string {
	switch r {
	case Bull:
		return "BULL"
	case Bear:
		return "BEAR"
	case Range:
		return "RANGE"
	default:
		return "UNKNOWN"
	}
}

// MarshalText renders the regime by name
func (r Regime) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText parses a regime name
func (r *Regime) UnmarshalText(b []byte) error {
	parsed, err := ParseRegime(string(b))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// ParseRegime accepts BULL, BEAR or RANGE in any case
func ParseRegime(s string) (Regime, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BULL":
		return Bull, nil
	case "BEAR":
		return Bear, nil
	case "RANGE":
		return Range, nil
	default:
		return Range, fmt.Errorf("unknown regime %q", s)
	}
}

// ClassifierConfig holds configuration for the regime classifier
type ClassifierConfig struct {
	EMASpan        int     `yaml:"ema_span"`        // Default: 200
	MediumSpan     int     `yaml:"medium_span"`     // Default: 50
	BullThreshold  float64 `yaml:"bull_threshold"`  // Default: 1.02 (price 2% above EMA)
	BearThreshold  float64 `yaml:"bear_threshold"`  // Default: 0.98 (price 2% below EMA)
	Saturation     float64 `yaml:"saturation"`      // Default: 0.10, distance at full confidence
	AgreementBoost float64 `yaml:"agreement_boost"` // Default: 1.2
	UseADX         bool    `yaml:"use_adx"`         // Default: false
	ADXPeriod      int     `yaml:"adx_period"`      // Default: 14
	ADXThreshold   float64 `yaml:"adx_threshold"`   // Default: 20
}

// DefaultClassifierConfig returns the default classifier configuration
func DefaultClassifierConfig() ClassifierConfig {
	return ClassifierConfig{
		EMASpan:        200,
		MediumSpan:     50,
		BullThreshold:  1.02,
		BearThreshold:  0.98,
		Saturation:     0.10,
		AgreementBoost: 1.2,
		UseADX:         false,
		ADXPeriod:      14,
		ADXThreshold:   20,
	}
}

// Validate rejects configurations that cannot classify
func (c ClassifierConfig) Validate() error {
	if c.EMASpan < 2 {
		return fmt.Errorf("ema_span must be >= 2, got %d", c.EMASpan)
	}
	if c.MediumSpan < 2 {
		return fmt.Errorf("medium_span must be >= 2, got %d", c.MediumSpan)
	}
	if c.BullThreshold <= 1 {
		return fmt.Errorf("bull_threshold must be > 1, got %v", c.BullThreshold)
	}
	if c.BearThreshold <= 0 || c.BearThreshold >= 1 {
		return fmt.Errorf("bear_threshold must be in (0, 1), got %v", c.BearThreshold)
	}
	if c.Saturation <= 0 {
		return fmt.Errorf("saturation must be positive, got %v", c.Saturation)
	}
	if c.AgreementBoost < 1 {
		return fmt.Errorf("agreement_boost must be >= 1, got %v", c.AgreementBoost)
	}
	if c.UseADX && (c.ADXPeriod < 2 || c.ADXThreshold <= 0) {
		return fmt.Errorf("adx_period must be >= 2 and adx_threshold positive, got %d/%v", c.ADXPeriod, c.ADXThreshold)
	}
	return nil
}

// Result contains the regime classification result
type Result struct {
	Regime       Regime  `json:"regime"`
	Confidence   float64 `json:"confidence"` // 0.0-1.0
	Distance     float64 `json:"distance"`   // (price-ema)/ema
	EMA          float64 `json:"ema"`
	MediumEMA    float64 `json:"medium_ema"`
	ADX          float64 `json:"adx,omitempty"`
	Boosted      bool    `json:"boosted"`
	Vetoed       bool    `json:"vetoed"`       // trend call downgraded by ADX
	Insufficient bool    `json:"insufficient"` // fewer bars than the EMA span
}

// Classifier labels price histories. It holds no state between calls.
type Classifier struct {
	config ClassifierConfig
}

// NewClassifier creates a classifier with the given configuration
func NewClassifier(config ClassifierConfig) (*Classifier, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid classifier config: %w", err)
	}
	return &Classifier{config: config}, nil
}

// Config returns the classifier configuration
func (c *Classifier) Config() ClassifierConfig { return c.config }

// insufficientResult is returned when the history is shorter than the EMA span
var insufficientResult = Result{Regime: Range, Confidence: 0.5, Insufficient: true}

// Classify labels the history as of its last bar
func (c *Classifier) Classify(s *market.Series) Result {
	cfg := c.config
	if s == nil || s.Len() < cfg.EMASpan {
		return insufficientResult
	}

	ema := indicators.Last(indicators.EMA(s.Close, cfg.EMASpan))
	if math.IsNaN(ema) || ema <= 0 {
		return insufficientResult
	}
	medium := indicators.Last(indicators.EMA(s.Close, cfg.MediumSpan))

	price := s.Close[s.Len()-1]
	distance := (price - ema) / ema
	res := Result{Distance: distance, EMA: ema, MediumEMA: medium}

	bullBand := cfg.BullThreshold - 1
	bearBand := 1 - cfg.BearThreshold
	switch {
	case distance > bullBand:
		res.Regime = Bull
		res.Confidence = math.Min(math.Abs(distance)/cfg.Saturation, 1)
	case distance < -bearBand:
		res.Regime = Bear
		res.Confidence = math.Min(math.Abs(distance)/cfg.Saturation, 1)
	default:
		// the closer to the EMA, the more textbook the range
		band := bullBand
		if distance < 0 {
			band = bearBand
		}
		res.Regime = Range
		res.Confidence = clamp01(1 - math.Abs(distance)/band)
	}

	if !math.IsNaN(medium) {
		agrees := (res.Regime == Bull && medium > ema) || (res.Regime == Bear && medium < ema)
		if agrees {
			res.Confidence = math.Min(res.Confidence*cfg.AgreementBoost, 1)
			res.Boosted = true
		}
	}

	if cfg.UseADX && res.Regime != Range {
		adx := indicators.Last(indicators.ADX(s.High, s.Low, s.Close, cfg.ADXPeriod))
		if !math.IsNaN(adx) {
			res.ADX = adx
			if adx < cfg.ADXThreshold {
				res.Regime = Range
				res.Confidence = clamp01(1 - adx/cfg.ADXThreshold)
				res.Boosted = false
				res.Vetoed = true
			}
		}
	}

	return res
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
