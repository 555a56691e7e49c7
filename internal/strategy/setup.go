// Package strategy holds the setup detectors the backtest engine consumes.
// Every detector only looks at bars up to and including the bar it signals on.
package strategy

import (
	"math"
	"time"

	"github.com/sawpanic/regimerun/internal/market"
	"github.com/sawpanic/regimerun/internal/trade"
)

// Setup is a candidate trade produced by a Detector
type Setup struct {
	Direction  trade.Direction `json:"direction"`
	EntryTime  time.Time       `json:"entry_time"`
	EntryPrice float64         `json:"entry_price"`
	StopLoss   *float64        `json:"stop_loss,omitempty"`
	Target     *float64        `json:"target,omitempty"`
	Metadata   map[string]any  `json:"metadata,omitempty"`
}

// Detector scans a price history for candidate setups. Setups are returned
// in chronological order.
type Detector interface {
	Name() string
	DetectSetups(series *market.Series) ([]Setup, error)
}

// riskLevels places a stop riskDist away from entry against the position and
// a target rewardMultiple times that distance in its favour
func riskLevels(dir trade.Direction, entry, riskDist, rewardMultiple float64) (stop, target *float64) {
	sign := dir.Sign()
	s := entry - sign*riskDist
	t := entry + sign*riskDist*rewardMultiple
	if s <= 0 || t <= 0 {
		return nil, nil
	}
	return trade.Float(s), trade.Float(t)
}

// finite reports whether every value is a usable number
func finite(vals ...float64) bool {
	for _, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// cooldown suppresses signals for a number of bars after each one fires
type cooldown struct {
	bars int
	last int
}

func newCooldown(bars int) *cooldown {
	return &cooldown{bars: bars, last: -1 << 30}
}

func (c *cooldown) ready(i int) bool {
	return i-c.last > c.bars
}

func (c *cooldown) fire(i int) {
	c.last = i
}

func newSetup(name string, s *market.Series, i int, dir trade.Direction, stop, target *float64, meta map[string]any) Setup {
	if meta == nil {
		meta = make(map[string]any, 1)
	}
	meta["detector"] = name
	return Setup{
		Direction:  dir,
		EntryTime:  s.Time[i],
		EntryPrice: s.Close[i],
		StopLoss:   stop,
		Target:     target,
		Metadata:   meta,
	}
}
