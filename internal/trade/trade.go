// Package trade models one position from open to close and the manager that
// owns every in-flight position of a single backtest run.
package trade

import (
	"fmt"
	"maps"
	"strings"
	"time"
)

// Direction is the side of a position
type Direction string

const (
	Long  Direction = "LONG"
	Short Direction = "SHORT"
)

// ParseDirection accepts LONG/SHORT in any case
func ParseDirection(s string) (Direction, error) {
	switch Direction(strings.ToUpper(strings.TrimSpace(s))) {
	case Long:
		return Long, nil
	case Short:
		return Short, nil
	default:
		return "", fmt.Errorf("unknown direction %q", s)
	}
}

// Sign is +1 for longs and -1 for shorts
func (d Direction) Sign() float64 {
	if d == Short {
		return -1
	}
	return 1
}

// Status is the lifecycle state of a trade
type Status string

const (
	StatusOpen   Status = "OPEN"
	StatusClosed Status = "CLOSED"
)

// ExitReason records which rule closed a trade
type ExitReason string

const (
	ExitStopLoss      ExitReason = "stop_loss"
	ExitTarget        ExitReason = "target"
	ExitTimeStop      ExitReason = "time_stop"
	ExitNoData        ExitReason = "no_data"
	ExitEndOfBacktest ExitReason = "end_of_backtest"
)

// ExitReasons lists every terminal reason in reporting order
var ExitReasons = []ExitReason{ExitStopLoss, ExitTarget, ExitTimeStop, ExitNoData, ExitEndOfBacktest}

// Valid reports whether r is one of the terminal reasons
func (r ExitReason) Valid() bool {
	for _, known := range ExitReasons {
		if r == known {
			return true
		}
	}
	return false
}

// Trade is one position. Values handed out by the Manager are copies; the
// manager's own record is the only one that ever changes.
type Trade struct {
	ID           int            `json:"id"`
	Symbol       string         `json:"symbol"`
	Direction    Direction      `json:"direction"`
	EntryTime    time.Time      `json:"entry_time"`
	EntryPrice   float64        `json:"entry_price"`
	PositionSize float64        `json:"position_size"`
	StopLoss     *float64       `json:"stop_loss,omitempty"`
	Target       *float64       `json:"target,omitempty"`
	Strategy     string         `json:"strategy"`
	Metadata     map[string]any `json:"metadata,omitempty"`

	Status     Status     `json:"status"`
	ExitTime   time.Time  `json:"exit_time,omitempty"`
	ExitPrice  float64    `json:"exit_price,omitempty"`
	ExitReason ExitReason `json:"exit_reason,omitempty"`
	PnL        float64    `json:"pnl"`
	PnLPct     float64    `json:"pnl_pct"`

	// MFE and MAE are percentages of entry price; MFE >= 0 >= MAE
	MFE float64 `json:"mfe"`
	MAE float64 `json:"mae"`
}

// IsOpen reports whether the trade has not been closed yet
func (t Trade) IsOpen() bool {
	return t.Status == StatusOpen
}

// Duration is the holding period; zero while open
func (t Trade) Duration() time.Duration {
	if t.IsOpen() {
		return 0
	}
	return t.ExitTime.Sub(t.EntryTime)
}

// ExcursionPct is the unrealised move at price as a percentage of entry,
// positive when the move favours the position
func (t Trade) ExcursionPct(price float64) float64 {
	return t.Direction.Sign() * (price - t.EntryPrice) / t.EntryPrice * 100
}

func (t *Trade) updateExcursions(price float64) {
	exc := t.ExcursionPct(price)
	if exc > t.MFE {
		t.MFE = exc
	}
	if exc < t.MAE {
		t.MAE = exc
	}
}

func (t *Trade) close(exitTime time.Time, exitPrice float64, reason ExitReason) {
	t.Status = StatusClosed
	t.ExitTime = exitTime
	t.ExitPrice = exitPrice
	t.ExitReason = reason
	t.PnL = t.Direction.Sign() * (exitPrice - t.EntryPrice) * t.PositionSize
	t.PnLPct = t.Direction.Sign() * (exitPrice - t.EntryPrice) / t.EntryPrice * 100
}

func (t *Trade) clone() Trade {
	c := *t
	c.Metadata = maps.Clone(t.Metadata)
	if t.StopLoss != nil {
		v := *t.StopLoss
		c.StopLoss = &v
	}
	if t.Target != nil {
		v := *t.Target
		c.Target = &v
	}
	return c
}

// Float returns a pointer to v, for optional stop and target levels
func Float(v float64) *float64 {
	return &v
}
