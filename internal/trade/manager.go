package trade

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"
)

var (
	// ErrTradeClosed is returned when closing or updating a trade that already closed
	ErrTradeClosed = errors.New("trade already closed")
	// ErrUnknownHandle is returned for handles this manager never issued
	ErrUnknownHandle = errors.New("unknown trade handle")
	// ErrInvalidPrice is returned for non-positive or non-finite prices
	ErrInvalidPrice = errors.New("invalid price")
	// ErrExitBeforeEntry is returned when an exit is stamped before its entry
	ErrExitBeforeEntry = errors.New("exit time before entry time")
	// ErrInvalidReason is returned for exit reasons outside the terminal set
	ErrInvalidReason = errors.New("invalid exit reason")
)

// Handle addresses a trade inside the Manager that opened it
type Handle int

// SizingConfig controls risk-based position sizing
type SizingConfig struct {
	RiskPerTrade        float64 `yaml:"risk_per_trade"`        // fraction of capital risked per trade
	MaxPositionFraction float64 `yaml:"max_position_fraction"` // cap on position value as fraction of capital
	NoStopFraction      float64 `yaml:"no_stop_fraction"`      // position value fraction when no stop is given
}

// DefaultSizingConfig returns 1% risk, 20% position cap, 1% no-stop sizing
func DefaultSizingConfig() SizingConfig {
	return SizingConfig{
		RiskPerTrade:        0.01,
		MaxPositionFraction: 0.20,
		NoStopFraction:      0.01,
	}
}

// Validate rejects sizing that cannot produce meaningful positions
func (c SizingConfig) Validate() error {
	if c.RiskPerTrade <= 0 || c.RiskPerTrade > 1 {
		return fmt.Errorf("risk_per_trade must be in (0, 1], got %v", c.RiskPerTrade)
	}
	if c.MaxPositionFraction <= 0 || c.MaxPositionFraction > 1 {
		return fmt.Errorf("max_position_fraction must be in (0, 1], got %v", c.MaxPositionFraction)
	}
	if c.NoStopFraction <= 0 || c.NoStopFraction > 1 {
		return fmt.Errorf("no_stop_fraction must be in (0, 1], got %v", c.NoStopFraction)
	}
	return nil
}

// OpenRequest carries everything needed to open a position
type OpenRequest struct {
	Symbol     string
	Direction  Direction
	EntryTime  time.Time
	EntryPrice float64
	StopLoss   *float64
	Target     *float64
	Strategy   string
	Metadata   map[string]any
}

// Manager owns the open trades, the closed trades and the running capital of
// one backtest run. It is not safe for concurrent use; parallel runs each
// build their own Manager.
type Manager struct {
	sizing         SizingConfig
	initialCapital float64
	capital        float64

	trades  []*Trade // arena indexed by Handle
	open    []Handle // insertion order
	closed  []Trade
	aborted int

	peakConcurrent int
}

// NewManager creates a manager with the given starting capital
func NewManager(initialCapital float64, sizing SizingConfig) (*Manager, error) {
	if initialCapital <= 0 || math.IsInf(initialCapital, 0) || math.IsNaN(initialCapital) {
		return nil, fmt.Errorf("initial capital must be positive, got %v", initialCapital)
	}
	if err := sizing.Validate(); err != nil {
		return nil, err
	}
	return &Manager{
		sizing:         sizing,
		initialCapital: initialCapital,
		capital:        initialCapital,
	}, nil
}

// CanOpen reports whether fewer than maxConcurrent trades are open
func (m *Manager) CanOpen(maxConcurrent int) bool {
	return len(m.open) < maxConcurrent
}

// PositionSize returns whole units for a new position at entry. With a stop,
// units = capital*risk / |entry-stop|; without one (or with a stop at the
// entry price) the position is worth NoStopFraction of capital. Either way
// the position value is capped at MaxPositionFraction of capital.
func (m *Manager) PositionSize(entry float64, stop *float64) float64 {
	if entry <= 0 || m.capital <= 0 {
		return 0
	}

	var units float64
	switch {
	case stop == nil:
		units = m.capital * m.sizing.NoStopFraction / entry
	case *stop == entry:
		units = m.capital * m.sizing.NoStopFraction / entry
	default:
		riskAmount := m.capital * m.sizing.RiskPerTrade
		units = riskAmount / math.Abs(entry-*stop)
	}

	maxUnits := m.capital * m.sizing.MaxPositionFraction / entry
	if units > maxUnits {
		units = maxUnits
	}

	return math.Floor(units)
}

// Open creates a new OPEN trade sized from current capital. Callers check
// CanOpen first. A zero-unit trade is still opened and returned.
func (m *Manager) Open(req OpenRequest) (Handle, error) {
	if !validPrice(req.EntryPrice) {
		return -1, fmt.Errorf("%w: entry %v", ErrInvalidPrice, req.EntryPrice)
	}
	if req.StopLoss != nil && !validPrice(*req.StopLoss) {
		return -1, fmt.Errorf("%w: stop %v", ErrInvalidPrice, *req.StopLoss)
	}
	if req.Target != nil && !validPrice(*req.Target) {
		return -1, fmt.Errorf("%w: target %v", ErrInvalidPrice, *req.Target)
	}
	if req.Direction != Long && req.Direction != Short {
		return -1, fmt.Errorf("unknown direction %q", req.Direction)
	}

	h := Handle(len(m.trades))
	t := Trade{
		ID:           int(h),
		Symbol:       req.Symbol,
		Direction:    req.Direction,
		EntryTime:    req.EntryTime,
		EntryPrice:   req.EntryPrice,
		PositionSize: m.PositionSize(req.EntryPrice, req.StopLoss),
		StopLoss:     req.StopLoss,
		Target:       req.Target,
		Strategy:     req.Strategy,
		Metadata:     req.Metadata,
		Status:       StatusOpen,
	}
	// the manager keeps its own copy of caller-owned metadata and levels
	stored := t.clone()

	m.trades = append(m.trades, &stored)
	m.open = append(m.open, h)
	if len(m.open) > m.peakConcurrent {
		m.peakConcurrent = len(m.open)
	}
	return h, nil
}

func validPrice(p float64) bool {
	return p > 0 && !math.IsNaN(p) && !math.IsInf(p, 0)
}

func (m *Manager) lookup(h Handle) (*Trade, error) {
	if h < 0 || int(h) >= len(m.trades) || m.trades[h] == nil {
		return nil, fmt.Errorf("%w: %d", ErrUnknownHandle, h)
	}
	return m.trades[h], nil
}

// Trade returns a copy of the trade behind h
func (m *Manager) Trade(h Handle) (Trade, error) {
	t, err := m.lookup(h)
	if err != nil {
		return Trade{}, err
	}
	return t.clone(), nil
}

// UpdateExcursions folds price into the trade's MFE/MAE
func (m *Manager) UpdateExcursions(h Handle, price float64) error {
	t, err := m.lookup(h)
	if err != nil {
		return err
	}
	if !t.IsOpen() {
		return fmt.Errorf("%w: trade %d", ErrTradeClosed, h)
	}
	t.updateExcursions(price)
	return nil
}

// Close finalises the trade, books its P&L into capital and returns the
// closed copy. Closing twice is an error.
func (m *Manager) Close(h Handle, exitTime time.Time, exitPrice float64, reason ExitReason) (Trade, error) {
	t, err := m.lookup(h)
	if err != nil {
		return Trade{}, err
	}
	if !t.IsOpen() {
		return Trade{}, fmt.Errorf("%w: trade %d", ErrTradeClosed, h)
	}
	if !reason.Valid() {
		return Trade{}, fmt.Errorf("%w: %q", ErrInvalidReason, reason)
	}
	if !validPrice(exitPrice) {
		return Trade{}, fmt.Errorf("%w: exit %v", ErrInvalidPrice, exitPrice)
	}
	if exitTime.Before(t.EntryTime) {
		return Trade{}, fmt.Errorf("%w: trade %d", ErrExitBeforeEntry, h)
	}

	t.close(exitTime, exitPrice, reason)
	m.capital += t.PnL
	m.removeOpen(h)

	closed := t.clone()
	m.closed = append(m.closed, closed)
	return closed, nil
}

// Abort discards an open trade without touching capital. It exists so a
// failed simulation can be rolled back without corrupting the accounting.
func (m *Manager) Abort(h Handle) error {
	t, err := m.lookup(h)
	if err != nil {
		return err
	}
	if !t.IsOpen() {
		return fmt.Errorf("%w: trade %d", ErrTradeClosed, h)
	}
	m.removeOpen(h)
	m.trades[h] = nil
	m.aborted++
	return nil
}

func (m *Manager) removeOpen(h Handle) {
	for i, oh := range m.open {
		if oh == h {
			m.open = append(m.open[:i], m.open[i+1:]...)
			return
		}
	}
}

// ForceCloseAll closes every open trade at the price given for its symbol.
// Trades whose symbol has no price stay open and are reported in the error.
func (m *Manager) ForceCloseAll(at time.Time, prices map[string]float64, reason ExitReason) ([]Trade, error) {
	pending := append([]Handle(nil), m.open...)
	sort.Slice(pending, func(i, j int) bool { return pending[i] < pending[j] })

	var closed []Trade
	var errs []error
	for _, h := range pending {
		t := m.trades[h]
		price, ok := prices[t.Symbol]
		if !ok {
			errs = append(errs, fmt.Errorf("no closing price for %s (trade %d)", t.Symbol, h))
			continue
		}
		exitTime := at
		if exitTime.Before(t.EntryTime) {
			exitTime = t.EntryTime
		}
		c, err := m.Close(h, exitTime, price, reason)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		closed = append(closed, c)
	}
	return closed, errors.Join(errs...)
}

// Capital is the running capital: initial capital plus realised P&L
func (m *Manager) Capital() float64 { return m.capital }

// InitialCapital is the capital the run started with
func (m *Manager) InitialCapital() float64 { return m.initialCapital }

// OpenCount is the number of trades currently open
func (m *Manager) OpenCount() int { return len(m.open) }

// PeakConcurrent is the high-water mark of simultaneously open trades
func (m *Manager) PeakConcurrent() int { return m.peakConcurrent }

// Aborted counts trades rolled back with Abort
func (m *Manager) Aborted() int { return m.aborted }

// Closed returns copies of the closed trades in close order
func (m *Manager) Closed() []Trade {
	out := make([]Trade, len(m.closed))
	for i := range m.closed {
		out[i] = m.closed[i].clone()
	}
	return out
}
