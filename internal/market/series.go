// Package market holds the in-memory OHLCV price tables every backtest runs on.
package market

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"
)

var (
	// ErrEmptySeries is returned when a series is built from zero bars
	ErrEmptySeries = errors.New("price series has no bars")
	// ErrNotMonotonic is returned when timestamps are not strictly increasing
	ErrNotMonotonic = errors.New("price series timestamps must be strictly increasing")
	// ErrInvalidBar is returned for bars with non-finite or inconsistent prices
	ErrInvalidBar = errors.New("invalid price bar")
)

// Bar is one OHLCV row
type Bar struct {
	Time   time.Time `json:"timestamp"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// Series is a column-oriented, read-only price history for one symbol.
// Columns share the same length and are ordered by strictly increasing time.
type Series struct {
	Symbol string
	Time   []time.Time
	Open   []float64
	High   []float64
	Low    []float64
	Close  []float64
	Volume []float64
}

// NewSeries validates bars and lays them out column-wise
func NewSeries(symbol string, bars []Bar) (*Series, error) {
	if len(bars) == 0 {
		return nil, ErrEmptySeries
	}

	s := &Series{
		Symbol: symbol,
		Time:   make([]time.Time, len(bars)),
		Open:   make([]float64, len(bars)),
		High:   make([]float64, len(bars)),
		Low:    make([]float64, len(bars)),
		Close:  make([]float64, len(bars)),
		Volume: make([]float64, len(bars)),
	}

	for i, b := range bars {
		if err := validateBar(b); err != nil {
			return nil, fmt.Errorf("bar %d (%s): %w", i, b.Time.Format(time.RFC3339), err)
		}
		if i > 0 && !b.Time.After(bars[i-1].Time) {
			return nil, fmt.Errorf("bar %d (%s): %w", i, b.Time.Format(time.RFC3339), ErrNotMonotonic)
		}
		s.Time[i] = b.Time
		s.Open[i] = b.Open
		s.High[i] = b.High
		s.Low[i] = b.Low
		s.Close[i] = b.Close
		s.Volume[i] = b.Volume
	}

	return s, nil
}

func validateBar(b Bar) error {
	for _, v := range []float64{b.Open, b.High, b.Low, b.Close, b.Volume} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-finite value", ErrInvalidBar)
		}
	}
	if b.High < b.Low {
		return fmt.Errorf("%w: high %.6f below low %.6f", ErrInvalidBar, b.High, b.Low)
	}
	if b.Close <= 0 || b.Open <= 0 {
		return fmt.Errorf("%w: non-positive price", ErrInvalidBar)
	}
	if b.Volume < 0 {
		return fmt.Errorf("%w: negative volume", ErrInvalidBar)
	}
	return nil
}

// Len returns the number of bars
func (s *Series) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Close)
}

// Bar returns row i
func (s *Series) Bar(i int) Bar {
	return Bar{
		Time:   s.Time[i],
		Open:   s.Open[i],
		High:   s.High[i],
		Low:    s.Low[i],
		Close:  s.Close[i],
		Volume: s.Volume[i],
	}
}

// Last returns the final bar
func (s *Series) Last() Bar {
	return s.Bar(s.Len() - 1)
}

// Search returns the index of the first bar at or after t, Len() if none
func (s *Series) Search(t time.Time) int {
	return sort.Search(len(s.Time), func(i int) bool { return !s.Time[i].Before(t) })
}

// IndexOf locates the bar with exactly timestamp t
func (s *Series) IndexOf(t time.Time) (int, bool) {
	i := s.Search(t)
	if i < len(s.Time) && s.Time[i].Equal(t) {
		return i, true
	}
	return -1, false
}

// Slice returns a view over rows [from, to). The view shares backing arrays.
func (s *Series) Slice(from, to int) *Series {
	if from < 0 {
		from = 0
	}
	if to > s.Len() {
		to = s.Len()
	}
	if from > to {
		from = to
	}
	return &Series{
		Symbol: s.Symbol,
		Time:   s.Time[from:to:to],
		Open:   s.Open[from:to:to],
		High:   s.High[from:to:to],
		Low:    s.Low[from:to:to],
		Close:  s.Close[from:to:to],
		Volume: s.Volume[from:to:to],
	}
}

// Prefix returns the first n bars, the causal history visible at bar n-1
func (s *Series) Prefix(n int) *Series {
	return s.Slice(0, n)
}

// Bars materialises the series back into rows
func (s *Series) Bars() []Bar {
	out := make([]Bar, s.Len())
	for i := range out {
		out[i] = s.Bar(i)
	}
	return out
}
