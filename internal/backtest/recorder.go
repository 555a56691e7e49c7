package backtest

import (
	"time"

	"github.com/sawpanic/regimerun/internal/trade"
)

// Recorder receives engine events, typically to feed metrics
type Recorder interface {
	TradeOpened(strategy string)
	TradeClosed(t trade.Trade)
	SetupSkipped(strategy, reason string)
	SetupFailed(strategy string)
	RegimeChanged(from, to string)
	RunCompleted(strategy string, elapsed time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) TradeOpened(string)                 {}
func (nopRecorder) TradeClosed(trade.Trade)            {}
func (nopRecorder) SetupSkipped(string, string)        {}
func (nopRecorder) SetupFailed(string)                 {}
func (nopRecorder) RegimeChanged(string, string)       {}
func (nopRecorder) RunCompleted(string, time.Duration) {}

// Clock interface for time operations (injectable for testing)
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }
