package perf

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/regimerun/internal/trade"
)

var t0 = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

// closed builds a closed long trade held for days, exiting on day exitDay
func closed(exitDay, days int, pnl, pnlPct float64) trade.Trade {
	exit := t0.AddDate(0, 0, exitDay)
	return trade.Trade{
		Symbol:       "TEST",
		Direction:    trade.Long,
		EntryTime:    exit.AddDate(0, 0, -days),
		EntryPrice:   100,
		PositionSize: 100,
		Status:       trade.StatusClosed,
		ExitTime:     exit,
		ExitPrice:    100 + pnlPct,
		ExitReason:   trade.ExitTarget,
		PnL:          pnl,
		PnLPct:       pnlPct,
	}
}

func evaluate(trades []trade.Trade, initial, final float64) Snapshot {
	return NewCalculator(DefaultConfig()).Evaluate(trades, initial, final)
}

func TestEvaluateSingleWinner(t *testing.T) {
	s := evaluate([]trade.Trade{closed(1, 1, 300, 3)}, 100000, 100300)

	assert.Equal(t, StatusEvaluated, s.Status)
	assert.Equal(t, 1, s.TotalTrades)
	assert.InDelta(t, 300.0, s.TotalPnL, 1e-9)
	assert.InDelta(t, 0.30, s.TotalReturnPct, 1e-9)
	assert.Equal(t, 1.0, s.WinRate)
	assert.True(t, math.IsInf(s.ProfitFactor, 1))
	assert.Zero(t, s.SharpeRatio, "one observation has no deviation")
	assert.Zero(t, s.MaxDrawdownPct)

	// 20 win + 25 PF + 0 sharpe + 20 drawdown + 0.15 return
	assert.InDelta(t, 65.15, s.PerformanceScore, 1e-9)
	assert.Equal(t, 25.0, s.Score.ProfitFactor)
}

func TestEvaluateWinRateAndProfitFactor(t *testing.T) {
	var trades []trade.Trade
	for i := 0; i < 6; i++ {
		trades = append(trades, closed(i+1, 1, 200, 2))
	}
	for i := 0; i < 4; i++ {
		trades = append(trades, closed(i+10, 1, -150, -1.5))
	}

	s := evaluate(trades, 100000, 100600)

	assert.Equal(t, 10, s.TotalTrades)
	assert.Equal(t, 6, s.WinningTrades)
	assert.Equal(t, 4, s.LosingTrades)
	assert.InDelta(t, 0.6, s.WinRate, 1e-12)
	assert.InDelta(t, 2.0, s.ProfitFactor, 1e-12)
	assert.InDelta(t, 200.0, s.AvgWin, 1e-9)
	assert.InDelta(t, -150.0, s.AvgLoss, 1e-9)
	assert.InDelta(t, 60.0, s.Expectancy, 1e-9)
	assert.Equal(t, 6, s.MaxConsecutiveWins)
	assert.Equal(t, 4, s.MaxConsecutiveLosses)
	assert.Equal(t, 20.0, s.Score.WinRate)
	assert.Equal(t, 25.0, s.Score.ProfitFactor)
}

func TestEvaluateDrawdownFollowsExitOrder(t *testing.T) {
	// equity 100k -> 105k -> 95k -> 110k once sorted by exit time
	trades := []trade.Trade{
		closed(3, 1, 15000, 15),
		closed(1, 1, 5000, 5),
		closed(2, 1, -10000, -10),
	}

	s := evaluate(trades, 100000, 110000)

	assert.InDelta(t, 9.5238, s.MaxDrawdownPct, 1e-4)
	assert.InDelta(t, 10000.0, s.MaxDrawdown, 1e-9)
	assert.InDelta(t, 10.0, s.TotalReturnPct, 1e-9)
	assert.InDelta(t, 10.0/9.5238095, s.CalmarRatio, 1e-6)
	assert.Equal(t, 15000.0, trades[0].PnL, "input order untouched")
}

func TestEvaluateNoTrades(t *testing.T) {
	for _, trades := range [][]trade.Trade{nil, {}} {
		s := evaluate(trades, 100000, 100000)
		assert.Equal(t, StatusNoTrades, s.Status)
		assert.Zero(t, s.TotalTrades)
		assert.Zero(t, s.PerformanceScore)
		assert.Zero(t, s.ProfitFactor)
	}
}

func TestEvaluateFlatTrades(t *testing.T) {
	s := evaluate([]trade.Trade{closed(1, 1, 0, 0), closed(2, 1, 0, 0)}, 100000, 100000)

	assert.Equal(t, StatusFlat, s.Status)
	assert.Equal(t, 2, s.BreakevenTrades)
	assert.Zero(t, s.ProfitFactor)
	assert.Zero(t, s.PerformanceScore)
}

func TestEvaluateIdenticalReturnsHaveNoSharpe(t *testing.T) {
	trades := []trade.Trade{closed(1, 1, 200, 2), closed(2, 1, 200, 2), closed(3, 1, 200, 2)}
	s := evaluate(trades, 100000, 100600)

	assert.Zero(t, s.SharpeRatio)
	assert.Zero(t, s.SortinoRatio)
	assert.Zero(t, s.Volatility)
}

func TestEvaluateSharpeAndSortino(t *testing.T) {
	// two-day holds: 125 trades per year
	trades := []trade.Trade{
		closed(2, 2, 200, 2),
		closed(4, 2, -100, -1),
		closed(6, 2, 300, 3),
		closed(8, 2, -200, -2),
	}
	s := evaluate(trades, 100000, 100200)

	returns := []float64{0.02, -0.01, 0.03, -0.02}
	mean := 0.005
	var ss float64
	for _, r := range returns {
		ss += (r - mean) * (r - mean)
	}
	std := math.Sqrt(ss / 3)
	downStd := math.Sqrt(((-0.01+0.015)*(-0.01+0.015) + (-0.02+0.015)*(-0.02+0.015)) / 1)

	assert.InDelta(t, 2.0, s.AvgDurationDays, 1e-12)
	assert.InDelta(t, 125.0, s.TradesPerYear, 1e-9)
	assert.InDelta(t, mean/std*math.Sqrt(125), s.SharpeRatio, 1e-9)
	assert.InDelta(t, mean/downStd*math.Sqrt(125), s.SortinoRatio, 1e-9)
	assert.InDelta(t, std*math.Sqrt(125), s.Volatility, 1e-9)
}

func TestEvaluateSortinoNeedsTwoLosses(t *testing.T) {
	trades := []trade.Trade{closed(1, 1, 200, 2), closed(2, 1, -100, -1), closed(3, 1, 300, 3)}
	s := evaluate(trades, 100000, 100400)

	assert.NotZero(t, s.SharpeRatio)
	assert.Zero(t, s.SortinoRatio)
}

func TestEvaluateZeroDurationFallsBackToTradingDays(t *testing.T) {
	trades := []trade.Trade{closed(1, 0, 200, 2), closed(2, 0, -100, -1)}
	s := evaluate(trades, 100000, 100100)

	assert.Zero(t, s.AvgDurationDays)
	assert.Equal(t, 250.0, s.TradesPerYear)
}

func TestEvaluateZeroSizeTrades(t *testing.T) {
	zero := closed(1, 1, 0, 2)
	zero.PositionSize = 0
	trades := []trade.Trade{zero, closed(2, 1, 300, 3)}

	s := evaluate(trades, 100000, 100300)
	assert.Equal(t, 1, s.ZeroSizeTrades)
	assert.Equal(t, 1, s.TotalTrades)
	assert.Equal(t, 1.0, s.WinRate)

	included := NewCalculator(Config{IncludeZeroSize: true}).Evaluate(trades, 100000, 100300)
	assert.Equal(t, 1, included.ZeroSizeTrades)
	assert.Equal(t, 2, included.TotalTrades)
	assert.Equal(t, 0.5, included.WinRate)
	assert.Equal(t, 250.0, NewCalculator(Config{}).config.TradingDaysPerYear)
}

func TestEvaluateIsIdempotent(t *testing.T) {
	trades := []trade.Trade{
		closed(5, 2, -120, -1.2),
		closed(1, 1, 250, 2.5),
		closed(3, 3, 80, 0.8),
	}
	calc := NewCalculator(DefaultConfig())

	first := calc.Evaluate(trades, 50000, 50210)
	second := calc.Evaluate(trades, 50000, 50210)
	assert.Equal(t, first, second)
}

func TestEvaluateDirectionAndExitBreakdown(t *testing.T) {
	short := closed(2, 1, -50, -0.5)
	short.Direction = trade.Short
	short.ExitReason = trade.ExitStopLoss
	trades := []trade.Trade{closed(1, 1, 100, 1), short}

	s := evaluate(trades, 100000, 100050)

	assert.Equal(t, 1, s.LongTrades)
	assert.Equal(t, 1, s.ShortTrades)
	assert.Equal(t, 1.0, s.LongWinRate)
	assert.Zero(t, s.ShortWinRate)
	assert.Equal(t, 1, s.ExitReasons[trade.ExitTarget])
	assert.Equal(t, 1, s.ExitReasons[trade.ExitStopLoss])

	m := s.Map()
	assert.Equal(t, 2.0, m["total_trades"])
	assert.Equal(t, 1.0, m["exit_stop_loss"])
	assert.Equal(t, 0.0, m["exit_no_data"])
	assert.Equal(t, s.PerformanceScore, m["performance_score"])
}

func TestCompositeScoreComponents(t *testing.T) {
	tests := []struct {
		name string
		snap Snapshot
		want ScoreBreakdown
	}{
		{
			name: "saturated",
			snap: Snapshot{WinRate: 0.9, ProfitFactor: 5, SharpeRatio: 4, TotalReturnPct: 50},
			want: ScoreBreakdown{WinRate: 20, ProfitFactor: 25, Sharpe: 25, Drawdown: 20, Return: 10},
		},
		{
			name: "half way",
			snap: Snapshot{WinRate: 0.3, ProfitFactor: 1, SharpeRatio: 1, MaxDrawdownPct: 10, TotalReturnPct: 10},
			want: ScoreBreakdown{WinRate: 10, ProfitFactor: 12.5, Sharpe: 12.5, Drawdown: 10, Return: 5},
		},
		{
			name: "floored",
			snap: Snapshot{SharpeRatio: -1, MaxDrawdownPct: 35, TotalReturnPct: -12},
			want: ScoreBreakdown{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CompositeScore(tt.snap)
			assert.InDelta(t, tt.want.WinRate, got.WinRate, 1e-9)
			assert.InDelta(t, tt.want.ProfitFactor, got.ProfitFactor, 1e-9)
			assert.InDelta(t, tt.want.Sharpe, got.Sharpe, 1e-9)
			assert.InDelta(t, tt.want.Drawdown, got.Drawdown, 1e-9)
			assert.InDelta(t, tt.want.Return, got.Return, 1e-9)
			require.LessOrEqual(t, got.Total(), 100.0)
		})
	}
}
