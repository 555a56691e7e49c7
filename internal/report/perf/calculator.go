// Package perf turns closed trades into performance statistics and a
// composite score
package perf

import (
	"cmp"
	"math"
	"slices"

	"github.com/samber/lo"

	"github.com/sawpanic/regimerun/internal/trade"
)

// Status distinguishes an empty run from one whose trades all broke even
type Status string

const (
	StatusNoTrades  Status = "no_trades" // nothing to evaluate
	StatusFlat      Status = "flat"      // trades exist but none made or lost money
	StatusEvaluated Status = "evaluated"
)

// stdEpsilon treats smaller standard deviations as zero
const stdEpsilon = 1e-12

// Snapshot contains performance analysis results. It is computed once and
// never modified.
type Snapshot struct {
	Status Status `json:"status"`

	// Trade counts
	TotalTrades     int `json:"total_trades"` // trades included in the statistics
	ZeroSizeTrades  int `json:"zero_size_trades"`
	WinningTrades   int `json:"winning_trades"`
	LosingTrades    int `json:"losing_trades"`
	BreakevenTrades int `json:"breakeven_trades"`
	LongTrades      int `json:"long_trades"`
	ShortTrades     int `json:"short_trades"`

	// P&L and return
	InitialCapital float64 `json:"initial_capital"`
	FinalCapital   float64 `json:"final_capital"`
	TotalPnL       float64 `json:"total_pnl"`
	TotalReturnPct float64 `json:"total_return_pct"`
	GrossProfit    float64 `json:"gross_profit"`
	GrossLoss      float64 `json:"gross_loss"` // positive magnitude

	// Hit rate
	WinRate      float64 `json:"win_rate"` // 0.0-1.0
	LongWinRate  float64 `json:"long_win_rate"`
	ShortWinRate float64 `json:"short_win_rate"`
	ProfitFactor float64 `json:"profit_factor"` // +Inf when there are no losses
	AvgWin       float64 `json:"avg_win"`
	AvgLoss      float64 `json:"avg_loss"` // negative
	LargestWin   float64 `json:"largest_win"`
	LargestLoss  float64 `json:"largest_loss"`
	WinLossRatio float64 `json:"win_loss_ratio"`
	Expectancy   float64 `json:"expectancy"` // mean P&L per trade
	AvgPnLPct    float64 `json:"avg_pnl_pct"`

	// Risk
	MaxDrawdownPct float64 `json:"max_drawdown_pct"`
	MaxDrawdown    float64 `json:"max_drawdown"` // currency
	SharpeRatio    float64 `json:"sharpe_ratio"`
	SortinoRatio   float64 `json:"sortino_ratio"`
	Volatility     float64 `json:"volatility"` // annualised std of trade returns
	CalmarRatio    float64 `json:"calmar_ratio"`

	// Timing and excursions
	AvgDurationDays      float64 `json:"avg_duration_days"`
	TradesPerYear        float64 `json:"trades_per_year"`
	AvgMFE               float64 `json:"avg_mfe"` // % of entry, from bar highs/lows, capped at the fill on the exit bar
	AvgMAE               float64 `json:"avg_mae"` // same basis as AvgMFE; a close-only walk reports smaller excursions
	MaxConsecutiveWins   int     `json:"max_consecutive_wins"`
	MaxConsecutiveLosses int     `json:"max_consecutive_losses"`

	ExitReasons map[trade.ExitReason]int `json:"exit_reasons"`

	PerformanceScore float64        `json:"performance_score"` // 0-100
	Score            ScoreBreakdown `json:"score_breakdown"`
}

// Config holds configuration for performance calculations
type Config struct {
	TradingDaysPerYear float64 `yaml:"trading_days_per_year"` // Default: 250
	// IncludeZeroSize counts trades sized to zero units in the statistics.
	// They are always reported in ZeroSizeTrades.
	IncludeZeroSize bool `yaml:"include_zero_size"` // Default: false
}

// DefaultConfig returns default calculator configuration
func DefaultConfig() Config {
	return Config{
		TradingDaysPerYear: 250,
		IncludeZeroSize:    false,
	}
}

// Calculator computes performance metrics from closed trades. It keeps no
// state between calls.
type Calculator struct {
	config Config
}

// NewCalculator creates a new performance calculator
func NewCalculator(config Config) *Calculator {
	if config.TradingDaysPerYear <= 0 {
		config.TradingDaysPerYear = DefaultConfig().TradingDaysPerYear
	}
	return &Calculator{config: config}
}

// Evaluate computes the snapshot for trades between the given capital
// bounds. The input slice is not modified.
func (c *Calculator) Evaluate(trades []trade.Trade, initialCapital, finalCapital float64) Snapshot {
	s := Snapshot{
		InitialCapital: initialCapital,
		FinalCapital:   finalCapital,
		ExitReasons:    make(map[trade.ExitReason]int),
	}
	if initialCapital != 0 {
		s.TotalReturnPct = (finalCapital - initialCapital) / initialCapital * 100
	}
	if len(trades) == 0 {
		s.Status = StatusNoTrades
		return s
	}

	// exit-time order drives the equity curve and the streaks
	ordered := slices.Clone(trades)
	slices.SortStableFunc(ordered, func(a, b trade.Trade) int {
		return a.ExitTime.Compare(b.ExitTime)
	})

	evaluated := lo.Filter(ordered, func(t trade.Trade, _ int) bool {
		return c.config.IncludeZeroSize || t.PositionSize != 0
	})
	s.ZeroSizeTrades = lo.CountBy(ordered, func(t trade.Trade) bool { return t.PositionSize == 0 })
	s.TotalTrades = len(evaluated)

	c.calculatePnLMetrics(evaluated, &s)
	c.calculateDrawdown(evaluated, &s)
	c.calculateRiskMetrics(evaluated, &s)
	c.calculateTradeAnalysis(evaluated, &s)

	if s.WinningTrades == 0 && s.LosingTrades == 0 {
		s.Status = StatusFlat
		return s
	}
	s.Status = StatusEvaluated
	s.Score = CompositeScore(s)
	s.PerformanceScore = s.Score.Total()
	return s
}

// calculatePnLMetrics computes P&L and hit-rate metrics
func (c *Calculator) calculatePnLMetrics(trades []trade.Trade, s *Snapshot) {
	var longWins, shortWins int
	var pnlPctSum float64
	for _, t := range trades {
		s.TotalPnL += t.PnL
		pnlPctSum += t.PnLPct
		s.ExitReasons[t.ExitReason]++

		if t.Direction == trade.Short {
			s.ShortTrades++
		} else {
			s.LongTrades++
		}

		switch {
		case t.PnL > 0:
			s.WinningTrades++
			s.GrossProfit += t.PnL
			s.LargestWin = math.Max(s.LargestWin, t.PnL)
			if t.Direction == trade.Short {
				shortWins++
			} else {
				longWins++
			}
		case t.PnL < 0:
			s.LosingTrades++
			s.GrossLoss += -t.PnL
			s.LargestLoss = math.Min(s.LargestLoss, t.PnL)
		default:
			s.BreakevenTrades++
		}
	}

	n := len(trades)
	if n == 0 {
		return
	}
	s.WinRate = float64(s.WinningTrades) / float64(n)
	s.Expectancy = s.TotalPnL / float64(n)
	s.AvgPnLPct = pnlPctSum / float64(n)
	if s.LongTrades > 0 {
		s.LongWinRate = float64(longWins) / float64(s.LongTrades)
	}
	if s.ShortTrades > 0 {
		s.ShortWinRate = float64(shortWins) / float64(s.ShortTrades)
	}

	if s.WinningTrades > 0 {
		s.AvgWin = s.GrossProfit / float64(s.WinningTrades)
	}
	if s.LosingTrades > 0 {
		s.AvgLoss = -s.GrossLoss / float64(s.LosingTrades)
		s.WinLossRatio = math.Abs(s.AvgWin / s.AvgLoss)
	}

	// breakeven trades sit in the denominator with the losers
	switch {
	case s.GrossLoss > 0:
		s.ProfitFactor = s.GrossProfit / s.GrossLoss
	case s.GrossProfit > 0:
		s.ProfitFactor = math.Inf(1)
	default:
		s.ProfitFactor = 0
	}
}

// calculateDrawdown replays the equity curve in exit order from the
// initial capital
func (c *Calculator) calculateDrawdown(trades []trade.Trade, s *Snapshot) {
	equity := s.InitialCapital
	peak := equity
	for _, t := range trades {
		equity += t.PnL
		if equity > peak {
			peak = equity
			continue
		}
		if dd := peak - equity; dd > s.MaxDrawdown {
			s.MaxDrawdown = dd
		}
		if peak > 0 {
			s.MaxDrawdownPct = math.Max(s.MaxDrawdownPct, (peak-equity)/peak*100)
		}
	}
	if s.MaxDrawdownPct > 0 {
		s.CalmarRatio = s.TotalReturnPct / s.MaxDrawdownPct
	}
}

// calculateRiskMetrics computes annualised Sharpe and Sortino on per-trade
// returns
func (c *Calculator) calculateRiskMetrics(trades []trade.Trade, s *Snapshot) {
	if len(trades) == 0 {
		return
	}

	var days float64
	for _, t := range trades {
		days += t.Duration().Hours() / 24
	}
	s.AvgDurationDays = days / float64(len(trades))
	s.TradesPerYear = c.config.TradingDaysPerYear
	if s.AvgDurationDays > 0 {
		s.TradesPerYear = c.config.TradingDaysPerYear / s.AvgDurationDays
	}
	annualise := math.Sqrt(s.TradesPerYear)

	returns := lo.Map(trades, func(t trade.Trade, _ int) float64 { return t.PnLPct / 100 })
	mean := meanOf(returns)

	if std := sampleStd(returns); std >= stdEpsilon {
		s.SharpeRatio = mean / std * annualise
		s.Volatility = std * annualise
	}

	downside := lo.Filter(returns, func(r float64, _ int) bool { return r < 0 })
	if std := sampleStd(downside); std >= stdEpsilon {
		s.SortinoRatio = mean / std * annualise
	}
}

// calculateTradeAnalysis computes excursion and streak statistics
func (c *Calculator) calculateTradeAnalysis(trades []trade.Trade, s *Snapshot) {
	if len(trades) == 0 {
		return
	}
	s.AvgMFE = meanOf(lo.Map(trades, func(t trade.Trade, _ int) float64 { return t.MFE }))
	s.AvgMAE = meanOf(lo.Map(trades, func(t trade.Trade, _ int) float64 { return t.MAE }))

	var wins, losses int
	for _, t := range trades {
		switch cmp.Compare(t.PnL, 0) {
		case 1:
			wins++
			losses = 0
		case -1:
			losses++
			wins = 0
		default:
			wins, losses = 0, 0
		}
		s.MaxConsecutiveWins = max(s.MaxConsecutiveWins, wins)
		s.MaxConsecutiveLosses = max(s.MaxConsecutiveLosses, losses)
	}
}

func meanOf(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	return lo.Sum(xs) / float64(len(xs))
}

// sampleStd is the n-1 standard deviation; 0 below two observations
func sampleStd(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := meanOf(xs)
	var ss float64
	for _, x := range xs {
		ss += (x - m) * (x - m)
	}
	return math.Sqrt(ss / float64(len(xs)-1))
}

// Map flattens the snapshot into metric name -> value
func (s Snapshot) Map() map[string]float64 {
	m := map[string]float64{
		"total_trades":           float64(s.TotalTrades),
		"zero_size_trades":       float64(s.ZeroSizeTrades),
		"winning_trades":         float64(s.WinningTrades),
		"losing_trades":          float64(s.LosingTrades),
		"breakeven_trades":       float64(s.BreakevenTrades),
		"long_trades":            float64(s.LongTrades),
		"short_trades":           float64(s.ShortTrades),
		"initial_capital":        s.InitialCapital,
		"final_capital":          s.FinalCapital,
		"total_pnl":              s.TotalPnL,
		"total_return_pct":       s.TotalReturnPct,
		"gross_profit":           s.GrossProfit,
		"gross_loss":             s.GrossLoss,
		"win_rate":               s.WinRate,
		"long_win_rate":          s.LongWinRate,
		"short_win_rate":         s.ShortWinRate,
		"profit_factor":          s.ProfitFactor,
		"avg_win":                s.AvgWin,
		"avg_loss":               s.AvgLoss,
		"largest_win":            s.LargestWin,
		"largest_loss":           s.LargestLoss,
		"win_loss_ratio":         s.WinLossRatio,
		"expectancy":             s.Expectancy,
		"avg_pnl_pct":            s.AvgPnLPct,
		"max_drawdown_pct":       s.MaxDrawdownPct,
		"max_drawdown":           s.MaxDrawdown,
		"sharpe_ratio":           s.SharpeRatio,
		"sortino_ratio":          s.SortinoRatio,
		"volatility":             s.Volatility,
		"calmar_ratio":           s.CalmarRatio,
		"avg_duration_days":      s.AvgDurationDays,
		"trades_per_year":        s.TradesPerYear,
		"avg_mfe":                s.AvgMFE,
		"avg_mae":                s.AvgMAE,
		"max_consecutive_wins":   float64(s.MaxConsecutiveWins),
		"max_consecutive_losses": float64(s.MaxConsecutiveLosses),
		"performance_score":      s.PerformanceScore,
	}
	for _, r := range trade.ExitReasons {
		m["exit_"+string(r)] = float64(s.ExitReasons[r])
	}
	return m
}
