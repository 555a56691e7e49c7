package perf

import "math"

// Composite score weights and the reference value at which each component
// saturates
const (
	winRateWeight      = 20.0
	profitFactorWeight = 25.0
	sharpeWeight       = 25.0
	drawdownWeight     = 20.0
	returnWeight       = 10.0

	winRateReference      = 0.60
	profitFactorReference = 2.0
	sharpeReference       = 2.0
	drawdownLimitPct      = 20.0
	returnReferencePct    = 20.0
)

// ScoreBreakdown holds the weighted components of the composite score
type ScoreBreakdown struct {
	WinRate      float64 `json:"win_rate"`      // 0-20
	ProfitFactor float64 `json:"profit_factor"` // 0-25
	Sharpe       float64 `json:"sharpe"`        // 0-25
	Drawdown     float64 `json:"drawdown"`      // 0-20
	Return       float64 `json:"return"`        // 0-10
}

// Total sums the components into the 0-100 composite
func (b ScoreBreakdown) Total() float64 {
	return b.WinRate + b.ProfitFactor + b.Sharpe + b.Drawdown + b.Return
}

// CompositeScore weights the headline metrics of s into a 0-100 score
func CompositeScore(s Snapshot) ScoreBreakdown {
	var b ScoreBreakdown
	b.WinRate = math.Min(s.WinRate/winRateReference, 1) * winRateWeight
	if math.IsInf(s.ProfitFactor, 1) {
		b.ProfitFactor = profitFactorWeight
	} else {
		b.ProfitFactor = math.Min(s.ProfitFactor/profitFactorReference, 1) * profitFactorWeight
	}
	b.Sharpe = clamp01(s.SharpeRatio/sharpeReference) * sharpeWeight
	b.Drawdown = math.Max(0, 1-s.MaxDrawdownPct/drawdownLimitPct) * drawdownWeight
	b.Return = clamp01(s.TotalReturnPct/returnReferencePct) * returnWeight
	return b
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(v, 1))
}
