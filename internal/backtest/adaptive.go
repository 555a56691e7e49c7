package backtest

import (
	"fmt"
	"time"

	"github.com/sawpanic/regimerun/internal/market"
	"github.com/sawpanic/regimerun/internal/regime"
	"github.com/sawpanic/regimerun/internal/strategy"
)

// AdaptiveConfig controls the walk-forward regime schedule
type AdaptiveConfig struct {
	WindowBars int `yaml:"window_bars"` // Default: 50, bars traded per selection
	WarmupBars int `yaml:"warmup_bars"` // Default: 200, history seen before the first window
}

// DefaultAdaptiveConfig returns default walk-forward configuration
func DefaultAdaptiveConfig() AdaptiveConfig {
	return AdaptiveConfig{
		WindowBars: 50,
		WarmupBars: 200,
	}
}

// Validate ensures the walk-forward configuration is usable
func (c AdaptiveConfig) Validate() error {
	if c.WindowBars < 1 {
		return fmt.Errorf("%w: window_bars must be >= 1, got %d", ErrInvalidConfig, c.WindowBars)
	}
	if c.WarmupBars < 1 {
		return fmt.Errorf("%w: warmup_bars must be >= 1, got %d", ErrInvalidConfig, c.WarmupBars)
	}
	return nil
}

// Window records which detector governed one stretch of bars
type Window struct {
	Start      time.Time     `json:"start"`
	End        time.Time     `json:"end"`
	Bars       int           `json:"bars"`
	Strategy   string        `json:"strategy"`
	Regime     regime.Regime `json:"regime"`
	Confidence float64       `json:"confidence"`
	HighVol    bool          `json:"high_vol"`
	Overridden bool          `json:"overridden"`
	Setups     int           `json:"setups"`
}

// AdaptiveResult is a walk-forward run: one trade book, many detectors
type AdaptiveResult struct {
	*Result
	Windows       []Window        `json:"windows"`
	RegimeChanges int             `json:"regime_changes"`
	History       []regime.Change `json:"regime_history"`
}

// RunAdaptive walks the history in windows. At each window start the
// selector classifies the bars seen so far and its detector's setups inside
// the window are simulated against a single trade.Manager. Detectors only
// look backwards, so each one scans the full history once.
func (e *Engine) RunAdaptive(series *market.Series, selector *regime.Selector, cfg AdaptiveConfig) (*AdaptiveResult, error) {
	if series.Len() == 0 {
		return nil, market.ErrEmptySeries
	}
	if selector == nil {
		return nil, fmt.Errorf("adaptive backtest requires a selector")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	started := e.clock.Now()
	sim, err := e.newSimulation(series, "adaptive")
	if err != nil {
		return nil, err
	}
	out := &AdaptiveResult{Result: sim.res}

	cache := make(map[string][]strategy.Setup)
	changesBefore := selector.RegimeChanges()

	for from := cfg.WarmupBars; from < series.Len(); from += cfg.WindowBars {
		to := min(from+cfg.WindowBars, series.Len())

		before := selector.RegimeChanges()
		sel, err := selector.Select(series.Prefix(from))
		if err != nil {
			return nil, fmt.Errorf("failed to select strategy at bar %d: %w", from, err)
		}
		if selector.RegimeChanges() > before {
			h := selector.History()
			last := h[len(h)-1]
			e.recorder.RegimeChanged(last.FromRegime.String(), last.ToRegime.String())
		}

		setups, ok := cache[sel.Name]
		if !ok {
			setups, err = sel.Detector.DetectSetups(series)
			if err != nil {
				return nil, fmt.Errorf("detector %s failed: %w", sel.Name, err)
			}
			cache[sel.Name] = setups
		}

		w := Window{
			Start:      series.Time[from],
			End:        series.Time[to-1],
			Bars:       to - from,
			Strategy:   sel.Name,
			Regime:     sel.Regime,
			Confidence: sel.Result.Confidence,
			HighVol:    sel.HighVol,
			Overridden: sel.Overridden,
		}
		for _, setup := range setups {
			if pos := series.Search(setup.EntryTime); pos >= from && pos < to {
				w.Setups++
				sim.process(sel.Name, setup)
			}
		}
		out.Windows = append(out.Windows, w)

		e.logger.Debug().
			Time("start", w.Start).
			Str("regime", w.Regime.String()).
			Float64("confidence", w.Confidence).
			Str("strategy", w.Strategy).
			Int("setups", w.Setups).
			Msg("Adaptive window")
	}

	sim.finish()
	out.RegimeChanges = selector.RegimeChanges() - changesBefore
	out.History = selector.History()
	out.Elapsed = e.clock.Now().Sub(started)
	e.recorder.RunCompleted(out.Strategy, out.Elapsed)

	e.logger.Info().
		Str("symbol", out.Symbol).
		Int("windows", len(out.Windows)).
		Int("regime_changes", out.RegimeChanges).
		Int("trades", len(out.Trades)).
		Float64("final_capital", out.FinalCapital).
		Msg("Adaptive backtest completed")

	return out, nil
}

// StrategyShare counts the bars each detector governed
func (r *AdaptiveResult) StrategyShare() map[string]int {
	out := make(map[string]int)
	for _, w := range r.Windows {
		out[w.Strategy] += w.Bars
	}
	return out
}
