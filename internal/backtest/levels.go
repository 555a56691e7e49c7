package backtest

import (
	"math"

	"github.com/sawpanic/regimerun/internal/market"
	"github.com/sawpanic/regimerun/internal/strategy"
	"github.com/sawpanic/regimerun/internal/trade"
)

// LevelSource records where a stop or target came from
type LevelSource string

const (
	SourcePercentage LevelSource = "percentage" // engine percentage mode overrides the setup
	SourceSetup      LevelSource = "setup"      // the detector's own level
	SourceDefault    LevelSource = "default"    // setup gave none, or gave one on the wrong side of the fill
)

// levels are the resolved exit prices of one trade
type levels struct {
	stop, target       float64
	stopSrc, targetSrc LevelSource
}

func offset(dir trade.Direction, entry, pct float64) float64 {
	return entry * (1 + dir.Sign()*pct/100)
}

// resolveLevels applies, in order: percentage mode, the setup's levels, the
// default percentages. Each level falls back independently.
func (e *Engine) resolveLevels(setup strategy.Setup, entry float64) levels {
	dir := setup.Direction
	if e.config.UsePercentageTargets {
		return levels{
			stop:      offset(dir, entry, -e.config.StopLossPct),
			target:    offset(dir, entry, e.config.TakeProfitPct),
			stopSrc:   SourcePercentage,
			targetSrc: SourcePercentage,
		}
	}

	lv := levels{
		stop:      offset(dir, entry, -e.config.DefaultStopPct),
		target:    offset(dir, entry, e.config.DefaultTargetPct),
		stopSrc:   SourceDefault,
		targetSrc: SourceDefault,
	}
	// a delayed fill can leave a setup level on the wrong side of entry; a
	// level exactly at entry has no distance to risk and is rejected too
	if s := setup.StopLoss; s != nil && dir.Sign()*(*s-entry) < 0 {
		lv.stop, lv.stopSrc = *s, SourceSetup
	}
	if t := setup.Target; t != nil && dir.Sign()*(*t-entry) > 0 {
		lv.target, lv.targetSrc = *t, SourceSetup
	}
	return lv
}

// checkExit tests one bar against the stop and target using its extremes
func (e *Engine) checkExit(dir trade.Direction, bar market.Bar, lv levels) (float64, trade.ExitReason, bool) {
	var stopHit, targetHit bool
	if dir == trade.Long {
		stopHit = bar.Low <= lv.stop
		targetHit = bar.High >= lv.target
	} else {
		stopHit = bar.High >= lv.stop
		targetHit = bar.Low <= lv.target
	}

	switch {
	case stopHit && targetHit:
		if e.config.ExitPolicy == ExitNearestOpen &&
			math.Abs(bar.Open-lv.target) < math.Abs(bar.Open-lv.stop) {
			return lv.target, trade.ExitTarget, true
		}
		return lv.stop, trade.ExitStopLoss, true
	case stopHit:
		return lv.stop, trade.ExitStopLoss, true
	case targetHit:
		return lv.target, trade.ExitTarget, true
	default:
		return 0, "", false
	}
}
