// Package batch runs many backtests concurrently: strategy comparisons and
// parameter sweeps over one price history.
package batch

import (
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/sawpanic/regimerun/internal/backtest"
)

// StrategyAdaptive names the regime-driven walk-forward run
const StrategyAdaptive = "adaptive"

// Job is one backtest to run
type Job struct {
	ID       string            `json:"id"`
	Strategy string            `json:"strategy"` // detector name or StrategyAdaptive
	Config   backtest.Config   `json:"-"`
	Params   map[string]string `json:"params,omitempty"` // swept coordinates
}

// NewJob creates a job with a fresh ID
func NewJob(strategy string, config backtest.Config) Job {
	return Job{
		ID:       uuid.NewString(),
		Strategy: strategy,
		Config:   config,
		Params:   map[string]string{},
	}
}

// Grid lists parameter values to sweep. An empty dimension keeps the base
// configuration's value.
type Grid struct {
	Strategies    []string  `yaml:"strategies"`
	RiskPerTrade  []float64 `yaml:"risk_per_trade"`
	MaxConcurrent []int     `yaml:"max_concurrent_trades"`
	LookaheadBars []int     `yaml:"lookahead_bars"`
	Slippage      []bool    `yaml:"slippage"`
}

// Size is the number of jobs Expand produces
func (g Grid) Size() int {
	return max(len(g.Strategies), 1) * max(len(g.RiskPerTrade), 1) * max(len(g.MaxConcurrent), 1) *
		max(len(g.LookaheadBars), 1) * max(len(g.Slippage), 1)
}

// Expand builds the cartesian product of the grid over base. Strategies vary
// slowest.
func (g Grid) Expand(base backtest.Config) ([]Job, error) {
	if len(g.Strategies) == 0 {
		return nil, fmt.Errorf("grid needs at least one strategy")
	}

	jobs := lo.Map(g.Strategies, func(name string, _ int) Job { return NewJob(name, base) })

	jobs = sweep(jobs, g.RiskPerTrade, "risk_per_trade", func(c *backtest.Config, v float64) string {
		c.RiskPerTrade = v
		return strconv.FormatFloat(v, 'g', -1, 64)
	})
	jobs = sweep(jobs, g.MaxConcurrent, "max_concurrent_trades", func(c *backtest.Config, v int) string {
		c.MaxConcurrentTrades = v
		return strconv.Itoa(v)
	})
	jobs = sweep(jobs, g.LookaheadBars, "lookahead_bars", func(c *backtest.Config, v int) string {
		c.LookaheadBars = v
		return strconv.Itoa(v)
	})
	jobs = sweep(jobs, g.Slippage, "slippage", func(c *backtest.Config, v bool) string {
		c.SlippageEnabled = v
		return strconv.FormatBool(v)
	})
	return jobs, nil
}

// sweep multiplies jobs by values, recording each coordinate under key
func sweep[T any](jobs []Job, values []T, key string, apply func(*backtest.Config, T) string) []Job {
	if len(values) == 0 {
		return jobs
	}
	return lo.FlatMap(jobs, func(job Job, _ int) []Job {
		return lo.Map(values, func(v T, _ int) Job {
			next := NewJob(job.Strategy, job.Config)
			next.Params = lo.Assign(job.Params)
			next.Params[key] = apply(&next.Config, v)
			return next
		})
	})
}
