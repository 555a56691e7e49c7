package main

import (
	"fmt"
	"runtime"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sawpanic/regimerun/internal/batch"
	"github.com/sawpanic/regimerun/internal/regime"
	"github.com/sawpanic/regimerun/internal/strategy"
)

func (a *app) newRunCmd() *cobra.Command {
	var (
		strategyName string
		risk         float64
		maxOpen      int
		slippage     bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Backtest a single setup detector",
		Long: `Run one detector over the whole price history and score the trades.

Available detectors: ` + strings.Join(strategy.Names(), ", "),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := a.cfg.Backtest
			if cmd.Flags().Changed("risk") {
				cfg.RiskPerTrade = risk
			}
			if cmd.Flags().Changed("max-concurrent") {
				cfg.MaxConcurrentTrades = maxOpen
			}
			if cmd.Flags().Changed("slippage") {
				cfg.SlippageEnabled = slippage
			}
			return a.single(cmd, batch.NewJob(strategyName, cfg))
		},
	}

	cmd.Flags().StringVarP(&strategyName, "strategy", "s", strategy.NameMomentum, "Detector to run")
	cmd.Flags().Float64Var(&risk, "risk", 0, "Fraction of capital risked per trade")
	cmd.Flags().IntVar(&maxOpen, "max-concurrent", 0, "Maximum simultaneously open trades")
	cmd.Flags().BoolVar(&slippage, "slippage", false, "Simulate delayed entries")
	return cmd
}

func (a *app) newAdaptiveCmd() *cobra.Command {
	var (
		windowBars       int
		warmupBars       int
		switchConfidence float64
		volFilter        bool
	)

	cmd := &cobra.Command{
		Use:   "adaptive",
		Short: "Walk forward, switching detectors with the market regime",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("window") {
				a.cfg.Adaptive.WindowBars = windowBars
			}
			if cmd.Flags().Changed("warmup") {
				a.cfg.Adaptive.WarmupBars = warmupBars
			}
			if cmd.Flags().Changed("switch-confidence") {
				a.cfg.Selector.SwitchConfidence = switchConfidence
			}
			if cmd.Flags().Changed("vol-filter") {
				a.cfg.Selector.VolatilityFilter.Enabled = volFilter
			}
			return a.single(cmd, batch.NewJob(batch.StrategyAdaptive, a.cfg.Backtest))
		},
	}

	cmd.Flags().IntVar(&windowBars, "window", 0, "Bars traded per regime selection")
	cmd.Flags().IntVar(&warmupBars, "warmup", 0, "Bars of history before the first window")
	cmd.Flags().Float64Var(&switchConfidence, "switch-confidence", 0, "Minimum confidence to switch regime")
	cmd.Flags().BoolVar(&volFilter, "vol-filter", false, "Route high-volatility windows to override detectors")
	return cmd
}

// single runs one job and prints its snapshot
func (a *app) single(cmd *cobra.Command, job batch.Job) error {
	series, err := a.loadSeries()
	if err != nil {
		return err
	}

	a.logger.Info().
		Str("strategy", job.Strategy).
		Float64("initial_capital", job.Config.InitialCapital).
		Float64("risk_per_trade", job.Config.RiskPerTrade).
		Int("max_concurrent", job.Config.MaxConcurrentTrades).
		Bool("slippage", job.Config.SlippageEnabled).
		Msg("Starting backtest")

	outcomes, err := a.runJobs(cmd.Context(), series, []batch.Job{job}, false)
	if err != nil {
		return err
	}
	if outcomes[0].Err != nil {
		return outcomes[0].Err
	}
	printSnapshot(cmd.OutOrStdout(), outcomes[0])
	return nil
}

func (a *app) newGridCmd() *cobra.Command {
	var (
		strategies []string
		risks      []float64
		maxOpen    []int
		workers    int
		top        int
	)

	cmd := &cobra.Command{
		Use:   "grid",
		Short: "Sweep detectors and parameters on a worker pool and rank the runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			grid := a.cfg.Grid
			if cmd.Flags().Changed("strategies") {
				grid.Strategies = strategies
			}
			if cmd.Flags().Changed("risk") {
				grid.RiskPerTrade = risks
			}
			if cmd.Flags().Changed("max-concurrent") {
				grid.MaxConcurrent = maxOpen
			}
			if cmd.Flags().Changed("workers") {
				a.cfg.Batch.Workers = workers
			}

			jobs, err := grid.Expand(a.cfg.Backtest)
			if err != nil {
				return err
			}
			series, err := a.loadSeries()
			if err != nil {
				return err
			}

			a.logger.Info().Int("jobs", len(jobs)).Int("workers", a.cfg.Batch.Workers).Msg("Starting grid")
			outcomes, err := a.runJobs(cmd.Context(), series, jobs, true)
			if len(outcomes) > 0 {
				printRanking(cmd.OutOrStdout(), outcomes, top)
			}
			return err
		},
	}

	cmd.Flags().StringSliceVar(&strategies, "strategies", nil, "Detectors to sweep (adaptive included)")
	cmd.Flags().Float64SliceVar(&risks, "risk", nil, "Risk-per-trade values to sweep")
	cmd.Flags().IntSliceVar(&maxOpen, "max-concurrent", nil, "Concurrency caps to sweep")
	cmd.Flags().IntVar(&workers, "workers", 0, "Parallel backtests")
	cmd.Flags().IntVar(&top, "top", 0, "Only print the best N runs")
	return cmd
}

func (a *app) newRegimeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "regime",
		Short: "Classify the market regime and show the detector it selects",
		RunE: func(cmd *cobra.Command, args []string) error {
			bars, _ := cmd.Flags().GetInt("bars")
			step, _ := cmd.Flags().GetInt("step")

			series, err := a.loadSeries()
			if err != nil {
				return err
			}
			if bars > 0 && bars < series.Len() {
				series = series.Prefix(bars)
			}

			classifier, err := regime.NewClassifier(a.cfg.Classifier)
			if err != nil {
				return err
			}
			selector, err := regime.NewSelector(classifier, a.cfg.Selector, a.cfg.Strategies,
				regime.WithSelectorLogger(a.logger))
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "TIME\tCLOSE\tREGIME\tCONFIDENCE\tDISTANCE\tVOL\tSTRATEGY")
			for _, end := range checkpoints(series.Len(), step) {
				sel, err := selector.Select(series.Prefix(end))
				if err != nil {
					return err
				}
				bar := series.Bar(end - 1)
				label := sel.Regime.String()
				if sel.Result.Insufficient {
					label += " (warmup)"
				}
				if sel.Held {
					label += " (held)"
				}
				name := sel.Name
				if sel.Overridden {
					name += " (vol override)"
				}
				fmt.Fprintf(tw, "%s\t%.2f\t%s\t%.2f\t%+.2f%%\t%.2f\t%s\n",
					bar.Time.Format("2006-01-02 15:04"), bar.Close, label,
					sel.Result.Confidence, sel.Result.Distance*100, sel.Volatility, name)
			}
			tw.Flush()

			fmt.Fprintf(cmd.OutOrStdout(), "\nRegime changes: %d\n", selector.RegimeChanges())
			return nil
		},
	}

	cmd.Flags().Int("bars", 0, "Classify only the first N bars")
	cmd.Flags().Int("step", 0, "Also classify every N bars along the way")
	return cmd
}

// checkpoints returns the prefix lengths to classify, always ending at n
func checkpoints(n, step int) []int {
	if step <= 0 || step >= n {
		return []int{n}
	}
	var out []int
	for end := step; end < n; end += step {
		out = append(out, end)
	}
	return append(out, n)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		// skip config loading
		PersistentPreRunE:  func(*cobra.Command, []string) error { return nil },
		PersistentPostRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%s %s/%s)\n", appName, version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
		},
	}
}
