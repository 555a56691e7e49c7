package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/samber/lo"

	"github.com/sawpanic/regimerun/internal/batch"
	rlog "github.com/sawpanic/regimerun/internal/log"
	"github.com/sawpanic/regimerun/internal/market"
	"github.com/sawpanic/regimerun/internal/report"
	"github.com/sawpanic/regimerun/internal/report/perf"
)

func (a *app) settings() batch.Settings {
	return batch.Settings{
		Strategies: a.cfg.Strategies,
		Classifier: a.cfg.Classifier,
		Selector:   a.cfg.Selector,
		Adaptive:   a.cfg.Adaptive,
		Perf:       a.cfg.Perf,
	}
}

func (a *app) loadSeries() (*market.Series, error) {
	series, err := a.cfg.Data.LoadSeries()
	if err != nil {
		return nil, err
	}
	first, last := series.Bar(0), series.Last()
	a.logger.Info().
		Str("symbol", series.Symbol).
		Int("bars", series.Len()).
		Time("from", first.Time).
		Time("to", last.Time).
		Msg("Price history loaded")
	return series, nil
}

// runJobs executes jobs on the batch runner, then checks alerts, indexes
// and writes artifacts for every successful outcome
func (a *app) runJobs(ctx context.Context, series *market.Series, jobs []batch.Job, showProgress bool) ([]batch.Outcome, error) {
	opts := []batch.Option{
		batch.WithLogger(a.logger),
		batch.WithRecorder(a.metrics),
	}
	if showProgress && rlog.IsTerminal(os.Stderr) {
		progress := rlog.NewProgressIndicator(os.Stderr, "backtests", len(jobs), true)
		defer progress.Finish()
		opts = append(opts, batch.WithProgress(func(o batch.Outcome) {
			progress.Done(o.Err != nil)
		}))
	}

	runner, err := batch.NewRunner(a.cfg.Batch, a.settings(), opts...)
	if err != nil {
		return nil, err
	}
	outcomes, err := runner.Run(ctx, series, jobs)

	alerts := perf.NewAlertManager(a.cfg.Alerts)
	alerts.AddHandler(&perf.LogHandler{Logger: a.logger})
	writer := report.NewWriter(a.cfg.Output.Dir)

	for _, o := range outcomes {
		if o.Err != nil {
			continue
		}
		a.metrics.RecordSnapshot(o.Job.Strategy, o.Snapshot)

		run := report.Run{
			ID:       shortID(o.Job.ID),
			Result:   o.Result,
			Adaptive: o.Adaptive,
			Snapshot: o.Snapshot,
			Alerts:   alerts.CheckSnapshot(o.Job.Strategy, o.Snapshot),
		}
		if sendErr := alerts.SendAlerts(run.Alerts); sendErr != nil {
			a.logger.Warn().Err(sendErr).Msg("Alert delivery failed")
		}
		a.runs.Put(writer.BuildSummary(run))

		if !a.cfg.Output.Enabled {
			continue
		}
		dir, writeErr := writer.Write(run)
		if writeErr != nil {
			a.logger.Error().Err(writeErr).Str("job", run.ID).Msg("Failed to write artifacts")
			continue
		}
		a.logger.Info().Str("job", run.ID).Str("dir", dir).Msg("Artifacts written")
	}
	return outcomes, err
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// printSnapshot writes the headline numbers of one run
func printSnapshot(out io.Writer, o batch.Outcome) {
	s := o.Snapshot
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Strategy\t%s\n", o.Job.Strategy)
	if o.Result != nil {
		fmt.Fprintf(tw, "Symbol\t%s\n", o.Result.Symbol)
		fmt.Fprintf(tw, "Setups\t%d (skipped %d, slipped %d, failed %d)\n",
			o.Result.Setups, o.Result.SkippedTotal(), o.Result.Slipped, o.Result.Failed)
	}
	fmt.Fprintf(tw, "Status\t%s\n", s.Status)
	fmt.Fprintf(tw, "Trades\t%d (%d won, %d lost)\n", s.TotalTrades, s.WinningTrades, s.LosingTrades)
	fmt.Fprintf(tw, "Capital\t%s -> %s\n", report.Money(s.InitialCapital), report.Money(s.FinalCapital))
	fmt.Fprintf(tw, "Total return\t%s\n", report.Percent(s.TotalReturnPct))
	fmt.Fprintf(tw, "Win rate\t%s\n", report.Percent(s.WinRate*100))
	fmt.Fprintf(tw, "Profit factor\t%s\n", report.Ratio(s.ProfitFactor))
	fmt.Fprintf(tw, "Sharpe\t%s\n", report.Ratio(s.SharpeRatio))
	fmt.Fprintf(tw, "Sortino\t%s\n", report.Ratio(s.SortinoRatio))
	fmt.Fprintf(tw, "Max drawdown\t%s\n", report.Percent(s.MaxDrawdownPct))
	fmt.Fprintf(tw, "Performance score\t%.2f\n", s.PerformanceScore)
	if o.Adaptive != nil {
		fmt.Fprintf(tw, "Regime changes\t%d\n", o.Adaptive.RegimeChanges)
		fmt.Fprintf(tw, "Windows\t%d\n", len(o.Adaptive.Windows))
		share := o.Adaptive.StrategyShare()
		names := lo.Keys(share)
		slices.Sort(names)
		for _, name := range names {
			fmt.Fprintf(tw, "  %s\t%d bars\n", name, share[name])
		}
	}
	tw.Flush()
}

// printRanking writes one row per job, ranked first
func printRanking(out io.Writer, outcomes []batch.Outcome, top int) {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RANK\tJOB\tSTRATEGY\tPARAMS\tTRADES\tWIN%\tPF\tSHARPE\tMAXDD\tRETURN\tSCORE")
	shown := 0
	for _, o := range outcomes {
		if top > 0 && shown >= top {
			break
		}
		shown++
		params := formatParams(o.Job.Params)
		if o.Err != nil {
			fmt.Fprintf(tw, "-\t%s\t%s\t%s\terror: %v\n", shortID(o.Job.ID), o.Job.Strategy, params, o.Err)
			continue
		}
		s := o.Snapshot
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\t%s\t%s\t%s\t%s\t%s\t%.2f\n",
			o.Rank, shortID(o.Job.ID), o.Job.Strategy, params, s.TotalTrades,
			report.Percent(s.WinRate*100), report.Ratio(s.ProfitFactor), report.Ratio(s.SharpeRatio),
			report.Percent(s.MaxDrawdownPct), report.Percent(s.TotalReturnPct), s.PerformanceScore)
	}
	tw.Flush()
}

func formatParams(params map[string]string) string {
	if len(params) == 0 {
		return "-"
	}
	keys := lo.Keys(params)
	slices.Sort(keys)
	return strings.Join(lo.Map(keys, func(k string, _ int) string { return k + "=" + params[k] }), " ")
}
