// Package report writes backtest artifacts: a JSONL trade log, a JSON
// summary and a markdown report per run.
package report

import (
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/sawpanic/regimerun/internal/backtest"
	"github.com/sawpanic/regimerun/internal/report/perf"
	"github.com/sawpanic/regimerun/internal/trade"
)

// Artifact file names
const (
	TradesFile  = "trades.jsonl"
	WindowsFile = "windows.jsonl"
	SummaryFile = "summary.json"
	ReportFile  = "report.md"
)

// maxReportTrades bounds the trade table in report.md
const maxReportTrades = 50

// Run bundles everything reported about one backtest
type Run struct {
	ID       string
	Result   *backtest.Result
	Adaptive *backtest.AdaptiveResult // nil for single-detector runs
	Snapshot perf.Snapshot
	Alerts   []perf.Alert
}

// Summary is the content of summary.json
type Summary struct {
	RunID          string              `json:"run_id,omitempty"`
	Symbol         string              `json:"symbol"`
	Strategy       string              `json:"strategy"`
	Status         perf.Status         `json:"status"`
	GeneratedAt    time.Time           `json:"generated_at"`
	Setups         int                 `json:"setups"`
	Skipped        map[string]int      `json:"skipped"`
	Failed         int                 `json:"failed"`
	Slipped        int                 `json:"slipped"`
	PeakConcurrent int                 `json:"peak_concurrent"`
	ElapsedMs      int64               `json:"elapsed_ms"`
	Metrics        map[string]any      `json:"metrics"`
	Score          perf.ScoreBreakdown `json:"score_breakdown"`
	RegimeChanges  int                 `json:"regime_changes,omitempty"`
	StrategyShare  map[string]int      `json:"strategy_share,omitempty"`
	Alerts         perf.AlertSummary   `json:"alerts"`
}

// Writer handles writing backtest artifacts to disk
type Writer struct {
	outputDir string
	now       func() time.Time
}

// NewWriter creates a new artifact writer rooted at outputDir. Runs land in
// a dated subdirectory.
func NewWriter(outputDir string) *Writer {
	return &Writer{
		outputDir: outputDir,
		now:       time.Now,
	}
}

// RunDir returns the directory the run's artifacts are written to
func (w *Writer) RunDir(run Run) string {
	name := strings.Join(lo.Compact([]string{run.Result.Symbol, run.Result.Strategy, run.ID}), "_")
	return filepath.Join(w.outputDir, w.now().Format("2006-01-02"), sanitize(name))
}

func sanitize(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '-'
		}
	}, name)
}

// Write writes every artifact of run and returns the directory used
func (w *Writer) Write(run Run) (string, error) {
	if run.Result == nil {
		return "", fmt.Errorf("run has no result")
	}
	dir := w.RunDir(run)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	if err := w.WriteTrades(dir, run.Result.Trades); err != nil {
		return dir, err
	}
	if run.Adaptive != nil {
		if err := w.WriteWindows(dir, run.Adaptive.Windows); err != nil {
			return dir, err
		}
	}
	if err := w.WriteSummary(dir, run); err != nil {
		return dir, err
	}
	if err := w.WriteReport(dir, run); err != nil {
		return dir, err
	}
	return dir, nil
}

// WriteTrades writes one JSON object per closed trade
func (w *Writer) WriteTrades(dir string, trades []trade.Trade) error {
	return writeJSONL(filepath.Join(dir, TradesFile), trades)
}

// WriteWindows writes one JSON object per adaptive window
func (w *Writer) WriteWindows(dir string, windows []backtest.Window) error {
	return writeJSONL(filepath.Join(dir, WindowsFile), windows)
}

func writeJSONL[T any](path string, items []T) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Base(path), err)
	}
	defer file.Close()

	enc := json.NewEncoder(file)
	for i, item := range items {
		if err := enc.Encode(item); err != nil {
			return fmt.Errorf("failed to write line %d of %s: %w", i+1, filepath.Base(path), err)
		}
	}
	return nil
}

// BuildSummary assembles the summary.json content
func (w *Writer) BuildSummary(run Run) Summary {
	res := run.Result
	s := Summary{
		RunID:          run.ID,
		Symbol:         res.Symbol,
		Strategy:       res.Strategy,
		Status:         run.Snapshot.Status,
		GeneratedAt:    w.now().UTC(),
		Setups:         res.Setups,
		Skipped:        res.Skipped,
		Failed:         res.Failed,
		Slipped:        res.Slipped,
		PeakConcurrent: res.PeakConcurrent,
		ElapsedMs:      res.Elapsed.Milliseconds(),
		Metrics:        lo.MapValues(run.Snapshot.Map(), func(v float64, _ string) any { return jsonFloat(v) }),
		Score:          run.Snapshot.Score,
		Alerts:         perf.SummarizeAlerts(run.Alerts),
	}
	if run.Adaptive != nil {
		s.RegimeChanges = run.Adaptive.RegimeChanges
		s.StrategyShare = run.Adaptive.StrategyShare()
	}
	return s
}

// WriteSummary writes summary.json
func (w *Writer) WriteSummary(dir string, run Run) error {
	data, err := json.MarshalIndent(w.BuildSummary(run), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal summary: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, SummaryFile), append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("failed to write summary: %w", err)
	}
	return nil
}

// WriteReport writes report.md
func (w *Writer) WriteReport(dir string, run Run) error {
	report := GenerateMarkdown(run, w.now())
	if err := os.WriteFile(filepath.Join(dir, ReportFile), []byte(report), 0644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

// GenerateMarkdown renders the human-readable report for run
func GenerateMarkdown(run Run, generated time.Time) string {
	var report strings.Builder
	res := run.Result
	snap := run.Snapshot

	fmt.Fprintf(&report, "# Backtest Report: %s / %s\n\n", res.Symbol, res.Strategy)
	fmt.Fprintf(&report, "**Generated**: %s\n", generated.UTC().Format("2006-01-02 15:04:05 UTC"))
	if run.ID != "" {
		fmt.Fprintf(&report, "**Run**: %s\n", run.ID)
	}
	if len(res.Trades) > 0 {
		first := slices.MinFunc(res.Trades, func(a, b trade.Trade) int { return a.EntryTime.Compare(b.EntryTime) })
		last := slices.MaxFunc(res.Trades, func(a, b trade.Trade) int { return a.ExitTime.Compare(b.ExitTime) })
		fmt.Fprintf(&report, "**Period**: %s to %s\n", first.EntryTime.Format("2006-01-02"), last.ExitTime.Format("2006-01-02"))
	}
	report.WriteString("\n")

	// Executive Summary
	report.WriteString("## Executive Summary\n\n")
	switch snap.Status {
	case perf.StatusNoTrades:
		report.WriteString("No trades were generated.\n\n")
	case perf.StatusFlat:
		report.WriteString("Trades were generated but every one closed flat; there is no P&L to evaluate.\n\n")
	}
	fmt.Fprintf(&report, "- **Setups**: %d detected, %d skipped, %d failed, %d slipped\n",
		res.Setups, res.SkippedTotal(), res.Failed, res.Slipped)
	fmt.Fprintf(&report, "- **Trades**: %d (%d zero-size)\n", snap.TotalTrades, snap.ZeroSizeTrades)
	fmt.Fprintf(&report, "- **Capital**: %s to %s (%s)\n",
		Money(res.InitialCapital), Money(res.FinalCapital), Percent(snap.TotalReturnPct))
	fmt.Fprintf(&report, "- **Performance Score**: %.1f / 100\n\n", snap.PerformanceScore)

	if snap.Status == perf.StatusEvaluated {
		report.WriteString("## Performance\n\n")
		report.WriteString("| Metric | Value |\n")
		report.WriteString("|--------|------:|\n")
		rows := [][2]string{
			{"Total P&L", Money(snap.TotalPnL)},
			{"Win Rate", Percent(snap.WinRate * 100)},
			{"Profit Factor", Ratio(snap.ProfitFactor)},
			{"Expectancy", Money(snap.Expectancy)},
			{"Average Win", Money(snap.AvgWin)},
			{"Average Loss", Money(snap.AvgLoss)},
			{"Largest Win", Money(snap.LargestWin)},
			{"Largest Loss", Money(snap.LargestLoss)},
			{"Max Drawdown", Percent(snap.MaxDrawdownPct)},
			{"Sharpe Ratio", Ratio(snap.SharpeRatio)},
			{"Sortino Ratio", Ratio(snap.SortinoRatio)},
			{"Calmar Ratio", Ratio(snap.CalmarRatio)},
			{"Avg Duration (days)", Ratio(snap.AvgDurationDays)},
			{"Avg MFE / MAE", Percent(snap.AvgMFE) + " / " + Percent(snap.AvgMAE)},
			{"Max Consecutive Wins / Losses", fmt.Sprintf("%d / %d", snap.MaxConsecutiveWins, snap.MaxConsecutiveLosses)},
		}
		for _, row := range rows {
			fmt.Fprintf(&report, "| %s | %s |\n", row[0], row[1])
		}
		report.WriteString("\n")

		report.WriteString("### Score Breakdown\n\n")
		report.WriteString("| Component | Points | Max |\n")
		report.WriteString("|-----------|-------:|----:|\n")
		fmt.Fprintf(&report, "| Win Rate | %.2f | 20 |\n", snap.Score.WinRate)
		fmt.Fprintf(&report, "| Profit Factor | %.2f | 25 |\n", snap.Score.ProfitFactor)
		fmt.Fprintf(&report, "| Sharpe | %.2f | 25 |\n", snap.Score.Sharpe)
		fmt.Fprintf(&report, "| Drawdown | %.2f | 20 |\n", snap.Score.Drawdown)
		fmt.Fprintf(&report, "| Return | %.2f | 10 |\n\n", snap.Score.Return)

		report.WriteString("## Exit Reasons\n\n")
		report.WriteString("| Reason | Count |\n")
		report.WriteString("|--------|------:|\n")
		for _, reason := range trade.ExitReasons {
			fmt.Fprintf(&report, "| %s | %d |\n", reason, snap.ExitReasons[reason])
		}
		report.WriteString("\n")
	}

	if len(res.Skipped) > 0 {
		report.WriteString("## Skipped Setups\n\n")
		report.WriteString("| Reason | Count |\n")
		report.WriteString("|--------|------:|\n")
		for _, reason := range slices.Sorted(maps.Keys(res.Skipped)) {
			fmt.Fprintf(&report, "| %s | %d |\n", reason, res.Skipped[reason])
		}
		report.WriteString("\n")
	}

	if run.Adaptive != nil {
		writeRegimeSection(&report, run.Adaptive)
	}

	if len(run.Alerts) > 0 {
		report.WriteString("## Alerts\n\n")
		for _, a := range run.Alerts {
			fmt.Fprintf(&report, "- **%s** %s\n", a.Severity, a.Message)
		}
		report.WriteString("\n")
	}

	if len(res.Trades) > 0 {
		writeTradeTable(&report, res.Trades)
	}

	return report.String()
}

func writeRegimeSection(report *strings.Builder, ad *backtest.AdaptiveResult) {
	report.WriteString("## Regime Adaptation\n\n")
	fmt.Fprintf(report, "- **Windows**: %d\n", len(ad.Windows))
	fmt.Fprintf(report, "- **Regime Changes**: %d\n\n", ad.RegimeChanges)

	share := ad.StrategyShare()
	total := lo.Sum(lo.Values(share))
	report.WriteString("| Strategy | Bars | Share |\n")
	report.WriteString("|----------|-----:|------:|\n")
	for _, name := range slices.Sorted(maps.Keys(share)) {
		pct := 0.0
		if total > 0 {
			pct = float64(share[name]) / float64(total) * 100
		}
		fmt.Fprintf(report, "| %s | %d | %s |\n", name, share[name], Percent(pct))
	}
	report.WriteString("\n")

	if len(ad.History) > 0 {
		report.WriteString("### Regime History\n\n")
		report.WriteString("| Time | From | To | Confidence |\n")
		report.WriteString("|------|------|----|-----------:|\n")
		for _, c := range ad.History {
			fmt.Fprintf(report, "| %s | %s | %s | %.2f |\n",
				c.Timestamp.Format("2006-01-02"), c.FromRegime, c.ToRegime, c.Confidence)
		}
		report.WriteString("\n")
	}
}

func writeTradeTable(report *strings.Builder, trades []trade.Trade) {
	report.WriteString("## Trades\n\n")
	report.WriteString("| # | Direction | Entry | Exit | Entry Price | Exit Price | Size | P&L | Reason |\n")
	report.WriteString("|---|-----------|-------|------|------------:|-----------:|-----:|----:|--------|\n")
	for i, t := range trades {
		if i == maxReportTrades {
			fmt.Fprintf(report, "\n_%d more trades in %s_\n", len(trades)-maxReportTrades, TradesFile)
			break
		}
		fmt.Fprintf(report, "| %d | %s | %s | %s | %.4f | %.4f | %.0f | %s | %s |\n",
			t.ID, t.Direction, t.EntryTime.Format("2006-01-02 15:04"), t.ExitTime.Format("2006-01-02 15:04"),
			t.EntryPrice, t.ExitPrice, t.PositionSize, Money(t.PnL), t.ExitReason)
	}
	report.WriteString("\n")
}
