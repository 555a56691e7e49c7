// Package telemetry exposes backtest activity as Prometheus metrics and
// serves them, together with run summaries, over HTTP.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sawpanic/regimerun/internal/backtest"
	"github.com/sawpanic/regimerun/internal/report/perf"
	"github.com/sawpanic/regimerun/internal/trade"
)

// Metrics holds the Prometheus collectors for backtest runs. It implements
// backtest.Recorder and is safe to share between concurrent runs.
type Metrics struct {
	registry *prometheus.Registry

	TradesOpened  *prometheus.CounterVec
	TradesClosed  *prometheus.CounterVec
	TradeReturn   *prometheus.HistogramVec
	SetupsSkipped *prometheus.CounterVec
	SetupsFailed  *prometheus.CounterVec

	RegimeSwitches *prometheus.CounterVec

	RunDuration      *prometheus.HistogramVec
	RunsCompleted    *prometheus.CounterVec
	ActiveRuns       prometheus.Gauge
	PerformanceScore *prometheus.GaugeVec
}

var _ backtest.Recorder = (*Metrics)(nil)

// NewMetrics creates the collectors and registers them on a private
// registry
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		TradesOpened: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "regimerun_trades_opened_total",
				Help: "Total number of trades opened by strategy",
			},
			[]string{"strategy"},
		),

		TradesClosed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "regimerun_trades_closed_total",
				Help: "Total number of trades closed by strategy, exit reason and outcome",
			},
			[]string{"strategy", "reason", "outcome"},
		),

		TradeReturn: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "regimerun_trade_return_pct",
				Help:    "Per-trade return in percent of entry price",
				Buckets: []float64{-10, -5, -3, -2, -1, -0.5, 0, 0.5, 1, 2, 3, 5, 10},
			},
			[]string{"strategy"},
		),

		SetupsSkipped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "regimerun_setups_skipped_total",
				Help: "Total number of setups skipped by strategy and reason",
			},
			[]string{"strategy", "reason"},
		),

		SetupsFailed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "regimerun_setups_failed_total",
				Help: "Total number of setups whose simulation failed",
			},
			[]string{"strategy"},
		),

		RegimeSwitches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "regimerun_regime_switches_total",
				Help: "Total number of regime switches by from/to regime",
			},
			[]string{"from_regime", "to_regime"},
		),

		RunDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "regimerun_run_duration_seconds",
				Help:    "Wall-clock duration of backtest runs in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"strategy"},
		),

		RunsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "regimerun_runs_completed_total",
				Help: "Total number of completed backtest runs",
			},
			[]string{"strategy"},
		),

		ActiveRuns: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "regimerun_active_runs",
				Help: "Number of backtest runs currently in flight",
			},
		),

		PerformanceScore: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "regimerun_performance_score",
				Help: "Composite performance score (0-100) of the latest run per strategy",
			},
			[]string{"strategy"},
		),
	}

	m.registry.MustRegister(
		m.TradesOpened,
		m.TradesClosed,
		m.TradeReturn,
		m.SetupsSkipped,
		m.SetupsFailed,
		m.RegimeSwitches,
		m.RunDuration,
		m.RunsCompleted,
		m.ActiveRuns,
		m.PerformanceScore,
	)

	return m
}

// Registry returns the registry the collectors live on
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler for the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// TradeOpened records an opened trade
func (m *Metrics) TradeOpened(strategy string) {
	m.TradesOpened.WithLabelValues(strategy).Inc()
}

// TradeClosed records a closed trade and its return
func (m *Metrics) TradeClosed(t trade.Trade) {
	m.TradesClosed.WithLabelValues(t.Strategy, string(t.ExitReason), outcome(t.PnL)).Inc()
	m.TradeReturn.WithLabelValues(t.Strategy).Observe(t.PnLPct)
}

func outcome(pnl float64) string {
	switch {
	case pnl > 0:
		return "win"
	case pnl < 0:
		return "loss"
	default:
		return "flat"
	}
}

// SetupSkipped records a setup dropped before simulation
func (m *Metrics) SetupSkipped(strategy, reason string) {
	m.SetupsSkipped.WithLabelValues(strategy, reason).Inc()
}

// SetupFailed records a setup whose simulation failed
func (m *Metrics) SetupFailed(strategy string) {
	m.SetupsFailed.WithLabelValues(strategy).Inc()
}

// RegimeChanged records a regime transition
func (m *Metrics) RegimeChanged(from, to string) {
	m.RegimeSwitches.WithLabelValues(from, to).Inc()
}

// RunCompleted records a finished run
func (m *Metrics) RunCompleted(strategy string, elapsed time.Duration) {
	m.RunDuration.WithLabelValues(strategy).Observe(elapsed.Seconds())
	m.RunsCompleted.WithLabelValues(strategy).Inc()
}

// RunStarted marks a run in flight
func (m *Metrics) RunStarted() { m.ActiveRuns.Inc() }

// RunFinished clears a RunStarted mark
func (m *Metrics) RunFinished() { m.ActiveRuns.Dec() }

// RecordSnapshot publishes the composite score of a run
func (m *Metrics) RecordSnapshot(strategy string, s perf.Snapshot) {
	m.PerformanceScore.WithLabelValues(strategy).Set(s.PerformanceScore)
}
