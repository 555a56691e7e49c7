package perf

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"
)

// Alert severities
const (
	SeverityCritical = "CRITICAL"
	SeverityWarning  = "WARNING"
)

// Alert represents a performance threshold breach for one run
type Alert struct {
	Type      string         `json:"type"`     // performance, drawdown, win_rate, profit_factor, volatility
	Severity  string         `json:"severity"` // CRITICAL, WARNING
	Message   string         `json:"message"`
	Timestamp time.Time      `json:"timestamp"`
	Metric    string         `json:"metric"`
	Value     float64        `json:"value"`
	Threshold float64        `json:"threshold"`
	Run       string         `json:"run,omitempty"` // strategy or run label
	Context   map[string]any `json:"context,omitempty"`
}

// AlertConfig holds the thresholds checked against a snapshot
type AlertConfig struct {
	MinSharpeRatio  float64 `yaml:"min_sharpe_ratio"`  // Default: 0.5
	MaxDrawdownPct  float64 `yaml:"max_drawdown_pct"`  // Default: 20
	MinWinRate      float64 `yaml:"min_win_rate"`      // Default: 0.40
	MinProfitFactor float64 `yaml:"min_profit_factor"` // Default: 1.0
	MaxVolatility   float64 `yaml:"max_volatility"`    // Default: 0.80 annualised
	MinTrades       int     `yaml:"min_trades"`        // Default: 5, fewer trades are not judged
}

// DefaultAlertConfig returns default alert thresholds
func DefaultAlertConfig() AlertConfig {
	return AlertConfig{
		MinSharpeRatio:  0.5,
		MaxDrawdownPct:  20,
		MinWinRate:      0.40,
		MinProfitFactor: 1.0,
		MaxVolatility:   0.80,
		MinTrades:       5,
	}
}

// AlertHandler defines the interface for alert notification handlers
type AlertHandler interface {
	// SendAlert sends an alert notification
	SendAlert(alert Alert) error

	// HandlerType returns the handler type (log, webhook, etc.)
	HandlerType() string
}

// AlertManager checks snapshots against thresholds and fans alerts out to
// its handlers
type AlertManager struct {
	config   AlertConfig
	handlers []AlertHandler
	now      func() time.Time
}

// NewAlertManager creates a new alert manager
func NewAlertManager(config AlertConfig) *AlertManager {
	return &AlertManager{
		config:   config,
		handlers: make([]AlertHandler, 0),
		now:      time.Now,
	}
}

// AddHandler adds an alert handler
func (am *AlertManager) AddHandler(handler AlertHandler) {
	am.handlers = append(am.handlers, handler)
}

// CheckSnapshot checks the metrics of one run against thresholds. Runs that
// were not evaluated, or had fewer than MinTrades trades, produce no alerts.
func (am *AlertManager) CheckSnapshot(run string, s Snapshot) []Alert {
	alerts := make([]Alert, 0)
	if s.Status != StatusEvaluated || s.TotalTrades < am.config.MinTrades {
		return alerts
	}
	now := am.now()

	if s.SharpeRatio < am.config.MinSharpeRatio {
		alerts = append(alerts, Alert{
			Type:      "performance",
			Severity:  SeverityWarning,
			Message:   fmt.Sprintf("Sharpe ratio %.2f is below minimum threshold of %.2f", s.SharpeRatio, am.config.MinSharpeRatio),
			Timestamp: now,
			Metric:    "sharpe_ratio",
			Value:     s.SharpeRatio,
			Threshold: am.config.MinSharpeRatio,
			Run:       run,
			Context: map[string]any{
				"total_trades":    s.TotalTrades,
				"trades_per_year": s.TradesPerYear,
			},
		})
	}

	if s.MaxDrawdownPct > am.config.MaxDrawdownPct {
		severity := SeverityWarning
		if s.MaxDrawdownPct > am.config.MaxDrawdownPct*1.5 { // 1.5x threshold = critical
			severity = SeverityCritical
		}
		alerts = append(alerts, Alert{
			Type:      "drawdown",
			Severity:  severity,
			Message:   fmt.Sprintf("Maximum drawdown %.2f%% exceeds threshold of %.2f%%", s.MaxDrawdownPct, am.config.MaxDrawdownPct),
			Timestamp: now,
			Metric:    "max_drawdown_pct",
			Value:     s.MaxDrawdownPct,
			Threshold: am.config.MaxDrawdownPct,
			Run:       run,
			Context: map[string]any{
				"max_drawdown": s.MaxDrawdown,
				"volatility":   s.Volatility,
			},
		})
	}

	if s.WinRate < am.config.MinWinRate {
		alerts = append(alerts, Alert{
			Type:      "win_rate",
			Severity:  SeverityWarning,
			Message:   fmt.Sprintf("Win rate %.2f%% is below %.2f%%", s.WinRate*100, am.config.MinWinRate*100),
			Timestamp: now,
			Metric:    "win_rate",
			Value:     s.WinRate,
			Threshold: am.config.MinWinRate,
			Run:       run,
			Context: map[string]any{
				"winning_trades": s.WinningTrades,
				"losing_trades":  s.LosingTrades,
			},
		})
	}

	if !math.IsInf(s.ProfitFactor, 1) && s.ProfitFactor < am.config.MinProfitFactor {
		alerts = append(alerts, Alert{
			Type:      "profit_factor",
			Severity:  SeverityCritical,
			Message:   fmt.Sprintf("Profit factor %.2f indicates net losses", s.ProfitFactor),
			Timestamp: now,
			Metric:    "profit_factor",
			Value:     s.ProfitFactor,
			Threshold: am.config.MinProfitFactor,
			Run:       run,
			Context: map[string]any{
				"avg_win":  s.AvgWin,
				"avg_loss": s.AvgLoss,
			},
		})
	}

	if s.Volatility > am.config.MaxVolatility {
		alerts = append(alerts, Alert{
			Type:      "volatility",
			Severity:  SeverityWarning,
			Message:   fmt.Sprintf("Return volatility %.2f%% is excessive", s.Volatility*100),
			Timestamp: now,
			Metric:    "volatility",
			Value:     s.Volatility,
			Threshold: am.config.MaxVolatility,
			Run:       run,
			Context: map[string]any{
				"sharpe_ratio":  s.SharpeRatio,
				"sortino_ratio": s.SortinoRatio,
			},
		})
	}

	return alerts
}

// SendAlerts sends alerts through all configured handlers
func (am *AlertManager) SendAlerts(alerts []Alert) error {
	var errs []error
	for _, alert := range alerts {
		for _, handler := range am.handlers {
			if err := handler.SendAlert(alert); err != nil {
				errs = append(errs, fmt.Errorf("handler %s failed: %w", handler.HandlerType(), err))
			}
		}
	}
	return errors.Join(errs...)
}

// LogHandler writes alerts to a zerolog logger
type LogHandler struct {
	Logger zerolog.Logger
}

// SendAlert logs the alert at warn or error level by severity
func (h *LogHandler) SendAlert(alert Alert) error {
	event := h.Logger.Warn()
	if alert.Severity == SeverityCritical {
		event = h.Logger.Error()
	}
	event.
		Str("run", alert.Run).
		Str("type", alert.Type).
		Str("metric", alert.Metric).
		Float64("value", alert.Value).
		Float64("threshold", alert.Threshold).
		Msg(alert.Message)
	return nil
}

// HandlerType returns handler type
func (h *LogHandler) HandlerType() string {
	return "log"
}

// AlertSummary contains summary statistics for alerts
type AlertSummary struct {
	TotalAlerts int            `json:"total_alerts"`
	BySeverity  map[string]int `json:"by_severity"`
	ByType      map[string]int `json:"by_type"`
	TopAlerts   []Alert        `json:"top_alerts"` // critical first, at most 5
}

// SummarizeAlerts creates an alert summary
func SummarizeAlerts(alerts []Alert) AlertSummary {
	summary := AlertSummary{
		TotalAlerts: len(alerts),
		BySeverity:  make(map[string]int),
		ByType:      make(map[string]int),
		TopAlerts:   make([]Alert, 0),
	}

	for _, alert := range alerts {
		summary.BySeverity[alert.Severity]++
		summary.ByType[alert.Type]++
	}

	for _, severity := range []string{SeverityCritical, SeverityWarning} {
		for _, alert := range alerts {
			if alert.Severity == severity && len(summary.TopAlerts) < 5 {
				summary.TopAlerts = append(summary.TopAlerts, alert)
			}
		}
	}

	return summary
}
