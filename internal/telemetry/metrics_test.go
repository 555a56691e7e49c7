package telemetry

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/regimerun/internal/report/perf"
	"github.com/sawpanic/regimerun/internal/trade"
)

func TestMetricsRecordTradeLifecycle(t *testing.T) {
	m := NewMetrics()

	m.TradeOpened("momentum")
	m.TradeOpened("momentum")
	m.TradeClosed(trade.Trade{Strategy: "momentum", ExitReason: trade.ExitTarget, PnL: 300, PnLPct: 3})
	m.TradeClosed(trade.Trade{Strategy: "momentum", ExitReason: trade.ExitStopLoss, PnL: -100, PnLPct: -1})
	m.SetupSkipped("momentum", "max_concurrent")
	m.SetupFailed("smart_money")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.TradesOpened.WithLabelValues("momentum")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TradesClosed.WithLabelValues("momentum", "target", "win")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TradesClosed.WithLabelValues("momentum", "stop_loss", "loss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SetupsSkipped.WithLabelValues("momentum", "max_concurrent")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SetupsFailed.WithLabelValues("smart_money")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.TradeReturn))
}

func TestMetricsRecordRunsAndRegimes(t *testing.T) {
	m := NewMetrics()

	m.RunStarted()
	m.RunStarted()
	m.RunFinished()
	m.RunCompleted("adaptive", 250*time.Millisecond)
	m.RegimeChanged("BULL", "RANGE")
	m.RegimeChanged("BULL", "RANGE")
	m.RecordSnapshot("adaptive", perf.Snapshot{PerformanceScore: 61.5})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActiveRuns))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RunsCompleted.WithLabelValues("adaptive")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.RegimeSwitches.WithLabelValues("BULL", "RANGE")))
	assert.Equal(t, 61.5, testutil.ToFloat64(m.PerformanceScore.WithLabelValues("adaptive")))
}

func TestMetricsRegistriesAreIndependent(t *testing.T) {
	a := NewMetrics()
	b := NewMetrics()
	a.TradeOpened("momentum")

	assert.Equal(t, 1.0, testutil.ToFloat64(a.TradesOpened.WithLabelValues("momentum")))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.TradesOpened.WithLabelValues("momentum")))

	families, err := a.Registry().Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}
