package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/sawpanic/regimerun/internal/config"
	rlog "github.com/sawpanic/regimerun/internal/log"
	"github.com/sawpanic/regimerun/internal/telemetry"
)

const (
	appName = "regimerun"
	version = "v0.4.0"
)

// app carries the state shared by every subcommand
type app struct {
	// persistent flags
	configPath  string
	logLevel    string
	logFile     string
	jsonLogs    bool
	metricsAddr string
	serve       bool
	outputDir   string
	noOutput    bool
	csvPath     string
	symbol      string

	cfg     *config.Config
	logger  zerolog.Logger
	closer  io.Closer
	metrics *telemetry.Metrics
	runs    *telemetry.RunIndex
	server  *telemetry.Server
}

func main() {
	zerolog.TimeFieldFormat = time.RFC3339

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Regime-adaptive strategy backtester",
		Version: version,
		Long: `regimerun replays OHLCV history bar by bar against setup detectors
(momentum, mean reversion, volatility breakout, multi-timeframe, smart money),
sizes and manages every trade, and scores the result.

The adaptive mode classifies the market regime (BULL, BEAR, RANGE) as it walks
forward and hands each window to the detector mapped to that regime.`,
		SilenceUsage:       true,
		PersistentPreRunE:  a.setup,
		PersistentPostRunE: a.teardown,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "Path to YAML config (default: "+config.DefaultPath()+" when present)")
	flags.StringVar(&a.logLevel, "log-level", "", "Log level (debug|info|warn|error)")
	flags.StringVar(&a.logFile, "log-file", "", "Also write logs to this rotated file")
	flags.BoolVar(&a.jsonLogs, "json-logs", false, "Write JSON logs even on a terminal")
	flags.StringVar(&a.metricsAddr, "metrics-addr", "", "Address for the metrics server")
	flags.BoolVar(&a.serve, "serve", false, "Serve /metrics, /health and /runs, and keep serving after the command until interrupted")
	flags.StringVar(&a.outputDir, "output", "", "Artifact directory")
	flags.BoolVar(&a.noOutput, "no-output", false, "Do not write artifacts")
	flags.StringVar(&a.csvPath, "csv", "", "OHLCV CSV file (default: synthetic history)")
	flags.StringVar(&a.symbol, "symbol", "", "Symbol name for the price history")

	rootCmd.AddCommand(
		a.newRunCmd(),
		a.newAdaptiveCmd(),
		a.newGridCmd(),
		a.newRegimeCmd(),
		newVersionCmd(),
	)
	return rootCmd
}

// setup loads configuration, applies flag overrides and starts logging
// and, with --serve, the metrics server
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	path := a.configPath
	if path == "" {
		if _, err := os.Stat(config.DefaultPath()); err == nil {
			path = config.DefaultPath()
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	if a.logFile != "" {
		cfg.Log.File = a.logFile
	}
	if a.jsonLogs {
		cfg.Log.JSON = true
	}
	if a.metricsAddr != "" {
		cfg.Server.Addr = a.metricsAddr
	}
	if a.outputDir != "" {
		cfg.Output.Dir = a.outputDir
	}
	if a.noOutput {
		cfg.Output.Enabled = false
	}
	if a.csvPath != "" {
		cfg.Data.CSV = a.csvPath
	}
	if a.symbol != "" {
		cfg.Data.Symbol = a.symbol
	}

	logger, closer, err := rlog.Setup(cfg.Log)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = logger
	a.closer = closer
	a.metrics = telemetry.NewMetrics()
	a.runs = telemetry.NewRunIndex()

	if a.serve {
		a.server = telemetry.NewServer(cfg.Server, a.metrics, a.runs, version, logger)
		go func() {
			if err := a.server.Start(); err != nil {
				a.logger.Error().Err(err).Msg("Metrics server failed")
			}
		}()
	}

	a.logger.Debug().Str("config", path).Str("command", cmd.Name()).Msg("Configuration loaded")
	return nil
}

// teardown keeps the server up until interrupted, then releases the log file
func (a *app) teardown(cmd *cobra.Command, _ []string) error {
	if a.server != nil {
		a.logger.Info().Str("addr", a.cfg.Server.Addr).Msg("Serving results, press Ctrl+C to exit")
		<-cmd.Context().Done()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.server.Shutdown(ctx); err != nil {
			a.logger.Warn().Err(err).Msg("Metrics server shutdown failed")
		}
	}
	if a.closer != nil {
		return a.closer.Close()
	}
	return nil
}
