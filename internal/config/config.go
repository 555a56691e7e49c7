// Package config loads the regimerun configuration: YAML over defaults,
// then REGIMERUN_* environment overrides (optionally from a .env file).
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/sawpanic/regimerun/internal/backtest"
	"github.com/sawpanic/regimerun/internal/batch"
	"github.com/sawpanic/regimerun/internal/log"
	"github.com/sawpanic/regimerun/internal/market"
	"github.com/sawpanic/regimerun/internal/regime"
	"github.com/sawpanic/regimerun/internal/report/perf"
	"github.com/sawpanic/regimerun/internal/strategy"
	"github.com/sawpanic/regimerun/internal/telemetry"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "REGIMERUN_"

// Config is the complete regimerun configuration
type Config struct {
	Data       DataConfig              `yaml:"data"`
	Backtest   backtest.Config         `yaml:"backtest"`
	Adaptive   backtest.AdaptiveConfig `yaml:"adaptive"`
	Strategies strategy.Config         `yaml:"strategies"`
	Classifier regime.ClassifierConfig `yaml:"classifier"`
	Selector   regime.SelectorConfig   `yaml:"selector"`
	Perf       perf.Config             `yaml:"perf"`
	Alerts     perf.AlertConfig        `yaml:"alerts"`
	Batch      batch.Config            `yaml:"batch"`
	Grid       batch.Grid              `yaml:"grid"`
	Output     OutputConfig            `yaml:"output"`
	Server     telemetry.ServerConfig  `yaml:"server"`
	Log        log.Config              `yaml:"log"`
}

// DataConfig selects the price history
type DataConfig struct {
	CSV       string                 `yaml:"csv"`    // Default: none, synthetic bars are generated
	Symbol    string                 `yaml:"symbol"` // Default: derived from the CSV file name
	Synthetic market.SyntheticConfig `yaml:"synthetic"`
}

// OutputConfig controls artifact writing
type OutputConfig struct {
	Dir     string `yaml:"dir"`     // Default: out/backtests
	Enabled bool   `yaml:"enabled"` // Default: true
}

// Default returns the full default configuration
func Default() *Config {
	return &Config{
		Data:       DataConfig{Synthetic: market.DefaultSyntheticConfig()},
		Backtest:   backtest.DefaultConfig(),
		Adaptive:   backtest.DefaultAdaptiveConfig(),
		Strategies: strategy.DefaultConfig(),
		Classifier: regime.DefaultClassifierConfig(),
		Selector:   regime.DefaultSelectorConfig(),
		Perf:       perf.DefaultConfig(),
		Alerts:     perf.DefaultAlertConfig(),
		Batch:      batch.DefaultConfig(),
		Grid: batch.Grid{
			Strategies:   append(strategy.Names(), batch.StrategyAdaptive),
			RiskPerTrade: []float64{0.005, 0.01, 0.02},
		},
		Output: OutputConfig{Dir: filepath.Join("out", "backtests"), Enabled: true},
		Server: telemetry.DefaultServerConfig(),
		Log:    log.DefaultConfig(),
	}
}

// DefaultPath returns the default path for the configuration file
func DefaultPath() string {
	return filepath.Join("config", "regimerun.yaml")
}

// Load reads configPath over the defaults, applies environment overrides
// and validates the result. An empty configPath uses defaults only. Values
// from envFiles (default ".env", when present) never replace variables
// already set in the environment.
func Load(configPath string, envFiles ...string) (*Config, error) {
	cfg := Default()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	}

	if err := loadEnvFiles(envFiles); err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadEnvFiles(files []string) error {
	if len(files) == 0 {
		if _, err := os.Stat(".env"); err != nil {
			return nil
		}
		files = []string{".env"}
	}
	if err := godotenv.Load(files...); err != nil {
		return fmt.Errorf("failed to load env file: %w", err)
	}
	return nil
}

// Save writes the configuration as YAML
func (c *Config) Save(configPath string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

type envOverride struct {
	key   string
	apply func(c *Config, v string) error
}

var envOverrides = []envOverride{
	{"INITIAL_CAPITAL", func(c *Config, v string) error { return parseFloat(v, &c.Backtest.InitialCapital) }},
	{"RISK_PER_TRADE", func(c *Config, v string) error { return parseFloat(v, &c.Backtest.RiskPerTrade) }},
	{"MAX_CONCURRENT_TRADES", func(c *Config, v string) error { return parseInt(v, &c.Backtest.MaxConcurrentTrades) }},
	{"LOOKAHEAD_BARS", func(c *Config, v string) error { return parseInt(v, &c.Backtest.LookaheadBars) }},
	{"SLIPPAGE", func(c *Config, v string) error { return parseBool(v, &c.Backtest.SlippageEnabled) }},
	{"SLIPPAGE_SEED", func(c *Config, v string) error {
		seed, err := strconv.ParseUint(v, 10, 64)
		c.Backtest.SlippageSeed = seed
		return err
	}},
	{"EXIT_POLICY", func(c *Config, v string) error {
		c.Backtest.ExitPolicy = backtest.ExitPolicy(strings.ToLower(v))
		return nil
	}},
	{"DATA_CSV", func(c *Config, v string) error { c.Data.CSV = v; return nil }},
	{"SYMBOL", func(c *Config, v string) error { c.Data.Symbol = v; return nil }},
	{"OUTPUT_DIR", func(c *Config, v string) error { c.Output.Dir = v; return nil }},
	{"WORKERS", func(c *Config, v string) error { return parseInt(v, &c.Batch.Workers) }},
	{"METRICS_ADDR", func(c *Config, v string) error { c.Server.Addr = v; return nil }},
	{"LOG_LEVEL", func(c *Config, v string) error { c.Log.Level = v; return nil }},
	{"LOG_FILE", func(c *Config, v string) error { c.Log.File = v; return nil }},
}

// ApplyEnv applies REGIMERUN_* overrides found through lookup
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	var errs []error
	for _, o := range envOverrides {
		v, ok := lookup(EnvPrefix + o.key)
		if !ok {
			continue
		}
		if err := o.apply(c, strings.TrimSpace(v)); err != nil {
			errs = append(errs, fmt.Errorf("invalid %s%s: %w", EnvPrefix, o.key, err))
		}
	}
	return errors.Join(errs...)
}

func parseFloat(v string, dst *float64) error {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return err
	}
	*dst = f
	return nil
}

func parseInt(v string, dst *int) error {
	n, err := strconv.Atoi(v)
	if err != nil {
		return err
	}
	*dst = n
	return nil
}

func parseBool(v string, dst *bool) error {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return err
	}
	*dst = b
	return nil
}

// Validate checks every section and reports all problems together
func (c *Config) Validate() error {
	var errs []error
	add := func(section string, err error) {
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", section, err))
		}
	}

	add("backtest", c.Backtest.Validate())
	add("adaptive", c.Adaptive.Validate())
	add("strategies", c.Strategies.Validate())
	add("batch", c.Batch.Validate())
	add("log", c.Log.Validate())

	classifier, err := regime.NewClassifier(c.Classifier)
	add("classifier", err)
	if err == nil {
		_, err = regime.NewSelector(classifier, c.Selector, c.Strategies)
		add("selector", err)
	}

	for _, name := range c.Grid.Strategies {
		if name == batch.StrategyAdaptive {
			continue
		}
		if _, err := strategy.New(name, c.Strategies); err != nil {
			add("grid", err)
		}
	}
	if c.Output.Enabled && c.Output.Dir == "" {
		add("output", errors.New("dir is required when output is enabled"))
	}
	return errors.Join(errs...)
}

// LoadSeries loads the configured price history: the CSV file when set,
// otherwise the synthetic generator
func (d DataConfig) LoadSeries() (*market.Series, error) {
	if d.CSV == "" {
		synth := d.Synthetic
		if d.Symbol != "" {
			synth.Symbol = d.Symbol
		}
		return market.Generate(synth)
	}
	symbol := d.Symbol
	if symbol == "" {
		symbol = strings.ToUpper(strings.TrimSuffix(filepath.Base(d.CSV), filepath.Ext(d.CSV)))
	}
	return market.LoadCSV(d.CSV, symbol)
}
