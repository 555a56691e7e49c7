package batch

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/sawpanic/regimerun/internal/backtest"
	"github.com/sawpanic/regimerun/internal/market"
	"github.com/sawpanic/regimerun/internal/regime"
	"github.com/sawpanic/regimerun/internal/report/perf"
	"github.com/sawpanic/regimerun/internal/strategy"
)

// Config holds batch runner configuration
type Config struct {
	Workers          int           `yaml:"workers"`           // Default: 4
	BreakerFailures  uint32        `yaml:"breaker_failures"`  // Default: 3 consecutive failures open a strategy's breaker
	BreakerTimeout   time.Duration `yaml:"breaker_timeout"`   // Default: 30s before a half-open probe
	ProgressInterval time.Duration `yaml:"progress_interval"` // Default: 2s between progress logs
}

// DefaultConfig returns default batch configuration
func DefaultConfig() Config {
	return Config{
		Workers:          4,
		BreakerFailures:  3,
		BreakerTimeout:   30 * time.Second,
		ProgressInterval: 2 * time.Second,
	}
}

// Validate checks the runner configuration
func (c Config) Validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	if c.BreakerFailures < 1 {
		return fmt.Errorf("breaker_failures must be at least 1, got %d", c.BreakerFailures)
	}
	return nil
}

// Settings carries the detector, regime and scoring configuration shared by
// every job
type Settings struct {
	Strategies strategy.Config
	Classifier regime.ClassifierConfig
	Selector   regime.SelectorConfig
	Adaptive   backtest.AdaptiveConfig
	Perf       perf.Config
}

// DefaultSettings returns default settings for every component
func DefaultSettings() Settings {
	return Settings{
		Strategies: strategy.DefaultConfig(),
		Classifier: regime.DefaultClassifierConfig(),
		Selector:   regime.DefaultSelectorConfig(),
		Adaptive:   backtest.DefaultAdaptiveConfig(),
		Perf:       perf.DefaultConfig(),
	}
}

// Outcome is the result of one job
type Outcome struct {
	Job      Job
	Result   *backtest.Result
	Adaptive *backtest.AdaptiveResult // set for StrategyAdaptive jobs
	Snapshot perf.Snapshot
	Err      error
	Rank     int // 1-based by score among successful jobs, 0 on failure
}

// activity is implemented by recorders that track in-flight runs
type activity interface {
	RunStarted()
	RunFinished()
}

// Runner executes jobs on a bounded worker pool. Each strategy runs behind
// its own circuit breaker so a detector that keeps failing stops consuming
// workers.
type Runner struct {
	config     Config
	settings   Settings
	calculator *perf.Calculator
	logger     zerolog.Logger
	recorder   backtest.Recorder
	onDone     func(Outcome)

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// Option configures a Runner
type Option func(*Runner)

// WithLogger sets the runner logger, also handed to engines and selectors
func WithLogger(l zerolog.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// WithRecorder sets the recorder handed to every engine
func WithRecorder(rec backtest.Recorder) Option {
	return func(r *Runner) { r.recorder = rec }
}

// WithProgress sets a callback invoked after every finished job. It may be
// called from several goroutines at once.
func WithProgress(fn func(Outcome)) Option {
	return func(r *Runner) { r.onDone = fn }
}

// NewRunner creates a runner after validating the shared settings
func NewRunner(config Config, settings Settings, opts ...Option) (*Runner, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if err := settings.Strategies.Validate(); err != nil {
		return nil, fmt.Errorf("invalid strategy config: %w", err)
	}
	classifier, err := regime.NewClassifier(settings.Classifier)
	if err != nil {
		return nil, fmt.Errorf("invalid classifier config: %w", err)
	}
	if _, err := regime.NewSelector(classifier, settings.Selector, settings.Strategies); err != nil {
		return nil, fmt.Errorf("invalid selector config: %w", err)
	}
	if err := settings.Adaptive.Validate(); err != nil {
		return nil, fmt.Errorf("invalid adaptive config: %w", err)
	}

	r := &Runner{
		config:     config,
		settings:   settings,
		calculator: perf.NewCalculator(settings.Perf),
		logger:     zerolog.Nop(),
		breakers:   make(map[string]*gobreaker.CircuitBreaker),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

func (r *Runner) breaker(name string) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cb, ok := r.breakers[name]; ok {
		return cb
	}
	failures := r.config.BreakerFailures
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    name,
		Timeout: r.config.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			r.logger.Warn().
				Str("strategy", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Strategy circuit breaker state change")
		},
	})
	r.breakers[name] = cb
	return cb
}

// Run executes jobs against series concurrently and returns the outcomes
// ranked by performance score, failures last. The error is non-nil only
// when ctx ended before every job ran.
func (r *Runner) Run(ctx context.Context, series *market.Series, jobs []Job) ([]Outcome, error) {
	startTime := time.Now()
	outcomes := make([]Outcome, len(jobs))
	semaphore := make(chan struct{}, r.config.Workers)
	progress := rate.Sometimes{First: 1, Interval: r.config.ProgressInterval}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		done int
	)

	for i, job := range jobs {
		wg.Add(1)
		go func(i int, job Job) {
			defer wg.Done()

			// Acquire semaphore
			select {
			case semaphore <- struct{}{}:
				defer func() { <-semaphore }()
			case <-ctx.Done():
				outcomes[i] = Outcome{Job: job, Err: ctx.Err()}
				return
			}
			if err := ctx.Err(); err != nil {
				outcomes[i] = Outcome{Job: job, Err: err}
				return
			}

			outcomes[i] = r.RunJob(series, job)
			if r.onDone != nil {
				r.onDone(outcomes[i])
			}

			mu.Lock()
			done++
			completed := done
			mu.Unlock()
			progress.Do(func() {
				r.logger.Info().
					Int("completed", completed).
					Int("total", len(jobs)).
					Dur("elapsed", time.Since(startTime)).
					Msg("Batch progress")
			})
		}(i, job)
	}
	wg.Wait()

	Rank(outcomes)

	failed := 0
	for _, o := range outcomes {
		if o.Err != nil {
			failed++
		}
	}
	r.logger.Info().
		Int("jobs", len(jobs)).
		Int("failed", failed).
		Dur("duration", time.Since(startTime)).
		Msg("Batch completed")

	return outcomes, ctx.Err()
}

// RunJob executes a single job through its strategy's breaker
func (r *Runner) RunJob(series *market.Series, job Job) Outcome {
	if a, ok := r.recorder.(activity); ok {
		a.RunStarted()
		defer a.RunFinished()
	}

	out := Outcome{Job: job}
	_, err := r.breaker(job.Strategy).Execute(func() (interface{}, error) {
		return nil, r.execute(series, job, &out)
	})
	if err != nil {
		out.Err = fmt.Errorf("job %s (%s): %w", job.ID, job.Strategy, err)
		r.logger.Error().Err(err).Str("job", job.ID).Str("strategy", job.Strategy).Msg("Backtest job failed")
		return out
	}

	out.Snapshot = r.calculator.Evaluate(out.Result.Trades, out.Result.InitialCapital, out.Result.FinalCapital)
	return out
}

func (r *Runner) execute(series *market.Series, job Job, out *Outcome) error {
	opts := []backtest.Option{backtest.WithLogger(r.logger)}
	if r.recorder != nil {
		opts = append(opts, backtest.WithRecorder(r.recorder))
	}
	engine, err := backtest.NewEngine(job.Config, opts...)
	if err != nil {
		return err
	}

	if job.Strategy == StrategyAdaptive {
		classifier, err := regime.NewClassifier(r.settings.Classifier)
		if err != nil {
			return err
		}
		selector, err := regime.NewSelector(classifier, r.settings.Selector, r.settings.Strategies,
			regime.WithSelectorLogger(r.logger))
		if err != nil {
			return err
		}
		ad, err := engine.RunAdaptive(series, selector, r.settings.Adaptive)
		if err != nil {
			return err
		}
		out.Adaptive = ad
		out.Result = ad.Result
		return nil
	}

	detector, err := strategy.New(job.Strategy, r.settings.Strategies)
	if err != nil {
		return err
	}
	out.Result, err = engine.Run(series, detector)
	return err
}

// Rank orders outcomes by descending performance score, keeping job order
// among ties, and numbers the successful ones from 1
func Rank(outcomes []Outcome) {
	slices.SortStableFunc(outcomes, func(a, b Outcome) int {
		if (a.Err == nil) != (b.Err == nil) {
			if a.Err == nil {
				return -1
			}
			return 1
		}
		return cmp.Compare(b.Snapshot.PerformanceScore, a.Snapshot.PerformanceScore)
	})
	rank := 0
	for i := range outcomes {
		if outcomes[i].Err != nil {
			outcomes[i].Rank = 0
			continue
		}
		rank++
		outcomes[i].Rank = rank
	}
}
