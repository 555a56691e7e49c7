package backtest

import (
	"cmp"
	"fmt"
	"maps"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/rs/zerolog"

	"github.com/sawpanic/regimerun/internal/market"
	"github.com/sawpanic/regimerun/internal/strategy"
	"github.com/sawpanic/regimerun/internal/trade"
)

// SkipMaxConcurrent is the skip reason for setups dropped at the
// concurrency cap
const SkipMaxConcurrent = "max_concurrent"

// second PCG word so a bare seed still yields a well-mixed stream
const slippageStream = 0x9e3779b97f4a7c15

// Result is the outcome of one backtest run
type Result struct {
	Symbol         string         `json:"symbol"`
	Strategy       string         `json:"strategy"`
	Trades         []trade.Trade  `json:"trades"`
	Setups         int            `json:"setups"`
	Skipped        map[string]int `json:"skipped"`
	Failed         int            `json:"failed"`
	Slipped        int            `json:"slipped"`
	PeakConcurrent int            `json:"peak_concurrent"`
	InitialCapital float64        `json:"initial_capital"`
	FinalCapital   float64        `json:"final_capital"`
	Elapsed        time.Duration  `json:"elapsed_ns"`
}

// SkippedTotal sums skipped setups over all reasons
func (r *Result) SkippedTotal() int {
	total := 0
	for _, n := range r.Skipped {
		total += n
	}
	return total
}

// Engine runs backtests. A single Engine may run many backtests, one after
// another or concurrently; every run owns its own trade.Manager.
type Engine struct {
	config   Config
	logger   zerolog.Logger
	recorder Recorder
	clock    Clock
	source   func() rand.Source
}

// Option configures an Engine
type Option func(*Engine)

// WithLogger sets the engine logger
func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithRecorder sets the event recorder
func WithRecorder(r Recorder) Option {
	return func(e *Engine) {
		if r != nil {
			e.recorder = r
		}
	}
}

// WithClock sets the clock used to time runs
func WithClock(c Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithRandSource replaces the seeded slippage source. newSource is called
// once per run.
func WithRandSource(newSource func() rand.Source) Option {
	return func(e *Engine) { e.source = newSource }
}

// NewEngine validates config and creates an engine
func NewEngine(config Config, opts ...Option) (*Engine, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		config:   config,
		logger:   zerolog.Nop(),
		recorder: nopRecorder{},
		clock:    realClock{},
	}
	for _, opt := range opts {
		opt(e)
	}
	if config.MaxConcurrentTrades == 0 {
		e.logger.Warn().Msg("max_concurrent_trades is 0, every setup will be skipped")
	}
	return e, nil
}

// Config returns the engine configuration
func (e *Engine) Config() Config { return e.config }

func (e *Engine) newRand() *rand.Rand {
	if e.source != nil {
		return rand.New(e.source())
	}
	return rand.New(rand.NewPCG(e.config.SlippageSeed, slippageStream))
}

// Run detects setups on series and simulates them in detection order
func (e *Engine) Run(series *market.Series, detector strategy.Detector) (*Result, error) {
	if series.Len() == 0 {
		return nil, market.ErrEmptySeries
	}
	if detector == nil {
		return nil, fmt.Errorf("backtest requires a detector")
	}

	started := e.clock.Now()
	setups, err := detector.DetectSetups(series)
	if err != nil {
		return nil, fmt.Errorf("detector %s failed: %w", detector.Name(), err)
	}

	sim, err := e.newSimulation(series, detector.Name())
	if err != nil {
		return nil, err
	}
	for _, setup := range setups {
		sim.process(detector.Name(), setup)
	}
	res := sim.finish()
	res.Elapsed = e.clock.Now().Sub(started)
	e.recorder.RunCompleted(res.Strategy, res.Elapsed)

	e.logger.Info().
		Str("symbol", res.Symbol).
		Str("strategy", res.Strategy).
		Int("setups", res.Setups).
		Int("trades", len(res.Trades)).
		Int("skipped", res.SkippedTotal()).
		Int("failed", res.Failed).
		Float64("final_capital", res.FinalCapital).
		Msg("Backtest completed")

	return res, nil
}

// pendingExit is a trade whose exit is known but not yet booked
type pendingExit struct {
	handle trade.Handle
	at     time.Time
	price  float64
	reason trade.ExitReason
}

// simulation is the state of one run. Exits are found as soon as a trade
// opens but booked in exit-time order, so a trade holds its slot and its
// P&L stays out of capital until its exit bar has passed.
type simulation struct {
	e       *Engine
	series  *market.Series
	mgr     *trade.Manager
	rng     *rand.Rand
	pending []pendingExit
	res     *Result
}

func (e *Engine) newSimulation(series *market.Series, strategyName string) (*simulation, error) {
	mgr, err := trade.NewManager(e.config.InitialCapital, e.config.Sizing())
	if err != nil {
		return nil, fmt.Errorf("failed to create trade manager: %w", err)
	}
	return &simulation{
		e:      e,
		series: series,
		mgr:    mgr,
		rng:    e.newRand(),
		res: &Result{
			Symbol:         series.Symbol,
			Strategy:       strategyName,
			Skipped:        make(map[string]int),
			InitialCapital: e.config.InitialCapital,
		},
	}, nil
}

func (s *simulation) process(name string, setup strategy.Setup) {
	s.res.Setups++
	s.settle(setup.EntryTime)

	if !s.mgr.CanOpen(s.e.config.MaxConcurrentTrades) {
		s.res.Skipped[SkipMaxConcurrent]++
		s.e.recorder.SetupSkipped(name, SkipMaxConcurrent)
		s.e.logger.Debug().
			Str("strategy", name).
			Time("entry_time", setup.EntryTime).
			Int("open", s.mgr.OpenCount()).
			Msg("Setup skipped at concurrency cap")
		return
	}

	s.simulateIsolated(name, setup)
}

// simulateIsolated keeps one failing setup from touching the rest of the run
func (s *simulation) simulateIsolated(name string, setup strategy.Setup) {
	h := trade.Handle(-1)
	fail := func(cause any) {
		if h >= 0 {
			_ = s.mgr.Abort(h)
		}
		s.res.Failed++
		s.e.recorder.SetupFailed(name)
		s.e.logger.Error().
			Str("strategy", name).
			Time("entry_time", setup.EntryTime).
			Interface("cause", cause).
			Msg("Setup simulation failed, continuing")
	}
	defer func() {
		if r := recover(); r != nil {
			fail(r)
		}
	}()

	if err := s.simulate(name, setup, &h); err != nil {
		fail(err.Error())
	}
}

func (s *simulation) simulate(name string, setup strategy.Setup, h *trade.Handle) error {
	cfg := s.e.config
	idx, found := s.series.IndexOf(setup.EntryTime)

	entryTime, entryPrice := setup.EntryTime, setup.EntryPrice
	slipped := false
	if found && cfg.SlippageEnabled && s.rng.Float64() < cfg.SlippageProbability {
		// a delay past the end of history fills at the setup price
		if fill := idx + cfg.SlippageDelayBars; fill < s.series.Len() {
			idx = fill
			entryTime, entryPrice = s.series.Time[fill], s.series.Close[fill]
			slipped = true
			s.res.Slipped++
		}
	}
	if slipped {
		// size against capital as of the fill, not the signal
		s.settle(entryTime)
	}

	lv := s.e.resolveLevels(setup, entryPrice)
	meta := maps.Clone(setup.Metadata)
	if meta == nil {
		meta = make(map[string]any, 3)
	}
	meta["stop_source"] = string(lv.stopSrc)
	meta["target_source"] = string(lv.targetSrc)
	if slipped {
		meta["slipped_from"] = setup.EntryTime
	}
	if setup.StopLoss != nil && lv.stopSrc == SourceDefault {
		meta["rejected_stop"] = *setup.StopLoss
		s.e.logger.Debug().
			Str("strategy", name).
			Time("entry_time", entryTime).
			Float64("entry_price", entryPrice).
			Float64("setup_stop", *setup.StopLoss).
			Float64("stop", lv.stop).
			Msg("Setup stop not beyond entry, using default")
	}
	if setup.Target != nil && lv.targetSrc == SourceDefault {
		meta["rejected_target"] = *setup.Target
		s.e.logger.Debug().
			Str("strategy", name).
			Time("entry_time", entryTime).
			Float64("entry_price", entryPrice).
			Float64("setup_target", *setup.Target).
			Float64("target", lv.target).
			Msg("Setup target not beyond entry, using default")
	}

	handle, err := s.mgr.Open(trade.OpenRequest{
		Symbol:     s.series.Symbol,
		Direction:  setup.Direction,
		EntryTime:  entryTime,
		EntryPrice: entryPrice,
		StopLoss:   trade.Float(lv.stop),
		Target:     trade.Float(lv.target),
		Strategy:   name,
		Metadata:   meta,
	})
	if err != nil {
		return fmt.Errorf("failed to open trade: %w", err)
	}
	*h = handle
	s.e.recorder.TradeOpened(name)

	if !found {
		closed, err := s.mgr.Close(handle, entryTime, entryPrice, trade.ExitNoData)
		if err != nil {
			return fmt.Errorf("failed to close trade without data: %w", err)
		}
		s.booked(closed)
		return nil
	}

	exit, ok, err := s.walk(handle, setup.Direction, idx, lv)
	if err != nil {
		return err
	}
	if ok {
		s.pending = append(s.pending, exit)
	}
	// otherwise history ended inside the window and finish force-closes it
	return nil
}

// walk scans the bars after entry for the first stop or target touch. A bar
// only moves the excursions as far as the exit level it fills at.
func (s *simulation) walk(h trade.Handle, dir trade.Direction, entryIdx int, lv levels) (pendingExit, bool, error) {
	end := entryIdx + s.e.config.LookaheadBars
	last := min(end, s.series.Len()-1)

	for j := entryIdx + 1; j <= last; j++ {
		bar := s.series.Bar(j)
		if price, reason, hit := s.e.checkExit(dir, bar, lv); hit {
			if err := s.mgr.UpdateExcursions(h, price); err != nil {
				return pendingExit{}, false, err
			}
			return pendingExit{handle: h, at: bar.Time, price: price, reason: reason}, true, nil
		}
		if err := s.mgr.UpdateExcursions(h, bar.High); err != nil {
			return pendingExit{}, false, err
		}
		if err := s.mgr.UpdateExcursions(h, bar.Low); err != nil {
			return pendingExit{}, false, err
		}
	}

	if end < s.series.Len() {
		return pendingExit{handle: h, at: s.series.Time[end], price: s.series.Close[end], reason: trade.ExitTimeStop}, true, nil
	}
	// A window cut short by the end of history is not a time stop: the trade
	// stays open and finish closes it at the last close as end_of_backtest.
	return pendingExit{}, false, nil
}

// settle books every pending exit at or before t, earliest first
func (s *simulation) settle(t time.Time) {
	if len(s.pending) == 0 {
		return
	}
	slices.SortStableFunc(s.pending, func(a, b pendingExit) int {
		if c := a.at.Compare(b.at); c != 0 {
			return c
		}
		return cmp.Compare(a.handle, b.handle)
	})

	n := 0
	for _, p := range s.pending {
		if p.at.After(t) {
			break
		}
		n++
		closed, err := s.mgr.Close(p.handle, p.at, p.price, p.reason)
		if err != nil {
			s.e.logger.Error().Err(err).Int("trade", int(p.handle)).Msg("Failed to book exit")
			continue
		}
		s.booked(closed)
	}
	s.pending = s.pending[n:]
}

func (s *simulation) booked(t trade.Trade) {
	s.e.recorder.TradeClosed(t)
	s.e.logger.Debug().
		Int("trade", t.ID).
		Str("direction", string(t.Direction)).
		Str("reason", string(t.ExitReason)).
		Float64("pnl", t.PnL).
		Float64("pnl_pct", t.PnLPct).
		Msg("Trade closed")
}

// finish books the remaining exits and force-closes trades whose window ran
// past the end of history
func (s *simulation) finish() *Result {
	lastBar := s.series.Last()
	s.settle(lastBar.Time)

	if s.mgr.OpenCount() > 0 {
		closed, err := s.mgr.ForceCloseAll(lastBar.Time, map[string]float64{s.series.Symbol: lastBar.Close}, trade.ExitEndOfBacktest)
		if err != nil {
			s.e.logger.Error().Err(err).Msg("Failed to force-close open trades")
		}
		for _, t := range closed {
			s.booked(t)
		}
	}

	s.res.Trades = s.mgr.Closed()
	s.res.PeakConcurrent = s.mgr.PeakConcurrent()
	s.res.FinalCapital = s.mgr.Capital()
	return s.res
}
