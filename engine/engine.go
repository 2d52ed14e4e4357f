// Package engine wires the tick stream to analysis and execution: ticks
// build candles synchronously, and each symbol is analysed on its own
// goroutine at most once per interval.
package engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rustyeddy/autotrader/broker"
	"github.com/rustyeddy/autotrader/execution"
	"github.com/rustyeddy/autotrader/filter"
	"github.com/rustyeddy/autotrader/market"
	"github.com/rustyeddy/autotrader/oracle"
	"github.com/rustyeddy/autotrader/pkg/id"
	"github.com/rustyeddy/autotrader/risk"
	"github.com/rustyeddy/autotrader/store"
	"github.com/yanun0323/logs"
)

type Config struct {
	Symbols          []string         `json:"symbols" yaml:"symbols"`
	Timeframe        market.Timeframe `json:"timeframe" yaml:"timeframe"`
	AnalysisInterval time.Duration    `json:"analysis_interval" yaml:"analysis_interval"`
	AnalysisTimeout  time.Duration    `json:"analysis_timeout" yaml:"analysis_timeout"`
	// Candles is how many closed candles the filter sees.
	Candles       int           `json:"candles" yaml:"candles"`
	WarmupCandles int           `json:"warmup_candles" yaml:"warmup_candles"`
	QueueSize     int           `json:"queue_size" yaml:"queue_size"`
	SettingsPoll  time.Duration `json:"settings_poll" yaml:"settings_poll"`
	// ADXTrend is the ADX above which the regime is reported as trending.
	ADXTrend float64        `json:"adx_trend" yaml:"adx_trend"`
	Backoff  broker.Backoff `json:"feed_backoff" yaml:"feed_backoff"`
}

func DefaultConfig() Config {
	return Config{
		Symbols:          []string{"EURUSD", "GBPUSD", "USDJPY", "XAUUSD"},
		Timeframe:        market.M15,
		AnalysisInterval: 60 * time.Second,
		AnalysisTimeout:  2 * time.Minute,
		Candles:          120,
		WarmupCandles:    200,
		QueueSize:        4096,
		SettingsPoll:     30 * time.Second,
		ADXTrend:         25,
		Backoff:          broker.DefaultBackoff(),
	}
}

// Deps are the collaborators the engine drives.
type Deps struct {
	Aggregator *market.Aggregator
	Filter     *filter.Pipeline
	Oracle     oracle.Oracle
	Bank       *risk.Bank
	Router     *execution.Router
	Pool       *broker.Pool
	Store      store.Store
}

// Hooks observe the engine; any may be nil.
type Hooks struct {
	Tick     func(market.Tick)
	Verdict  func(filter.Verdict)
	Decision func(symbol string, d oracle.Decision)
	Cycle    func(Cycle)
	Settings func(store.Settings)
}

// Cycle is the outcome of one analysis.
type Cycle struct {
	Symbol   string
	At       time.Time
	Verdict  filter.Verdict
	Decision oracle.Decision
	SignalID string
	Results  []execution.Result
	// Halted names why the cycle stopped short of execution.
	Halted string
}

// CandleSource supplies history for warm-up.
type CandleSource interface {
	Candles(ctx context.Context, symbol string, tf market.Timeframe, count int) ([]market.Candle, error)
}

type Engine struct {
	cfg      Config
	deps     Deps
	queue    *market.TickQueue
	throttle *Throttle
	symbols  map[string]bool
	hooks    Hooks

	enabled atomic.Bool
	version atomic.Int64
	wg      sync.WaitGroup
}

func New(cfg Config, deps Deps) *Engine {
	if cfg.Timeframe == "" {
		cfg.Timeframe = market.M15
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	if deps.Oracle == nil {
		deps.Oracle = oracle.HoldOracle{}
	}
	e := &Engine{
		cfg:      cfg,
		deps:     deps,
		queue:    market.NewTickQueue(cfg.QueueSize),
		throttle: NewThrottle(cfg.AnalysisInterval),
		symbols:  make(map[string]bool, len(cfg.Symbols)),
	}
	for _, s := range cfg.Symbols {
		e.symbols[market.Normalize(s)] = true
	}
	e.enabled.Store(true)
	return e
}

func (e *Engine) SetHooks(h Hooks) { e.hooks = h }

// Queue is the sink gateways stream ticks into.
func (e *Engine) Queue() *market.TickQueue { return e.queue }

func (e *Engine) Throttle() *Throttle { return e.throttle }

func (e *Engine) Symbols() []string { return append([]string(nil), e.cfg.Symbols...) }

func (e *Engine) TradingEnabled() bool { return e.enabled.Load() }

func (e *Engine) SettingsVersion() int64 { return e.version.Load() }

func (e *Engine) tracked(symbol string) bool {
	return len(e.symbols) == 0 || e.symbols[symbol]
}

// Run consumes the tick queue until ctx is done, then waits for in-flight
// analyses.
func (e *Engine) Run(ctx context.Context) error {
	defer e.wg.Wait()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case t := <-e.queue.C():
			e.Handle(ctx, t)
		}
	}
}

// Handle ingests one tick and starts an analysis if the throttle allows.
// It never blocks on analysis.
func (e *Engine) Handle(ctx context.Context, t market.Tick) bool {
	e.deps.Aggregator.Ingest(t)
	if e.hooks.Tick != nil {
		e.hooks.Tick(t)
	}

	symbol := market.Normalize(t.Instrument)
	if !e.tracked(symbol) || !e.throttle.TryAcquire(symbol, t.Time) {
		return false
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer e.throttle.Release(symbol)
		defer func() {
			if r := recover(); r != nil {
				logs.Errorf("analysis panic symbol=%s: %v\n%s", symbol, r, debug.Stack())
			}
		}()

		actx := ctx
		if e.cfg.AnalysisTimeout > 0 {
			var cancel context.CancelFunc
			actx, cancel = context.WithTimeout(ctx, e.cfg.AnalysisTimeout)
			defer cancel()
		}
		e.Analyze(actx, symbol, t.Time)
	}()
	return true
}

// Wait blocks until every started analysis has finished.
func (e *Engine) Wait() { e.wg.Wait() }

// Analyze runs one cycle for symbol at the given time: filter, global halt
// check, oracle, signal, execution.
func (e *Engine) Analyze(ctx context.Context, symbol string, at time.Time) Cycle {
	symbol = market.Normalize(symbol)
	c := Cycle{Symbol: symbol, At: at}
	defer func() {
		if e.hooks.Cycle != nil {
			e.hooks.Cycle(c)
		}
	}()

	if !e.enabled.Load() {
		c.Halted = "trading disabled"
		return c
	}

	candles := e.deps.Aggregator.Closed(symbol, e.cfg.Timeframe, e.cfg.Candles)
	in := filter.Input{Symbol: symbol, Candles: candles, Now: at}
	if tick, ok := e.deps.Aggregator.LastTick(symbol); ok && tick.Valid() {
		spread := tick.Spread()
		in.Spread = &spread
		in.Price = tick.Mid()
	}

	c.Verdict = e.deps.Filter.Evaluate(in)
	if e.hooks.Verdict != nil {
		e.hooks.Verdict(c.Verdict)
	}
	if !c.Verdict.Passed {
		c.Halted = c.Verdict.Gate
		logs.Debugf("filter rejected symbol=%s gate=%s reason=%q", symbol, c.Verdict.Gate, c.Verdict.Reason)
		return c
	}

	if reason, tripped := e.deps.Bank.Breaker.GlobalTrip(); tripped {
		c.Halted = "global halt: " + reason
		logs.Warnf("analysis halted symbol=%s reason=%q", symbol, reason)
		return c
	}

	meta, _ := market.Lookup(symbol)
	price := in.Price
	if price <= 0 {
		price = candles[len(candles)-1].Close
	}
	req := oracle.Request{
		Symbol:         symbol,
		AssetClass:     meta.Class,
		CurrentPrice:   price,
		Candles:        candles,
		Indicators:     c.Verdict.Indicators,
		Regime:         oracle.RegimeFor(c.Verdict.Indicators, e.cfg.ADXTrend),
		AccountBalance: e.referenceBalance(ctx),
		RiskPercent:    e.deps.Bank.Limits().DefaultRiskPercent,
	}
	d, err := e.deps.Oracle.Decide(ctx, req)
	if err != nil {
		d = oracle.Hold(err.Error())
		d.Degraded = true
	}
	c.Decision = d
	if e.hooks.Decision != nil {
		e.hooks.Decision(symbol, d)
	}
	if !d.Actionable() {
		c.Halted = "hold"
		logs.Infof("oracle hold symbol=%s degraded=%t reason=%q", symbol, d.Degraded, d.Reasoning)
		return c
	}

	sig := store.Signal{
		ID:          id.NewAt(at),
		Symbol:      symbol,
		Direction:   d.Action,
		Confidence:  d.Confidence,
		Entry:       d.Entry,
		StopLoss:    d.StopLoss,
		TakeProfits: d.TakeProfits,
		Reasoning:   d.Reasoning,
		Confluence:  c.Verdict.Confluence,
		Status:      store.SignalPending,
		CreatedAt:   at,
	}
	if err := e.deps.Store.CreateSignal(ctx, sig); err != nil {
		c.Halted = "persist signal"
		logs.Errorf("persist signal symbol=%s: %v", symbol, err)
		return c
	}
	c.SignalID = sig.ID

	c.Results = e.deps.Router.Execute(ctx, execution.Order{
		SignalID:   sig.ID,
		Symbol:     symbol,
		Direction:  d.Action,
		Entry:      d.Entry,
		StopLoss:   d.StopLoss,
		TakeProfit: d.TakeProfit(),
		Confidence: d.Confidence,
		Confluence: c.Verdict.Confluence,
	})

	status := store.SignalSkipped
	for _, r := range c.Results {
		if r.Success {
			status = store.SignalExecuted
			break
		}
	}
	if err := e.deps.Store.UpdateSignalStatus(context.WithoutCancel(ctx), sig.ID, status, at); err != nil {
		logs.Errorf("update signal=%s: %v", sig.ID, err)
	}
	logs.Infof("signal %s symbol=%s dir=%s confidence=%.0f confluence=%.0f: %s",
		status, symbol, d.Action, d.Confidence, c.Verdict.Confluence, execution.Summary(c.Results))
	return c
}

// referenceBalance is the balance of the first connected tradeable account,
// or zero.
func (e *Engine) referenceBalance(ctx context.Context) float64 {
	if e.deps.Pool == nil || e.deps.Router == nil {
		return 0
	}
	for _, a := range e.deps.Router.Accounts() {
		if !a.Tradeable() || !e.deps.Pool.Ready(a.ID) {
			continue
		}
		gw, err := e.deps.Pool.Get(ctx, a.ID)
		if err != nil {
			continue
		}
		if info, err := gw.AccountInfo(ctx); err == nil && info.Balance > 0 {
			return info.Balance
		}
	}
	return 0
}

// ApplySettings hot-applies runtime settings. Zero numeric fields keep the
// current value.
func (e *Engine) ApplySettings(s store.Settings) {
	e.enabled.Store(s.TradingEnabled)

	lim := e.deps.Bank.Limits()
	if s.RiskPercent > 0 {
		lim.DefaultRiskPercent = s.RiskPercent
	}
	if s.MaxRiskPercent > 0 {
		lim.MaxRiskPercent = s.MaxRiskPercent
	}
	if s.MinConfidence > 0 {
		lim.MinConfidence = s.MinConfidence
	}
	e.deps.Bank.SetLimits(lim)

	if s.ADXThreshold > 0 {
		e.deps.Filter.SetADXThreshold(s.ADXThreshold)
	}
	if e.deps.Router != nil {
		e.deps.Router.SetMaxOpenPositions(s.MaxOpenPositions)
	}
	if s.AnalysisInterval > 0 {
		e.throttle.SetInterval(s.AnalysisInterval)
	}
	e.version.Store(s.Version)

	logs.Infof("settings applied version=%d trading=%t risk=%.2f%% max_risk=%.2f%% min_conf=%.0f adx=%.0f max_positions=%d interval=%s",
		s.Version, s.TradingEnabled, lim.DefaultRiskPercent, lim.MaxRiskPercent, lim.MinConfidence,
		e.deps.Filter.Config().ADXThreshold, s.MaxOpenPositions, e.throttle.Interval())
	if e.hooks.Settings != nil {
		e.hooks.Settings(s)
	}
}

// FollowSettings applies every settings version the store publishes until
// ctx is done.
func (e *Engine) FollowSettings(ctx context.Context) {
	for s := range store.WatchSettings(ctx, e.deps.Store, e.cfg.SettingsPoll) {
		if s.Version == e.version.Load() {
			continue
		}
		e.ApplySettings(s)
	}
}

// Warmup seeds the aggregator with broker history so analysis can start
// without waiting for candles to build from ticks.
func (e *Engine) Warmup(ctx context.Context, src CandleSource) error {
	var failed int
	for _, symbol := range e.cfg.Symbols {
		candles, err := src.Candles(ctx, symbol, e.cfg.Timeframe, e.cfg.WarmupCandles)
		if err != nil {
			failed++
			logs.Warnf("warmup symbol=%s: %v", symbol, err)
			continue
		}
		n := e.deps.Aggregator.Seed(symbol, e.cfg.Timeframe, candles)
		logs.Infof("warmup symbol=%s timeframe=%s candles=%d", symbol, e.cfg.Timeframe, n)
	}
	if failed == len(e.cfg.Symbols) && failed > 0 {
		return fmt.Errorf("warmup failed for all %d symbols", failed)
	}
	return nil
}

// stableStream is how long a subscription must last before its drop no
// longer counts toward the attempt cap.
const stableStream = time.Minute

// Feed streams ticks from gw into the queue, resubscribing with backoff
// when the stream drops. It returns when ctx is done, the stream ends
// cleanly, or the backoff's attempt cap is reached.
func (e *Engine) Feed(ctx context.Context, gw broker.Gateway) error {
	attempt := 0
	for {
		started := time.Now()
		err := gw.Subscribe(ctx, e.cfg.Symbols, e.queue)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err == nil {
			return nil
		}
		if time.Since(started) >= stableStream {
			attempt = 0
		}
		attempt++
		if e.cfg.Backoff.Exhausted(attempt) {
			return fmt.Errorf("price stream: %w after %d attempts: %v", broker.ErrExhausted, attempt, err)
		}
		wait := e.cfg.Backoff.Next(attempt)
		logs.Warnf("price stream dropped attempt=%d retry_in=%s: %v", attempt, wait, err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		if !gw.Connected() {
			if err := gw.Connect(ctx); err != nil {
				logs.Warnf("price stream reconnect: %v", err)
			}
		}
	}
}
