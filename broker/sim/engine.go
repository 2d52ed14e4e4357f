// Package sim is an in-process paper gateway. It fills market orders at the
// current bid/ask, closes positions on stop-loss/take-profit and liquidates
// the worst position when equity falls below used margin.
package sim

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rustyeddy/autotrader/broker"
	"github.com/rustyeddy/autotrader/market"
	"github.com/rustyeddy/autotrader/pkg/id"
	"github.com/yanun0323/logs"
)

type Config struct {
	AccountID string   `json:"account_id" yaml:"account_id"`
	Currency  string   `json:"currency" yaml:"currency"`
	Balance   float64  `json:"balance" yaml:"balance"`
	Leverage  float64  `json:"leverage" yaml:"leverage"`
	Symbols   []string `json:"symbols" yaml:"symbols"`
	// TicksPath replays a time,instrument,bid,ask CSV on Subscribe.
	TicksPath string `json:"ticks_path" yaml:"ticks_path"`
	// Speed scales replay pacing; zero replays as fast as possible.
	Speed float64 `json:"speed" yaml:"speed"`
}

func DefaultConfig() Config {
	return Config{AccountID: "SIM-001", Currency: "USD", Balance: 10_000, Leverage: 50}
}

type subscriber struct {
	symbols map[string]bool
	sink    market.TickSink
}

type Engine struct {
	cfg Config

	mu        sync.Mutex
	acct      broker.AccountInfo
	ticks     *market.TickStore
	trades    map[string]*Trade
	closed    []Trade
	connected bool
	subs      map[int]subscriber
	nextSub   int
}

var _ broker.Gateway = (*Engine)(nil)

func NewEngine(cfg Config) *Engine {
	if cfg.Currency == "" {
		cfg.Currency = "USD"
	}
	return &Engine{
		cfg: cfg,
		acct: broker.AccountInfo{
			ID:         cfg.AccountID,
			Currency:   cfg.Currency,
			Balance:    cfg.Balance,
			Equity:     cfg.Balance,
			FreeMargin: cfg.Balance,
			Leverage:   cfg.Leverage,
		},
		ticks:  market.NewTickStore(0),
		trades: make(map[string]*Trade),
		subs:   make(map[int]subscriber),
	}
}

func (e *Engine) Connect(context.Context) error {
	e.mu.Lock()
	e.connected = true
	e.mu.Unlock()
	return nil
}

func (e *Engine) Disconnect(context.Context) error {
	e.mu.Lock()
	e.connected = false
	e.mu.Unlock()
	return nil
}

func (e *Engine) Connected() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.connected
}

// Price implements market.Quoter for quote→account conversion.
func (e *Engine) Price(symbol string) (market.Tick, bool) {
	t, err := e.ticks.Get(symbol)
	return t, err == nil
}

func (e *Engine) TradeableSymbols(context.Context) ([]string, error) {
	if len(e.cfg.Symbols) > 0 {
		return append([]string(nil), e.cfg.Symbols...), nil
	}
	out := make([]string, 0, len(market.Instruments))
	for _, m := range market.Instruments {
		out = append(out, m.Name)
	}
	sort.Strings(out)
	return out, nil
}

func (e *Engine) tradeable(symbol string) bool {
	if len(e.cfg.Symbols) == 0 {
		_, ok := market.Lookup(symbol)
		return ok
	}
	for _, s := range e.cfg.Symbols {
		if s == symbol {
			return true
		}
	}
	return false
}

func (e *Engine) AccountInfo(context.Context) (broker.AccountInfo, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.connected {
		return broker.AccountInfo{}, broker.ErrNotConnected
	}
	return e.acct, nil
}

func (e *Engine) OpenOrder(_ context.Context, req broker.OrderRequest) (broker.OrderResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.connected {
		return broker.OrderResult{}, broker.ErrNotConnected
	}
	if !e.tradeable(req.Symbol) {
		return broker.OrderResult{}, fmt.Errorf("%w: %s", broker.ErrSymbolUnavailable, req.Symbol)
	}
	meta, _ := market.Lookup(req.Symbol)
	if req.Direction == market.Flat || req.Volume <= 0 {
		return broker.OrderResult{}, fmt.Errorf("%w: direction %s volume %.2f", broker.ErrRejected, req.Direction, req.Volume)
	}
	p, err := e.ticks.Get(req.Symbol)
	if err != nil {
		return broker.OrderResult{}, fmt.Errorf("%w: %s", broker.ErrNoPrice, req.Symbol)
	}

	fillPrice := p.Ask
	if req.Direction == market.Short {
		fillPrice = p.Bid
	}

	rate, err := market.QuoteToAccountRate(meta, e.acct.Currency, e)
	if err != nil {
		return broker.OrderResult{}, err
	}
	need := TradeMargin(req.Volume*meta.ContractSize, p.Mid(), meta, rate)
	if need > e.acct.FreeMargin {
		return broker.OrderResult{}, fmt.Errorf("%w: margin %.2f exceeds free margin %.2f", broker.ErrRejected, need, e.acct.FreeMargin)
	}

	t := &Trade{
		ID:         id.NewAt(p.Time),
		ClientID:   req.ClientID,
		Symbol:     req.Symbol,
		Meta:       meta,
		Direction:  req.Direction,
		Volume:     req.Volume,
		EntryPrice: fillPrice,
		StopLoss:   req.StopLoss,
		TakeProfit: req.TakeProfit,
		OpenTime:   p.Time,
		Open:       true,
	}
	e.trades[t.ID] = t

	if err := e.revalueLocked(); err != nil {
		return broker.OrderResult{}, err
	}
	if err := e.recomputeMarginLocked(); err != nil {
		return broker.OrderResult{}, err
	}

	return broker.OrderResult{
		PositionID: t.ID,
		Symbol:     req.Symbol,
		FillPrice:  fillPrice,
		Volume:     req.Volume,
		Time:       p.Time,
	}, nil
}

// ClosePosition closes an open trade at the current market price. Longs
// close on the bid, shorts on the ask.
func (e *Engine) ClosePosition(_ context.Context, positionID string) (broker.CloseResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, ok := e.trades[positionID]
	if !ok || !t.Open {
		return broker.CloseResult{}, fmt.Errorf("close %q: %w", positionID, broker.ErrPositionNotFound)
	}
	p, err := e.ticks.Get(t.Symbol)
	if err != nil {
		return broker.CloseResult{}, fmt.Errorf("close %q: %w", positionID, broker.ErrNoPrice)
	}
	closeTime := p.Time
	if closeTime.IsZero() {
		closeTime = time.Now()
	}
	if err := e.closeTradeLocked(t, p.Mark(t.Direction), closeTime, "ManualClose"); err != nil {
		return broker.CloseResult{}, err
	}
	if err := e.revalueLocked(); err != nil {
		return broker.CloseResult{}, err
	}
	if err := e.recomputeMarginLocked(); err != nil {
		return broker.CloseResult{}, err
	}
	return broker.CloseResult{PositionID: t.ID, Price: t.ClosePrice, PnL: t.RealizedPL, Time: t.CloseTime}, nil
}

func (e *Engine) OpenPositions(context.Context) ([]broker.Position, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]broker.Position, 0, len(e.trades))
	for _, t := range e.trades {
		if !t.Open {
			continue
		}
		pos := broker.Position{
			ID:         t.ID,
			Symbol:     t.Symbol,
			Direction:  t.Direction,
			Volume:     t.Volume,
			Units:      t.Units(),
			EntryPrice: t.EntryPrice,
			StopLoss:   t.StopLoss,
			TakeProfit: t.TakeProfit,
			OpenedAt:   t.OpenTime,
		}
		if p, err := e.ticks.Get(t.Symbol); err == nil {
			if rate, err := market.QuoteToAccountRate(t.Meta, e.acct.Currency, e); err == nil {
				pos.UnrealizedPnL = market.PnL(t.Meta, t.Direction, t.Volume, t.EntryPrice, p.Mark(t.Direction), rate)
			}
		}
		out = append(out, pos)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// History returns closed trades, oldest first.
func (e *Engine) History() []Trade {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Trade(nil), e.closed...)
}

// UpdatePrice applies a tick: stop-loss/take-profit closes, revaluation,
// margin and forced liquidation, then fan-out to subscribers.
func (e *Engine) UpdatePrice(p market.Tick) error {
	e.mu.Lock()

	e.ticks.Set(p)
	key := market.Normalize(p.Instrument)

	for _, t := range e.trades {
		if !t.Open || market.Normalize(t.Symbol) != key {
			continue
		}
		mark := p.Mark(t.Direction)

		reason := ""
		switch {
		case hitStopLoss(t, mark):
			reason = "StopLoss"
		case hitTakeProfit(t, mark):
			reason = "TakeProfit"
		}
		if reason != "" {
			if err := e.closeTradeLocked(t, mark, p.Time, reason); err != nil {
				e.mu.Unlock()
				return err
			}
		}
	}

	err := e.revalueLocked()
	if err == nil {
		err = e.recomputeMarginLocked()
	}
	if err == nil {
		err = e.enforceMarginLocked()
	}

	sinks := make([]market.TickSink, 0, len(e.subs))
	for _, s := range e.subs {
		if len(s.symbols) == 0 || s.symbols[key] {
			sinks = append(sinks, s.sink)
		}
	}
	e.mu.Unlock()

	for _, s := range sinks {
		s.Push(p)
	}
	return err
}

// Subscribe registers sink for symbols and, when a tick file is configured,
// replays it. It returns when ctx is done.
func (e *Engine) Subscribe(ctx context.Context, symbols []string, sink market.TickSink) error {
	want := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		want[market.Normalize(s)] = true
	}

	e.mu.Lock()
	e.nextSub++
	n := e.nextSub
	e.subs[n] = subscriber{symbols: want, sink: sink}
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		delete(e.subs, n)
		e.mu.Unlock()
	}()

	if e.cfg.TicksPath != "" {
		feed, err := OpenCSVFeed(e.cfg.TicksPath)
		if err != nil {
			return err
		}
		defer feed.Close()
		if err := e.Replay(ctx, feed); err != nil {
			return err
		}
		logs.Infof("sim replay finished account=%s file=%s", e.cfg.AccountID, e.cfg.TicksPath)
	}

	<-ctx.Done()
	return ctx.Err()
}

// Replay feeds every tick from f through UpdatePrice, paced by Speed.
func (e *Engine) Replay(ctx context.Context, f Feed) error {
	var prev time.Time
	for {
		tick, ok, err := f.Next()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if e.cfg.Speed > 0 && !prev.IsZero() {
			if gap := tick.Time.Sub(prev); gap > 0 {
				timer := time.NewTimer(time.Duration(float64(gap) / e.cfg.Speed))
				select {
				case <-ctx.Done():
					timer.Stop()
					return ctx.Err()
				case <-timer.C:
				}
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		prev = tick.Time
		if err := e.UpdatePrice(tick); err != nil {
			logs.Warnf("sim update price symbol=%s: %v", tick.Instrument, err)
		}
	}
}

func (e *Engine) closeTradeLocked(t *Trade, closePrice float64, closeTime time.Time, reason string) error {
	rate, err := market.QuoteToAccountRate(t.Meta, e.acct.Currency, e)
	if err != nil {
		return err
	}

	t.ClosePrice = closePrice
	t.CloseTime = closeTime
	t.CloseReason = reason
	t.RealizedPL = market.PnL(t.Meta, t.Direction, t.Volume, t.EntryPrice, closePrice, rate)
	t.Open = false

	e.acct.Balance += t.RealizedPL
	e.closed = append(e.closed, *t)
	delete(e.trades, t.ID)
	return nil
}

func (e *Engine) revalueLocked() error {
	equity := e.acct.Balance

	for _, t := range e.trades {
		if !t.Open {
			continue
		}
		p, err := e.ticks.Get(t.Symbol)
		if err != nil {
			return err
		}
		rate, err := market.QuoteToAccountRate(t.Meta, e.acct.Currency, e)
		if err != nil {
			return err
		}
		equity += market.PnL(t.Meta, t.Direction, t.Volume, t.EntryPrice, p.Mark(t.Direction), rate)
	}

	e.acct.Equity = equity
	return nil
}

func (e *Engine) recomputeMarginLocked() error {
	var used float64

	for _, t := range e.trades {
		if !t.Open {
			continue
		}
		p, err := e.ticks.Get(t.Symbol)
		if err != nil {
			return err
		}
		rate, err := market.QuoteToAccountRate(t.Meta, e.acct.Currency, e)
		if err != nil {
			return err
		}
		used += TradeMargin(t.Units(), p.Mid(), t.Meta, rate)
	}

	e.acct.MarginUsed = used
	e.acct.FreeMargin = e.acct.Equity - used
	if used > 0 {
		e.acct.MarginLevel = e.acct.Equity / used
	} else {
		e.acct.MarginLevel = 0
	}
	return nil
}

func (e *Engine) enforceMarginLocked() error {
	for e.acct.MarginUsed > 0 && e.acct.Equity < e.acct.MarginUsed {
		var worst *Trade
		var worstPL float64

		for _, t := range e.trades {
			if !t.Open {
				continue
			}
			p, _ := e.ticks.Get(t.Symbol)
			rate, _ := market.QuoteToAccountRate(t.Meta, e.acct.Currency, e)
			pl := market.PnL(t.Meta, t.Direction, t.Volume, t.EntryPrice, p.Mark(t.Direction), rate)
			if worst == nil || pl < worstPL {
				worst = t
				worstPL = pl
			}
		}
		if worst == nil {
			return nil
		}

		p, _ := e.ticks.Get(worst.Symbol)
		logs.Warnf("sim liquidation account=%s position=%s equity=%.2f margin=%.2f",
			e.acct.ID, worst.ID, e.acct.Equity, e.acct.MarginUsed)
		if err := e.closeTradeLocked(worst, p.Mark(worst.Direction), p.Time, "LIQUIDATION"); err != nil {
			return err
		}
		if err := e.revalueLocked(); err != nil {
			return err
		}
		if err := e.recomputeMarginLocked(); err != nil {
			return err
		}
	}
	return nil
}
