// Package monitor keeps local open trades consistent with what the brokers
// report and closes positions whose stop or target has been crossed.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rustyeddy/autotrader/broker"
	"github.com/rustyeddy/autotrader/market"
	"github.com/rustyeddy/autotrader/risk"
	"github.com/rustyeddy/autotrader/store"
	"github.com/yanun0323/logs"
)

const (
	ReasonClosedAtBroker = "closed_at_broker"
	ReasonStopLoss       = "stop_loss"
	ReasonTakeProfit     = "take_profit"
)

type Config struct {
	Interval time.Duration `json:"interval" yaml:"interval"`
	// CallTimeout bounds each broker call of a pass.
	CallTimeout time.Duration `json:"call_timeout" yaml:"call_timeout"`
}

func DefaultConfig() Config {
	return Config{Interval: 10 * time.Second, CallTimeout: 15 * time.Second}
}

// Closed describes one trade the monitor closed.
type Closed struct {
	Trade  store.Trade
	Exit   float64
	PnL    float64
	Reason string
}

type Monitor struct {
	cfg    Config
	pool   *broker.Pool
	store  store.Store
	bank   *risk.Bank
	quotes market.Quoter
	now    func() time.Time

	onClose func(Closed)
}

func New(cfg Config, pool *broker.Pool, st store.Store, bank *risk.Bank, quotes market.Quoter) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	return &Monitor{cfg: cfg, pool: pool, store: st, bank: bank, quotes: quotes, now: time.Now}
}

func (m *Monitor) SetClock(now func() time.Time) { m.now = now }

// OnClose registers a callback for every closed trade.
func (m *Monitor) OnClose(fn func(Closed)) { m.onClose = fn }

// Run reconciles every Interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	t := time.NewTicker(m.cfg.Interval)
	defer t.Stop()

	for {
		if _, err := m.Reconcile(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logs.Errorf("reconcile: %v", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

// Reconcile runs one pass over every account with open local trades.
// Accounts whose connection is down or backing off are skipped until the
// next pass; one account's failure never stops the others.
func (m *Monitor) Reconcile(ctx context.Context) ([]Closed, error) {
	open, err := m.store.OpenTrades(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("open trades: %w", err)
	}

	byAccount := map[string][]store.Trade{}
	for _, t := range open {
		byAccount[t.AccountID] = append(byAccount[t.AccountID], t)
	}
	ids := make([]string, 0, len(byAccount))
	for id := range byAccount {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var closed []Closed
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return closed, err
		}
		c, err := m.reconcileAccount(ctx, id, byAccount[id])
		closed = append(closed, c...)
		if err != nil {
			logs.Warnf("reconcile account=%s: %v", id, err)
		}
	}
	return closed, nil
}

func (m *Monitor) call(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.cfg.CallTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, m.cfg.CallTimeout)
}

func (m *Monitor) reconcileAccount(ctx context.Context, accountID string, trades []store.Trade) ([]Closed, error) {
	gw, err := m.pool.Get(ctx, accountID)
	if err != nil {
		return nil, err
	}

	cctx, cancel := m.call(ctx)
	positions, err := gw.OpenPositions(cctx)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("open positions: %w", err)
	}
	live := make(map[string]broker.Position, len(positions))
	for _, p := range positions {
		live[p.ID] = p
	}

	currency := ""
	cctx, cancel = m.call(ctx)
	info, err := gw.AccountInfo(cctx)
	cancel()
	if err == nil {
		currency = info.Currency
	}

	var closed []Closed
	for _, t := range trades {
		pos, ok := live[t.PositionID]
		if !ok {
			exit := m.mark(t)
			pnl := m.pnl(t, exit, currency)
			if c, err := m.close(ctx, gw, t, exit, pnl, ReasonClosedAtBroker); err != nil {
				logs.Errorf("close trade=%s account=%s: %v", t.ID, accountID, err)
			} else {
				closed = append(closed, c)
			}
			continue
		}

		reason := m.breach(t, pos)
		if reason == "" {
			continue
		}
		cctx, cancel := m.call(ctx)
		res, err := gw.ClosePosition(cctx, pos.ID)
		cancel()
		if err != nil && !errors.Is(err, broker.ErrPositionNotFound) {
			logs.Errorf("close position=%s account=%s symbol=%s: %v", pos.ID, accountID, t.Symbol, err)
			continue
		}
		exit, pnl := res.Price, res.PnL
		if err != nil || exit == 0 {
			exit = m.mark(t)
			pnl = m.pnl(t, exit, currency)
		} else if pnl == 0 {
			pnl = m.pnl(t, exit, currency)
		}
		if c, err := m.close(ctx, gw, t, exit, pnl, reason); err != nil {
			logs.Errorf("close trade=%s account=%s: %v", t.ID, accountID, err)
		} else {
			closed = append(closed, c)
		}
	}
	return closed, nil
}

// mark is the price the trade would close at now, or its entry when no
// tick is cached.
func (m *Monitor) mark(t store.Trade) float64 {
	if tick, ok := m.quotes.Price(t.Symbol); ok && tick.Valid() {
		return tick.Mark(t.Direction)
	}
	return t.EntryPrice
}

func (m *Monitor) pnl(t store.Trade, exit float64, currency string) float64 {
	meta, ok := market.Lookup(t.Symbol)
	if !ok {
		return 0
	}
	q2a := 1.0
	if currency != "" {
		rate, err := market.QuoteToAccountRate(meta, currency, m.quotes)
		if err != nil {
			logs.Warnf("pnl conversion trade=%s symbol=%s: %v", t.ID, t.Symbol, err)
		} else {
			q2a = rate
		}
	}
	return market.PnL(meta, t.Direction, t.Volume, t.EntryPrice, exit, q2a)
}

// breach reports whether the latest tick crossed the trade's stop or
// target.
func (m *Monitor) breach(t store.Trade, p broker.Position) string {
	tick, ok := m.quotes.Price(t.Symbol)
	if !ok || !tick.Valid() {
		return ""
	}
	sl, tp := t.StopLoss, t.TakeProfit
	if sl == 0 {
		sl = p.StopLoss
	}
	if tp == 0 {
		tp = p.TakeProfit
	}
	mark := tick.Mark(t.Direction)

	switch t.Direction {
	case market.Long:
		if sl > 0 && mark <= sl {
			return ReasonStopLoss
		}
		if tp > 0 && mark >= tp {
			return ReasonTakeProfit
		}
	case market.Short:
		if sl > 0 && mark >= sl {
			return ReasonStopLoss
		}
		if tp > 0 && mark <= tp {
			return ReasonTakeProfit
		}
	}
	return ""
}

func (m *Monitor) close(ctx context.Context, gw broker.Gateway, t store.Trade, exit, pnl float64, reason string) (Closed, error) {
	now := m.now()
	if err := m.store.CloseTrade(ctx, t.ID, exit, pnl, reason, now); err != nil {
		return Closed{}, err
	}
	t.Status = store.TradeClosed
	t.ExitPrice = exit
	t.PnL = pnl
	t.CloseReason = reason
	t.ClosedAt = now

	if t.SignalID != "" {
		status := store.SignalLost
		if pnl > 0 {
			status = store.SignalWon
		}
		if err := m.store.UpdateSignalStatus(ctx, t.SignalID, status, now); err != nil && !errors.Is(err, store.ErrNotFound) {
			logs.Warnf("resolve signal=%s: %v", t.SignalID, err)
		}
	}

	balance := 0.0
	cctx, cancel := m.call(ctx)
	if info, err := gw.AccountInfo(cctx); err == nil {
		balance = info.Balance
	}
	cancel()
	m.bank.Record(t.Result(), balance)

	logs.Infof("trade closed account=%s symbol=%s dir=%s entry=%.5f exit=%.5f pnl=%.2f reason=%s",
		t.AccountID, t.Symbol, t.Direction, t.EntryPrice, exit, pnl, reason)

	c := Closed{Trade: t, Exit: exit, PnL: pnl, Reason: reason}
	if m.onClose != nil {
		m.onClose(c)
	}
	return c, nil
}
