package monitor

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rustyeddy/autotrader/broker"
	"github.com/rustyeddy/autotrader/market"
	"github.com/rustyeddy/autotrader/risk"
	"github.com/rustyeddy/autotrader/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yanun0323/errors"
)

var now = time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)

type stubGateway struct {
	mu        sync.Mutex
	positions []broker.Position
	closes    []string
	closeRes  broker.CloseResult
	infoErr   error
}

func (g *stubGateway) Connect(context.Context) error    { return nil }
func (g *stubGateway) Disconnect(context.Context) error { return nil }
func (g *stubGateway) Connected() bool                  { return true }

func (g *stubGateway) Subscribe(context.Context, []string, market.TickSink) error { return nil }

func (g *stubGateway) OpenOrder(context.Context, broker.OrderRequest) (broker.OrderResult, error) {
	return broker.OrderResult{}, broker.ErrRejected
}

func (g *stubGateway) ClosePosition(_ context.Context, id string) (broker.CloseResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closes = append(g.closes, id)
	kept := g.positions[:0]
	for _, p := range g.positions {
		if p.ID != id {
			kept = append(kept, p)
		}
	}
	g.positions = kept
	res := g.closeRes
	res.PositionID = id
	return res, nil
}

func (g *stubGateway) OpenPositions(context.Context) ([]broker.Position, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]broker.Position(nil), g.positions...), nil
}

func (g *stubGateway) AccountInfo(context.Context) (broker.AccountInfo, error) {
	if g.infoErr != nil {
		return broker.AccountInfo{}, g.infoErr
	}
	return broker.AccountInfo{Currency: "USD", Balance: 10_000, Equity: 10_000}, nil
}

func (g *stubGateway) TradeableSymbols(context.Context) ([]string, error) {
	return []string{"EURUSD", "USDJPY"}, nil
}

type harness struct {
	mon   *Monitor
	store *store.SQLite
	bank  *risk.Bank
	ticks *market.TickStore
}

func newHarness(t *testing.T, gws map[string]*stubGateway) harness {
	t.Helper()

	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "monitor.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	pool := broker.NewPool(broker.DefaultPoolConfig(), func(accountID string) (broker.Gateway, error) {
		gw, ok := gws[accountID]
		if !ok {
			return nil, errors.New("no credentials")
		}
		return gw, nil
	})
	bank := risk.NewBank(risk.DefaultBankConfig(), nil)
	ticks := market.NewTickStore(30 * time.Second)

	m := New(DefaultConfig(), pool, st, bank, ticks)
	m.SetClock(func() time.Time { return now })
	return harness{mon: m, store: st, bank: bank, ticks: ticks}
}

func (h harness) open(t *testing.T, id, account, position, signal string, dir market.Direction, entry, sl, tp float64) {
	t.Helper()
	require.NoError(t, h.store.CreateTrade(context.Background(), store.Trade{
		ID:         id,
		AccountID:  account,
		SignalID:   signal,
		Symbol:     "EURUSD",
		Direction:  dir,
		Volume:     0.1,
		EntryPrice: entry,
		StopLoss:   sl,
		TakeProfit: tp,
		PositionID: position,
		Status:     store.TradeOpen,
		OpenedAt:   now.Add(-time.Hour),
	}))
}

func (h harness) signal(t *testing.T, id string) {
	t.Helper()
	require.NoError(t, h.store.CreateSignal(context.Background(), store.Signal{
		ID: id, Symbol: "EURUSD", Direction: market.Long, Confidence: 80,
		Status: store.SignalExecuted, CreatedAt: now.Add(-time.Hour),
	}))
}

func (h harness) tick(bid, ask float64) {
	h.ticks.Set(market.Tick{Instrument: "EUR_USD", Time: now, Bid: bid, Ask: ask})
}

func TestReconcileClosesTradeMissingAtBroker(t *testing.T) {
	t.Parallel()

	gw := &stubGateway{}
	h := newHarness(t, map[string]*stubGateway{"acct-a": gw})
	h.signal(t, "sig-1")
	h.open(t, "tr-1", "acct-a", "101", "sig-1", market.Long, 1.0850, 1.0820, 1.0910)
	h.tick(1.0870, 1.0872)

	closed, err := h.mon.Reconcile(context.Background())
	require.NoError(t, err)
	require.Len(t, closed, 1)
	assert.Equal(t, ReasonClosedAtBroker, closed[0].Reason)
	assert.Equal(t, 1.0870, closed[0].Exit)
	assert.InDelta(t, 20, closed[0].PnL, 1e-6)
	assert.Empty(t, gw.closes)

	tr, err := h.store.GetTrade(context.Background(), "tr-1")
	require.NoError(t, err)
	assert.Equal(t, store.TradeClosed, tr.Status)
	assert.InDelta(t, 20, tr.PnL, 1e-6)
	assert.Equal(t, ReasonClosedAtBroker, tr.CloseReason)

	sig, err := h.store.GetSignal(context.Background(), "sig-1")
	require.NoError(t, err)
	assert.Equal(t, store.SignalWon, sig.Status)

	again, err := h.mon.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestReconcileLossWithoutBalanceKeepsTrading(t *testing.T) {
	t.Parallel()

	gw := &stubGateway{infoErr: broker.ErrNotConnected}
	h := newHarness(t, map[string]*stubGateway{"acct-a": gw})
	h.open(t, "tr-1", "acct-a", "101", "", market.Long, 1.0850, 1.0820, 1.0910)
	h.tick(1.0840, 1.0842)

	closed, err := h.mon.Reconcile(context.Background())
	require.NoError(t, err)
	require.Len(t, closed, 1)
	assert.InDelta(t, -10, closed[0].PnL, 1e-6)

	st, ok := h.bank.Breaker.Snapshot("acct-a")
	require.True(t, ok)
	assert.Equal(t, 1, st.ConsecutiveLosses)
	assert.False(t, st.Tripped(), st.TripReason)
	assert.Zero(t, st.DailyDrawdownPct())

	can, reason := h.bank.Breaker.CanTrade("acct-a", now)
	assert.True(t, can, reason)
}

func TestReconcileShortLossFeedsBreaker(t *testing.T) {
	t.Parallel()

	gw := &stubGateway{}
	h := newHarness(t, map[string]*stubGateway{"acct-a": gw})
	h.signal(t, "sig-1")
	h.open(t, "tr-1", "acct-a", "101", "sig-1", market.Short, 1.0850, 1.0890, 1.0790)
	h.tick(1.0878, 1.0880)

	closed, err := h.mon.Reconcile(context.Background())
	require.NoError(t, err)
	require.Len(t, closed, 1)
	// shorts close on the ask
	assert.Equal(t, 1.0880, closed[0].Exit)
	assert.InDelta(t, -30, closed[0].PnL, 1e-6)

	st, ok := h.bank.Breaker.Snapshot("acct-a")
	require.True(t, ok)
	assert.Equal(t, 1, st.ConsecutiveLosses)

	sig, err := h.store.GetSignal(context.Background(), "sig-1")
	require.NoError(t, err)
	assert.Equal(t, store.SignalLost, sig.Status)
}

func TestReconcileWithoutTickUsesEntry(t *testing.T) {
	t.Parallel()

	h := newHarness(t, map[string]*stubGateway{"acct-a": {}})
	h.open(t, "tr-1", "acct-a", "101", "", market.Long, 1.0850, 1.0820, 0)

	closed, err := h.mon.Reconcile(context.Background())
	require.NoError(t, err)
	require.Len(t, closed, 1)
	assert.Equal(t, 1.0850, closed[0].Exit)
	assert.Zero(t, closed[0].PnL)
}

func TestReconcileClosesOnStopAndTarget(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		dir    market.Direction
		sl, tp float64
		bid    float64
		ask    float64
		reason string
	}{
		{"long stop", market.Long, 1.0820, 1.0910, 1.0815, 1.0817, ReasonStopLoss},
		{"long target", market.Long, 1.0820, 1.0910, 1.0912, 1.0914, ReasonTakeProfit},
		{"short stop", market.Short, 1.0880, 1.0790, 1.0879, 1.0881, ReasonStopLoss},
		{"short target", market.Short, 1.0880, 1.0790, 1.0786, 1.0788, ReasonTakeProfit},
		{"inside the range", market.Long, 1.0820, 1.0910, 1.0850, 1.0852, ""},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			gw := &stubGateway{
				positions: []broker.Position{{ID: "101", Symbol: "EUR_USD", Direction: tt.dir, Volume: 0.1, EntryPrice: 1.0850}},
				closeRes:  broker.CloseResult{Price: tt.bid, PnL: -12.5},
			}
			h := newHarness(t, map[string]*stubGateway{"acct-a": gw})
			h.open(t, "tr-1", "acct-a", "101", "", tt.dir, 1.0850, tt.sl, tt.tp)
			h.tick(tt.bid, tt.ask)

			closed, err := h.mon.Reconcile(context.Background())
			require.NoError(t, err)

			if tt.reason == "" {
				assert.Empty(t, closed)
				assert.Empty(t, gw.closes)
				return
			}
			require.Len(t, closed, 1)
			assert.Equal(t, tt.reason, closed[0].Reason)
			assert.Equal(t, []string{"101"}, gw.closes)
			assert.Equal(t, -12.5, closed[0].PnL)

			again, err := h.mon.Reconcile(context.Background())
			require.NoError(t, err)
			assert.Empty(t, again)
			assert.Len(t, gw.closes, 1)
		})
	}
}

func TestReconcileSkipsUnreachableAccount(t *testing.T) {
	t.Parallel()

	h := newHarness(t, map[string]*stubGateway{"acct-b": {}})
	h.open(t, "tr-a", "acct-a", "1", "", market.Long, 1.0850, 1.0820, 0)
	h.open(t, "tr-b", "acct-b", "2", "", market.Long, 1.0850, 1.0820, 0)
	h.tick(1.0860, 1.0862)

	var notified []string
	h.mon.OnClose(func(c Closed) { notified = append(notified, c.Trade.ID) })

	closed, err := h.mon.Reconcile(context.Background())
	require.NoError(t, err)
	require.Len(t, closed, 1)
	assert.Equal(t, "tr-b", closed[0].Trade.ID)
	assert.Equal(t, []string{"tr-b"}, notified)

	tr, err := h.store.GetTrade(context.Background(), "tr-a")
	require.NoError(t, err)
	assert.Equal(t, store.TradeOpen, tr.Status)
}

func TestRunStopsOnCancel(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, h.mon.Run(ctx), context.Canceled)
}
