package sim

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rustyeddy/autotrader/broker"
	"github.com/rustyeddy/autotrader/market"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC)

func newEngine(t *testing.T, balance float64) *Engine {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Balance = balance
	e := NewEngine(cfg)
	require.NoError(t, e.Connect(context.Background()))
	return e
}

func setPrice(t *testing.T, e *Engine, instr string, bid, ask float64, tm time.Time) {
	t.Helper()
	require.NoError(t, e.UpdatePrice(market.Tick{Instrument: instr, Bid: bid, Ask: ask, Time: tm}))
}

func openMarket(t *testing.T, e *Engine, instr string, dir market.Direction, lots, sl, tp float64) broker.OrderResult {
	t.Helper()
	res, err := e.OpenOrder(context.Background(), broker.OrderRequest{
		Symbol:     instr,
		Direction:  dir,
		Volume:     lots,
		StopLoss:   sl,
		TakeProfit: tp,
	})
	require.NoError(t, err)
	return res
}

func account(t *testing.T, e *Engine) broker.AccountInfo {
	t.Helper()
	a, err := e.AccountInfo(context.Background())
	require.NoError(t, err)
	return a
}

func TestEngineRevalueEURUSDLong(t *testing.T) {
	t.Parallel()

	e := newEngine(t, 100000)
	setPrice(t, e, "EUR_USD", 1.1000, 1.1002, t0)
	fill := openMarket(t, e, "EUR_USD", market.Long, 1, 0, 0)
	assert.Equal(t, 1.1002, fill.FillPrice)

	setPrice(t, e, "EUR_USD", 1.1010, 1.1012, t0.Add(time.Minute))

	acct := account(t, e)
	assert.InDelta(t, 100000, acct.Balance, 1e-6)
	assert.InDelta(t, 100000+100000*(1.1010-1.1002), acct.Equity, 1e-6)
	assert.InDelta(t, 100000*1.1011*0.02, acct.MarginUsed, 1e-6)

	pos, err := e.OpenPositions(context.Background())
	require.NoError(t, err)
	require.Len(t, pos, 1)
	assert.Equal(t, fill.PositionID, pos[0].ID)
	assert.Equal(t, 100000.0, pos[0].Units)
	assert.InDelta(t, 80, pos[0].UnrealizedPnL, 1e-6)
}

func TestEngineJPYQuoteConversion(t *testing.T) {
	t.Parallel()

	e := newEngine(t, 100000)
	setPrice(t, e, "USD_JPY", 150.00, 150.02, t0)
	fill := openMarket(t, e, "USD_JPY", market.Long, 1, 0, 0)

	setPrice(t, e, "USD_JPY", 150.50, 150.52, t0.Add(time.Minute))
	res, err := e.ClosePosition(context.Background(), fill.PositionID)
	require.NoError(t, err)

	want := 100000 * (150.50 - 150.02) / 150.51
	assert.InDelta(t, want, res.PnL, 1e-6)
	assert.InDelta(t, 100000+want, account(t, e).Balance, 1e-6)
}

func TestEngineStopLossAndTakeProfit(t *testing.T) {
	t.Parallel()

	e := newEngine(t, 100000)
	setPrice(t, e, "EUR_USD", 1.1000, 1.1002, t0)
	openMarket(t, e, "EUR_USD", market.Long, 1, 1.0990, 0)
	openMarket(t, e, "EUR_USD", market.Short, 1, 0, 1.0950)

	setPrice(t, e, "EUR_USD", 1.0989, 1.0991, t0.Add(time.Minute))
	hist := e.History()
	require.Len(t, hist, 1)
	assert.Equal(t, "StopLoss", hist[0].CloseReason)
	assert.InDelta(t, 100000*(1.0989-1.1002), hist[0].RealizedPL, 1e-6)

	setPrice(t, e, "EUR_USD", 1.0948, 1.0950, t0.Add(2*time.Minute))
	hist = e.History()
	require.Len(t, hist, 2)
	assert.Equal(t, "TakeProfit", hist[1].CloseReason)
	assert.InDelta(t, 100000*(1.1000-1.0950), hist[1].RealizedPL, 1e-6)

	pos, err := e.OpenPositions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, pos)
}

func TestEngineRejectsOrders(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.Balance = 1000
	cfg.Symbols = []string{"EUR_USD"}
	e := NewEngine(cfg)

	_, err := e.OpenOrder(context.Background(), broker.OrderRequest{Symbol: "EUR_USD", Direction: market.Long, Volume: 0.1})
	require.ErrorIs(t, err, broker.ErrNotConnected)

	require.NoError(t, e.Connect(context.Background()))

	_, err = e.OpenOrder(context.Background(), broker.OrderRequest{Symbol: "EUR_USD", Direction: market.Long, Volume: 0.1})
	require.ErrorIs(t, err, broker.ErrNoPrice)

	setPrice(t, e, "EUR_USD", 1.1000, 1.1002, t0)

	_, err = e.OpenOrder(context.Background(), broker.OrderRequest{Symbol: "GBP_USD", Direction: market.Long, Volume: 0.1})
	require.ErrorIs(t, err, broker.ErrSymbolUnavailable)

	_, err = e.OpenOrder(context.Background(), broker.OrderRequest{Symbol: "EUR_USD", Direction: market.Long, Volume: 1})
	require.ErrorIs(t, err, broker.ErrRejected)
	assert.Contains(t, err.Error(), "free margin")

	_, err = e.ClosePosition(context.Background(), "nope")
	require.ErrorIs(t, err, broker.ErrPositionNotFound)

	syms, err := e.TradeableSymbols(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"EUR_USD"}, syms)
}

func TestEngineLiquidatesWorstPosition(t *testing.T) {
	t.Parallel()

	e := newEngine(t, 3000)
	setPrice(t, e, "EUR_USD", 1.1000, 1.1002, t0)
	openMarket(t, e, "EUR_USD", market.Long, 1, 0, 0)

	setPrice(t, e, "EUR_USD", 1.0900, 1.0902, t0.Add(time.Minute))

	hist := e.History()
	require.Len(t, hist, 1)
	assert.Equal(t, "LIQUIDATION", hist[0].CloseReason)

	acct := account(t, e)
	assert.Zero(t, acct.MarginUsed)
	assert.InDelta(t, 3000+100000*(1.0900-1.1002), acct.Balance, 1e-6)
}

func TestSubscribeReplaysCSV(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "ticks.csv")
	csv := `time,instrument,bid,ask
2024-01-02T09:00:00Z,EUR_USD,1.1000,1.1002
2024-01-02T09:00:01Z,GBP_USD,1.2700,1.2702
2024-01-02T09:00:02Z,EUR_USD,1.1001,1.1003
`
	require.NoError(t, os.WriteFile(path, []byte(csv), 0o644))

	cfg := DefaultConfig()
	cfg.TicksPath = path
	e := NewEngine(cfg)
	require.NoError(t, e.Connect(context.Background()))

	q := market.NewTickQueue(16)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Subscribe(ctx, []string{"EURUSD"}, q) }()

	require.Eventually(t, func() bool { return q.Len() == 2 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	tick, ok := e.Price("GBPUSD")
	require.True(t, ok, "every tick updates prices")
	assert.Equal(t, 1.2700, tick.Bid)
}

func TestCSVFeed(t *testing.T) {
	t.Parallel()

	f := NewCSVFeed(strings.NewReader(`time,instrument,bid,ask
2024-01-02T09:00:00Z,EUR_USD,1.1000,1.1002
,EUR_USD,1,1
2024-01-02T09:00:01.5Z,USD_JPY, 150.10 ,150.12
2024-01-02T09:00:02Z,EUR_USD,abc,1.1
`))

	tick, ok, err := f.Next()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "EUR_USD", tick.Instrument)
	assert.Equal(t, t0, tick.Time)

	tick, ok, err = f.Next()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 150.10, tick.Bid)
	assert.Equal(t, t0.Add(1500*time.Millisecond), tick.Time)

	_, _, err = f.Next()
	require.Error(t, err)
}
