package broker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rustyeddy/autotrader/market"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yanun0323/errors"
)

var errDown = errors.New("connection refused")

type flakyGateway struct {
	failFor   int
	connects  atomic.Int32
	connected atomic.Bool
}

func (g *flakyGateway) Connect(context.Context) error {
	n := g.connects.Add(1)
	if int(n) <= g.failFor {
		return errDown
	}
	g.connected.Store(true)
	return nil
}

func (g *flakyGateway) Disconnect(context.Context) error {
	g.connected.Store(false)
	return nil
}

func (g *flakyGateway) Connected() bool { return g.connected.Load() }

func (g *flakyGateway) Subscribe(context.Context, []string, market.TickSink) error { return nil }

func (g *flakyGateway) OpenOrder(context.Context, OrderRequest) (OrderResult, error) {
	return OrderResult{}, nil
}

func (g *flakyGateway) ClosePosition(context.Context, string) (CloseResult, error) {
	return CloseResult{}, nil
}

func (g *flakyGateway) OpenPositions(context.Context) ([]Position, error) { return nil, nil }

func (g *flakyGateway) AccountInfo(context.Context) (AccountInfo, error) { return AccountInfo{}, nil }

func (g *flakyGateway) TradeableSymbols(context.Context) ([]string, error) { return nil, nil }

func TestBackoffNext(t *testing.T) {
	t.Parallel()

	b := Backoff{Min: time.Second, Max: 10 * time.Second, Factor: 2}
	assert.Equal(t, time.Second, b.Next(0))
	assert.Equal(t, time.Second, b.Next(1))
	assert.Equal(t, 2*time.Second, b.Next(2))
	assert.Equal(t, 8*time.Second, b.Next(4))
	assert.Equal(t, 10*time.Second, b.Next(5))
	assert.Equal(t, 10*time.Second, b.Next(50))

	b.Jitter = 0.5
	for i := 0; i < 100; i++ {
		d := b.Next(2)
		assert.GreaterOrEqual(t, d, time.Second)
		assert.LessOrEqual(t, d, 3*time.Second)
	}
}

func TestPoolLazyConnectAndBackoff(t *testing.T) {
	t.Parallel()

	clock := time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)
	gw := &flakyGateway{failFor: 2}
	dials := 0
	p := NewPool(PoolConfig{
		ConnectTimeout: time.Second,
		Backoff:        Backoff{Min: time.Second, Max: time.Minute, Factor: 2},
	}, func(id string) (Gateway, error) {
		dials++
		return gw, nil
	})
	p.SetClock(func() time.Time { return clock })

	assert.False(t, p.Ready("acc"))
	assert.Equal(t, 0, dials, "nothing connects before first use")

	_, err := p.Get(context.Background(), "acc")
	require.ErrorIs(t, err, errDown)

	// still inside the 1s backoff: no new attempt
	_, err = p.Get(context.Background(), "acc")
	require.ErrorIs(t, err, ErrBackoff)
	assert.Equal(t, int32(1), gw.connects.Load())

	clock = clock.Add(time.Second)
	_, err = p.Get(context.Background(), "acc")
	require.ErrorIs(t, err, errDown)

	clock = clock.Add(time.Second)
	_, err = p.Get(context.Background(), "acc")
	require.ErrorIs(t, err, ErrBackoff, "second failure waits 2s")

	clock = clock.Add(time.Second)
	got, err := p.Get(context.Background(), "acc")
	require.NoError(t, err)
	assert.Same(t, gw, got)
	assert.True(t, p.Ready("acc"))
	assert.Equal(t, 1, dials)

	// connected gateways are reused without reconnecting
	_, err = p.Get(context.Background(), "acc")
	require.NoError(t, err)
	assert.Equal(t, int32(3), gw.connects.Load())

	require.NoError(t, p.Close(context.Background()))
	assert.False(t, gw.Connected())
	assert.Empty(t, p.Accounts())
}

func TestPoolStopsAfterMaxAttempts(t *testing.T) {
	t.Parallel()

	clock := time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)
	gw := &flakyGateway{failFor: 1000}
	dials := 0
	p := NewPool(PoolConfig{
		Backoff: Backoff{Min: time.Second, Max: time.Second, Factor: 2, MaxAttempts: 2},
	}, func(id string) (Gateway, error) {
		dials++
		return gw, nil
	})
	p.SetClock(func() time.Time { return clock })

	_, err := p.Get(context.Background(), "acc")
	require.ErrorIs(t, err, errDown)

	clock = clock.Add(time.Second)
	_, err = p.Get(context.Background(), "acc")
	require.ErrorIs(t, err, ErrExhausted)

	// no further dials however long we wait
	for i := 0; i < 5; i++ {
		clock = clock.Add(time.Hour)
		_, err = p.Get(context.Background(), "acc")
		require.ErrorIs(t, err, ErrExhausted)
		assert.ErrorContains(t, err, "after 2 attempts")
	}
	assert.Equal(t, int32(2), gw.connects.Load())
	assert.False(t, p.Ready("acc"))
	assert.False(t, p.Reset("missing"))

	gw.failFor = 0
	assert.Equal(t, []string{"acc"}, p.ResetExhausted())
	assert.Empty(t, p.ResetExhausted(), "already re-armed")

	got, err := p.Get(context.Background(), "acc")
	require.NoError(t, err)
	assert.Same(t, gw, got)
	assert.True(t, p.Ready("acc"))
	assert.Equal(t, 2, dials, "reset drops the dead gateway")
}

func TestPoolIsolatesAccounts(t *testing.T) {
	t.Parallel()

	gws := map[string]*flakyGateway{
		"down": {failFor: 1000},
		"up":   {},
	}
	p := NewPool(DefaultPoolConfig(), func(id string) (Gateway, error) {
		gw, ok := gws[id]
		if !ok {
			return nil, nil
		}
		return gw, nil
	})

	_, err := p.Get(context.Background(), "down")
	require.Error(t, err)

	_, err = p.Get(context.Background(), "up")
	require.NoError(t, err)

	_, err = p.Get(context.Background(), "missing")
	require.ErrorIs(t, err, ErrUnknownAccount)

	assert.Equal(t, []string{"down", "missing", "up"}, p.Accounts())
	assert.True(t, p.Ready("up"))
	assert.False(t, p.Ready("down"))
}
