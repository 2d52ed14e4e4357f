package indicators

import (
	"testing"
	"time"

	"github.com/rustyeddy/autotrader/market"
	"github.com/stretchr/testify/assert"
)

func TestSimpleMAStreaming(t *testing.T) {
	baseTime := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	candles := []market.Candle{
		{Open: 100, High: 105, Low: 99, Close: 102, PeriodStart: baseTime},
		{Open: 102, High: 107, Low: 101, Close: 105, PeriodStart: baseTime.Add(time.Hour)},
		{Open: 105, High: 108, Low: 104, Close: 106, PeriodStart: baseTime.Add(2 * time.Hour)},
		{Open: 106, High: 110, Low: 105, Close: 108, PeriodStart: baseTime.Add(3 * time.Hour)},
		{Open: 108, High: 112, Low: 107, Close: 110, PeriodStart: baseTime.Add(4 * time.Hour)},
	}

	t.Run("basic functionality", func(t *testing.T) {
		ma := NewMA(3)
		assert.Equal(t, "MA(3)", ma.Name())
		assert.Equal(t, 3, ma.Warmup())
		assert.False(t, ma.Ready())
		assert.Equal(t, 0.0, ma.Value())

		ma.Update(candles[0])
		ma.Update(candles[1])
		assert.False(t, ma.Ready())

		ma.Update(candles[2])
		assert.True(t, ma.Ready())
		assert.InDelta(t, (102.0+105.0+106.0)/3.0, ma.Value(), 0.001)

		// window slides to the last 3
		ma.Update(candles[3])
		assert.InDelta(t, (105.0+106.0+108.0)/3.0, ma.Value(), 0.001)
	})

	t.Run("reset functionality", func(t *testing.T) {
		ma := NewMA(2)
		ma.Update(candles[0])
		ma.Update(candles[1])
		assert.True(t, ma.Ready())

		ma.Reset()
		assert.False(t, ma.Ready())
		assert.Equal(t, 0.0, ma.Value())
	})

	t.Run("matches batch calculation", func(t *testing.T) {
		ma := NewMA(3)
		Feed(ma, candles)
		batchResult, _ := MA(candles, 3)
		assert.InDelta(t, batchResult, ma.Value(), 0.001)
	})
}

func TestExponentialMAStreaming(t *testing.T) {
	candles := []market.Candle{
		{Close: 102}, {Close: 105}, {Close: 106}, {Close: 108},
		{Close: 110}, {Close: 111}, {Close: 113},
	}

	t.Run("basic functionality", func(t *testing.T) {
		ema := NewEMA(3)
		assert.Equal(t, "EMA(3)", ema.Name())
		assert.False(t, ema.Ready())

		ema.Update(candles[0])
		ema.Update(candles[1])
		assert.False(t, ema.Ready())

		ema.Update(candles[2])
		assert.True(t, ema.Ready())
		expectedSMA := (102.0 + 105.0 + 106.0) / 3.0
		assert.InDelta(t, expectedSMA, ema.Value(), 0.001)

		// multiplier = 2/(3+1) = 0.5
		ema.Update(candles[3])
		assert.InDelta(t, (108.0-expectedSMA)*0.5+expectedSMA, ema.Value(), 0.001)
	})

	t.Run("matches batch calculation", func(t *testing.T) {
		ema := NewEMA(5)
		Feed(ema, candles)
		batchResult, _ := EMA(candles, 5)
		assert.InDelta(t, batchResult, ema.Value(), 0.001)
	})
}

func TestAverageTrueRangeStreaming(t *testing.T) {
	candles := []market.Candle{
		{High: 10, Low: 8, Close: 9},
		{High: 11, Low: 9, Close: 10},
		{High: 12, Low: 10, Close: 11},
		{High: 11, Low: 9, Close: 10},
		{High: 12, Low: 10, Close: 11},
		{High: 13, Low: 11, Close: 12},
	}

	atr := NewATR(3)
	assert.Equal(t, "ATR(3)", atr.Name())
	assert.Equal(t, 4, atr.Warmup())

	for i, c := range candles[:3] {
		atr.Update(c)
		assert.False(t, atr.Ready(), "candle %d", i)
	}
	atr.Update(candles[3])
	assert.True(t, atr.Ready())
	assert.InDelta(t, 2.0, atr.Value(), 0.001)

	atr.Reset()
	Feed(atr, candles)
	batchResult, _ := ATRFunc(candles, 3)
	assert.InDelta(t, batchResult, atr.Value(), 0.001)
}

func TestIndicatorInterface(t *testing.T) {
	candles := trend(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), 40, 1.1, 0.0003, 0.0002)

	all := []Indicator{
		NewMA(3),
		NewEMA(3),
		NewATR(2),
		NewRSI(14),
		NewADX(14),
		NewStochastic(14, 3),
	}

	for _, ind := range all {
		assert.False(t, ind.Ready(), "%s should not be ready initially", ind.Name())

		Feed(ind, candles)
		assert.True(t, ind.Ready(), "%s should be ready after warmup", ind.Name())
		assert.Greater(t, ind.Value(), 0.0, "%s should have a positive value", ind.Name())

		ind.Reset()
		assert.False(t, ind.Ready(), "%s should not be ready after reset", ind.Name())
	}
}
