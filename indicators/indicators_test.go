package indicators

import (
	"testing"
	"time"

	"github.com/rustyeddy/autotrader/market"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestCandles() []market.Candle {
	return []market.Candle{
		{Open: 100, High: 105, Low: 99, Close: 102},
		{Open: 102, High: 107, Low: 101, Close: 105},
		{Open: 105, High: 108, Low: 104, Close: 106},
		{Open: 106, High: 110, Low: 105, Close: 108},
		{Open: 108, High: 112, Low: 107, Close: 110},
		{Open: 110, High: 113, Low: 109, Close: 111},
		{Open: 111, High: 115, Low: 110, Close: 113},
		{Open: 113, High: 116, Low: 112, Close: 114},
		{Open: 114, High: 118, Low: 113, Close: 116},
		{Open: 116, High: 120, Low: 115, Close: 118},
	}
}

// trend builds n M15 candles starting at start whose close moves by step
// every bar, each with the given half range around the body.
func trend(start time.Time, n int, open, step, halfRange float64) []market.Candle {
	out := make([]market.Candle, 0, n)
	p := open
	for i := 0; i < n; i++ {
		o := p
		c := p + step
		hi, lo := o, c
		if c > o {
			hi, lo = c, o
		}
		out = append(out, market.Candle{
			Instrument:  "EURUSD",
			Timeframe:   market.M15,
			Open:        o,
			High:        hi + halfRange,
			Low:         lo - halfRange,
			Close:       c,
			PeriodStart: start.Add(time.Duration(i) * 15 * time.Minute),
		})
		p = c
	}
	return out
}

func TestMA(t *testing.T) {
	candles := createTestCandles()

	ma, err := MA(candles, 5)
	assert.NoError(t, err)
	// Last 5 closes: 111,113,114,116,118 => 572/5 = 114.4
	assert.InDelta(t, 114.4, ma, 0.001)

	_, err = MA(candles, 11)
	assert.Error(t, err)
}

func TestEMA(t *testing.T) {
	candles := createTestCandles()

	ema, err := EMA(candles, 5)
	assert.NoError(t, err)
	assert.Greater(t, ema, 110.0)
	assert.Less(t, ema, 118.0)
}

func TestATRFuncDetailed(t *testing.T) {
	candles := []market.Candle{
		{High: 10, Low: 8, Close: 9},
		{High: 11, Low: 9, Close: 10},
		{High: 12, Low: 10, Close: 11},
		{High: 11, Low: 9, Close: 10},
		{High: 12, Low: 10, Close: 11},
		{High: 13, Low: 11, Close: 12},
	}
	atr, err := ATRFunc(candles, 3)
	assert.NoError(t, err)
	assert.InDelta(t, 2.0, atr, 1e-9)
}

func TestTrueRange(t *testing.T) {
	current := market.Candle{High: 110, Low: 100, Close: 105}
	previous := market.Candle{Close: 104}
	assert.Equal(t, 10.0, trueRange(current, previous))

	gap := market.Candle{High: 120, Low: 115}
	assert.Equal(t, 16.0, trueRange(gap, previous))
}

func TestRSI(t *testing.T) {
	t.Run("only gains reads 100", func(t *testing.T) {
		r := NewRSI(14)
		Feed(r, trend(time.Time{}, 20, 1.1, 0.0005, 0.0001))
		require.True(t, r.Ready())
		assert.Equal(t, 100.0, r.Value())
	})

	t.Run("only losses reads 0", func(t *testing.T) {
		r := NewRSI(14)
		Feed(r, trend(time.Time{}, 20, 1.1, -0.0005, 0.0001))
		assert.InDelta(t, 0.0, r.Value(), 1e-9)
	})

	t.Run("flat reads 50", func(t *testing.T) {
		r := NewRSI(5)
		Feed(r, trend(time.Time{}, 10, 1.1, 0, 0.0001))
		assert.Equal(t, 50.0, r.Value())
	})

	t.Run("warmup", func(t *testing.T) {
		r := NewRSI(14)
		Feed(r, trend(time.Time{}, 14, 1.1, 0.0005, 0.0001))
		assert.False(t, r.Ready())
		assert.Equal(t, 0.0, r.Value())
	})

	t.Run("alternating stays in band", func(t *testing.T) {
		r := NewRSI(14)
		p := 1.1
		for i := 0; i < 40; i++ {
			if i%2 == 0 {
				p += 0.001
			} else {
				p -= 0.0008
			}
			r.Update(market.Candle{Close: p})
		}
		assert.Greater(t, r.Value(), 40.0)
		assert.Less(t, r.Value(), 70.0)
	})
}

func TestStochastic(t *testing.T) {
	s := NewStochastic(5, 3)
	Feed(s, trend(time.Time{}, 10, 1.1, 0.001, 0))
	require.True(t, s.Ready())
	// every close is the high of its window
	assert.InDelta(t, 100.0, s.K(), 1e-9)
	assert.InDelta(t, 100.0, s.D(), 1e-9)

	s.Reset()
	assert.False(t, s.Ready())
}

func TestPivots(t *testing.T) {
	p := ClassicPivots(1.1100, 1.1000, 1.1050)
	assert.InDelta(t, 1.1050, p.P, 1e-9)
	assert.InDelta(t, 1.1100, p.R1, 1e-9)
	assert.InDelta(t, 1.1000, p.S1, 1e-9)
	assert.InDelta(t, 1.1150, p.R2, 1e-9)
	assert.InDelta(t, 1.0950, p.S2, 1e-9)

	// two days of H4 candles: pivots come from the first day only
	day1 := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	var cs []market.Candle
	for i := 0; i < 6; i++ {
		cs = append(cs, market.Candle{
			Open: 1.10, High: 1.10 + float64(i)*0.001, Low: 1.09, Close: 1.095,
			PeriodStart: day1.Add(time.Duration(i) * 4 * time.Hour),
		})
	}
	cs = append(cs, market.Candle{Open: 1.2, High: 1.3, Low: 1.0, Close: 1.25, PeriodStart: day1.Add(24 * time.Hour)})

	got, ok := PreviousDayPivots(cs)
	require.True(t, ok)
	want := ClassicPivots(1.105, 1.09, 1.095)
	assert.InDelta(t, want.P, got.P, 1e-9)
	assert.InDelta(t, want.R1, got.R1, 1e-9)
	assert.InDelta(t, want.S2, got.S2, 1e-9)

	open, ok := DayOpen(cs)
	require.True(t, ok)
	assert.Equal(t, 1.2, open)

	_, ok = PreviousDayPivots(cs[:3])
	assert.False(t, ok)
}

func TestMomentum(t *testing.T) {
	cs := trend(time.Time{}, 12, 1.1, 0.0002, 0.0001)
	m, ok := Momentum(cs, 10)
	require.True(t, ok)
	assert.InDelta(t, 0.002, m, 1e-9)

	eu, _ := market.Lookup("EURUSD")
	assert.InDelta(t, 20.0, AbsPips(eu, -m), 1e-6)

	_, ok = Momentum(cs[:5], 10)
	assert.False(t, ok)

	avg, ok := AverageRange(cs, 5)
	require.True(t, ok)
	assert.InDelta(t, 0.0004, avg, 1e-9)
}
