package filter

import (
	"strings"
	"testing"
	"time"

	"github.com/rustyeddy/autotrader/indicators"
	"github.com/rustyeddy/autotrader/market"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Tuesday, London session only
var now = time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)

// series builds n closed M15 candles ending at now. step(i) is the close
// change of candle i.
func series(sym string, n int, start float64, step func(i int) float64, half float64) []market.Candle {
	out := make([]market.Candle, 0, n)
	first := now.Add(-time.Duration(n) * 15 * time.Minute)
	p := start
	for i := 0; i < n; i++ {
		o := p
		c := p + step(i)
		hi, lo := o, c
		if c > o {
			hi, lo = c, o
		}
		out = append(out, market.Candle{
			Instrument:  sym,
			Timeframe:   market.M15,
			Open:        o,
			High:        hi + half,
			Low:         lo - half,
			Close:       c,
			PeriodStart: first.Add(time.Duration(i) * 15 * time.Minute),
		})
		p = c
	}
	return out
}

func constant(d float64) func(int) float64 { return func(int) float64 { return d } }

func alternating(d float64) func(int) float64 {
	return func(i int) float64 {
		if i%2 == 0 {
			return d
		}
		return -d
	}
}

func spread(v float64) *float64 { return &v }

func uptrend() []market.Candle {
	return series("EURUSD", 120, 1.08, constant(0.0002), 0.0001)
}

func TestPipelinePassesTrendingSetup(t *testing.T) {
	t.Parallel()

	p := New(DefaultConfig())
	v := p.Evaluate(Input{Symbol: "EUR_USD", Candles: uptrend(), Spread: spread(0.0001), Now: now})

	require.True(t, v.Passed, v.Reason)
	assert.Equal(t, "EURUSD", v.Symbol)
	assert.Equal(t, market.Long, v.Direction)
	assert.Equal(t, BiasRangeFilter, v.Bias)
	assert.Greater(t, v.Confluence, 50.0)
	assert.LessOrEqual(t, v.Confluence, 100.0)
	assert.True(t, v.Indicators.Ready)
}

func TestPipelineGates(t *testing.T) {
	t.Parallel()

	noDead := DefaultConfig()
	noDead.Thresholds = DefaultThresholds()
	eu := noDead.Thresholds[market.Major]
	eu.DeadMarketPips = 0
	noDead.Thresholds[market.Major] = eu

	spiky := uptrend()
	last := &spiky[len(spiky)-1]
	last.High += 0.005

	saturday := time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		cfg    Config
		in     Input
		gate   string
		reason string
	}{
		{
			name: "unknown instrument",
			cfg:  DefaultConfig(),
			in:   Input{Symbol: "FOOBAR", Candles: uptrend(), Now: now},
			gate: GateInstrument,
		},
		{
			name:   "too few candles",
			cfg:    DefaultConfig(),
			in:     Input{Symbol: "EURUSD", Candles: uptrend()[:20], Now: now},
			gate:   GateCandles,
			reason: "insufficient candles",
		},
		{
			name:   "weekend",
			cfg:    DefaultConfig(),
			in:     Input{Symbol: "EURUSD", Candles: uptrend(), Now: saturday},
			gate:   GateSession,
			reason: "weekend",
		},
		{
			name:   "rollover",
			cfg:    DefaultConfig(),
			in:     Input{Symbol: "EURUSD", Candles: uptrend(), Now: time.Date(2024, 3, 5, 20, 50, 0, 0, time.UTC)},
			gate:   GateSession,
			reason: "rollover",
		},
		{
			name:   "outside sessions",
			cfg:    DefaultConfig(),
			in:     Input{Symbol: "EURUSD", Candles: uptrend(), Now: time.Date(2024, 3, 5, 22, 30, 0, 0, time.UTC)},
			gate:   GateSession,
			reason: "outside allowed sessions",
		},
		{
			name:   "wide spread",
			cfg:    DefaultConfig(),
			in:     Input{Symbol: "EURUSD", Candles: uptrend(), Spread: spread(0.0003), Now: now},
			gate:   GateSpread,
			reason: "spread 3.0 pips",
		},
		{
			name: "high impact news ahead",
			cfg:  DefaultConfig(),
			in: Input{Symbol: "EURUSD", Candles: uptrend(), Now: now, News: []NewsEvent{
				{Currency: "USD", Title: "NFP", Impact: "high", Time: now.Add(10 * time.Minute)},
			}},
			gate:   GateNews,
			reason: "NFP",
		},
		{
			name:   "extreme candle",
			cfg:    DefaultConfig(),
			in:     Input{Symbol: "EURUSD", Candles: spiky, Now: now},
			gate:   GateVolatility,
			reason: "extreme volatility",
		},
		{
			name:   "dead market",
			cfg:    DefaultConfig(),
			in:     Input{Symbol: "EURUSD", Candles: series("EURUSD", 120, 1.08, alternating(0.0001), 0.0001), Now: now},
			gate:   GateVolatility,
			reason: "dead market",
		},
		{
			name:   "choppy market has no trend",
			cfg:    noDead,
			in:     Input{Symbol: "EURUSD", Candles: series("EURUSD", 120, 1.08, alternating(0.0003), 0.0001), Now: now},
			gate:   GateTrend,
			reason: "ADX",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			v := New(tt.cfg).Evaluate(tt.in)
			assert.False(t, v.Passed)
			assert.Equal(t, tt.gate, v.Gate, v.Reason)
			assert.Contains(t, v.Reason, tt.reason)
		})
	}
}

func TestLowMomentumFailsMomentumGate(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.ADXThreshold = 0
	cfg.Thresholds = map[market.AssetClass]ClassThresholds{
		market.Major: {MaxSpreadPips: 2, MinMomentumPips: 5},
	}

	candles := series("EURUSD", 120, 1.08, alternating(0.00005), 0.0001)
	v := New(cfg).Evaluate(Input{Symbol: "EURUSD", Candles: candles, Spread: spread(0.0001), Now: now})

	assert.False(t, v.Passed)
	assert.Equal(t, GateMomentum, v.Gate)
	assert.True(t, strings.Contains(v.Reason, "momentum"), v.Reason)
}

func TestNewsFilterIgnoresUnrelatedEvents(t *testing.T) {
	t.Parallel()

	in := Input{Symbol: "EURUSD", Candles: uptrend(), Spread: spread(0.0001), Now: now, News: []NewsEvent{
		{Currency: "JPY", Title: "BoJ", Impact: "high", Time: now.Add(5 * time.Minute)},
		{Currency: "USD", Title: "Claims", Impact: "medium", Time: now.Add(5 * time.Minute)},
		{Currency: "EUR", Title: "ECB", Impact: "high", Time: now.Add(2 * time.Hour)},
		{Currency: "EUR", Title: "CPI", Impact: "high", Time: now.Add(-time.Hour)},
	}}
	v := New(DefaultConfig()).Evaluate(in)
	assert.True(t, v.Passed, v.Reason)

	in.News = append(in.News, NewsEvent{Currency: "eur", Title: "PMI", Impact: "HIGH", Time: now.Add(-5 * time.Minute)})
	v = New(DefaultConfig()).Evaluate(in)
	assert.Equal(t, GateNews, v.Gate)
}

func TestCryptoBypassesSession(t *testing.T) {
	t.Parallel()

	saturday := time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC)
	candles := series("BTCUSD", 120, 60000, constant(40), 20)
	v := New(DefaultConfig()).Evaluate(Input{Symbol: "BTCUSDT", Candles: candles, Spread: spread(20), Now: saturday})

	assert.NotEqual(t, GateSession, v.Gate)
	assert.True(t, v.Passed, v.Reason)
}

func TestSetADXThreshold(t *testing.T) {
	t.Parallel()

	p := New(DefaultConfig())
	p.SetADXThreshold(101)

	v := p.Evaluate(Input{Symbol: "EURUSD", Candles: uptrend(), Now: now})
	assert.Equal(t, GateTrend, v.Gate)
	assert.Equal(t, 101.0, p.Config().ADXThreshold)

	p.SetADXThreshold(0)
	v = p.Evaluate(Input{Symbol: "EURUSD", Candles: uptrend(), Now: now})
	assert.True(t, v.Passed, v.Reason)
}

func TestBiasFallbacks(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()

	d, src := bias(indicators.Set{Range: indicators.DualRangeState{Direction: market.Short}, RSI: 20, PlusDI: 30, MinusDI: 10}, cfg)
	assert.Equal(t, market.Short, d)
	assert.Equal(t, BiasRangeFilter, src)

	d, src = bias(indicators.Set{RSI: 25, PlusDI: 30, MinusDI: 10}, cfg)
	assert.Equal(t, market.Long, d)
	assert.Equal(t, BiasRSIDI, src)

	// overbought but +DI still leads: falls through to EMA alignment
	d, src = bias(indicators.Set{RSI: 75, PlusDI: 30, MinusDI: 10, EMA20: 1.1, EMA50: 1.2, Close: 1.05}, cfg)
	assert.Equal(t, market.Short, d)
	assert.Equal(t, BiasEMA, src)

	d, _ = bias(indicators.Set{RSI: 50, EMA20: 1.1, EMA50: 1.2, Close: 1.15}, cfg)
	assert.Equal(t, market.Flat, d)
}

func TestConfluence(t *testing.T) {
	t.Parallel()

	strong := indicators.Set{
		Range: indicators.DualRangeState{
			Fast:      indicators.RangeFilterState{Direction: market.Long},
			Slow:      indicators.RangeFilterState{Direction: market.Long},
			Direction: market.Long,
		},
		ADX: 45, PlusDI: 30, MinusDI: 10,
		EMA20: 1.1, EMA50: 1.09, Close: 1.11,
		RSI: 60,
	}
	overlap := time.Date(2024, 3, 5, 13, 0, 0, 0, time.UTC)

	assert.Equal(t, 100.0, Confluence(strong, market.Long, overlap))
	assert.Equal(t, 90.0, Confluence(strong, market.Long, now))
	assert.Less(t, Confluence(strong, market.Short, now), 30.0)
	assert.Equal(t, 0.0, Confluence(strong, market.Flat, now))
}
