package indicators

import (
	"github.com/rustyeddy/autotrader/market"
)

// Set is a point-in-time snapshot of every indicator the filter pipeline
// reads. It is recomputed from the candle window on each evaluation.
type Set struct {
	RSI     float64
	ADX     float64
	PlusDI  float64
	MinusDI float64
	EMA20   float64
	EMA50   float64
	ATR     float64
	StochK  float64
	StochD  float64

	// Momentum is the signed close change over MomentumLookback candles.
	Momentum float64

	Pivots    Pivots
	HasPivots bool
	DayOpen   float64
	Range     DualRangeState

	Close float64
	Ready bool
}

type Params struct {
	RSIPeriod        int
	ADXPeriod        int
	ATRPeriod        int
	FastEMA          int
	SlowEMA          int
	StochK           int
	StochD           int
	MomentumLookback int
	RangeFilter      DualRangeFilter
}

func DefaultParams() Params {
	return Params{
		RSIPeriod:        14,
		ADXPeriod:        14,
		ATRPeriod:        14,
		FastEMA:          20,
		SlowEMA:          50,
		StochK:           14,
		StochD:           3,
		MomentumLookback: 10,
		RangeFilter:      DefaultDualRangeFilter(),
	}
}

// Compute builds a Set from candles, oldest first. Ready is false when the
// window is too short for the slowest indicator.
func Compute(candles []market.Candle, p Params) Set {
	var s Set
	if len(candles) == 0 {
		return s
	}
	s.Close = candles[len(candles)-1].Close

	rsi := NewRSI(p.RSIPeriod)
	adx := NewADX(p.ADXPeriod)
	atr := NewATR(p.ATRPeriod)
	fast := NewEMA(p.FastEMA)
	slow := NewEMA(p.SlowEMA)
	stoch := NewStochastic(p.StochK, p.StochD)

	all := []Indicator{rsi, adx, atr, fast, slow, stoch}
	for _, c := range candles {
		for _, ind := range all {
			ind.Update(c)
		}
	}

	s.RSI = rsi.Value()
	s.ADX = adx.Value()
	s.PlusDI = adx.PlusDI()
	s.MinusDI = adx.MinusDI()
	s.ATR = atr.Value()
	s.EMA20 = fast.Value()
	s.EMA50 = slow.Value()
	s.StochK = stoch.K()
	s.StochD = stoch.D()
	s.Momentum, _ = Momentum(candles, p.MomentumLookback)
	s.Pivots, s.HasPivots = PreviousDayPivots(candles)
	s.DayOpen, _ = DayOpen(candles)
	s.Range = p.RangeFilter.Eval(candles)

	s.Ready = true
	for _, ind := range all {
		if !ind.Ready() {
			s.Ready = false
			break
		}
	}
	return s
}

// EMAAlignment reports the direction the EMA stack and close agree on, or
// Flat when they do not.
func (s Set) EMAAlignment() market.Direction {
	switch {
	case s.EMA20 > s.EMA50 && s.Close > s.EMA20:
		return market.Long
	case s.EMA20 < s.EMA50 && s.Close < s.EMA20:
		return market.Short
	default:
		return market.Flat
	}
}

// RSIExtreme returns the direction implied by an RSI extreme confirmed by
// the directional index: oversold with +DI leading is long, overbought with
// -DI leading is short.
func (s Set) RSIExtreme(oversold, overbought float64) market.Direction {
	switch {
	case s.RSI <= oversold && s.PlusDI > s.MinusDI:
		return market.Long
	case s.RSI >= overbought && s.MinusDI > s.PlusDI:
		return market.Short
	default:
		return market.Flat
	}
}
