package indicators

import (
	"time"

	"github.com/rustyeddy/autotrader/market"
)

// Pivots are classic floor-trader levels derived from the previous UTC
// day's high, low and close.
type Pivots struct {
	P  float64
	R1 float64
	R2 float64
	S1 float64
	S2 float64
}

func ClassicPivots(high, low, close float64) Pivots {
	p := (high + low + close) / 3
	return Pivots{
		P:  p,
		R1: 2*p - low,
		S1: 2*p - high,
		R2: p + (high - low),
		S2: p - (high - low),
	}
}

// PreviousDayPivots folds intraday candles of the last complete UTC day
// before the newest candle into one daily bar. ok is false when the window
// does not reach back into a previous day.
func PreviousDayPivots(candles []market.Candle) (Pivots, bool) {
	if len(candles) == 0 {
		return Pivots{}, false
	}
	today := dayOf(candles[len(candles)-1].PeriodStart)
	var (
		found          bool
		day            time.Time
		hi, lo, closeV float64
	)
	for i := len(candles) - 1; i >= 0; i-- {
		c := candles[i]
		d := dayOf(c.PeriodStart)
		if !d.Before(today) {
			continue
		}
		if !found {
			found, day = true, d
			hi, lo, closeV = c.High, c.Low, c.Close
			continue
		}
		if !d.Equal(day) {
			break
		}
		if c.High > hi {
			hi = c.High
		}
		if c.Low < lo {
			lo = c.Low
		}
	}
	if !found {
		return Pivots{}, false
	}
	return ClassicPivots(hi, lo, closeV), true
}

// DayOpen returns the open of the first candle belonging to the newest
// candle's UTC day.
func DayOpen(candles []market.Candle) (float64, bool) {
	if len(candles) == 0 {
		return 0, false
	}
	today := dayOf(candles[len(candles)-1].PeriodStart)
	open, ok := 0.0, false
	for i := len(candles) - 1; i >= 0; i-- {
		if !dayOf(candles[i].PeriodStart).Equal(today) {
			break
		}
		open, ok = candles[i].Open, true
	}
	return open, ok
}

func dayOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
