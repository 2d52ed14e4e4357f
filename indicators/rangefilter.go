package indicators

import (
	"math"

	"github.com/rustyeddy/autotrader/market"
)

// RangeFilter is a range-adaptive trend line. The smoothed range is a double
// EMA of absolute close deltas (period, then 2*period-1) scaled by Mult; the
// filter line only moves when price pushes more than that range away from it.
type RangeFilter struct {
	Period int
	Mult   float64
}

type RangeFilterState struct {
	Filter    float64
	Upper     float64
	Lower     float64
	Upward    int // consecutive bars the line has risen
	Downward  int // consecutive bars the line has fallen
	Direction market.Direction
}

// Eval runs the filter over closes and returns the state at the last bar.
func (rf RangeFilter) Eval(closes []float64) (RangeFilterState, bool) {
	if rf.Period <= 0 || len(closes) < rf.Period+1 {
		return RangeFilterState{}, false
	}

	deltas := make([]float64, len(closes))
	for i := 1; i < len(closes); i++ {
		deltas[i] = math.Abs(closes[i] - closes[i-1])
	}
	deltas[0] = deltas[1]
	avg := emaSeries(deltas, rf.Period)
	smooth := emaSeries(avg, rf.Period*2-1)

	var st RangeFilterState
	filt := closes[0]
	for i := 1; i < len(closes); i++ {
		r := smooth[i] * rf.Mult
		prev := filt
		x := closes[i]
		if x > prev {
			filt = math.Max(prev, x-r)
		} else {
			filt = math.Min(prev, x+r)
		}

		switch {
		case filt > prev:
			st.Upward++
			st.Downward = 0
		case filt < prev:
			st.Downward++
			st.Upward = 0
		}

		st.Filter = filt
		st.Upper = filt + r
		st.Lower = filt - r
	}

	last := closes[len(closes)-1]
	switch {
	case last > st.Filter && st.Upward > 0:
		st.Direction = market.Long
	case last < st.Filter && st.Downward > 0:
		st.Direction = market.Short
	}
	return st, true
}

// DualRangeFilter combines a fast and a slow filter. Agreement wins, a
// single directional band wins over a flat one, and opposing bands are flat.
type DualRangeFilter struct {
	Fast RangeFilter
	Slow RangeFilter
}

func DefaultDualRangeFilter() DualRangeFilter {
	return DualRangeFilter{
		Fast: RangeFilter{Period: 27, Mult: 1.6},
		Slow: RangeFilter{Period: 55, Mult: 2.0},
	}
}

type DualRangeState struct {
	Fast      RangeFilterState
	Slow      RangeFilterState
	FastOK    bool
	SlowOK    bool
	Direction market.Direction
}

func (d DualRangeFilter) Eval(candles []market.Candle) DualRangeState {
	cs := closes(candles)
	var st DualRangeState
	st.Fast, st.FastOK = d.Fast.Eval(cs)
	st.Slow, st.SlowOK = d.Slow.Eval(cs)

	fd, sd := st.Fast.Direction, st.Slow.Direction
	switch {
	case fd == sd:
		st.Direction = fd
	case fd == market.Flat:
		st.Direction = sd
	case sd == market.Flat:
		st.Direction = fd
	default:
		st.Direction = market.Flat
	}
	return st
}
