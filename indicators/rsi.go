package indicators

import (
	"fmt"

	"github.com/rustyeddy/autotrader/market"
)

// RSI is a streaming Relative Strength Index using Wilder's smoothing.
// A window with no losses reads 100, one with no movement at all reads 50.
type RSI struct {
	period  int
	prev    float64
	hasPrev bool
	count   int
	avgGain float64
	avgLoss float64
}

func NewRSI(period int) *RSI {
	return &RSI{period: period}
}

func (r *RSI) Name() string { return fmt.Sprintf("RSI(%d)", r.period) }

func (r *RSI) Warmup() int { return r.period + 1 }

func (r *RSI) Reset() { *r = RSI{period: r.period} }

func (r *RSI) Update(c market.Candle) {
	if !r.hasPrev {
		r.prev = c.Close
		r.hasPrev = true
		return
	}
	d := c.Close - r.prev
	r.prev = c.Close

	gain, loss := 0.0, 0.0
	if d > 0 {
		gain = d
	} else {
		loss = -d
	}

	n := float64(r.period)
	if r.count < r.period {
		r.avgGain += gain / n
		r.avgLoss += loss / n
		r.count++
		return
	}
	r.avgGain = (r.avgGain*(n-1) + gain) / n
	r.avgLoss = (r.avgLoss*(n-1) + loss) / n
}

func (r *RSI) Ready() bool { return r.count >= r.period }

func (r *RSI) Value() float64 {
	if !r.Ready() {
		return 0
	}
	if r.avgLoss == 0 {
		if r.avgGain == 0 {
			return 50
		}
		return 100
	}
	rs := r.avgGain / r.avgLoss
	return 100.0 - 100.0/(1.0+rs)
}
