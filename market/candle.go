package market

import "time"

// Candle represents OHLC (Open, High, Low, Close) candlestick data for one
// period. Volume is the number of ticks that fell into the period.
type Candle struct {
	Instrument  string
	Timeframe   Timeframe
	Open        float64
	High        float64
	Low         float64
	Close       float64
	Volume      float64
	PeriodStart time.Time
}

func (c Candle) Range() float64 {
	return c.High - c.Low
}

func (c Candle) Body() float64 {
	if c.Close > c.Open {
		return c.Close - c.Open
	}
	return c.Open - c.Close
}

func (c Candle) Bullish() bool {
	return c.Close > c.Open
}

// candleRing is a fixed capacity history; pushing onto a full ring evicts
// the oldest candle.
type candleRing struct {
	buf   []Candle
	start int
	n     int
}

func newCandleRing(capacity int) *candleRing {
	if capacity < 1 {
		capacity = 1
	}
	return &candleRing{buf: make([]Candle, capacity)}
}

func (r *candleRing) push(c Candle) {
	if r.n < len(r.buf) {
		r.buf[(r.start+r.n)%len(r.buf)] = c
		r.n++
		return
	}
	r.buf[r.start] = c
	r.start = (r.start + 1) % len(r.buf)
}

func (r *candleRing) len() int { return r.n }

// last copies the newest k candles, oldest first.
func (r *candleRing) last(k int) []Candle {
	if k <= 0 || k > r.n {
		k = r.n
	}
	out := make([]Candle, k)
	first := r.n - k
	for i := 0; i < k; i++ {
		out[i] = r.buf[(r.start+first+i)%len(r.buf)]
	}
	return out
}
