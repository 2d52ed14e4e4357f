package indicators

import (
	"fmt"

	"github.com/rustyeddy/autotrader/market"
)

// SimpleMA averages the last period closes. It keeps a running sum over a
// fixed ring so Update is O(1).
type SimpleMA struct {
	period int
	ring   []float64
	next   int
	filled int
	sum    float64
}

func NewMA(period int) *SimpleMA {
	if period < 1 {
		period = 1
	}
	return &SimpleMA{period: period, ring: make([]float64, period)}
}

func (m *SimpleMA) Name() string { return fmt.Sprintf("MA(%d)", m.period) }
func (m *SimpleMA) Warmup() int  { return m.period }

func (m *SimpleMA) Reset() {
	clear(m.ring)
	m.next, m.filled, m.sum = 0, 0, 0
}

func (m *SimpleMA) Update(c market.Candle) {
	if m.filled == m.period {
		m.sum -= m.ring[m.next]
	} else {
		m.filled++
	}
	m.ring[m.next] = c.Close
	m.sum += c.Close
	m.next = (m.next + 1) % m.period
}

func (m *SimpleMA) Ready() bool { return m.filled == m.period }

func (m *SimpleMA) Value() float64 {
	if !m.Ready() {
		return 0
	}
	return m.sum / float64(m.period)
}

// ExponentialMA is seeded with the simple average of its first period closes
// and smoothed with 2/(period+1) afterwards.
type ExponentialMA struct {
	period int
	alpha  float64
	seen   int
	value  float64
}

func NewEMA(period int) *ExponentialMA {
	if period < 1 {
		period = 1
	}
	return &ExponentialMA{period: period, alpha: 2 / float64(period+1)}
}

func (e *ExponentialMA) Name() string { return fmt.Sprintf("EMA(%d)", e.period) }
func (e *ExponentialMA) Warmup() int  { return e.period }

func (e *ExponentialMA) Reset() {
	e.seen, e.value = 0, 0
}

func (e *ExponentialMA) Update(c market.Candle) {
	switch {
	case e.seen < e.period-1:
		e.value += c.Close
		e.seen++
	case e.seen == e.period-1:
		e.value = (e.value + c.Close) / float64(e.period)
		e.seen++
	default:
		e.value += e.alpha * (c.Close - e.value)
	}
}

func (e *ExponentialMA) Ready() bool { return e.seen >= e.period }

func (e *ExponentialMA) Value() float64 {
	if !e.Ready() {
		return 0
	}
	return e.value
}
