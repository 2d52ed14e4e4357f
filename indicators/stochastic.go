package indicators

import (
	"fmt"

	"github.com/rustyeddy/autotrader/market"
)

// Stochastic computes the %K/%D oscillator. %K is the close's position in
// the kPeriod high/low range (0..100); %D is the dPeriod SMA of %K.
type Stochastic struct {
	kPeriod int
	dPeriod int
	window  []market.Candle
	ks      []float64
}

func NewStochastic(kPeriod, dPeriod int) *Stochastic {
	return &Stochastic{kPeriod: kPeriod, dPeriod: dPeriod}
}

func (s *Stochastic) Name() string {
	return fmt.Sprintf("STOCH(%d,%d)", s.kPeriod, s.dPeriod)
}

func (s *Stochastic) Warmup() int { return s.kPeriod + s.dPeriod - 1 }

func (s *Stochastic) Reset() {
	s.window = s.window[:0]
	s.ks = s.ks[:0]
}

func (s *Stochastic) Update(c market.Candle) {
	s.window = append(s.window, c)
	if len(s.window) > s.kPeriod {
		s.window = s.window[1:]
	}
	if len(s.window) < s.kPeriod {
		return
	}

	hi, lo := s.window[0].High, s.window[0].Low
	for _, w := range s.window[1:] {
		if w.High > hi {
			hi = w.High
		}
		if w.Low < lo {
			lo = w.Low
		}
	}
	k := 50.0
	if hi > lo {
		k = 100 * (c.Close - lo) / (hi - lo)
	}

	s.ks = append(s.ks, k)
	if len(s.ks) > s.dPeriod {
		s.ks = s.ks[1:]
	}
}

func (s *Stochastic) Ready() bool { return len(s.ks) >= s.dPeriod }

// Value returns %K.
func (s *Stochastic) Value() float64 { return s.K() }

func (s *Stochastic) K() float64 {
	if len(s.ks) == 0 {
		return 0
	}
	return s.ks[len(s.ks)-1]
}

func (s *Stochastic) D() float64 {
	if !s.Ready() {
		return 0
	}
	sum := 0.0
	for _, k := range s.ks {
		sum += k
	}
	return sum / float64(len(s.ks))
}
