package indicators

import (
	"math"

	"github.com/rustyeddy/autotrader/market"
)

// Momentum is the signed close-to-close change over lookback candles.
// ok is false when the window is too short.
func Momentum(candles []market.Candle, lookback int) (float64, bool) {
	if lookback <= 0 || len(candles) <= lookback {
		return 0, false
	}
	last := len(candles) - 1
	return candles[last].Close - candles[last-lookback].Close, true
}

// AverageRange is the mean high-low range of the n candles preceding the
// newest one.
func AverageRange(candles []market.Candle, n int) (float64, bool) {
	if n <= 0 || len(candles) < n+1 {
		return 0, false
	}
	sum := 0.0
	for _, c := range candles[len(candles)-1-n : len(candles)-1] {
		sum += c.Range()
	}
	return sum / float64(n), true
}

// AbsPips converts a price delta into absolute pip-equivalent units.
func AbsPips(meta market.InstrumentMeta, delta float64) float64 {
	return math.Abs(meta.ToPips(delta))
}
