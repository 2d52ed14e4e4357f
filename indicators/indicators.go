// Package indicators provides technical analysis indicators for trading
package indicators

import "github.com/rustyeddy/autotrader/market"

// Indicator computes a single streaming value from candles.
// It is deterministic and safe to use in live and replayed feeds.
type Indicator interface {
	// Name returns a stable identifier like "EMA(20)" or "RSI(14)".
	Name() string

	// Warmup returns how many updates are needed before Ready() can be true.
	Warmup() int

	// Reset clears all internal state.
	Reset()

	// Update consumes the next *closed* candle and updates internal state.
	Update(c market.Candle)

	// Ready reports whether Value() is meaningful (warmup completed).
	Ready() bool

	// Value returns the current indicator value, 0 before warmup.
	Value() float64
}

// Feed runs every candle through ind and returns the final value.
func Feed(ind Indicator, candles []market.Candle) float64 {
	for _, c := range candles {
		ind.Update(c)
	}
	return ind.Value()
}
