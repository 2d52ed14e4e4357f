package filter

import (
	"math"
	"time"

	"github.com/rustyeddy/autotrader/indicators"
	"github.com/rustyeddy/autotrader/market"
)

// component weights, summing to 100
const (
	trendFilterW = 30.0
	adxW         = 25.0
	emaW         = 20.0
	rsiW         = 15.0
	sessionW     = 10.0
)

// Confluence scores how many independent signals agree with dir, 0..100.
func Confluence(s indicators.Set, dir market.Direction, now time.Time) float64 {
	if dir == market.Flat {
		return 0
	}
	score := 0.0

	switch {
	case s.Range.Fast.Direction == dir && s.Range.Slow.Direction == dir:
		score += trendFilterW
	case s.Range.Direction == dir:
		score += trendFilterW / 2
	}

	// ADX 40 and above counts in full
	score += adxW * clamp01(s.ADX/40)
	if (dir == market.Long && s.PlusDI < s.MinusDI) || (dir == market.Short && s.MinusDI < s.PlusDI) {
		score -= adxW / 2
	}

	if s.EMAAlignment() == dir {
		score += emaW
	}

	// RSI on the trade's side of 50 without being stretched
	switch {
	case dir == market.Long && s.RSI >= 50 && s.RSI < 70:
		score += rsiW
	case dir == market.Short && s.RSI <= 50 && s.RSI > 30:
		score += rsiW
	case dir == market.Long && s.RSI <= 30, dir == market.Short && s.RSI >= 70:
		score += rsiW / 2
	}

	if InOverlap(now) {
		score += sessionW
	}

	return math.Round(math.Max(0, math.Min(100, score))*100) / 100
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
