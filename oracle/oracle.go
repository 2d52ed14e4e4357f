// Package oracle is the contract for the external decision service that
// scores a filtered setup and proposes entry, stop and targets.
package oracle

import (
	"context"
	"fmt"

	"github.com/rustyeddy/autotrader/indicators"
	"github.com/rustyeddy/autotrader/market"
	"github.com/yanun0323/errors"
)

var (
	ErrMalformed   = errors.New("oracle: malformed decision")
	ErrRateLimited = errors.New("oracle: rate limited")
)

// Regime labels passed to the oracle.
const (
	RegimeTrending = "trending"
	RegimeRanging  = "ranging"
	RegimeVolatile = "volatile"
)

type Request struct {
	Symbol         string
	AssetClass     market.AssetClass
	CurrentPrice   float64
	Candles        []market.Candle
	Indicators     indicators.Set
	Regime         string
	AccountBalance float64
	RiskPercent    float64
}

type Decision struct {
	Action      market.Direction
	Confidence  float64
	Entry       float64
	StopLoss    float64
	TakeProfits [3]float64
	Reasoning   string

	// Degraded is set when the decision is a HOLD substituted for a failed
	// or invalid oracle response.
	Degraded bool
}

func (d Decision) Actionable() bool { return d.Action != market.Flat }

// TakeProfit is the nearest configured target, or zero.
func (d Decision) TakeProfit() float64 {
	for _, tp := range d.TakeProfits {
		if tp > 0 {
			return tp
		}
	}
	return 0
}

func Hold(reason string) Decision {
	return Decision{Action: market.Flat, Reasoning: reason}
}

type Oracle interface {
	Decide(ctx context.Context, req Request) (Decision, error)
}

// HoldOracle always declines. It stands in when no oracle is configured.
type HoldOracle struct{}

func (HoldOracle) Decide(context.Context, Request) (Decision, error) {
	return Hold("no oracle configured"), nil
}

// RegimeFor labels the market state from the indicator snapshot.
func RegimeFor(s indicators.Set, adxTrend float64) string {
	switch {
	case s.ATR > 0 && s.Close > 0 && s.ATR/s.Close > 0.01:
		return RegimeVolatile
	case s.ADX >= adxTrend:
		return RegimeTrending
	default:
		return RegimeRanging
	}
}

// Validate checks a decision against the price it will be executed near.
// HOLD decisions are always valid.
func Validate(d Decision, price float64) error {
	if d.Confidence < 0 || d.Confidence > 100 {
		return fmt.Errorf("%w: confidence %.1f outside 0-100", ErrMalformed, d.Confidence)
	}
	if d.Action == market.Flat {
		return nil
	}
	entry := d.Entry
	if entry <= 0 {
		entry = price
	}
	if entry <= 0 {
		return fmt.Errorf("%w: no entry price", ErrMalformed)
	}
	if d.StopLoss <= 0 {
		return fmt.Errorf("%w: missing stop loss", ErrMalformed)
	}
	if (d.Action == market.Long && d.StopLoss >= entry) || (d.Action == market.Short && d.StopLoss <= entry) {
		return fmt.Errorf("%w: %s stop %.5f on wrong side of entry %.5f", ErrMalformed, d.Action, d.StopLoss, entry)
	}
	return nil
}

// sanitizeTargets drops take profits that sit on the losing side of entry.
func sanitizeTargets(d Decision) Decision {
	entry := d.Entry
	for i, tp := range d.TakeProfits {
		if tp <= 0 {
			continue
		}
		if (d.Action == market.Long && tp <= entry) || (d.Action == market.Short && tp >= entry) {
			d.TakeProfits[i] = 0
		}
	}
	return d
}
