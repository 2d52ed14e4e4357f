package risk

import (
	"fmt"
	"math"

	"github.com/rustyeddy/autotrader/market"
)

// Exposure is an open position as the correlation guard sees it.
type Exposure struct {
	Symbol    string
	Direction market.Direction
}

type CorrelationConfig struct {
	Threshold         float64 `json:"threshold" yaml:"threshold"`
	MaxLegs           int     `json:"max_legs" yaml:"max_legs"`
	ReduceAt          int     `json:"reduce_at" yaml:"reduce_at"`
	ReducedMultiplier float64 `json:"reduced_multiplier" yaml:"reduced_multiplier"`
}

func DefaultCorrelationConfig() CorrelationConfig {
	return CorrelationConfig{Threshold: 0.8, MaxLegs: 3, ReduceAt: 2, ReducedMultiplier: 0.75}
}

type CorrelationCheck struct {
	Allowed    bool
	Multiplier float64
	Reason     string
	// Legs counts same-direction legs per currency, new trade included.
	Legs map[string]int
}

type pairKey struct{ a, b string }

func key(a, b string) pairKey {
	if a > b {
		a, b = b, a
	}
	return pairKey{a, b}
}

// staticCorrelations holds long-run daily correlations of the pairs most
// often traded together.
var staticCorrelations = map[pairKey]float64{
	key("EURUSD", "GBPUSD"): 0.85,
	key("EURUSD", "USDCHF"): -0.92,
	key("EURUSD", "AUDUSD"): 0.72,
	key("EURUSD", "NZDUSD"): 0.68,
	key("EURUSD", "USDCAD"): -0.65,
	key("EURUSD", "USDJPY"): -0.45,
	key("EURUSD", "XAUUSD"): 0.45,
	key("GBPUSD", "USDCHF"): -0.82,
	key("GBPUSD", "AUDUSD"): 0.65,
	key("AUDUSD", "NZDUSD"): 0.9,
	key("AUDUSD", "USDCAD"): -0.7,
	key("USDCHF", "USDJPY"): 0.62,
	key("EURJPY", "GBPJPY"): 0.9,
	key("EURJPY", "USDJPY"): 0.75,
	key("GBPJPY", "USDJPY"): 0.72,
	key("AUDJPY", "NZDJPY"): 0.92,
	key("EURGBP", "EURCHF"): 0.5,
	key("XAUUSD", "XAGUSD"): 0.85,
	key("BTCUSD", "ETHUSD"): 0.87,
}

type CorrelationGuard struct {
	cfg   CorrelationConfig
	table map[pairKey]float64
}

func NewCorrelationGuard(cfg CorrelationConfig) *CorrelationGuard {
	return &CorrelationGuard{cfg: cfg, table: staticCorrelations}
}

// Correlation returns the static correlation of two symbols; 1 for the same
// symbol and 0 when unknown.
func (g *CorrelationGuard) Correlation(a, b string) float64 {
	a, b = market.Normalize(a), market.Normalize(b)
	if a == b {
		return 1
	}
	return g.table[key(a, b)]
}

// legs decomposes a position: long is +base/-quote, short is -base/+quote.
func legs(symbol string, dir market.Direction) map[string]int {
	meta, ok := market.Lookup(symbol)
	if !ok || dir == market.Flat {
		return nil
	}
	s := int(dir)
	return map[string]int{meta.BaseCurrency: s, meta.QuoteCurrency: -s}
}

// Check vetoes a new position that opposes a highly correlated open one or
// that stacks MaxLegs same-direction legs on one currency. ReduceAt legs is
// allowed with a reduced size multiplier.
func (g *CorrelationGuard) Check(symbol string, dir market.Direction, open []Exposure) CorrelationCheck {
	out := CorrelationCheck{Allowed: true, Multiplier: 1, Legs: map[string]int{}}

	for _, o := range open {
		rho := g.Correlation(symbol, o.Symbol)
		if math.Abs(rho) < g.cfg.Threshold {
			continue
		}
		effective := o.Direction
		if rho < 0 {
			effective = o.Direction.Opposite()
		}
		if effective != dir {
			out.Allowed = false
			out.Multiplier = 0
			out.Reason = fmt.Sprintf("conflicts with open %s %s (correlation %.2f)",
				market.Normalize(o.Symbol), o.Direction, rho)
			return out
		}
	}

	mine := legs(symbol, dir)
	for ccy, sign := range mine {
		n := 1
		for _, o := range open {
			if l, ok := legs(o.Symbol, o.Direction)[ccy]; ok && l == sign {
				n++
			}
		}
		out.Legs[ccy] = n
	}

	for ccy, n := range out.Legs {
		if g.cfg.MaxLegs > 0 && n >= g.cfg.MaxLegs {
			out.Allowed = false
			out.Multiplier = 0
			out.Reason = fmt.Sprintf("%d same-direction %s legs", n, ccy)
			return out
		}
	}
	for ccy, n := range out.Legs {
		if g.cfg.ReduceAt > 0 && n >= g.cfg.ReduceAt {
			out.Multiplier = g.cfg.ReducedMultiplier
			out.Reason = fmt.Sprintf("%d same-direction %s legs, size reduced", n, ccy)
		}
	}
	return out
}
