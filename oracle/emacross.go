package oracle

import (
	"context"
	"fmt"
	"math"

	"github.com/rustyeddy/autotrader/indicators"
	"github.com/rustyeddy/autotrader/market"
)

// EMACrossConfig configures the rule-based oracle used for paper trading
// when no decision service is configured.
type EMACrossConfig struct {
	Enabled    bool    `yaml:"enabled" json:"enabled"`
	FastPeriod int     `yaml:"fast_period" json:"fast_period"`
	SlowPeriod int     `yaml:"slow_period" json:"slow_period"`
	MinADX     float64 `yaml:"min_adx" json:"min_adx"`
	// StopATR places the stop this many ATRs from entry; StopPips is used
	// when the ATR is unknown.
	StopATR  float64 `yaml:"stop_atr" json:"stop_atr"`
	StopPips float64 `yaml:"stop_pips" json:"stop_pips"`
	// RR is the reward multiple of the middle target.
	RR float64 `yaml:"risk_reward" json:"risk_reward"`
}

func DefaultEMACrossConfig() EMACrossConfig {
	return EMACrossConfig{
		FastPeriod: 10,
		SlowPeriod: 30,
		MinADX:     20,
		StopATR:    1.5,
		StopPips:   20,
		RR:         2,
	}
}

// EMACross proposes a trade when the fast EMA crosses the slow EMA on the
// most recent closed candle and the trend is strong enough.
type EMACross struct {
	cfg EMACrossConfig
}

func NewEMACross(cfg EMACrossConfig) *EMACross {
	def := DefaultEMACrossConfig()
	if cfg.FastPeriod <= 0 {
		cfg.FastPeriod = def.FastPeriod
	}
	if cfg.SlowPeriod <= cfg.FastPeriod {
		cfg.SlowPeriod = max(def.SlowPeriod, 3*cfg.FastPeriod)
	}
	if cfg.StopPips <= 0 {
		cfg.StopPips = def.StopPips
	}
	if cfg.RR <= 0 {
		cfg.RR = def.RR
	}
	return &EMACross{cfg: cfg}
}

func (o *EMACross) Decide(_ context.Context, req Request) (Decision, error) {
	if len(req.Candles) < o.cfg.SlowPeriod+1 {
		return Hold(fmt.Sprintf("need %d candles, have %d", o.cfg.SlowPeriod+1, len(req.Candles))), nil
	}

	fast := indicators.NewEMA(o.cfg.FastPeriod)
	slow := indicators.NewEMA(o.cfg.SlowPeriod)
	var prev, diff float64
	samples := 0
	for _, c := range req.Candles {
		fast.Update(c)
		slow.Update(c)
		if !fast.Ready() || !slow.Ready() {
			continue
		}
		prev, diff = diff, fast.Value()-slow.Value()
		samples++
	}
	if samples < 2 {
		return Hold("moving averages warming up"), nil
	}

	var dir market.Direction
	switch {
	case diff > 0 && prev <= 0:
		dir = market.Long
	case diff < 0 && prev >= 0:
		dir = market.Short
	default:
		return Hold("no crossover"), nil
	}

	adx := req.Indicators.ADX
	if o.cfg.MinADX > 0 && adx < o.cfg.MinADX {
		return Hold(fmt.Sprintf("trend too weak: ADX %.1f < %.1f", adx, o.cfg.MinADX)), nil
	}

	entry := req.CurrentPrice
	if entry <= 0 {
		entry = req.Candles[len(req.Candles)-1].Close
	}
	stop := o.cfg.StopATR * req.Indicators.ATR
	if stop <= 0 {
		meta, ok := market.Lookup(req.Symbol)
		if !ok {
			return Hold("unknown instrument " + req.Symbol), nil
		}
		stop = o.cfg.StopPips * meta.PipSize()
	}

	sign := dir.Sign()
	d := Decision{
		Action:     dir,
		Confidence: 65 + math.Min(20, math.Max(0, adx-o.cfg.MinADX)),
		Entry:      entry,
		StopLoss:   entry - sign*stop,
		Reasoning: fmt.Sprintf("EMA(%d/%d) %s cross, ADX %.1f",
			o.cfg.FastPeriod, o.cfg.SlowPeriod, crossName(dir), adx),
	}
	for i := range d.TakeProfits {
		d.TakeProfits[i] = entry + sign*stop*o.cfg.RR*float64(i+1)/2
	}
	return d, nil
}

func crossName(d market.Direction) string {
	if d == market.Long {
		return "bull"
	}
	return "bear"
}
