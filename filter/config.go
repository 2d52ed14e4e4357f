package filter

import (
	"time"

	"github.com/rustyeddy/autotrader/indicators"
	"github.com/rustyeddy/autotrader/market"
)

// ClassThresholds holds the per-asset-class limits in pip-equivalent units.
// A zero value disables the corresponding check.
type ClassThresholds struct {
	MaxSpreadPips   float64 `json:"max_spread_pips" yaml:"max_spread_pips"`
	MinMomentumPips float64 `json:"min_momentum_pips" yaml:"min_momentum_pips"`
	DeadMarketPips  float64 `json:"dead_market_pips" yaml:"dead_market_pips"`
}

// DefaultThresholds is the single canonical threshold table. Pip sizes come
// from the instrument table, so gold is in 0.1 and BTC in whole dollars.
func DefaultThresholds() map[market.AssetClass]ClassThresholds {
	return map[market.AssetClass]ClassThresholds{
		market.Major:  {MaxSpreadPips: 2.0, MinMomentumPips: 5, DeadMarketPips: 3},
		market.Cross:  {MaxSpreadPips: 3.5, MinMomentumPips: 7, DeadMarketPips: 5},
		market.Exotic: {MaxSpreadPips: 8.0, MinMomentumPips: 15, DeadMarketPips: 10},
		market.Metal:  {MaxSpreadPips: 50, MinMomentumPips: 30, DeadMarketPips: 20},
		market.Crypto: {MaxSpreadPips: 100, MinMomentumPips: 50, DeadMarketPips: 30},
	}
}

type Config struct {
	MinCandles int `json:"min_candles" yaml:"min_candles"`

	Sessions       []string      `json:"sessions" yaml:"sessions"`
	RolloverBuffer time.Duration `json:"rollover_buffer" yaml:"rollover_buffer"`
	WeekOpenBuffer time.Duration `json:"week_open_buffer" yaml:"week_open_buffer"`

	NewsWindow time.Duration `json:"news_window" yaml:"news_window"`
	NewsAfter  time.Duration `json:"news_after" yaml:"news_after"`

	ExtremeRangeMultiple float64 `json:"extreme_range_multiple" yaml:"extreme_range_multiple"`
	RangeLookback        int     `json:"range_lookback" yaml:"range_lookback"`

	ADXThreshold  float64 `json:"adx_threshold" yaml:"adx_threshold"`
	RSIOversold   float64 `json:"rsi_oversold" yaml:"rsi_oversold"`
	RSIOverbought float64 `json:"rsi_overbought" yaml:"rsi_overbought"`

	Thresholds map[market.AssetClass]ClassThresholds `json:"thresholds" yaml:"thresholds"`

	Indicators indicators.Params `json:"-" yaml:"-"`
}

func DefaultConfig() Config {
	return Config{
		MinCandles:           50,
		Sessions:             []string{Tokyo.Name, London.Name, NewYork.Name},
		RolloverBuffer:       15 * time.Minute,
		WeekOpenBuffer:       time.Hour,
		NewsWindow:           30 * time.Minute,
		NewsAfter:            15 * time.Minute,
		ExtremeRangeMultiple: 3,
		RangeLookback:        20,
		ADXThreshold:         20,
		RSIOversold:          30,
		RSIOverbought:        70,
		Thresholds:           DefaultThresholds(),
		Indicators:           indicators.DefaultParams(),
	}
}

// thresholds falls back to the default table for classes missing from the
// configured one.
func (c Config) thresholds(class market.AssetClass) ClassThresholds {
	if t, ok := c.Thresholds[class]; ok {
		return t
	}
	return DefaultThresholds()[class]
}

func (c Config) sessions() []Session {
	out := make([]Session, 0, len(c.Sessions))
	for _, name := range c.Sessions {
		if s, ok := SessionByName(name); ok {
			out = append(out, s)
		}
	}
	return out
}
