// Package filter decides whether a symbol's current setup is worth sending
// to the decision oracle. Hard gates run in a fixed order and short-circuit;
// only a setup that passes all of them is given a directional bias and a
// confluence score.
package filter

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/rustyeddy/autotrader/indicators"
	"github.com/rustyeddy/autotrader/market"
)

// Gate names, in evaluation order.
const (
	GateInstrument = "instrument"
	GateCandles    = "candles"
	GateSession    = "session"
	GateSpread     = "spread"
	GateNews       = "news"
	GateVolatility = "volatility"
	GateTrend      = "trend"
	GateMomentum   = "momentum"
	GateBias       = "bias"
)

// Bias sources.
const (
	BiasRangeFilter = "range_filter"
	BiasRSIDI       = "rsi_di"
	BiasEMA         = "ema"
)

const ReasonNoConviction = "no directional conviction"

type NewsEvent struct {
	Currency string
	Title    string
	Impact   string // "high", "medium", "low"
	Time     time.Time
}

func (e NewsEvent) HighImpact() bool { return strings.EqualFold(e.Impact, "high") }

type Input struct {
	Symbol string
	// Candles are closed candles of the analysis timeframe, oldest first.
	Candles []market.Candle
	// Price is the current mid; zero falls back to the last close.
	Price float64
	// Spread is the live spread in price units; nil skips the spread gate.
	Spread *float64
	News   []NewsEvent
	Now    time.Time
}

type Verdict struct {
	Symbol     string
	Passed     bool
	Gate       string
	Reason     string
	Direction  market.Direction
	Bias       string
	Confluence float64
	Indicators indicators.Set
}

func fail(sym, gate, format string, args ...any) Verdict {
	return Verdict{Symbol: sym, Gate: gate, Reason: fmt.Sprintf(format, args...)}
}

type Pipeline struct {
	mu  sync.RWMutex
	cfg Config
}

func New(cfg Config) *Pipeline {
	if cfg.Indicators.RSIPeriod == 0 {
		cfg.Indicators = indicators.DefaultParams()
	}
	return &Pipeline{cfg: cfg}
}

func (p *Pipeline) Config() Config {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg
}

// SetADXThreshold updates the trend gate at runtime. Zero disables it.
func (p *Pipeline) SetADXThreshold(v float64) {
	p.mu.Lock()
	p.cfg.ADXThreshold = v
	p.mu.Unlock()
}

// Evaluate runs the gates against in. It never calls out of process.
func (p *Pipeline) Evaluate(in Input) Verdict {
	cfg := p.Config()
	sym := market.Normalize(in.Symbol)

	meta, ok := market.Lookup(sym)
	if !ok {
		return fail(sym, GateInstrument, "unknown instrument %q", in.Symbol)
	}
	th := cfg.thresholds(meta.Class)

	// 1. data sufficiency
	if len(in.Candles) < cfg.MinCandles || len(in.Candles) == 0 {
		return fail(sym, GateCandles, "insufficient candles: %d < %d", len(in.Candles), cfg.MinCandles)
	}

	// 2. session
	if v, ok := sessionGate(sym, meta, cfg, in.Now); !ok {
		return v
	}

	// 3. spread
	if in.Spread != nil && th.MaxSpreadPips > 0 {
		pips := math.Abs(meta.ToPips(*in.Spread))
		if pips > th.MaxSpreadPips {
			return fail(sym, GateSpread, "spread %.1f pips above %s ceiling %.1f", pips, meta.Class, th.MaxSpreadPips)
		}
	}

	// 4. news
	if ev, ok := upcomingNews(meta, in.News, in.Now, cfg.NewsWindow, cfg.NewsAfter); ok {
		return fail(sym, GateNews, "high-impact %s news %q at %s", ev.Currency, ev.Title, ev.Time.UTC().Format("15:04"))
	}

	price := in.Price
	if price <= 0 {
		price = in.Candles[len(in.Candles)-1].Close
	}

	// 5. volatility
	if cfg.ExtremeRangeMultiple > 0 {
		if avg, ok := indicators.AverageRange(in.Candles, cfg.RangeLookback); ok && avg > 0 {
			last := in.Candles[len(in.Candles)-1].Range()
			if last > cfg.ExtremeRangeMultiple*avg {
				return fail(sym, GateVolatility, "extreme volatility: last range %.1fx average", last/avg)
			}
		}
	}
	set := indicators.Compute(in.Candles, cfg.Indicators)
	if th.DeadMarketPips > 0 {
		if open, ok := indicators.DayOpen(in.Candles); ok {
			moved := indicators.AbsPips(meta, price-open)
			if moved < th.DeadMarketPips {
				v := fail(sym, GateVolatility, "dead market: %.1f pips from day open < %.1f", moved, th.DeadMarketPips)
				v.Indicators = set
				return v
			}
		}
	}

	// 6. trend strength, then momentum
	if cfg.ADXThreshold > 0 && set.ADX < cfg.ADXThreshold {
		v := fail(sym, GateTrend, "weak trend: ADX %.1f < %.1f", set.ADX, cfg.ADXThreshold)
		v.Indicators = set
		return v
	}
	if th.MinMomentumPips > 0 {
		pips := indicators.AbsPips(meta, set.Momentum)
		if pips < th.MinMomentumPips {
			v := fail(sym, GateMomentum, "insufficient momentum: %.1f pips < %.1f", pips, th.MinMomentumPips)
			v.Indicators = set
			return v
		}
	}

	dir, source := bias(set, cfg)
	if dir == market.Flat {
		v := fail(sym, GateBias, ReasonNoConviction)
		v.Indicators = set
		return v
	}

	return Verdict{
		Symbol:     sym,
		Passed:     true,
		Direction:  dir,
		Bias:       source,
		Confluence: Confluence(set, dir, in.Now),
		Indicators: set,
	}
}

func sessionGate(sym string, meta market.InstrumentMeta, cfg Config, now time.Time) (Verdict, bool) {
	if meta.Class.Continuous() {
		return Verdict{}, true
	}
	if WeekendClosed(now) {
		return fail(sym, GateSession, "market closed for the weekend"), false
	}
	if AfterWeeklyOpen(now, cfg.WeekOpenBuffer) {
		return fail(sym, GateSession, "within %s of the weekly open", cfg.WeekOpenBuffer), false
	}
	if NearRollover(now, cfg.RolloverBuffer) {
		return fail(sym, GateSession, "within %s of daily rollover", cfg.RolloverBuffer), false
	}
	sessions := cfg.sessions()
	if len(sessions) > 0 && len(ActiveSessions(now, sessions)) == 0 {
		return fail(sym, GateSession, "outside allowed sessions %v", cfg.Sessions), false
	}
	return Verdict{}, true
}

func upcomingNews(meta market.InstrumentMeta, events []NewsEvent, now time.Time, before, after time.Duration) (NewsEvent, bool) {
	if before <= 0 && after <= 0 {
		return NewsEvent{}, false
	}
	for _, ev := range events {
		if !ev.HighImpact() {
			continue
		}
		ccy := strings.ToUpper(ev.Currency)
		if ccy != meta.BaseCurrency && ccy != meta.QuoteCurrency {
			continue
		}
		if !now.Before(ev.Time.Add(-before)) && !now.After(ev.Time.Add(after)) {
			return ev, true
		}
	}
	return NewsEvent{}, false
}

// bias picks a direction: the dual range filter first, then an RSI extreme
// confirmed by the directional index, then EMA alignment.
func bias(s indicators.Set, cfg Config) (market.Direction, string) {
	if d := s.Range.Direction; d != market.Flat {
		return d, BiasRangeFilter
	}
	if d := s.RSIExtreme(cfg.RSIOversold, cfg.RSIOverbought); d != market.Flat {
		return d, BiasRSIDI
	}
	if d := s.EMAAlignment(); d != market.Flat {
		return d, BiasEMA
	}
	return market.Flat, ""
}
