package market

import (
	"sort"
	"sync"
	"time"
)

type AggregatorConfig struct {
	Timeframes []Timeframe
	MaxHistory int
	PriceTTL   time.Duration
}

type seriesKey struct {
	symbol string
	tf     Timeframe
}

type series struct {
	current *Candle
	history *candleRing
}

// Aggregator builds rolling multi-timeframe candles from a tick stream and
// caches the most recent tick per symbol.
//
// Ingest is synchronous and O(len(timeframes)); closed candles live in a
// fixed size ring per (symbol, timeframe) so memory stays bounded.
type Aggregator struct {
	cfg     AggregatorConfig
	periods []time.Duration
	prices  *TickStore
	now     func() time.Time

	mu     sync.RWMutex
	series map[seriesKey]*series
}

func NewAggregator(cfg AggregatorConfig) *Aggregator {
	if len(cfg.Timeframes) == 0 {
		cfg.Timeframes = []Timeframe{M1, M5, M15, H1}
	}
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = 500
	}
	if cfg.PriceTTL <= 0 {
		cfg.PriceTTL = 30 * time.Second
	}
	periods := make([]time.Duration, len(cfg.Timeframes))
	for i, tf := range cfg.Timeframes {
		periods[i] = tf.Duration()
	}
	return &Aggregator{
		cfg:     cfg,
		periods: periods,
		prices:  NewTickStore(cfg.PriceTTL),
		now:     time.Now,
		series:  make(map[seriesKey]*series),
	}
}

// SetClock overrides the clock used for price freshness.
func (a *Aggregator) SetClock(now func() time.Time) { a.now = now }

func (a *Aggregator) Timeframes() []Timeframe { return a.cfg.Timeframes }

// Ingest applies one tick. Invalid ticks are ignored; ticks that belong to a
// period older than the current candle, or not after the last closed one,
// only refresh the price cache.
func (a *Aggregator) Ingest(t Tick) {
	if !t.Valid() {
		return
	}
	a.prices.Set(t)

	sym := Normalize(t.Instrument)
	mid := t.Mid()

	a.mu.Lock()
	defer a.mu.Unlock()

	for i, tf := range a.cfg.Timeframes {
		if a.periods[i] <= 0 {
			continue
		}
		key := seriesKey{symbol: sym, tf: tf}
		s, ok := a.series[key]
		if !ok {
			s = &series{history: newCandleRing(a.cfg.MaxHistory)}
			a.series[key] = s
		}

		bucket := BucketStart(t.Time, a.periods[i])
		cur := s.current
		if cur != nil && bucket.Equal(cur.PeriodStart) {
			if mid > cur.High {
				cur.High = mid
			}
			if mid < cur.Low {
				cur.Low = mid
			}
			cur.Close = mid
			cur.Volume++
			continue
		}
		if cur != nil && bucket.Before(cur.PeriodStart) {
			continue
		}
		if cur == nil {
			if h := s.history.last(1); len(h) == 1 && !bucket.After(h[0].PeriodStart) {
				continue
			}
		} else {
			s.history.push(*cur)
		}
		s.current = &Candle{
			Instrument:  sym,
			Timeframe:   tf,
			Open:        mid,
			High:        mid,
			Low:         mid,
			Close:       mid,
			Volume:      1,
			PeriodStart: bucket,
		}
	}
}

// Candles returns up to n closed candles followed by the in-progress candle,
// most recent last. n <= 0 returns the whole history.
func (a *Aggregator) Candles(symbol string, tf Timeframe, n int) []Candle {
	a.mu.RLock()
	defer a.mu.RUnlock()

	s, ok := a.series[seriesKey{symbol: Normalize(symbol), tf: tf}]
	if !ok {
		return nil
	}
	out := s.history.last(n)
	if s.current != nil {
		out = append(out, *s.current)
	}
	return out
}

// Closed returns only closed candles, most recent last.
func (a *Aggregator) Closed(symbol string, tf Timeframe, n int) []Candle {
	a.mu.RLock()
	defer a.mu.RUnlock()

	s, ok := a.series[seriesKey{symbol: Normalize(symbol), tf: tf}]
	if !ok {
		return nil
	}
	return s.history.last(n)
}

// Price returns the last tick for symbol, or false when none arrived within
// the cache TTL.
func (a *Aggregator) Price(symbol string) (Tick, bool) {
	return a.prices.Fresh(symbol, a.now())
}

// LastTick returns the last tick regardless of age.
func (a *Aggregator) LastTick(symbol string) (Tick, bool) {
	t, err := a.prices.Get(symbol)
	return t, err == nil
}

// Seed preloads closed candles for a series, typically broker history at
// start-up. Candles at or after the in-progress candle, or not newer than
// the last closed one, are skipped. It returns the number accepted.
func (a *Aggregator) Seed(symbol string, tf Timeframe, candles []Candle) int {
	sym := Normalize(symbol)
	sorted := append([]Candle(nil), candles...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].PeriodStart.Before(sorted[j].PeriodStart) })

	a.mu.Lock()
	defer a.mu.Unlock()

	key := seriesKey{symbol: sym, tf: tf}
	s, ok := a.series[key]
	if !ok {
		s = &series{history: newCandleRing(a.cfg.MaxHistory)}
		a.series[key] = s
	}

	var last time.Time
	if h := s.history.last(1); len(h) == 1 {
		last = h[0].PeriodStart
	}
	n := 0
	for _, c := range sorted {
		if !last.IsZero() && !c.PeriodStart.After(last) {
			continue
		}
		if s.current != nil && !c.PeriodStart.Before(s.current.PeriodStart) {
			continue
		}
		c.Instrument = sym
		c.Timeframe = tf
		s.history.push(c)
		last = c.PeriodStart
		n++
	}
	return n
}
