package market

import (
	"sync"
	"time"

	"github.com/yanun0323/errors"
)

var ErrNoPrice = errors.New("market: price not found")

// Tick is a single top-of-book quote.
type Tick struct {
	Instrument string
	Time       time.Time
	Bid        float64
	Ask        float64
}

func (t Tick) Mid() float64 {
	if t.Bid == 0 && t.Ask == 0 {
		return 0
	}
	return (t.Bid + t.Ask) / 2
}

func (t Tick) Spread() float64 {
	return t.Ask - t.Bid
}

func (t Tick) Valid() bool {
	return t.Bid > 0 && t.Ask > 0 && t.Ask >= t.Bid && !t.Time.IsZero()
}

// Mark returns the price a position of the given direction would close at:
// longs sell on the bid, shorts buy back on the ask.
func (t Tick) Mark(d Direction) float64 {
	if d == Short {
		return t.Ask
	}
	return t.Bid
}

// TickStore keeps the most recent tick per normalized symbol. Entries older
// than the TTL are reported as missing by Fresh.
type TickStore struct {
	mu    sync.RWMutex
	ticks map[string]Tick
	ttl   time.Duration
}

func NewTickStore(ttl time.Duration) *TickStore {
	return &TickStore{ticks: make(map[string]Tick), ttl: ttl}
}

func (ps *TickStore) Set(p Tick) {
	key := Normalize(p.Instrument)
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if prev, ok := ps.ticks[key]; ok && p.Time.Before(prev.Time) {
		return
	}
	ps.ticks[key] = p
}

func (ps *TickStore) Get(instr string) (Tick, error) {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	p, ok := ps.ticks[Normalize(instr)]
	if !ok {
		return Tick{}, ErrNoPrice
	}
	return p, nil
}

// Fresh returns the last tick for instr if it is no older than the TTL at now.
func (ps *TickStore) Fresh(instr string, now time.Time) (Tick, bool) {
	p, err := ps.Get(instr)
	if err != nil {
		return Tick{}, false
	}
	if ps.ttl > 0 && now.Sub(p.Time) > ps.ttl {
		return Tick{}, false
	}
	return p, true
}

// Price implements Quoter without the TTL check; conversion rates tolerate
// stale quotes.
func (ps *TickStore) Price(instr string) (Tick, bool) {
	p, err := ps.Get(instr)
	return p, err == nil
}
