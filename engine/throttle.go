package engine

import (
	"sync"
	"time"
)

// Throttle allows at most one analysis in flight per symbol, and no new
// analysis until the interval since the last one has elapsed.
type Throttle struct {
	mu       sync.Mutex
	interval time.Duration
	last     map[string]time.Time
	busy     map[string]bool
}

func NewThrottle(interval time.Duration) *Throttle {
	return &Throttle{
		interval: interval,
		last:     make(map[string]time.Time),
		busy:     make(map[string]bool),
	}
}

// TryAcquire reports whether an analysis for symbol may start at now. A
// true result must be paired with Release.
func (t *Throttle) TryAcquire(symbol string, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.busy[symbol] {
		return false
	}
	if last, ok := t.last[symbol]; ok && now.Sub(last) < t.interval {
		return false
	}
	t.busy[symbol] = true
	t.last[symbol] = now
	return true
}

func (t *Throttle) Release(symbol string) {
	t.mu.Lock()
	delete(t.busy, symbol)
	t.mu.Unlock()
}

func (t *Throttle) Busy(symbol string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.busy[symbol]
}

func (t *Throttle) Interval() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.interval
}

func (t *Throttle) SetInterval(d time.Duration) {
	t.mu.Lock()
	t.interval = d
	t.mu.Unlock()
}
