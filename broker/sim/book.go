package sim

import (
	"sort"
	"sync"

	"github.com/rustyeddy/autotrader/market"
	"github.com/yanun0323/logs"
)

// Book keeps one paper engine per account so every account has its own
// balance and position list. All engines are priced from the same ticks.
type Book struct {
	base Config

	mu      sync.RWMutex
	engines map[string]*Engine
	last    map[string]market.Tick
}

// NewBook returns a book whose engines start from base. Replay is left to
// the feed engine, so engines in the book never read TicksPath.
func NewBook(base Config) *Book {
	base.TicksPath = ""
	return &Book{
		base:    base,
		engines: make(map[string]*Engine),
		last:    make(map[string]market.Tick),
	}
}

// Account returns the engine for accountID, creating it on first use with
// the book's last prices already applied. Empty currency and non-positive
// leverage keep the base values.
func (b *Book) Account(accountID, currency string, leverage float64) *Engine {
	b.mu.Lock()
	defer b.mu.Unlock()

	if e, ok := b.engines[accountID]; ok {
		return e
	}
	cfg := b.base
	cfg.AccountID = accountID
	if currency != "" {
		cfg.Currency = currency
	}
	if leverage > 0 {
		cfg.Leverage = leverage
	}
	e := NewEngine(cfg)
	for _, t := range b.last {
		if err := e.UpdatePrice(t); err != nil {
			logs.Warnf("sim seed price account=%s symbol=%s: %v", accountID, t.Instrument, err)
		}
	}
	b.engines[accountID] = e
	return e
}

// UpdatePrice applies t to every engine in the book.
func (b *Book) UpdatePrice(t market.Tick) {
	if !t.Valid() {
		return
	}
	b.mu.Lock()
	b.last[market.Normalize(t.Instrument)] = t
	engines := make([]*Engine, 0, len(b.engines))
	for _, e := range b.engines {
		engines = append(engines, e)
	}
	b.mu.Unlock()

	for _, e := range engines {
		if err := e.UpdatePrice(t); err != nil {
			logs.Warnf("sim price account=%s symbol=%s: %v", e.cfg.AccountID, t.Instrument, err)
		}
	}
}

func (b *Book) Accounts() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.engines))
	for id := range b.engines {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
