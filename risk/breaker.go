package risk

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yanun0323/logs"
)

type BreakerState string

const (
	BreakerNormal  BreakerState = "NORMAL"
	BreakerTripped BreakerState = "TRIPPED"
)

// AccountState is the breaker's per-account record. It is what the store
// persists and what Load restores on start.
type AccountState struct {
	AccountID          string
	State              BreakerState
	ConsecutiveLosses  int
	DailyPnL           float64
	DailyStartBalance  float64
	WeeklyPnL          float64
	WeeklyStartBalance float64
	TripReason         string
	TrippedAt          time.Time
	DayStart           time.Time
	WeekStart          time.Time
	UpdatedAt          time.Time
}

func (s AccountState) Tripped() bool { return s.State == BreakerTripped }

// DailyDrawdownPct is the day's loss as a percent of the day's start balance.
func (s AccountState) DailyDrawdownPct() float64 {
	return lossPct(s.DailyPnL, s.DailyStartBalance)
}

func (s AccountState) WeeklyDrawdownPct() float64 {
	return lossPct(s.WeeklyPnL, s.WeeklyStartBalance)
}

func lossPct(pnl, start float64) float64 {
	if pnl >= 0 || start <= 0 {
		return 0
	}
	return -pnl / start * 100
}

type BreakerConfig struct {
	MaxConsecutiveLosses int           `json:"max_consecutive_losses" yaml:"max_consecutive_losses"`
	MaxDailyDrawdownPct  float64       `json:"max_daily_drawdown_pct" yaml:"max_daily_drawdown_pct"`
	MaxWeeklyDrawdownPct float64       `json:"max_weekly_drawdown_pct" yaml:"max_weekly_drawdown_pct"`
	Cooldown             time.Duration `json:"cooldown" yaml:"cooldown"`
	MaxLatency           time.Duration `json:"max_latency" yaml:"max_latency"`
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxConsecutiveLosses: 3,
		MaxDailyDrawdownPct:  5,
		MaxWeeklyDrawdownPct: 10,
		Cooldown:             60 * time.Minute,
		MaxLatency:           2 * time.Second,
	}
}

// StatePersister receives every breaker state change. Writes happen off the
// trading path; failures are logged only.
type StatePersister interface {
	SaveRiskState(ctx context.Context, st AccountState) error
}

type accountEntry struct {
	mu sync.Mutex
	st AccountState
}

// CircuitBreaker gates trading per account. Account entries have their own
// mutex so gating reads for one account never wait on another.
type CircuitBreaker struct {
	cfg       BreakerConfig
	persister StatePersister

	mu       sync.RWMutex
	accounts map[string]*accountEntry

	globalMu     sync.RWMutex
	globalReason string

	latency atomic.Int64
}

func NewCircuitBreaker(cfg BreakerConfig, p StatePersister) *CircuitBreaker {
	return &CircuitBreaker{
		cfg:       cfg,
		persister: p,
		accounts:  make(map[string]*accountEntry),
	}
}

func (cb *CircuitBreaker) Config() BreakerConfig { return cb.cfg }

func (cb *CircuitBreaker) entry(accountID string) *accountEntry {
	cb.mu.RLock()
	e, ok := cb.accounts[accountID]
	cb.mu.RUnlock()
	if ok {
		return e
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()
	if e, ok = cb.accounts[accountID]; ok {
		return e
	}
	e = &accountEntry{st: AccountState{AccountID: accountID, State: BreakerNormal}}
	cb.accounts[accountID] = e
	return e
}

// Load seeds in-memory state, typically from the store on start.
func (cb *CircuitBreaker) Load(states []AccountState) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	for _, st := range states {
		if st.State == "" {
			st.State = BreakerNormal
		}
		cb.accounts[st.AccountID] = &accountEntry{st: st}
	}
}

// Snapshot returns a copy of an account's state.
func (cb *CircuitBreaker) Snapshot(accountID string) (AccountState, bool) {
	cb.mu.RLock()
	e, ok := cb.accounts[accountID]
	cb.mu.RUnlock()
	if !ok {
		return AccountState{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.st, true
}

// RecordResult applies a closed trade. A win clears the loss streak; a loss
// extends it; breakeven leaves it alone. A balanceAfter <= 0 means the
// balance is unknown: period start balances are then carried forward from
// tracked P&L instead of being seeded, and drawdown is not evaluated against
// a missing start.
func (cb *CircuitBreaker) RecordResult(accountID string, pnl, balanceAfter float64, at time.Time) AccountState {
	e := cb.entry(accountID)
	e.mu.Lock()

	st := &e.st
	known := balanceAfter > 0
	before := balanceAfter - pnl
	if day := dayStart(at); day.After(st.DayStart) {
		carried := st.DailyStartBalance + st.DailyPnL
		st.DayStart = day
		st.DailyPnL = 0
		st.DailyStartBalance = startBalance(known, before, carried)
	}
	if week := weekStart(at); week.After(st.WeekStart) {
		carried := st.WeeklyStartBalance + st.WeeklyPnL
		st.WeekStart = week
		st.WeeklyPnL = 0
		st.WeeklyStartBalance = startBalance(known, before, carried)
	}
	if st.DailyStartBalance <= 0 && known {
		st.DailyStartBalance = before
	}
	if st.WeeklyStartBalance <= 0 && known {
		st.WeeklyStartBalance = before
	}

	switch {
	case pnl > 0:
		st.ConsecutiveLosses = 0
	case pnl < 0:
		st.ConsecutiveLosses++
	}
	st.DailyPnL += pnl
	st.WeeklyPnL += pnl
	st.UpdatedAt = at

	if st.State != BreakerTripped {
		if reason := cb.tripReason(*st); reason != "" {
			st.State = BreakerTripped
			st.TripReason = reason
			st.TrippedAt = at
			logs.Warnf("circuit breaker tripped account=%s reason=%q", accountID, reason)
		}
	}

	out := *st
	e.mu.Unlock()

	cb.persist(out)
	return out
}

func startBalance(known bool, before, carried float64) float64 {
	switch {
	case known:
		return before
	case carried > 0:
		return carried
	}
	return 0
}

func (cb *CircuitBreaker) tripReason(st AccountState) string {
	if n := cb.cfg.MaxConsecutiveLosses; n > 0 && st.ConsecutiveLosses >= n {
		return fmt.Sprintf("%d consecutive losses", st.ConsecutiveLosses)
	}
	if lim := cb.cfg.MaxDailyDrawdownPct; lim > 0 && st.DailyDrawdownPct() >= lim {
		return fmt.Sprintf("daily drawdown %.2f%% >= %.2f%%", st.DailyDrawdownPct(), lim)
	}
	if lim := cb.cfg.MaxWeeklyDrawdownPct; lim > 0 && st.WeeklyDrawdownPct() >= lim {
		return fmt.Sprintf("weekly drawdown %.2f%% >= %.2f%%", st.WeeklyDrawdownPct(), lim)
	}
	return ""
}

// CanTrade checks the global trip, then the latency gate, then the account.
// A tripped account whose cooldown has elapsed is reset here.
func (cb *CircuitBreaker) CanTrade(accountID string, now time.Time) (bool, string) {
	if reason, tripped := cb.GlobalTrip(); tripped {
		return false, "global trip: " + reason
	}
	if lim := cb.cfg.MaxLatency; lim > 0 {
		if l := time.Duration(cb.latency.Load()); l > lim {
			return false, fmt.Sprintf("latency %s above %s", l, lim)
		}
	}

	cb.mu.RLock()
	e, ok := cb.accounts[accountID]
	cb.mu.RUnlock()
	if !ok {
		return true, ""
	}

	e.mu.Lock()
	if e.st.State != BreakerTripped {
		e.mu.Unlock()
		return true, ""
	}
	if cb.cfg.Cooldown > 0 && !now.Before(e.st.TrippedAt.Add(cb.cfg.Cooldown)) {
		clearTrip(&e.st, now)
		out := e.st
		e.mu.Unlock()
		logs.Infof("circuit breaker cooldown elapsed account=%s", accountID)
		cb.persist(out)
		return true, ""
	}
	reason := fmt.Sprintf("circuit breaker tripped: %s", e.st.TripReason)
	if cb.cfg.Cooldown > 0 {
		reason += fmt.Sprintf(" (until %s)", e.st.TrippedAt.Add(cb.cfg.Cooldown).UTC().Format(time.RFC3339))
	}
	e.mu.Unlock()
	return false, reason
}

// Reset clears an account's trip and loss streak.
func (cb *CircuitBreaker) Reset(accountID string, now time.Time) AccountState {
	e := cb.entry(accountID)
	e.mu.Lock()
	clearTrip(&e.st, now)
	out := e.st
	e.mu.Unlock()
	cb.persist(out)
	return out
}

func clearTrip(st *AccountState, now time.Time) {
	st.State = BreakerNormal
	st.ConsecutiveLosses = 0
	st.TripReason = ""
	st.TrippedAt = time.Time{}
	st.UpdatedAt = now
}

func (cb *CircuitBreaker) TripGlobal(reason string) {
	cb.globalMu.Lock()
	cb.globalReason = reason
	cb.globalMu.Unlock()
	logs.Warnf("global trading halt reason=%q", reason)
}

func (cb *CircuitBreaker) ResetGlobal() {
	cb.globalMu.Lock()
	cb.globalReason = ""
	cb.globalMu.Unlock()
}

func (cb *CircuitBreaker) GlobalTrip() (string, bool) {
	cb.globalMu.RLock()
	defer cb.globalMu.RUnlock()
	return cb.globalReason, cb.globalReason != ""
}

// ObserveLatency records the latest broker round-trip time.
func (cb *CircuitBreaker) ObserveLatency(d time.Duration) {
	cb.latency.Store(int64(d))
}

func (cb *CircuitBreaker) persist(st AccountState) {
	if cb.persister == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := cb.persister.SaveRiskState(ctx, st); err != nil {
			logs.Errorf("persist risk state account=%s: %v", st.AccountID, err)
		}
	}()
}
