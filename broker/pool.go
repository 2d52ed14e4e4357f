package broker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/yanun0323/logs"
)

// Dialer builds (but does not connect) the gateway for an account.
type Dialer func(accountID string) (Gateway, error)

type PoolConfig struct {
	ConnectTimeout time.Duration `json:"connect_timeout" yaml:"connect_timeout"`
	Backoff        Backoff       `json:"backoff" yaml:"backoff"`
}

func DefaultPoolConfig() PoolConfig {
	return PoolConfig{ConnectTimeout: 10 * time.Second, Backoff: DefaultBackoff()}
}

type slot struct {
	mu        sync.Mutex
	gw        Gateway
	failures  int
	retryAt   time.Time
	lastErr   error
	exhausted bool
}

// Pool holds one gateway per account. Connections are made lazily on first
// use; a failed connect blocks further attempts for that account until its
// backoff elapses, without affecting other accounts. Once the backoff's
// attempt cap is reached the account stays down until Reset.
type Pool struct {
	cfg  PoolConfig
	dial Dialer
	now  func() time.Time

	mu    sync.RWMutex
	slots map[string]*slot
}

func NewPool(cfg PoolConfig, dial Dialer) *Pool {
	return &Pool{cfg: cfg, dial: dial, now: time.Now, slots: make(map[string]*slot)}
}

func (p *Pool) SetClock(now func() time.Time) { p.now = now }

func (p *Pool) slot(accountID string) *slot {
	p.mu.RLock()
	s, ok := p.slots[accountID]
	p.mu.RUnlock()
	if ok {
		return s
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if s, ok = p.slots[accountID]; !ok {
		s = &slot{}
		p.slots[accountID] = s
	}
	return s
}

// Get returns a connected gateway for the account, connecting if needed.
func (p *Pool) Get(ctx context.Context, accountID string) (Gateway, error) {
	s := p.slot(accountID)
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.gw != nil && s.gw.Connected() {
		return s.gw, nil
	}
	if s.exhausted {
		return nil, fmt.Errorf("%w: %s after %d attempts: %v", ErrExhausted, accountID, s.failures, s.lastErr)
	}
	now := p.now()
	if s.failures > 0 && now.Before(s.retryAt) {
		return nil, fmt.Errorf("%w until %s: %v", ErrBackoff, s.retryAt.UTC().Format(time.RFC3339), s.lastErr)
	}

	if s.gw == nil {
		gw, err := p.dial(accountID)
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", accountID, err)
		}
		if gw == nil {
			return nil, fmt.Errorf("%w: %s", ErrUnknownAccount, accountID)
		}
		s.gw = gw
	}

	cctx := ctx
	if p.cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		cctx, cancel = context.WithTimeout(ctx, p.cfg.ConnectTimeout)
		defer cancel()
	}
	if err := s.gw.Connect(cctx); err != nil {
		s.failures++
		s.lastErr = err
		if p.cfg.Backoff.Exhausted(s.failures) {
			s.exhausted = true
			logs.Errorf("broker connect gave up account=%s attempts=%d err=%v", accountID, s.failures, err)
			return nil, fmt.Errorf("%w: %s after %d attempts: %v", ErrExhausted, accountID, s.failures, err)
		}
		wait := p.cfg.Backoff.Next(s.failures)
		s.retryAt = now.Add(wait)
		logs.Warnf("broker connect failed account=%s attempt=%d retry_in=%s err=%v", accountID, s.failures, wait, err)
		return nil, fmt.Errorf("connect %s: %w", accountID, err)
	}
	if s.failures > 0 {
		logs.Infof("broker reconnected account=%s after %d failures", accountID, s.failures)
	}
	s.failures = 0
	s.lastErr = nil
	return s.gw, nil
}

// Reset clears an account's failure history and drops its gateway so the
// next Get dials afresh. It returns whether the account had given up.
func (p *Pool) Reset(accountID string) bool {
	p.mu.RLock()
	s, ok := p.slots[accountID]
	p.mu.RUnlock()
	if !ok {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	was := s.exhausted
	s.exhausted = false
	s.failures = 0
	s.lastErr = nil
	s.retryAt = time.Time{}
	if s.gw != nil && !s.gw.Connected() {
		s.gw = nil
	}
	return was
}

// ResetExhausted resets every account that reached the attempt cap and
// returns their ids, sorted.
func (p *Pool) ResetExhausted() []string {
	var out []string
	for _, id := range p.Accounts() {
		p.mu.RLock()
		s := p.slots[id]
		p.mu.RUnlock()
		s.mu.Lock()
		gaveUp := s.exhausted
		s.mu.Unlock()
		if gaveUp && p.Reset(id) {
			out = append(out, id)
		}
	}
	return out
}

// Ready reports whether the account currently has a live connection.
func (p *Pool) Ready(accountID string) bool {
	p.mu.RLock()
	s, ok := p.slots[accountID]
	p.mu.RUnlock()
	if !ok {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gw != nil && s.gw.Connected()
}

// Accounts lists accounts the pool has seen, sorted.
func (p *Pool) Accounts() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.slots))
	for id := range p.slots {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Close disconnects every pooled gateway.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	slots := p.slots
	p.slots = make(map[string]*slot)
	p.mu.Unlock()

	var errs []error
	for id, s := range slots {
		s.mu.Lock()
		if s.gw != nil && s.gw.Connected() {
			if err := s.gw.Disconnect(ctx); err != nil {
				errs = append(errs, fmt.Errorf("disconnect %s: %w", id, err))
			}
		}
		s.mu.Unlock()
	}
	return errors.Join(errs...)
}
