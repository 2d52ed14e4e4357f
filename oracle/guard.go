package oracle

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/yanun0323/logs"
	"golang.org/x/time/rate"
)

type GuardConfig struct {
	Timeout       time.Duration `yaml:"timeout" json:"timeout"`
	RatePerMinute float64       `yaml:"rate_per_minute" json:"rate_per_minute"`
	Burst         int           `yaml:"burst" json:"burst"`
}

func DefaultGuardConfig() GuardConfig {
	return GuardConfig{Timeout: 45 * time.Second, RatePerMinute: 20, Burst: 2}
}

// Guard wraps an Oracle so that every failure surfaces as a HOLD decision.
// Decide never returns an error.
type Guard struct {
	inner   Oracle
	timeout time.Duration
	limiter *rate.Limiter

	calls    atomic.Int64
	degraded atomic.Int64
}

func NewGuard(inner Oracle, cfg GuardConfig) *Guard {
	if inner == nil {
		inner = HoldOracle{}
	}
	g := &Guard{inner: inner, timeout: cfg.Timeout}
	if cfg.RatePerMinute > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerMinute/60), burst)
	}
	return g
}

// Calls is the number of requests forwarded to the wrapped oracle.
func (g *Guard) Calls() int64 { return g.calls.Load() }

// Degraded is the number of decisions replaced by HOLD.
func (g *Guard) Degraded() int64 { return g.degraded.Load() }

func (g *Guard) Decide(ctx context.Context, req Request) (Decision, error) {
	if g.limiter != nil && !g.limiter.Allow() {
		return g.hold(req.Symbol, ErrRateLimited), nil
	}

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	g.calls.Add(1)
	d, err := g.call(ctx, req)
	if err != nil {
		return g.hold(req.Symbol, err), nil
	}
	if d.Entry <= 0 {
		d.Entry = req.CurrentPrice
	}
	if err := Validate(d, req.CurrentPrice); err != nil {
		return g.hold(req.Symbol, err), nil
	}
	return sanitizeTargets(d), nil
}

func (g *Guard) call(ctx context.Context, req Request) (d Decision, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("oracle panic: %v", r)
		}
	}()
	return g.inner.Decide(ctx, req)
}

func (g *Guard) hold(symbol string, err error) Decision {
	g.degraded.Add(1)
	logs.Warnf("oracle degraded to HOLD symbol=%s: %v", symbol, err)
	d := Hold(err.Error())
	d.Degraded = true
	return d
}
