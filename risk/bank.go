package risk

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rustyeddy/autotrader/market"
)

// BankConfig collects the controllers' configuration.
type BankConfig struct {
	Limits      Limits            `json:"limits" yaml:"limits"`
	Breaker     BreakerConfig     `json:"breaker" yaml:"breaker"`
	Drawdown    DrawdownConfig    `json:"drawdown" yaml:"drawdown"`
	Correlation CorrelationConfig `json:"correlation" yaml:"correlation"`
	Kelly       KellyConfig       `json:"kelly" yaml:"kelly"`
}

func DefaultBankConfig() BankConfig {
	return BankConfig{
		Limits:      DefaultLimits(),
		Breaker:     DefaultBreakerConfig(),
		Drawdown:    DefaultDrawdownConfig(),
		Correlation: DefaultCorrelationConfig(),
		Kelly:       DefaultKellyConfig(),
	}
}

type AssessInput struct {
	AccountID  string
	Symbol     string
	Direction  market.Direction
	Confidence float64
	Confluence float64
	Balance    float64
	// StartBalance is the balance at the start of the drawdown window. Zero
	// derives it from Balance minus the window's P&L.
	StartBalance float64
	Results      []TradeResult
	Open         []Exposure
	Now          time.Time
}

type Assessment struct {
	Allowed     bool
	RiskPercent float64
	Reason      string
	Violations  []Violation

	Drawdown             DrawdownAssessment
	Kelly                KellyResult
	Correlation          CorrelationCheck
	ConfidenceMultiplier float64
	ConfluenceBonus      float64
}

func (a *Assessment) veto(code, msg string) Assessment {
	a.Allowed = false
	a.RiskPercent = 0
	a.Reason = msg
	a.Violations = append(a.Violations, Violation{Code: code, Msg: msg})
	return *a
}

// Bank composes the risk controllers into one decision per account and
// trade.
type Bank struct {
	Breaker     *CircuitBreaker
	Drawdown    *DrawdownController
	Correlation *CorrelationGuard
	Kelly       KellySizer

	mu     sync.RWMutex
	limits Limits
}

func NewBank(cfg BankConfig, p StatePersister) *Bank {
	if cfg.Kelly.DefaultPct == 0 {
		cfg.Kelly.DefaultPct = cfg.Limits.DefaultRiskPercent
	}
	return &Bank{
		Breaker:     NewCircuitBreaker(cfg.Breaker, p),
		Drawdown:    NewDrawdownController(cfg.Drawdown),
		Correlation: NewCorrelationGuard(cfg.Correlation),
		Kelly:       NewKellySizer(cfg.Kelly),
		limits:      cfg.Limits,
	}
}

func (b *Bank) Limits() Limits {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.limits
}

// SetLimits applies runtime settings.
func (b *Bank) SetLimits(l Limits) {
	b.mu.Lock()
	b.limits = l
	b.mu.Unlock()
}

// Assess returns the final risk percent for a trade on one account. The
// breaker, correlation guard and a STOPPED drawdown tier veto; otherwise the
// percent is kelly × drawdown × confidence × confluence × correlation, never
// above MaxRiskPercent.
func (b *Bank) Assess(in AssessInput) Assessment {
	lim := b.Limits()
	out := Assessment{Allowed: true, ConfidenceMultiplier: 1, ConfluenceBonus: 1}

	if ok, reason := b.Breaker.CanTrade(in.AccountID, in.Now); !ok {
		return out.veto("BREAKER", reason)
	}

	out.Correlation = b.Correlation.Check(in.Symbol, in.Direction, in.Open)
	if !out.Correlation.Allowed {
		return out.veto("CORRELATION", out.Correlation.Reason)
	}

	start := in.StartBalance
	if start <= 0 {
		start = in.Balance
		for _, r := range trailing(in.Results, in.Now, b.Drawdown.cfg.Window) {
			start -= r.PnL
		}
	}
	out.Drawdown = b.Drawdown.Evaluate(in.AccountID, start, in.Results, in.Now)
	if out.Drawdown.Tier == TierStopped || out.Drawdown.Multiplier <= 0 {
		return out.veto("DRAWDOWN", out.Drawdown.Reason)
	}

	floor := math.Max(lim.MinConfidence, out.Drawdown.MinConfidence)
	mult, ok := ConfidenceMultiplier(in.Confidence, floor)
	if !ok {
		return out.veto("CONFIDENCE", fmt.Sprintf("confidence %.0f below %.0f", in.Confidence, floor))
	}
	out.ConfidenceMultiplier = mult
	out.ConfluenceBonus = ConfluenceBonus(in.Confluence)

	out.Kelly = b.Kelly.Size(in.Results)
	base := out.Kelly.RiskPercent
	if out.Kelly.Reason == ReasonInsufficientData && lim.DefaultRiskPercent > 0 {
		base = lim.DefaultRiskPercent
		out.Kelly.RiskPercent = base
	}
	if base <= 0 {
		return out.veto("KELLY", "kelly: "+out.Kelly.Reason)
	}

	pct := base * out.Drawdown.Multiplier * mult * out.ConfluenceBonus * out.Correlation.Multiplier
	if lim.MaxRiskPercent > 0 && pct > lim.MaxRiskPercent {
		pct = lim.MaxRiskPercent
		out.Reason = fmt.Sprintf("capped at %.2f%%", lim.MaxRiskPercent)
	}
	out.RiskPercent = pct
	return out
}

// Record feeds a closed trade to the breaker.
func (b *Bank) Record(r TradeResult, balanceAfter float64) AccountState {
	return b.Breaker.RecordResult(r.AccountID, r.PnL, balanceAfter, r.ClosedAt)
}
