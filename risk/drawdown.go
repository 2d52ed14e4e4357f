package risk

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

type Tier string

const (
	TierNormal  Tier = "NORMAL"
	TierCaution Tier = "CAUTION"
	TierDanger  Tier = "DANGER"
	TierStopped Tier = "STOPPED"
)

// TierThreshold enters a tier when either the drawdown or the loss streak
// reaches its value.
type TierThreshold struct {
	DrawdownPct   float64 `json:"drawdown_pct" yaml:"drawdown_pct"`
	Losses        int     `json:"losses" yaml:"losses"`
	Multiplier    float64 `json:"multiplier" yaml:"multiplier"`
	MinConfidence float64 `json:"min_confidence" yaml:"min_confidence"`
}

func (t TierThreshold) hit(dd float64, streak int) bool {
	return (t.DrawdownPct > 0 && dd >= t.DrawdownPct) || (t.Losses > 0 && streak >= t.Losses)
}

type DrawdownConfig struct {
	Window        time.Duration `json:"window" yaml:"window"`
	Cooldown      time.Duration `json:"cooldown" yaml:"cooldown"`
	NormalMinConf float64       `json:"normal_min_confidence" yaml:"normal_min_confidence"`
	Caution       TierThreshold `json:"caution" yaml:"caution"`
	Danger        TierThreshold `json:"danger" yaml:"danger"`
	Stopped       TierThreshold `json:"stopped" yaml:"stopped"`
}

func DefaultDrawdownConfig() DrawdownConfig {
	return DrawdownConfig{
		Window:        7 * 24 * time.Hour,
		Cooldown:      24 * time.Hour,
		NormalMinConf: 60,
		Caution:       TierThreshold{DrawdownPct: 3, Losses: 2, Multiplier: 0.5, MinConfidence: 70},
		Danger:        TierThreshold{DrawdownPct: 6, Losses: 3, Multiplier: 0.25, MinConfidence: 80},
		Stopped:       TierThreshold{DrawdownPct: 10, Losses: 5, Multiplier: 0, MinConfidence: 100},
	}
}

type DrawdownAssessment struct {
	Tier          Tier
	DrawdownPct   float64
	LossStreak    int
	Multiplier    float64
	MinConfidence float64
	Reason        string
	CooldownUntil time.Time
}

type stopWindow struct {
	until time.Time
}

// DrawdownController tiers an account from its trailing trade history. The
// only state it keeps is the STOPPED cooldown per account.
type DrawdownController struct {
	cfg DrawdownConfig

	mu      sync.Mutex
	stopped map[string]stopWindow
}

func NewDrawdownController(cfg DrawdownConfig) *DrawdownController {
	return &DrawdownController{cfg: cfg, stopped: make(map[string]stopWindow)}
}

// Evaluate tiers the account at now. startBalance is the balance at the start
// of the window; results outside the window are ignored.
//
// Once a STOPPED cooldown elapses the account is held at DANGER until it
// books a win; a loss in that state while the STOPPED thresholds are still
// met starts a new cooldown.
func (d *DrawdownController) Evaluate(accountID string, startBalance float64, results []TradeResult, now time.Time) DrawdownAssessment {
	window := trailing(results, now, d.cfg.Window)
	dd, streak := drawdownAndStreak(startBalance, window)
	raw := d.tierFor(dd, streak)

	d.mu.Lock()
	defer d.mu.Unlock()

	sw, stopped := d.stopped[accountID]
	switch {
	case stopped && now.Before(sw.until):
		a := d.assess(TierStopped, dd, streak)
		a.CooldownUntil = sw.until
		a.Reason = fmt.Sprintf("stopped until %s", sw.until.UTC().Format(time.RFC3339))
		return a

	case stopped:
		var won, lost bool
		for _, r := range window {
			if r.ClosedAt.Before(sw.until) {
				continue
			}
			won = won || r.Win()
			lost = lost || r.Loss()
		}
		if won {
			delete(d.stopped, accountID)
			break
		}
		if lost && raw == TierStopped {
			return d.stop(accountID, dd, streak, now)
		}
		a := d.assess(TierDanger, dd, streak)
		a.Reason = "held at DANGER after stop cooldown"
		return a
	}

	if raw == TierStopped {
		return d.stop(accountID, dd, streak, now)
	}
	return d.assess(raw, dd, streak)
}

func (d *DrawdownController) stop(accountID string, dd float64, streak int, now time.Time) DrawdownAssessment {
	until := now.Add(d.cfg.Cooldown)
	d.stopped[accountID] = stopWindow{until: until}
	a := d.assess(TierStopped, dd, streak)
	a.CooldownUntil = until
	return a
}

// ClearStop drops any STOPPED cooldown for the account.
func (d *DrawdownController) ClearStop(accountID string) {
	d.mu.Lock()
	delete(d.stopped, accountID)
	d.mu.Unlock()
}

func (d *DrawdownController) tierFor(dd float64, streak int) Tier {
	switch {
	case d.cfg.Stopped.hit(dd, streak):
		return TierStopped
	case d.cfg.Danger.hit(dd, streak):
		return TierDanger
	case d.cfg.Caution.hit(dd, streak):
		return TierCaution
	default:
		return TierNormal
	}
}

func (d *DrawdownController) assess(t Tier, dd float64, streak int) DrawdownAssessment {
	a := DrawdownAssessment{Tier: t, DrawdownPct: dd, LossStreak: streak}
	switch t {
	case TierStopped:
		a.Multiplier, a.MinConfidence = d.cfg.Stopped.Multiplier, d.cfg.Stopped.MinConfidence
	case TierDanger:
		a.Multiplier, a.MinConfidence = d.cfg.Danger.Multiplier, d.cfg.Danger.MinConfidence
	case TierCaution:
		a.Multiplier, a.MinConfidence = d.cfg.Caution.Multiplier, d.cfg.Caution.MinConfidence
	default:
		a.Multiplier, a.MinConfidence = 1, d.cfg.NormalMinConf
	}
	if t != TierNormal {
		a.Reason = fmt.Sprintf("%s: drawdown %.2f%%, %d losses in a row", t, dd, streak)
	}
	return a
}

func trailing(results []TradeResult, now time.Time, window time.Duration) []TradeResult {
	out := make([]TradeResult, 0, len(results))
	for _, r := range results {
		if r.ClosedAt.After(now) {
			continue
		}
		if window > 0 && r.ClosedAt.Before(now.Add(-window)) {
			continue
		}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ClosedAt.Before(out[j].ClosedAt) })
	return out
}

// drawdownAndStreak walks the equity curve from start and returns the
// peak-to-current drawdown percent and the trailing loss streak. Breakeven
// trades neither extend nor break the streak.
func drawdownAndStreak(start float64, results []TradeResult) (float64, int) {
	equity, peak := start, start
	for _, r := range results {
		equity += r.PnL
		if equity > peak {
			peak = equity
		}
	}
	dd := 0.0
	if peak > 0 && equity < peak {
		dd = (peak - equity) / peak * 100
	}

	streak := 0
	for i := len(results) - 1; i >= 0; i-- {
		if results[i].Win() {
			break
		}
		if results[i].Loss() {
			streak++
		}
	}
	return dd, streak
}
