package risk

import "math"

type KellyConfig struct {
	MinSamples int     `json:"min_samples" yaml:"min_samples"`
	Safety     float64 `json:"safety" yaml:"safety"`
	CeilingPct float64 `json:"ceiling_pct" yaml:"ceiling_pct"`
	FloorPct   float64 `json:"floor_pct" yaml:"floor_pct"`
	DefaultPct float64 `json:"default_pct" yaml:"default_pct"`
}

func DefaultKellyConfig() KellyConfig {
	return KellyConfig{MinSamples: 20, Safety: 0.5, CeilingPct: 2, FloorPct: 0.25, DefaultPct: 1}
}

const ReasonInsufficientData = "insufficient data"

type KellyResult struct {
	RiskPercent  float64
	Fraction     float64 // raw f*
	WinRate      float64
	WinLossRatio float64
	Samples      int
	Reason       string
}

type KellySizer struct {
	cfg KellyConfig
}

func NewKellySizer(cfg KellyConfig) KellySizer { return KellySizer{cfg: cfg} }

// Size computes f* = W - (1-W)/R from the trailing results. A non-positive
// edge returns exactly 0.
func (k KellySizer) Size(results []TradeResult) KellyResult {
	n := len(results)
	if n < k.cfg.MinSamples || n == 0 {
		return KellyResult{RiskPercent: k.cfg.DefaultPct, Samples: n, Reason: ReasonInsufficientData}
	}

	var wins, losses int
	var sumWin, sumLoss float64
	for _, r := range results {
		switch {
		case r.Win():
			wins++
			sumWin += r.PnL
		case r.Loss():
			losses++
			sumLoss -= r.PnL
		}
	}

	res := KellyResult{Samples: n, WinRate: float64(wins) / float64(n)}
	switch {
	case wins == 0:
		res.Fraction = -1
	case losses == 0:
		res.WinLossRatio = math.Inf(1)
		res.Fraction = res.WinRate
	default:
		res.WinLossRatio = (sumWin / float64(wins)) / (sumLoss / float64(losses))
		res.Fraction = res.WinRate - (1-res.WinRate)/res.WinLossRatio
	}

	if res.Fraction <= 0 {
		res.RiskPercent = 0
		res.Reason = "negative edge"
		return res
	}

	pct := res.Fraction * k.cfg.Safety * 100
	if k.cfg.CeilingPct > 0 {
		pct = math.Min(pct, k.cfg.CeilingPct)
	}
	res.RiskPercent = math.Max(pct, k.cfg.FloorPct)
	return res
}
