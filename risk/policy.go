package risk

// Limits are the runtime-adjustable risk settings.
type Limits struct {
	// DefaultRiskPercent is used when Kelly has too little history.
	DefaultRiskPercent float64 `json:"default_risk_percent" yaml:"default_risk_percent"`
	// MaxRiskPercent is the hard ceiling on any final risk percent.
	MaxRiskPercent float64 `json:"max_risk_percent" yaml:"max_risk_percent"`
	MinConfidence  float64 `json:"min_confidence" yaml:"min_confidence"`
}

func DefaultLimits() Limits {
	return Limits{DefaultRiskPercent: 1, MaxRiskPercent: 2, MinConfidence: 60}
}

// PlanPolicy bounds a sized order before it is sent.
type PlanPolicy struct {
	MaxRiskPct   float64 `json:"max_risk_pct" yaml:"max_risk_pct"` // fraction of equity, 0.02 == 2%
	MinRR        float64 `json:"min_rr" yaml:"min_rr"`
	MaxMarginPct float64 `json:"max_margin_pct" yaml:"max_margin_pct"` // fraction of equity
}

// Plan is a fully sized order about to be placed.
type Plan struct {
	Units          float64
	Entry          float64
	Stop           float64
	TakeProfit     float64
	QuoteToAccount float64
	MarginRate     float64
}

type AccountSnapshot struct {
	Balance    float64
	Equity     float64
	MarginUsed float64
	OpenTrades int
}
