package risk

import (
	"math/rand"
	"testing"
	"time"

	"github.com/rustyeddy/autotrader/market"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func assessIn() AssessInput {
	return AssessInput{
		AccountID:  "acc",
		Symbol:     "EURUSD",
		Direction:  market.Long,
		Confidence: 75,
		Confluence: 50,
		Balance:    10000,
		Now:        t0,
	}
}

func TestBankDefaultRisk(t *testing.T) {
	t.Parallel()

	b := NewBank(DefaultBankConfig(), nil)
	a := b.Assess(assessIn())
	require.True(t, a.Allowed, a.Reason)
	assert.Equal(t, 1.0, a.RiskPercent)
	assert.Equal(t, ReasonInsufficientData, a.Kelly.Reason)
	assert.Equal(t, TierNormal, a.Drawdown.Tier)
	assert.Equal(t, 1.0, a.ConfidenceMultiplier)
}

func TestBankNeverExceedsCeiling(t *testing.T) {
	t.Parallel()

	b := NewBank(DefaultBankConfig(), nil)
	b.SetLimits(Limits{DefaultRiskPercent: 2, MaxRiskPercent: 2, MinConfidence: 60})

	in := assessIn()
	in.Confidence = 95
	in.Confluence = 90
	a := b.Assess(in)
	require.True(t, a.Allowed)
	assert.Equal(t, 2.0, a.RiskPercent)
	assert.Contains(t, a.Reason, "capped")

	rng := rand.New(rand.NewSource(3))
	for i := 0; i < 200; i++ {
		lim := Limits{
			DefaultRiskPercent: 0.25 + rng.Float64()*5,
			MaxRiskPercent:     0.5 + rng.Float64()*2,
			MinConfidence:      60,
		}
		b.SetLimits(lim)
		in.Confidence = 60 + rng.Float64()*40
		in.Confluence = rng.Float64() * 100
		a := b.Assess(in)
		assert.LessOrEqual(t, a.RiskPercent, lim.MaxRiskPercent)
	}
}

func TestBankVetoes(t *testing.T) {
	t.Parallel()

	alternating := make([]TradeResult, 40)
	for i := range alternating {
		pnl := 5.0
		if i%2 == 1 {
			pnl = -10
		}
		alternating[i] = result(pnl, t0.Add(-time.Duration(40-i)*time.Minute))
	}

	tests := []struct {
		name  string
		setup func(b *Bank)
		in    func(in *AssessInput)
		code  string
	}{
		{
			name: "breaker tripped",
			setup: func(b *Bank) {
				for i := 0; i < 3; i++ {
					b.Record(result(-10, t0.Add(-time.Minute)), 9990)
				}
			},
			code: "BREAKER",
		},
		{
			name: "correlated conflict",
			in: func(in *AssessInput) {
				in.Open = []Exposure{{Symbol: "GBPUSD", Direction: market.Short}}
			},
			code: "CORRELATION",
		},
		{
			name: "drawdown stopped",
			in: func(in *AssessInput) {
				in.Balance = 8900
				in.Results = []TradeResult{result(-1100, t0.Add(-time.Hour))}
			},
			code: "DRAWDOWN",
		},
		{
			name: "low confidence",
			in:   func(in *AssessInput) { in.Confidence = 50 },
			code: "CONFIDENCE",
		},
		{
			name: "negative edge",
			in:   func(in *AssessInput) { in.Results = alternating },
			code: "KELLY",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			b := NewBank(DefaultBankConfig(), nil)
			if tt.setup != nil {
				tt.setup(b)
			}
			in := assessIn()
			if tt.in != nil {
				tt.in(&in)
			}
			a := b.Assess(in)
			assert.False(t, a.Allowed)
			assert.Zero(t, a.RiskPercent)
			require.Len(t, a.Violations, 1)
			assert.Equal(t, tt.code, a.Violations[0].Code, a.Reason)
		})
	}
}

func TestBankDrawdownRaisesConfidenceFloor(t *testing.T) {
	t.Parallel()

	b := NewBank(DefaultBankConfig(), nil)
	in := assessIn()
	in.Balance = 9980
	in.Results = []TradeResult{result(-10, t0.Add(-2*time.Hour)), result(-10, t0.Add(-time.Hour))}
	in.Confidence = 65

	a := b.Assess(in)
	assert.False(t, a.Allowed)
	assert.Contains(t, a.Reason, "below 70")

	in.Confidence = 75
	a = b.Assess(in)
	require.True(t, a.Allowed, a.Reason)
	assert.Equal(t, TierCaution, a.Drawdown.Tier)
	assert.InDelta(t, 0.5, a.RiskPercent, 1e-9)
}
