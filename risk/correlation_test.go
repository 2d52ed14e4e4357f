package risk

import (
	"testing"

	"github.com/rustyeddy/autotrader/market"
	"github.com/stretchr/testify/assert"
)

func TestCorrelationLookup(t *testing.T) {
	t.Parallel()

	g := NewCorrelationGuard(DefaultCorrelationConfig())
	assert.Equal(t, 0.85, g.Correlation("EUR_USD", "gbp/usd"))
	assert.Equal(t, 0.85, g.Correlation("GBPUSD", "EURUSD"))
	assert.Equal(t, 1.0, g.Correlation("EURUSD", "EURUSD.pro"))
	assert.Zero(t, g.Correlation("EURUSD", "USDTRY"))
}

func TestCorrelationCheck(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		symbol  string
		dir     market.Direction
		open    []Exposure
		allowed bool
		mult    float64
		reason  string
	}{
		{
			name: "no open positions", symbol: "EURUSD", dir: market.Long,
			allowed: true, mult: 1,
		},
		{
			name: "opposes positively correlated", symbol: "EURUSD", dir: market.Long,
			open:    []Exposure{{Symbol: "GBPUSD", Direction: market.Short}},
			allowed: false, reason: "conflicts with open GBPUSD",
		},
		{
			name: "same side of negatively correlated", symbol: "EURUSD", dir: market.Long,
			open:    []Exposure{{Symbol: "USDCHF", Direction: market.Long}},
			allowed: false, reason: "correlation -0.92",
		},
		{
			name: "two USD legs reduce size", symbol: "EURUSD", dir: market.Long,
			open:    []Exposure{{Symbol: "USDCHF", Direction: market.Short}},
			allowed: true, mult: 0.75, reason: "2 same-direction USD legs",
		},
		{
			name: "three USD legs veto", symbol: "EURUSD", dir: market.Long,
			open: []Exposure{
				{Symbol: "GBPUSD", Direction: market.Long},
				{Symbol: "AUDUSD", Direction: market.Long},
			},
			allowed: false, reason: "3 same-direction USD legs",
		},
		{
			name: "uncorrelated pair", symbol: "EURUSD", dir: market.Long,
			open:    []Exposure{{Symbol: "AUDJPY", Direction: market.Short}},
			allowed: true, mult: 1,
		},
	}

	g := NewCorrelationGuard(DefaultCorrelationConfig())
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := g.Check(tt.symbol, tt.dir, tt.open)
			assert.Equal(t, tt.allowed, c.Allowed, c.Reason)
			assert.Equal(t, tt.mult, c.Multiplier)
			assert.Contains(t, c.Reason, tt.reason)
		})
	}
}
