package risk

import (
	"testing"

	"github.com/rustyeddy/autotrader/market"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipSize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		loc  int
		want float64
	}{
		{"zero", 0, 1},
		{"negative2", -2, 0.01},
		{"positive1", 1, 10},
		{"negative4", -4, 0.0001},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := pipSize(tt.loc)
			assert.InDelta(t, tt.want, got, 1e-12)
		})
	}
}

func TestCalculate_SimpleUSDQuote(t *testing.T) {
	t.Parallel()

	in := Inputs{
		Equity:         10000,
		RiskPct:        0.01,
		EntryPrice:     1.2000,
		StopPrice:      1.1900,
		PipLocation:    -4,
		QuoteToAccount: 1.0,
	}

	got := Calculate(in)

	assert.InDelta(t, 100.0, got.StopPips, 1e-9)
	assert.InDelta(t, 100.0, got.RiskAmount, 1e-9)
	assert.InDelta(t, 10000.0, got.Units, 1.0)
}

func TestCalculate_NonUSDQuoteConversion(t *testing.T) {
	t.Parallel()

	in := Inputs{
		Equity:         5000,
		RiskPct:        0.02,
		EntryPrice:     150.00,
		StopPrice:      149.50,
		PipLocation:    -2,
		QuoteToAccount: 0.0091,
	}

	got := Calculate(in)

	assert.InDelta(t, 50.0, got.StopPips, 1e-9)
	assert.InDelta(t, 100.0, got.RiskAmount, 1e-9)
	assert.InDelta(t, 21978.0, got.Units, 1.0)
}

func TestCalculate_StopAboveEntry(t *testing.T) {
	t.Parallel()

	in := Inputs{
		Equity:         2000,
		RiskPct:        0.005,
		EntryPrice:     1.0000,
		StopPrice:      1.0100,
		PipLocation:    -4,
		QuoteToAccount: 1.0,
	}

	got := Calculate(in)

	assert.InDelta(t, 100.0, got.StopPips, 1e-9)
	assert.InDelta(t, 10.0, got.RiskAmount, 1e-9)
	assert.InDelta(t, 1000.0, got.Units, 1.0)
}

func meta(t *testing.T, sym string) market.InstrumentMeta {
	t.Helper()
	m, ok := market.Lookup(sym)
	require.True(t, ok, sym)
	return m
}

func TestPositionSize(t *testing.T) {
	t.Parallel()

	caps := DefaultLotCaps()

	t.Run("usd quote", func(t *testing.T) {
		t.Parallel()
		r, err := PositionSize(SizeInput{
			Meta: meta(t, "EURUSD"), Balance: 10000, RiskPercent: 1,
			Entry: 1.1000, Stop: 1.0950, QuoteToAccount: 1, Caps: caps,
		})
		require.NoError(t, err)
		assert.InDelta(t, 50.0, r.StopPips, 1e-6)
		assert.InDelta(t, 100.0, r.RiskAmount, 1e-9)
		assert.InDelta(t, 0.2, r.Lots, 0.0101)
		assert.False(t, r.Capped)
	})

	t.Run("jpy quote converts pip value", func(t *testing.T) {
		t.Parallel()
		r, err := PositionSize(SizeInput{
			Meta: meta(t, "USD_JPY"), Balance: 10000, RiskPercent: 1,
			Entry: 150.00, Stop: 149.50, QuoteToAccount: 1.0 / 150, Caps: caps,
		})
		require.NoError(t, err)
		assert.InDelta(t, 50.0, r.StopPips, 1e-6)
		assert.InDelta(t, 0.3, r.Lots, 0.0101)
	})

	t.Run("gold is capped separately", func(t *testing.T) {
		t.Parallel()
		r, err := PositionSize(SizeInput{
			Meta: meta(t, "GOLD"), Balance: 1_000_000, RiskPercent: 2,
			Entry: 2000, Stop: 1990, QuoteToAccount: 1, Caps: caps,
		})
		require.NoError(t, err)
		assert.True(t, r.Capped)
		assert.Equal(t, 2.0, r.Lots)
		assert.Equal(t, 200.0, r.Units)
	})

	t.Run("crypto sizes from stop percent", func(t *testing.T) {
		t.Parallel()
		r, err := PositionSize(SizeInput{
			Meta: meta(t, "BTCUSDT"), Balance: 10000, RiskPercent: 1,
			Entry: 60000, Stop: 58800, QuoteToAccount: 1, Leverage: 2, Caps: caps,
		})
		require.NoError(t, err)
		assert.InDelta(t, 2.0, r.StopPct, 1e-9)
		assert.InDelta(t, 0.08, r.Lots, 1e-9)
		assert.False(t, r.Capped)
	})

	t.Run("crypto notional capped by leverage", func(t *testing.T) {
		t.Parallel()
		r, err := PositionSize(SizeInput{
			Meta: meta(t, "BTCUSD"), Balance: 10000, RiskPercent: 1,
			Entry: 60000, Stop: 59940, QuoteToAccount: 1, Leverage: 2, Caps: caps,
		})
		require.NoError(t, err)
		assert.True(t, r.Capped)
		assert.InDelta(t, 0.33, r.Lots, 1e-9)
	})

	t.Run("below minimum lot", func(t *testing.T) {
		t.Parallel()
		_, err := PositionSize(SizeInput{
			Meta: meta(t, "EURUSD"), Balance: 100, RiskPercent: 1,
			Entry: 1.1000, Stop: 1.0950, QuoteToAccount: 1, Caps: caps,
		})
		require.ErrorIs(t, err, ErrSizeTooSmall)
	})

	t.Run("missing stop", func(t *testing.T) {
		t.Parallel()
		_, err := PositionSize(SizeInput{Meta: meta(t, "EURUSD"), Balance: 100, RiskPercent: 1, Entry: 1.1, Stop: 1.1})
		require.ErrorIs(t, err, ErrNoStop)
		_, err = PositionSize(SizeInput{Meta: meta(t, "EURUSD"), RiskPercent: 1, Entry: 1.1, Stop: 1.09})
		require.ErrorIs(t, err, ErrNoBalance)
	})
}

func TestCheckPlan(t *testing.T) {
	t.Parallel()

	plan := Plan{Units: 20000, Entry: 1.1, Stop: 1.095, TakeProfit: 1.11, QuoteToAccount: 1, MarginRate: 0.02}
	acct := AccountSnapshot{Balance: 10000, Equity: 10000}

	d := CheckPlan(PlanPolicy{MaxRiskPct: 0.02, MinRR: 1.5, MaxMarginPct: 0.5}, plan, acct)
	require.True(t, d.Allowed, d.Reason())
	assert.InDelta(t, 100.0, d.PlannedLoss, 1e-6)
	assert.InDelta(t, 0.01, d.PlannedRiskPct, 1e-9)
	assert.InDelta(t, 2.0, d.PlannedRR, 1e-6)

	d = CheckPlan(PlanPolicy{MaxRiskPct: 0.005, MinRR: 3, MaxMarginPct: 0.03}, plan, acct)
	assert.False(t, d.Allowed)
	codes := []string{}
	for _, v := range d.Violations {
		codes = append(codes, v.Code)
	}
	assert.Equal(t, []string{"RISK_TOO_HIGH", "RR_TOO_LOW", "MARGIN_TOO_HIGH"}, codes)

	plan.Stop = 0
	d = CheckPlan(PlanPolicy{}, plan, acct)
	assert.False(t, d.Allowed)
	assert.Equal(t, "NO_STOP_OR_ENTRY", d.Violations[0].Code)
}
