package store

import (
	"testing"
	"time"

	"github.com/rustyeddy/autotrader/market"
	"github.com/rustyeddy/autotrader/risk"
	"github.com/stretchr/testify/assert"
)

func TestPostgresDSN(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		opt  PostgresOption
		want string
	}{
		{"defaults", PostgresOption{}, "postgres://localhost:5432?sslmode=disable"},
		{"conn string wins", PostgresOption{ConnString: "postgres://u@db/x", Host: "ignored"}, "postgres://u@db/x"},
		{
			"full",
			PostgresOption{Host: "db", Port: 6543, User: "trader", Password: "p@ss", Database: "autotrader", SSLMode: "require", Params: map[string]string{"application_name": "autotrader", "": "skip"}},
			"postgres://trader:p%40ss@db:6543/autotrader?application_name=autotrader&sslmode=require",
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.opt.dsn())
		})
	}
}

func TestPostgresModelsRoundTrip(t *testing.T) {
	t.Parallel()

	tr := openTrade("T1", "A1", "P1")
	tr.Status = TradeClosed
	tr.ClosedAt = t0.Add(time.Hour)
	tr.Direction = market.Short
	assert.Equal(t, tr, toTradeModel(tr).trade())

	open := openTrade("T2", "A1", "P2")
	open.Status = TradeOpen
	m := toTradeModel(open)
	assert.Nil(t, m.ClosedAt)
	assert.Equal(t, "BUY", m.Direction)

	sig := Signal{ID: "S1", Symbol: "XAUUSD", Direction: market.Long, Confidence: 80, TakeProfits: [3]float64{1, 2, 3}, Status: SignalWon, CreatedAt: t0, ResolvedAt: t0.Add(time.Hour)}
	assert.Equal(t, sig, toSignalModel(sig).signal())

	st := risk.AccountState{AccountID: "A1", State: risk.BreakerTripped, ConsecutiveLosses: 3, TrippedAt: t0, UpdatedAt: t0}
	assert.Equal(t, st, toRiskStateModel(st).state())
}
