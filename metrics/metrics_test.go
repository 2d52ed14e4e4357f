package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rustyeddy/autotrader/execution"
	"github.com/rustyeddy/autotrader/filter"
	"github.com/rustyeddy/autotrader/market"
	"github.com/rustyeddy/autotrader/monitor"
	"github.com/rustyeddy/autotrader/oracle"
	"github.com/rustyeddy/autotrader/risk"
	"github.com/rustyeddy/autotrader/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	t.Parallel()

	m := New()

	m.Tick(market.Tick{Instrument: "EUR_USD"})
	m.Tick(market.Tick{Instrument: "EURUSD"})
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ticks.WithLabelValues("EURUSD")))

	m.Verdict(filter.Verdict{Symbol: "EURUSD", Gate: filter.GateMomentum})
	m.Verdict(filter.Verdict{Symbol: "EURUSD", Passed: true})
	assert.Equal(t, 1.0, testutil.ToFloat64(m.verdicts.WithLabelValues("EURUSD", "momentum")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.verdicts.WithLabelValues("EURUSD", "")))

	d := oracle.Hold("rate limited")
	d.Degraded = true
	m.Decision("EURUSD", d)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.decisions.WithLabelValues("EURUSD", "HOLD", "true")))

	m.Execution(execution.Result{AccountID: "a", Success: true, Latency: 120 * time.Millisecond})
	m.Execution(execution.Result{AccountID: "a", Class: execution.ClassMaxPositions})
	assert.Equal(t, 1.0, testutil.ToFloat64(m.executions.WithLabelValues("a", "filled")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.executions.WithLabelValues("a", "max_positions")))

	m.Closed(monitor.Closed{Trade: store.Trade{AccountID: "a"}, PnL: 20, Reason: monitor.ReasonTakeProfit})
	m.Closed(monitor.Closed{Trade: store.Trade{AccountID: "a"}, PnL: -5, Reason: monitor.ReasonStopLoss})
	assert.Equal(t, 15.0, testutil.ToFloat64(m.pnl.WithLabelValues("a")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.closed.WithLabelValues("a", "stop_loss", "loss")))

	m.Breaker(risk.AccountState{AccountID: "a", State: risk.BreakerTripped})
	assert.Equal(t, 1.0, testutil.ToFloat64(m.tripped.WithLabelValues("a")))
	m.Breaker(risk.AccountState{AccountID: "a", State: risk.BreakerNormal})
	assert.Equal(t, 0.0, testutil.ToFloat64(m.tripped.WithLabelValues("a")))
}

func TestHandlerServesQueueGauges(t *testing.T) {
	t.Parallel()

	m := New()
	q := market.NewTickQueue(1)
	m.WatchQueue(q)
	q.Push(market.Tick{Instrument: "EURUSD"})
	q.Push(market.Tick{Instrument: "EURUSD"})
	m.SettingsVersion(7)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), "autotrader_tick_queue_depth 1")
	assert.Contains(t, string(body), "autotrader_tick_queue_dropped_total 1")
	assert.Contains(t, string(body), "autotrader_settings_version 7")
}
