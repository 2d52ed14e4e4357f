// Package metrics exposes the engine's Prometheus series:
//
//	autotrader_ticks_total{symbol}
//	autotrader_tick_queue_depth / autotrader_tick_queue_dropped_total
//	autotrader_filter_verdicts_total{symbol,gate}
//	autotrader_oracle_decisions_total{symbol,action,degraded}
//	autotrader_executions_total{account,result}
//	autotrader_order_latency_seconds{account}
//	autotrader_trades_closed_total{account,reason,result}
//	autotrader_realized_pnl{account}
//	autotrader_breaker_tripped{account}
//	autotrader_settings_version
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rustyeddy/autotrader/execution"
	"github.com/rustyeddy/autotrader/filter"
	"github.com/rustyeddy/autotrader/market"
	"github.com/rustyeddy/autotrader/monitor"
	"github.com/rustyeddy/autotrader/oracle"
	"github.com/rustyeddy/autotrader/risk"
)

const namespace = "autotrader"

type Metrics struct {
	reg *prometheus.Registry

	ticks      *prometheus.CounterVec
	verdicts   *prometheus.CounterVec
	decisions  *prometheus.CounterVec
	executions *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	closed     *prometheus.CounterVec
	pnl        *prometheus.GaugeVec
	tripped    *prometheus.GaugeVec
	settings   prometheus.Gauge
}

// New registers every collector on a fresh registry, along with the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Ticks received from price streams.",
		}, []string{"symbol"}),
		verdicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "filter_verdicts_total",
			Help:      "Filter pipeline outcomes; gate is empty for a pass.",
		}, []string{"symbol", "gate"}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "oracle_decisions_total",
			Help:      "Oracle decisions by action.",
		}, []string{"symbol", "action", "degraded"}),
		executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executions_total",
			Help:      "Execution attempts by account and result class.",
		}, []string{"account", "result"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "order_latency_seconds",
			Help:      "Broker order round trip.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15},
		}, []string{"account"}),
		closed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trades_closed_total",
			Help:      "Trades closed by the position monitor.",
		}, []string{"account", "reason", "result"}),
		pnl: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "realized_pnl",
			Help:      "Realized P&L in account currency since start.",
		}, []string{"account"}),
		tripped: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "breaker_tripped",
			Help:      "1 while the account's circuit breaker is tripped.",
		}, []string{"account"}),
		settings: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "settings_version",
			Help:      "Version of the runtime settings in effect.",
		}),
	}
	m.reg.MustRegister(
		m.ticks, m.verdicts, m.decisions, m.executions, m.latency,
		m.closed, m.pnl, m.tripped, m.settings,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// WatchQueue exports the tick queue's depth and drop count.
func (m *Metrics) WatchQueue(q *market.TickQueue) {
	m.reg.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tick_queue_depth",
			Help:      "Ticks waiting for the engine.",
		}, func() float64 { return float64(q.Len()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tick_queue_dropped_total",
			Help:      "Ticks evicted from a full queue.",
		}, func() float64 { return float64(q.Dropped()) }),
	)
}

func (m *Metrics) Tick(t market.Tick) {
	m.ticks.WithLabelValues(market.Normalize(t.Instrument)).Inc()
}

func (m *Metrics) Verdict(v filter.Verdict) {
	m.verdicts.WithLabelValues(v.Symbol, v.Gate).Inc()
}

func (m *Metrics) Decision(symbol string, d oracle.Decision) {
	m.decisions.WithLabelValues(symbol, d.Action.String(), strconv.FormatBool(d.Degraded)).Inc()
}

func (m *Metrics) Execution(r execution.Result) {
	result := "filled"
	if !r.Success {
		result = string(r.Class)
	}
	m.executions.WithLabelValues(r.AccountID, result).Inc()
	if r.Latency > 0 {
		m.latency.WithLabelValues(r.AccountID).Observe(r.Latency.Seconds())
	}
}

func (m *Metrics) Closed(c monitor.Closed) {
	result := "breakeven"
	switch {
	case c.PnL > 0:
		result = "win"
	case c.PnL < 0:
		result = "loss"
	}
	m.closed.WithLabelValues(c.Trade.AccountID, c.Reason, result).Inc()
	m.pnl.WithLabelValues(c.Trade.AccountID).Add(c.PnL)
}

func (m *Metrics) Breaker(st risk.AccountState) {
	v := 0.0
	if st.Tripped() {
		v = 1
	}
	m.tripped.WithLabelValues(st.AccountID).Set(v)
}

func (m *Metrics) SettingsVersion(v int64) { m.settings.Set(float64(v)) }
