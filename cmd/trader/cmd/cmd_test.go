package cmd

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rustyeddy/autotrader/broker"
	"github.com/rustyeddy/autotrader/broker/oanda"
	"github.com/rustyeddy/autotrader/broker/sim"
	"github.com/rustyeddy/autotrader/config"
	"github.com/rustyeddy/autotrader/market"
	"github.com/rustyeddy/autotrader/metrics"
	"github.com/rustyeddy/autotrader/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Accounts = append(cfg.Accounts,
		config.AccountConfig{ID: "O1", Broker: "oanda", BrokerAccountID: "101-004-1", Currency: "USD", Active: true},
		config.AccountConfig{ID: "X1", Broker: "mt5", Currency: "USD", Active: true},
	)
	return cfg
}

func TestDialer(t *testing.T) {
	cfg := testConfig()
	cfg.Accounts = append(cfg.Accounts,
		config.AccountConfig{ID: "SIM-002", Broker: "sim", Currency: "EUR", Leverage: 30, Active: true})
	book := sim.NewBook(cfg.Sim)
	dial := newDialer(cfg, book)

	gw, err := dial("SIM-001")
	require.NoError(t, err)
	first, ok := gw.(*sim.Engine)
	require.True(t, ok)
	again, err := dial("SIM-001")
	require.NoError(t, err)
	assert.Same(t, first, again)

	// every sim account has its own book of positions
	gw, err = dial("SIM-002")
	require.NoError(t, err)
	assert.NotSame(t, first, gw)
	require.NoError(t, gw.Connect(context.Background()))
	info, err := gw.AccountInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "EUR", info.Currency)
	assert.Equal(t, 30.0, info.Leverage)
	assert.Len(t, book.Accounts(), 2)

	gw, err = dial("O1")
	require.NoError(t, err)
	assert.IsType(t, &oanda.Gateway{}, gw)

	_, err = dial("X1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown broker "mt5"`)

	gw, err = dial("missing")
	assert.NoError(t, err)
	assert.Nil(t, gw)

	pool := broker.NewPool(broker.DefaultPoolConfig(), dial)
	_, err = pool.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, broker.ErrUnknownAccount)
}

func TestAggregatorTimeframes(t *testing.T) {
	assert.Equal(t, []market.Timeframe{market.M1, market.M5, market.M15, market.H1}, aggregatorTimeframes(market.M15))
	assert.Equal(t, []market.Timeframe{market.M1, market.M5, market.M15, market.H1, market.H4}, aggregatorTimeframes(market.H4))
}

func TestMux(t *testing.T) {
	cfg := config.Default()
	pool := broker.NewPool(cfg.Pool, newDialer(cfg, sim.NewBook(cfg.Sim)))
	srv := httptest.NewServer(newMux(metrics.New(), pool, []string{"SIM-001"}))
	defer srv.Close()

	get := func(path string) (int, string) {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		return resp.StatusCode, string(body)
	}

	code, body := get("/healthz")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok\n", body)

	code, body = get("/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Contains(t, body, "down=SIM-001")

	_, err := pool.Get(context.Background(), "SIM-001")
	require.NoError(t, err)
	code, body = get("/readyz")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "ready=SIM-001")

	code, body = get("/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "go_goroutines")
}

func TestHistorySummary(t *testing.T) {
	trades := []store.Trade{{PnL: 30}, {PnL: -10}, {PnL: 20}, {PnL: -10}}
	assert.Equal(t, "4 trades, 2 wins (50%), net 30.00, profit factor 2.50", historySummary(trades))

	assert.Equal(t, "1 trades, 1 wins (100%), net 5.00, profit factor n/a", historySummary([]store.Trade{{PnL: 5}}))
}

func TestConfigCommands(t *testing.T) {
	path := filepath.Join(t.TempDir(), "autotrader.yaml")

	rootCmd.SetArgs([]string{"config", "init", "-o", path})
	require.NoError(t, rootCmd.Execute())

	rootCmd.SetArgs([]string{"config", "validate", "-f", path})
	require.NoError(t, rootCmd.Execute())

	cfg, err := config.LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, config.Default().Engine.Symbols, cfg.Engine.Symbols)
	configPath = ""
}

func TestSettingsAndBreakerCommands(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Store.Path = filepath.Join(dir, "trader.db")
	path := filepath.Join(dir, "autotrader.yaml")
	require.NoError(t, cfg.SaveToFile(path))
	defer func() { configPath = "" }()

	rootCmd.SetArgs([]string{"settings", "set", "-f", path, "--trading=false", "--max-positions", "2"})
	require.NoError(t, rootCmd.Execute())

	rootCmd.SetArgs([]string{"breaker", "reset", "-f", path, "SIM-001"})
	require.NoError(t, rootCmd.Execute())

	st, err := store.Open(cfg.Store)
	require.NoError(t, err)
	defer st.Close()

	s, err := st.Settings(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), s.Version)
	assert.False(t, s.TradingEnabled)
	assert.Equal(t, 2, s.MaxOpenPositions)
	assert.Equal(t, cfg.Risk.Limits.DefaultRiskPercent, s.RiskPercent)
	assert.Equal(t, cfg.Engine.AnalysisInterval, s.AnalysisInterval)

	states, err := st.RiskStates(context.Background())
	require.NoError(t, err)
	require.Len(t, states, 1)
	assert.Equal(t, "SIM-001", states[0].AccountID)
	assert.False(t, states[0].Tripped())
}

func TestDataFetch(t *testing.T) {
	start := time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		assert.Equal(t, "/v3/instruments/EUR_USD/candles", r.URL.Path)
		assert.Equal(t, "M5", r.URL.Query().Get("granularity"))
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("from") != start.Format(time.RFC3339) {
			_, _ = io.WriteString(w, `{"candles":[]}`)
			return
		}
		candle := `{"complete":true,"time":"%s","volume":10,"mid":{"o":"1.1000","h":"1.1010","l":"1.0990","c":"1.1005"}}`
		_, _ = fmt.Fprintf(w, `{"instrument":"EUR_USD","granularity":"M5","candles":[%s,%s]}`,
			fmt.Sprintf(candle, start.Format(time.RFC3339)),
			fmt.Sprintf(candle, start.Add(5*time.Minute).Format(time.RFC3339)))
	}))
	defer srv.Close()

	dir := t.TempDir()
	cfg := config.Default()
	cfg.OANDA.BaseURL = srv.URL
	path := filepath.Join(dir, "autotrader.yaml")
	require.NoError(t, cfg.SaveToFile(path))
	out := filepath.Join(dir, "ticks.csv")
	t.Setenv(config.EnvOandaToken, "tok")
	defer func() { configPath = "" }()

	rootCmd.SetArgs([]string{"data", "fetch", "-f", path, "--symbol", "EURUSD", "--timeframe", "M5",
		"--from", start.Format(time.RFC3339), "--to", start.Add(time.Hour).Format(time.RFC3339), "--out", out})
	require.NoError(t, rootCmd.Execute())
	assert.Equal(t, 2, calls)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 9)
	assert.Equal(t, "time,instrument,bid,ask", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "2024-01-02T10:00:00Z,EURUSD,"))
	assert.True(t, strings.HasPrefix(lines[8], "2024-01-02T10:08:45Z,EURUSD,"))
}
