package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/grafana/pyroscope-go"
	"github.com/rustyeddy/autotrader/broker"
	"github.com/rustyeddy/autotrader/broker/oanda"
	"github.com/rustyeddy/autotrader/broker/sim"
	"github.com/rustyeddy/autotrader/config"
	"github.com/rustyeddy/autotrader/engine"
	"github.com/rustyeddy/autotrader/execution"
	"github.com/rustyeddy/autotrader/filter"
	"github.com/rustyeddy/autotrader/market"
	"github.com/rustyeddy/autotrader/metrics"
	"github.com/rustyeddy/autotrader/monitor"
	"github.com/rustyeddy/autotrader/oracle"
	"github.com/rustyeddy/autotrader/risk"
	"github.com/rustyeddy/autotrader/store"
	"github.com/spf13/cobra"
	"github.com/yanun0323/logs"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the trading engine",
	Long: `Run the trading engine until interrupted.

The engine streams prices from the configured feed, builds candles, runs
the market filter, asks the oracle for a plan and executes approved signals
on every active account. A monitor reconciles open trades with the brokers
and closes stop-loss or take-profit breaches.

Secrets come from the environment: OANDA_TOKEN, ORACLE_API_KEY and
TRADER_STORE_DSN.

Example:
  trader run -f autotrader.yaml`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

type pyroscopeLogger struct{}

func (pyroscopeLogger) Infof(format string, args ...interface{})  { logs.Debugf(format, args...) }
func (pyroscopeLogger) Debugf(format string, args ...interface{}) { logs.Debugf(format, args...) }
func (pyroscopeLogger) Errorf(format string, args ...interface{}) { logs.Errorf(format, args...) }

func startProfiler(cfg config.PyroscopeConfig) (*pyroscope.Profiler, error) {
	return pyroscope.Start(pyroscope.Config{
		ApplicationName: cfg.AppName,
		ServerAddress:   cfg.ServerAddress,
		Tags: map[string]string{
			"version": version,
		},
		Logger: pyroscopeLogger{},
		ProfileTypes: []pyroscope.ProfileType{
			pyroscope.ProfileCPU,
			pyroscope.ProfileAllocObjects,
			pyroscope.ProfileAllocSpace,
			pyroscope.ProfileInuseObjects,
			pyroscope.ProfileInuseSpace,
		},
	})
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Pyroscope.Enabled {
		profiler, err := startProfiler(cfg.Pyroscope)
		if err != nil {
			return fmt.Errorf("start profiler: %w", err)
		}
		defer func() {
			_ = profiler.Stop()
		}()
	}

	st, err := store.Open(cfg.Store)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	accountIDs := make([]string, 0, len(cfg.Accounts))
	for _, a := range cfg.Accounts {
		if err := st.UpsertAccount(ctx, a.TradingAccount()); err != nil {
			return fmt.Errorf("seed account %s: %w", a.ID, err)
		}
		accountIDs = append(accountIDs, a.ID)
	}

	bank := risk.NewBank(cfg.Risk, st)
	states, err := st.RiskStates(ctx)
	if err != nil {
		return fmt.Errorf("load risk state: %w", err)
	}
	bank.Breaker.Load(states)

	m := metrics.New()
	for _, s := range states {
		m.Breaker(s)
	}

	simCfg := cfg.Sim
	if len(simCfg.Symbols) == 0 {
		simCfg.Symbols = cfg.Engine.Symbols
	}
	simEngine := sim.NewEngine(simCfg)
	book := sim.NewBook(simCfg)
	pool := broker.NewPool(cfg.Pool, newDialer(cfg, book))

	agg := market.NewAggregator(market.AggregatorConfig{
		Timeframes: aggregatorTimeframes(cfg.Engine.Timeframe),
	})

	var inner oracle.Oracle = oracle.HoldOracle{}
	switch {
	case cfg.Oracle.HTTP.URL != "":
		h, err := oracle.NewHTTP(cfg.Oracle.HTTP)
		if err != nil {
			return fmt.Errorf("oracle: %w", err)
		}
		inner = h
	case cfg.Oracle.EMACross.Enabled:
		logs.Infof("no oracle url configured; using EMA(%d/%d) cross rules",
			cfg.Oracle.EMACross.FastPeriod, cfg.Oracle.EMACross.SlowPeriod)
		inner = oracle.NewEMACross(cfg.Oracle.EMACross)
	default:
		logs.Warnf("no oracle url configured; every decision is HOLD")
	}
	guard := oracle.NewGuard(inner, cfg.Oracle.Guard)

	router := execution.NewRouter(cfg.Execution, pool, bank, st, agg)
	router.OnResult(m.Execution)
	if err := router.RefreshAccounts(ctx); err != nil {
		return fmt.Errorf("load accounts: %w", err)
	}

	eng := engine.New(cfg.Engine, engine.Deps{
		Aggregator: agg,
		Filter:     filter.New(cfg.Filter),
		Oracle:     guard,
		Bank:       bank,
		Router:     router,
		Pool:       pool,
		Store:      st,
	})
	eng.SetHooks(engine.Hooks{
		Tick: func(t market.Tick) {
			m.Tick(t)
			book.UpdatePrice(t)
		},
		Verdict:  m.Verdict,
		Decision: m.Decision,
		Cycle: func(c engine.Cycle) {
			if len(c.Results) > 0 {
				logs.Infof("cycle symbol=%s signal=%s %s", c.Symbol, c.SignalID, execution.Summary(c.Results))
			}
		},
		Settings: func(s store.Settings) {
			m.SettingsVersion(s.Version)
			if ids := pool.ResetExhausted(); len(ids) > 0 {
				logs.Infof("broker retry re-armed accounts=%v", ids)
			}
			if err := router.RefreshAccounts(ctx); err != nil {
				logs.Warnf("refresh accounts: %v", err)
			}
		},
	})
	m.WatchQueue(eng.Queue())

	mon := monitor.New(cfg.Monitor, pool, st, bank, agg)
	mon.OnClose(func(c monitor.Closed) {
		m.Closed(c)
		if s, ok := bank.Breaker.Snapshot(c.Trade.AccountID); ok {
			m.Breaker(s)
		}
	})

	var feed broker.Gateway
	switch cfg.Feed {
	case "oanda":
		gw, err := oanda.NewGateway(cfg.OANDA)
		if err != nil {
			return fmt.Errorf("oanda feed: %w", err)
		}
		if err := gw.Connect(ctx); err != nil {
			return fmt.Errorf("oanda feed: %w", err)
		}
		if err := eng.Warmup(ctx, gw); err != nil {
			logs.Warnf("warmup: %v", err)
		}
		feed = gw
	default:
		if err := simEngine.Connect(ctx); err != nil {
			return fmt.Errorf("sim feed: %w", err)
		}
		feed = simEngine
	}

	for _, id := range accountIDs {
		if _, err := pool.Get(ctx, id); err != nil {
			logs.Warnf("broker connect account=%s: %v", id, err)
		}
	}

	srv := &http.Server{Addr: cfg.HTTP.Addr, Handler: newMux(m, pool, accountIDs)}
	go func() {
		logs.Infof("serving health and metrics on %s", cfg.HTTP.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logs.Errorf("http server: %v", err)
			stop()
		}
	}()

	var wg sync.WaitGroup
	spawn := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logs.Errorf("%s stopped: %v", name, err)
			}
		}()
	}
	spawn("feed", func(ctx context.Context) error {
		err := eng.Feed(ctx, feed)
		if errors.Is(err, broker.ErrExhausted) {
			// no prices means nothing to trade or monitor
			stop()
		}
		return err
	})
	spawn("engine", eng.Run)
	spawn("monitor", mon.Run)
	spawn("settings", func(ctx context.Context) error {
		eng.FollowSettings(ctx)
		return nil
	})

	logs.Infof("trader running feed=%s symbols=%v timeframe=%s accounts=%d",
		cfg.Feed, cfg.Engine.Symbols, cfg.Engine.Timeframe, len(accountIDs))

	<-ctx.Done()
	logs.Infof("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	wg.Wait()
	if feed != simEngine {
		_ = feed.Disconnect(shutdownCtx)
	}
	if err := pool.Close(shutdownCtx); err != nil {
		logs.Warnf("close brokers: %v", err)
	}
	return nil
}
