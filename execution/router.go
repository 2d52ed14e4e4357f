package execution

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rustyeddy/autotrader/broker"
	"github.com/rustyeddy/autotrader/market"
	"github.com/rustyeddy/autotrader/pkg/id"
	"github.com/rustyeddy/autotrader/risk"
	"github.com/rustyeddy/autotrader/store"
	"github.com/yanun0323/logs"
)

type Config struct {
	// OrderTimeout bounds the OpenOrder call.
	OrderTimeout time.Duration `json:"order_timeout" yaml:"order_timeout"`
	// AccountTimeout bounds one account's whole attempt.
	AccountTimeout time.Duration `json:"account_timeout" yaml:"account_timeout"`
	// MaxOpenPositions applies when the account sets none.
	MaxOpenPositions int             `json:"max_open_positions" yaml:"max_open_positions"`
	HistoryWindow    time.Duration   `json:"history_window" yaml:"history_window"`
	Caps             risk.LotCaps    `json:"lot_caps" yaml:"lot_caps"`
	Policy           risk.PlanPolicy `json:"policy" yaml:"policy"`
	Comment          string          `json:"comment" yaml:"comment"`
}

func DefaultConfig() Config {
	return Config{
		OrderTimeout:     15 * time.Second,
		AccountTimeout:   30 * time.Second,
		MaxOpenPositions: 3,
		HistoryWindow:    7 * 24 * time.Hour,
		Caps:             risk.DefaultLotCaps(),
		Policy:           risk.PlanPolicy{MaxRiskPct: 0.03, MaxMarginPct: 0.5},
		Comment:          "autotrader",
	}
}

// Router places orders across trading accounts. Every account runs on its
// own goroutine; one account's failure never affects another's.
type Router struct {
	cfg    Config
	pool   *broker.Pool
	bank   *risk.Bank
	store  store.Store
	quotes market.Quoter
	now    func() time.Time

	maxOpen atomic.Int64

	accMu    sync.RWMutex
	accounts []store.TradingAccount

	flightMu sync.Mutex
	inFlight map[string]struct{}

	obsMu    sync.RWMutex
	observer func(Result)
}

func NewRouter(cfg Config, pool *broker.Pool, bank *risk.Bank, st store.Store, quotes market.Quoter) *Router {
	if cfg.Caps == (risk.LotCaps{}) {
		cfg.Caps = risk.DefaultLotCaps()
	}
	r := &Router{
		cfg:      cfg,
		pool:     pool,
		bank:     bank,
		store:    st,
		quotes:   quotes,
		now:      time.Now,
		inFlight: make(map[string]struct{}),
	}
	r.maxOpen.Store(int64(cfg.MaxOpenPositions))
	return r
}

func (r *Router) SetClock(now func() time.Time) { r.now = now }

// OnResult registers a callback run for every result.
func (r *Router) OnResult(fn func(Result)) {
	r.obsMu.Lock()
	r.observer = fn
	r.obsMu.Unlock()
}

// SetMaxOpenPositions applies a runtime setting. Zero keeps the current
// value.
func (r *Router) SetMaxOpenPositions(n int) {
	if n > 0 {
		r.maxOpen.Store(int64(n))
	}
}

func (r *Router) MaxOpenPositions() int { return int(r.maxOpen.Load()) }

// RefreshAccounts reloads the account list from the store.
func (r *Router) RefreshAccounts(ctx context.Context) error {
	accounts, err := r.store.Accounts(ctx)
	if err != nil {
		return err
	}
	r.accMu.Lock()
	r.accounts = accounts
	r.accMu.Unlock()
	return nil
}

func (r *Router) Accounts() []store.TradingAccount {
	r.accMu.RLock()
	defer r.accMu.RUnlock()
	return append([]store.TradingAccount(nil), r.accounts...)
}

// Execute attempts the order on every active, unfrozen account and returns
// one result per attempt, ordered by account id.
func (r *Router) Execute(ctx context.Context, o Order) []Result {
	accounts := r.Accounts()
	if len(accounts) == 0 {
		if err := r.RefreshAccounts(ctx); err != nil {
			logs.Errorf("load accounts: %v", err)
		}
		accounts = r.Accounts()
	}

	eligible := accounts[:0:0]
	for _, a := range accounts {
		if a.Tradeable() {
			eligible = append(eligible, a)
		}
	}
	sort.Slice(eligible, func(i, j int) bool { return eligible[i].ID < eligible[j].ID })

	results := make([]Result, len(eligible))
	var wg sync.WaitGroup
	for i, a := range eligible {
		wg.Add(1)
		go func(i int, a store.TradingAccount) {
			defer wg.Done()
			actx := ctx
			if r.cfg.AccountTimeout > 0 {
				var cancel context.CancelFunc
				actx, cancel = context.WithTimeout(ctx, r.cfg.AccountTimeout)
				defer cancel()
			}
			results[i] = r.ExecuteOnAccount(actx, a, o)
		}(i, a)
	}
	wg.Wait()
	return results
}

func inFlightKey(accountID, symbol string) string {
	return accountID + "|" + market.Normalize(symbol)
}

func (r *Router) acquire(key string) bool {
	r.flightMu.Lock()
	defer r.flightMu.Unlock()
	if _, busy := r.inFlight[key]; busy {
		return false
	}
	r.inFlight[key] = struct{}{}
	return true
}

func (r *Router) release(key string) {
	r.flightMu.Lock()
	delete(r.inFlight, key)
	r.flightMu.Unlock()
}

// ExecuteOnAccount runs one attempt: breaker, connection, symbol, balance,
// position limits, duplicates, risk and sizing, then the order itself. The
// attempt is persisted whatever the outcome.
func (r *Router) ExecuteOnAccount(ctx context.Context, acct store.TradingAccount, o Order) Result {
	now := r.now()
	symbol := market.Normalize(o.Symbol)
	res := Result{AccountID: acct.ID, TradeID: id.NewAt(now)}

	key := inFlightKey(acct.ID, symbol)
	if !r.acquire(key) {
		res = res.failed(ClassDuplicatePosition, fmt.Errorf("%s order already in flight on %s", symbol, acct.ID))
		return r.finish(ctx, acct, o, res, now)
	}
	defer r.release(key)

	res = r.guardedAttempt(ctx, acct, o, symbol, res, now)
	return r.finish(ctx, acct, o, res, now)
}

// guardedAttempt turns a panic inside a gateway adapter into a failed
// result for this account only.
func (r *Router) guardedAttempt(ctx context.Context, acct store.TradingAccount, o Order, symbol string, res Result, now time.Time) (out Result) {
	defer func() {
		if p := recover(); p != nil {
			logs.Errorf("execution panic account=%s symbol=%s: %v", acct.ID, symbol, p)
			out = res.failed(ClassOrderRejected, fmt.Errorf("panic: %v", p))
		}
	}()
	return r.attempt(ctx, acct, o, symbol, res, now)
}

func (r *Router) attempt(ctx context.Context, acct store.TradingAccount, o Order, symbol string, res Result, now time.Time) Result {
	meta, ok := market.Lookup(symbol)
	if !ok {
		return res.failed(ClassSymbolUnavailable, fmt.Errorf("unknown instrument %q", o.Symbol))
	}
	if o.Direction == market.Flat {
		return res.failed(ClassOrderRejected, fmt.Errorf("no direction"))
	}

	// a. breaker
	if ok, reason := r.bank.Breaker.CanTrade(acct.ID, now); !ok {
		return res.failed(ClassRiskBlocked, fmt.Errorf("%s", reason))
	}

	// b. connection
	gw, err := r.pool.Get(ctx, acct.ID)
	if err != nil {
		return res.failed(ClassBrokerUnavailable, err)
	}

	// c. symbol
	tradeable, err := gw.TradeableSymbols(ctx)
	if err != nil {
		return res.failed(classifyUnavailable(err), fmt.Errorf("tradeable symbols: %w", err))
	}
	brokerSymbol, ok := ResolveSymbol(symbol, tradeable)
	if !ok {
		return res.failed(ClassSymbolUnavailable, fmt.Errorf("%s not offered by %s account %s (%d symbols)", symbol, acct.Broker, acct.ID, len(tradeable)))
	}
	res.BrokerSymbol = brokerSymbol

	// d. balance
	info, err := gw.AccountInfo(ctx)
	if err != nil {
		return res.failed(classifyUnavailable(err), fmt.Errorf("account info: %w", err))
	}
	if info.Balance <= 0 || info.Balance < acct.MinBalance {
		return res.failed(ClassInsufficientBalance, fmt.Errorf("balance %.2f below minimum %.2f", info.Balance, acct.MinBalance))
	}

	// e. open position limit
	positions, err := gw.OpenPositions(ctx)
	if err != nil {
		return res.failed(classifyUnavailable(err), fmt.Errorf("open positions: %w", err))
	}
	if max := r.maxPositions(acct); max > 0 && len(positions) >= max {
		return res.failed(ClassMaxPositions, fmt.Errorf("%d open positions, max %d", len(positions), max))
	}

	// f. duplicates at the broker and in the store
	for _, p := range positions {
		if market.Normalize(p.Symbol) == symbol {
			return res.failed(ClassDuplicatePosition, fmt.Errorf("%s already open at broker (position %s)", symbol, p.ID))
		}
	}
	local, err := r.store.OpenTrades(ctx, acct.ID)
	if err != nil {
		return res.failed(ClassPersist, fmt.Errorf("open trades: %w", err))
	}
	for _, t := range local {
		if market.Normalize(t.Symbol) == symbol {
			return res.failed(ClassDuplicatePosition, fmt.Errorf("%s already open locally (trade %s)", symbol, t.ID))
		}
	}

	// g. risk and sizing
	entry := o.Entry
	if tick, ok := r.quotes.Price(symbol); ok && tick.Valid() {
		if o.Direction == market.Long {
			entry = tick.Ask
		} else {
			entry = tick.Bid
		}
	}
	if o.StopLoss > 0 && ((o.Direction == market.Long && o.StopLoss >= entry) || (o.Direction == market.Short && o.StopLoss <= entry)) {
		return res.failed(ClassSizing, fmt.Errorf("%s stop %.5f already breached at %.5f", o.Direction, o.StopLoss, entry))
	}
	results, err := r.history(ctx, acct.ID, now)
	if err != nil {
		return res.failed(ClassPersist, fmt.Errorf("trade history: %w", err))
	}
	exposures := make([]risk.Exposure, 0, len(positions))
	for _, p := range positions {
		exposures = append(exposures, risk.Exposure{Symbol: market.Normalize(p.Symbol), Direction: p.Direction})
	}
	assessment := r.bank.Assess(risk.AssessInput{
		AccountID:  acct.ID,
		Symbol:     symbol,
		Direction:  o.Direction,
		Confidence: o.Confidence,
		Confluence: o.Confluence,
		Balance:    info.Balance,
		Results:    results,
		Open:       exposures,
		Now:        now,
	})
	if !assessment.Allowed {
		return res.failed(ClassRiskBlocked, fmt.Errorf("%s", assessment.Reason))
	}
	res.RiskPercent = assessment.RiskPercent

	currency := info.Currency
	if currency == "" {
		currency = acct.Currency
	}
	q2a, err := market.QuoteToAccountRate(meta, currency, r.quotes)
	if err != nil {
		return res.failed(ClassSizing, err)
	}
	leverage := info.Leverage
	if leverage <= 0 {
		leverage = acct.Leverage
	}
	size, err := risk.PositionSize(risk.SizeInput{
		Meta:           meta,
		Balance:        info.Balance,
		RiskPercent:    assessment.RiskPercent,
		Entry:          entry,
		Stop:           o.StopLoss,
		QuoteToAccount: q2a,
		Leverage:       leverage,
		Caps:           r.cfg.Caps,
	})
	if err != nil {
		return res.failed(ClassSizing, err)
	}

	equity := info.Equity
	if equity <= 0 {
		equity = info.Balance
	}
	check := risk.CheckPlan(r.cfg.Policy, risk.Plan{
		Units:          size.Units,
		Entry:          entry,
		Stop:           o.StopLoss,
		TakeProfit:     o.TakeProfit,
		QuoteToAccount: q2a,
		MarginRate:     meta.MarginRate,
	}, risk.AccountSnapshot{Balance: info.Balance, Equity: equity, MarginUsed: info.MarginUsed, OpenTrades: len(positions)})
	if !check.Allowed {
		return res.failed(ClassRiskBlocked, fmt.Errorf("%s", check.Reason()))
	}

	// h. order
	octx := ctx
	if r.cfg.OrderTimeout > 0 {
		var cancel context.CancelFunc
		octx, cancel = context.WithTimeout(ctx, r.cfg.OrderTimeout)
		defer cancel()
	}
	start := time.Now()
	fill, err := gw.OpenOrder(octx, broker.OrderRequest{
		ClientID:   uuid.NewString(),
		Symbol:     brokerSymbol,
		Direction:  o.Direction,
		Volume:     size.Lots,
		Units:      size.Units,
		StopLoss:   o.StopLoss,
		TakeProfit: o.TakeProfit,
		Comment:    r.cfg.Comment,
	})
	res.Latency = time.Since(start)
	r.bank.Breaker.ObserveLatency(res.Latency)
	if err != nil {
		return res.failed(classify(err), err)
	}

	res.Success = true
	res.PositionID = fill.PositionID
	res.FillPrice = fill.FillPrice
	res.Volume = fill.Volume
	if res.Volume == 0 {
		res.Volume = size.Lots
	}
	return res
}

func classifyUnavailable(err error) Class {
	if c := classify(err); c == ClassTimeout || c == ClassSymbolUnavailable {
		return c
	}
	return ClassBrokerUnavailable
}

func (r *Router) maxPositions(acct store.TradingAccount) int {
	global := r.MaxOpenPositions()
	switch {
	case acct.MaxOpenPositions > 0 && global > 0:
		return min(acct.MaxOpenPositions, global)
	case acct.MaxOpenPositions > 0:
		return acct.MaxOpenPositions
	}
	return global
}

func (r *Router) history(ctx context.Context, accountID string, now time.Time) ([]risk.TradeResult, error) {
	window := r.cfg.HistoryWindow
	if window <= 0 {
		window = 7 * 24 * time.Hour
	}
	closed, err := r.store.TradeHistory(ctx, accountID, now.Add(-window), 0)
	if err != nil {
		return nil, err
	}
	out := make([]risk.TradeResult, 0, len(closed))
	for i := len(closed) - 1; i >= 0; i-- {
		out = append(out, closed[i].Result())
	}
	return out, nil
}

// finish persists the attempt and notifies the observer.
func (r *Router) finish(ctx context.Context, acct store.TradingAccount, o Order, res Result, now time.Time) Result {
	// persistence outlives a cancelled attempt
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	symbol := market.Normalize(o.Symbol)
	t := store.Trade{
		ID:           res.TradeID,
		AccountID:    acct.ID,
		SignalID:     o.SignalID,
		Symbol:       symbol,
		BrokerSymbol: res.BrokerSymbol,
		Direction:    o.Direction,
		Volume:       res.Volume,
		EntryPrice:   res.FillPrice,
		StopLoss:     o.StopLoss,
		TakeProfit:   o.TakeProfit,
		PositionID:   res.PositionID,
		Status:       store.TradeOpen,
		OpenedAt:     now,
	}
	if !res.Success {
		t.Status = store.TradeCancelled
		t.EntryPrice = o.Entry
		t.Error = res.Error
		t.ErrorClass = string(res.Class)
	}

	if err := r.store.CreateTrade(pctx, t); err != nil {
		logs.Errorf("persist trade account=%s symbol=%s position=%s: %v", acct.ID, symbol, res.PositionID, err)
		if res.Success {
			// the position is live at the broker; keep the success and flag it
			res.Class = ClassPersist
			res.Error = "persist trade: " + err.Error()
		}
	}

	rec := store.ExecutionRecord{
		ID:         id.NewAt(now),
		SignalID:   o.SignalID,
		AccountID:  acct.ID,
		TradeID:    res.TradeID,
		Symbol:     symbol,
		Success:    res.Success,
		PositionID: res.PositionID,
		FillPrice:  res.FillPrice,
		Volume:     res.Volume,
		Error:      res.Error,
		Class:      string(res.Class),
		Latency:    res.Latency,
		CreatedAt:  now,
	}
	if err := r.store.RecordExecution(pctx, rec); err != nil {
		logs.Errorf("persist execution account=%s symbol=%s: %v", acct.ID, symbol, err)
	}

	if res.Success {
		logs.Infof("order filled account=%s symbol=%s dir=%s volume=%.2f price=%.5f position=%s risk=%.2f%%",
			acct.ID, symbol, o.Direction, res.Volume, res.FillPrice, res.PositionID, res.RiskPercent)
	} else {
		logs.Warnf("order skipped account=%s symbol=%s class=%s: %s", acct.ID, symbol, res.Class, res.Error)
	}

	r.obsMu.RLock()
	obs := r.observer
	r.obsMu.RUnlock()
	if obs != nil {
		obs(res)
	}
	return res
}

// Summary renders results for logs.
func Summary(results []Result) string {
	parts := make([]string, 0, len(results))
	for _, res := range results {
		if res.Success {
			parts = append(parts, res.AccountID+":ok")
			continue
		}
		parts = append(parts, res.AccountID+":"+string(res.Class))
	}
	ok := 0
	for _, res := range results {
		if res.Success {
			ok++
		}
	}
	return fmt.Sprintf("%d/%d filled [%s]", ok, len(results), strings.Join(parts, " "))
}
