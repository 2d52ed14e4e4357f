// Package store persists trades, signals, accounts, runtime settings, risk
// state and execution records.
package store

import (
	"context"
	"time"

	"github.com/rustyeddy/autotrader/market"
	"github.com/rustyeddy/autotrader/risk"
	"github.com/yanun0323/errors"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrDuplicateOpen = errors.New("store: open trade already exists for position")
)

type TradeStatus string

const (
	TradeOpen      TradeStatus = "open"
	TradeClosed    TradeStatus = "closed"
	TradeCancelled TradeStatus = "cancelled"
)

type SignalStatus string

const (
	SignalPending  SignalStatus = "pending"
	SignalExecuted SignalStatus = "executed"
	SignalWon      SignalStatus = "won"
	SignalLost     SignalStatus = "lost"
	SignalSkipped  SignalStatus = "skipped"
)

type Trade struct {
	ID           string
	AccountID    string
	SignalID     string
	Symbol       string
	BrokerSymbol string
	Direction    market.Direction
	Volume       float64
	EntryPrice   float64
	StopLoss     float64
	TakeProfit   float64
	PositionID   string
	Status       TradeStatus
	ExitPrice    float64
	PnL          float64
	CloseReason  string
	Error        string
	ErrorClass   string
	OpenedAt     time.Time
	ClosedAt     time.Time
}

// Result is the closed trade as the risk controllers see it.
func (t Trade) Result() risk.TradeResult {
	return risk.TradeResult{AccountID: t.AccountID, Symbol: t.Symbol, PnL: t.PnL, ClosedAt: t.ClosedAt}
}

type Signal struct {
	ID          string
	Symbol      string
	Direction   market.Direction
	Confidence  float64
	Entry       float64
	StopLoss    float64
	TakeProfits [3]float64
	Reasoning   string
	Confluence  float64
	Status      SignalStatus
	CreatedAt   time.Time
	ResolvedAt  time.Time
}

type TradingAccount struct {
	ID               string
	Name             string
	Broker           string // sim | oanda
	BrokerAccountID  string
	Currency         string
	MinBalance       float64
	Leverage         float64
	MaxOpenPositions int
	Active           bool
	Frozen           bool
}

// Tradeable reports whether the router may place orders on the account.
func (a TradingAccount) Tradeable() bool { return a.Active && !a.Frozen }

// Settings is the hot-reloadable part of the configuration. Version
// increases on every save.
type Settings struct {
	Version          int64
	TradingEnabled   bool
	RiskPercent      float64
	MaxRiskPercent   float64
	MinConfidence    float64
	ADXThreshold     float64
	MaxOpenPositions int
	AnalysisInterval time.Duration
	UpdatedAt        time.Time
}

// ExecutionRecord is one execution attempt on one account. Records are
// never updated.
type ExecutionRecord struct {
	ID         string
	SignalID   string
	AccountID  string
	TradeID    string
	Symbol     string
	Success    bool
	PositionID string
	FillPrice  float64
	Volume     float64
	Error      string
	Class      string
	Latency    time.Duration
	CreatedAt  time.Time
}

type TradeStore interface {
	// CreateTrade returns ErrDuplicateOpen when an open trade already holds
	// the same (account, position id).
	CreateTrade(ctx context.Context, t Trade) error
	// CloseTrade marks an open trade closed. It returns ErrNotFound when no
	// open trade has the id.
	CloseTrade(ctx context.Context, id string, exit, pnl float64, reason string, at time.Time) error
	GetTrade(ctx context.Context, id string) (Trade, error)
	// OpenTrades lists open trades; an empty accountID lists every account.
	OpenTrades(ctx context.Context, accountID string) ([]Trade, error)
	// TradeHistory lists closed trades closed at or after since, newest
	// first. limit <= 0 means no limit.
	TradeHistory(ctx context.Context, accountID string, since time.Time, limit int) ([]Trade, error)
}

type SignalStore interface {
	CreateSignal(ctx context.Context, s Signal) error
	GetSignal(ctx context.Context, id string) (Signal, error)
	UpdateSignalStatus(ctx context.Context, id string, status SignalStatus, at time.Time) error
}

type SettingsSource interface {
	Settings(ctx context.Context) (Settings, error)
}

type Store interface {
	TradeStore
	SignalStore
	SettingsSource
	risk.StatePersister

	Accounts(ctx context.Context) ([]TradingAccount, error)
	UpsertAccount(ctx context.Context, a TradingAccount) error

	// SaveSettings stores s with the next version and returns it.
	SaveSettings(ctx context.Context, s Settings) (Settings, error)

	RiskStates(ctx context.Context) ([]risk.AccountState, error)

	RecordExecution(ctx context.Context, r ExecutionRecord) error
	Executions(ctx context.Context, accountID string, limit int) ([]ExecutionRecord, error)

	Close() error
}

type Config struct {
	Driver string `json:"driver" yaml:"driver"` // sqlite | postgres
	Path   string `json:"path" yaml:"path"`
	DSN    string `json:"-" yaml:"-"`
}

func DefaultConfig() Config {
	return Config{Driver: "sqlite", Path: "./autotrader.db"}
}

func Open(cfg Config) (Store, error) {
	switch cfg.Driver {
	case "", "sqlite", "sqlite3":
		return NewSQLite(cfg.Path)
	case "postgres", "postgresql":
		return NewPostgres(PostgresOption{ConnString: cfg.DSN})
	}
	return nil, errors.Errorf("store: unknown driver %q", cfg.Driver)
}
