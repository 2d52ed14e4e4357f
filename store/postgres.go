package store

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/rustyeddy/autotrader/market"
	"github.com/rustyeddy/autotrader/risk"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	defaultPostgresHost    = "localhost"
	defaultPostgresPort    = 5432
	defaultPostgresSSLMode = "disable"
)

// PostgresOption defines connection options for PostgreSQL.
type PostgresOption struct {
	Host       string
	Port       int
	User       string
	Password   string
	Database   string
	SSLMode    string
	Params     map[string]string
	ConnString string
	Config     *gorm.Config
}

func (opt PostgresOption) dsn() string {
	if opt.ConnString != "" {
		return opt.ConnString
	}

	host := opt.Host
	if host == "" {
		host = defaultPostgresHost
	}
	port := opt.Port
	if port == 0 {
		port = defaultPostgresPort
	}
	sslMode := opt.SSLMode
	if sslMode == "" {
		sslMode = defaultPostgresSSLMode
	}

	u := &url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", host, port),
	}
	if opt.User != "" {
		if opt.Password != "" {
			u.User = url.UserPassword(opt.User, opt.Password)
		} else {
			u.User = url.User(opt.User)
		}
	}
	if opt.Database != "" {
		u.Path = "/" + opt.Database
	}

	query := url.Values{}
	query.Set("sslmode", sslMode)
	for key, value := range opt.Params {
		if key == "" {
			continue
		}
		query.Set(key, value)
	}
	u.RawQuery = query.Encode()
	return u.String()
}

// Postgres is the gorm backed store for shared deployments.
type Postgres struct {
	db *gorm.DB
}

var _ Store = (*Postgres)(nil)

func NewPostgres(opt PostgresOption) (*Postgres, error) {
	cfg := opt.Config
	if cfg == nil {
		cfg = &gorm.Config{}
	}
	cfg.TranslateError = true

	db, err := gorm.Open(postgres.Open(opt.dsn()), cfg)
	if err != nil {
		return nil, err
	}
	p := &Postgres{db: db}
	if err := p.migrate(); err != nil {
		_ = p.Close()
		return nil, err
	}
	return p, nil
}

func (p *Postgres) migrate() error {
	if err := p.db.AutoMigrate(&tradeModel{}, &signalModel{}, &accountModel{}, &settingsModel{}, &riskStateModel{}, &executionModel{}); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return p.db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS idx_trades_open_position
		ON trades(account_id, position_id) WHERE status = 'open' AND position_id <> ''`).Error
}

func (p *Postgres) DB() *gorm.DB { return p.db }

func (p *Postgres) Close() error {
	if p == nil || p.db == nil {
		return nil
	}
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

type tradeModel struct {
	ID           string `gorm:"primaryKey"`
	AccountID    string `gorm:"index:idx_trades_account_status,priority:1;not null"`
	SignalID     string
	Symbol       string `gorm:"not null"`
	BrokerSymbol string
	Direction    string `gorm:"not null"`
	Volume       float64
	EntryPrice   float64
	StopLoss     float64
	TakeProfit   float64
	PositionID   string
	Status       string `gorm:"index:idx_trades_account_status,priority:2;not null"`
	ExitPrice    float64
	PnL          float64 `gorm:"column:pnl"`
	CloseReason  string
	Error        string
	ErrorClass   string
	OpenedAt     time.Time  `gorm:"not null"`
	ClosedAt     *time.Time `gorm:"index"`
}

func (tradeModel) TableName() string { return "trades" }

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}

func fromPtr(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return t.UTC()
}

func toTradeModel(t Trade) tradeModel {
	return tradeModel{
		ID: t.ID, AccountID: t.AccountID, SignalID: t.SignalID, Symbol: t.Symbol, BrokerSymbol: t.BrokerSymbol,
		Direction: t.Direction.String(), Volume: t.Volume, EntryPrice: t.EntryPrice, StopLoss: t.StopLoss,
		TakeProfit: t.TakeProfit, PositionID: t.PositionID, Status: string(t.Status), ExitPrice: t.ExitPrice,
		PnL: t.PnL, CloseReason: t.CloseReason, Error: t.Error, ErrorClass: t.ErrorClass,
		OpenedAt: t.OpenedAt.UTC(), ClosedAt: timePtr(t.ClosedAt),
	}
}

func (m tradeModel) trade() Trade {
	return Trade{
		ID: m.ID, AccountID: m.AccountID, SignalID: m.SignalID, Symbol: m.Symbol, BrokerSymbol: m.BrokerSymbol,
		Direction: market.ParseDirection(m.Direction), Volume: m.Volume, EntryPrice: m.EntryPrice,
		StopLoss: m.StopLoss, TakeProfit: m.TakeProfit, PositionID: m.PositionID, Status: TradeStatus(m.Status),
		ExitPrice: m.ExitPrice, PnL: m.PnL, CloseReason: m.CloseReason, Error: m.Error, ErrorClass: m.ErrorClass,
		OpenedAt: m.OpenedAt.UTC(), ClosedAt: fromPtr(m.ClosedAt),
	}
}

type signalModel struct {
	ID          string `gorm:"primaryKey"`
	Symbol      string `gorm:"not null"`
	Direction   string
	Confidence  float64
	Entry       float64
	StopLoss    float64
	TakeProfit1 float64 `gorm:"column:take_profit_1"`
	TakeProfit2 float64 `gorm:"column:take_profit_2"`
	TakeProfit3 float64 `gorm:"column:take_profit_3"`
	Reasoning   string
	Confluence  float64
	Status      string `gorm:"index"`
	CreatedAt   time.Time
	ResolvedAt  *time.Time
}

func (signalModel) TableName() string { return "signals" }

func toSignalModel(s Signal) signalModel {
	return signalModel{
		ID: s.ID, Symbol: s.Symbol, Direction: s.Direction.String(), Confidence: s.Confidence, Entry: s.Entry,
		StopLoss: s.StopLoss, TakeProfit1: s.TakeProfits[0], TakeProfit2: s.TakeProfits[1], TakeProfit3: s.TakeProfits[2],
		Reasoning: s.Reasoning, Confluence: s.Confluence, Status: string(s.Status),
		CreatedAt: s.CreatedAt.UTC(), ResolvedAt: timePtr(s.ResolvedAt),
	}
}

func (m signalModel) signal() Signal {
	return Signal{
		ID: m.ID, Symbol: m.Symbol, Direction: market.ParseDirection(m.Direction), Confidence: m.Confidence,
		Entry: m.Entry, StopLoss: m.StopLoss, TakeProfits: [3]float64{m.TakeProfit1, m.TakeProfit2, m.TakeProfit3},
		Reasoning: m.Reasoning, Confluence: m.Confluence, Status: SignalStatus(m.Status),
		CreatedAt: m.CreatedAt.UTC(), ResolvedAt: fromPtr(m.ResolvedAt),
	}
}

type accountModel struct {
	ID               string `gorm:"primaryKey"`
	Name             string
	Broker           string `gorm:"not null"`
	BrokerAccountID  string
	Currency         string
	MinBalance       float64
	Leverage         float64
	MaxOpenPositions int
	Active           bool
	Frozen           bool
}

func (accountModel) TableName() string { return "accounts" }

type settingsModel struct {
	ID                 int `gorm:"primaryKey;autoIncrement:false"`
	Version            int64
	TradingEnabled     bool
	RiskPercent        float64
	MaxRiskPercent     float64
	MinConfidence      float64
	ADXThreshold       float64 `gorm:"column:adx_threshold"`
	MaxOpenPositions   int
	AnalysisIntervalMS int64 `gorm:"column:analysis_interval_ms"`
	UpdatedAt          time.Time
}

func (settingsModel) TableName() string { return "settings" }

type riskStateModel struct {
	AccountID          string `gorm:"primaryKey"`
	State              string
	ConsecutiveLosses  int
	DailyPnL           float64 `gorm:"column:daily_pnl"`
	DailyStartBalance  float64
	WeeklyPnL          float64 `gorm:"column:weekly_pnl"`
	WeeklyStartBalance float64
	TripReason         string
	TrippedAt          *time.Time
	DayStart           *time.Time
	WeekStart          *time.Time
	UpdatedAt          time.Time
}

func (riskStateModel) TableName() string { return "risk_state" }

func toRiskStateModel(st risk.AccountState) riskStateModel {
	return riskStateModel{
		AccountID: st.AccountID, State: string(st.State), ConsecutiveLosses: st.ConsecutiveLosses,
		DailyPnL: st.DailyPnL, DailyStartBalance: st.DailyStartBalance,
		WeeklyPnL: st.WeeklyPnL, WeeklyStartBalance: st.WeeklyStartBalance, TripReason: st.TripReason,
		TrippedAt: timePtr(st.TrippedAt), DayStart: timePtr(st.DayStart), WeekStart: timePtr(st.WeekStart),
		UpdatedAt: updatedAt(st.UpdatedAt),
	}
}

func (m riskStateModel) state() risk.AccountState {
	return risk.AccountState{
		AccountID: m.AccountID, State: risk.BreakerState(m.State), ConsecutiveLosses: m.ConsecutiveLosses,
		DailyPnL: m.DailyPnL, DailyStartBalance: m.DailyStartBalance,
		WeeklyPnL: m.WeeklyPnL, WeeklyStartBalance: m.WeeklyStartBalance, TripReason: m.TripReason,
		TrippedAt: fromPtr(m.TrippedAt), DayStart: fromPtr(m.DayStart), WeekStart: fromPtr(m.WeekStart),
		UpdatedAt: m.UpdatedAt.UTC(),
	}
}

type executionModel struct {
	ID         string `gorm:"primaryKey"`
	SignalID   string
	AccountID  string `gorm:"index:idx_executions_account,priority:1"`
	TradeID    string
	Symbol     string
	Success    bool
	PositionID string
	FillPrice  float64
	Volume     float64
	Error      string
	Class      string
	LatencyMS  int64     `gorm:"column:latency_ms"`
	CreatedAt  time.Time `gorm:"index:idx_executions_account,priority:2"`
}

func (executionModel) TableName() string { return "executions" }

func (p *Postgres) CreateTrade(ctx context.Context, t Trade) error {
	if t.Status == "" {
		t.Status = TradeOpen
	}
	m := toTradeModel(t)
	err := p.db.WithContext(ctx).Create(&m).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("trade %s account=%s position=%s: %w", t.ID, t.AccountID, t.PositionID, ErrDuplicateOpen)
	}
	return err
}

func (p *Postgres) CloseTrade(ctx context.Context, id string, exit, pnl float64, reason string, at time.Time) error {
	res := p.db.WithContext(ctx).Model(&tradeModel{}).
		Where("id = ? AND status = ?", id, string(TradeOpen)).
		Updates(map[string]any{
			"status":       string(TradeClosed),
			"exit_price":   exit,
			"pnl":          pnl,
			"close_reason": reason,
			"closed_at":    at.UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("open trade %q: %w", id, ErrNotFound)
	}
	return nil
}

func (p *Postgres) GetTrade(ctx context.Context, id string) (Trade, error) {
	var m tradeModel
	err := p.db.WithContext(ctx).Where("id = ?", id).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Trade{}, fmt.Errorf("trade %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return Trade{}, err
	}
	return m.trade(), nil
}

func trades(ms []tradeModel) []Trade {
	out := make([]Trade, 0, len(ms))
	for _, m := range ms {
		out = append(out, m.trade())
	}
	return out
}

func (p *Postgres) OpenTrades(ctx context.Context, accountID string) ([]Trade, error) {
	q := p.db.WithContext(ctx).Where("status = ?", string(TradeOpen))
	if accountID != "" {
		q = q.Where("account_id = ?", accountID)
	}
	var ms []tradeModel
	if err := q.Order("opened_at ASC").Find(&ms).Error; err != nil {
		return nil, err
	}
	return trades(ms), nil
}

func (p *Postgres) TradeHistory(ctx context.Context, accountID string, since time.Time, limit int) ([]Trade, error) {
	q := p.db.WithContext(ctx).Where("status = ? AND closed_at >= ?", string(TradeClosed), since.UTC())
	if accountID != "" {
		q = q.Where("account_id = ?", accountID)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var ms []tradeModel
	if err := q.Order("closed_at DESC").Find(&ms).Error; err != nil {
		return nil, err
	}
	return trades(ms), nil
}

func (p *Postgres) CreateSignal(ctx context.Context, s Signal) error {
	if s.Status == "" {
		s.Status = SignalPending
	}
	m := toSignalModel(s)
	return p.db.WithContext(ctx).Create(&m).Error
}

func (p *Postgres) GetSignal(ctx context.Context, id string) (Signal, error) {
	var m signalModel
	err := p.db.WithContext(ctx).Where("id = ?", id).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Signal{}, fmt.Errorf("signal %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return Signal{}, err
	}
	return m.signal(), nil
}

func (p *Postgres) UpdateSignalStatus(ctx context.Context, id string, status SignalStatus, at time.Time) error {
	updates := map[string]any{"status": string(status)}
	if status == SignalWon || status == SignalLost || status == SignalSkipped {
		updates["resolved_at"] = at.UTC()
	}
	res := p.db.WithContext(ctx).Model(&signalModel{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("signal %q: %w", id, ErrNotFound)
	}
	return nil
}

func (p *Postgres) Accounts(ctx context.Context) ([]TradingAccount, error) {
	var ms []accountModel
	if err := p.db.WithContext(ctx).Order("id").Find(&ms).Error; err != nil {
		return nil, err
	}
	out := make([]TradingAccount, 0, len(ms))
	for _, m := range ms {
		out = append(out, TradingAccount(m))
	}
	return out, nil
}

func (p *Postgres) UpsertAccount(ctx context.Context, a TradingAccount) error {
	m := accountModel(a)
	return p.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&m).Error
}

func (p *Postgres) Settings(ctx context.Context) (Settings, error) {
	var m settingsModel
	err := p.db.WithContext(ctx).Where("id = 1").Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Settings{}, fmt.Errorf("settings: %w", ErrNotFound)
	}
	if err != nil {
		return Settings{}, err
	}
	return Settings{
		Version: m.Version, TradingEnabled: m.TradingEnabled, RiskPercent: m.RiskPercent,
		MaxRiskPercent: m.MaxRiskPercent, MinConfidence: m.MinConfidence, ADXThreshold: m.ADXThreshold,
		MaxOpenPositions: m.MaxOpenPositions, AnalysisInterval: time.Duration(m.AnalysisIntervalMS) * time.Millisecond,
		UpdatedAt: m.UpdatedAt.UTC(),
	}, nil
}

func (p *Postgres) SaveSettings(ctx context.Context, st Settings) (Settings, error) {
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var version int64
		if err := tx.Model(&settingsModel{}).Select("COALESCE(MAX(version), 0)").Scan(&version).Error; err != nil {
			return err
		}
		st.Version = version + 1
		st.UpdatedAt = updatedAt(st.UpdatedAt)

		m := settingsModel{
			ID: 1, Version: st.Version, TradingEnabled: st.TradingEnabled, RiskPercent: st.RiskPercent,
			MaxRiskPercent: st.MaxRiskPercent, MinConfidence: st.MinConfidence, ADXThreshold: st.ADXThreshold,
			MaxOpenPositions: st.MaxOpenPositions, AnalysisIntervalMS: st.AnalysisInterval.Milliseconds(),
			UpdatedAt: st.UpdatedAt,
		}
		return tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&m).Error
	})
	if err != nil {
		return Settings{}, err
	}
	return st, nil
}

func (p *Postgres) SaveRiskState(ctx context.Context, st risk.AccountState) error {
	m := toRiskStateModel(st)
	return p.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&m).Error
}

func (p *Postgres) RiskStates(ctx context.Context) ([]risk.AccountState, error) {
	var ms []riskStateModel
	if err := p.db.WithContext(ctx).Order("account_id").Find(&ms).Error; err != nil {
		return nil, err
	}
	out := make([]risk.AccountState, 0, len(ms))
	for _, m := range ms {
		out = append(out, m.state())
	}
	return out, nil
}

func (p *Postgres) RecordExecution(ctx context.Context, r ExecutionRecord) error {
	m := executionModel{
		ID: r.ID, SignalID: r.SignalID, AccountID: r.AccountID, TradeID: r.TradeID, Symbol: r.Symbol,
		Success: r.Success, PositionID: r.PositionID, FillPrice: r.FillPrice, Volume: r.Volume,
		Error: r.Error, Class: r.Class, LatencyMS: r.Latency.Milliseconds(), CreatedAt: r.CreatedAt.UTC(),
	}
	return p.db.WithContext(ctx).Create(&m).Error
}

func (p *Postgres) Executions(ctx context.Context, accountID string, limit int) ([]ExecutionRecord, error) {
	q := p.db.WithContext(ctx)
	if accountID != "" {
		q = q.Where("account_id = ?", accountID)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var ms []executionModel
	if err := q.Order("created_at DESC, id DESC").Find(&ms).Error; err != nil {
		return nil, err
	}
	out := make([]ExecutionRecord, 0, len(ms))
	for _, m := range ms {
		out = append(out, ExecutionRecord{
			ID: m.ID, SignalID: m.SignalID, AccountID: m.AccountID, TradeID: m.TradeID, Symbol: m.Symbol,
			Success: m.Success, PositionID: m.PositionID, FillPrice: m.FillPrice, Volume: m.Volume,
			Error: m.Error, Class: m.Class, Latency: time.Duration(m.LatencyMS) * time.Millisecond,
			CreatedAt: m.CreatedAt.UTC(),
		})
	}
	return out, nil
}
