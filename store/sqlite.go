package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/rustyeddy/autotrader/market"
	"github.com/rustyeddy/autotrader/risk"
)

type SQLite struct {
	db *sql.DB
}

var _ Store = (*SQLite)(nil)

func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	// one writer at a time; sqlite would otherwise answer SQLITE_BUSY
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(Schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}

func fromNull(t sql.NullTime) time.Time {
	if !t.Valid {
		return time.Time{}
	}
	return t.Time.UTC()
}

func isUnique(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintUnique
}

const tradeColumns = `id, account_id, signal_id, symbol, broker_symbol, direction, volume, entry_price,
	stop_loss, take_profit, position_id, status, exit_price, pnl, close_reason, error, error_class,
	opened_at, closed_at`

func (s *SQLite) CreateTrade(ctx context.Context, t Trade) error {
	if t.Status == "" {
		t.Status = TradeOpen
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO trades (`+tradeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.AccountID, t.SignalID, t.Symbol, t.BrokerSymbol, t.Direction.String(), t.Volume, t.EntryPrice,
		t.StopLoss, t.TakeProfit, t.PositionID, string(t.Status), t.ExitPrice, t.PnL, t.CloseReason, t.Error, t.ErrorClass,
		t.OpenedAt.UTC(), nullTime(t.ClosedAt),
	)
	if isUnique(err) {
		return fmt.Errorf("trade %s account=%s position=%s: %w", t.ID, t.AccountID, t.PositionID, ErrDuplicateOpen)
	}
	return err
}

func (s *SQLite) CloseTrade(ctx context.Context, id string, exit, pnl float64, reason string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE trades SET status = ?, exit_price = ?, pnl = ?, close_reason = ?, closed_at = ?
		WHERE id = ? AND status = ?`,
		string(TradeClosed), exit, pnl, reason, at.UTC(), id, string(TradeOpen))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("open trade %q: %w", id, ErrNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrade(r rowScanner) (Trade, error) {
	var (
		t        Trade
		dir      string
		status   string
		openedAt time.Time
		closedAt sql.NullTime
	)
	err := r.Scan(&t.ID, &t.AccountID, &t.SignalID, &t.Symbol, &t.BrokerSymbol, &dir, &t.Volume, &t.EntryPrice,
		&t.StopLoss, &t.TakeProfit, &t.PositionID, &status, &t.ExitPrice, &t.PnL, &t.CloseReason, &t.Error, &t.ErrorClass,
		&openedAt, &closedAt)
	if err != nil {
		return Trade{}, err
	}
	t.Direction = market.ParseDirection(dir)
	t.Status = TradeStatus(status)
	t.OpenedAt = openedAt.UTC()
	t.ClosedAt = fromNull(closedAt)
	return t, nil
}

func (s *SQLite) GetTrade(ctx context.Context, id string) (Trade, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+tradeColumns+` FROM trades WHERE id = ?`, id)
	t, err := scanTrade(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Trade{}, fmt.Errorf("trade %q: %w", id, ErrNotFound)
	}
	return t, err
}

func (s *SQLite) queryTrades(ctx context.Context, query string, args ...any) ([]Trade, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *SQLite) OpenTrades(ctx context.Context, accountID string) ([]Trade, error) {
	return s.queryTrades(ctx, `SELECT `+tradeColumns+` FROM trades
		WHERE status = ? AND (? = '' OR account_id = ?)
		ORDER BY opened_at ASC`, string(TradeOpen), accountID, accountID)
}

func (s *SQLite) TradeHistory(ctx context.Context, accountID string, since time.Time, limit int) ([]Trade, error) {
	if limit <= 0 {
		limit = -1
	}
	return s.queryTrades(ctx, `SELECT `+tradeColumns+` FROM trades
		WHERE status = ? AND (? = '' OR account_id = ?) AND closed_at >= ?
		ORDER BY closed_at DESC LIMIT ?`, string(TradeClosed), accountID, accountID, since.UTC(), limit)
}

const signalColumns = `id, symbol, direction, confidence, entry, stop_loss, take_profit_1, take_profit_2,
	take_profit_3, reasoning, confluence, status, created_at, resolved_at`

func (s *SQLite) CreateSignal(ctx context.Context, sig Signal) error {
	if sig.Status == "" {
		sig.Status = SignalPending
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO signals (`+signalColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sig.ID, sig.Symbol, sig.Direction.String(), sig.Confidence, sig.Entry, sig.StopLoss,
		sig.TakeProfits[0], sig.TakeProfits[1], sig.TakeProfits[2], sig.Reasoning, sig.Confluence,
		string(sig.Status), sig.CreatedAt.UTC(), nullTime(sig.ResolvedAt))
	return err
}

func (s *SQLite) GetSignal(ctx context.Context, id string) (Signal, error) {
	var (
		sig      Signal
		dir      string
		status   string
		created  time.Time
		resolved sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `SELECT `+signalColumns+` FROM signals WHERE id = ?`, id).Scan(
		&sig.ID, &sig.Symbol, &dir, &sig.Confidence, &sig.Entry, &sig.StopLoss,
		&sig.TakeProfits[0], &sig.TakeProfits[1], &sig.TakeProfits[2], &sig.Reasoning, &sig.Confluence,
		&status, &created, &resolved)
	if errors.Is(err, sql.ErrNoRows) {
		return Signal{}, fmt.Errorf("signal %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return Signal{}, err
	}
	sig.Direction = market.ParseDirection(dir)
	sig.Status = SignalStatus(status)
	sig.CreatedAt = created.UTC()
	sig.ResolvedAt = fromNull(resolved)
	return sig, nil
}

func (s *SQLite) UpdateSignalStatus(ctx context.Context, id string, status SignalStatus, at time.Time) error {
	var resolved any
	if status == SignalWon || status == SignalLost || status == SignalSkipped {
		resolved = at.UTC()
	}
	res, err := s.db.ExecContext(ctx, `UPDATE signals SET status = ?, resolved_at = COALESCE(?, resolved_at) WHERE id = ?`,
		string(status), resolved, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("signal %q: %w", id, ErrNotFound)
	}
	return nil
}

func (s *SQLite) Accounts(ctx context.Context) ([]TradingAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, broker, broker_account_id, currency, min_balance, leverage, max_open_positions, active, frozen
		FROM accounts ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TradingAccount
	for rows.Next() {
		var a TradingAccount
		if err := rows.Scan(&a.ID, &a.Name, &a.Broker, &a.BrokerAccountID, &a.Currency, &a.MinBalance,
			&a.Leverage, &a.MaxOpenPositions, &a.Active, &a.Frozen); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *SQLite) UpsertAccount(ctx context.Context, a TradingAccount) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (id, name, broker, broker_account_id, currency, min_balance, leverage, max_open_positions, active, frozen)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name, broker = excluded.broker, broker_account_id = excluded.broker_account_id,
			currency = excluded.currency, min_balance = excluded.min_balance, leverage = excluded.leverage,
			max_open_positions = excluded.max_open_positions, active = excluded.active, frozen = excluded.frozen`,
		a.ID, a.Name, a.Broker, a.BrokerAccountID, a.Currency, a.MinBalance, a.Leverage, a.MaxOpenPositions, a.Active, a.Frozen)
	return err
}

func (s *SQLite) Settings(ctx context.Context) (Settings, error) {
	var (
		st Settings
		ms int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT version, trading_enabled, risk_percent, max_risk_percent, min_confidence, adx_threshold,
			max_open_positions, analysis_interval_ms, updated_at
		FROM settings WHERE id = 1`).Scan(
		&st.Version, &st.TradingEnabled, &st.RiskPercent, &st.MaxRiskPercent, &st.MinConfidence,
		&st.ADXThreshold, &st.MaxOpenPositions, &ms, &st.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Settings{}, fmt.Errorf("settings: %w", ErrNotFound)
	}
	if err != nil {
		return Settings{}, err
	}
	st.AnalysisInterval = time.Duration(ms) * time.Millisecond
	st.UpdatedAt = st.UpdatedAt.UTC()
	return st, nil
}

func (s *SQLite) SaveSettings(ctx context.Context, st Settings) (Settings, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Settings{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var version int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM settings`).Scan(&version); err != nil {
		return Settings{}, err
	}
	st.Version = version + 1
	if st.UpdatedAt.IsZero() {
		st.UpdatedAt = time.Now()
	}
	st.UpdatedAt = st.UpdatedAt.UTC()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO settings (id, version, trading_enabled, risk_percent, max_risk_percent, min_confidence,
			adx_threshold, max_open_positions, analysis_interval_ms, updated_at)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			version = excluded.version, trading_enabled = excluded.trading_enabled,
			risk_percent = excluded.risk_percent, max_risk_percent = excluded.max_risk_percent,
			min_confidence = excluded.min_confidence, adx_threshold = excluded.adx_threshold,
			max_open_positions = excluded.max_open_positions, analysis_interval_ms = excluded.analysis_interval_ms,
			updated_at = excluded.updated_at`,
		st.Version, st.TradingEnabled, st.RiskPercent, st.MaxRiskPercent, st.MinConfidence,
		st.ADXThreshold, st.MaxOpenPositions, st.AnalysisInterval.Milliseconds(), st.UpdatedAt)
	if err != nil {
		return Settings{}, err
	}
	return st, tx.Commit()
}

func (s *SQLite) SaveRiskState(ctx context.Context, st risk.AccountState) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO risk_state (account_id, state, consecutive_losses, daily_pnl, daily_start_balance,
			weekly_pnl, weekly_start_balance, trip_reason, tripped_at, day_start, week_start, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(account_id) DO UPDATE SET
			state = excluded.state, consecutive_losses = excluded.consecutive_losses,
			daily_pnl = excluded.daily_pnl, daily_start_balance = excluded.daily_start_balance,
			weekly_pnl = excluded.weekly_pnl, weekly_start_balance = excluded.weekly_start_balance,
			trip_reason = excluded.trip_reason, tripped_at = excluded.tripped_at,
			day_start = excluded.day_start, week_start = excluded.week_start, updated_at = excluded.updated_at`,
		st.AccountID, string(st.State), st.ConsecutiveLosses, st.DailyPnL, st.DailyStartBalance,
		st.WeeklyPnL, st.WeeklyStartBalance, st.TripReason, nullTime(st.TrippedAt),
		nullTime(st.DayStart), nullTime(st.WeekStart), updatedAt(st.UpdatedAt))
	return err
}

func updatedAt(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}

func (s *SQLite) RiskStates(ctx context.Context) ([]risk.AccountState, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT account_id, state, consecutive_losses, daily_pnl, daily_start_balance, weekly_pnl,
			weekly_start_balance, trip_reason, tripped_at, day_start, week_start, updated_at
		FROM risk_state ORDER BY account_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []risk.AccountState
	for rows.Next() {
		var (
			st                 risk.AccountState
			state              string
			tripped, day, week sql.NullTime
		)
		if err := rows.Scan(&st.AccountID, &state, &st.ConsecutiveLosses, &st.DailyPnL, &st.DailyStartBalance,
			&st.WeeklyPnL, &st.WeeklyStartBalance, &st.TripReason, &tripped, &day, &week, &st.UpdatedAt); err != nil {
			return nil, err
		}
		st.State = risk.BreakerState(state)
		st.TrippedAt, st.DayStart, st.WeekStart = fromNull(tripped), fromNull(day), fromNull(week)
		st.UpdatedAt = st.UpdatedAt.UTC()
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *SQLite) RecordExecution(ctx context.Context, r ExecutionRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO executions (id, signal_id, account_id, trade_id, symbol, success, position_id,
			fill_price, volume, error, class, latency_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.SignalID, r.AccountID, r.TradeID, r.Symbol, r.Success, r.PositionID,
		r.FillPrice, r.Volume, r.Error, r.Class, r.Latency.Milliseconds(), r.CreatedAt.UTC())
	return err
}

func (s *SQLite) Executions(ctx context.Context, accountID string, limit int) ([]ExecutionRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, signal_id, account_id, trade_id, symbol, success, position_id, fill_price, volume,
			error, class, latency_ms, created_at
		FROM executions WHERE (? = '' OR account_id = ?)
		ORDER BY created_at DESC, id DESC LIMIT ?`, accountID, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ExecutionRecord
	for rows.Next() {
		var (
			r  ExecutionRecord
			ms int64
		)
		if err := rows.Scan(&r.ID, &r.SignalID, &r.AccountID, &r.TradeID, &r.Symbol, &r.Success, &r.PositionID,
			&r.FillPrice, &r.Volume, &r.Error, &r.Class, &ms, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.Latency = time.Duration(ms) * time.Millisecond
		r.CreatedAt = r.CreatedAt.UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}
