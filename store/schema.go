package store

const Schema = `
CREATE TABLE IF NOT EXISTS trades (
	id TEXT PRIMARY KEY,
	account_id TEXT NOT NULL,
	signal_id TEXT NOT NULL DEFAULT '',
	symbol TEXT NOT NULL,
	broker_symbol TEXT NOT NULL DEFAULT '',
	direction TEXT NOT NULL,
	volume REAL NOT NULL,
	entry_price REAL NOT NULL,
	stop_loss REAL NOT NULL DEFAULT 0,
	take_profit REAL NOT NULL DEFAULT 0,
	position_id TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	exit_price REAL NOT NULL DEFAULT 0,
	pnl REAL NOT NULL DEFAULT 0,
	close_reason TEXT NOT NULL DEFAULT '',
	error TEXT NOT NULL DEFAULT '',
	error_class TEXT NOT NULL DEFAULT '',
	opened_at DATETIME NOT NULL,
	closed_at DATETIME
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_trades_open_position
	ON trades(account_id, position_id) WHERE status = 'open' AND position_id <> '';
CREATE INDEX IF NOT EXISTS idx_trades_account_status ON trades(account_id, status);
CREATE INDEX IF NOT EXISTS idx_trades_closed_at ON trades(closed_at);

CREATE TABLE IF NOT EXISTS signals (
	id TEXT PRIMARY KEY,
	symbol TEXT NOT NULL,
	direction TEXT NOT NULL,
	confidence REAL NOT NULL,
	entry REAL NOT NULL,
	stop_loss REAL NOT NULL,
	take_profit_1 REAL NOT NULL DEFAULT 0,
	take_profit_2 REAL NOT NULL DEFAULT 0,
	take_profit_3 REAL NOT NULL DEFAULT 0,
	reasoning TEXT NOT NULL DEFAULT '',
	confluence REAL NOT NULL DEFAULT 0,
	status TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	resolved_at DATETIME
);

CREATE TABLE IF NOT EXISTS accounts (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL DEFAULT '',
	broker TEXT NOT NULL,
	broker_account_id TEXT NOT NULL DEFAULT '',
	currency TEXT NOT NULL DEFAULT 'USD',
	min_balance REAL NOT NULL DEFAULT 0,
	leverage REAL NOT NULL DEFAULT 0,
	max_open_positions INTEGER NOT NULL DEFAULT 0,
	active INTEGER NOT NULL DEFAULT 1,
	frozen INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS settings (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	version INTEGER NOT NULL,
	trading_enabled INTEGER NOT NULL,
	risk_percent REAL NOT NULL,
	max_risk_percent REAL NOT NULL,
	min_confidence REAL NOT NULL,
	adx_threshold REAL NOT NULL,
	max_open_positions INTEGER NOT NULL,
	analysis_interval_ms INTEGER NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS risk_state (
	account_id TEXT PRIMARY KEY,
	state TEXT NOT NULL,
	consecutive_losses INTEGER NOT NULL,
	daily_pnl REAL NOT NULL,
	daily_start_balance REAL NOT NULL,
	weekly_pnl REAL NOT NULL,
	weekly_start_balance REAL NOT NULL,
	trip_reason TEXT NOT NULL DEFAULT '',
	tripped_at DATETIME,
	day_start DATETIME,
	week_start DATETIME,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS executions (
	id TEXT PRIMARY KEY,
	signal_id TEXT NOT NULL DEFAULT '',
	account_id TEXT NOT NULL,
	trade_id TEXT NOT NULL DEFAULT '',
	symbol TEXT NOT NULL,
	success INTEGER NOT NULL,
	position_id TEXT NOT NULL DEFAULT '',
	fill_price REAL NOT NULL DEFAULT 0,
	volume REAL NOT NULL DEFAULT 0,
	error TEXT NOT NULL DEFAULT '',
	class TEXT NOT NULL DEFAULT '',
	latency_ms INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_executions_account ON executions(account_id, created_at);
`
