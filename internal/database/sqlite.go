package database

import (
	"arbiter/internal/model"
	"context"
	"database/sql"

	_ "github.com/mattn/go-sqlite3"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS trade_executions (
	trade_id TEXT PRIMARY KEY,
	executed_at TIMESTAMP NOT NULL,
	symbol TEXT NOT NULL,
	buy_exchange TEXT NOT NULL,
	sell_exchange TEXT NOT NULL,
	buy_price REAL NOT NULL,
	sell_price REAL NOT NULL,
	spread REAL NOT NULL,
	spread_percent REAL NOT NULL,
	confidence REAL NOT NULL,
	size_used REAL NOT NULL,
	gross_profit REAL NOT NULL,
	trading_fees REAL NOT NULL,
	withdrawal_fee REAL NOT NULL,
	slippage REAL NOT NULL,
	total_cost REAL NOT NULL,
	net_profit REAL NOT NULL,
	mode TEXT NOT NULL,
	degraded INTEGER NOT NULL DEFAULT 0,
	degraded_reason TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS governor_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	at TIMESTAMP NOT NULL,
	kind TEXT NOT NULL,
	reason TEXT NOT NULL,
	daily_pnl REAL NOT NULL,
	pnl_limit REAL NOT NULL,
	percent_used REAL NOT NULL
);`

// SQLiteRepository is a single-file audit store for local and paper runs.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository opens (or creates) the database at path.
func NewSQLiteRepository(path string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Migrate(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, sqliteSchema)
	return err
}

func (r *SQLiteRepository) LogTrade(ctx context.Context, trade model.TradeExecutionRecord) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO trade_executions (`+insertTradeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tradeArgs(trade)...,
	)
	return err
}

func (r *SQLiteRepository) LogGovernorEvent(ctx context.Context, event model.GovernorEvent) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO governor_events (`+insertEventColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		eventArgs(event)...,
	)
	return err
}

func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}
