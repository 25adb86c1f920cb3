package database

import (
	"arbiter/internal/model"
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS trade_executions (
	trade_id TEXT PRIMARY KEY,
	executed_at TIMESTAMPTZ NOT NULL,
	symbol VARCHAR(20) NOT NULL,
	buy_exchange VARCHAR(50) NOT NULL,
	sell_exchange VARCHAR(50) NOT NULL,
	buy_price NUMERIC(20, 8) NOT NULL,
	sell_price NUMERIC(20, 8) NOT NULL,
	spread NUMERIC(20, 8) NOT NULL,
	spread_percent NUMERIC(20, 8) NOT NULL,
	confidence NUMERIC(6, 4) NOT NULL,
	size_used NUMERIC(20, 8) NOT NULL,
	gross_profit NUMERIC(20, 8) NOT NULL,
	trading_fees NUMERIC(20, 8) NOT NULL,
	withdrawal_fee NUMERIC(20, 8) NOT NULL,
	slippage NUMERIC(20, 8) NOT NULL,
	total_cost NUMERIC(20, 8) NOT NULL,
	net_profit NUMERIC(20, 8) NOT NULL,
	mode VARCHAR(16) NOT NULL,
	degraded BOOLEAN NOT NULL DEFAULT FALSE,
	degraded_reason TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS governor_events (
	id BIGSERIAL PRIMARY KEY,
	at TIMESTAMPTZ NOT NULL,
	kind VARCHAR(40) NOT NULL,
	reason TEXT NOT NULL,
	daily_pnl NUMERIC(20, 8) NOT NULL,
	pnl_limit NUMERIC(20, 8) NOT NULL,
	percent_used NUMERIC(12, 4) NOT NULL
);`

// PostgresRepository writes audit records through a pgx pool.
type PostgresRepository struct {
	Pool *pgxpool.Pool
}

// NewPostgresRepository connects to dsn.
func NewPostgresRepository(ctx context.Context, dsn string) (*PostgresRepository, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PostgresRepository{Pool: pool}, nil
}

func (r *PostgresRepository) Migrate(ctx context.Context) error {
	_, err := r.Pool.Exec(ctx, postgresSchema)
	return err
}

func (r *PostgresRepository) LogTrade(ctx context.Context, trade model.TradeExecutionRecord) error {
	_, err := r.Pool.Exec(ctx,
		`INSERT INTO trade_executions (`+insertTradeColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`,
		tradeArgs(trade)...,
	)
	return err
}

func (r *PostgresRepository) LogGovernorEvent(ctx context.Context, event model.GovernorEvent) error {
	_, err := r.Pool.Exec(ctx,
		`INSERT INTO governor_events (`+insertEventColumns+`) VALUES ($1, $2, $3, $4, $5, $6)`,
		eventArgs(event)...,
	)
	return err
}

func (r *PostgresRepository) Close() {
	r.Pool.Close()
}
