package database

import (
	"arbiter/internal/model"
	"context"
	"flag"
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

var (
	pool *pgxpool.Pool
)

func TestMain(m *testing.M) {
	flag.Parse()
	if testing.Short() {
		os.Exit(m.Run())
	}
	os.Exit(runWithPostgres(m))
}

func runWithPostgres(m *testing.M) int {
	ctx := context.Background()

	// Define the PostgreSQL container request
	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "testuser",
			"POSTGRES_PASSWORD": "testpassword",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForListeningPort("5432/tcp"),
	}

	pgContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		log.Printf("could not start postgres container, postgres tests will be skipped: %s", err)
		return m.Run()
	}
	defer func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			log.Printf("could not stop postgres container: %s", err)
		}
	}()

	host, err := pgContainer.Host(ctx)
	if err != nil {
		log.Fatalf("could not get container host: %s", err)
	}
	port, err := pgContainer.MappedPort(ctx, "5432")
	if err != nil {
		log.Fatalf("could not get mapped port: %s", err)
	}

	connStr := "postgres://testuser:testpassword@" + host + ":" + port.Port() + "/testdb"

	// The listening port opens before postgres accepts queries.
	var repo *PostgresRepository
	for attempt := 0; attempt < 20; attempt++ {
		if repo, err = NewPostgresRepository(ctx, connStr); err == nil {
			break
		}
		time.Sleep(250 * time.Millisecond)
	}
	if err != nil {
		log.Fatalf("could not connect to database: %s", err)
	}
	defer repo.Close()

	if err := repo.Migrate(ctx); err != nil {
		log.Fatalf("could not create tables: %s", err)
	}
	pool = repo.Pool

	return m.Run()
}

func sampleTrade() model.TradeExecutionRecord {
	return model.TradeExecutionRecord{
		TradeID: "2f6d8c3a-8d0e-4a57-9f43-2d2b2c1f7a10",
		Opportunity: model.Opportunity{
			Symbol:               "BTC/EUR",
			BuyVenue:             "kraken",
			SellVenue:            "binance",
			BuyPrice:             60000.0,
			SellPrice:            60100.0,
			Spread:               100.0,
			SpreadPercent:        0.16666667,
			EstimatedVolume:      0.01,
			EstimatedGrossProfit: 1.0,
			Confidence:           0.58,
		},
		Costs: model.CostBreakdown{
			TradingFees:   1.201,
			WithdrawalFee: 5,
			Slippage:      0.3,
			TotalCost:     6.501,
			NetProfit:     -5.501,
		},
		SizeUsed:       0.01,
		ExecutedAt:     time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC),
		Mode:           model.ModeSimulated,
		Degraded:       true,
		DegradedReason: "binance: live trading unavailable",
	}
}

func sampleEvent() model.GovernorEvent {
	return model.GovernorEvent{
		Kind:        model.EventKillSwitchActivated,
		Reason:      "daily P&L -510.00 breached limit -500.00",
		DailyPnL:    -510,
		Limit:       -500,
		PercentUsed: 102,
		At:          time.Date(2026, 3, 10, 9, 31, 0, 0, time.UTC),
	}
}

func TestPostgresRepository_LogTrade(t *testing.T) {
	if pool == nil {
		t.Skip("postgres container not available")
	}
	ctx := context.Background()
	repo := &PostgresRepository{Pool: pool}

	trade := sampleTrade()
	err := repo.LogTrade(ctx, trade)
	assert.NoError(t, err)

	// Verify the trade was logged
	var (
		symbol, buy, sell, mode string
		netProfit               float64
		degraded                bool
	)
	err = pool.QueryRow(ctx, "SELECT symbol, buy_exchange, sell_exchange, net_profit, mode, degraded FROM trade_executions WHERE trade_id = $1", trade.TradeID).Scan(
		&symbol, &buy, &sell, &netProfit, &mode, &degraded,
	)
	assert.NoError(t, err)
	assert.Equal(t, trade.Opportunity.Symbol, symbol)
	assert.Equal(t, trade.Opportunity.BuyVenue, buy)
	assert.Equal(t, trade.Opportunity.SellVenue, sell)
	assert.InDelta(t, trade.Costs.NetProfit, netProfit, 1e-8)
	assert.Equal(t, "simulated", mode)
	assert.True(t, degraded)

	assert.Error(t, repo.LogTrade(ctx, trade), "records are append-only")
}

func TestPostgresRepository_LogGovernorEvent(t *testing.T) {
	if pool == nil {
		t.Skip("postgres container not available")
	}
	ctx := context.Background()
	repo := &PostgresRepository{Pool: pool}

	require.NoError(t, repo.LogGovernorEvent(ctx, sampleEvent()))

	var kind, reason string
	err := pool.QueryRow(ctx, "SELECT kind, reason FROM governor_events ORDER BY id DESC LIMIT 1").Scan(&kind, &reason)
	require.NoError(t, err)
	assert.Equal(t, "kill_switch_activated", kind)
	assert.Contains(t, reason, "-510.00")
}

func TestSQLiteRepository(t *testing.T) {
	ctx := context.Background()
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "audit.sqlite"))
	require.NoError(t, err)
	defer repo.Close()
	require.NoError(t, repo.Migrate(ctx))
	require.NoError(t, repo.Migrate(ctx), "migrations are repeatable")

	trade := sampleTrade()
	require.NoError(t, repo.LogTrade(ctx, trade))
	require.NoError(t, repo.LogGovernorEvent(ctx, sampleEvent()))

	var symbol string
	var netProfit float64
	err = repo.db.QueryRowContext(ctx, "SELECT symbol, net_profit FROM trade_executions WHERE trade_id = ?", trade.TradeID).Scan(&symbol, &netProfit)
	require.NoError(t, err)
	assert.Equal(t, "BTC/EUR", symbol)
	assert.InDelta(t, -5.501, netProfit, 1e-9)

	var events int
	require.NoError(t, repo.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM governor_events").Scan(&events))
	assert.Equal(t, 1, events)
}
