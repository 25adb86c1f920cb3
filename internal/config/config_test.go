package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, []string{"BTC/EUR"}, cfg.Arbitrage.Symbols)
	assert.Equal(t, -500.0, cfg.Risk.DailyPnLLimit)
	assert.Equal(t, "memory", cfg.Risk.Store)
	assert.True(t, cfg.Risk.Sizing.ScaleDownAt90)
	assert.Equal(t, 0.01, cfg.Risk.Sizing.BaseSize)
}

func TestLoadConfig_File(t *testing.T) {
	dir := t.TempDir()
	yaml := `
arbitrage:
  symbols: ["BTC/EUR", "ETH/EUR"]
  venues: ["binance", "kraken", "paper"]
  maker_fee_rate: 0.002
risk:
  daily_pnl_limit: -250
  sizing:
    base_size: 0.02
    min_size: 0.005
    max_size: 0.1
exchanges:
  kraken:
    rest_url: "http://localhost:9000"
    stream: true
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o600))

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"BTC/EUR", "ETH/EUR"}, cfg.Arbitrage.Symbols)
	assert.Equal(t, 0.002, cfg.Arbitrage.MakerFeeRate)
	assert.Equal(t, -250.0, cfg.Risk.DailyPnLLimit)
	assert.Equal(t, 0.02, cfg.Risk.Sizing.BaseSize)
	assert.Equal(t, "http://localhost:9000", cfg.Exchanges["kraken"].RestURL)
	assert.True(t, cfg.Exchanges["kraken"].Stream)
}

func TestLoadConfig_RejectsNonNegativeLimit(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("risk:\n  daily_pnl_limit: 100\n"), 0o600))

	_, err := LoadConfig(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "daily_pnl_limit")
}

func TestValidateSizing(t *testing.T) {
	base := func() Config {
		cfg, err := LoadConfig(t.TempDir())
		require.NoError(t, err)
		return cfg
	}

	cfg := base()
	cfg.Risk.Sizing.MaxSize = cfg.Risk.Sizing.MinSize / 2
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.Risk.Store = "etcd"
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.Arbitrage.Venues = []string{"binance"}
	assert.Error(t, cfg.Validate())
}
