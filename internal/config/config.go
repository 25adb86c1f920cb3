package config

import (
	"arbiter/internal/model"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config stores all configuration for the application.
// The values are read by viper from a config file or environment variables.
type Config struct {
	Arbitrage ArbitrageConfig
	Risk      RiskConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Exchanges map[string]ExchangeConfig
	Notify    NotifyConfig
	Server    ServerConfig
	Metrics   MetricsConfig
	Profiling ProfilingConfig
	Log       LogConfig
}

// ArbitrageConfig defines the scanning and cost settings.
type ArbitrageConfig struct {
	Symbols               []string `mapstructure:"symbols"`
	Venues                []string `mapstructure:"venues"`
	MinSpreadPercent      float64  `mapstructure:"min_spread_percent"`
	MinProfitThreshold    float64  `mapstructure:"min_profit_threshold"`
	AlertThresholdPercent float64  `mapstructure:"alert_threshold_percent"`
	EstimatedVolume       float64  `mapstructure:"estimated_volume"`
	MakerFeeRate          float64  `mapstructure:"maker_fee_rate"`
	WithdrawalFee         float64  `mapstructure:"withdrawal_fee"`
	SlippageRate          float64  `mapstructure:"slippage_rate"`
	QuoteTimeoutMS        int      `mapstructure:"quote_timeout_ms"`
	QuoteMaxAgeMS         int      `mapstructure:"quote_max_age_ms"`
	CooldownMS            int      `mapstructure:"cooldown_ms"`
	Live                  bool     `mapstructure:"live"`
}

// QuoteTimeout is the per-venue fetch deadline.
func (a ArbitrageConfig) QuoteTimeout() time.Duration {
	return time.Duration(a.QuoteTimeoutMS) * time.Millisecond
}

// QuoteMaxAge bounds how old a streamed quote may be before REST is used.
func (a ArbitrageConfig) QuoteMaxAge() time.Duration {
	return time.Duration(a.QuoteMaxAgeMS) * time.Millisecond
}

// Cooldown is the advised pause between auto-execute cycles.
func (a ArbitrageConfig) Cooldown() time.Duration {
	return time.Duration(a.CooldownMS) * time.Millisecond
}

// RiskConfig defines governor and sizing settings.
type RiskConfig struct {
	DailyPnLLimit float64            `mapstructure:"daily_pnl_limit"`
	Store         string             `mapstructure:"store"`
	Sizing        model.SizingPolicy `mapstructure:"sizing"`
}

// DatabaseConfig defines the database connection settings.
type DatabaseConfig struct {
	Driver     string
	Host       string
	Port       int
	User       string
	Password   string
	DBName     string
	SQLitePath string `mapstructure:"sqlite_path"`
}

// DSN returns the postgres connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s", d.User, d.Password, d.Host, d.Port, d.DBName)
}

// RedisConfig defines the shared governor store connection.
type RedisConfig struct {
	Addr      string
	Username  string
	Password  string
	DB        int
	KeyPrefix string `mapstructure:"key_prefix"`
}

// ExchangeConfig defines settings for a specific exchange.
type ExchangeConfig struct {
	RestURL   string `mapstructure:"rest_url"`
	WsURL     string `mapstructure:"ws_url"`
	APIKey    string `mapstructure:"api_key"`
	APISecret string `mapstructure:"api_secret"`
	Stream    bool   `mapstructure:"stream"`
}

// NotifyConfig defines the Telegram alert channel.
type NotifyConfig struct {
	TelegramToken  string `mapstructure:"telegram_token"`
	TelegramChatID string `mapstructure:"telegram_chat_id"`
	APIURL         string `mapstructure:"api_url"`
}

// ServerConfig defines the HTTP command surface.
type ServerConfig struct {
	Addr string
}

// MetricsConfig toggles the /metrics route.
type MetricsConfig struct {
	Enabled bool
}

// ProfilingConfig enables continuous profiling when an address is set.
type ProfilingConfig struct {
	PyroscopeAddr string `mapstructure:"pyroscope_addr"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string
	Format string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("arbitrage.symbols", []string{"BTC/EUR"})
	v.SetDefault("arbitrage.venues", []string{"binance", "kraken"})
	v.SetDefault("arbitrage.min_spread_percent", 0.1)
	v.SetDefault("arbitrage.min_profit_threshold", 1.0)
	v.SetDefault("arbitrage.alert_threshold_percent", 0.5)
	v.SetDefault("arbitrage.estimated_volume", 0.01)
	v.SetDefault("arbitrage.maker_fee_rate", 0.001)
	v.SetDefault("arbitrage.withdrawal_fee", 5.0)
	v.SetDefault("arbitrage.slippage_rate", 0.0005)
	v.SetDefault("arbitrage.quote_timeout_ms", 2000)
	v.SetDefault("arbitrage.quote_max_age_ms", 3000)
	v.SetDefault("arbitrage.cooldown_ms", 30000)

	v.SetDefault("risk.daily_pnl_limit", -500.0)
	v.SetDefault("risk.store", "memory")
	v.SetDefault("risk.sizing.base_size", 0.01)
	v.SetDefault("risk.sizing.min_size", 0.001)
	v.SetDefault("risk.sizing.max_size", 0.05)
	v.SetDefault("risk.sizing.scale_down_at_70", true)
	v.SetDefault("risk.sizing.scale_down_at_90", true)
	v.SetDefault("risk.sizing.profit_bonus_scale", 1000.0)

	v.SetDefault("database.driver", "none")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sqlite_path", "arbiter.sqlite")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.key_prefix", "arbiter:")
	v.SetDefault("notify.api_url", "https://api.telegram.org")
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// LoadConfig reads configuration from file or environment variables.
// A missing config file is not an error; defaults and environment apply.
func LoadConfig(path string) (config Config, err error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err = v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return
		}
		err = nil
	}

	if err = v.Unmarshal(&config); err != nil {
		return
	}
	err = config.Validate()
	return
}

// Validate rejects configurations the engine cannot run with.
func (c Config) Validate() error {
	var errs []error
	a := c.Arbitrage
	if len(a.Symbols) == 0 {
		errs = append(errs, errors.New("arbitrage.symbols must not be empty"))
	}
	if len(a.Venues) < 2 {
		errs = append(errs, errors.New("arbitrage.venues needs at least two venues"))
	}
	if a.MakerFeeRate < 0 || a.SlippageRate < 0 || a.WithdrawalFee < 0 {
		errs = append(errs, errors.New("arbitrage fee, slippage and withdrawal values must not be negative"))
	}
	if a.EstimatedVolume <= 0 {
		errs = append(errs, errors.New("arbitrage.estimated_volume must be positive"))
	}
	if a.QuoteTimeoutMS <= 0 {
		errs = append(errs, errors.New("arbitrage.quote_timeout_ms must be positive"))
	}
	if c.Risk.DailyPnLLimit >= 0 {
		errs = append(errs, fmt.Errorf("risk.daily_pnl_limit must be negative, got %.2f", c.Risk.DailyPnLLimit))
	}
	if err := ValidateSizing(c.Risk.Sizing); err != nil {
		errs = append(errs, err)
	}
	switch c.Risk.Store {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Errorf("unknown risk.store %q", c.Risk.Store))
	}
	switch c.Database.Driver {
	case "none", "postgres", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("unknown database.driver %q", c.Database.Driver))
	}
	return errors.Join(errs...)
}

// ValidateSizing checks a sizing policy for consistency.
func ValidateSizing(p model.SizingPolicy) error {
	if p.MinSize <= 0 {
		return errors.New("sizing min_size must be positive")
	}
	if p.MaxSize < p.MinSize {
		return fmt.Errorf("sizing max_size %.8f is below min_size %.8f", p.MaxSize, p.MinSize)
	}
	if p.BaseSize <= 0 {
		return errors.New("sizing base_size must be positive")
	}
	if p.ProfitBonusScale <= 0 {
		return errors.New("sizing profit_bonus_scale must be positive")
	}
	return nil
}
