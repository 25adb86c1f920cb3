package main

import (
	"arbiter/internal/arbitrage"
	"arbiter/internal/config"
	"arbiter/internal/database"
	"arbiter/internal/exchange"
	"arbiter/internal/model"
	"arbiter/internal/notify"
	"arbiter/internal/risk"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/grafana/pyroscope-go"
	"github.com/redis/go-redis/v9"
)

// app holds the wired components shared by every command.
type app struct {
	cfg         config.Config
	logger      *slog.Logger
	repo        database.Repository
	notifier    notify.Notifier
	governor    *risk.Governor
	venues      *exchange.Registry
	coordinator *arbitrage.Coordinator
	closers     []func()
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("cannot load config: %w", err)
	}
	a := &app{cfg: cfg, logger: newLogger(cfg.Log)}

	if err := a.openRepository(ctx); err != nil {
		a.Close()
		return nil, err
	}
	a.notifier = notify.Nop{}
	if cfg.Notify.TelegramToken != "" {
		a.notifier = notify.NewTelegram(cfg.Notify.APIURL, cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID)
	}

	store, err := a.governorStore(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	sink := arbitrage.NewGovernorEvents(a.logger, a.repo, a.notifier)
	a.governor, err = risk.NewGovernor(cfg.Risk.DailyPnLLimit, a.logger, risk.WithStore(store), risk.WithEventSink(sink))
	if err != nil {
		a.Close()
		return nil, err
	}

	a.venues, err = exchange.FromConfig(cfg, a.logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.coordinator = arbitrage.NewCoordinator(a.logger, a.repo, a.notifier, a.venues, a.governor, &a.cfg)
	return a, nil
}

func (a *app) openRepository(ctx context.Context) error {
	switch a.cfg.Database.Driver {
	case "postgres":
		repo, err := database.NewPostgresRepository(ctx, a.cfg.Database.DSN())
		if err != nil {
			return fmt.Errorf("cannot connect to database: %w", err)
		}
		a.repo = repo
		a.closers = append(a.closers, repo.Close)
	case "sqlite":
		repo, err := database.NewSQLiteRepository(a.cfg.Database.SQLitePath)
		if err != nil {
			return fmt.Errorf("cannot open sqlite database: %w", err)
		}
		a.repo = repo
		a.closers = append(a.closers, func() { _ = repo.Close() })
	default:
		a.repo = database.Nop{}
		return nil
	}
	if err := a.repo.Migrate(ctx); err != nil {
		return fmt.Errorf("cannot migrate database: %w", err)
	}
	a.logger.Info("Audit database ready", "driver", a.cfg.Database.Driver)
	return nil
}

func (a *app) governorStore(ctx context.Context) (risk.Store, error) {
	if a.cfg.Risk.Store != "redis" {
		return risk.NewMemoryStore(), nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     a.cfg.Redis.Addr,
		Username: a.cfg.Redis.Username,
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("cannot connect to redis at %s: %w", a.cfg.Redis.Addr, err)
	}
	a.closers = append(a.closers, func() { _ = rdb.Close() })
	a.logger.Info("Governor state in redis", "addr", a.cfg.Redis.Addr, "prefix", a.cfg.Redis.KeyPrefix)
	return risk.NewRedisStore(rdb, a.cfg.Redis.KeyPrefix), nil
}

// startStreams runs the websocket feed of every venue with streaming
// enabled and routes its quotes through a shared book. The coordinator is
// rebuilt over the cached venues.
func (a *app) startStreams(ctx context.Context) {
	book := exchange.NewQuoteBook()
	quotes := make(chan model.Quote, 256)
	wrapped := exchange.NewRegistry()
	streaming := 0

	for _, name := range a.venues.Names() {
		v, _ := a.venues.Get(name)
		s, ok := v.(exchange.Streamer)
		if !ok || !a.cfg.Exchanges[name].Stream {
			wrapped.Register(v)
			continue
		}
		streaming++
		go func() {
			if err := s.StartStream(ctx, quotes, a.cfg.Arbitrage.Symbols); err != nil {
				a.logger.Error("Stream stopped", "venue", name, "error", err)
			}
		}()
		wrapped.Register(exchange.Cached(v, book, a.cfg.Arbitrage.QuoteMaxAge()))
	}
	if streaming == 0 {
		return
	}
	go book.Consume(ctx, quotes)
	a.venues = wrapped
	a.coordinator = arbitrage.NewCoordinator(a.logger, a.repo, a.notifier, a.venues, a.governor, &a.cfg)
	a.logger.Info("Venue streams started", "count", streaming)
}

type pyroscopeLogger struct {
	logger *slog.Logger
}

func (l pyroscopeLogger) Infof(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l pyroscopeLogger) Debugf(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l pyroscopeLogger) Errorf(format string, args ...any) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (a *app) startProfiler() error {
	addr := a.cfg.Profiling.PyroscopeAddr
	if addr == "" {
		addr = "http://localhost:4040"
	}
	profiler, err := pyroscope.Start(pyroscope.Config{
		ApplicationName: "arbiter",
		ServerAddress:   addr,
		Tags: map[string]string{
			"live": fmt.Sprint(a.cfg.Arbitrage.Live),
		},
		Logger: pyroscopeLogger{logger: a.logger},
		ProfileTypes: []pyroscope.ProfileType{
			pyroscope.ProfileCPU,
			pyroscope.ProfileAllocObjects,
			pyroscope.ProfileAllocSpace,
			pyroscope.ProfileInuseObjects,
			pyroscope.ProfileInuseSpace,
		},
	})
	if err != nil {
		return fmt.Errorf("pyroscope start failed: %w", err)
	}
	a.closers = append(a.closers, func() { _ = profiler.Stop() })
	a.logger.Info("Profiling enabled", "server", addr)
	return nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
