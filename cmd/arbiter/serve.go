package main

import (
	"arbiter/internal/server"
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

var serveProfile bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP command surface",
	Long: `Serve exposes scan, auto-execute, execute, kill-switch, pnl-limits,
position-sizing and analytics over HTTP. Venues with streaming enabled keep
a websocket feed open so scans are served from fresh quotes.

Scheduling is external: a poller or webhook calls /v1/auto-execute and
honours the nextScanAfter it returns.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().BoolVar(&serveProfile, "profile", false, "send continuous profiles to pyroscope")
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if serveProfile || a.cfg.Profiling.PyroscopeAddr != "" {
		if err := a.startProfiler(); err != nil {
			return err
		}
	}
	a.startStreams(ctx)

	srv := server.NewServer(a.cfg.Server.Addr, a.logger, a.coordinator, a.governor, a.cfg.Metrics.Enabled)
	if err := srv.Start(ctx); err != nil {
		return err
	}
	a.logger.Info("Arbiter started",
		"symbols", a.cfg.Arbitrage.Symbols,
		"venues", a.venues.Names(),
		"live", a.cfg.Arbitrage.Live,
		"dailyPnLLimit", a.cfg.Risk.DailyPnLLimit,
	)

	<-ctx.Done()
	a.logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
