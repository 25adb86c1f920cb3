package main

import (
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "arbiter",
	Short: "Cross-venue spot arbitrage engine with a risk governor",
	Long: `Arbiter scans configured venues for cross-venue spot arbitrage, costs and
sizes the best opportunity, and executes it behind a daily-loss governor.

Commands:
  serve        - Run the HTTP command surface and venue streams
  scan         - Scan symbols once and print the opportunities as JSON
  kill-switch  - Activate or deactivate the governor kill switch

Configuration is read from config.yaml in the --config directory and from
environment variables such as ARBITRAGE_LIVE or RISK_DAILY_PNL_LIMIT.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", ".", "directory containing config.yaml")
}
