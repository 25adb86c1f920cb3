package main

import (
	"arbiter/internal/arbitrage"
	"encoding/json"

	"github.com/spf13/cobra"
)

var scanMinSpread float64

var scanCmd = &cobra.Command{
	Use:   "scan [symbol...]",
	Short: "Scan symbols once and print opportunities as JSON",
	Long: `Scan fetches quotes from every configured venue, detects and costs the
opportunities and prints them. Nothing is executed. Without arguments the
configured symbols are scanned.

Examples:
  arbiter scan
  arbiter scan BTC/EUR ETH/EUR --min-spread 0.2`,
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)
	scanCmd.Flags().Float64Var(&scanMinSpread, "min-spread", -1, "minimum spread percent (default from config)")
}

func runScan(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	req := arbitrage.ScanRequest{Symbols: args}
	if len(req.Symbols) == 0 {
		req.Symbols = a.cfg.Arbitrage.Symbols
	}
	if cmd.Flags().Changed("min-spread") {
		req.MinSpreadPercent = &scanMinSpread
	}

	res, err := a.coordinator.Scan(cmd.Context(), req)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}
