package main

import (
	"arbiter/internal/model"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var killSwitchReason string

var killSwitchCmd = &cobra.Command{
	Use:   "kill-switch <activate|deactivate|status>",
	Short: "Control the governor kill switch",
	Long: `Kill-switch changes the governor state directly. With risk.store set to
redis the change applies to every running instance; with the memory store it
only affects this process and is mostly useful for checking configuration.

Examples:
  arbiter kill-switch activate --reason "exchange maintenance"
  arbiter kill-switch deactivate
  arbiter kill-switch status`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"activate", "deactivate", "status"},
	RunE:      runKillSwitch,
}

func init() {
	rootCmd.AddCommand(killSwitchCmd)
	killSwitchCmd.Flags().StringVarP(&killSwitchReason, "reason", "r", "", "reason recorded with the halt")
}

func runKillSwitch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if a.cfg.Risk.Store != "redis" {
		a.logger.Warn("Governor store is in-memory; the change is not shared")
	}

	var st model.GovernorState
	switch args[0] {
	case "activate":
		st, err = a.governor.Activate(ctx, killSwitchReason)
	case "deactivate":
		st, err = a.governor.Deactivate(ctx)
	case "status":
		st, err = a.governor.Snapshot(ctx)
	default:
		return fmt.Errorf("unknown action %q", args[0])
	}
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(st)
}
