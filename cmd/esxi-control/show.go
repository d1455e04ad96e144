package main

import (
	"fmt"

	"github.com/fgeck/esxi-control/internal/config"
	"github.com/fgeck/esxi-control/internal/report"
	"github.com/spf13/cobra"
)

var (
	showSecrets bool
	showSummary bool
)

var showCmd = &cobra.Command{
	Use:   "show [host [vm]]",
	Short: "Display the inventory",
	Long:  `Display every host and guest of the inventory, a single host, or a single guest of a host.`,
	Args:  cobra.MaximumNArgs(2),
	RunE:  showInventory,
}

func init() {
	showCmd.Flags().BoolVar(&showSecrets, "secrets", false, "show passwords")
	showCmd.Flags().BoolVar(&showSummary, "summary", false, "show host and guest counts only")
}

func showInventory(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()

	switch {
	case showSummary:
		fmt.Fprint(out, report.InventorySummary(cfg.Inventory))
	case len(args) == 2:
		rendered, err := report.Guest(cfg.Inventory, args[0], args[1], showSecrets)
		if err != nil {
			return err
		}
		fmt.Fprint(out, rendered)
	case len(args) == 1:
		rendered, err := report.Host(cfg.Inventory, args[0], showSecrets)
		if err != nil {
			return err
		}
		fmt.Fprint(out, rendered)
	default:
		fmt.Fprint(out, report.Inventory(cfg.Inventory, showSecrets))
	}

	return nil
}
