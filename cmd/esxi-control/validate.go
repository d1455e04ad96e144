package main

import (
	"fmt"

	"github.com/fgeck/esxi-control/internal/config"
	"github.com/fgeck/esxi-control/internal/report"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the inventory file",
	Long:  `Validate the inventory file without contacting any host.`,
	RunE:  validateConfig,
}

func validateConfig(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		log.Error().Err(err).Str("file", configFile).Msg("configuration validation failed")
		return err
	}

	out := cmd.OutOrStdout()

	// Print configuration summary
	fmt.Fprintln(out, "Configuration is valid!")
	fmt.Fprintln(out)
	fmt.Fprint(out, report.InventorySummary(cfg.Inventory))
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Settings:")
	fmt.Fprintf(out, "  Settle duration: %s\n", cfg.Settings.SettleDuration)
	fmt.Fprintf(out, "  Parallelism: %d\n", cfg.Settings.Parallelism)
	fmt.Fprintf(out, "  SSH connect timeout: %s\n", cfg.Settings.SSH.ConnectTimeout)
	fmt.Fprintf(out, "  SSH command timeout: %s\n", cfg.Settings.SSH.CommandTimeout)
	fmt.Fprintf(out, "  Ping: %d probe(s) within %s\n", cfg.Settings.Ping.Count, cfg.Settings.Ping.Timeout)
	if cfg.Settings.Ping.Privileged {
		fmt.Fprintln(out, "  Ping mode: privileged (raw ICMP, needs root or CAP_NET_RAW)")
	} else {
		fmt.Fprintln(out, "  Ping mode: unprivileged (UDP, needs net.ipv4.ping_group_range to include this user)")
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Optional Features:")
	fmt.Fprintf(out, "  Telegram: %v\n", cfg.Telegram != nil)
	fmt.Fprintf(out, "  Metrics: %v\n", cfg.Metrics != nil)

	if cfg.Telegram != nil {
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Telegram Configuration:")
		fmt.Fprintf(out, "  Chat ID: %s\n", cfg.Telegram.ChatID)
		fmt.Fprintf(out, "  Bot Token: (configured)\n")
	}

	if cfg.Metrics != nil {
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Metrics Configuration:")
		fmt.Fprintf(out, "  Textfile: %s\n", cfg.Metrics.Textfile)
	}

	return nil
}
