package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fgeck/esxi-control/internal/config"
	"github.com/fgeck/esxi-control/internal/models"
	"github.com/fgeck/esxi-control/internal/services/runner"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var errShutdownFailed = errors.New("shutdown failed")

var (
	settleOverride  time.Duration
	metricsTextfile string
)

var shutdownCmd = &cobra.Command{
	Use:   "shutdown",
	Short: "Power off every guest, then every host",
	Long: `Execute the shutdown sequence:
1. Power off every guest VM (sudo poweroff, failures are tolerated)
2. Wait for the settle duration
3. Power off every ESXi host (failures fail the run)
4. Send Telegram notification and write metrics (if configured)

Prints true or false on stdout. The exit status is 1 when any host failed.`,
	RunE:  runShutdown,
}

func init() {
	shutdownCmd.Flags().DurationVar(&settleOverride, "settle", -1, "override the settle duration between guests and hosts")
	shutdownCmd.Flags().StringVar(&metricsTextfile, "metrics-textfile", "", "write node_exporter metrics here when the inventory has no metrics section")
}

func runShutdown(cmd *cobra.Command, args []string) error {
	// Set up context with signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			log.Warn().Str("signal", sig.String()).Msg("received signal, remaining targets will fail fast")
			cancel()
		case <-ctx.Done():
		}
	}()

	runnerSvc := runner.NewWithLoader(log.Logger, runner.LoaderFunc(loadWithOverrides))
	runnerSvc.SetMetricsTextfile(metricsTextfile)

	summary := runnerSvc.Shutdown(ctx, configFile)

	fmt.Fprintln(cmd.OutOrStdout(), summary.Success)
	if !summary.Success {
		return errShutdownFailed
	}
	return nil
}

func loadWithOverrides(path string) (*models.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if settleOverride >= 0 {
		cfg.Settings.SettleDuration = settleOverride
	}
	return cfg, nil
}
