package main

import (
	"context"
	"fmt"

	"github.com/fgeck/esxi-control/internal/config"
	"github.com/fgeck/esxi-control/internal/models"
	"github.com/fgeck/esxi-control/internal/report"
	"github.com/fgeck/esxi-control/internal/services/ssh"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Check reachability and SSH login of every target",
	Long:  `Ping every guest and host and log in over SSH without powering anything off.`,
	RunE:  probeTargets,
}

func probeTargets(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}

	gateway := ssh.New(log.Logger, cfg.Settings)
	rows := probe(cmd.Context(), gateway, cfg.Inventory, cfg.Settings.Parallelism)

	fmt.Fprint(cmd.OutOrStdout(), report.Probe(rows))
	return nil
}

// probe tests every target and returns one row per target, guests first.
func probe(ctx context.Context, gateway ssh.Service, inv models.Inventory, parallelism int) []report.ProbeRow {
	if ctx == nil {
		ctx = context.Background()
	}

	var rows []report.ProbeRow
	var targets []models.Target
	for _, h := range inv.Hosts {
		for _, vm := range h.VMs {
			rows = append(rows, report.ProbeRow{Host: h.Name})
			targets = append(targets, vm.Target())
		}
	}
	for _, h := range inv.Hosts {
		rows = append(rows, report.ProbeRow{})
		targets = append(targets, h.Target())
	}

	var g errgroup.Group
	g.SetLimit(max(parallelism, 1))
	for i, target := range targets {
		g.Go(func() error {
			result := gateway.TestConnection(ctx, target)
			rows[i].Kind = target.Kind
			rows[i].Name = target.Name
			rows[i].Address = target.Address
			rows[i].Reachable = result.Reachable
			rows[i].LoggedIn = result.Connected
			if result.Error != nil {
				rows[i].Error = result.Error.Error()
			}
			return nil
		})
	}
	_ = g.Wait()

	return rows
}
