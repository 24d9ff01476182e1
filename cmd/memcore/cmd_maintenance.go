package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mycelicmemory/memcore/internal/logging"
	"github.com/mycelicmemory/memcore/internal/wiring"
	"github.com/mycelicmemory/memcore/pkg/config"
)

var maintenanceDryRun bool

var maintenanceCmd = &cobra.Command{
	Use:   "maintenance",
	Short: "Run or schedule the decay/prune/hard-delete job",
}

var maintenanceRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one maintenance pass immediately",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMaintenanceOnce(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(maintenanceCmd)
	maintenanceCmd.AddCommand(maintenanceRunCmd)
	maintenanceRunCmd.Flags().BoolVar(&maintenanceDryRun, "dry_run", false, "report what would change without persisting it")
}

func runMaintenanceOnce(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if maintenanceDryRun {
		cfg.Maintenance.DryRun = true
	}
	logging.Init(logging.Config{Level: logLevel, Format: "console", Output: "stderr"})

	sys, err := wiring.Build(ctx, cfg)
	if err != nil {
		return fmt.Errorf("wiring system: %w", err)
	}
	defer sys.Close()

	report, err := sys.Maintenance.RunOnce(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "decayed=%d pruned=%d hard_deleted=%d dry_run=%v duration=%s\n",
		report.Decayed, report.Pruned, report.HardDeleted, report.DryRun, report.Duration)
	return nil
}
