package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mycelicmemory/memcore/internal/backend"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize the memory store's contents",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStats(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
}

func runStats(ctx context.Context) error {
	_, sys, err := loadSystem(ctx)
	if err != nil {
		return err
	}
	defer sys.Close()

	live, err := sys.Meta.Query(ctx, backend.MemoryFilter{MaxResults: 0})
	if err != nil {
		return err
	}
	all, err := sys.Meta.Query(ctx, backend.MemoryFilter{IncludeForgotten: true, MaxResults: 0})
	if err != nil {
		return err
	}

	byType := map[string]int{}
	var totalImportance float64
	for _, m := range live {
		byType[string(m.Type)]++
		totalImportance += m.Importance
	}

	fmt.Fprintf(os.Stdout, "live memories:     %d\n", len(live))
	fmt.Fprintf(os.Stdout, "forgotten memories: %d\n", len(all)-len(live))
	if len(live) > 0 {
		fmt.Fprintf(os.Stdout, "mean importance:   %.3f\n", totalImportance/float64(len(live)))
	}
	for t, n := range byType {
		fmt.Fprintf(os.Stdout, "  %-12s %d\n", t, n)
	}
	return nil
}
