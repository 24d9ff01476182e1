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

var (
	// Version is set during build.
	Version = "0.1.0"

	cfgFile  string
	logLevel string
	quiet    bool
)

// rootCmd represents the base command.
var rootCmd = &cobra.Command{
	Use:   "memcore",
	Short: "Typed, graph-connected memory substrate for AI agents",
	Long: `memcore stores typed memories with confidence scoring, links them
through a weighted association graph, and retrieves them through
hybrid lexical/vector/graph/recency/importance fusion.

Examples:
  memcore remember "Go channels are like pipes between goroutines"
  memcore search "concurrency patterns"
  memcore maintenance run
  memcore stats`,
	Version: Version,
}

// Execute adds all child commands to the root command and runs it.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log_level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "suppress non-essential output")
}

// loadSystem loads configuration, initializes logging, and wires a
// full System. Callers must Close() the returned System.
func loadSystem(ctx context.Context) (*config.Config, *wiring.System, error) {
	var cfg *config.Config
	var err error
	if cfgFile != "" {
		cfg, err = config.WatchFile(cfgFile, nil)
		if err == nil {
			err = cfg.Validate()
		}
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	level := logLevel
	if quiet {
		level = "error"
	}
	logging.Init(logging.Config{Level: level, Format: "console", Output: "stderr"})

	sys, err := wiring.Build(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("wiring system: %w", err)
	}
	return cfg, sys, nil
}
