package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mycelicmemory/memcore/internal/model"
	"github.com/mycelicmemory/memcore/internal/retrieval"
)

var (
	// remember flags
	rememberType       string
	rememberImportance float64
	rememberSource     string

	// search flags
	searchMode     string
	searchLimit    int
	searchType     string
	searchMinImp   float64
	searchUseGraph bool
)

var rememberCmd = &cobra.Command{
	Use:   "remember <content>",
	Short: "Store a memory",
	Long: `Store a new memory with the given content, embed it, auto-associate it
into the graph, and track it in working memory.

Examples:
  memcore remember "Go channels are like pipes between goroutines"
  memcore remember "user prefers dark mode" --type preference --importance 0.8
  memcore remember "deploy failed at 3am" --type event --source tool_output`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		content := strings.Join(args, " ")
		return runRemember(cmd.Context(), content)
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search memories",
	Long: `Search stored memories through hybrid lexical/vector/graph/recency/
importance fusion.

Examples:
  memcore search "concurrency patterns"
  memcore search "outages" --mode hybrid_with_graph --limit 5
  memcore search "preferences" --type preference`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := strings.Join(args, " ")
		return runSearch(cmd.Context(), query)
	},
}

var getCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Get a memory by id",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runGet(cmd.Context(), args[0])
	},
}

var forgetCmd = &cobra.Command{
	Use:   "forget <id>",
	Short: "Soft-delete a memory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runForget(cmd.Context(), args[0])
	},
}

func init() {
	rootCmd.AddCommand(rememberCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(forgetCmd)

	rememberCmd.Flags().StringVarP(&rememberType, "type", "t", "fact", "memory type (identity, goal, decision, todo, preference, fact, event, observation)")
	rememberCmd.Flags().Float64VarP(&rememberImportance, "importance", "i", 0.5, "importance in [0,1]")
	rememberCmd.Flags().StringVarP(&rememberSource, "source", "s", "agent_observation", "source reliability level")

	searchCmd.Flags().StringVarP(&searchMode, "mode", "m", "hybrid", "retrieval mode (text_only, vector_only, hybrid, hybrid_with_graph)")
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "l", 10, "maximum results to return")
	searchCmd.Flags().StringVar(&searchType, "type", "", "filter by memory type")
	searchCmd.Flags().Float64Var(&searchMinImp, "min_importance", 0, "filter out memories below this importance")
	searchCmd.Flags().BoolVar(&searchUseGraph, "rrf", false, "use reciprocal-rank fusion instead of weighted-sum (hybrid mode only)")
}

func runRemember(ctx context.Context, content string) error {
	_, sys, err := loadSystem(ctx)
	if err != nil {
		return err
	}
	defer sys.Close()

	memType := model.MemoryType(rememberType)
	if !model.IsValidMemoryType(memType) {
		return fmt.Errorf("invalid memory type %q", rememberType)
	}
	source, ok := parseSourceReliability(rememberSource)
	if !ok {
		return fmt.Errorf("invalid source reliability %q", rememberSource)
	}

	m, err := sys.Cortex.Remember(ctx, content, memType, rememberImportance, source)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "stored %s (%s, importance=%.2f)\n", m.ID, m.Type, m.Importance)
	return nil
}

func runSearch(ctx context.Context, query string) error {
	cfg, sys, err := loadSystem(ctx)
	if err != nil {
		return err
	}
	defer sys.Close()

	mode := retrieval.Mode(searchMode)
	q := retrieval.Query{
		Text:    query,
		Mode:    mode,
		Limit:   searchLimit,
		Weights: cfg.HybridWeights,
		UseRRF:  searchUseGraph,
		Filters: retrieval.Filters{
			Type:          model.MemoryType(searchType),
			MinImportance: searchMinImp,
		},
	}

	rs, err := sys.Cortex.Engine.Search(ctx, q)
	if err != nil {
		return err
	}
	if len(rs.DegradedSources) > 0 {
		fmt.Fprintf(os.Stderr, "warning: degraded sources: %s\n", strings.Join(rs.DegradedSources, ", "))
	}
	for i, r := range rs.Results {
		fmt.Fprintf(os.Stdout, "%d. [%.4f] %s (%s) %s\n    %s\n", i+1, r.Score, r.Memory.ID, r.Memory.Type, r.Memory.Content, r.Explanation)
	}
	return nil
}

func runGet(ctx context.Context, id string) error {
	_, sys, err := loadSystem(ctx)
	if err != nil {
		return err
	}
	defer sys.Close()

	m, err := sys.Cortex.Recall(ctx, id)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "%s (%s) importance=%.2f confidence=%.2f forgotten=%v\n%s\n",
		m.ID, m.Type, m.Importance, m.Confidence.Score, m.Forgotten, m.Content)
	return nil
}

func runForget(ctx context.Context, id string) error {
	_, sys, err := loadSystem(ctx)
	if err != nil {
		return err
	}
	defer sys.Close()

	if err := sys.Cortex.Forget(ctx, id); err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "forgot %s\n", id)
	return nil
}

func parseSourceReliability(s string) (model.SourceReliability, bool) {
	switch s {
	case "unknown":
		return model.SourceUnknown, true
	case "speculation":
		return model.SourceSpeculation, true
	case "inference":
		return model.SourceInference, true
	case "second_hand":
		return model.SourceSecondHand, true
	case "user_statement":
		return model.SourceUserStatement, true
	case "agent_observation":
		return model.SourceAgentObservation, true
	case "tool_output":
		return model.SourceToolOutput, true
	case "verified_document":
		return model.SourceVerifiedDocument, true
	case "ground_truth":
		return model.SourceGroundTruth, true
	default:
		return 0, false
	}
}
