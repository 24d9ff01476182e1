// Package eval measures retrieval quality against a fixed set of
// golden queries, in the pack's golden-query benchmark idiom: each
// query names the memory ids a good engine must surface, and the
// harness reports Recall@k and MRR per query plus an aggregate.
package eval

import (
	"context"

	"github.com/mycelicmemory/memcore/internal/retrieval"
)

// GoldenQuery is one query paired with the memory ids considered
// relevant to it, ordered by nothing in particular — relevance is a
// set, not a ranking.
type GoldenQuery struct {
	Name        string
	Query       retrieval.Query
	RelevantIDs []string
}

// QueryResult is one golden query's measured outcome.
type QueryResult struct {
	Name        string
	RecallAtK   float64
	MRR         float64
	ResultCount int
}

// Report aggregates QueryResults with their mean Recall@k and MRR.
type Report struct {
	Results       []QueryResult
	MeanRecallAtK float64
	MeanMRR       float64
}

// Engine is the subset of retrieval.Engine the harness depends on.
type Engine interface {
	Search(ctx context.Context, q retrieval.Query) (*retrieval.ResultSet, error)
}

// Run executes every golden query against engine and scores it.
func Run(ctx context.Context, engine Engine, queries []GoldenQuery) (Report, error) {
	var report Report
	for _, gq := range queries {
		rs, err := engine.Search(ctx, gq.Query)
		if err != nil {
			return report, err
		}

		relevant := make(map[string]bool, len(gq.RelevantIDs))
		for _, id := range gq.RelevantIDs {
			relevant[id] = true
		}

		var hits int
		mrr := 0.0
		for rank, r := range rs.Results {
			if !relevant[r.Memory.ID] {
				continue
			}
			hits++
			if mrr == 0 {
				mrr = 1.0 / float64(rank+1)
			}
		}

		recall := 0.0
		if len(relevant) > 0 {
			recall = float64(hits) / float64(len(relevant))
		}

		report.Results = append(report.Results, QueryResult{
			Name:        gq.Name,
			RecallAtK:   recall,
			MRR:         mrr,
			ResultCount: len(rs.Results),
		})
	}

	n := float64(len(report.Results))
	if n > 0 {
		var sumRecall, sumMRR float64
		for _, r := range report.Results {
			sumRecall += r.RecallAtK
			sumMRR += r.MRR
		}
		report.MeanRecallAtK = sumRecall / n
		report.MeanMRR = sumMRR / n
	}
	return report, nil
}
