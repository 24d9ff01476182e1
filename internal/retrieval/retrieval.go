// Package retrieval implements the hybrid search fusion engine (spec
// §4.7): concurrent fan-out to FTIndex and VecIndex, graph expansion,
// per-candidate feature scoring, and weighted-sum or RRF fusion.
//
// Candidate generation mirrors the pack's errgroup-based parallel
// search-and-merge idiom, relaxed so one source's failure degrades
// rather than aborts the other (the spec requires partial results on
// transient index failure).
package retrieval

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mycelicmemory/memcore/internal/backend"
	"github.com/mycelicmemory/memcore/internal/embedder"
	"github.com/mycelicmemory/memcore/internal/ftindex"
	"github.com/mycelicmemory/memcore/internal/logging"
	"github.com/mycelicmemory/memcore/internal/metrics"
	"github.com/mycelicmemory/memcore/internal/model"
	"github.com/mycelicmemory/memcore/pkg/config"
)

var log = logging.GetLogger("retrieval")

// Mode selects which candidate sources Search consults.
type Mode string

const (
	ModeTextOnly        Mode = "text_only"
	ModeVectorOnly       Mode = "vector_only"
	ModeHybrid          Mode = "hybrid"
	ModeHybridWithGraph Mode = "hybrid_with_graph"
)

// recencyTau is τ_r in the recency feature exp(-age_days / τ_r).
const recencyTau = 30.0

// graphBonusCap bounds f_graph's contribution regardless of edge weight.
const graphBonusCap = 0.15

// rrfK is the rank-fusion constant in 1/(60+rank).
const rrfK = 60

// Filters restricts the candidate pool (spec §4.7 step 6).
type Filters struct {
	Type          model.MemoryType
	SessionID     string
	MinImportance float64
}

// Query is a single retrieval request.
type Query struct {
	Text    string
	Vector  []float32
	Filters Filters
	Limit   int
	Mode    Mode
	Weights config.HybridWeights
	UseRRF  bool // alternative fusion mode, only meaningful for ModeHybrid
}

// Result is one ranked memory with the reasoning behind its score.
type Result struct {
	Memory      *model.Memory
	Score       float64
	Explanation string
}

// ResultSet is Search's return value: the ranked results plus any
// partial-failure annotation.
type ResultSet struct {
	Results         []Result
	DegradedSources []string
}

// fullTextSearcher is the subset of ftindex.Index Engine depends on.
type fullTextSearcher interface {
	Search(ctx context.Context, query string, topK int, fuzzy bool) ([]ftindex.Hit, error)
}

// Engine is the hybrid retrieval engine.
type Engine struct {
	meta     backend.MetadataStore
	vectors  backend.VectorStore
	fulltext fullTextSearcher
	embed    embedder.Embedder
	graphDepth int
	metrics  *metrics.Retrieval
}

// New builds an Engine. embed may be nil (vector candidate generation
// is then skipped even in Hybrid modes). metricsCollector may be nil
// to disable instrumentation (e.g. in unit tests).
func New(meta backend.MetadataStore, vectors backend.VectorStore, fulltext fullTextSearcher, embed embedder.Embedder, graphDepth int, metricsCollector *metrics.Retrieval) *Engine {
	if graphDepth < 1 {
		graphDepth = 1
	}
	return &Engine{meta: meta, vectors: vectors, fulltext: fulltext, embed: embed, graphDepth: graphDepth, metrics: metricsCollector}
}

type candidate struct {
	id         string
	rawBM25    float64
	haveBM25   bool
	bm25Rank   int
	rawVec     float64
	haveVec    bool
	vecRank    int
	graphBonus float64
}

// Search executes the full candidate-generation, feature-scoring and
// fusion pipeline, then runs the Store.Touch side effect for every
// returned memory.
func (e *Engine) Search(ctx context.Context, q Query) (*ResultSet, error) {
	start := time.Now()
	if q.Limit <= 0 {
		q.Limit = 10
	}
	if q.Weights == (config.HybridWeights{}) {
		q.Weights = config.DefaultHybridWeights()
	}
	k := q.Limit * 4
	if k < 50 {
		k = 50
	}

	candidates := map[string]*candidate{}
	var degraded []string

	bm25Max, err1, vecErr := e.fanOut(ctx, q, k, candidates)
	if err1 != nil {
		degraded = append(degraded, "fulltext")
		log.Warn("fulltext candidate generation degraded", "error", err1)
	}
	if vecErr != nil {
		degraded = append(degraded, "vector")
		log.Warn("vector candidate generation degraded", "error", vecErr)
	}
	if len(candidates) == 0 && (err1 != nil || vecErr != nil) {
		if e.metrics != nil {
			e.metrics.SearchesTotal.WithLabelValues(string(q.Mode), "failed").Inc()
		}
		return nil, backend.New(backend.KindRetrievalFailed, "all candidate sources failed")
	}

	if q.Mode == ModeHybridWithGraph {
		e.expandGraph(ctx, q, candidates)
	}

	results, err := e.score(ctx, q, candidates, bm25Max)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(results))
	for _, r := range results {
		ids = append(ids, r.Memory.ID)
	}
	if len(ids) > 0 {
		if err := e.meta.Touch(ctx, ids); err != nil {
			log.Warn("touch batch failed", "error", err)
		}
	}

	if e.metrics != nil {
		e.metrics.SearchLatency.WithLabelValues(string(q.Mode)).Observe(time.Since(start).Seconds())
		e.metrics.SearchesTotal.WithLabelValues(string(q.Mode), "ok").Inc()
		e.metrics.CandidatesTotal.WithLabelValues(string(q.Mode)).Observe(float64(len(candidates)))
		if len(degraded) > 0 {
			e.metrics.DegradedSearches.Inc()
		}
	}

	return &ResultSet{Results: results, DegradedSources: degraded}, nil
}

// fanOut dispatches FTIndex and VecIndex search concurrently per mode,
// merging hits into candidates. It returns the per-query max raw BM25
// score (for normalization) and the two sources' errors independently
// so one failing does not hide the other's results.
func (e *Engine) fanOut(ctx context.Context, q Query, k int, candidates map[string]*candidate) (float64, error, error) {
	wantText := q.Mode == ModeTextOnly || q.Mode == ModeHybrid || q.Mode == ModeHybridWithGraph
	wantVector := (q.Mode == ModeVectorOnly || q.Mode == ModeHybrid || q.Mode == ModeHybridWithGraph) && e.embed != nil

	var ftHits []ftindex.Hit
	var vecHits []backend.VectorPoint
	var ftErr, vecErr error

	g := &errgroup.Group{}
	if wantText && q.Text != "" {
		g.Go(func() error {
			hits, err := e.fulltext.Search(ctx, q.Text, k, true)
			ftHits, ftErr = hits, err
			return nil
		})
	}
	if wantVector {
		vec := q.Vector
		if vec == nil && q.Text != "" {
			v, err := e.embed.Embed(ctx, q.Text)
			if err != nil {
				vecErr = err
				vec = nil
			} else {
				vec = v
			}
		}
		if vec != nil {
			g.Go(func() error {
				var filter *backend.VectorFilter
				if q.Filters.SessionID != "" || q.Filters.Type != "" {
					filter = &backend.VectorFilter{SessionID: q.Filters.SessionID, Type: q.Filters.Type}
				}
				hits, err := e.vectors.Search(ctx, vec, k, filter)
				vecHits, vecErr = hits, err
				return nil
			})
		}
	}
	_ = g.Wait()

	bm25Max := 0.0
	for rank, h := range ftHits {
		if h.Score > bm25Max {
			bm25Max = h.Score
		}
		c := getOrCreate(candidates, h.ID)
		c.rawBM25 = h.Score
		c.haveBM25 = true
		c.bm25Rank = rank + 1
	}
	for rank, h := range vecHits {
		c := getOrCreate(candidates, h.ID)
		c.rawVec = h.Sim
		c.haveVec = true
		c.vecRank = rank + 1
	}

	return bm25Max, ftErr, vecErr
}

func getOrCreate(candidates map[string]*candidate, id string) *candidate {
	c, ok := candidates[id]
	if !ok {
		c = &candidate{id: id}
		candidates[id] = c
	}
	return c
}

// expandGraph widens the pool by one hop from the top ⌈limit/2⌉
// candidates seen so far, ranked by whichever raw source score is
// currently available (spec §4.7 step 3).
func (e *Engine) expandGraph(ctx context.Context, q Query, candidates map[string]*candidate) {
	n := (q.Limit + 1) / 2
	if n < 1 {
		n = 1
	}

	type seed struct {
		id    string
		score float64
	}
	seeds := make([]seed, 0, len(candidates))
	for id, c := range candidates {
		s := c.rawBM25
		if c.haveVec && c.rawVec > s {
			s = c.rawVec
		}
		seeds = append(seeds, seed{id: id, score: s})
	}
	sort.Slice(seeds, func(i, j int) bool { return seeds[i].score > seeds[j].score })
	if len(seeds) > n {
		seeds = seeds[:n]
	}

	for _, s := range seeds {
		neighbors, err := e.meta.Neighbors(ctx, s.id, e.graphDepth, nil)
		if err != nil {
			continue
		}
		maxWeight := 0.0
		for _, nb := range neighbors {
			if nb.EdgeWeight > maxWeight {
				maxWeight = nb.EdgeWeight
			}
		}
		bonus := maxWeight * 0.5
		if bonus > graphBonusCap {
			bonus = graphBonusCap
		}
		for _, nb := range neighbors {
			c := getOrCreate(candidates, nb.ID)
			if bonus > c.graphBonus {
				c.graphBonus = bonus
			}
		}
	}
}

// score loads each candidate's memory, computes its feature vector,
// fuses it into a final score, filters, and orders the result.
func (e *Engine) score(ctx context.Context, q Query, candidates map[string]*candidate, bm25Max float64) ([]Result, error) {
	now := time.Now().UTC()

	type scored struct {
		memory *model.Memory
		score  float64
		explain string
	}
	var all []scored

	for _, c := range candidates {
		m, err := e.meta.Load(ctx, c.id)
		if err != nil {
			continue
		}
		if m.Forgotten {
			continue
		}
		if q.Filters.Type != "" && m.Type != q.Filters.Type {
			continue
		}
		if q.Filters.SessionID != "" && m.SessionID != q.Filters.SessionID {
			continue
		}
		if m.Importance < q.Filters.MinImportance {
			continue
		}

		fText := 0.0
		if c.haveBM25 && bm25Max > 0 {
			fText = clamp01(c.rawBM25 / bm25Max)
		}
		fVec := 0.0
		if c.haveVec {
			fVec = clamp01((c.rawVec + 1) / 2)
		}
		ageDays := now.Sub(m.CreatedAt).Hours() / 24
		if ageDays < 0 {
			ageDays = 0
		}
		fRecency := math.Exp(-ageDays / recencyTau)
		fImportance := m.Importance * m.Confidence.Score
		fGraph := c.graphBonus

		var score float64
		var parts []string
		if q.Mode == ModeHybrid && q.UseRRF {
			if c.haveBM25 {
				score += 1.0 / float64(rrfK+c.bm25Rank)
				parts = append(parts, fmt.Sprintf("bm25_rrf=%.4f", 1.0/float64(rrfK+c.bm25Rank)))
			}
			if c.haveVec {
				score += 1.0 / float64(rrfK+c.vecRank)
				parts = append(parts, fmt.Sprintf("vec_rrf=%.4f", 1.0/float64(rrfK+c.vecRank)))
			}
		} else {
			contrib := func(label string, weight, feature float64) {
				if feature == 0 {
					return
				}
				v := weight * feature
				score += v
				parts = append(parts, fmt.Sprintf("%s=%.4f", label, v))
			}
			contrib("bm25", q.Weights.BM25, fText)
			contrib("vector", q.Weights.Vector, fVec)
			contrib("recency", q.Weights.Recency, fRecency)
			contrib("importance", q.Weights.Importance, fImportance)
			contrib("graph", q.Weights.Graph, fGraph)
		}

		all = append(all, scored{memory: m, score: score, explain: strings.Join(parts, ", ")})
	}

	sort.SliceStable(all, func(i, j int) bool {
		if all[i].score != all[j].score {
			return all[i].score > all[j].score
		}
		if !all[i].memory.CreatedAt.Equal(all[j].memory.CreatedAt) {
			return all[i].memory.CreatedAt.After(all[j].memory.CreatedAt)
		}
		return all[i].memory.ID < all[j].memory.ID
	})

	if len(all) > q.Limit {
		all = all[:q.Limit]
	}

	out := make([]Result, len(all))
	for i, s := range all {
		out[i] = Result{Memory: s.memory, Score: s.score, Explanation: s.explain}
	}
	return out, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
