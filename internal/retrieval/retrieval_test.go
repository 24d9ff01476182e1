package retrieval

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mycelicmemory/memcore/internal/backend"
	"github.com/mycelicmemory/memcore/internal/ftindex"
	"github.com/mycelicmemory/memcore/internal/model"
)

type fakeFullText struct {
	hits []ftindex.Hit
	err  error
}

func (f *fakeFullText) Search(ctx context.Context, query string, topK int, fuzzy bool) ([]ftindex.Hit, error) {
	return f.hits, f.err
}

type fakeVectors struct {
	points []backend.VectorPoint
	err    error
}

func (f *fakeVectors) Upsert(ctx context.Context, id string, vec []float32, metadata map[string]string) error {
	return nil
}
func (f *fakeVectors) Remove(ctx context.Context, id string) error { return nil }
func (f *fakeVectors) Search(ctx context.Context, vec []float32, k int, filter *backend.VectorFilter) ([]backend.VectorPoint, error) {
	return f.points, f.err
}
func (f *fakeVectors) Exists(ctx context.Context, id string) (bool, error) { return false, nil }
func (f *fakeVectors) Dimension() int                                     { return 4 }
func (f *fakeVectors) Name() string                                       { return "fake" }

type fakeMeta struct {
	memories  map[string]*model.Memory
	neighbors map[string][]model.NeighborRef
	touched   []string
}

func newFakeMeta() *fakeMeta {
	return &fakeMeta{memories: map[string]*model.Memory{}, neighbors: map[string][]model.NeighborRef{}}
}

func (f *fakeMeta) Save(ctx context.Context, m *model.Memory) error { return nil }
func (f *fakeMeta) Load(ctx context.Context, id string) (*model.Memory, error) {
	m, ok := f.memories[id]
	if !ok {
		return nil, backend.New(backend.KindNotFound, "not found")
	}
	return m, nil
}
func (f *fakeMeta) Update(ctx context.Context, m *model.Memory) error { return nil }
func (f *fakeMeta) Forget(ctx context.Context, id string) error      { return nil }
func (f *fakeMeta) Touch(ctx context.Context, ids []string) error {
	f.touched = append(f.touched, ids...)
	return nil
}
func (f *fakeMeta) Query(ctx context.Context, filter backend.MemoryFilter) ([]*model.Memory, error) {
	return nil, nil
}
func (f *fakeMeta) Associate(ctx context.Context, a *model.Association) error { return nil }
func (f *fakeMeta) Neighbors(ctx context.Context, id string, depth int, relationFilter []model.RelationType) ([]model.NeighborRef, error) {
	return f.neighbors[id], nil
}
func (f *fakeMeta) IncidentEdges(ctx context.Context, id string) ([]*model.Association, error) {
	return nil, nil
}
func (f *fakeMeta) HardDelete(ctx context.Context, id string) error { return nil }
func (f *fakeMeta) HealthCheck(ctx context.Context) error           { return nil }
func (f *fakeMeta) Name() string                                    { return "fake" }

func mkMemory(id string, importance float64, age time.Duration) *model.Memory {
	return &model.Memory{
		ID:         id,
		Content:    "content " + id,
		Type:       model.MemoryTypeFact,
		Importance: importance,
		Confidence: model.ConfidenceRecord{Score: 0.8},
		CreatedAt:  time.Now().UTC().Add(-age),
	}
}

func TestSearchTextOnlyRanksByBM25(t *testing.T) {
	meta := newFakeMeta()
	meta.memories["a"] = mkMemory("a", 0.5, time.Hour)
	meta.memories["b"] = mkMemory("b", 0.5, time.Hour)

	ft := &fakeFullText{hits: []ftindex.Hit{{ID: "a", Score: 10}, {ID: "b", Score: 5}}}
	e := New(meta, &fakeVectors{}, ft, nil, 1, nil)

	rs, err := e.Search(context.Background(), Query{Text: "hello", Mode: ModeTextOnly, Limit: 5})
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(rs.Results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(rs.Results))
	}
	if rs.Results[0].Memory.ID != "a" {
		t.Fatalf("expected a ranked first, got %s", rs.Results[0].Memory.ID)
	}
	if len(meta.touched) != 2 {
		t.Fatalf("expected touch to be called for both results, got %v", meta.touched)
	}
}

func TestSearchFiltersForgottenAndType(t *testing.T) {
	meta := newFakeMeta()
	a := mkMemory("a", 0.5, time.Hour)
	a.Forgotten = true
	meta.memories["a"] = a
	meta.memories["b"] = mkMemory("b", 0.5, time.Hour)

	ft := &fakeFullText{hits: []ftindex.Hit{{ID: "a", Score: 10}, {ID: "b", Score: 5}}}
	e := New(meta, &fakeVectors{}, ft, nil, 1, nil)

	rs, err := e.Search(context.Background(), Query{Text: "hello", Mode: ModeTextOnly, Limit: 5})
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(rs.Results) != 1 || rs.Results[0].Memory.ID != "b" {
		t.Fatalf("expected forgotten memory excluded, got %+v", rs.Results)
	}
}

func TestSearchDegradesOnPartialFailure(t *testing.T) {
	meta := newFakeMeta()
	meta.memories["a"] = mkMemory("a", 0.5, time.Hour)

	ft := &fakeFullText{hits: []ftindex.Hit{{ID: "a", Score: 10}}}
	vecs := &fakeVectors{err: errors.New("index unavailable")}
	e := New(meta, vecs, ft, stubEmbedder{}, 1, nil)

	rs, err := e.Search(context.Background(), Query{Text: "hello", Mode: ModeHybrid, Limit: 5})
	if err != nil {
		t.Fatalf("search should degrade, not fail: %v", err)
	}
	if len(rs.DegradedSources) != 1 || rs.DegradedSources[0] != "vector" {
		t.Fatalf("expected vector source marked degraded, got %v", rs.DegradedSources)
	}
	if len(rs.Results) != 1 {
		t.Fatalf("expected fulltext results to still come through, got %+v", rs.Results)
	}
}

func TestSearchFailsWhenAllSourcesFail(t *testing.T) {
	meta := newFakeMeta()
	ft := &fakeFullText{err: errors.New("fts down")}
	vecs := &fakeVectors{err: errors.New("vec down")}
	e := New(meta, vecs, ft, stubEmbedder{}, 1, nil)

	_, err := e.Search(context.Background(), Query{Text: "hello", Mode: ModeHybrid, Limit: 5})
	if !backend.Is(err, backend.KindRetrievalFailed) {
		t.Fatalf("expected KindRetrievalFailed, got %v", err)
	}
}

func TestSearchDeterministicTieBreakByID(t *testing.T) {
	meta := newFakeMeta()
	meta.memories["z"] = mkMemory("z", 0.5, time.Hour)
	meta.memories["a"] = mkMemory("a", 0.5, time.Hour)

	ft := &fakeFullText{hits: []ftindex.Hit{{ID: "z", Score: 10}, {ID: "a", Score: 10}}}
	e := New(meta, &fakeVectors{}, ft, nil, 1, nil)

	rs, err := e.Search(context.Background(), Query{Text: "hello", Mode: ModeTextOnly, Limit: 5})
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if rs.Results[0].Memory.ID != "a" {
		t.Fatalf("expected id-asc tie-break to rank a first, got %s", rs.Results[0].Memory.ID)
	}
}

func TestSearchHybridWithGraphAddsBonus(t *testing.T) {
	meta := newFakeMeta()
	meta.memories["a"] = mkMemory("a", 0.5, time.Hour)
	meta.memories["linked"] = mkMemory("linked", 0.5, 1000*time.Hour)
	meta.neighbors["a"] = []model.NeighborRef{{ID: "linked", Distance: 1, EdgeWeight: 0.9}}

	ft := &fakeFullText{hits: []ftindex.Hit{{ID: "a", Score: 10}}}
	e := New(meta, &fakeVectors{}, ft, nil, 1, nil)

	rs, err := e.Search(context.Background(), Query{Text: "hello", Mode: ModeHybridWithGraph, Limit: 5})
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	var found bool
	for _, r := range rs.Results {
		if r.Memory.ID == "linked" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected graph-expanded neighbor to appear in results, got %+v", rs.Results)
	}
}

type stubEmbedder struct{}

func (stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{0.1, 0.2, 0.3, 0.4}, nil
}
func (stubEmbedder) Dimension() int { return 4 }
func (stubEmbedder) Name() string   { return "stub" }
