package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/mycelicmemory/memcore/internal/backend"
	"github.com/mycelicmemory/memcore/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db)
}

func newTestMemory(id string) *model.Memory {
	return &model.Memory{
		ID:         id,
		Content:    "Rust is memory-safe",
		Type:       model.MemoryTypeFact,
		Importance: 0.7,
		Confidence: model.DefaultConfidenceRecord(model.SourceAgentObservation),
	}
}

func TestSaveAndLoad(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	m := newTestMemory("m1")
	if err := s.Save(ctx, m); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	got, err := s.Load(ctx, "m1")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if got.Content != m.Content || got.Type != m.Type {
		t.Fatalf("round-trip mismatch: got %+v", got)
	}
	if got.LastAccessedAt.Before(got.CreatedAt) {
		t.Fatalf("last_accessed_at must be >= created_at")
	}
}

func TestSaveDuplicateRejected(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	m := newTestMemory("dup")
	if err := s.Save(ctx, m); err != nil {
		t.Fatalf("first save failed: %v", err)
	}
	err := s.Save(ctx, newTestMemory("dup"))
	if !backend.Is(err, backend.KindDuplicate) {
		t.Fatalf("expected Duplicate, got %v", err)
	}
}

func TestLoadUnknownIsNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Load(context.Background(), "missing")
	if !backend.Is(err, backend.KindNotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestForgetIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	m := newTestMemory("f1")
	s.Save(ctx, m)

	if err := s.Forget(ctx, "f1"); err != nil {
		t.Fatalf("first forget failed: %v", err)
	}
	if err := s.Forget(ctx, "f1"); err != nil {
		t.Fatalf("second forget should be a no-op, got: %v", err)
	}

	got, _ := s.Load(ctx, "f1")
	if !got.Forgotten {
		t.Fatalf("expected forgotten=true")
	}
}

func TestTouchAdvancesAccessCounters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	m := newTestMemory("t1")
	s.Save(ctx, m)

	if err := s.Touch(ctx, []string{"t1"}); err != nil {
		t.Fatalf("touch failed: %v", err)
	}
	got, _ := s.Load(ctx, "t1")
	if got.AccessCount != 1 {
		t.Fatalf("expected access_count=1, got %d", got.AccessCount)
	}

	s.Touch(ctx, []string{"t1"})
	got, _ = s.Load(ctx, "t1")
	if got.AccessCount != 2 {
		t.Fatalf("expected access_count=2, got %d", got.AccessCount)
	}
}

func TestQueryFiltersByTypeAndImportance(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.Save(ctx, newTestMemory("q1"))
	goal := newTestMemory("q2")
	goal.Type = model.MemoryTypeGoal
	goal.Importance = 0.2
	s.Save(ctx, goal)

	min := 0.5
	results, err := s.Query(ctx, backend.MemoryFilter{Type: model.MemoryTypeFact, MinImportance: &min})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(results) != 1 || results[0].ID != "q1" {
		t.Fatalf("expected only q1, got %+v", results)
	}
}

func TestAssociateRejectsSelfLoop(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	s.Save(ctx, newTestMemory("a1"))

	err := s.Associate(ctx, &model.Association{ID: "e1", SourceID: "a1", TargetID: "a1", RelationType: model.RelationRelatedTo, Weight: 0.5})
	if !backend.Is(err, backend.KindValidation) {
		t.Fatalf("expected Validation for self-loop, got %v", err)
	}
}

func TestAssociateIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	s.Save(ctx, newTestMemory("a1"))
	s.Save(ctx, newTestMemory("a2"))

	edge := &model.Association{ID: "e1", SourceID: "a1", TargetID: "a2", RelationType: model.RelationRelatedTo, Weight: 0.9}
	if err := s.Associate(ctx, edge); err != nil {
		t.Fatalf("first associate failed: %v", err)
	}
	edge2 := &model.Association{ID: "e2", SourceID: "a1", TargetID: "a2", RelationType: model.RelationRelatedTo, Weight: 0.9}
	if err := s.Associate(ctx, edge2); err != nil {
		t.Fatalf("second identical associate should be a no-op, got: %v", err)
	}

	edges, err := s.IncidentEdges(ctx, "a1")
	if err != nil {
		t.Fatalf("incident edges failed: %v", err)
	}
	if len(edges) != 1 {
		t.Fatalf("expected exactly one edge after idempotent associate, got %d", len(edges))
	}
}

func TestNeighborsBreadthFirstWithTieBreak(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	root := newTestMemory("n0")
	strong := newTestMemory("n1")
	strong.Importance = 0.9
	weak := newTestMemory("n2")
	weak.Importance = 0.1
	s.Save(ctx, root)
	s.Save(ctx, strong)
	s.Save(ctx, weak)

	s.Associate(ctx, &model.Association{ID: "ne1", SourceID: "n0", TargetID: "n2", RelationType: model.RelationRelatedTo, Weight: 0.5})
	s.Associate(ctx, &model.Association{ID: "ne2", SourceID: "n0", TargetID: "n1", RelationType: model.RelationRelatedTo, Weight: 0.5})

	refs, err := s.Neighbors(ctx, "n0", 1, nil)
	if err != nil {
		t.Fatalf("neighbors failed: %v", err)
	}
	if len(refs) != 2 {
		t.Fatalf("expected 2 neighbors, got %d", len(refs))
	}
	if refs[0].ID != "n1" {
		t.Fatalf("expected n1 first (higher importance tie-break), got %s", refs[0].ID)
	}
}

func TestHardDeleteCascadesAssociations(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	s.Save(ctx, newTestMemory("h1"))
	s.Save(ctx, newTestMemory("h2"))
	s.Associate(ctx, &model.Association{ID: "he1", SourceID: "h1", TargetID: "h2", RelationType: model.RelationRelatedTo, Weight: 0.5})

	if err := s.Forget(ctx, "h1"); err != nil {
		t.Fatalf("forget failed: %v", err)
	}
	if err := s.HardDelete(ctx, "h1"); err != nil {
		t.Fatalf("hard delete failed: %v", err)
	}

	if _, err := s.Load(ctx, "h1"); !backend.Is(err, backend.KindNotFound) {
		t.Fatalf("expected NotFound after hard delete, got %v", err)
	}
	edges, err := s.IncidentEdges(ctx, "h2")
	if err != nil {
		t.Fatalf("incident edges failed: %v", err)
	}
	if len(edges) != 0 {
		t.Fatalf("expected cascade to remove incident edges, got %d", len(edges))
	}
}

func TestConcurrentSavesAndQueries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	done := make(chan error, 20)
	for i := 0; i < 10; i++ {
		go func(i int) {
			m := newTestMemory("c" + string(rune('a'+i)))
			done <- s.Save(ctx, m)
		}(i)
	}
	for i := 0; i < 10; i++ {
		go func() {
			_, err := s.Query(ctx, backend.MemoryFilter{MaxResults: 5})
			done <- err
		}()
	}
	for i := 0; i < 20; i++ {
		if err := <-done; err != nil {
			t.Fatalf("concurrent operation failed: %v", err)
		}
	}
}

func TestUpdateUnknownIsNotFound(t *testing.T) {
	s := newTestStore(t)
	m := newTestMemory("missing-update")
	err := s.Update(context.Background(), m)
	if !backend.Is(err, backend.KindNotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestHealthCheck(t *testing.T) {
	s := newTestStore(t)
	if err := s.HealthCheck(context.Background()); err != nil {
		t.Fatalf("health check failed: %v", err)
	}
}
