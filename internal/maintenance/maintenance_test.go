package maintenance

import (
	"context"
	"testing"
	"time"

	"github.com/mycelicmemory/memcore/internal/backend"
	"github.com/mycelicmemory/memcore/internal/model"
	"github.com/mycelicmemory/memcore/pkg/config"
)

type fakeStore struct {
	memories map[string]*model.Memory
	forgot   []string
	deleted  []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{memories: map[string]*model.Memory{}}
}

func (f *fakeStore) Save(ctx context.Context, m *model.Memory) error { return nil }
func (f *fakeStore) Load(ctx context.Context, id string) (*model.Memory, error) {
	m, ok := f.memories[id]
	if !ok {
		return nil, backend.New(backend.KindNotFound, "not found")
	}
	return m, nil
}
func (f *fakeStore) Update(ctx context.Context, m *model.Memory) error {
	f.memories[m.ID] = m
	return nil
}
func (f *fakeStore) Forget(ctx context.Context, id string) error {
	m, ok := f.memories[id]
	if !ok {
		return backend.New(backend.KindNotFound, "not found")
	}
	m.Forgotten = true
	now := time.Now().UTC()
	m.ForgottenAt = &now
	f.forgot = append(f.forgot, id)
	return nil
}
func (f *fakeStore) Touch(ctx context.Context, ids []string) error { return nil }
func (f *fakeStore) Query(ctx context.Context, filter backend.MemoryFilter) ([]*model.Memory, error) {
	var out []*model.Memory
	for _, m := range f.memories {
		if !filter.IncludeForgotten && m.Forgotten {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}
func (f *fakeStore) Associate(ctx context.Context, a *model.Association) error { return nil }
func (f *fakeStore) Neighbors(ctx context.Context, id string, depth int, relationFilter []model.RelationType) ([]model.NeighborRef, error) {
	return nil, nil
}
func (f *fakeStore) IncidentEdges(ctx context.Context, id string) ([]*model.Association, error) {
	return nil, nil
}
func (f *fakeStore) HardDelete(ctx context.Context, id string) error {
	f.deleted = append(f.deleted, id)
	delete(f.memories, id)
	return nil
}
func (f *fakeStore) HealthCheck(ctx context.Context) error { return nil }
func (f *fakeStore) Name() string                          { return "fake" }

func baseCfg() config.MaintenanceConfig {
	return config.MaintenanceConfig{
		DecayRate:         0.05,
		PruneThreshold:    0.1,
		MinAgeDays:        30,
		HardRetentionDays: 90,
	}
}

func TestRunOnceDecaysOldUnaccessedMemory(t *testing.T) {
	store := newFakeStore()
	now := time.Now().UTC()
	store.memories["a"] = &model.Memory{
		ID: "a", Importance: 0.8, Confidence: model.ConfidenceRecord{Score: 0.9},
		CreatedAt: now.Add(-60 * 24 * time.Hour), LastAccessedAt: now.Add(-60 * 24 * time.Hour),
	}

	j := New(store, nil, nil, nil, nil, baseCfg())
	report, err := j.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if report.Decayed != 1 {
		t.Fatalf("expected 1 decayed, got %d", report.Decayed)
	}
	if store.memories["a"].Importance >= 0.8 {
		t.Fatalf("expected importance to decrease, got %v", store.memories["a"].Importance)
	}
}

func TestRunOncePrunesLowImportanceUnaccessed(t *testing.T) {
	store := newFakeStore()
	now := time.Now().UTC()
	store.memories["a"] = &model.Memory{
		ID: "a", Importance: 0.05, AccessCount: 0, Confidence: model.ConfidenceRecord{Score: 0.5},
		CreatedAt: now.Add(-40 * 24 * time.Hour), LastAccessedAt: now.Add(-40 * 24 * time.Hour),
	}

	j := New(store, nil, nil, nil, nil, baseCfg())
	report, err := j.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if report.Pruned != 1 {
		t.Fatalf("expected 1 pruned, got %d", report.Pruned)
	}
	if !store.memories["a"].Forgotten {
		t.Fatalf("expected memory marked forgotten")
	}
}

func TestRunOnceHardDeletesOldForgotten(t *testing.T) {
	store := newFakeStore()
	now := time.Now().UTC()
	forgottenAt := now.Add(-100 * 24 * time.Hour)
	store.memories["a"] = &model.Memory{
		ID: "a", Forgotten: true, ForgottenAt: &forgottenAt,
		CreatedAt: now.Add(-200 * 24 * time.Hour), Confidence: model.ConfidenceRecord{Score: 0.5},
	}

	j := New(store, nil, nil, nil, nil, baseCfg())
	report, err := j.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if report.HardDeleted != 1 {
		t.Fatalf("expected 1 hard deleted, got %d", report.HardDeleted)
	}
	if _, ok := store.memories["a"]; ok {
		t.Fatalf("expected memory to be physically removed")
	}
}

func TestRunOnceDryRunMakesNoChanges(t *testing.T) {
	store := newFakeStore()
	now := time.Now().UTC()
	store.memories["a"] = &model.Memory{
		ID: "a", Importance: 0.05, AccessCount: 0, Confidence: model.ConfidenceRecord{Score: 0.5},
		CreatedAt: now.Add(-40 * 24 * time.Hour), LastAccessedAt: now.Add(-40 * 24 * time.Hour),
	}

	cfg := baseCfg()
	cfg.DryRun = true
	j := New(store, nil, nil, nil, nil, cfg)
	report, err := j.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if report.Pruned != 1 {
		t.Fatalf("expected dry-run to still count, got %d", report.Pruned)
	}
	if store.memories["a"].Forgotten {
		t.Fatalf("expected dry-run to leave the memory untouched")
	}
}
