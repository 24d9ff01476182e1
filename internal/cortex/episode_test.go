package cortex

import (
	"context"
	"testing"
	"time"

	"github.com/mycelicmemory/memcore/internal/backend"
	"github.com/mycelicmemory/memcore/internal/model"
)

type fakeExperienceStore struct {
	experiences map[string]*model.Experience
	links       map[string][]string
}

func newFakeExperienceStore() *fakeExperienceStore {
	return &fakeExperienceStore{experiences: map[string]*model.Experience{}, links: map[string][]string{}}
}

func (f *fakeExperienceStore) SaveExperience(ctx context.Context, e *model.Experience) error {
	if _, ok := f.experiences[e.ID]; ok {
		return backend.New(backend.KindDuplicate, "already exists")
	}
	f.experiences[e.ID] = e
	return nil
}

func (f *fakeExperienceStore) EndExperience(ctx context.Context, id string, endedAt time.Time) error {
	e, ok := f.experiences[id]
	if !ok || e.EndedAt != nil {
		return nil
	}
	t := endedAt
	e.EndedAt = &t
	return nil
}

func (f *fakeExperienceStore) LinkMemory(ctx context.Context, experienceID, memoryID string) error {
	f.links[experienceID] = append(f.links[experienceID], memoryID)
	return nil
}

func (f *fakeExperienceStore) LoadExperience(ctx context.Context, id string) (*model.Experience, error) {
	e, ok := f.experiences[id]
	if !ok {
		return nil, backend.New(backend.KindNotFound, "not found")
	}
	cp := *e
	cp.MemoryIDs = f.links[id]
	return &cp, nil
}

func TestStartRejectsSecondOpenEpisode(t *testing.T) {
	store := newFakeExperienceStore()
	m := NewEpisodeManager(store)

	if _, err := m.Start(context.Background(), "first", "ctx"); err != nil {
		t.Fatalf("first start failed: %v", err)
	}
	if _, err := m.Start(context.Background(), "second", "ctx"); !backend.Is(err, backend.KindValidation) {
		t.Fatalf("expected Validation error for second open episode, got %v", err)
	}
}

func TestEndClosesEpisodeAndAllowsNewOne(t *testing.T) {
	store := newFakeExperienceStore()
	m := NewEpisodeManager(store)

	e, _ := m.Start(context.Background(), "first", "ctx")
	if err := m.End(context.Background()); err != nil {
		t.Fatalf("end failed: %v", err)
	}
	if m.Current() != nil {
		t.Fatalf("expected no open episode after End")
	}
	if store.experiences[e.ID].EndedAt == nil {
		t.Fatalf("expected experience marked ended in the store")
	}

	if _, err := m.Start(context.Background(), "second", "ctx"); err != nil {
		t.Fatalf("expected starting a new episode to succeed after ending the first: %v", err)
	}
}

func TestLinkIfOpenLinksToCurrentEpisode(t *testing.T) {
	store := newFakeExperienceStore()
	m := NewEpisodeManager(store)
	e, _ := m.Start(context.Background(), "first", "ctx")

	if err := m.LinkIfOpen(context.Background(), "mem1"); err != nil {
		t.Fatalf("link failed: %v", err)
	}
	if len(store.links[e.ID]) != 1 || store.links[e.ID][0] != "mem1" {
		t.Fatalf("expected mem1 linked to %s, got %v", e.ID, store.links[e.ID])
	}
}

func TestLinkIfOpenNoOpWhenNoneOpen(t *testing.T) {
	store := newFakeExperienceStore()
	m := NewEpisodeManager(store)

	if err := m.LinkIfOpen(context.Background(), "mem1"); err != nil {
		t.Fatalf("expected no-op, got error: %v", err)
	}
}
