package cortex

import (
	"context"
	"testing"

	"github.com/mycelicmemory/memcore/internal/embedder"
	"github.com/mycelicmemory/memcore/internal/eventbus"
	"github.com/mycelicmemory/memcore/internal/model"
)

func TestRememberSavesEmbedsAndTracksWorkingMemory(t *testing.T) {
	meta := &ctxMeta{memories: map[string]*model.Memory{}}
	store := &savingMeta{ctxMeta: meta}
	bus := eventbus.New()
	ch, unsubscribe := bus.Subscribe(4)
	defer unsubscribe()

	expStore := newFakeExperienceStore()

	c := New(Dependencies{
		Store:                  store,
		ExperienceStore:        expStore,
		Vectors:                ctxVectors{},
		FullText:               nil,
		Embed:                  embedder.NewStub(8),
		AutoAssociateThreshold: 0.85,
		GraphDepth:             1,
		Bus:                    bus,
	}, 20, 0.9)

	m, err := c.Remember(context.Background(), "remember this fact", model.MemoryTypeFact, 0.6, model.SourceAgentObservation)
	if err != nil {
		t.Fatalf("remember failed: %v", err)
	}
	if !store.ctxMeta.exists(m.ID) {
		t.Fatalf("expected memory persisted in store")
	}
	if !c.Working.Resident(m.ID) {
		t.Fatalf("expected remembered memory to be resident in working memory")
	}

	select {
	case p := <-ch:
		if p.Type != eventbus.PulseNewMemory || p.MemoryID != m.ID {
			t.Fatalf("unexpected pulse: %+v", p)
		}
	default:
		t.Fatalf("expected a NewMemory pulse to be published")
	}
}

func TestRememberLinksToOpenEpisode(t *testing.T) {
	meta := &ctxMeta{memories: map[string]*model.Memory{}}
	store := &savingMeta{ctxMeta: meta}
	expStore := newFakeExperienceStore()

	c := New(Dependencies{
		Store:                  store,
		ExperienceStore:        expStore,
		Vectors:                ctxVectors{},
		Embed:                  embedder.NewStub(8),
		AutoAssociateThreshold: 0.85,
		GraphDepth:             1,
	}, 20, 0.9)

	ep, err := c.Episodes.Start(context.Background(), "debugging session", "working on bug #1")
	if err != nil {
		t.Fatalf("start episode failed: %v", err)
	}

	m, err := c.Remember(context.Background(), "found the root cause", model.MemoryTypeObservation, 0.7, model.SourceAgentObservation)
	if err != nil {
		t.Fatalf("remember failed: %v", err)
	}

	if len(expStore.links[ep.ID]) != 1 || expStore.links[ep.ID][0] != m.ID {
		t.Fatalf("expected %s auto-linked to episode %s, got %v", m.ID, ep.ID, expStore.links[ep.ID])
	}
}

func TestForgetRemovesFromStoreAndVectors(t *testing.T) {
	meta := &ctxMeta{memories: map[string]*model.Memory{}}
	store := &savingMeta{ctxMeta: meta}
	vectors := &trackingVectors{}
	bus := eventbus.New()
	ch, unsubscribe := bus.Subscribe(4)
	defer unsubscribe()

	c := New(Dependencies{
		Store:           store,
		ExperienceStore: newFakeExperienceStore(),
		Vectors:         vectors,
		Embed:           embedder.NewStub(8),
		Bus:             bus,
	}, 20, 0.9)

	m, err := c.Remember(context.Background(), "to be forgotten", model.MemoryTypeFact, 0.5, model.SourceUserStatement)
	if err != nil {
		t.Fatalf("remember failed: %v", err)
	}

	// drain the NewMemory pulse before asserting on the Forgotten one.
	<-ch

	if err := c.Forget(context.Background(), m.ID); err != nil {
		t.Fatalf("forget failed: %v", err)
	}

	if !store.forgotten[m.ID] {
		t.Fatalf("expected store.Forget called for %s", m.ID)
	}
	if !vectors.removed[m.ID] {
		t.Fatalf("expected vectors.Remove called for %s", m.ID)
	}

	select {
	case p := <-ch:
		if p.Type != eventbus.PulseForgotten || p.MemoryID != m.ID {
			t.Fatalf("unexpected pulse: %+v", p)
		}
	default:
		t.Fatalf("expected a Forgotten pulse to be published")
	}
}

// savingMeta wraps ctxMeta so Save and Forget actually persist, since
// ctxMeta's own versions are no-ops suited to context_test.go's
// read-only fixtures.
type savingMeta struct {
	*ctxMeta
	forgotten map[string]bool
}

func (s *savingMeta) Save(ctx context.Context, m *model.Memory) error {
	s.ctxMeta.memories[m.ID] = m
	return nil
}

func (s *savingMeta) Forget(ctx context.Context, id string) error {
	if s.forgotten == nil {
		s.forgotten = map[string]bool{}
	}
	s.forgotten[id] = true
	return nil
}

func (c *ctxMeta) exists(id string) bool {
	_, ok := c.memories[id]
	return ok
}

// trackingVectors records which ids were removed, alongside the usual
// no-op ctxVectors behavior.
type trackingVectors struct {
	ctxVectors
	removed map[string]bool
}

func (v *trackingVectors) Remove(ctx context.Context, id string) error {
	if v.removed == nil {
		v.removed = map[string]bool{}
	}
	v.removed[id] = true
	return nil
}
