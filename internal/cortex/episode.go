package cortex

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mycelicmemory/memcore/internal/backend"
	"github.com/mycelicmemory/memcore/internal/model"
)

// EpisodeManager tracks at most one open experience at a time,
// auto-linking memories remembered while it is open (spec §4.8).
type EpisodeManager struct {
	store backend.ExperienceStore

	mu   sync.Mutex
	open *model.Experience
}

// NewEpisodeManager wraps an ExperienceStore.
func NewEpisodeManager(store backend.ExperienceStore) *EpisodeManager {
	return &EpisodeManager{store: store}
}

// Start opens a new experience. It fails with *Validation if one is
// already open — callers must End it first.
func (m *EpisodeManager) Start(ctx context.Context, title, context_ string) (*model.Experience, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.open != nil {
		return nil, backend.New(backend.KindValidation, "an episode is already open; end it before starting another")
	}

	e := &model.Experience{
		ID:         uuid.NewString(),
		Title:      title,
		Context:    context_,
		StartedAt:  time.Now().UTC(),
		Importance: 0.5,
	}
	if err := m.store.SaveExperience(ctx, e); err != nil {
		return nil, err
	}
	m.open = e
	return e, nil
}

// End closes the currently open episode, if any. Ending with none open
// is a no-op.
func (m *EpisodeManager) End(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.open == nil {
		return nil
	}
	id := m.open.ID
	m.open = nil
	return m.store.EndExperience(ctx, id, time.Now().UTC())
}

// Current returns the open experience, or nil if none is open.
func (m *EpisodeManager) Current() *model.Experience {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.open
}

// LinkIfOpen links memoryID to the currently open episode, if any. It
// is a no-op (not an error) when nothing is open, since auto-linking
// is an opportunistic side effect of Remember.
func (m *EpisodeManager) LinkIfOpen(ctx context.Context, memoryID string) error {
	m.mu.Lock()
	open := m.open
	m.mu.Unlock()

	if open == nil {
		return nil
	}
	return m.store.LinkMemory(ctx, open.ID, memoryID)
}
