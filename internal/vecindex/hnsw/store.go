package hnsw

import (
	"context"
	"sync"

	"github.com/mycelicmemory/memcore/internal/backend"
)

// Store adapts an Index to the backend.VectorStore trait, adding the
// per-id metadata HNSW itself doesn't model (used for session/type
// filtering in Search).
type Store struct {
	idx *Index

	mu       sync.RWMutex
	metadata map[string]map[string]string
}

// NewStore wraps a fresh embedded HNSW index of the given dimension as
// a VectorStore.
func NewStore(dims int) *Store {
	return WrapIndex(New(dims))
}

// WrapIndex adapts an already-constructed Index (e.g. via
// NewWithParams for custom tuning) as a VectorStore.
func WrapIndex(idx *Index) *Store {
	return &Store{idx: idx, metadata: make(map[string]map[string]string)}
}

func (s *Store) Name() string   { return "hnsw-embedded" }
func (s *Store) Dimension() int { return s.idx.Dims() }

func (s *Store) Upsert(ctx context.Context, id string, vec []float32, metadata map[string]string) error {
	if len(vec) != s.idx.Dims() {
		return backend.New(backend.KindValidation, "vector dimension mismatch")
	}
	s.idx.Insert(id, vec)
	s.mu.Lock()
	s.metadata[id] = metadata
	s.mu.Unlock()
	return nil
}

func (s *Store) Remove(ctx context.Context, id string) error {
	s.idx.Remove(id)
	s.mu.Lock()
	delete(s.metadata, id)
	s.mu.Unlock()
	return nil
}

func (s *Store) Exists(ctx context.Context, id string) (bool, error) {
	return s.idx.Has(id), nil
}

// Search returns the top k matches by cosine similarity, reported in
// [-1,1] per spec §4.3. filter restricts results by the metadata
// stashed at Upsert time; a nil filter performs no restriction.
func (s *Store) Search(ctx context.Context, vec []float32, k int, filter *backend.VectorFilter) ([]backend.VectorPoint, error) {
	if len(vec) != s.idx.Dims() {
		return nil, backend.New(backend.KindValidation, "vector dimension mismatch")
	}

	widened := k
	if filter != nil {
		widened = k * 4
		if widened < k {
			widened = k
		}
	}

	results := s.idx.Search(vec, widened)

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]backend.VectorPoint, 0, k)
	for _, r := range results {
		meta := s.metadata[r.ID]
		if filter != nil {
			if filter.SessionID != "" && meta["session_id"] != filter.SessionID {
				continue
			}
			if filter.Type != "" && meta["memory_type"] != string(filter.Type) {
				continue
			}
		}
		sim := 1 - float64(r.Distance)
		out = append(out, backend.VectorPoint{ID: r.ID, Sim: sim, Metadata: meta})
		if len(out) == k {
			break
		}
	}
	return out, nil
}
