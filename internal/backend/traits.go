package backend

import (
	"context"
	"time"

	"github.com/mycelicmemory/memcore/internal/model"
)

// VectorPoint is a vector search hit: an id, its similarity to the
// query, and any backend-carried metadata.
type VectorPoint struct {
	ID       string
	Sim      float64
	Metadata map[string]string
}

// VectorFilter restricts a vector search to a subset of ids. A nil
// filter performs no restriction.
type VectorFilter struct {
	SessionID string
	Type      model.MemoryType
}

// VectorStore is the trait a vector backend (embedded HNSW, Qdrant,
// ...) must satisfy. Similarity is cosine, reported in [-1,1]; callers
// convert to [0,1] for fusion per spec §4.3.
type VectorStore interface {
	Upsert(ctx context.Context, id string, vec []float32, metadata map[string]string) error
	Remove(ctx context.Context, id string) error
	Search(ctx context.Context, vec []float32, k int, filter *VectorFilter) ([]VectorPoint, error)
	Exists(ctx context.Context, id string) (bool, error)
	Dimension() int
	Name() string
}

// MemoryFilter is the composite filter Store.Query accepts (spec §4.1).
type MemoryFilter struct {
	Type             model.MemoryType
	SessionID        string
	MinImportance    *float64
	MaxImportance    *float64
	MinConfidence    *float64
	MaxConfidence    *float64
	CreatedAfter     *int64 // unix seconds
	CreatedBefore    *int64
	IncludeForgotten bool
	SortBy           string // "created_at", "importance", "last_accessed_at"
	MaxResults       int
}

// MetadataStore is the trait a relational backend (sqlite, postgres,
// ...) must satisfy: CRUD over memories and associations, plus BFS
// neighbor expansion (spec §4.1, §6).
type MetadataStore interface {
	Save(ctx context.Context, m *model.Memory) error
	Load(ctx context.Context, id string) (*model.Memory, error)
	Update(ctx context.Context, m *model.Memory) error
	Forget(ctx context.Context, id string) error
	Touch(ctx context.Context, ids []string) error
	Query(ctx context.Context, filter MemoryFilter) ([]*model.Memory, error)

	Associate(ctx context.Context, a *model.Association) error
	Neighbors(ctx context.Context, id string, depth int, relationFilter []model.RelationType) ([]model.NeighborRef, error)
	IncidentEdges(ctx context.Context, id string) ([]*model.Association, error)

	HardDelete(ctx context.Context, id string) error

	HealthCheck(ctx context.Context) error
	Name() string
}

// ExperienceStore is the trait backing Cortex episodes (spec §4.8): a
// named, time-bounded grouping of memories, persisted alongside the
// memories/associations tables a MetadataStore owns.
type ExperienceStore interface {
	SaveExperience(ctx context.Context, e *model.Experience) error
	EndExperience(ctx context.Context, id string, endedAt time.Time) error
	LinkMemory(ctx context.Context, experienceID, memoryID string) error
	LoadExperience(ctx context.Context, id string) (*model.Experience, error)
}
