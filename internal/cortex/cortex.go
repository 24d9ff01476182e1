package cortex

import (
	"context"

	"github.com/google/uuid"

	"github.com/mycelicmemory/memcore/internal/backend"
	"github.com/mycelicmemory/memcore/internal/embedder"
	"github.com/mycelicmemory/memcore/internal/eventbus"
	"github.com/mycelicmemory/memcore/internal/ftindex"
	"github.com/mycelicmemory/memcore/internal/graph"
	"github.com/mycelicmemory/memcore/internal/logging"
	"github.com/mycelicmemory/memcore/internal/metrics"
	"github.com/mycelicmemory/memcore/internal/model"
	"github.com/mycelicmemory/memcore/internal/retrieval"
)

var log = logging.GetLogger("cortex")

// Cortex is the agent-facing layer atop Store and Retrieval (spec
// §4.8): it owns working memory, episodes, and a context builder, and
// is the entry point agents call to remember and recall.
type Cortex struct {
	store    backend.MetadataStore
	vectors  backend.VectorStore
	fulltext *ftindex.Index
	embed    embedder.Embedder
	graph    *graph.Graph
	bus      *eventbus.Bus

	Working  *WorkingMemory
	Episodes *EpisodeManager
	Context  *ContextBuilder
	Engine   *retrieval.Engine
}

// Dependencies bundles everything Cortex composes. ExperienceStore may
// be the same concrete value as Store if it implements both traits.
type Dependencies struct {
	Store                  backend.MetadataStore
	ExperienceStore        backend.ExperienceStore
	Vectors                backend.VectorStore
	FullText               *ftindex.Index
	Embed                  embedder.Embedder
	AutoAssociateThreshold float64
	GraphDepth             int
	Bus                    *eventbus.Bus
	RetrievalMetrics       *metrics.Retrieval
}

// New wires a Cortex from its dependencies.
func New(deps Dependencies, workingCapacity int, attentionDecay float64) *Cortex {
	g := graph.New(deps.Vectors, deps.Store, deps.AutoAssociateThreshold)
	engine := retrieval.New(deps.Store, deps.Vectors, deps.FullText, deps.Embed, deps.GraphDepth, deps.RetrievalMetrics)

	return &Cortex{
		store:    deps.Store,
		vectors:  deps.Vectors,
		fulltext: deps.FullText,
		embed:    deps.Embed,
		graph:    g,
		bus:      deps.Bus,
		Working:  NewWorkingMemory(workingCapacity, attentionDecay),
		Episodes: NewEpisodeManager(deps.ExperienceStore),
		Context:  NewContextBuilder(engine),
		Engine:   engine,
	}
}

// Remember saves a new memory, embeds and upserts it into the vector
// index when an Embedder is configured, auto-associates it into the
// graph, links it to the currently open episode (if any), promotes it
// into working memory, and publishes a NewMemory pulse.
func (c *Cortex) Remember(ctx context.Context, content string, memType model.MemoryType, importance float64, source model.SourceReliability) (*model.Memory, error) {
	m := &model.Memory{
		ID:         uuid.NewString(),
		Content:    content,
		Type:       memType,
		Importance: importance,
		Confidence: model.DefaultConfidenceRecord(source),
	}

	if err := c.store.Save(ctx, m); err != nil {
		return nil, err
	}

	if c.fulltext != nil {
		if err := c.fulltext.Upsert(ctx, m.ID, content, source.String()); err != nil {
			log.Warn("fulltext upsert failed", "id", m.ID, "error", err)
		}
	}

	var vec []float32
	if c.embed != nil {
		v, err := c.embed.Embed(ctx, content)
		if err != nil {
			log.Warn("embedding failed, memory stored without a vector", "id", m.ID, "error", err)
		} else {
			vec = v
			if err := c.vectors.Upsert(ctx, m.ID, vec, map[string]string{"type": string(m.Type), "session_id": m.SessionID}); err != nil {
				log.Warn("vector upsert failed", "id", m.ID, "error", err)
			}
		}
	}

	if vec != nil {
		if _, err := c.graph.AutoAssociate(ctx, m, vec); err != nil {
			log.Warn("auto-associate failed", "id", m.ID, "error", err)
		}
	}

	if err := c.Episodes.LinkIfOpen(ctx, m.ID); err != nil {
		log.Warn("episode auto-link failed", "id", m.ID, "error", err)
	}

	c.Working.ThinkAbout(m.ID)

	if c.bus != nil {
		c.bus.Publish(eventbus.Pulse{Type: eventbus.PulseNewMemory, MemoryID: m.ID})
	}

	return m, nil
}

// Recall loads a memory by id and promotes it into working memory.
func (c *Cortex) Recall(ctx context.Context, id string) (*model.Memory, error) {
	m, err := c.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	c.Working.ThinkAbout(id)
	return m, nil
}

// Forget soft-deletes a memory in Store and removes it from VecIndex
// and FullText, so an explicit forget leaves it unreachable by every
// retrieval path rather than only the metadata one.
func (c *Cortex) Forget(ctx context.Context, id string) error {
	if err := c.store.Forget(ctx, id); err != nil {
		return err
	}
	if c.vectors != nil {
		if err := c.vectors.Remove(ctx, id); err != nil {
			log.Warn("vector removal failed during forget", "id", id, "error", err)
		}
	}
	if c.fulltext != nil {
		if err := c.fulltext.Remove(ctx, id); err != nil {
			log.Warn("fulltext removal failed during forget", "id", id, "error", err)
		}
	}
	if c.bus != nil {
		c.bus.Publish(eventbus.Pulse{Type: eventbus.PulseForgotten, MemoryID: id})
	}
	return nil
}
