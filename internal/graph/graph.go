// Package graph implements auto-association (spec §4.6): on every
// write, the newly saved memory is linked to its nearest vector
// neighbors above a similarity threshold.
package graph

import (
	"context"

	"github.com/google/uuid"

	"github.com/mycelicmemory/memcore/internal/backend"
	"github.com/mycelicmemory/memcore/internal/logging"
	"github.com/mycelicmemory/memcore/internal/model"
)

var log = logging.GetLogger("graph")

// TopN is the number of nearest vector neighbors considered per write.
const TopN = 5

// Graph auto-associates newly written memories with their nearest
// semantic neighbors.
type Graph struct {
	vectors   backend.VectorStore
	meta      backend.MetadataStore
	threshold float64
}

// New returns a Graph that creates RelatedTo edges for neighbors with
// cosine similarity at or above threshold (spec default 0.85).
func New(vectors backend.VectorStore, meta backend.MetadataStore, threshold float64) *Graph {
	return &Graph{vectors: vectors, meta: meta, threshold: threshold}
}

// AutoAssociate finds m's top-N nearest neighbors in vectors and, for
// each one at or above the threshold, creates a RelatedTo edge unless
// an edge of the same or stronger relation already connects the pair.
// It returns the associations it created (possibly empty).
func (g *Graph) AutoAssociate(ctx context.Context, m *model.Memory, vec []float32) ([]*model.Association, error) {
	if vec == nil {
		return nil, nil
	}

	neighbors, err := g.vectors.Search(ctx, vec, TopN+1, nil)
	if err != nil {
		return nil, backend.Wrap(backend.KindBackendFailure, "search vector neighbors for auto-associate", err)
	}

	existing, err := g.meta.IncidentEdges(ctx, m.ID)
	if err != nil {
		return nil, backend.Wrap(backend.KindBackendFailure, "load incident edges for auto-associate", err)
	}

	var created []*model.Association
	for _, n := range neighbors {
		if n.ID == m.ID {
			continue
		}
		if n.Sim < g.threshold {
			continue
		}
		if g.hasStrongerOrEqualEdge(existing, m.ID, n.ID, n.Sim) {
			continue
		}

		a := &model.Association{
			ID:           uuid.NewString(),
			SourceID:     m.ID,
			TargetID:     n.ID,
			RelationType: model.RelationRelatedTo,
			Weight:       n.Sim,
		}
		if err := g.meta.Associate(ctx, a); err != nil {
			log.Warn("auto-associate failed", "source", m.ID, "target", n.ID, "error", err)
			continue
		}
		created = append(created, a)
	}

	return created, nil
}

// hasStrongerOrEqualEdge reports whether an edge already connects
// source and target that is either a non-RelatedTo relation (more
// specific than the auto-generated default) or a RelatedTo edge whose
// weight is already at least as strong as the newly observed
// similarity.
func (g *Graph) hasStrongerOrEqualEdge(existing []*model.Association, source, target string, sim float64) bool {
	for _, e := range existing {
		var other string
		switch {
		case e.SourceID == source && e.TargetID == target:
			other = target
		case e.SourceID == target && e.TargetID == source:
			other = source
		default:
			continue
		}
		if other != target {
			continue
		}
		if e.RelationType != model.RelationRelatedTo {
			return true
		}
		if e.Weight >= sim {
			return true
		}
	}
	return false
}
