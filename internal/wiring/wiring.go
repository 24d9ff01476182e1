// Package wiring assembles the concrete backends selected by
// pkg/config into the trait surfaces the core depends on, mirroring
// the teacher's dependencies package that turns a loaded Config into
// live database/search/LLM handles.
package wiring

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mycelicmemory/memcore/internal/backend"
	"github.com/mycelicmemory/memcore/internal/cortex"
	"github.com/mycelicmemory/memcore/internal/embedder"
	"github.com/mycelicmemory/memcore/internal/eventbus"
	"github.com/mycelicmemory/memcore/internal/ftindex"
	"github.com/mycelicmemory/memcore/internal/logging"
	"github.com/mycelicmemory/memcore/internal/maintenance"
	"github.com/mycelicmemory/memcore/internal/metrics"
	"github.com/mycelicmemory/memcore/internal/store"
	"github.com/mycelicmemory/memcore/internal/store/postgres"
	"github.com/mycelicmemory/memcore/internal/vecindex/hnsw"
	"github.com/mycelicmemory/memcore/internal/vecindex/qdrantstore"
	"github.com/mycelicmemory/memcore/pkg/config"

	"github.com/redis/go-redis/v9"
)

var log = logging.GetLogger("wiring")

// System is every live handle a process needs, built from Config.
type System struct {
	Config *config.Config

	Meta        backend.MetadataStore
	Experiences backend.ExperienceStore
	Vectors     backend.VectorStore
	FullText    *ftindex.Index
	Embed       embedder.Embedder

	Bus         *eventbus.Bus
	Registry    *prometheus.Registry
	Metrics     *metrics.Retrieval
	MntMetrics  *metrics.Maintenance
	Maintenance *maintenance.Job
	Cortex      *cortex.Cortex

	closers []func() error
}

// Build wires every component per cfg's backend selection. Callers
// must call Close when done.
func Build(ctx context.Context, cfg *config.Config) (*System, error) {
	sys := &System{Config: cfg, Bus: eventbus.New()}

	if cfg.MetricsEnabled {
		sys.Registry = prometheus.NewRegistry()
		sys.Metrics = metrics.NewRetrieval(sys.Registry)
		sys.MntMetrics = metrics.NewMaintenance(sys.Registry)
	}

	if err := sys.buildMetadataStore(ctx, cfg); err != nil {
		return nil, err
	}
	if err := sys.buildVectorStore(ctx, cfg); err != nil {
		sys.Close()
		return nil, err
	}
	if err := sys.buildFullText(cfg); err != nil {
		sys.Close()
		return nil, err
	}
	sys.buildEmbedder(cfg)

	if cfg.PulseRedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.PulseRedisAddr})
		mirror := eventbus.NewRedisMirror(sys.Bus, client, "memcore:pulses")
		sys.closers = append(sys.closers, func() error {
			mirror.Stop()
			return client.Close()
		})
	}

	sys.Maintenance = maintenance.New(sys.Meta, sys.Vectors, sys.FullText, sys.Bus, sys.MntMetrics, cfg.Maintenance)

	sys.Cortex = cortex.New(cortex.Dependencies{
		Store:                  sys.Meta,
		ExperienceStore:        sys.Experiences,
		Vectors:                sys.Vectors,
		FullText:               sys.FullText,
		Embed:                  sys.Embed,
		AutoAssociateThreshold: cfg.AutoAssociateThreshold,
		GraphDepth:             cfg.GraphDepth,
		Bus:                    sys.Bus,
		RetrievalMetrics:       sys.Metrics,
	}, cfg.WorkingMemoryCapacity, 0.9)

	return sys, nil
}

func (s *System) buildMetadataStore(ctx context.Context, cfg *config.Config) error {
	switch cfg.MetadataBackend {
	case "", "sqlite":
		db, err := store.Open(cfg.StorePath())
		if err != nil {
			return fmt.Errorf("wiring: open sqlite store: %w", err)
		}
		s.closers = append(s.closers, db.Close)
		sqliteStore := store.New(db)
		s.Meta = sqliteStore
		s.Experiences = sqliteStore
		return nil
	case "postgres":
		pg, err := postgres.Open(ctx, cfg.Postgres.DSN)
		if err != nil {
			return fmt.Errorf("wiring: open postgres store: %w", err)
		}
		s.closers = append(s.closers, func() error { pg.Close(); return nil })
		s.Meta = pg
		s.Experiences = pg
		return nil
	default:
		return fmt.Errorf("wiring: unknown metadata_backend %q", cfg.MetadataBackend)
	}
}

func (s *System) buildVectorStore(ctx context.Context, cfg *config.Config) error {
	switch cfg.VectorBackend {
	case "", "embedded":
		s.Vectors = hnsw.NewStore(cfg.VectorDimension)
		return nil
	case "qdrant":
		qs, err := qdrantstore.Open(ctx, cfg.Qdrant.Addr, "memcore", cfg.VectorDimension)
		if err != nil {
			return fmt.Errorf("wiring: open qdrant store: %w", err)
		}
		s.closers = append(s.closers, func() error { qs.Close(); return nil })
		s.Vectors = qs
		return nil
	default:
		return fmt.Errorf("wiring: unknown vector_backend %q", cfg.VectorBackend)
	}
}

func (s *System) buildFullText(cfg *config.Config) error {
	idx, err := ftindex.Open(cfg.DataDir + "/ftindex")
	if err != nil {
		return fmt.Errorf("wiring: open fulltext index: %w", err)
	}
	s.closers = append(s.closers, idx.Close)
	s.FullText = idx
	return nil
}

func (s *System) buildEmbedder(cfg *config.Config) {
	switch cfg.EmbedderBackend {
	case "ollama":
		inner := embedder.NewOllama(cfg.Ollama, cfg.VectorDimension)
		s.Embed = embedder.NewResilient(inner, embedder.ResilientConfig{})
	default:
		s.Embed = embedder.NewStub(cfg.VectorDimension)
	}
	log.Info("embedder backend selected", "backend", s.Embed.Name())
}

// Close releases every resource Build opened, in reverse order.
func (s *System) Close() error {
	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
