// Package qdrantstore implements the optional Qdrant-backed VectorStore
// (spec §4.3, §6 configuration vector_backend=qdrant), grounded on the
// collection-management and point-upsert idiom the pack's Qdrant
// client wraps around the official gRPC SDK.
package qdrantstore

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/mycelicmemory/memcore/internal/backend"
	"github.com/mycelicmemory/memcore/internal/logging"
)

var log = logging.GetLogger("qdrantstore")

// payloadIDField stashes the caller's opaque memory id in the point
// payload, since Qdrant point ids must be a UUID or an unsigned
// integer and memcore ids are neither.
const payloadIDField = "_memcore_id"

// Store adapts a Qdrant collection to the backend.VectorStore trait.
type Store struct {
	client     *qdrant.Client
	collection string
	dimension  int
}

// Open connects to addr (host:port of Qdrant's gRPC endpoint) and
// ensures collection exists with the given dimension, creating it with
// cosine distance if absent.
func Open(ctx context.Context, addr string, collection string, dimension int) (*Store, error) {
	host, port, err := splitAddr(addr)
	if err != nil {
		return nil, backend.Wrap(backend.KindBackendFailure, "parse qdrant address", err)
	}

	client, err := qdrant.NewClient(&qdrant.Config{Host: host, Port: port})
	if err != nil {
		return nil, backend.Wrap(backend.KindBackendFailure, "create qdrant client", err)
	}

	s := &Store{client: client, collection: collection, dimension: dimension}
	if err := s.ensureCollection(ctx); err != nil {
		client.Close()
		return nil, err
	}

	log.Info("qdrantstore ready", "addr", addr, "collection", collection)
	return s, nil
}

func splitAddr(addr string) (string, int, error) {
	parts := strings.SplitN(addr, ":", 2)
	if len(parts) != 2 {
		return "", 0, fmt.Errorf("address %q must be host:port", addr)
	}
	port, err := strconv.Atoi(parts[1])
	if err != nil {
		return "", 0, fmt.Errorf("invalid port in address %q: %w", addr, err)
	}
	return parts[0], port, nil
}

func (s *Store) ensureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return backend.Wrap(backend.KindBackendFailure, "check collection exists", err)
	}
	if exists {
		return nil
	}
	if s.dimension <= 0 {
		return backend.New(backend.KindValidation, "vector dimension must be > 0")
	}
	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(s.dimension),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return backend.Wrap(backend.KindBackendFailure, "create collection", err)
	}
	return nil
}

func (s *Store) Name() string   { return "qdrant" }
func (s *Store) Dimension() int { return s.dimension }

// Close releases the gRPC connection.
func (s *Store) Close() error { return s.client.Close() }

// withRetry retries a transient gRPC failure up to 3 times with
// exponential backoff (spec §7). Upsert and Remove use it; Exists and
// Search are not retried. The collection-management calls in Open are
// not retried either: a failure there reflects misconfiguration, not a
// transient network blip.
func withRetry(ctx context.Context, op func() error) error {
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	return backoff.Retry(op, bo)
}

func pointID(id string) string {
	if _, err := uuid.Parse(id); err == nil {
		return id
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(id)).String()
}

// Upsert writes or replaces the point for id.
func (s *Store) Upsert(ctx context.Context, id string, vec []float32, metadata map[string]string) error {
	if len(vec) != s.dimension {
		return backend.New(backend.KindValidation, "vector dimension mismatch")
	}

	uuidStr := pointID(id)
	payload := make(map[string]any, len(metadata)+1)
	for k, v := range metadata {
		payload[k] = v
	}
	if uuidStr != id {
		payload[payloadIDField] = id
	}

	err := withRetry(ctx, func() error {
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: s.collection,
			Points: []*qdrant.PointStruct{{
				Id:      qdrant.NewIDUUID(uuidStr),
				Vectors: qdrant.NewVectorsDense(vec),
				Payload: qdrant.NewValueMap(payload),
			}},
		})
		return err
	})
	if err != nil {
		return backend.NewConnectorError("qdrant", backend.ConnectorOperation, "upsert point", err)
	}
	return nil
}

// Remove deletes the point for id, if present.
func (s *Store) Remove(ctx context.Context, id string) error {
	err := withRetry(ctx, func() error {
		_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: s.collection,
			Points:         qdrant.NewPointsSelector(qdrant.NewIDUUID(pointID(id))),
		})
		return err
	})
	if err != nil {
		return backend.NewConnectorError("qdrant", backend.ConnectorOperation, "delete point", err)
	}
	return nil
}

// Exists reports whether id currently has a point in the collection.
func (s *Store) Exists(ctx context.Context, id string) (bool, error) {
	points, err := s.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: s.collection,
		Ids:            []*qdrant.PointId{qdrant.NewIDUUID(pointID(id))},
	})
	if err != nil {
		return false, backend.NewConnectorError("qdrant", backend.ConnectorOperation, "get point", err)
	}
	return len(points) > 0, nil
}

// Search returns the top k points by cosine similarity, optionally
// restricted by filter's session_id/memory_type payload fields.
func (s *Store) Search(ctx context.Context, vec []float32, k int, filter *backend.VectorFilter) ([]backend.VectorPoint, error) {
	if len(vec) != s.dimension {
		return nil, backend.New(backend.KindValidation, "vector dimension mismatch")
	}
	if k <= 0 {
		k = 10
	}

	var qFilter *qdrant.Filter
	if filter != nil {
		var must []*qdrant.Condition
		if filter.SessionID != "" {
			must = append(must, qdrant.NewMatch("session_id", filter.SessionID))
		}
		if filter.Type != "" {
			must = append(must, qdrant.NewMatch("memory_type", string(filter.Type)))
		}
		if len(must) > 0 {
			qFilter = &qdrant.Filter{Must: must}
		}
	}

	limit := uint64(k)
	hits, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQueryDense(vec),
		Limit:          &limit,
		Filter:         qFilter,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, backend.NewConnectorError("qdrant", backend.ConnectorOperation, "query points", err)
	}

	out := make([]backend.VectorPoint, 0, len(hits))
	for _, hit := range hits {
		id := hit.Id.GetUuid()
		metadata := map[string]string{}
		if hit.Payload != nil {
			for k, v := range hit.Payload {
				if k == payloadIDField {
					id = v.GetStringValue()
					continue
				}
				metadata[k] = v.GetStringValue()
			}
		}
		out = append(out, backend.VectorPoint{ID: id, Sim: float64(hit.Score), Metadata: metadata})
	}
	return out, nil
}
