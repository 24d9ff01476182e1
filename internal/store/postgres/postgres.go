// Package postgres implements the optional Postgres-backed MetadataStore
// (spec §4.1, §6 configuration metadata_backend=postgres), grounded on
// the pack's pgxpool connection-pooling idiom and constraint-violation
// detection via pgconn's SQLState causer interface.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mycelicmemory/memcore/internal/backend"
	"github.com/mycelicmemory/memcore/internal/logging"
	"github.com/mycelicmemory/memcore/internal/model"
)

var log = logging.GetLogger("store/postgres")

// Store is the Postgres-backed implementation of backend.MetadataStore.
type Store struct {
	pool *pgxpool.Pool
}

// Open creates a connection pool for dsn, ensures the schema exists and
// returns a ready Store.
func Open(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, backend.Wrap(backend.KindBackendFailure, "parse postgres dsn", err)
	}
	cfg.MaxConns = 8
	cfg.MinConns = 0
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, backend.Wrap(backend.KindBackendFailure, "create postgres pool", err)
	}

	pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := pool.Ping(pctx); err != nil {
		pool.Close()
		return nil, backend.Wrap(backend.KindBackendFailure, "ping postgres", err)
	}

	s := &Store{pool: pool}
	if err := s.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	log.Info("postgres store ready")
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return backend.Wrap(backend.KindBackendFailure, "apply postgres schema", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() { s.pool.Close() }

// Name identifies this backend in ConnectorError and logging contexts.
func (s *Store) Name() string { return "postgres" }

// HealthCheck verifies the pool can reach the server.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// withRetry retries op up to 3 times with exponential backoff (spec
// §7). Every error op returns is retried, including errors reported by
// the server, unless op wraps it in backoff.Permanent; the callers below
// do that for constraint violations, missing rows and scan failures.
func withRetry(ctx context.Context, op func() error) error {
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	return backoff.Retry(op, bo)
}

func isConstraintViolation(err error) bool {
	type causer interface{ SQLState() string }
	var c causer
	if errors.As(err, &c) {
		return strings.HasPrefix(c.SQLState(), "23")
	}
	return false
}

func isUniqueViolation(err error) bool {
	type causer interface{ SQLState() string }
	var c causer
	if errors.As(err, &c) {
		return c.SQLState() == "23505"
	}
	return false
}

func isForeignKeyViolation(err error) bool {
	type causer interface{ SQLState() string }
	var c causer
	if errors.As(err, &c) {
		return c.SQLState() == "23503"
	}
	return false
}

func validateMemory(m *model.Memory) error {
	if m.ID == "" {
		return backend.New(backend.KindValidation, "memory id is required")
	}
	if len(m.Content) == 0 || len(m.Content) > model.MaxContentBytes {
		return backend.New(backend.KindValidation, "content must be between 1 and 64KiB")
	}
	if !model.IsValidMemoryType(m.Type) {
		return backend.New(backend.KindValidation, fmt.Sprintf("unknown memory_type %q", m.Type))
	}
	if m.Importance < 0 || m.Importance > 1 {
		return backend.New(backend.KindValidation, "importance must be in [0,1]")
	}
	if m.Confidence.Score < 0 || m.Confidence.Score > 1 {
		return backend.New(backend.KindValidation, "confidence.score must be in [0,1]")
	}
	return nil
}

type confidenceJSON struct {
	ConsistencyScore   float64                  `json:"consistency_score"`
	RetrievalStability float64                  `json:"retrieval_stability"`
	SourceReliability  float64                  `json:"source_reliability"`
	UserVerification   model.UserVerification   `json:"user_verification"`
	CorroborationCount int                      `json:"corroboration_count"`
	History            []model.ConfidenceChange `json:"history"`
}

func encodeConfidence(c model.ConfidenceRecord) ([]byte, error) {
	return json.Marshal(confidenceJSON{
		ConsistencyScore:   c.ConsistencyScore,
		RetrievalStability: c.RetrievalStability,
		SourceReliability:  c.SourceReliability,
		UserVerification:   c.UserVerification,
		CorroborationCount: c.CorroborationCount,
		History:            c.History,
	})
}

func decodeConfidence(score float64, status model.VerificationStatus, raw []byte) (model.ConfidenceRecord, error) {
	var j confidenceJSON
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &j); err != nil {
			return model.ConfidenceRecord{}, err
		}
	}
	return model.ConfidenceRecord{
		Score:              score,
		ConsistencyScore:   j.ConsistencyScore,
		RetrievalStability: j.RetrievalStability,
		SourceReliability:  j.SourceReliability,
		UserVerification:   j.UserVerification,
		CorroborationCount: j.CorroborationCount,
		Status:             status,
		History:            j.History,
	}, nil
}

const memoryColumns = `id, content, memory_type, importance, confidence_score, confidence_data,
	verification_status, created_at, updated_at, last_accessed_at, access_count,
	source, session_id, forgotten, forgotten_at, metadata`

func scanMemory(row pgx.Row) (*model.Memory, error) {
	var (
		m                 model.Memory
		memType           string
		confScore         float64
		confData          []byte
		verification      string
		source, sessionID *string
		forgottenAt       *time.Time
		metaJSON          []byte
	)
	if err := row.Scan(&m.ID, &m.Content, &memType, &m.Importance, &confScore, &confData,
		&verification, &m.CreatedAt, &m.UpdatedAt, &m.LastAccessedAt, &m.AccessCount,
		&source, &sessionID, &m.Forgotten, &forgottenAt, &metaJSON); err != nil {
		return nil, err
	}
	m.Type = model.MemoryType(memType)
	if source != nil {
		m.Source = *source
	}
	if sessionID != nil {
		m.SessionID = *sessionID
	}
	m.ForgottenAt = forgottenAt

	conf, err := decodeConfidence(confScore, model.VerificationStatus(verification), confData)
	if err != nil {
		return nil, err
	}
	m.Confidence = conf

	meta := map[string]string{}
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &meta); err != nil {
			return nil, err
		}
	}
	m.Metadata = meta
	return &m, nil
}

// Save performs an idempotent insert; an existing id fails with Duplicate.
func (s *Store) Save(ctx context.Context, m *model.Memory) error {
	if err := validateMemory(m); err != nil {
		return err
	}

	now := time.Now().UTC()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = m.CreatedAt
	}
	if m.LastAccessedAt.IsZero() {
		m.LastAccessedAt = m.CreatedAt
	}
	if m.Confidence.Status == "" {
		m.Confidence.Status = model.VerificationUnverified
	}

	confJSON, err := encodeConfidence(m.Confidence)
	if err != nil {
		return backend.Wrap(backend.KindBackendFailure, "encode confidence", err)
	}
	metaJSON, err := json.Marshal(m.Metadata)
	if err != nil {
		return backend.Wrap(backend.KindBackendFailure, "encode metadata", err)
	}

	err = withRetry(ctx, func() error {
		_, execErr := s.pool.Exec(ctx, `
			INSERT INTO memories (
				id, content, memory_type, importance, confidence_score, confidence_data,
				verification_status, created_at, updated_at, last_accessed_at, access_count,
				source, session_id, forgotten, forgotten_at, metadata
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
		`, m.ID, m.Content, string(m.Type), m.Importance, m.Confidence.Score, confJSON,
			string(m.Confidence.Status), m.CreatedAt, m.UpdatedAt, m.LastAccessedAt, m.AccessCount,
			nullableString(m.Source), nullableString(m.SessionID), m.Forgotten, m.ForgottenAt, metaJSON)
		if execErr != nil && isConstraintViolation(execErr) {
			return backoff.Permanent(execErr)
		}
		return execErr
	})
	if err != nil {
		if isUniqueViolation(err) {
			return backend.New(backend.KindDuplicate, fmt.Sprintf("memory %q already exists", m.ID))
		}
		return backend.Wrap(backend.KindBackendFailure, "insert memory", err)
	}
	return nil
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// Load returns the memory by id, or NotFound if absent.
func (s *Store) Load(ctx context.Context, id string) (*model.Memory, error) {
	var m *model.Memory
	err := withRetry(ctx, func() error {
		row := s.pool.QueryRow(ctx, `SELECT `+memoryColumns+` FROM memories WHERE id = $1`, id)
		scanned, scanErr := scanMemory(row)
		if scanErr != nil {
			if errors.Is(scanErr, pgx.ErrNoRows) {
				return backoff.Permanent(scanErr)
			}
			return scanErr
		}
		m = scanned
		return nil
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, backend.New(backend.KindNotFound, fmt.Sprintf("memory %q not found", id))
		}
		return nil, backend.Wrap(backend.KindBackendFailure, "load memory", err)
	}
	return m, nil
}

// Update replaces mutable fields and advances updated_at; unknown ids
// fail with NotFound.
func (s *Store) Update(ctx context.Context, m *model.Memory) error {
	if err := validateMemory(m); err != nil {
		return err
	}
	m.UpdatedAt = time.Now().UTC()

	confJSON, err := encodeConfidence(m.Confidence)
	if err != nil {
		return backend.Wrap(backend.KindBackendFailure, "encode confidence", err)
	}
	metaJSON, err := json.Marshal(m.Metadata)
	if err != nil {
		return backend.Wrap(backend.KindBackendFailure, "encode metadata", err)
	}

	var rowsAffected int64
	err = withRetry(ctx, func() error {
		tag, execErr := s.pool.Exec(ctx, `
			UPDATE memories SET
				content=$1, memory_type=$2, importance=$3, confidence_score=$4, confidence_data=$5,
				verification_status=$6, updated_at=$7, last_accessed_at=$8, access_count=$9,
				source=$10, session_id=$11, forgotten=$12, forgotten_at=$13, metadata=$14
			WHERE id=$15
		`, m.Content, string(m.Type), m.Importance, m.Confidence.Score, confJSON,
			string(m.Confidence.Status), m.UpdatedAt, m.LastAccessedAt, m.AccessCount,
			nullableString(m.Source), nullableString(m.SessionID), m.Forgotten, m.ForgottenAt, metaJSON, m.ID)
		if execErr != nil {
			return execErr
		}
		rowsAffected = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return backend.Wrap(backend.KindBackendFailure, "update memory", err)
	}
	if rowsAffected == 0 {
		return backend.New(backend.KindNotFound, fmt.Sprintf("memory %q not found", m.ID))
	}
	return nil
}

// Forget marks a memory soft-deleted; idempotent.
func (s *Store) Forget(ctx context.Context, id string) error {
	now := time.Now().UTC()
	err := withRetry(ctx, func() error {
		_, execErr := s.pool.Exec(ctx, `
			UPDATE memories SET forgotten=true, forgotten_at=$1, updated_at=$2
			WHERE id=$3 AND forgotten=false
		`, now, now, id)
		return execErr
	})
	if err != nil {
		return backend.Wrap(backend.KindBackendFailure, "forget memory", err)
	}
	return nil
}

// Touch advances last_accessed_at and increments access_count for a
// batch of ids within a single transaction (the Retrieval side effect).
func (s *Store) Touch(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return backend.Wrap(backend.KindBackendFailure, "begin touch", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()
	batch := &pgx.Batch{}
	for _, id := range ids {
		batch.Queue(`UPDATE memories SET access_count = access_count + 1, last_accessed_at = $1 WHERE id = $2`, now, id)
	}
	br := tx.SendBatch(ctx, batch)
	for range ids {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return backend.Wrap(backend.KindBackendFailure, "touch memory", err)
		}
	}
	if err := br.Close(); err != nil {
		return backend.Wrap(backend.KindBackendFailure, "touch memory", err)
	}
	return tx.Commit(ctx)
}

// Query returns memories matching filter, sorted by the requested key.
func (s *Store) Query(ctx context.Context, filter backend.MemoryFilter) ([]*model.Memory, error) {
	var where []string
	var args []interface{}
	argN := 1
	next := func() string {
		p := fmt.Sprintf("$%d", argN)
		argN++
		return p
	}

	if !filter.IncludeForgotten {
		where = append(where, "forgotten = false")
	}
	if filter.Type != "" {
		where = append(where, "memory_type = "+next())
		args = append(args, string(filter.Type))
	}
	if filter.SessionID != "" {
		where = append(where, "session_id = "+next())
		args = append(args, filter.SessionID)
	}
	if filter.MinImportance != nil {
		where = append(where, "importance >= "+next())
		args = append(args, *filter.MinImportance)
	}
	if filter.MaxImportance != nil {
		where = append(where, "importance <= "+next())
		args = append(args, *filter.MaxImportance)
	}
	if filter.MinConfidence != nil {
		where = append(where, "confidence_score >= "+next())
		args = append(args, *filter.MinConfidence)
	}
	if filter.MaxConfidence != nil {
		where = append(where, "confidence_score <= "+next())
		args = append(args, *filter.MaxConfidence)
	}
	if filter.CreatedAfter != nil {
		where = append(where, "created_at >= "+next())
		args = append(args, time.Unix(*filter.CreatedAfter, 0).UTC())
	}
	if filter.CreatedBefore != nil {
		where = append(where, "created_at <= "+next())
		args = append(args, time.Unix(*filter.CreatedBefore, 0).UTC())
	}

	query := `SELECT ` + memoryColumns + ` FROM memories`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}

	sortCol := "created_at"
	switch filter.SortBy {
	case "importance":
		sortCol = "importance"
	case "last_accessed_at":
		sortCol = "last_accessed_at"
	}
	query += fmt.Sprintf(" ORDER BY %s DESC", sortCol)

	if filter.MaxResults > 0 {
		query += " LIMIT " + next()
		args = append(args, filter.MaxResults)
	}

	var out []*model.Memory
	err := withRetry(ctx, func() error {
		out = nil
		rows, queryErr := s.pool.Query(ctx, query, args...)
		if queryErr != nil {
			return queryErr
		}
		defer rows.Close()

		for rows.Next() {
			m, scanErr := scanMemory(rows)
			if scanErr != nil {
				return backoff.Permanent(scanErr)
			}
			out = append(out, m)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, backend.Wrap(backend.KindBackendFailure, "query memories", err)
	}
	return out, nil
}

// Associate inserts a directed edge. Self-loops are rejected; an
// identical edge already present is a no-op (idempotent insert).
func (s *Store) Associate(ctx context.Context, a *model.Association) error {
	if a.SourceID == a.TargetID {
		return backend.New(backend.KindValidation, "association source_id and target_id must differ")
	}
	if !model.IsValidRelationType(a.RelationType) {
		return backend.New(backend.KindValidation, fmt.Sprintf("unknown relation_type %q", a.RelationType))
	}
	if a.Weight < 0 || a.Weight > 1 {
		return backend.New(backend.KindValidation, "association weight must be in [0,1]")
	}
	if a.ID == "" {
		return backend.New(backend.KindValidation, "association id is required")
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}

	err := withRetry(ctx, func() error {
		_, execErr := s.pool.Exec(ctx, `
			INSERT INTO associations (id, source_id, target_id, relation_type, weight, created_at)
			VALUES ($1,$2,$3,$4,$5,$6)
			ON CONFLICT (source_id, target_id, relation_type) DO NOTHING
		`, a.ID, a.SourceID, a.TargetID, string(a.RelationType), a.Weight, a.CreatedAt)
		if execErr != nil && isConstraintViolation(execErr) {
			return backoff.Permanent(execErr)
		}
		return execErr
	})
	if err != nil {
		if isForeignKeyViolation(err) {
			return backend.New(backend.KindValidation, "association references a nonexistent memory")
		}
		if isConstraintViolation(err) {
			return backend.New(backend.KindValidation, "invalid association")
		}
		return backend.Wrap(backend.KindBackendFailure, "insert association", err)
	}
	return nil
}

// IncidentEdges returns every association with id as source or target.
func (s *Store) IncidentEdges(ctx context.Context, id string) ([]*model.Association, error) {
	var out []*model.Association
	err := withRetry(ctx, func() error {
		out = nil
		rows, queryErr := s.pool.Query(ctx, `
			SELECT id, source_id, target_id, relation_type, weight, created_at
			FROM associations WHERE source_id = $1 OR target_id = $1
		`, id)
		if queryErr != nil {
			return queryErr
		}
		defer rows.Close()

		for rows.Next() {
			var a model.Association
			var relType string
			if scanErr := rows.Scan(&a.ID, &a.SourceID, &a.TargetID, &relType, &a.Weight, &a.CreatedAt); scanErr != nil {
				return backoff.Permanent(scanErr)
			}
			a.RelationType = model.RelationType(relType)
			out = append(out, &a)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, backend.Wrap(backend.KindBackendFailure, "query incident edges", err)
	}
	return out, nil
}

// Neighbors performs a breadth-first expansion up to depth hops,
// optionally restricted to relationFilter. Tie-break within a level is
// by edge weight descending, then destination importance descending
// (spec §4.6), mirroring the embedded sqlite store's traversal.
func (s *Store) Neighbors(ctx context.Context, id string, depth int, relationFilter []model.RelationType) ([]model.NeighborRef, error) {
	if depth < 1 {
		depth = 1
	}

	visited := map[string]int{id: 0}
	var order []model.NeighborRef
	frontier := []string{id}

	relSet := map[model.RelationType]bool{}
	for _, r := range relationFilter {
		relSet[r] = true
	}

	for level := 1; level <= depth && len(frontier) > 0; level++ {
		type edge struct {
			to         string
			weight     float64
			importance float64
		}
		var candidates []edge

		for _, from := range frontier {
			rows, err := s.pool.Query(ctx, `
				SELECT a.target_id, a.relation_type, a.weight, m.importance
				FROM associations a JOIN memories m ON m.id = a.target_id
				WHERE a.source_id = $1
				UNION
				SELECT a.source_id, a.relation_type, a.weight, m.importance
				FROM associations a JOIN memories m ON m.id = a.source_id
				WHERE a.target_id = $1
			`, from)
			if err != nil {
				return nil, backend.Wrap(backend.KindBackendFailure, "query neighbors", err)
			}
			for rows.Next() {
				var to, relType string
				var weight, importance float64
				if err := rows.Scan(&to, &relType, &weight, &importance); err != nil {
					rows.Close()
					return nil, backend.Wrap(backend.KindBackendFailure, "scan neighbor", err)
				}
				if len(relSet) > 0 && !relSet[model.RelationType(relType)] {
					continue
				}
				if _, seen := visited[to]; seen {
					continue
				}
				candidates = append(candidates, edge{to: to, weight: weight, importance: importance})
			}
			rows.Close()
		}

		sort.SliceStable(candidates, func(i, j int) bool {
			if candidates[i].weight != candidates[j].weight {
				return candidates[i].weight > candidates[j].weight
			}
			return candidates[i].importance > candidates[j].importance
		})

		var next []string
		for _, c := range candidates {
			if _, seen := visited[c.to]; seen {
				continue
			}
			visited[c.to] = level
			order = append(order, model.NeighborRef{ID: c.to, Distance: level, EdgeWeight: c.weight})
			next = append(next, c.to)
		}
		frontier = next
	}

	return order, nil
}

// HardDelete physically removes a memory and its incident edges via
// the schema's ON DELETE CASCADE foreign keys.
func (s *Store) HardDelete(ctx context.Context, id string) error {
	err := withRetry(ctx, func() error {
		_, execErr := s.pool.Exec(ctx, `DELETE FROM memories WHERE id = $1`, id)
		return execErr
	})
	if err != nil {
		return backend.Wrap(backend.KindBackendFailure, "hard delete memory", err)
	}
	return nil
}
