package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/mycelicmemory/memcore/internal/backend"
	"github.com/mycelicmemory/memcore/internal/model"
)

// Store is the sqlite-backed implementation of backend.MetadataStore
// (spec §4.1). All reads and writes share the database's single pooled
// connection (Open caps the pool at one), so they run one at a time.
type Store struct {
	db *DB
}

// New wraps an open DB as a MetadataStore.
func New(db *DB) *Store {
	return &Store{db: db}
}

// Name identifies this backend in ConnectorError and logging contexts.
func (s *Store) Name() string { return "sqlite" }

// HealthCheck verifies the connection is alive.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.db.db.PingContext(ctx)
}

type confidenceJSON struct {
	ConsistencyScore   float64                  `json:"consistency_score"`
	RetrievalStability float64                   `json:"retrieval_stability"`
	SourceReliability  float64                   `json:"source_reliability"`
	UserVerification   model.UserVerification    `json:"user_verification"`
	CorroborationCount int                       `json:"corroboration_count"`
	History            []model.ConfidenceChange  `json:"history"`
}

func encodeConfidence(c model.ConfidenceRecord) (string, error) {
	b, err := json.Marshal(confidenceJSON{
		ConsistencyScore:   c.ConsistencyScore,
		RetrievalStability: c.RetrievalStability,
		SourceReliability:  c.SourceReliability,
		UserVerification:   c.UserVerification,
		CorroborationCount: c.CorroborationCount,
		History:            c.History,
	})
	return string(b), err
}

func decodeConfidence(score float64, status model.VerificationStatus, raw string) (model.ConfidenceRecord, error) {
	var j confidenceJSON
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &j); err != nil {
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

func encodeMetadata(m map[string]string) (string, error) {
	if m == nil {
		m = map[string]string{}
	}
	b, err := json.Marshal(m)
	return string(b), err
}

func decodeMetadata(raw string) (map[string]string, error) {
	m := map[string]string{}
	if raw == "" {
		return m, nil
	}
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, err
	}
	return m, nil
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
	metaJSON, err := encodeMetadata(m.Metadata)
	if err != nil {
		return backend.Wrap(backend.KindBackendFailure, "encode metadata", err)
	}

	_, err = s.db.db.ExecContext(ctx, `
		INSERT INTO memories (
			id, content, memory_type, importance, confidence_score, confidence_data,
			verification_status, created_at, updated_at, last_accessed_at, access_count,
			source, session_id, forgotten, forgotten_at, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, m.ID, m.Content, string(m.Type), m.Importance, m.Confidence.Score, confJSON,
		string(m.Confidence.Status), m.CreatedAt, m.UpdatedAt, m.LastAccessedAt, m.AccessCount,
		nullableString(m.Source), nullableString(m.SessionID), m.Forgotten, m.ForgottenAt, metaJSON)
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

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func scanMemory(row interface {
	Scan(dest ...interface{}) error
}) (*model.Memory, error) {
	var (
		m                              model.Memory
		memType                        string
		confScore                      float64
		confData                       string
		verification                   string
		source, sessionID              sql.NullString
		forgottenAt                    sql.NullTime
		metaJSON                       string
	)
	if err := row.Scan(&m.ID, &m.Content, &memType, &m.Importance, &confScore, &confData,
		&verification, &m.CreatedAt, &m.UpdatedAt, &m.LastAccessedAt, &m.AccessCount,
		&source, &sessionID, &m.Forgotten, &forgottenAt, &metaJSON); err != nil {
		return nil, err
	}
	m.Type = model.MemoryType(memType)
	m.Source = source.String
	m.SessionID = sessionID.String
	if forgottenAt.Valid {
		t := forgottenAt.Time
		m.ForgottenAt = &t
	}
	conf, err := decodeConfidence(confScore, model.VerificationStatus(verification), confData)
	if err != nil {
		return nil, err
	}
	m.Confidence = conf
	meta, err := decodeMetadata(metaJSON)
	if err != nil {
		return nil, err
	}
	m.Metadata = meta
	return &m, nil
}

const memoryColumns = `id, content, memory_type, importance, confidence_score, confidence_data,
	verification_status, created_at, updated_at, last_accessed_at, access_count,
	source, session_id, forgotten, forgotten_at, metadata`

// Load returns the memory by id, or NotFound if absent or forgotten-pruned.
func (s *Store) Load(ctx context.Context, id string) (*model.Memory, error) {
	row := s.db.db.QueryRowContext(ctx, `SELECT `+memoryColumns+` FROM memories WHERE id = ?`, id)
	m, err := scanMemory(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
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
	metaJSON, err := encodeMetadata(m.Metadata)
	if err != nil {
		return backend.Wrap(backend.KindBackendFailure, "encode metadata", err)
	}

	res, err := s.db.db.ExecContext(ctx, `
		UPDATE memories SET
			content = ?, memory_type = ?, importance = ?, confidence_score = ?, confidence_data = ?,
			verification_status = ?, updated_at = ?, last_accessed_at = ?, access_count = ?,
			source = ?, session_id = ?, forgotten = ?, forgotten_at = ?, metadata = ?
		WHERE id = ?
	`, m.Content, string(m.Type), m.Importance, m.Confidence.Score, confJSON,
		string(m.Confidence.Status), m.UpdatedAt, m.LastAccessedAt, m.AccessCount,
		nullableString(m.Source), nullableString(m.SessionID), m.Forgotten, m.ForgottenAt, metaJSON, m.ID)
	if err != nil {
		return backend.Wrap(backend.KindBackendFailure, "update memory", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return backend.New(backend.KindNotFound, fmt.Sprintf("memory %q not found", m.ID))
	}
	return nil
}

// Forget marks a memory soft-deleted; idempotent.
func (s *Store) Forget(ctx context.Context, id string) error {
	now := time.Now().UTC()
	_, err := s.db.db.ExecContext(ctx, `
		UPDATE memories SET forgotten = 1, forgotten_at = ?, updated_at = ?
		WHERE id = ? AND forgotten = 0
	`, now, now, id)
	if err != nil {
		return backend.Wrap(backend.KindBackendFailure, "forget memory", err)
	}
	return nil
}

// Touch advances last_accessed_at and increments access_count for a
// batch of ids in a single transaction (the Retrieval side effect).
func (s *Store) Touch(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.db.db.BeginTx(ctx, nil)
	if err != nil {
		return backend.Wrap(backend.KindBackendFailure, "begin touch", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		UPDATE memories SET access_count = access_count + 1, last_accessed_at = ?
		WHERE id = ?
	`)
	if err != nil {
		return backend.Wrap(backend.KindBackendFailure, "prepare touch", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, now, id); err != nil {
			return backend.Wrap(backend.KindBackendFailure, "touch memory", err)
		}
	}
	return tx.Commit()
}

// Query returns memories matching filter, sorted by the requested key.
func (s *Store) Query(ctx context.Context, filter backend.MemoryFilter) ([]*model.Memory, error) {
	var where []string
	var args []interface{}

	if !filter.IncludeForgotten {
		where = append(where, "forgotten = 0")
	}
	if filter.Type != "" {
		where = append(where, "memory_type = ?")
		args = append(args, string(filter.Type))
	}
	if filter.SessionID != "" {
		where = append(where, "session_id = ?")
		args = append(args, filter.SessionID)
	}
	if filter.MinImportance != nil {
		where = append(where, "importance >= ?")
		args = append(args, *filter.MinImportance)
	}
	if filter.MaxImportance != nil {
		where = append(where, "importance <= ?")
		args = append(args, *filter.MaxImportance)
	}
	if filter.MinConfidence != nil {
		where = append(where, "confidence_score >= ?")
		args = append(args, *filter.MinConfidence)
	}
	if filter.MaxConfidence != nil {
		where = append(where, "confidence_score <= ?")
		args = append(args, *filter.MaxConfidence)
	}
	if filter.CreatedAfter != nil {
		where = append(where, "created_at >= ?")
		args = append(args, time.Unix(*filter.CreatedAfter, 0).UTC())
	}
	if filter.CreatedBefore != nil {
		where = append(where, "created_at <= ?")
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
		query += " LIMIT ?"
		args = append(args, filter.MaxResults)
	}

	rows, err := s.db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, backend.Wrap(backend.KindBackendFailure, "query memories", err)
	}
	defer rows.Close()

	var out []*model.Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, backend.Wrap(backend.KindBackendFailure, "scan memory", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
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

	_, err := s.db.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO associations (id, source_id, target_id, relation_type, weight, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, a.ID, a.SourceID, a.TargetID, string(a.RelationType), a.Weight, a.CreatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return backend.New(backend.KindValidation, "association references a nonexistent memory")
		}
		return backend.Wrap(backend.KindBackendFailure, "insert association", err)
	}
	return nil
}

func isForeignKeyViolation(err error) bool {
	return strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}

// IncidentEdges returns every association with id as source or target.
func (s *Store) IncidentEdges(ctx context.Context, id string) ([]*model.Association, error) {
	rows, err := s.db.db.QueryContext(ctx, `
		SELECT id, source_id, target_id, relation_type, weight, created_at
		FROM associations WHERE source_id = ? OR target_id = ?
	`, id, id)
	if err != nil {
		return nil, backend.Wrap(backend.KindBackendFailure, "query incident edges", err)
	}
	defer rows.Close()

	var out []*model.Association
	for rows.Next() {
		var a model.Association
		var relType string
		if err := rows.Scan(&a.ID, &a.SourceID, &a.TargetID, &relType, &a.Weight, &a.CreatedAt); err != nil {
			return nil, backend.Wrap(backend.KindBackendFailure, "scan association", err)
		}
		a.RelationType = model.RelationType(relType)
		out = append(out, &a)
	}
	return out, rows.Err()
}

// Neighbors performs a breadth-first expansion up to depth hops,
// optionally restricted to relationFilter, returning ids with their
// shortest-path distance. Tie-break within a level is by edge weight
// descending, then destination importance descending (spec §4.6).
func (s *Store) Neighbors(ctx context.Context, id string, depth int, relationFilter []model.RelationType) ([]model.NeighborRef, error) {
	if depth < 1 {
		depth = 1
	}

	visited := map[string]int{id: 0}
	order := []model.NeighborRef{}
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
			rows, err := s.db.db.QueryContext(ctx, `
				SELECT a.target_id, a.relation_type, a.weight, m.importance
				FROM associations a JOIN memories m ON m.id = a.target_id
				WHERE a.source_id = ?
				UNION
				SELECT a.source_id, a.relation_type, a.weight, m.importance
				FROM associations a JOIN memories m ON m.id = a.source_id
				WHERE a.target_id = ?
			`, from, from)
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

// HardDelete physically removes a memory and its incident edges.
// Cascade is enforced by the FK ON DELETE CASCADE clauses in the schema.
func (s *Store) HardDelete(ctx context.Context, id string) error {
	_, err := s.db.db.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, id)
	if err != nil {
		return backend.Wrap(backend.KindBackendFailure, "hard delete memory", err)
	}
	return nil
}
