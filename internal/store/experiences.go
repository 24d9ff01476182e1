package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/mycelicmemory/memcore/internal/backend"
	"github.com/mycelicmemory/memcore/internal/model"
)

// SaveExperience inserts a new episode. Ids must be unique; callers
// (Cortex) are responsible for generating them.
func (s *Store) SaveExperience(ctx context.Context, e *model.Experience) error {
	if e.ID == "" {
		return backend.New(backend.KindValidation, "experience id is required")
	}
	if e.Title == "" {
		return backend.New(backend.KindValidation, "experience title is required")
	}
	if e.StartedAt.IsZero() {
		e.StartedAt = time.Now().UTC()
	}

	_, err := s.db.db.ExecContext(ctx, `
		INSERT INTO experiences (id, title, context, started_at, ended_at, importance)
		VALUES (?, ?, ?, ?, ?, ?)
	`, e.ID, e.Title, e.Context, e.StartedAt, e.EndedAt, e.Importance)
	if err != nil {
		if isUniqueViolation(err) {
			return backend.New(backend.KindDuplicate, "experience id already exists")
		}
		return backend.Wrap(backend.KindBackendFailure, "insert experience", err)
	}
	return nil
}

// EndExperience stamps ended_at, closing the episode. Idempotent:
// ending an already-closed episode is a no-op.
func (s *Store) EndExperience(ctx context.Context, id string, endedAt time.Time) error {
	_, err := s.db.db.ExecContext(ctx, `
		UPDATE experiences SET ended_at = ? WHERE id = ? AND ended_at IS NULL
	`, endedAt, id)
	if err != nil {
		return backend.Wrap(backend.KindBackendFailure, "end experience", err)
	}
	return nil
}

// LinkMemory records that memoryID was saved while experienceID was open.
func (s *Store) LinkMemory(ctx context.Context, experienceID, memoryID string) error {
	_, err := s.db.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO experience_memories (experience_id, memory_id, added_at)
		VALUES (?, ?, ?)
	`, experienceID, memoryID, time.Now().UTC())
	if err != nil {
		if isForeignKeyViolation(err) {
			return backend.New(backend.KindValidation, "experience_memories references a nonexistent experience or memory")
		}
		return backend.Wrap(backend.KindBackendFailure, "link memory to experience", err)
	}
	return nil
}

// LoadExperience returns an episode and the ids of every memory linked
// to it, in the order they were added.
func (s *Store) LoadExperience(ctx context.Context, id string) (*model.Experience, error) {
	e := &model.Experience{ID: id}
	var context_ sql.NullString
	var endedAt sql.NullTime

	row := s.db.db.QueryRowContext(ctx, `
		SELECT title, context, started_at, ended_at, importance
		FROM experiences WHERE id = ?
	`, id)
	if err := row.Scan(&e.Title, &context_, &e.StartedAt, &endedAt, &e.Importance); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, backend.New(backend.KindNotFound, "experience not found")
		}
		return nil, backend.Wrap(backend.KindBackendFailure, "load experience", err)
	}
	e.Context = context_.String
	if endedAt.Valid {
		t := endedAt.Time
		e.EndedAt = &t
	}

	rows, err := s.db.db.QueryContext(ctx, `
		SELECT memory_id FROM experience_memories WHERE experience_id = ? ORDER BY added_at ASC
	`, id)
	if err != nil {
		return nil, backend.Wrap(backend.KindBackendFailure, "load experience memories", err)
	}
	defer rows.Close()
	for rows.Next() {
		var memID string
		if err := rows.Scan(&memID); err != nil {
			return nil, backend.Wrap(backend.KindBackendFailure, "scan experience memory", err)
		}
		e.MemoryIDs = append(e.MemoryIDs, memID)
	}
	return e, rows.Err()
}
