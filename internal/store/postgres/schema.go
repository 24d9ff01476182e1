package postgres

// schema mirrors the sqlite CoreSchema's tables, adapted to Postgres
// types (UUID text ids stay TEXT since memcore ids are caller-chosen,
// not generated; JSONB replaces the sqlite JSON-as-TEXT columns).
const schema = `
CREATE TABLE IF NOT EXISTS memories (
	id                   TEXT PRIMARY KEY,
	content              TEXT NOT NULL,
	memory_type          TEXT NOT NULL,
	importance           DOUBLE PRECISION NOT NULL,
	confidence_score     DOUBLE PRECISION NOT NULL,
	confidence_data      JSONB NOT NULL DEFAULT '{}'::jsonb,
	verification_status  TEXT NOT NULL,
	created_at           TIMESTAMPTZ NOT NULL,
	updated_at           TIMESTAMPTZ NOT NULL,
	last_accessed_at     TIMESTAMPTZ NOT NULL,
	access_count         INTEGER NOT NULL DEFAULT 0,
	source               TEXT,
	session_id           TEXT,
	forgotten            BOOLEAN NOT NULL DEFAULT FALSE,
	forgotten_at         TIMESTAMPTZ,
	metadata             JSONB NOT NULL DEFAULT '{}'::jsonb
);

CREATE INDEX IF NOT EXISTS memories_session_idx ON memories(session_id);
CREATE INDEX IF NOT EXISTS memories_type_idx ON memories(memory_type);
CREATE INDEX IF NOT EXISTS memories_forgotten_idx ON memories(forgotten);
CREATE INDEX IF NOT EXISTS memories_created_idx ON memories(created_at);

CREATE TABLE IF NOT EXISTS associations (
	id            TEXT PRIMARY KEY,
	source_id     TEXT NOT NULL REFERENCES memories(id) ON DELETE CASCADE,
	target_id     TEXT NOT NULL REFERENCES memories(id) ON DELETE CASCADE,
	relation_type TEXT NOT NULL,
	weight        DOUBLE PRECISION NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL,
	UNIQUE(source_id, target_id, relation_type)
);

CREATE INDEX IF NOT EXISTS associations_source_idx ON associations(source_id);
CREATE INDEX IF NOT EXISTS associations_target_idx ON associations(target_id);

CREATE TABLE IF NOT EXISTS experiences (
	id         TEXT PRIMARY KEY,
	title      TEXT NOT NULL,
	context    TEXT,
	started_at TIMESTAMPTZ NOT NULL,
	ended_at   TIMESTAMPTZ,
	importance DOUBLE PRECISION NOT NULL DEFAULT 0.5
);

CREATE TABLE IF NOT EXISTS experience_memories (
	experience_id TEXT NOT NULL REFERENCES experiences(id) ON DELETE CASCADE,
	memory_id     TEXT NOT NULL REFERENCES memories(id) ON DELETE CASCADE,
	added_at      TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (experience_id, memory_id)
);
`
