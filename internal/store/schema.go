package store

// SchemaVersion is the current schema version of the sqlite MetadataStore.
const SchemaVersion = 1

// CoreSchema contains the relational table definitions backing the
// MetadataStore trait: memories, associations, and the experience
// grouping tables (spec §3, §6 persistence layout).
const CoreSchema = `
PRAGMA foreign_keys = ON;

CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER PRIMARY KEY,
	applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS memories (
	id TEXT PRIMARY KEY,
	content TEXT NOT NULL,
	memory_type TEXT NOT NULL CHECK (
		memory_type IN ('identity', 'goal', 'decision', 'todo', 'preference', 'fact', 'event', 'observation')
	),
	importance REAL NOT NULL CHECK (importance >= 0.0 AND importance <= 1.0),
	confidence_score REAL NOT NULL CHECK (confidence_score >= 0.0 AND confidence_score <= 1.0),
	confidence_data TEXT NOT NULL DEFAULT '{}',
	verification_status TEXT NOT NULL DEFAULT 'unverified',
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	last_accessed_at DATETIME NOT NULL,
	access_count INTEGER NOT NULL DEFAULT 0,
	source TEXT,
	session_id TEXT,
	forgotten BOOLEAN NOT NULL DEFAULT 0,
	forgotten_at DATETIME,
	metadata TEXT NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_memories_session_id ON memories(session_id);
CREATE INDEX IF NOT EXISTS idx_memories_type ON memories(memory_type);
CREATE INDEX IF NOT EXISTS idx_memories_created_at ON memories(created_at);
CREATE INDEX IF NOT EXISTS idx_memories_importance ON memories(importance);
CREATE INDEX IF NOT EXISTS idx_memories_forgotten ON memories(forgotten);

CREATE TABLE IF NOT EXISTS associations (
	id TEXT PRIMARY KEY,
	source_id TEXT NOT NULL,
	target_id TEXT NOT NULL,
	relation_type TEXT NOT NULL CHECK (
		relation_type IN ('related_to', 'updates', 'contradicts', 'caused_by', 'result_of', 'part_of')
	),
	weight REAL NOT NULL CHECK (weight >= 0.0 AND weight <= 1.0),
	created_at DATETIME NOT NULL,
	FOREIGN KEY (source_id) REFERENCES memories(id) ON DELETE CASCADE,
	FOREIGN KEY (target_id) REFERENCES memories(id) ON DELETE CASCADE
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_associations_unique ON associations(source_id, target_id, relation_type);
CREATE INDEX IF NOT EXISTS idx_associations_source ON associations(source_id);
CREATE INDEX IF NOT EXISTS idx_associations_target ON associations(target_id);
CREATE INDEX IF NOT EXISTS idx_associations_source_weight ON associations(source_id, weight);
CREATE INDEX IF NOT EXISTS idx_associations_target_weight ON associations(target_id, weight);

CREATE TABLE IF NOT EXISTS experiences (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	context TEXT,
	started_at DATETIME NOT NULL,
	ended_at DATETIME,
	importance REAL NOT NULL DEFAULT 0.5
);

CREATE INDEX IF NOT EXISTS idx_experiences_open ON experiences(ended_at);

CREATE TABLE IF NOT EXISTS experience_memories (
	experience_id TEXT NOT NULL,
	memory_id TEXT NOT NULL,
	added_at DATETIME NOT NULL,
	PRIMARY KEY (experience_id, memory_id),
	FOREIGN KEY (experience_id) REFERENCES experiences(id) ON DELETE CASCADE,
	FOREIGN KEY (memory_id) REFERENCES memories(id) ON DELETE CASCADE
);
`
