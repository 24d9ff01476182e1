// Package store implements the built-in MetadataStore backend: a
// single-writer SQLite database holding memories, associations, and
// experiences (spec §4.1, §6 persistence layout). The FTS5 full-text
// index is not part of this database; package ftindex keeps it in a
// separate sqlite file.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mycelicmemory/memcore/internal/logging"

	_ "github.com/mattn/go-sqlite3"
)

var log = logging.GetLogger("store")

// DB wraps a single-writer sqlite connection.
type DB struct {
	db   *sql.DB
	path string
	mu   sync.RWMutex
}

// Open opens the sqlite database at path, creating its directory and
// schema if needed. Single-writer is enforced the way the teacher does
// it: cap the pool at one open connection so sqlite's own file lock
// never contends with itself.
func Open(path string) (*DB, error) {
	log.Info("opening store", "path", path)

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL", path)
	sqldb, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	sqldb.SetMaxOpenConns(1)
	sqldb.SetMaxIdleConns(1)
	sqldb.SetConnMaxLifetime(time.Hour)

	if err := sqldb.Ping(); err != nil {
		sqldb.Close()
		return nil, fmt.Errorf("failed to ping store: %w", err)
	}

	d := &DB{db: sqldb, path: path}
	if err := d.initSchema(); err != nil {
		sqldb.Close()
		return nil, err
	}

	log.Info("store ready", "path", path)
	return d, nil
}

func (d *DB) initSchema() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var name string
	err := d.db.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name='memories' LIMIT 1`).Scan(&name)
	if err == nil && name != "" {
		log.Debug("schema already initialized")
		return nil
	}

	tx, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin schema transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(CoreSchema); err != nil {
		return fmt.Errorf("failed to create core schema: %w", err)
	}

	if _, err := tx.Exec(`INSERT OR REPLACE INTO schema_version (version, applied_at) VALUES (?, CURRENT_TIMESTAMP)`, SchemaVersion); err != nil {
		return fmt.Errorf("failed to record schema version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit schema: %w", err)
	}

	log.Info("schema initialized", "version", SchemaVersion)
	return nil
}

// Close closes the underlying connection.
func (d *DB) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.db.Close()
}

// Path returns the database file path.
func (d *DB) Path() string { return d.path }

// Vacuum runs VACUUM to reclaim space after pruning/hard-delete.
func (d *DB) Vacuum() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.db.Exec("VACUUM")
	return err
}

// Checkpoint forces a WAL checkpoint.
func (d *DB) Checkpoint() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return err
}
