// Package ftindex implements the BM25-scored full-text index (spec
// §4.2) as a standalone FTS5 virtual table in its own sqlite file
// under data_dir/ftindex, independent of Store so it can be rebuilt
// lazily if it falls out of sync (spec §6 persistence layout).
package ftindex

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/mycelicmemory/memcore/internal/backend"
	"github.com/mycelicmemory/memcore/internal/logging"

	_ "github.com/mattn/go-sqlite3"
)

var log = logging.GetLogger("ftindex")

const schema = `
CREATE VIRTUAL TABLE IF NOT EXISTS memories_fts USING fts5(
	id UNINDEXED,
	content,
	source
);
`

// Hit is a single full-text search result: an id and its raw
// (unnormalized) BM25 score. Higher is better after the sign flip
// applied in Search, matching the fusion layer's "higher is better"
// convention for every source.
type Hit struct {
	ID    string
	Score float64
}

// Index is the FTS5-backed FTIndex implementation.
type Index struct {
	db *sql.DB
	mu sync.Mutex
}

// Open opens (creating if needed) the FTS5 database at dir/fts.db.
func Open(dir string) (*Index, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create ftindex directory: %w", err)
	}
	path := filepath.Join(dir, "fts.db")

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open ftindex: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create fts5 schema: %w", err)
	}

	log.Info("ftindex ready", "path", path)
	return &Index{db: db}, nil
}

// Close closes the underlying database.
func (x *Index) Close() error { return x.db.Close() }

// Upsert indexes id's text and optional source field, replacing any
// prior entry for id.
func (x *Index) Upsert(ctx context.Context, id, text string, source string) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if _, err := x.db.ExecContext(ctx, `DELETE FROM memories_fts WHERE id = ?`, id); err != nil {
		return backend.Wrap(backend.KindBackendFailure, "ftindex delete-before-upsert", err)
	}
	if _, err := x.db.ExecContext(ctx, `INSERT INTO memories_fts (id, content, source) VALUES (?, ?, ?)`, id, text, source); err != nil {
		return backend.Wrap(backend.KindBackendFailure, "ftindex upsert", err)
	}
	return nil
}

// Remove deletes id from the index. Removing an absent id is a no-op.
func (x *Index) Remove(ctx context.Context, id string) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if _, err := x.db.ExecContext(ctx, `DELETE FROM memories_fts WHERE id = ?`, id); err != nil {
		return backend.Wrap(backend.KindBackendFailure, "ftindex remove", err)
	}
	return nil
}

// Exists reports whether id is currently indexed.
func (x *Index) Exists(ctx context.Context, id string) (bool, error) {
	var n int
	err := x.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memories_fts WHERE id = ?`, id).Scan(&n)
	if err != nil {
		return false, backend.Wrap(backend.KindBackendFailure, "ftindex exists", err)
	}
	return n > 0, nil
}

// IDs returns every id currently indexed, for index-coherence checks.
func (x *Index) IDs(ctx context.Context) (map[string]bool, error) {
	rows, err := x.db.QueryContext(ctx, `SELECT id FROM memories_fts`)
	if err != nil {
		return nil, backend.Wrap(backend.KindBackendFailure, "ftindex list ids", err)
	}
	defer rows.Close()

	out := map[string]bool{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, backend.Wrap(backend.KindBackendFailure, "ftindex scan id", err)
		}
		out[id] = true
	}
	return out, rows.Err()
}

var tokenRe = regexp.MustCompile(`[A-Za-z0-9]+`)

func tokenize(s string) []string {
	return tokenRe.FindAllString(strings.ToLower(s), -1)
}

// Search returns the top_k highest-scoring ids for query. fuzzy, when
// true, additionally matches content tokens within edit distance 1 of
// any short (<=6 rune) query token; those hits come from a separate
// scan and are appended after the BM25 hits with a fixed score of 0.01
// (spec §4.2 fuzzy matching for short tokens).
func (x *Index) Search(ctx context.Context, query string, topK int, fuzzy bool) ([]Hit, error) {
	if topK <= 0 {
		topK = 10
	}

	match := ftsMatchExpr(query)
	if match == "" {
		return nil, nil
	}

	rows, err := x.db.QueryContext(ctx, `
		SELECT id, bm25(memories_fts) FROM memories_fts
		WHERE memories_fts MATCH ?
		ORDER BY bm25(memories_fts)
		LIMIT ?
	`, match, topK)
	if err != nil {
		return nil, backend.Wrap(backend.KindBackendFailure, "ftindex search", err)
	}
	defer rows.Close()

	var hits []Hit
	seen := map[string]bool{}
	for rows.Next() {
		var id string
		var bm25Score float64
		if err := rows.Scan(&id, &bm25Score); err != nil {
			return nil, backend.Wrap(backend.KindBackendFailure, "ftindex scan hit", err)
		}
		// sqlite's bm25() returns a cost (lower is better); negate so
		// every source in the fusion layer shares "higher is better".
		hits = append(hits, Hit{ID: id, Score: -bm25Score})
		seen[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, backend.Wrap(backend.KindBackendFailure, "ftindex rows", err)
	}

	if fuzzy {
		fuzzyHits, err := x.fuzzySearch(ctx, query, topK, seen)
		if err != nil {
			log.Warn("fuzzy search degraded", "error", err)
		} else {
			hits = append(hits, fuzzyHits...)
		}
	}

	return hits, nil
}

// ftsMatchExpr quotes each token so punctuation in content never
// breaks FTS5's query-syntax parser.
func ftsMatchExpr(query string) string {
	tokens := tokenize(query)
	if len(tokens) == 0 {
		return ""
	}
	quoted := make([]string, len(tokens))
	for i, t := range tokens {
		quoted[i] = `"` + t + `"`
	}
	return strings.Join(quoted, " OR ")
}

// fuzzySearch post-filters a broader scan for tokens within edit
// distance 1 of any short (<=6 rune) query token — FTS5 has no native
// fuzzy operator, so this trades a full table scan for recall on
// short, typo-prone tokens only.
func (x *Index) fuzzySearch(ctx context.Context, query string, topK int, exclude map[string]bool) ([]Hit, error) {
	shortTokens := []string{}
	for _, t := range tokenize(query) {
		if len([]rune(t)) <= 6 {
			shortTokens = append(shortTokens, t)
		}
	}
	if len(shortTokens) == 0 {
		return nil, nil
	}

	rows, err := x.db.QueryContext(ctx, `SELECT id, content FROM memories_fts`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var id, content string
		if err := rows.Scan(&id, &content); err != nil {
			return nil, err
		}
		if exclude[id] {
			continue
		}
		for _, word := range tokenize(content) {
			for _, qt := range shortTokens {
				if editDistanceAtMost1(word, qt) {
					hits = append(hits, Hit{ID: id, Score: 0.01})
					break
				}
			}
		}
		if len(hits) >= topK {
			break
		}
	}
	return hits, rows.Err()
}

// editDistanceAtMost1 reports whether a and b differ by at most one
// character insertion, deletion, or substitution.
func editDistanceAtMost1(a, b string) bool {
	if a == b {
		return true
	}
	ra, rb := []rune(a), []rune(b)
	if len(ra) > len(rb) {
		ra, rb = rb, ra
	}
	if len(rb)-len(ra) > 1 {
		return false
	}
	if len(ra) == len(rb) {
		diff := 0
		for i := range ra {
			if ra[i] != rb[i] {
				diff++
				if diff > 1 {
					return false
				}
			}
		}
		return diff <= 1
	}
	// len(rb) == len(ra)+1: check single insertion
	i, j, diff := 0, 0, 0
	for i < len(ra) && j < len(rb) {
		if ra[i] == rb[j] {
			i++
			j++
			continue
		}
		diff++
		if diff > 1 {
			return false
		}
		j++
	}
	return true
}
