package ftindex

import (
	"context"
	"testing"
)

func newTestIndex(t *testing.T) *Index {
	t.Helper()
	idx, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("failed to open ftindex: %v", err)
	}
	t.Cleanup(func() { idx.Close() })
	return idx
}

func TestUpsertAndSearch(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	idx.Upsert(ctx, "m1", "Rust is memory-safe", "")
	idx.Upsert(ctx, "m2", "User prefers concise answers", "")

	hits, err := idx.Search(ctx, "memory safety", 10, false)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(hits) == 0 || hits[0].ID != "m1" {
		t.Fatalf("expected m1 top hit, got %+v", hits)
	}
}

func TestRemoveDropsFromIndex(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()
	idx.Upsert(ctx, "m1", "Rust is memory-safe", "")

	if err := idx.Remove(ctx, "m1"); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	exists, err := idx.Exists(ctx, "m1")
	if err != nil {
		t.Fatalf("exists failed: %v", err)
	}
	if exists {
		t.Fatalf("expected m1 to be removed")
	}
}

func TestUpsertReplacesPriorEntry(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()
	idx.Upsert(ctx, "m1", "original text", "")
	idx.Upsert(ctx, "m1", "replaced text about golang", "")

	hits, err := idx.Search(ctx, "golang", 10, false)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(hits) != 1 || hits[0].ID != "m1" {
		t.Fatalf("expected single hit for m1, got %+v", hits)
	}

	ids, err := idx.IDs(ctx)
	if err != nil {
		t.Fatalf("ids failed: %v", err)
	}
	if len(ids) != 1 {
		t.Fatalf("expected exactly one indexed id after replace, got %d", len(ids))
	}
}

func TestFuzzySearchMatchesNearTypo(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()
	idx.Upsert(ctx, "m1", "launch the rocket", "")

	hits, err := idx.Search(ctx, "lunch", 10, true)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	found := false
	for _, h := range hits {
		if h.ID == "m1" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected fuzzy match to surface m1, got %+v", hits)
	}
}

func TestEditDistanceAtMost1(t *testing.T) {
	cases := []struct {
		a, b string
		want bool
	}{
		{"lunch", "launch", true},
		{"cat", "cat", true},
		{"cat", "bat", true},
		{"cat", "cats", true},
		{"cat", "dog", false},
		{"rocket", "rockets", true},
	}
	for _, c := range cases {
		if got := editDistanceAtMost1(c.a, c.b); got != c.want {
			t.Errorf("editDistanceAtMost1(%q, %q) = %v, want %v", c.a, c.b, got, c.want)
		}
	}
}
