package hnsw

import "testing"

func unitVec(dims int, hot int) []float32 {
	v := make([]float32, dims)
	v[hot] = 1.0
	return v
}

func TestInsertAndSearchReturnsClosest(t *testing.T) {
	idx := New(4)
	idx.Insert("a", unitVec(4, 0))
	idx.Insert("b", unitVec(4, 1))
	idx.Insert("c", unitVec(4, 2))

	results := idx.Search(unitVec(4, 0), 1)
	if len(results) != 1 || results[0].ID != "a" {
		t.Fatalf("expected a as closest, got %+v", results)
	}
}

func TestRemoveExcludesFromSearch(t *testing.T) {
	idx := New(4)
	idx.Insert("a", unitVec(4, 0))
	idx.Insert("b", unitVec(4, 0))

	idx.Remove("a")
	if idx.Has("a") {
		t.Fatalf("expected a to be removed")
	}

	results := idx.Search(unitVec(4, 0), 2)
	for _, r := range results {
		if r.ID == "a" {
			t.Fatalf("removed id a should not appear in search results")
		}
	}
}

func TestInsertReplacesExistingID(t *testing.T) {
	idx := New(4)
	idx.Insert("a", unitVec(4, 0))
	idx.Insert("a", unitVec(4, 1))

	results := idx.Search(unitVec(4, 1), 1)
	if len(results) != 1 || results[0].ID != "a" {
		t.Fatalf("expected replaced vector to be searchable, got %+v", results)
	}
	if idx.Len() != 1 {
		t.Fatalf("expected exactly one live vector after replace, got %d", idx.Len())
	}
}

func TestSearchEmptyIndex(t *testing.T) {
	idx := New(4)
	if results := idx.Search(unitVec(4, 0), 5); results != nil {
		t.Fatalf("expected nil results on empty index, got %+v", results)
	}
}

func TestCosineDistanceOrthogonalVectors(t *testing.T) {
	a := unitVec(4, 0)
	b := unitVec(4, 1)
	d := cosineDistance(a, b)
	if d < 0.99 || d > 1.01 {
		t.Fatalf("expected orthogonal vectors to have distance ~1, got %v", d)
	}
}

func TestCosineDistanceIdenticalVectors(t *testing.T) {
	a := unitVec(4, 0)
	d := cosineDistance(a, a)
	if d > 1e-6 {
		t.Fatalf("expected identical vectors to have distance ~0, got %v", d)
	}
}
