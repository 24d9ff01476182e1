package cortex

import "testing"

func TestThinkAboutInsertsAndPromotes(t *testing.T) {
	w := NewWorkingMemory(3, 0.9)
	w.ThinkAbout("a")
	w.ThinkAbout("b")
	w.ThinkAbout("a")

	if w.Len() != 2 {
		t.Fatalf("expected 2 resident ids, got %d", w.Len())
	}
	snap := w.Snapshot()
	if snap[0] != "a" {
		t.Fatalf("expected a promoted to front, got %v", snap)
	}
}

func TestEvictsLowestAttentionUnpinned(t *testing.T) {
	w := NewWorkingMemory(2, 0.9)
	w.ThinkAbout("a")
	w.Tick()
	w.Tick()
	w.ThinkAbout("b")
	w.ThinkAbout("c") // over capacity, should evict a (lowest attention, unpinned)

	if w.Resident("a") {
		t.Fatalf("expected a to be evicted")
	}
	if !w.Resident("b") || !w.Resident("c") {
		t.Fatalf("expected b and c resident")
	}
}

func TestPinExemptsFromEviction(t *testing.T) {
	w := NewWorkingMemory(2, 0.9)
	w.ThinkAbout("a")
	w.Pin("a")
	w.Tick()
	w.Tick()
	w.ThinkAbout("b")
	w.ThinkAbout("c")

	if !w.Resident("a") {
		t.Fatalf("expected pinned a to survive eviction")
	}
}

func TestFocusDoesNotChangeResidencyOrder(t *testing.T) {
	w := NewWorkingMemory(5, 0.9)
	w.ThinkAbout("a")
	w.ThinkAbout("b")
	w.Focus("a")

	snap := w.Snapshot()
	if snap[0] != "b" {
		t.Fatalf("expected focus to leave LRU order untouched, got %v", snap)
	}
	score, ok := w.Attention("a")
	if !ok || score != 1.0 {
		t.Fatalf("expected a's attention reset to 1.0, got %v", score)
	}
}

func TestTickDecaysAttention(t *testing.T) {
	w := NewWorkingMemory(5, 0.5)
	w.ThinkAbout("a")
	w.Tick()

	score, ok := w.Attention("a")
	if !ok || score != 0.5 {
		t.Fatalf("expected attention decayed to 0.5, got %v", score)
	}
}
