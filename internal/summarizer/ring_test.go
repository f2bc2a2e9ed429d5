package summarizer

import (
	"fmt"
	"testing"
)

func TestRingBoundedAndFiltered(t *testing.T) {
	r := NewDebugRing()
	for i := 0; i < 250; i++ {
		r.Push("s1", "stage", map[string]any{"i": i})
	}
	r.Push("s2", "other", nil)

	all := r.Snapshot("s1", 1000)
	if len(all) > debugRingCapacity {
		t.Fatalf("ring grew past capacity: %d", len(all))
	}
	// oldest entries were dropped
	if first := all[0]["i"].(int); first <= 49 {
		t.Fatalf("oldest surviving event = %v, expected early events dropped", first)
	}

	other := r.Snapshot("s2", 10)
	if len(other) != 1 || other[0]["stage"] != "other" {
		t.Fatalf("filtered snapshot = %v", other)
	}
}

func TestRingSnapshotLimitAndCopy(t *testing.T) {
	r := NewDebugRing()
	for i := 0; i < 5; i++ {
		r.Push("s", fmt.Sprintf("stage%d", i), nil)
	}
	snap := r.Snapshot("s", 2)
	if len(snap) != 2 {
		t.Fatalf("len = %d, want 2", len(snap))
	}
	if snap[1]["stage"] != "stage4" {
		t.Fatalf("last stage = %v, want newest", snap[1]["stage"])
	}
	// mutating the snapshot must not touch the ring
	snap[1]["stage"] = "mutated"
	if again := r.Snapshot("s", 2); again[1]["stage"] != "stage4" {
		t.Fatal("snapshot must be a copy")
	}
}
