package stage

import (
	"fmt"
	"testing"

	"stagehand/api/internal/geometry"
)

func TestHistoryBoundEvictsOldest(t *testing.T) {
	h := NewHistory(DefaultHistoryLimit)
	total := DefaultHistoryLimit + 5
	for i := 0; i < total; i++ {
		s := DefaultState()
		s.Version = uint64(i)
		if err := h.Push(s); err != nil {
			t.Fatalf("Push(%d) error = %v", i, err)
		}
	}
	if h.Len() != DefaultHistoryLimit {
		t.Fatalf("Len() = %d, want %d", h.Len(), DefaultHistoryLimit)
	}

	var popped []uint64
	for {
		s, ok, err := h.Pop()
		if err != nil {
			t.Fatalf("Pop() error = %v", err)
		}
		if !ok {
			break
		}
		popped = append(popped, s.Version)
	}
	if len(popped) != DefaultHistoryLimit {
		t.Fatalf("popped %d entries, want %d", len(popped), DefaultHistoryLimit)
	}
	if popped[0] != uint64(total-1) {
		t.Fatalf("first pop = %d, want most recent %d", popped[0], total-1)
	}
	if last := popped[len(popped)-1]; last != 5 {
		t.Fatalf("oldest surviving entry = %d, want 5 (entries 0-4 evicted)", last)
	}
}

func TestHistorySnapshotsAreDeepCopies(t *testing.T) {
	h := NewHistory(0)
	if h.Limit() != DefaultHistoryLimit {
		t.Fatalf("Limit() = %d, want default %d", h.Limit(), DefaultHistoryLimit)
	}
	s := DefaultState()
	s.Elements["el"] = &Element{ID: "el", Transform: geometry.DefaultTransform()}
	if err := h.Push(s); err != nil {
		t.Fatalf("Push() error = %v", err)
	}
	s.Elements["el"].Transform.X = 0.01
	s.Config.Locked = true

	restored, ok, err := h.Pop()
	if err != nil || !ok {
		t.Fatalf("Pop() = %v, %v", ok, err)
	}
	if restored.Elements["el"].Transform.X != 0.5 || restored.Config.Locked {
		t.Fatalf("snapshot was mutated after push: %+v", restored)
	}
}

func TestHistoryPopEmpty(t *testing.T) {
	h := NewHistory(3)
	if _, ok, err := h.Pop(); ok || err != nil {
		t.Fatalf("Pop() on empty = %v, %v", ok, err)
	}
	for i := 0; i < 4; i++ {
		_ = h.Push(DefaultState())
	}
	if got := fmt.Sprint(h.Len()); got != "3" {
		t.Fatalf("Len() = %s, want 3", got)
	}
}
