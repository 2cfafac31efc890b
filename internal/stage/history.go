package stage

import "fmt"

// DefaultHistoryLimit bounds the undo stack per channel.
const DefaultHistoryLimit = 50

// History is a bounded stack of serialized snapshots. Once full, pushing
// evicts the oldest entry. It is not safe for concurrent use; Channel
// guards it.
type History struct {
	limit   int
	entries [][]byte
}

func NewHistory(limit int) *History {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &History{limit: limit}
}

// Push stores a serialized copy of s.
func (h *History) Push(s State) error {
	data, err := s.Marshal()
	if err != nil {
		return fmt.Errorf("snapshot state: %w", err)
	}
	h.entries = append(h.entries, data)
	if over := len(h.entries) - h.limit; over > 0 {
		h.entries = append(h.entries[:0:0], h.entries[over:]...)
	}
	return nil
}

// Pop removes and decodes the most recent snapshot. ok is false when the
// stack is empty.
func (h *History) Pop() (State, bool, error) {
	n := len(h.entries)
	if n == 0 {
		return State{}, false, nil
	}
	data := h.entries[n-1]
	h.entries = h.entries[:n-1]
	s, err := Unmarshal(data)
	if err != nil {
		return State{}, false, fmt.Errorf("restore snapshot: %w", err)
	}
	return s, true, nil
}

func (h *History) Len() int {
	return len(h.entries)
}

func (h *History) Limit() int {
	return h.limit
}
