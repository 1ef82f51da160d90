package rollback

import (
	"sort"

	"rewind.dev/internal/sim/ecs"
)

// Change is a deferred mutation of a frame's state. It is applied at most
// once, when its frame is (re)simulated, and then discarded.
type Change interface {
	Apply(w *ecs.World, res *ecs.Resources)
}

// ChangeFunc adapts a plain function to Change.
type ChangeFunc func(w *ecs.World, res *ecs.Resources)

func (f ChangeFunc) Apply(w *ecs.World, res *ecs.Resources) { f(w, res) }

// ChangeQueue maps a frame to its ordered batch of pending changes. Frames
// without pending changes are absent from the map.
type ChangeQueue struct {
	pending map[Frame][]Change
}

func NewChangeQueue() *ChangeQueue {
	return &ChangeQueue{pending: map[Frame][]Change{}}
}

func (q *ChangeQueue) Push(f Frame, c Change) {
	q.pending[f] = append(q.pending[f], c)
}

// Take removes and returns f's batch in push order.
func (q *ChangeQueue) Take(f Frame) []Change {
	batch, ok := q.pending[f]
	if !ok {
		return nil
	}
	delete(q.pending, f)
	return batch
}

// Pending reports how many changes are queued for f.
func (q *ChangeQueue) Pending(f Frame) int { return len(q.pending[f]) }

// Len reports how many frames have pending changes.
func (q *ChangeQueue) Len() int { return len(q.pending) }

func (q *ChangeQueue) Frames() []Frame {
	out := make([]Frame, 0, len(q.pending))
	for f := range q.pending {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
