package rollback

import (
	"fmt"
	"sort"

	"rewind.dev/internal/sim/ecs"
)

// Snapshot is an owned copy of the world and the tracked resources at the
// start of Frame. Stored snapshots are never mutated.
type Snapshot struct {
	Frame     Frame
	World     *ecs.World
	Resources *ecs.Resources
}

// SnapshotRing holds the last Capacity snapshots, slot = frame % capacity.
type SnapshotRing struct {
	slots []*Snapshot
}

func NewSnapshotRing(capacity int) *SnapshotRing {
	if capacity < 1 {
		capacity = 1
	}
	return &SnapshotRing{slots: make([]*Snapshot, capacity)}
}

func (r *SnapshotRing) Capacity() int { return len(r.slots) }

func (r *SnapshotRing) slot(f Frame) int { return int(f % Frame(len(r.slots))) }

// Store overwrites s.Frame's slot unconditionally and returns the previous
// occupant, which may belong to an older frame or be nil.
func (r *SnapshotRing) Store(s *Snapshot) *Snapshot {
	i := r.slot(s.Frame)
	prev := r.slots[i]
	r.slots[i] = s
	return prev
}

// Take moves f's snapshot out of the ring, leaving the slot empty.
func (r *SnapshotRing) Take(f Frame) (*Snapshot, error) {
	i := r.slot(f)
	s := r.slots[i]
	if s == nil {
		return nil, fmt.Errorf("%w: frame %d (slot %d)", ErrSlotEmpty, f, i)
	}
	if s.Frame != f {
		return nil, fmt.Errorf("%w: frame %d (slot %d holds frame %d)", ErrSlotEmpty, f, i, s.Frame)
	}
	r.slots[i] = nil
	return s, nil
}

// Peek returns f's snapshot without removing it.
func (r *SnapshotRing) Peek(f Frame) (*Snapshot, bool) {
	s := r.slots[r.slot(f)]
	if s == nil || s.Frame != f {
		return nil, false
	}
	return s, true
}

// Frames lists the frames currently held, ascending.
func (r *SnapshotRing) Frames() []Frame {
	out := make([]Frame, 0, len(r.slots))
	for _, s := range r.slots {
		if s != nil {
			out = append(out, s.Frame)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
