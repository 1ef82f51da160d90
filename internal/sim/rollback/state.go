package rollback

import "fmt"

type StateKind uint8

const (
	// Rollback: live state must be rewound to Frame's snapshot before
	// simulation resumes.
	Rollback StateKind = iota + 1
	// Rolledback: live state is the state at the start of Frame. When Frame
	// equals the newest frame the engine is caught up.
	Rolledback
)

// State is the engine's tagged union; exactly one Kind is active.
type State struct {
	Kind  StateKind
	Frame Frame
}

func RollbackTo(f Frame) State   { return State{Kind: Rollback, Frame: f} }
func RolledbackAt(f Frame) State { return State{Kind: Rolledback, Frame: f} }

func (s State) Quiescent(newest Frame) bool {
	return s.Kind == Rolledback && s.Frame == newest
}

func (s State) String() string {
	switch s.Kind {
	case Rollback:
		return fmt.Sprintf("Rollback(%d)", s.Frame)
	case Rolledback:
		return fmt.Sprintf("Rolledback(%d)", s.Frame)
	default:
		return fmt.Sprintf("State(%d,%d)", s.Kind, s.Frame)
	}
}
