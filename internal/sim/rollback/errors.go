package rollback

import (
	"errors"
	"fmt"
)

var (
	// ErrFrameTimeout: the target frame's snapshot has already been evicted.
	ErrFrameTimeout = errors.New("rollback: frame timeout")

	// Internal invariant violations. Any of these halts the engine.
	ErrSlotEmpty        = errors.New("rollback: snapshot slot empty")
	ErrResourceNotFound = errors.New("rollback: tracked resource not found")

	ErrHalted           = errors.New("rollback: engine halted")
	ErrReplayInProgress = errors.New("rollback: replay in progress")
	ErrRegistryFrozen   = errors.New("rollback: resource registry frozen")
	ErrNilChange        = errors.New("rollback: nil change")
)

// FrameError reports a change targeting a frame outside the rewind window.
type FrameError struct {
	Frame    Frame
	Newest   Frame
	Capacity int
	Err      error
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("%v: frame %d is %d behind newest %d (capacity %d)",
		e.Err, e.Frame, e.Newest-e.Frame, e.Newest, e.Capacity)
}

func (e *FrameError) Unwrap() error { return e.Err }
