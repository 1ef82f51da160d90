package rollback

import (
	"errors"
	"fmt"
	"log"

	"rewind.dev/internal/sim/ecs"
)

// Step advances the live state by exactly one frame. It must be
// deterministic in (world, resources).
type Step interface {
	Run(w *ecs.World, res *ecs.Resources)
}

type StepFunc func(w *ecs.World, res *ecs.Resources)

func (f StepFunc) Run(w *ecs.World, res *ecs.Resources) { f(w, res) }

type Config struct {
	// Capacity is the rewind window in frames; also the ring size.
	Capacity int

	World     *ecs.World
	Resources *ecs.Resources
	Step      Step

	Logger *log.Logger
}

// Advance summarizes one AdvanceFrame call.
type Advance struct {
	Newest      Frame
	Rewound     bool
	RewindFrame Frame
	Steps       int
}

type Stats struct {
	Advances uint64
	Steps    uint64
	Rewinds  uint64
	Changes  uint64
}

// Engine owns the live world and resources and keeps them equal to what a
// from-scratch simulation with every scheduled change would produce.
//
// Engine is not safe for concurrent use. Callers serialize AdvanceFrame and
// ScheduleChange, normally from a single driver goroutine.
type Engine struct {
	log *log.Logger

	clock   FrameClock
	state   State
	ring    *SnapshotRing
	changes *ChangeQueue
	tracked *ResourceRegistry
	step    Step

	world *ecs.World
	res   *ecs.Resources

	sealed    bool
	replaying bool
	halted    error

	last  Advance
	stats Stats
}

func New(cfg Config) (*Engine, error) {
	if cfg.Capacity < 1 {
		return nil, fmt.Errorf("rollback: capacity must be >= 1 (got %d)", cfg.Capacity)
	}
	if cfg.Step == nil {
		return nil, errors.New("rollback: missing step")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	w := cfg.World
	if w == nil {
		w = ecs.NewWorld(nil)
	}
	res := cfg.Resources
	if res == nil {
		res = ecs.NewResources()
	}
	return &Engine{
		log:     logger,
		state:   RolledbackAt(0),
		ring:    NewSnapshotRing(cfg.Capacity),
		changes: NewChangeQueue(),
		tracked: newResourceRegistry(),
		step:    cfg.Step,
		world:   w,
		res:     res,
	}, nil
}

// Track inserts initial as the live R and restores R on every rewind.
func Track[R any](e *Engine, initial R) error {
	if err := register[R](e.tracked, false); err != nil {
		return err
	}
	ecs.InsertResource(e.res, initial)
	return nil
}

// TrackOverride is Track plus: during a replay the recorded value of R for
// each re-simulated frame wins over what the step computes.
func TrackOverride[R any](e *Engine, initial R) error {
	if err := register[R](e.tracked, true); err != nil {
		return err
	}
	ecs.InsertResource(e.res, initial)
	return nil
}

func (e *Engine) Newest() Frame                      { return e.clock.Newest() }
func (e *Engine) State() State                       { return e.state }
func (e *Engine) Capacity() int                      { return e.ring.Capacity() }
func (e *Engine) World() *ecs.World                  { return e.world }
func (e *Engine) Resources() *ecs.Resources          { return e.res }
func (e *Engine) Registry() *ResourceRegistry        { return e.tracked }
func (e *Engine) LastAdvance() Advance               { return e.last }
func (e *Engine) Stats() Stats                       { return e.stats }
func (e *Engine) PendingFrames() []Frame             { return e.changes.Frames() }
func (e *Engine) Snapshot(f Frame) (*Snapshot, bool) { return e.ring.Peek(f) }

// Halted returns the error that stopped the engine, or nil.
func (e *Engine) Halted() error { return e.halted }

// AdvanceFrame confirms one more frame. If a change was scheduled in the
// past the live state is rewound and every frame since is re-simulated;
// either way exactly one new frame is simulated.
func (e *Engine) AdvanceFrame() error {
	if e.halted != nil {
		return e.halted
	}
	if e.replaying {
		return ErrReplayInProgress
	}
	if err := e.seal(); err != nil {
		return err
	}

	adv := Advance{Newest: e.clock.Advance()}
	if err := e.replay(&adv); err != nil {
		return e.halt(err)
	}
	e.last = adv
	e.stats.Advances++
	if adv.Rewound {
		e.log.Printf("rewound to frame %d, replayed %d frames (newest=%d)", adv.RewindFrame, adv.Steps, adv.Newest)
	}
	return nil
}

// ScheduleChange queues c for frame. A frame at or before newest marks the
// engine for a rewind; the earliest pending target wins. Future frames are
// queued and applied when the clock reaches them.
func (e *Engine) ScheduleChange(frame Frame, c Change) error {
	if e.halted != nil {
		return e.halted
	}
	if e.replaying {
		return ErrReplayInProgress
	}
	if c == nil {
		return ErrNilChange
	}
	if err := e.seal(); err != nil {
		return err
	}

	newest := e.clock.Newest()
	if frame <= newest && e.clock.age(frame) >= Frame(e.ring.Capacity()) {
		return &FrameError{Frame: frame, Newest: newest, Capacity: e.ring.Capacity(), Err: ErrFrameTimeout}
	}
	e.changes.Push(frame, c)
	e.stats.Changes++
	if frame > newest {
		return nil
	}

	switch e.state.Kind {
	case Rollback:
		if frame < e.state.Frame {
			e.state = RollbackTo(frame)
		}
	case Rolledback:
		// Rolledback(newest) is the only resting Rolledback state outside a replay.
		e.state = RollbackTo(frame)
	}
	return nil
}

// seal freezes the track registry and records the initial snapshot.
func (e *Engine) seal() error {
	if e.sealed {
		return nil
	}
	e.tracked.frozen = true
	e.sealed = true
	if err := e.store(e.clock.Newest()); err != nil {
		return e.halt(fmt.Errorf("store initial snapshot: %w", err))
	}
	return nil
}

func (e *Engine) halt(err error) error {
	e.halted = fmt.Errorf("%w: %w", ErrHalted, err)
	e.log.Printf("halted at newest=%d state=%s: %v", e.clock.Newest(), e.state, err)
	return e.halted
}

func (e *Engine) replay(adv *Advance) error {
	e.replaying = true
	defer func() { e.replaying = false }()

	newest := e.clock.Newest()
	for !e.state.Quiescent(newest) {
		f := e.state.Frame
		switch e.state.Kind {
		case Rollback:
			if err := e.rewind(f); err != nil {
				return fmt.Errorf("rewind to %d: %w", f, err)
			}
			adv.Rewound = true
			adv.RewindFrame = f
			e.stats.Rewinds++
			e.state = RolledbackAt(f)
		case Rolledback:
			if f > newest {
				return fmt.Errorf("state %s is past newest frame %d", e.state, newest)
			}
			if err := e.stepFrame(f); err != nil {
				return fmt.Errorf("frame %d: %w", f, err)
			}
			adv.Steps++
			e.state = RolledbackAt(f + 1)
		default:
			return fmt.Errorf("unknown state %s", e.state)
		}
	}
	return nil
}

// rewind moves f's snapshot into the live state and stores a fresh copy in
// its slot so a later rewind to f in the same window still finds it.
func (e *Engine) rewind(f Frame) error {
	snap, err := e.ring.Take(f)
	if err != nil {
		return err
	}
	e.world = snap.World
	if err := e.tracked.restore(e.res, snap.Resources); err != nil {
		return err
	}
	return e.store(f)
}

// stepFrame simulates frame f from the live state (which is the state at the
// start of f) and stores the result as the snapshot for f+1.
func (e *Engine) stepFrame(f Frame) error {
	batch := e.changes.Take(f)

	var before *ecs.Resources
	if len(batch) > 0 && len(e.tracked.override) > 0 {
		var err error
		if before, err = e.tracked.captureOverrides(e.res); err != nil {
			return err
		}
	}
	for _, c := range batch {
		c.Apply(e.world, e.res)
	}

	var recorded *ecs.Resources
	if prev, ok := e.ring.Peek(f + 1); ok {
		recorded = prev.Resources
	}
	authority, err := e.tracked.authority(e.res, before, recorded)
	if err != nil {
		return err
	}
	if authority != nil {
		if err := e.tracked.applyOverrides(e.res, authority); err != nil {
			return err
		}
	}

	e.step.Run(e.world, e.res)
	e.stats.Steps++

	if authority != nil {
		if err := e.tracked.applyOverrides(e.res, authority); err != nil {
			return err
		}
	}
	return e.store(f + 1)
}

func (e *Engine) store(f Frame) error {
	res, err := e.tracked.capture(e.res)
	if err != nil {
		return err
	}
	e.ring.Store(&Snapshot{Frame: f, World: e.world.Clone(), Resources: res})
	return nil
}
