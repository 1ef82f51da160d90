package arena

import (
	"io"
	"log"
	"testing"

	"rewind.dev/internal/sim/ecs"
	"rewind.dev/internal/sim/rollback"
	"rewind.dev/internal/sim/tick"
)

func newTestEngine(t *testing.T, width int) *rollback.Engine {
	t.Helper()
	e, err := NewEngine(Config{
		Capacity: 16,
		Params:   Params{Width: width, Height: width, Speed: 1},
		Logger:   log.New(io.Discard, "", 0),
	})
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	return e
}

func scheduleChange(t *testing.T, e *rollback.Engine, f rollback.Frame, c Change) {
	t.Helper()
	if err := e.ScheduleChange(f, c); err != nil {
		t.Fatalf("schedule %s at %d: %v", c.Kind(), f, err)
	}
}

func advance(t *testing.T, e *rollback.Engine, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if err := e.AdvanceFrame(); err != nil {
			t.Fatalf("advance: %v", err)
		}
	}
}

func mustPos(t *testing.T, e *rollback.Engine, id string) Position {
	t.Helper()
	p, ok := PlayerPosition(e, id)
	if !ok {
		t.Fatalf("player %s missing", id)
	}
	return p
}

func TestArena_MovesWithHeldInput(t *testing.T) {
	e := newTestEngine(t, 100)
	scheduleChange(t, e, 0, JoinChange{Player: "p1", X: 5, Y: 5})
	scheduleChange(t, e, 0, InputChange{Player: "p1", Input: Input{MoveX: 1}})
	advance(t, e, 3)

	if p := mustPos(t, e, "p1"); p.X != 8 || p.Y != 5 {
		t.Fatalf("position: %+v", p)
	}
	clk, _ := ecs.GetResource[Clock](e.Resources())
	if clk.Frame != 3 {
		t.Fatalf("clock: %d", clk.Frame)
	}
}

func TestArena_BoundsClamp(t *testing.T) {
	e := newTestEngine(t, 10)
	scheduleChange(t, e, 0, JoinChange{Player: "p1", X: 8, Y: 0})
	scheduleChange(t, e, 0, InputChange{Player: "p1", Input: Input{MoveX: 5, MoveY: -3}})
	advance(t, e, 5)
	if p := mustPos(t, e, "p1"); p.X != 9 || p.Y != 0 {
		t.Fatalf("position: %+v", p)
	}
}

func newTestDriver(t *testing.T, e *rollback.Engine) *tick.Driver {
	t.Helper()
	d, err := tick.NewDriver(tick.Config{Engine: e, Logger: log.New(io.Discard, "", 0)})
	if err != nil {
		t.Fatalf("driver: %v", err)
	}
	return d
}

func req(t *testing.T, f rollback.Frame, c Change) tick.ChangeRequest {
	t.Helper()
	r, err := Request(f, c, make(chan error, 1))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	return r
}

// step schedules reqs through d and advances once; every request must be
// accepted.
func step(t *testing.T, d *tick.Driver, reqs ...tick.ChangeRequest) tick.FrameRecord {
	t.Helper()
	rec, err := d.StepOnce(reqs)
	if err != nil {
		t.Fatalf("step: %v", err)
	}
	for _, r := range reqs {
		if err := <-r.Resp; err != nil {
			t.Fatalf("schedule %s at %d: %v", r.Record.Kind, r.Frame, err)
		}
	}
	return rec
}

func TestArena_LateInputMatchesOnTimeInput(t *testing.T) {
	join := JoinChange{Player: "p1", X: 5, Y: 5}
	move := InputChange{Player: "p1", Input: Input{MoveX: 1}}

	onTimeEng := newTestEngine(t, 100)
	onTime := newTestDriver(t, onTimeEng)
	step(t, onTime, req(t, 0, join))
	step(t, onTime)
	step(t, onTime, req(t, 2, move))
	for i := 0; i < 3; i++ {
		step(t, onTime)
	}

	lateEng := newTestEngine(t, 100)
	late := newTestDriver(t, lateEng)
	step(t, late, req(t, 0, join))
	for i := 0; i < 4; i++ {
		step(t, late)
	}
	rec := step(t, late, req(t, 2, move))
	if !rec.Rewound || rec.RewoundTo != 2 || rec.Frame != 6 {
		t.Fatalf("record: %+v", rec)
	}

	// Frames 2-5 move in both runs.
	if p := mustPos(t, lateEng, "p1"); p.X != 9 || p.Y != 5 {
		t.Fatalf("late position: %+v", p)
	}
	if p := mustPos(t, onTimeEng, "p1"); p.X != 9 || p.Y != 5 {
		t.Fatalf("on-time position: %+v", p)
	}
	want, err := ecs.StateDigest(onTimeEng.World(), onTimeEng.Resources())
	if err != nil {
		t.Fatalf("digest: %v", err)
	}
	if rec.Digest != want {
		t.Fatalf("late digest %s, on-time digest %s", rec.Digest, want)
	}
}

func TestArena_LateInputKeepsLaterJoin(t *testing.T) {
	e := newTestEngine(t, 100)
	d := newTestDriver(t, e)
	step(t, d, req(t, 0, JoinChange{Player: "p2"}))
	step(t, d)
	step(t, d, req(t, 2, JoinChange{Player: "p1", X: 20, Y: 20}))
	step(t, d)
	step(t, d)

	// Rewinds to frame 1, before p1 joined.
	rec := step(t, d, req(t, 1, InputChange{Player: "p2", Input: Input{MoveX: 1}}))
	if !rec.Rewound || rec.RewoundTo != 1 || len(rec.Changes) != 1 {
		t.Fatalf("record: %+v", rec)
	}
	if p := mustPos(t, e, "p1"); p.X != 20 || p.Y != 20 {
		t.Fatalf("p1: %+v", p)
	}
	// Frames 1-5.
	if p := mustPos(t, e, "p2"); p.X != 5 {
		t.Fatalf("p2: %+v", p)
	}
}

func TestArena_LateInputKeepsLaterLeave(t *testing.T) {
	e := newTestEngine(t, 100)
	d := newTestDriver(t, e)
	step(t, d, req(t, 0, JoinChange{Player: "p1"}), req(t, 0, JoinChange{Player: "p2"}))
	step(t, d)
	step(t, d)
	step(t, d, req(t, 3, LeaveChange{Player: "p1"}))
	step(t, d)
	step(t, d)

	step(t, d, req(t, 1, InputChange{Player: "p2", Input: Input{MoveY: 1}}))
	if _, ok := PlayerPosition(e, "p1"); ok {
		t.Fatalf("p1 came back after the rewind")
	}
	if p := mustPos(t, e, "p2"); p.Y != 6 {
		t.Fatalf("p2: %+v", p)
	}
}

func TestArena_LateJoinIsRewound(t *testing.T) {
	e := newTestEngine(t, 100)
	advance(t, e, 5)
	scheduleChange(t, e, 2, JoinChange{Player: "late", X: 1, Y: 1})
	scheduleChange(t, e, 2, InputChange{Player: "late", Input: Input{MoveY: 1}})
	advance(t, e, 1)

	// Joined at the start of frame 2, moved during frame 2 only.
	if p := mustPos(t, e, "late"); p.X != 1 || p.Y != 2 {
		t.Fatalf("position: %+v", p)
	}
}

func TestArena_Leave(t *testing.T) {
	e := newTestEngine(t, 100)
	scheduleChange(t, e, 0, JoinChange{Player: "p1"})
	scheduleChange(t, e, 0, InputChange{Player: "p1", Input: Input{MoveX: 1}})
	advance(t, e, 2)
	scheduleChange(t, e, 2, LeaveChange{Player: "p1"})
	advance(t, e, 1)
	if _, ok := PlayerPosition(e, "p1"); ok {
		t.Fatalf("player should be gone")
	}
	in, _ := ecs.GetResource[Inputs](e.Resources())
	if _, ok := in.ByPlayer["p1"]; ok {
		t.Fatalf("input should be dropped")
	}
}

func TestArena_SameOperationsSameDigest(t *testing.T) {
	run := func() string {
		e := newTestEngine(t, 64)
		scheduleChange(t, e, 0, JoinChange{Player: "a", X: 10, Y: 10})
		scheduleChange(t, e, 0, JoinChange{Player: "b", X: 50, Y: 50})
		for f := 0; f < 40; f++ {
			if f%5 == 0 {
				back := rollback.Frame(f % 7)
				target := e.Newest()
				if back <= target {
					target -= back
				}
				scheduleChange(t, e, target, InputChange{Player: "a", Input: Input{MoveX: f%3 - 1, MoveY: 1}})
				scheduleChange(t, e, target, InputChange{Player: "b", Input: Input{MoveX: -1, MoveY: f%2 - 1}})
			}
			advance(t, e, 1)
		}
		d, err := ecs.StateDigest(e.World(), e.Resources())
		if err != nil {
			t.Fatalf("digest: %v", err)
		}
		return d
	}
	if a, b := run(), run(); a != b {
		t.Fatalf("nondeterministic: %s vs %s", a, b)
	}
}

func TestArena_ParallelScheduleMatchesSequential(t *testing.T) {
	run := func(maxParallel int) string {
		e, err := NewEngine(Config{
			Capacity:    8,
			Params:      Params{Width: 32, Height: 32, Speed: 2},
			MaxParallel: maxParallel,
			Logger:      log.New(io.Discard, "", 0),
		})
		if err != nil {
			t.Fatalf("engine: %v", err)
		}
		for i, id := range []string{"a", "b", "c", "d"} {
			scheduleChange(t, e, 0, JoinChange{Player: id, X: i * 5, Y: 31 - i*5})
			scheduleChange(t, e, 0, InputChange{Player: id, Input: Input{MoveX: 1 - i%3, MoveY: i%2*2 - 1}})
		}
		advance(t, e, 20)
		d, _ := ecs.StateDigest(e.World(), e.Resources())
		return d
	}
	if a, b := run(1), run(0); a != b {
		t.Fatalf("parallel diverged: %s vs %s", a, b)
	}
}

func TestDecodeChange(t *testing.T) {
	rc, err := Record(InputChange{Player: "p1", Input: Input{MoveX: -1, MoveY: 1}})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if rc.Kind != KindInput {
		t.Fatalf("kind: %s", rc.Kind)
	}
	c, err := DecodeChange(rc)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	ic, ok := c.(InputChange)
	if !ok || ic.Player != "p1" || ic.MoveX != -1 || ic.MoveY != 1 {
		t.Fatalf("decoded: %#v", c)
	}

	rc.Kind = "teleport"
	if _, err := DecodeChange(rc); err == nil {
		t.Fatalf("unknown kind should fail")
	}
}
