package tick

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"
	"time"

	"rewind.dev/internal/sim/ecs"
	"rewind.dev/internal/sim/rollback"
)

type counter struct{ N int }

func quiet() *log.Logger { return log.New(io.Discard, "", 0) }

func newEngine(t *testing.T, capacity int) *rollback.Engine {
	t.Helper()
	e, err := rollback.New(rollback.Config{
		Capacity: capacity,
		Logger:   quiet(),
		Step: rollback.StepFunc(func(_ *ecs.World, res *ecs.Resources) {
			c, _ := ecs.GetResource[counter](res)
			c.N++
		}),
	})
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	if err := rollback.Track(e, counter{}); err != nil {
		t.Fatalf("track: %v", err)
	}
	return e
}

func add(n int) rollback.Change {
	return rollback.ChangeFunc(func(_ *ecs.World, res *ecs.Resources) {
		c, _ := ecs.GetResource[counter](res)
		c.N += n
	})
}

func TestFixedTimestep(t *testing.T) {
	f := NewFixedTimestep(10, 3) // 100ms steps
	t0 := time.Unix(1000, 0)

	if got := f.Check(t0); got != No {
		t.Fatalf("first check: %s", got)
	}
	if got := f.Check(t0.Add(50 * time.Millisecond)); got != No {
		t.Fatalf("half step: %s", got)
	}
	if got := f.Check(t0.Add(120 * time.Millisecond)); got != Yes {
		t.Fatalf("one step owed: %s", got)
	}

	// 20ms left over + 230ms = 2.5 steps owed.
	now := t0.Add(350 * time.Millisecond)
	seq := []ShouldRun{f.Check(now), f.Check(now), f.Check(now)}
	want := []ShouldRun{YesAndLoop, Yes, No}
	for i := range want {
		if seq[i] != want[i] {
			t.Fatalf("catch-up sequence: got %v want %v", seq, want)
		}
	}

	// 10 steps behind: capped at 3, the rest dropped.
	now = now.Add(time.Second)
	var runs int
	for {
		r := f.Check(now)
		if r == No {
			break
		}
		runs++
		if r == Yes {
			break
		}
	}
	if runs != 3 {
		t.Fatalf("capped catch-up ran %d frames", runs)
	}
	if f.Dropped() == 0 {
		t.Fatalf("expected dropped frames")
	}
}

func TestDriver_StepOnceRecords(t *testing.T) {
	e := newEngine(t, 4)
	var recs []FrameRecord
	d, err := NewDriver(Config{
		Engine: e,
		Logger: quiet(),
		Sinks:  []Sink{SinkFunc(func(r FrameRecord) error { recs = append(recs, r); return nil })},
	})
	if err != nil {
		t.Fatalf("driver: %v", err)
	}
	for i := 0; i < 5; i++ {
		if _, err := d.StepOnce(nil); err != nil {
			t.Fatalf("step: %v", err)
		}
	}

	late := make(chan error, 1)
	ok := make(chan error, 1)
	rec, err := d.StepOnce([]ChangeRequest{
		{Frame: 1, Change: add(1000), Record: RecordedChange{Kind: "add"}, Resp: late},
		{Frame: 3, Change: add(10), Record: RecordedChange{Kind: "add"}, Resp: ok},
	})
	if err != nil {
		t.Fatalf("step with changes: %v", err)
	}
	if err := <-late; !errors.Is(err, rollback.ErrFrameTimeout) {
		t.Fatalf("late change: %v", err)
	}
	if err := <-ok; err != nil {
		t.Fatalf("in-window change: %v", err)
	}
	if rec.Frame != 6 || !rec.Rewound || rec.RewoundTo != 3 || rec.Replayed != 3 {
		t.Fatalf("record: %+v", rec)
	}
	if len(rec.Changes) != 1 || rec.Changes[0].Frame != 3 {
		t.Fatalf("only accepted changes are recorded: %+v", rec.Changes)
	}
	if len(recs) != 6 || recs[5].Digest != rec.Digest || rec.Digest == "" {
		t.Fatalf("sink saw %d records", len(recs))
	}
	if st := d.Stats(); st.Frames != 6 || st.Rewinds != 1 || st.Rejected != 1 {
		t.Fatalf("stats: %+v", st)
	}
	if d.Newest() != 6 {
		t.Fatalf("newest: %d", d.Newest())
	}
}

func TestDriver_RunAppliesSubmittedChanges(t *testing.T) {
	e := newEngine(t, 8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	frames := make(chan FrameRecord, 256)
	d, err := NewDriver(Config{
		Engine:   e,
		Interval: time.Millisecond,
		Logger:   quiet(),
		Sinks: []Sink{SinkFunc(func(r FrameRecord) error {
			select {
			case frames <- r:
			default:
			}
			return nil
		})},
	})
	if err != nil {
		t.Fatalf("driver: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	for r := range frames {
		if r.Frame >= 3 {
			break
		}
	}
	resp := make(chan error, 1)
	if err := d.Submit(ChangeRequest{Frame: d.Newest() + 100, Change: add(1), Resp: resp}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	select {
	case err := <-resp:
		if err != nil {
			t.Fatalf("schedule: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("change never scheduled")
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("run: %v", err)
	}
}

func TestDriver_StopReturnsNil(t *testing.T) {
	d, err := NewDriver(Config{Engine: newEngine(t, 2), Interval: time.Millisecond, Logger: quiet()})
	if err != nil {
		t.Fatalf("driver: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- d.Run(context.Background()) }()
	d.Stop()
	d.Stop()
	if err := <-done; err != nil {
		t.Fatalf("run after stop: %v", err)
	}
}

func TestDriver_SubmitQueueFull(t *testing.T) {
	d, err := NewDriver(Config{Engine: newEngine(t, 2), QueueSize: 1, Logger: quiet()})
	if err != nil {
		t.Fatalf("driver: %v", err)
	}
	if err := d.Submit(ChangeRequest{Change: add(1)}); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if err := d.Submit(ChangeRequest{Change: add(1)}); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("want ErrQueueFull, got %v", err)
	}
	if d.Stats().Dropped != 1 {
		t.Fatalf("stats: %+v", d.Stats())
	}
}

func TestDriver_RewindReschedulesSimulatedChanges(t *testing.T) {
	e := newEngine(t, 4)
	d, err := NewDriver(Config{Engine: e, Logger: quiet()})
	if err != nil {
		t.Fatalf("driver: %v", err)
	}
	step := func(reqs ...ChangeRequest) FrameRecord {
		t.Helper()
		rec, err := d.StepOnce(reqs)
		if err != nil {
			t.Fatalf("step: %v", err)
		}
		return rec
	}
	step()
	step()
	step(ChangeRequest{Frame: 2, Change: add(10), Record: RecordedChange{Kind: "add"}})
	step()

	// Rewinds to 1; the batch at 2 was already simulated and must come back.
	rec := step(ChangeRequest{Frame: 1, Change: add(100), Record: RecordedChange{Kind: "add"}})
	if !rec.Rewound || rec.RewoundTo != 1 || len(rec.Changes) != 1 {
		t.Fatalf("record: %+v", rec)
	}
	c, _ := ecs.GetResource[counter](e.Resources())
	if c.N != 115 {
		t.Fatalf("counter: %d", c.N)
	}

	// Both changes fall out of the window once nothing can rewind to them.
	for i := 0; i < 4; i++ {
		step()
	}
	if len(d.history) != 0 {
		t.Fatalf("history kept %d changes", len(d.history))
	}
}

func TestDriver_PendingCappedAtQueueSize(t *testing.T) {
	d, err := NewDriver(Config{Engine: newEngine(t, 2), QueueSize: 2, Logger: quiet()})
	if err != nil {
		t.Fatalf("driver: %v", err)
	}
	var (
		pending []ChangeRequest
		resps   []chan error
	)
	for i := 0; i < 3; i++ {
		resp := make(chan error, 1)
		resps = append(resps, resp)
		pending = d.enqueue(pending, ChangeRequest{Change: add(1), Resp: resp})
	}
	if len(pending) != 2 {
		t.Fatalf("pending: %d", len(pending))
	}
	select {
	case err := <-resps[2]:
		if !errors.Is(err, ErrQueueFull) {
			t.Fatalf("overflow: %v", err)
		}
	default:
		t.Fatalf("overflow got no response")
	}
	if len(resps[0]) != 0 {
		t.Fatalf("held request answered early")
	}
	if d.Stats().Dropped != 1 {
		t.Fatalf("stats: %+v", d.Stats())
	}
}
