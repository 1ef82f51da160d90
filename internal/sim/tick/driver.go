package tick

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"rewind.dev/internal/sim/ecs"
	"rewind.dev/internal/sim/rollback"
)

var ErrQueueFull = errors.New("tick: change queue full")

// RecordedChange is the journal form of a scheduled change.
type RecordedChange struct {
	Frame uint64          `json:"frame"`
	Kind  string          `json:"kind"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type ChangeRequest struct {
	Frame  rollback.Frame
	Change rollback.Change
	Record RecordedChange

	// Resp, if set, receives the ScheduleChange result. It should be buffered.
	Resp chan error
}

// FrameRecord describes one AdvanceFrame: the new newest frame, the state
// digest after it, and the changes accepted right before it.
type FrameRecord struct {
	Frame     uint64           `json:"frame"`
	Digest    string           `json:"digest"`
	Rewound   bool             `json:"rewound,omitempty"`
	RewoundTo uint64           `json:"rewound_to,omitempty"`
	Replayed  int              `json:"replayed"`
	Changes   []RecordedChange `json:"changes,omitempty"`
}

// Sink receives every FrameRecord in frame order, on the driver goroutine.
type Sink interface {
	WriteFrame(rec FrameRecord) error
}

type SinkFunc func(rec FrameRecord) error

func (f SinkFunc) WriteFrame(rec FrameRecord) error { return f(rec) }

type Config struct {
	Engine   *rollback.Engine
	Criteria Criteria

	// Interval is how often Run polls the criteria.
	Interval  time.Duration
	QueueSize int

	Sinks  []Sink
	Logger *log.Logger

	// Digest defaults to ecs.StateDigest over the live state.
	Digest func(e *rollback.Engine) (string, error)
}

type Stats struct {
	Frames   uint64
	Rewinds  uint64
	Rejected uint64
	Dropped  uint64
}

// Driver owns an Engine and is the only goroutine that touches it.
type Driver struct {
	log      *log.Logger
	eng      *rollback.Engine
	crit     Criteria
	interval time.Duration
	digest   func(e *rollback.Engine) (string, error)
	sinks    []Sink

	changes   chan ChangeRequest
	queueSize int
	stop      chan struct{}
	stopOnce  sync.Once

	// history holds every accepted change still inside the rollback window,
	// in acceptance order. The engine drops a batch once its frame is
	// simulated, so a rewind past it needs the batch scheduled again.
	history []scheduled

	newest   atomic.Uint64
	frames   atomic.Uint64
	rewinds  atomic.Uint64
	rejected atomic.Uint64
	dropped  atomic.Uint64
}

type scheduled struct {
	frame  rollback.Frame
	change rollback.Change
}

func NewDriver(cfg Config) (*Driver, error) {
	if cfg.Engine == nil {
		return nil, errors.New("tick: missing engine")
	}
	d := &Driver{
		log:      cfg.Logger,
		eng:      cfg.Engine,
		crit:     cfg.Criteria,
		interval: cfg.Interval,
		digest:   cfg.Digest,
		sinks:    cfg.Sinks,
		stop:     make(chan struct{}),
	}
	if d.log == nil {
		d.log = log.Default()
	}
	if d.crit == nil {
		d.crit = EveryTick
	}
	if d.interval <= 0 {
		d.interval = time.Second / 60
	}
	if d.digest == nil {
		d.digest = func(e *rollback.Engine) (string, error) {
			return ecs.StateDigest(e.World(), e.Resources())
		}
	}
	qs := cfg.QueueSize
	if qs <= 0 {
		qs = 1024
	}
	d.changes = make(chan ChangeRequest, qs)
	d.queueSize = qs
	d.newest.Store(uint64(cfg.Engine.Newest()))
	return d, nil
}

func (d *Driver) AddSink(s Sink) { d.sinks = append(d.sinks, s) }

// Newest is safe to call from any goroutine.
func (d *Driver) Newest() rollback.Frame { return rollback.Frame(d.newest.Load()) }

func (d *Driver) Capacity() int { return d.eng.Capacity() }

func (d *Driver) Stats() Stats {
	return Stats{
		Frames:   d.frames.Load(),
		Rewinds:  d.rewinds.Load(),
		Rejected: d.rejected.Load(),
		Dropped:  d.dropped.Load(),
	}
}

// Submit hands a change to the driver goroutine. It never blocks; a full
// queue drops the request.
func (d *Driver) Submit(req ChangeRequest) error {
	select {
	case d.changes <- req:
		return nil
	default:
		d.dropped.Add(1)
		return ErrQueueFull
	}
}

func (d *Driver) Stop() { d.stopOnce.Do(func() { close(d.stop) }) }

// Run polls the criteria every Interval until ctx is done, Stop is called,
// or the engine halts. Requests that arrive between ticks are scheduled
// right before the tick's first advance.
func (d *Driver) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	var pending []ChangeRequest
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-d.stop:
			return nil
		case req := <-d.changes:
			pending = d.enqueue(pending, req)
		case now := <-ticker.C:
			advanced, err := d.tick(now, pending)
			if err != nil {
				return err
			}
			if advanced > 0 {
				pending = pending[:0]
			}
			if advanced > 1 {
				d.log.Printf("catch-up: %d frames in one tick (newest=%d)", advanced, d.Newest())
			}
		}
	}
}

// enqueue holds req for the next tick. Between ticks at most QueueSize
// requests are held; the rest are dropped like a full Submit.
func (d *Driver) enqueue(pending []ChangeRequest, req ChangeRequest) []ChangeRequest {
	if len(pending) >= d.queueSize {
		d.dropped.Add(1)
		respond(req, ErrQueueFull)
		return pending
	}
	return append(pending, req)
}

func respond(req ChangeRequest, err error) {
	if req.Resp == nil {
		return
	}
	select {
	case req.Resp <- err:
	default:
	}
}

func (d *Driver) tick(now time.Time, pending []ChangeRequest) (int, error) {
	advanced := 0
	for {
		run := d.crit.Check(now)
		if run == No {
			return advanced, nil
		}
		var reqs []ChangeRequest
		if advanced == 0 {
			reqs = pending
		}
		if _, err := d.advance(reqs); err != nil {
			return advanced, err
		}
		advanced++
		if run == Yes {
			return advanced, nil
		}
	}
}

// StepOnce schedules reqs and advances exactly one frame, the same way Run
// does on a tick. It is meant for replays and tests.
func (d *Driver) StepOnce(reqs []ChangeRequest) (FrameRecord, error) {
	return d.advance(reqs)
}

func (d *Driver) advance(reqs []ChangeRequest) (FrameRecord, error) {
	if err := d.reschedule(reqs); err != nil {
		return FrameRecord{}, err
	}

	var accepted []RecordedChange
	for _, req := range reqs {
		err := d.eng.ScheduleChange(req.Frame, req.Change)
		respond(req, err)
		if err != nil {
			if errors.Is(err, rollback.ErrHalted) {
				return FrameRecord{}, err
			}
			d.rejected.Add(1)
			continue
		}
		d.history = append(d.history, scheduled{frame: req.Frame, change: req.Change})
		rc := req.Record
		rc.Frame = uint64(req.Frame)
		accepted = append(accepted, rc)
	}

	if err := d.eng.AdvanceFrame(); err != nil {
		return FrameRecord{}, err
	}
	adv := d.eng.LastAdvance()
	digest, err := d.digest(d.eng)
	if err != nil {
		return FrameRecord{}, fmt.Errorf("digest frame %d: %w", adv.Newest, err)
	}
	rec := FrameRecord{
		Frame:    uint64(adv.Newest),
		Digest:   digest,
		Rewound:  adv.Rewound,
		Replayed: adv.Steps,
		Changes:  accepted,
	}
	if adv.Rewound {
		rec.RewoundTo = uint64(adv.RewindFrame)
		d.rewinds.Add(1)
	}
	d.newest.Store(uint64(adv.Newest))
	d.frames.Add(1)
	d.prune(adv.Newest)

	for _, s := range d.sinks {
		if err := s.WriteFrame(rec); err != nil {
			d.log.Printf("sink error at frame %d: %v", rec.Frame, err)
		}
	}
	return rec, nil
}

// reschedule puts back the already-simulated history batches that the
// earliest in-window past request in reqs will rewind over. Batches at the
// newest frame are still queued in the engine and are left alone.
func (d *Driver) reschedule(reqs []ChangeRequest) error {
	newest := d.eng.Newest()
	capacity := rollback.Frame(d.eng.Capacity())
	from, found := newest, false
	for _, req := range reqs {
		if req.Change == nil || req.Frame >= newest || newest-req.Frame >= capacity {
			continue
		}
		if req.Frame < from {
			from, found = req.Frame, true
		}
	}
	if !found {
		return nil
	}
	for _, h := range d.history {
		if h.frame < from || h.frame >= newest {
			continue
		}
		if err := d.eng.ScheduleChange(h.frame, h.change); err != nil {
			return fmt.Errorf("reschedule frame %d: %w", h.frame, err)
		}
	}
	return nil
}

// prune forgets history that no rewind can reach any more.
func (d *Driver) prune(newest rollback.Frame) {
	capacity := rollback.Frame(d.eng.Capacity())
	keep := d.history[:0]
	for _, h := range d.history {
		if newest-h.frame < capacity {
			keep = append(keep, h)
		}
	}
	clear(d.history[len(keep):])
	d.history = keep
}
