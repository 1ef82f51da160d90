package tick

import "time"

type ShouldRun uint8

const (
	No ShouldRun = iota
	// Yes: advance one frame, then wait for the next tick.
	Yes
	// YesAndLoop: advance one frame and ask again within the same tick.
	YesAndLoop
)

func (s ShouldRun) String() string {
	switch s {
	case No:
		return "No"
	case Yes:
		return "Yes"
	case YesAndLoop:
		return "YesAndLoop"
	default:
		return "ShouldRun(?)"
	}
}

// Criteria decides, on every driver tick, whether frames are owed.
type Criteria interface {
	Check(now time.Time) ShouldRun
}

type CriteriaFunc func(now time.Time) ShouldRun

func (f CriteriaFunc) Check(now time.Time) ShouldRun { return f(now) }

// EveryTick advances exactly one frame per driver tick.
var EveryTick Criteria = CriteriaFunc(func(time.Time) ShouldRun { return Yes })

// FixedTimestep owes one frame per Step of wall time. When the driver falls
// behind it loops, at most MaxCatchup frames per tick; the rest of the
// backlog is dropped.
type FixedTimestep struct {
	Step       time.Duration
	MaxCatchup int

	last    time.Time
	acc     time.Duration
	loops   int
	dropped uint64
}

func NewFixedTimestep(hz, maxCatchup int) *FixedTimestep {
	if hz <= 0 {
		hz = 1
	}
	return &FixedTimestep{Step: time.Second / time.Duration(hz), MaxCatchup: maxCatchup}
}

func (f *FixedTimestep) Check(now time.Time) ShouldRun {
	if f.last.IsZero() {
		f.last = now
	}
	if now.After(f.last) {
		f.acc += now.Sub(f.last)
		f.last = now
	}
	if f.acc < f.Step {
		f.loops = 0
		return No
	}
	f.acc -= f.Step
	f.loops++
	if f.acc < f.Step {
		f.loops = 0
		return Yes
	}
	if f.MaxCatchup > 0 && f.loops >= f.MaxCatchup {
		f.dropped += uint64(f.acc / f.Step)
		f.acc %= f.Step
		f.loops = 0
		return Yes
	}
	return YesAndLoop
}

// Dropped reports how many owed frames were discarded by the catch-up cap.
func (f *FixedTimestep) Dropped() uint64 { return f.dropped }
