package schedule

import (
	"errors"
	"fmt"
	"log"

	"golang.org/x/sync/errgroup"

	"rewind.dev/internal/sim/ecs"
)

type Stage string

const (
	PreUpdate  Stage = "pre_update"
	Update     Stage = "update"
	PostUpdate Stage = "post_update"
)

// System is one unit of simulation logic. Returned errors are reported but
// do not stop the remaining systems of the frame.
type System func(c *Context) error

type system struct {
	name   string
	access Access
	run    System
}

type stage struct {
	name    Stage
	systems []*system
	waves   [][]*system
	dirty   bool
}

type Config struct {
	// MaxParallel caps concurrently running systems within a wave. Zero means
	// no cap; 1 runs everything sequentially.
	MaxParallel int
	Logger      *log.Logger
}

// Schedule runs its stages in order. Within a stage, systems are packed into
// waves: a system lands in the first wave after every earlier system it
// conflicts with, so the result equals running them one by one in
// registration order.
type Schedule struct {
	log         *log.Logger
	maxParallel int

	stages []*stage
	names  map[string]struct{}
}

func New(cfg Config) *Schedule {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	s := &Schedule{log: logger, maxParallel: cfg.MaxParallel, names: map[string]struct{}{}}
	for _, name := range []Stage{PreUpdate, Update, PostUpdate} {
		s.stages = append(s.stages, &stage{name: name})
	}
	return s
}

func (s *Schedule) Stages() []Stage {
	out := make([]Stage, 0, len(s.stages))
	for _, st := range s.stages {
		out = append(out, st.name)
	}
	return out
}

func (s *Schedule) stageIndex(name Stage) int {
	for i, st := range s.stages {
		if st.name == name {
			return i
		}
	}
	return -1
}

func (s *Schedule) AddStageBefore(target, name Stage) error {
	return s.insertStage(target, name, 0)
}

func (s *Schedule) AddStageAfter(target, name Stage) error {
	return s.insertStage(target, name, 1)
}

func (s *Schedule) insertStage(target, name Stage, offset int) error {
	if s.stageIndex(name) >= 0 {
		return fmt.Errorf("schedule: stage %q already exists", name)
	}
	i := s.stageIndex(target)
	if i < 0 {
		return fmt.Errorf("schedule: unknown stage %q", target)
	}
	i += offset
	s.stages = append(s.stages, nil)
	copy(s.stages[i+1:], s.stages[i:])
	s.stages[i] = &stage{name: name}
	return nil
}

// AddSystem adds fn to the update stage.
func (s *Schedule) AddSystem(name string, access Access, fn System) error {
	return s.AddSystemToStage(Update, name, access, fn)
}

func (s *Schedule) AddSystemToStage(st Stage, name string, access Access, fn System) error {
	if fn == nil {
		return fmt.Errorf("schedule: system %q has no function", name)
	}
	if _, ok := s.names[name]; ok {
		return fmt.Errorf("schedule: system %q already added", name)
	}
	i := s.stageIndex(st)
	if i < 0 {
		return fmt.Errorf("schedule: unknown stage %q", st)
	}
	s.names[name] = struct{}{}
	s.stages[i].systems = append(s.stages[i].systems, &system{name: name, access: access, run: fn})
	s.stages[i].dirty = true
	return nil
}

// Waves returns the system names of each wave of a stage, for inspection.
func (s *Schedule) Waves(st Stage) [][]string {
	i := s.stageIndex(st)
	if i < 0 {
		return nil
	}
	stg := s.stages[i]
	stg.pack()
	out := make([][]string, 0, len(stg.waves))
	for _, wave := range stg.waves {
		names := make([]string, 0, len(wave))
		for _, sys := range wave {
			names = append(names, sys.name)
		}
		out = append(out, names)
	}
	return out
}

func (st *stage) pack() {
	if !st.dirty && st.waves != nil {
		return
	}
	st.dirty = false
	st.waves = nil
	placed := make([]int, len(st.systems))
	for i, sys := range st.systems {
		wave := 0
		for j := 0; j < i; j++ {
			if placed[j] >= wave && sys.access.Conflicts(st.systems[j].access) {
				wave = placed[j] + 1
			}
		}
		placed[i] = wave
		for len(st.waves) <= wave {
			st.waves = append(st.waves, nil)
		}
		st.waves[wave] = append(st.waves[wave], sys)
	}
}

// Run executes one frame. It satisfies rollback.Step; system errors are
// logged.
func (s *Schedule) Run(w *ecs.World, res *ecs.Resources) {
	if err := s.Exec(w, res); err != nil {
		s.log.Printf("frame errors: %v", err)
	}
}

// Exec executes one frame and returns every system error joined.
func (s *Schedule) Exec(w *ecs.World, res *ecs.Resources) error {
	var errs []error
	for _, st := range s.stages {
		st.pack()
		for _, wave := range st.waves {
			errs = append(errs, s.runWave(st.name, wave, w, res)...)
		}
	}
	return errors.Join(errs...)
}

func (s *Schedule) runWave(st Stage, wave []*system, w *ecs.World, res *ecs.Resources) []error {
	errs := make([]error, len(wave))
	run := func(i int) {
		sys := wave[i]
		c := &Context{system: sys.name, access: sys.access, world: w, res: res}
		if err := sys.run(c); err != nil {
			errs[i] = fmt.Errorf("%s/%s: %w", st, sys.name, err)
		}
	}

	if len(wave) == 1 || s.maxParallel == 1 {
		for i := range wave {
			run(i)
		}
		return errs
	}

	var g errgroup.Group
	if s.maxParallel > 0 {
		g.SetLimit(s.maxParallel)
	}
	for i := range wave {
		i := i
		g.Go(func() error {
			run(i)
			return nil
		})
	}
	_ = g.Wait()
	return errs
}
