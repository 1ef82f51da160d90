// Package arena is a small deterministic game used to drive the rollback
// engine: players move on a bounded grid according to per-frame inputs.
package arena

import (
	"fmt"
	"log"

	"rewind.dev/internal/sim/ecs"
	"rewind.dev/internal/sim/rollback"
)

type Config struct {
	Capacity    int
	Params      Params
	MaxParallel int
	Logger      *log.Logger
}

func NewRegistry() *ecs.Registry {
	reg := ecs.NewRegistry()
	ecs.MustRegisterComponent[Player](reg)
	ecs.MustRegisterComponent[Position](reg)
	ecs.MustRegisterComponent[Velocity](reg)
	return reg
}

// NewEngine builds an empty arena: Inputs and Clock are tracked, Params is
// static. A held input lasts until the player's next InputChange, so a late
// input is carried through every later frame of the replay; tick.Driver
// schedules the replayed batches again so they are not lost.
func NewEngine(cfg Config) (*rollback.Engine, error) {
	if cfg.Params.Width <= 0 || cfg.Params.Height <= 0 {
		return nil, fmt.Errorf("arena: invalid size %dx%d", cfg.Params.Width, cfg.Params.Height)
	}
	sched, err := NewSchedule(cfg.Logger, cfg.MaxParallel)
	if err != nil {
		return nil, err
	}
	res := ecs.NewResources()
	ecs.InsertResource(res, cfg.Params)

	e, err := rollback.New(rollback.Config{
		Capacity:  cfg.Capacity,
		World:     ecs.NewWorld(NewRegistry()),
		Resources: res,
		Step:      sched,
		Logger:    cfg.Logger,
	})
	if err != nil {
		return nil, err
	}
	if err := rollback.Track(e, Inputs{ByPlayer: map[string]Input{}}); err != nil {
		return nil, err
	}
	if err := rollback.Track(e, Clock{}); err != nil {
		return nil, err
	}
	return e, nil
}

// PlayerPosition is a read helper for callers outside the schedule.
func PlayerPosition(e *rollback.Engine, id string) (Position, bool) {
	ent, ok := FindPlayer(e.World(), id)
	if !ok {
		return Position{}, false
	}
	p, ok := ecs.Get[Position](e.World(), ent)
	if !ok {
		return Position{}, false
	}
	return *p, true
}
