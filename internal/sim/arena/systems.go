package arena

import (
	"log"

	"rewind.dev/internal/sim/ecs"
	"rewind.dev/internal/sim/schedule"
)

// NewSchedule wires the arena systems:
//
//	pre_update:  apply_input
//	update:      movement, bounds
//	post_update: clock
func NewSchedule(logger *log.Logger, maxParallel int) (*schedule.Schedule, error) {
	s := schedule.New(schedule.Config{MaxParallel: maxParallel, Logger: logger})
	add := []struct {
		stage  schedule.Stage
		name   string
		access schedule.Access
		fn     schedule.System
	}{
		{schedule.PreUpdate, "apply_input", schedule.Join(
			schedule.Read[Inputs](), schedule.Read[Params](), schedule.Read[Player](), schedule.Write[Velocity](),
		), applyInput},
		{schedule.Update, "movement", schedule.Join(schedule.Read[Velocity](), schedule.Write[Position]()), movement},
		{schedule.Update, "bounds", schedule.Join(schedule.Read[Params](), schedule.Write[Position]()), bounds},
		{schedule.PostUpdate, "clock", schedule.Write[Clock](), clock},
	}
	for _, a := range add {
		if err := s.AddSystemToStage(a.stage, a.name, a.access, a.fn); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func applyInput(c *schedule.Context) error {
	in, err := schedule.Res[Inputs](c)
	if err != nil {
		return err
	}
	p, err := schedule.Res[Params](c)
	if err != nil {
		return err
	}
	var denied error
	err = schedule.EachMut(c, func(e ecs.Entity, v *Velocity) {
		pl, ok, err := schedule.Get[Player](c, e)
		if err != nil {
			denied = err
			return
		}
		if !ok {
			return
		}
		cmd := in.ByPlayer[pl.ID]
		v.DX = clamp(cmd.MoveX, -1, 1) * p.Speed
		v.DY = clamp(cmd.MoveY, -1, 1) * p.Speed
	})
	if err != nil {
		return err
	}
	return denied
}

func movement(c *schedule.Context) error {
	vel := map[ecs.Entity]Velocity{}
	if err := schedule.Each(c, func(e ecs.Entity, v Velocity) { vel[e] = v }); err != nil {
		return err
	}
	return schedule.EachMut(c, func(e ecs.Entity, pos *Position) {
		v := vel[e]
		pos.X += v.DX
		pos.Y += v.DY
	})
}

func bounds(c *schedule.Context) error {
	p, err := schedule.Res[Params](c)
	if err != nil {
		return err
	}
	return schedule.EachMut(c, func(_ ecs.Entity, pos *Position) {
		pos.X = clamp(pos.X, 0, p.Width-1)
		pos.Y = clamp(pos.Y, 0, p.Height-1)
	})
}

func clock(c *schedule.Context) error {
	clk, err := schedule.ResMut[Clock](c)
	if err != nil {
		return err
	}
	clk.Frame++
	return nil
}
