package arena

import (
	"encoding/json"
	"fmt"

	"rewind.dev/internal/sim/ecs"
	"rewind.dev/internal/sim/rollback"
	"rewind.dev/internal/sim/tick"
)

const (
	KindJoin  = "join"
	KindInput = "input"
	KindLeave = "leave"
)

// Change is a rollback.Change with a journal form.
type Change interface {
	rollback.Change
	Kind() string
}

type JoinChange struct {
	Player string `json:"player"`
	X      int    `json:"x"`
	Y      int    `json:"y"`
}

type InputChange struct {
	Player string `json:"player"`
	Input
}

type LeaveChange struct {
	Player string `json:"player"`
}

func (JoinChange) Kind() string  { return KindJoin }
func (InputChange) Kind() string { return KindInput }
func (LeaveChange) Kind() string { return KindLeave }

// FindPlayer returns the entity carrying Player{ID: id}.
func FindPlayer(w *ecs.World, id string) (ecs.Entity, bool) {
	var found ecs.Entity
	ok := false
	ecs.Each(w, func(e ecs.Entity, p Player) {
		if !ok && p.ID == id {
			found, ok = e, true
		}
	})
	return found, ok
}

func (c JoinChange) Apply(w *ecs.World, res *ecs.Resources) {
	if _, ok := FindPlayer(w, c.Player); ok {
		return
	}
	x, y := c.X, c.Y
	if p, ok := ecs.GetResource[Params](res); ok {
		x = clamp(x, 0, p.Width-1)
		y = clamp(y, 0, p.Height-1)
	}
	e := w.Spawn()
	_ = ecs.Insert(w, e, Player{ID: c.Player})
	_ = ecs.Insert(w, e, Position{X: x, Y: y})
	_ = ecs.Insert(w, e, Velocity{})
}

func (c InputChange) Apply(w *ecs.World, res *ecs.Resources) {
	in, ok := ecs.GetResource[Inputs](res)
	if !ok {
		return
	}
	if in.ByPlayer == nil {
		in.ByPlayer = map[string]Input{}
	}
	in.ByPlayer[c.Player] = Input{MoveX: clamp(c.MoveX, -1, 1), MoveY: clamp(c.MoveY, -1, 1)}
}

func (c LeaveChange) Apply(w *ecs.World, res *ecs.Resources) {
	if e, ok := FindPlayer(w, c.Player); ok {
		w.Despawn(e)
	}
	if in, ok := ecs.GetResource[Inputs](res); ok {
		delete(in.ByPlayer, c.Player)
	}
}

// Record turns c into its journal form.
func Record(c Change) (tick.RecordedChange, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return tick.RecordedChange{}, fmt.Errorf("encode %s change: %w", c.Kind(), err)
	}
	return tick.RecordedChange{Kind: c.Kind(), Data: b}, nil
}

// Request wraps c for the driver.
func Request(frame rollback.Frame, c Change, resp chan error) (tick.ChangeRequest, error) {
	rc, err := Record(c)
	if err != nil {
		return tick.ChangeRequest{}, err
	}
	return tick.ChangeRequest{Frame: frame, Change: c, Record: rc, Resp: resp}, nil
}

// DecodeChange is the inverse of Record.
func DecodeChange(rc tick.RecordedChange) (Change, error) {
	var (
		c   Change
		err error
	)
	switch rc.Kind {
	case KindJoin:
		var v JoinChange
		err = json.Unmarshal(rc.Data, &v)
		c = v
	case KindInput:
		var v InputChange
		err = json.Unmarshal(rc.Data, &v)
		c = v
	case KindLeave:
		var v LeaveChange
		err = json.Unmarshal(rc.Data, &v)
		c = v
	default:
		return nil, fmt.Errorf("unknown change kind %q", rc.Kind)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s change: %w", rc.Kind, err)
	}
	return c, nil
}
