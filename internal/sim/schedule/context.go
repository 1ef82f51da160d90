package schedule

import (
	"errors"
	"fmt"
	"reflect"

	"rewind.dev/internal/sim/ecs"
)

var (
	ErrAccessDenied    = errors.New("schedule: access not declared")
	ErrMissingResource = errors.New("schedule: resource not present")
)

// Context is what a system sees: the live world and resources, filtered by
// the system's declared Access.
type Context struct {
	system string
	access Access
	world  *ecs.World
	res    *ecs.Resources
}

func (c *Context) System() string { return c.system }

func (c *Context) deny(kind string, t reflect.Type) error {
	return fmt.Errorf("%w: system %s %s %s", ErrAccessDenied, c.system, kind, t)
}

// Res returns a copy of resource R.
func Res[R any](c *Context) (R, error) {
	var zero R
	t := reflect.TypeFor[R]()
	if !c.access.canRead(t) {
		return zero, c.deny("read", t)
	}
	v, ok := ecs.GetResource[R](c.res)
	if !ok {
		return zero, fmt.Errorf("%w: %s", ErrMissingResource, t)
	}
	return *v, nil
}

// ResMut returns a pointer to the live resource R.
func ResMut[R any](c *Context) (*R, error) {
	t := reflect.TypeFor[R]()
	if !c.access.canWrite(t) {
		return nil, c.deny("write", t)
	}
	v, ok := ecs.GetResource[R](c.res)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingResource, t)
	}
	return v, nil
}

func Get[C any](c *Context, e ecs.Entity) (C, bool, error) {
	var zero C
	t := reflect.TypeFor[C]()
	if !c.access.canRead(t) {
		return zero, false, c.deny("read", t)
	}
	v, ok := ecs.Get[C](c.world, e)
	if !ok {
		return zero, false, nil
	}
	return *v, true, nil
}

func Each[C any](c *Context, fn func(e ecs.Entity, v C)) error {
	t := reflect.TypeFor[C]()
	if !c.access.canRead(t) {
		return c.deny("read", t)
	}
	ecs.Each(c.world, fn)
	return nil
}

func EachMut[C any](c *Context, fn func(e ecs.Entity, v *C)) error {
	t := reflect.TypeFor[C]()
	if !c.access.canWrite(t) {
		return c.deny("write", t)
	}
	ecs.EachMut(c.world, fn)
	return nil
}

// World hands out the unrestricted world to exclusive systems.
func World(c *Context) (*ecs.World, *ecs.Resources, error) {
	if !c.access.exclusive {
		return nil, nil, fmt.Errorf("%w: system %s is not exclusive", ErrAccessDenied, c.system)
	}
	return c.world, c.res, nil
}
