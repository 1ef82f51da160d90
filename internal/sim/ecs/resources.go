package ecs

import (
	"reflect"
	"sort"
)

// Resources is a bag of singletons keyed by Go type. It is passed explicitly
// to every system; there is no global lookup.
type Resources struct {
	m map[reflect.Type]any
}

func NewResources() *Resources {
	return &Resources{m: map[reflect.Type]any{}}
}

// InsertResource stores v, replacing any previous R.
func InsertResource[R any](res *Resources, v R) {
	res.m[reflect.TypeFor[R]()] = &v
}

func GetResource[R any](res *Resources) (*R, bool) {
	v, ok := res.m[reflect.TypeFor[R]()]
	if !ok {
		return nil, false
	}
	return v.(*R), true
}

func RemoveResource[R any](res *Resources) bool {
	t := reflect.TypeFor[R]()
	if _, ok := res.m[t]; !ok {
		return false
	}
	delete(res.m, t)
	return true
}

func HasResource[R any](res *Resources) bool {
	_, ok := res.m[reflect.TypeFor[R]()]
	return ok
}

func (r *Resources) Len() int { return len(r.m) }

// sortedTypes returns the stored resource types ordered by name.
func (r *Resources) sortedTypes() []reflect.Type {
	out := make([]reflect.Type, 0, len(r.m))
	for t := range r.m {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}
