package ecs

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
)

// componentType is the type-erased handle the registry keeps for one
// component type: how to copy a column and how to encode a value for digests.
type componentType struct {
	name string
	typ  reflect.Type

	cloneColumn func(src map[Entity]any) map[Entity]any
	encode      func(v any) ([]byte, error)
}

// Registry lists the component types that take part in snapshots. Columns of
// unregistered types live in the world but are dropped by Clone.
type Registry struct {
	byType map[reflect.Type]*componentType
	byName map[string]*componentType
	sorted []*componentType
}

func NewRegistry() *Registry {
	return &Registry{
		byType: map[reflect.Type]*componentType{},
		byName: map[string]*componentType{},
	}
}

// RegisterComponent makes C snapshot-able. Values implementing Clone() C are
// deep-copied through it; everything else is copied by value.
func RegisterComponent[C any](r *Registry) error {
	t := reflect.TypeFor[C]()
	name := t.String()
	if _, ok := r.byType[t]; ok {
		return fmt.Errorf("component %s already registered", name)
	}
	if _, ok := r.byName[name]; ok {
		return fmt.Errorf("component name collision: %s", name)
	}
	ct := &componentType{
		name: name,
		typ:  t,
		cloneColumn: func(src map[Entity]any) map[Entity]any {
			dst := make(map[Entity]any, len(src))
			for e, v := range src {
				c := CloneValue(*v.(*C))
				dst[e] = &c
			}
			return dst
		},
		encode: func(v any) ([]byte, error) {
			return json.Marshal(v.(*C))
		},
	}
	r.byType[t] = ct
	r.byName[name] = ct
	r.sorted = append(r.sorted, ct)
	sort.Slice(r.sorted, func(i, j int) bool { return r.sorted[i].name < r.sorted[j].name })
	return nil
}

// MustRegisterComponent is RegisterComponent for setup code that cannot recover.
func MustRegisterComponent[C any](r *Registry) {
	if err := RegisterComponent[C](r); err != nil {
		panic(err)
	}
}

func (r *Registry) Registered(t reflect.Type) bool {
	_, ok := r.byType[t]
	return ok
}

// Names returns the registered component type names in digest order.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.sorted))
	for _, ct := range r.sorted {
		out = append(out, ct.name)
	}
	return out
}

// CloneValue deep-copies v through its Clone method when it has one.
func CloneValue[T any](v T) T {
	if c, ok := any(v).(interface{ Clone() T }); ok {
		return c.Clone()
	}
	return v
}
