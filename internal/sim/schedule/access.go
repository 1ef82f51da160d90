package schedule

import (
	"reflect"
	"sort"
	"strings"
)

// Access declares what a system touches. Components and resources share one
// type namespace; a Go type is either used as a component or as a resource.
type Access struct {
	reads     map[reflect.Type]struct{}
	writes    map[reflect.Type]struct{}
	exclusive bool
}

func Read[T any]() Access {
	return Access{reads: map[reflect.Type]struct{}{reflect.TypeFor[T](): {}}}
}

func Write[T any]() Access {
	return Access{writes: map[reflect.Type]struct{}{reflect.TypeFor[T](): {}}}
}

// Exclusive grants the whole world, including structural changes
// (spawn/despawn/insert). An exclusive system always runs alone.
func Exclusive() Access { return Access{exclusive: true} }

func Join(as ...Access) Access {
	out := Access{reads: map[reflect.Type]struct{}{}, writes: map[reflect.Type]struct{}{}}
	for _, a := range as {
		for t := range a.reads {
			out.reads[t] = struct{}{}
		}
		for t := range a.writes {
			out.writes[t] = struct{}{}
		}
		out.exclusive = out.exclusive || a.exclusive
	}
	return out
}

func (a Access) canRead(t reflect.Type) bool {
	if a.exclusive {
		return true
	}
	if _, ok := a.reads[t]; ok {
		return true
	}
	_, ok := a.writes[t]
	return ok
}

func (a Access) canWrite(t reflect.Type) bool {
	if a.exclusive {
		return true
	}
	_, ok := a.writes[t]
	return ok
}

// Conflicts reports whether a and b may not run at the same time.
func (a Access) Conflicts(b Access) bool {
	if a.exclusive || b.exclusive {
		return true
	}
	for t := range a.writes {
		if b.canRead(t) {
			return true
		}
	}
	for t := range b.writes {
		if a.canRead(t) {
			return true
		}
	}
	return false
}

func (a Access) String() string {
	if a.exclusive {
		return "exclusive"
	}
	var parts []string
	for t := range a.reads {
		if _, w := a.writes[t]; !w {
			parts = append(parts, "r:"+t.String())
		}
	}
	for t := range a.writes {
		parts = append(parts, "w:"+t.String())
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}
