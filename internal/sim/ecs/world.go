package ecs

import (
	"errors"
	"reflect"
	"sort"
)

type Entity uint64

var ErrNoEntity = errors.New("entity does not exist")

// World is a minimal entity/component store. Component columns are keyed by
// Go type; iteration is always in ascending entity order so systems stay
// deterministic.
//
// Spawn, Despawn, Insert and Remove are structural changes and must not run
// concurrently with anything else. Mutating a component through the pointer
// returned by Get or passed to EachMut only touches that column.
type World struct {
	reg *Registry

	nextEntity Entity
	entities   map[Entity]struct{}
	columns    map[reflect.Type]map[Entity]any
}

func NewWorld(reg *Registry) *World {
	if reg == nil {
		reg = NewRegistry()
	}
	w := &World{
		reg:      reg,
		entities: map[Entity]struct{}{},
		columns:  make(map[reflect.Type]map[Entity]any, len(reg.sorted)),
	}
	for _, ct := range reg.sorted {
		w.columns[ct.typ] = map[Entity]any{}
	}
	return w
}

func (w *World) Registry() *Registry { return w.reg }

func (w *World) Spawn() Entity {
	w.nextEntity++
	e := w.nextEntity
	w.entities[e] = struct{}{}
	return e
}

func (w *World) Despawn(e Entity) bool {
	if _, ok := w.entities[e]; !ok {
		return false
	}
	delete(w.entities, e)
	for _, col := range w.columns {
		delete(col, e)
	}
	return true
}

func (w *World) Alive(e Entity) bool {
	_, ok := w.entities[e]
	return ok
}

func (w *World) Len() int { return len(w.entities) }

// Entities returns all live entities in ascending order.
func (w *World) Entities() []Entity {
	out := make([]Entity, 0, len(w.entities))
	for e := range w.entities {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func Insert[C any](w *World, e Entity, c C) error {
	if !w.Alive(e) {
		return ErrNoEntity
	}
	t := reflect.TypeFor[C]()
	col := w.columns[t]
	if col == nil {
		col = map[Entity]any{}
		w.columns[t] = col
	}
	col[e] = &c
	return nil
}

func Get[C any](w *World, e Entity) (*C, bool) {
	col := w.columns[reflect.TypeFor[C]()]
	if col == nil {
		return nil, false
	}
	v, ok := col[e]
	if !ok {
		return nil, false
	}
	return v.(*C), true
}

func Remove[C any](w *World, e Entity) bool {
	col := w.columns[reflect.TypeFor[C]()]
	if col == nil {
		return false
	}
	if _, ok := col[e]; !ok {
		return false
	}
	delete(col, e)
	return true
}

// Count reports how many entities carry a C.
func Count[C any](w *World) int {
	return len(w.columns[reflect.TypeFor[C]()])
}

// Each visits every C in ascending entity order with a copy of the value.
func Each[C any](w *World, fn func(e Entity, c C)) {
	col := w.columns[reflect.TypeFor[C]()]
	for _, e := range sortedKeys(col) {
		fn(e, *col[e].(*C))
	}
}

// EachMut visits every C in ascending entity order with a pointer into the column.
func EachMut[C any](w *World, fn func(e Entity, c *C)) {
	col := w.columns[reflect.TypeFor[C]()]
	for _, e := range sortedKeys(col) {
		fn(e, col[e].(*C))
	}
}

// Clone returns an independent deep copy of every entity and every registered
// component column. Nothing in the copy aliases w.
func (w *World) Clone() *World {
	out := &World{
		reg:        w.reg,
		nextEntity: w.nextEntity,
		entities:   make(map[Entity]struct{}, len(w.entities)),
		columns:    make(map[reflect.Type]map[Entity]any, len(w.reg.sorted)),
	}
	for e := range w.entities {
		out.entities[e] = struct{}{}
	}
	for _, ct := range w.reg.sorted {
		src := w.columns[ct.typ]
		if src == nil {
			out.columns[ct.typ] = map[Entity]any{}
			continue
		}
		out.columns[ct.typ] = ct.cloneColumn(src)
	}
	return out
}

func sortedKeys(col map[Entity]any) []Entity {
	keys := make([]Entity, 0, len(col))
	for e := range col {
		keys = append(keys, e)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
