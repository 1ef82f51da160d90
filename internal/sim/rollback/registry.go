package rollback

import (
	"fmt"
	"reflect"

	"rewind.dev/internal/sim/ecs"
)

// CopyFunc copies one resource type from src into dst.
type CopyFunc func(dst, src *ecs.Resources) error

type trackEntry struct {
	name  string
	copy  CopyFunc
	has   func(res *ecs.Resources) bool
	equal func(a, b *ecs.Resources) bool
}

// ResourceRegistry holds the ordered track and override lists. Every
// overridden type is also tracked. Entries run in registration order; the
// engine never reorders them.
type ResourceRegistry struct {
	rollback []trackEntry
	override []trackEntry
	names    map[string]struct{}
	frozen   bool
}

func newResourceRegistry() *ResourceRegistry {
	return &ResourceRegistry{names: map[string]struct{}{}}
}

func newTrackEntry[R any]() trackEntry {
	name := reflect.TypeFor[R]().String()
	return trackEntry{
		name: name,
		copy: func(dst, src *ecs.Resources) error {
			v, ok := ecs.GetResource[R](src)
			if !ok {
				return fmt.Errorf("%w: %s", ErrResourceNotFound, name)
			}
			ecs.InsertResource(dst, ecs.CloneValue(*v))
			return nil
		},
		has: ecs.HasResource[R],
		equal: func(a, b *ecs.Resources) bool {
			va, oka := ecs.GetResource[R](a)
			vb, okb := ecs.GetResource[R](b)
			if !oka || !okb {
				return oka == okb
			}
			return reflect.DeepEqual(*va, *vb)
		},
	}
}

func register[R any](r *ResourceRegistry, override bool) error {
	if r.frozen {
		return ErrRegistryFrozen
	}
	e := newTrackEntry[R]()
	if _, ok := r.names[e.name]; ok {
		return fmt.Errorf("resource %s already tracked", e.name)
	}
	r.names[e.name] = struct{}{}
	r.rollback = append(r.rollback, e)
	if override {
		r.override = append(r.override, e)
	}
	return nil
}

// Tracked lists tracked resource names in registration order.
func (r *ResourceRegistry) Tracked() []string { return entryNames(r.rollback) }

// Overridden lists overridden resource names in registration order.
func (r *ResourceRegistry) Overridden() []string { return entryNames(r.override) }

func entryNames(es []trackEntry) []string {
	out := make([]string, 0, len(es))
	for _, e := range es {
		out = append(out, e.name)
	}
	return out
}

// capture copies every tracked resource of live into a fresh bag.
func (r *ResourceRegistry) capture(live *ecs.Resources) (*ecs.Resources, error) {
	out := ecs.NewResources()
	for _, e := range r.rollback {
		if err := e.copy(out, live); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// restore copies every tracked resource of snap back into live. Untracked
// resources in live are left alone.
func (r *ResourceRegistry) restore(live, snap *ecs.Resources) error {
	for _, e := range r.rollback {
		if err := e.copy(live, snap); err != nil {
			return err
		}
	}
	return nil
}

// captureOverrides copies only the overridden resources of live.
func (r *ResourceRegistry) captureOverrides(live *ecs.Resources) (*ecs.Resources, error) {
	out := ecs.NewResources()
	for _, e := range r.override {
		if err := e.copy(out, live); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// authority decides, per overridden type, which value frame f must carry:
// the live value if the frame's deferred batch changed it (before is the
// pre-batch capture), otherwise the recorded value from the snapshot that
// the replay is about to replace. Types with neither are left to the
// simulation. Returns nil when nothing is authoritative.
func (r *ResourceRegistry) authority(live, before, recorded *ecs.Resources) (*ecs.Resources, error) {
	var out *ecs.Resources
	for _, e := range r.override {
		var src *ecs.Resources
		switch {
		case before != nil && !e.equal(before, live):
			src = live
		case recorded != nil && e.has(recorded):
			src = recorded
		default:
			continue
		}
		if out == nil {
			out = ecs.NewResources()
		}
		if err := e.copy(out, src); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// applyOverrides copies the overridden types present in src into live.
func (r *ResourceRegistry) applyOverrides(live, src *ecs.Resources) error {
	for _, e := range r.override {
		if !e.has(src) {
			continue
		}
		if err := e.copy(live, src); err != nil {
			return err
		}
	}
	return nil
}
