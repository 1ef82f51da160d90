package ecs

import "testing"

type testPos struct{ X, Y int }

type testTags struct{ Names []string }

func (t testTags) Clone() testTags {
	return testTags{Names: append([]string(nil), t.Names...)}
}

type testScratch struct{ N int }

func newTestWorld(t *testing.T) *World {
	t.Helper()
	reg := NewRegistry()
	if err := RegisterComponent[testPos](reg); err != nil {
		t.Fatalf("register pos: %v", err)
	}
	if err := RegisterComponent[testTags](reg); err != nil {
		t.Fatalf("register tags: %v", err)
	}
	return NewWorld(reg)
}

func TestRegistry_DuplicateRejected(t *testing.T) {
	reg := NewRegistry()
	if err := RegisterComponent[testPos](reg); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := RegisterComponent[testPos](reg); err == nil {
		t.Fatalf("expected duplicate registration to fail")
	}
}

func TestWorld_CloneIsIndependent(t *testing.T) {
	w := newTestWorld(t)
	e := w.Spawn()
	_ = Insert(w, e, testPos{X: 1, Y: 2})
	_ = Insert(w, e, testTags{Names: []string{"a"}})

	cp := w.Clone()

	p, _ := Get[testPos](w, e)
	p.X = 99
	tags, _ := Get[testTags](w, e)
	tags.Names[0] = "mutated"

	cpPos, ok := Get[testPos](cp, e)
	if !ok || cpPos.X != 1 {
		t.Fatalf("clone pos aliased live state: %+v", cpPos)
	}
	cpTags, _ := Get[testTags](cp, e)
	if cpTags.Names[0] != "a" {
		t.Fatalf("clone tags aliased live slice: %v", cpTags.Names)
	}
}

func TestWorld_CloneDropsUnregisteredComponents(t *testing.T) {
	w := newTestWorld(t)
	e := w.Spawn()
	_ = Insert(w, e, testPos{X: 1})
	_ = Insert(w, e, testScratch{N: 5})

	cp := w.Clone()
	if !cp.Alive(e) {
		t.Fatalf("entity missing from clone")
	}
	if _, ok := Get[testScratch](cp, e); ok {
		t.Fatalf("unregistered component should not be copied")
	}
	if _, ok := Get[testPos](cp, e); !ok {
		t.Fatalf("registered component missing from clone")
	}
}

func TestWorld_CloneKeepsEntityCounter(t *testing.T) {
	w := newTestWorld(t)
	w.Spawn()
	w.Spawn()
	cp := w.Clone()
	if a, b := w.Spawn(), cp.Spawn(); a != b {
		t.Fatalf("spawn after clone diverged: %d vs %d", a, b)
	}
}

func TestWorld_EachOrdered(t *testing.T) {
	w := newTestWorld(t)
	var ents []Entity
	for i := 0; i < 5; i++ {
		e := w.Spawn()
		ents = append(ents, e)
		_ = Insert(w, e, testPos{X: i})
	}
	w.Despawn(ents[2])

	var got []Entity
	Each(w, func(e Entity, _ testPos) { got = append(got, e) })
	want := []Entity{ents[0], ents[1], ents[3], ents[4]}
	if len(got) != len(want) {
		t.Fatalf("got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order mismatch: got %v want %v", got, want)
		}
	}
}

func TestInsert_DeadEntity(t *testing.T) {
	w := newTestWorld(t)
	e := w.Spawn()
	w.Despawn(e)
	if err := Insert(w, e, testPos{}); err != ErrNoEntity {
		t.Fatalf("want ErrNoEntity, got %v", err)
	}
}

func TestStateDigest_StableAndSensitive(t *testing.T) {
	build := func(x int) (*World, *Resources) {
		w := newTestWorld(t)
		e := w.Spawn()
		_ = Insert(w, e, testPos{X: x})
		res := NewResources()
		InsertResource(res, testScratch{N: 3})
		return w, res
	}
	w1, r1 := build(1)
	w2, r2 := build(1)
	w3, r3 := build(2)

	d1, err := StateDigest(w1, r1)
	if err != nil {
		t.Fatalf("digest: %v", err)
	}
	d2, _ := StateDigest(w2, r2)
	d3, _ := StateDigest(w3, r3)
	if d1 != d2 {
		t.Fatalf("equal states hashed differently: %s vs %s", d1, d2)
	}
	if d1 == d3 {
		t.Fatalf("different states hashed equal")
	}

	cp, _ := StateDigest(w1.Clone(), r1)
	if cp != d1 {
		t.Fatalf("clone digest mismatch: %s vs %s", cp, d1)
	}
}

func TestResources_InsertGetRemove(t *testing.T) {
	res := NewResources()
	if _, ok := GetResource[testScratch](res); ok {
		t.Fatalf("unexpected resource")
	}
	InsertResource(res, testScratch{N: 1})
	v, ok := GetResource[testScratch](res)
	if !ok || v.N != 1 {
		t.Fatalf("get: %+v %v", v, ok)
	}
	v.N = 2
	again, _ := GetResource[testScratch](res)
	if again.N != 2 {
		t.Fatalf("resource pointer not stable")
	}
	if !RemoveResource[testScratch](res) || HasResource[testScratch](res) {
		t.Fatalf("remove failed")
	}
}
