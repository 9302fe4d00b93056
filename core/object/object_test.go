package object_test

import (
	"sync"
	"testing"

	"github.com/momentics/vrend/core/driver"
	"github.com/momentics/vrend/core/object"
)

func newTestRegistry(destroyed *[]uint64, mu *sync.Mutex) *object.Registry {
	r := object.NewRegistry()
	r.RegisterDestructor(driver.ObjectTypeBuffer, func(o *object.Object) error {
		mu.Lock()
		*destroyed = append(*destroyed, o.ID)
		mu.Unlock()
		return nil
	})
	r.RegisterDestructor(driver.ObjectTypeDevice, func(o *object.Object) error {
		mu.Lock()
		*destroyed = append(*destroyed, o.ID)
		mu.Unlock()
		return nil
	})
	return r
}

func TestValidateRejectsZeroAndDuplicate(t *testing.T) {
	var destroyed []uint64
	var mu sync.Mutex
	r := newTestRegistry(&destroyed, &mu)

	if r.Validate(0) {
		t.Fatal("id 0 must never validate")
	}
	if !r.Validate(1) {
		t.Fatal("fresh id should validate")
	}
	if err := r.Insert(&object.Object{ID: 1, Type: driver.ObjectTypeBuffer}, nil); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if r.Validate(1) {
		t.Fatal("already-used id must not validate")
	}
	if err := r.Insert(&object.Object{ID: 1, Type: driver.ObjectTypeBuffer}, nil); err != object.ErrInvalidID {
		t.Fatalf("duplicate insert: got %v, want ErrInvalidID", err)
	}
}

func TestInsertRequiresRegisteredDestructor(t *testing.T) {
	r := object.NewRegistry()
	err := r.Insert(&object.Object{ID: 1, Type: driver.ObjectTypeImage}, nil)
	if err != object.ErrNoDestructor {
		t.Fatalf("got %v, want ErrNoDestructor", err)
	}
}

func TestRemoveInvokesDestructorExactlyOnce(t *testing.T) {
	var destroyed []uint64
	var mu sync.Mutex
	r := newTestRegistry(&destroyed, &mu)
	obj := &object.Object{ID: 42, Type: driver.ObjectTypeBuffer}
	if err := r.Insert(obj, nil); err != nil {
		t.Fatal(err)
	}
	if err := r.Remove(42); err != nil {
		t.Fatal(err)
	}
	if len(destroyed) != 1 || destroyed[0] != 42 {
		t.Fatalf("destroyed = %v, want [42]", destroyed)
	}
	if err := r.Remove(42); err != object.ErrUnknownID {
		t.Fatalf("second remove: got %v, want ErrUnknownID", err)
	}
}

func TestDestroyAllRunsChildrenBeforeParents(t *testing.T) {
	var destroyed []uint64
	var mu sync.Mutex
	r := newTestRegistry(&destroyed, &mu)

	parent := &object.Object{ID: 1, Type: driver.ObjectTypeDevice}
	if err := r.Insert(parent, nil); err != nil {
		t.Fatal(err)
	}
	child1 := &object.Object{ID: 2, Type: driver.ObjectTypeBuffer}
	if err := r.Insert(child1, parent); err != nil {
		t.Fatal(err)
	}
	child2 := &object.Object{ID: 3, Type: driver.ObjectTypeBuffer}
	if err := r.Insert(child2, parent); err != nil {
		t.Fatal(err)
	}

	errs := r.DestroyAll()
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if len(destroyed) != 3 {
		t.Fatalf("destroyed = %v, want 3 entries", destroyed)
	}
	parentIdx := -1
	for i, id := range destroyed {
		if id == 1 {
			parentIdx = i
		}
	}
	for i, id := range destroyed {
		if (id == 2 || id == 3) && i > parentIdx && parentIdx != -1 {
			t.Fatalf("child %d destroyed after parent: order=%v", id, destroyed)
		}
	}
	if r.Len() != 0 {
		t.Fatalf("registry should be empty after DestroyAll, Len=%d", r.Len())
	}
}

func TestRemoveSubtreeDestroysWholeSubtree(t *testing.T) {
	var destroyed []uint64
	var mu sync.Mutex
	r := newTestRegistry(&destroyed, &mu)

	parent := &object.Object{ID: 10, Type: driver.ObjectTypeDevice}
	r.Insert(parent, nil)
	child := &object.Object{ID: 11, Type: driver.ObjectTypeBuffer}
	r.Insert(child, parent)

	errs := r.RemoveSubtree(10)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if r.Len() != 0 {
		t.Fatalf("expected empty registry, Len=%d", r.Len())
	}
	if len(destroyed) != 2 {
		t.Fatalf("destroyed = %v, want 2 entries", destroyed)
	}
}
