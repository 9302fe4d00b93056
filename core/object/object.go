// File: core/object/object.go
// Package object implements the per-context object registry:
// opaque guest-assigned ids mapped to typed driver handles, with
// intrusive parent/child tracking for reverse-dependency teardown.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package object

import (
	"errors"
	"sync"

	"github.com/momentics/vrend/core/driver"
)

// ErrInvalidID is returned by Insert when id is zero or already in use.
// The caller (dispatch engine) treats this as a protocol violation and
// marks the context fatal; see renderctx.Context.Fail.
var ErrInvalidID = errors.New("object: invalid or duplicate id")

// ErrUnknownID is returned by Lookup/Remove for an id with no entry.
var ErrUnknownID = errors.New("object: unknown id")

// ErrNoDestructor indicates RegisterDestructor was never called for a
// type tag a caller tried to Insert or Remove — an internal invariant
// violation, not a guest protocol error.
var ErrNoDestructor = errors.New("object: no destructor registered for type")

// Object is a driver-side handle tagged with the type that identifies
// its destructor, plus intrusive child-list membership in its parent so
// bulk teardown can walk reverse-dependency order in O(children).
type Object struct {
	ID     uint64
	Type   driver.ObjectType
	Handle uint64

	parent      *Object
	firstChild  *Object
	nextSibling *Object
	prevSibling *Object
}

// setParent links obj as a tracked child of parent. Must be called with
// the owning Registry's lock held (Insert does this for callers that
// supply a non-nil parent).
func (o *Object) setParent(parent *Object) {
	o.parent = parent
	if parent == nil {
		return
	}
	o.nextSibling = parent.firstChild
	if parent.firstChild != nil {
		parent.firstChild.prevSibling = o
	}
	parent.firstChild = o
}

func (o *Object) unlinkFromParent() {
	if o.parent == nil {
		return
	}
	if o.prevSibling != nil {
		o.prevSibling.nextSibling = o.nextSibling
	} else {
		o.parent.firstChild = o.nextSibling
	}
	if o.nextSibling != nil {
		o.nextSibling.prevSibling = o.prevSibling
	}
	o.parent, o.nextSibling, o.prevSibling = nil, nil, nil
}

// Destructor releases the driver-side resource behind an Object. It is
// selected by the object's type tag; registration happens once, at
// context construction.
type Destructor func(obj *Object) error

// Registry maps 64-bit guest object ids to Objects. All entry points
// serialize on a single guard; destructors run with the guard dropped.
type Registry struct {
	mu          sync.Mutex
	objects     map[uint64]*Object
	destructors map[driver.ObjectType]Destructor
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		objects:     make(map[uint64]*Object),
		destructors: make(map[driver.ObjectType]Destructor),
	}
}

// RegisterDestructor binds a type tag to its destructor. Called once,
// at context creation, before any Insert for that type.
func (r *Registry) RegisterDestructor(t driver.ObjectType, d Destructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.destructors[t] = d
}

// Validate reports whether id is eligible for Insert: non-zero and not
// already present. The guest is the sole source of object ids, so a
// failed validation is a protocol violation, not a local bug.
func (r *Registry) Validate(id uint64) bool {
	if id == 0 {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, exists := r.objects[id]
	return !exists
}

// Insert adds obj, which must have passed a prior Validate(obj.ID).
// parent may be nil. Returns ErrInvalidID if the id is zero or was
// inserted between Validate and Insert (a collision the caller must
// treat as a protocol violation), or ErrNoDestructor if obj.Type has no
// registered destructor.
func (r *Registry) Insert(obj *Object, parent *Object) error {
	if obj.ID == 0 {
		return ErrInvalidID
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.destructors[obj.Type]; !exists {
		return ErrNoDestructor
	}
	if _, exists := r.objects[obj.ID]; exists {
		return ErrInvalidID
	}
	if parent != nil {
		obj.setParent(parent)
	}
	r.objects[obj.ID] = obj
	return nil
}

// Lookup returns the object for id, if present.
func (r *Registry) Lookup(id uint64) (*Object, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	obj, ok := r.objects[id]
	return obj, ok
}

// Remove invokes obj's destructor then drops the entry. A no-op-safe
// unknown-id lookup is the caller's responsibility; Remove on an
// unknown id returns ErrUnknownID.
func (r *Registry) Remove(id uint64) error {
	r.mu.Lock()
	obj, ok := r.objects[id]
	if !ok {
		r.mu.Unlock()
		return ErrUnknownID
	}
	destroy := r.destructors[obj.Type]
	delete(r.objects, obj.ID)
	obj.unlinkFromParent()
	r.mu.Unlock()

	if destroy == nil {
		return ErrNoDestructor
	}
	return destroy(obj)
}

// RemoveSubtree destroys id and every object tracked beneath it in its
// own child lists (recursively), children first, atomically unlinking the whole
// subtree from the registry before any destructor runs. Used when a
// command destroys an object that owns other live objects (e.g. a
// device owning buffers and images).
func (r *Registry) RemoveSubtree(id uint64) []error {
	r.mu.Lock()
	root, ok := r.objects[id]
	if !ok {
		r.mu.Unlock()
		return []error{ErrUnknownID}
	}
	var order []*Object
	var collect func(o *Object)
	collect = func(o *Object) {
		for c := o.firstChild; c != nil; c = c.nextSibling {
			collect(c)
		}
		order = append(order, o)
	}
	collect(root)
	for _, o := range order {
		delete(r.objects, o.ID)
	}
	root.unlinkFromParent()
	destructors := make(map[driver.ObjectType]Destructor, len(r.destructors))
	for t, d := range r.destructors {
		destructors[t] = d
	}
	r.mu.Unlock()

	var errs []error
	for _, o := range order {
		if d := destructors[o.Type]; d != nil {
			if err := d(o); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errs
}

// DestroyAll tears down every remaining object in reverse-dependency
// order (children before parents), invoking each destructor with the
// registry guard dropped. Errors are collected, not short-circuited, so
// a single failing destructor cannot strand the rest of the context.
func (r *Registry) DestroyAll() []error {
	r.mu.Lock()
	order := make([]*Object, 0, len(r.objects))
	visited := make(map[uint64]bool, len(r.objects))
	var visit func(o *Object)
	visit = func(o *Object) {
		if visited[o.ID] {
			return
		}
		visited[o.ID] = true
		for c := o.firstChild; c != nil; c = c.nextSibling {
			visit(c)
		}
		order = append(order, o)
	}
	for _, o := range r.objects {
		if o.parent == nil {
			visit(o)
		}
	}
	// Any object whose parent was itself removed out of band (shouldn't
	// happen under the single-dispatch-thread model, but DestroyAll must
	// not silently skip it) is still visited here.
	for _, o := range r.objects {
		visit(o)
	}
	destructors := make(map[driver.ObjectType]Destructor, len(r.destructors))
	for t, d := range r.destructors {
		destructors[t] = d
	}
	r.objects = make(map[uint64]*Object)
	r.mu.Unlock()

	var errs []error
	for _, o := range order {
		if d := destructors[o.Type]; d != nil {
			if err := d(o); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errs
}

// Len reports the number of live objects, for debug/stats surfaces.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.objects)
}
