// File: core/resource/resource.go
// Package resource implements the per-context resource registry:
// 32-bit guest resource ids mapped to an owned backing fd (DMA-buf or
// opaque) or, for shm, a live mapping, created fresh via the device-memory export policy or
// imported from a guest-supplied fd.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package resource

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/momentics/vrend/api"
	"github.com/momentics/vrend/core/driver"
	"github.com/momentics/vrend/core/memory"
)

// ErrAlreadyExists is returned by Create/Import when res_id is already
// registered.
var ErrAlreadyExists = errors.New("resource: id already exists")

// ErrUnknownID is returned by Lookup/Destroy for an id with no entry.
var ErrUnknownID = errors.New("resource: unknown id")

// mapFdErr converts fd-table exhaustion into the guest-visible "too
// many objects" reply error; everything else passes through unchanged.
func mapFdErr(err error) error {
	if errors.Is(err, unix.EMFILE) || errors.Is(err, unix.ENFILE) {
		return fmt.Errorf("%w: %v", api.ErrTooManyObjects, err)
	}
	return err
}

// Resource is a guest-visible blob backing store. Shm resources carry
// a live mapping in Mapped with Fd set to -1 (the creating memfd is
// closed once mapped; the mapping keeps the memory alive); every other
// fd type carries a single owned fd with Mapped nil.
type Resource struct {
	ResID  uint32
	BlobID uint64
	Size   uint64
	Flags  uint32

	FdType driver.FdType
	Fd     int // -1 when Mapped is used instead
	Mapped []byte

	imported bool // true: fd was dup'd from a guest-owned fd at Import
}

// Registry tracks live resources for one context, keyed by the
// guest-assigned 32-bit resource id. All entry points serialize on a
// single guard; no other lock is acquired while it is held.
type Registry struct {
	mu    sync.Mutex
	byID  map[uint32]*Resource
	drv   driver.Driver
	caps  driver.Capabilities
}

// NewRegistry constructs an empty resource registry bound to a driver.
func NewRegistry(drv driver.Driver, caps driver.Capabilities) *Registry {
	return &Registry{byID: make(map[uint32]*Resource), drv: drv, caps: caps}
}

// Create allocates a fresh backing store of size bytes for resID,
// choosing a blob fd type via the same priority export-as-blob uses:
// DMA-buf, then opaque, then a shm mapping (Fd -1, Mapped set).
// Double-create with an
// existing id fails.
func (r *Registry) Create(resID uint32, blobID uint64, size uint64, flags uint32) (*Resource, error) {
	r.mu.Lock()
	if _, exists := r.byID[resID]; exists {
		r.mu.Unlock()
		return nil, ErrAlreadyExists
	}
	r.mu.Unlock()

	fdType, err := memory.ChooseBlobFdType(r.caps, false)
	if err != nil {
		return nil, err
	}

	res := &Resource{ResID: resID, BlobID: blobID, Size: size, Flags: flags, FdType: fdType, Fd: -1}
	if fdType == driver.FdTypeShm {
		fd, err := unix.MemfdCreate(fmt.Sprintf("vrend-resource-%d", resID), unix.MFD_CLOEXEC)
		if err != nil {
			return nil, fmt.Errorf("resource: memfd_create: %w", mapFdErr(err))
		}
		if err := unix.Ftruncate(fd, int64(size)); err != nil {
			unix.Close(fd)
			return nil, fmt.Errorf("resource: ftruncate: %w", err)
		}
		data, err := unix.Mmap(fd, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
		// The mapping keeps the memory alive; the creating fd is not
		// part of the resource's state.
		unix.Close(fd)
		if err != nil {
			return nil, fmt.Errorf("resource: mmap: %w", err)
		}
		res.Mapped = data
	} else {
		fd, err := r.drv.AllocateResourceStorage(size, fdType)
		if err != nil {
			return nil, mapFdErr(err)
		}
		res.Fd = fd
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byID[resID]; exists {
		if res.Mapped != nil {
			unix.Munmap(res.Mapped)
		} else {
			unix.Close(res.Fd)
		}
		return nil, ErrAlreadyExists
	}
	r.byID[resID] = res
	return res, nil
}

// Import registers a guest-supplied fd as resID. The registry dups fd so
// it owns an independently closeable reference; the caller retains
// ownership of the fd it passed in.
func (r *Registry) Import(resID uint32, fdType driver.FdType, fd int, size uint64) (*Resource, error) {
	r.mu.Lock()
	if _, exists := r.byID[resID]; exists {
		r.mu.Unlock()
		return nil, ErrAlreadyExists
	}
	r.mu.Unlock()

	owned, err := unix.Dup(fd)
	if err != nil {
		return nil, fmt.Errorf("resource: dup import fd: %w", mapFdErr(err))
	}

	res := &Resource{ResID: resID, Size: size, FdType: fdType, Fd: owned, imported: true}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byID[resID]; exists {
		unix.Close(owned)
		return nil, ErrAlreadyExists
	}
	r.byID[resID] = res
	return res, nil
}

// Lookup returns the resource for resID, if present.
func (r *Registry) Lookup(resID uint32) (*Resource, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.byID[resID]
	return res, ok
}

// Destroy closes resID's fd (or unmaps its shared mapping) exactly once
// and drops the entry. A destroy on an unknown id is a no-op, matching
// the guest-visible destroy contract.
func (r *Registry) Destroy(resID uint32) error {
	r.mu.Lock()
	res, ok := r.byID[resID]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	delete(r.byID, resID)
	r.mu.Unlock()

	if res.Mapped != nil {
		if err := unix.Munmap(res.Mapped); err != nil {
			return fmt.Errorf("resource: munmap %d: %w", resID, err)
		}
		return nil
	}
	if res.Fd >= 0 {
		if err := unix.Close(res.Fd); err != nil {
			return fmt.Errorf("resource: close fd for %d: %w", resID, err)
		}
	}
	return nil
}

// Len reports the number of live resources, for debug/stats surfaces.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}

// DestroyAll releases every remaining resource's backing fd or mapping,
// used by context teardown. Errors are collected, not short-circuited,
// so one failing close cannot strand the rest.
func (r *Registry) DestroyAll() []error {
	r.mu.Lock()
	ids := make([]uint32, 0, len(r.byID))
	for id := range r.byID {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	var errs []error
	for _, id := range ids {
		if err := r.Destroy(id); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}
