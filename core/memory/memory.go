// File: core/memory/memory.go
// Package memory implements device-memory allocation policy and blob
// export: selecting among DMA-buf export, opaque-fd export, a gbm
// fallback allocator, and host-mapped fallback for each allocation, plus
// the registry of live device-memory objects.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package memory

import (
	"sync"

	"github.com/momentics/vrend/core/driver"
)

// MapInfo reports the cacheability of a host-mapped export.
type MapInfo int

const (
	MapInfoNone MapInfo = iota
	MapInfoCached
	MapInfoWriteCombined
)

// FdBit flags which export mechanisms are valid for a given allocation.
type FdBit uint32

const (
	FdBitDmaBuf FdBit = 1 << iota
	FdBitOpaque
)

// VulkanInfo lets the guest re-derive import compatibility for an
// opaque-fd export.
type VulkanInfo struct {
	DeviceUUID      [16]byte
	DriverUUID      [16]byte
	AllocationSize  uint64
	MemoryTypeIndex uint32
}

// BlobDescriptor is the export result handed back to the transport:
// the chosen fd type plus either an owned fd or a host mapping, and
// the Vulkan compatibility info an opaque-fd import needs.
type BlobDescriptor struct {
	FdType  driver.FdType
	Fd      int    // valid fd, or -1 when MapPtr is used
	MapPtr  []byte // host-mapped fallback
	MapInfo MapInfo
	Vulkan  VulkanInfo
}

// DeviceMemory is the device-memory specialization of an Object: it
// tracks the host allocation plus the export/fallback state layered on
// top of it.
type DeviceMemory struct {
	ObjectID        uint64
	MemoryTypeIndex uint32
	AllocationSize  uint64
	Properties      driver.MemoryProperties
	ValidFdTypes    FdBit

	Handle   *driver.MemoryHandle
	GbmBO    *GbmBO
	AllocRec driver.AllocateInfo // persisted original record, references only

	exported bool
	mapped   []byte
}

// Registry tracks live DeviceMemory objects, keyed by the owning
// Object's id. It is guarded independently of core/object's Registry;
// the two are kept in lockstep by renderctx, which always inserts into
// both under the dispatch thread's single-writer discipline.
type Registry struct {
	mu    sync.Mutex
	byID  map[uint64]*DeviceMemory
}

// NewRegistry constructs an empty device-memory registry.
func NewRegistry() *Registry {
	return &Registry{byID: make(map[uint64]*DeviceMemory)}
}

// Insert records a newly allocated DeviceMemory.
func (r *Registry) Insert(mem *DeviceMemory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[mem.ObjectID] = mem
}

// Lookup returns the DeviceMemory for an object id.
func (r *Registry) Lookup(id uint64) (*DeviceMemory, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.byID[id]
	return m, ok
}

// Remove drops the tracked entry without freeing driver resources; the
// caller (the ObjectTypeMemory destructor) is expected to call FreeMemory
// first.
func (r *Registry) Remove(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, id)
}

// Len reports the number of live device-memory objects, for debug/stats.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}

// FreeMemory releases a DeviceMemory's driver handle and gbm fallback
// object (if any), then removes it from the registry. Safe to call from
// the ObjectTypeMemory destructor.
func (r *Registry) FreeMemory(drv driver.Driver, mem *DeviceMemory) error {
	var err error
	if mem.mapped != nil {
		if uerr := drv.UnmapMemory(mem.Handle); uerr != nil {
			err = uerr
		}
		mem.mapped = nil
	}
	if mem.Handle != nil {
		if ferr := drv.FreeMemory(mem.Handle); ferr != nil && err == nil {
			err = ferr
		}
	}
	if mem.GbmBO != nil {
		if gerr := mem.GbmBO.Close(); gerr != nil && err == nil {
			err = gerr
		}
	}
	r.Remove(mem.ObjectID)
	return err
}
