// File: core/driver/fakedriver/fakedriver.go
// Package fakedriver is a test double for driver.Driver: predictable,
// in-memory behavior plus error injection, used by this module's own
// package tests in place of a real host graphics driver.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// The asynchronous fence-submission-to-retirement path is simulated
// with internal/concurrency.Executor, standing in for the driver's own
// completion thread.

package fakedriver

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/momentics/vrend/core/driver"
	"github.com/momentics/vrend/internal/concurrency"
)

// Driver is a fake driver.Driver. Every fd it returns is a real,
// closeable memfd so tests can exercise the same Dup/Close/Mmap paths
// production code does.
type Driver struct {
	mu sync.Mutex

	caps          driver.Capabilities
	memProps      map[uint32]driver.MemoryProperties
	memories      map[*driver.MemoryHandle]*memState
	nextHandle    uint64
	aliveRings    map[uint64]bool

	allocateErr error
	getFdErr    error
	mapErr      error

	retireCb driver.RetireFunc
	pool     *concurrency.Executor
}

type memState struct {
	fd     int
	size   uint64
	mapped []byte
}

// New constructs a fake driver with the given capabilities and a
// background worker used to simulate asynchronous fence retirement.
func New(caps driver.Capabilities) *Driver {
	return &Driver{
		caps:       caps,
		memProps:   make(map[uint32]driver.MemoryProperties),
		memories:   make(map[*driver.MemoryHandle]*memState),
		aliveRings: make(map[uint64]bool),
		pool:       concurrency.NewExecutor(1, -1),
	}
}

// SetMemoryProperties registers the MemoryProperties reported for a
// given memory type index.
func (d *Driver) SetMemoryProperties(index uint32, props driver.MemoryProperties) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.memProps[index] = props
}

// SetAllocateError injects a failure for the next AllocateMemory call.
func (d *Driver) SetAllocateError(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.allocateErr = err
}

// SetGetMemoryFdError injects a failure for the next GetMemoryFd call.
func (d *Driver) SetGetMemoryFdError(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.getFdErr = err
}

// SetMapError injects a failure for the next MapMemory call.
func (d *Driver) SetMapError(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.mapErr = err
}

// Capabilities implements driver.Driver.
func (d *Driver) Capabilities() driver.Capabilities {
	return d.caps
}

// MemoryProperties implements driver.Driver.
func (d *Driver) MemoryProperties(memoryTypeIndex uint32) driver.MemoryProperties {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.memProps[memoryTypeIndex]
}

// AllocateMemory implements driver.Driver, backing every allocation with
// a real memfd sized to the request.
func (d *Driver) AllocateMemory(info driver.AllocateInfo) (*driver.MemoryHandle, error) {
	d.mu.Lock()
	if d.allocateErr != nil {
		err := d.allocateErr
		d.allocateErr = nil
		d.mu.Unlock()
		return nil, err
	}
	d.nextHandle++
	handleID := d.nextHandle
	props := d.memProps[info.MemoryTypeIndex]
	d.mu.Unlock()

	size := info.AllocationSize
	if size == 0 {
		size = 4096
	}
	fd, err := unix.MemfdCreate(fmt.Sprintf("fakedriver-mem-%d", handleID), unix.MFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("fakedriver: memfd_create: %w", err)
	}
	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("fakedriver: ftruncate: %w", err)
	}

	h := &driver.MemoryHandle{Handle: handleID, Properties: props}
	d.mu.Lock()
	d.memories[h] = &memState{fd: fd, size: size}
	d.mu.Unlock()
	return h, nil
}

// FreeMemory implements driver.Driver.
func (d *Driver) FreeMemory(mem *driver.MemoryHandle) error {
	d.mu.Lock()
	st, ok := d.memories[mem]
	if ok {
		delete(d.memories, mem)
	}
	d.mu.Unlock()
	if !ok {
		return fmt.Errorf("fakedriver: unknown memory handle")
	}
	if st.mapped != nil {
		unix.Munmap(st.mapped)
	}
	return unix.Close(st.fd)
}

// GetMemoryFd implements driver.Driver, returning a dup of the backing
// memfd regardless of the requested fd class (the fake has no real
// dma-buf/opaque distinction).
func (d *Driver) GetMemoryFd(mem *driver.MemoryHandle, dmaBuf bool) (int, error) {
	d.mu.Lock()
	if d.getFdErr != nil {
		err := d.getFdErr
		d.getFdErr = nil
		d.mu.Unlock()
		return -1, err
	}
	st, ok := d.memories[mem]
	d.mu.Unlock()
	if !ok {
		return -1, fmt.Errorf("fakedriver: unknown memory handle")
	}
	nfd, err := unix.Dup(st.fd)
	if err != nil {
		return -1, fmt.Errorf("fakedriver: dup: %w", err)
	}
	return nfd, nil
}

// MapMemory implements driver.Driver.
func (d *Driver) MapMemory(mem *driver.MemoryHandle) ([]byte, error) {
	d.mu.Lock()
	if d.mapErr != nil {
		err := d.mapErr
		d.mapErr = nil
		d.mu.Unlock()
		return nil, err
	}
	st, ok := d.memories[mem]
	d.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("fakedriver: unknown memory handle")
	}
	data, err := unix.Mmap(st.fd, 0, int(st.size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("fakedriver: mmap: %w", err)
	}
	d.mu.Lock()
	st.mapped = data
	d.mu.Unlock()
	return data, nil
}

// UnmapMemory implements driver.Driver.
func (d *Driver) UnmapMemory(mem *driver.MemoryHandle) error {
	d.mu.Lock()
	st, ok := d.memories[mem]
	d.mu.Unlock()
	if !ok || st.mapped == nil {
		return nil
	}
	err := unix.Munmap(st.mapped)
	d.mu.Lock()
	st.mapped = nil
	d.mu.Unlock()
	return err
}

// AllocateResourceStorage implements driver.Driver with a plain memfd of
// the requested size, independent of any memory allocation tracking.
func (d *Driver) AllocateResourceStorage(size uint64, fdType driver.FdType) (int, error) {
	fd, err := unix.MemfdCreate(fmt.Sprintf("fakedriver-resource-%v", fdType), unix.MFD_CLOEXEC)
	if err != nil {
		return -1, fmt.Errorf("fakedriver: memfd_create: %w", err)
	}
	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("fakedriver: ftruncate: %w", err)
	}
	return fd, nil
}

// DestroyObject implements driver.Driver as a no-op that records
// nothing; the fake has no driver-side object state beyond memory
// handles.
func (d *Driver) DestroyObject(objType driver.ObjectType, handle uint64) error {
	return nil
}

// SubmitFence implements driver.Driver by scheduling an asynchronous
// retirement on the background executor, simulating the driver's own
// completion thread calling back into on_retire.
func (d *Driver) SubmitFence(ringIdx uint8, fenceID uint64, flags uint32) error {
	d.mu.Lock()
	cb := d.retireCb
	d.mu.Unlock()
	if cb == nil {
		return fmt.Errorf("fakedriver: no retire callback registered")
	}
	return d.pool.Submit(func() {
		cb(ringIdx, fenceID)
	})
}

// SetRetireCallback implements driver.Driver.
func (d *Driver) SetRetireCallback(cb driver.RetireFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.retireCb = cb
}

// MarkRingAlive implements driver.Driver, recording the most recent
// liveness ping for ringID so tests can assert the monitor reached it.
func (d *Driver) MarkRingAlive(ringID uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.aliveRings[ringID] = true
}

// RingMarkedAlive reports whether MarkRingAlive has been called for
// ringID since the fake was constructed.
func (d *Driver) RingMarkedAlive(ringID uint64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.aliveRings[ringID]
}

// Close releases the fake driver's background worker. Tests should defer
// this; it does not free outstanding memory handles.
func (d *Driver) Close() {
	d.pool.Close()
}
