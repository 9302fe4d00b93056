// File: core/driver/driver.go
// Package driver defines the host graphics driver contract the renderer
// core dispatches into. The driver itself (a C-style function table in
// the original design) is out of scope for this module; only the
// interface it must satisfy lives here.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package driver

// FdType enumerates the kinds of file-descriptor-backed storage a
// resource or device-memory export can use.
type FdType int

const (
	FdTypeNone FdType = iota
	FdTypeDmaBuf
	FdTypeOpaqueFd
	FdTypeShm
)

func (t FdType) String() string {
	switch t {
	case FdTypeDmaBuf:
		return "dma_buf"
	case FdTypeOpaqueFd:
		return "opaque_fd"
	case FdTypeShm:
		return "shm"
	default:
		return "none"
	}
}

// ObjectType tags a driver-side handle so the object registry can
// select the right destructor without a per-caller switch.
type ObjectType uint32

const (
	ObjectTypeDevice ObjectType = iota
	ObjectTypeMemory
	ObjectTypeBuffer
	ObjectTypeImage
	ObjectTypeSync
	ObjectTypePipeline
	ObjectTypeDescriptorSet
)

// Capabilities are queried once at context construction and read
// read-only afterward by every dispatch-path goroutine.
type Capabilities struct {
	DmaBufFdExportSupported bool
	OpaqueFdExportSupported bool
	ExternalMemoryDmaBuf    bool // EXT_external_memory_dma_buf
	DeviceUUID              [16]byte
	DriverUUID              [16]byte
}

// MemoryProperties reports the host-visibility bits for a memory type
// index, used by the device-memory policy's decision table.
type MemoryProperties struct {
	HostVisible  bool
	HostCoherent bool
	HostCached   bool
}

// AllocateInfo mirrors a VkMemoryAllocateInfo plus the pNext chain
// entries the policy may append or replace before calling the
// driver. Only the fields the policy or driver need are modeled; the
// rest of the guest's allocate-info record passes through opaquely via
// Opaque.
type AllocateInfo struct {
	AllocationSize  uint64
	MemoryTypeIndex uint32

	// ImportResourceID, when non-zero, came from a guest
	// ImportMemoryResourceInfoMESA chain entry naming a resource to
	// import memory from.
	ImportResourceID uint32
	// ImportFd is set by the policy (dup'd from a resource, or sourced
	// from a gbm fallback buffer object) before AllocateMemory is
	// called, whenever an import chain entry is in play.
	ImportFd     int
	ImportDmaBuf bool // true iff ImportFd is a DMA-buf fd, false for opaque

	// ExportDmaBuf / ExportOpaque request that the driver mark the
	// resulting allocation exportable via the named mechanism.
	ExportDmaBuf bool
	ExportOpaque bool

	// Opaque carries the rest of the guest's allocate-info record,
	// owned by the caller; the driver and policy only ever read it.
	Opaque any
}

// MemoryHandle is the driver-side handle for an allocated device memory
// object, returned by AllocateMemory and consumed by every later call
// naming that memory.
type MemoryHandle struct {
	Handle     uint64
	Properties MemoryProperties
}

// RetireFunc is invoked by Driver implementations from their async
// completion path; it is forwarded to core/fence.OnRetire by whoever
// owns the Driver (renderctx.Context wires this at construction).
type RetireFunc func(ringIdx uint8, fenceID uint64)

// Driver is the host graphics driver function table the renderer core
// calls into. Implementations run the real calls asynchronously where
// the original does (fence submission, retirement); everything else is
// synchronous from the caller's perspective.
type Driver interface {
	// Capabilities returns the static capability bits queried once at
	// context construction.
	Capabilities() Capabilities

	// MemoryProperties reports the host-visibility bits for a memory
	// type index.
	MemoryProperties(memoryTypeIndex uint32) MemoryProperties

	// AllocateMemory performs the driver-side allocation. The policy
	// has already rewritten info's import/export fields.
	AllocateMemory(info AllocateInfo) (*MemoryHandle, error)

	// FreeMemory releases a previously allocated device memory handle.
	FreeMemory(mem *MemoryHandle) error

	// GetMemoryFd is the GetMemoryFdKHR-equivalent export call; dmaBuf
	// selects DMA-buf vs opaque-fd export semantics.
	GetMemoryFd(mem *MemoryHandle, dmaBuf bool) (fd int, err error)

	// MapMemory/UnmapMemory implement the host-mapped fallback export
	// path. MapMemory returns a byte slice standing in for the mapped
	// host pointer plus its length.
	MapMemory(mem *MemoryHandle) ([]byte, error)
	UnmapMemory(mem *MemoryHandle) error

	// AllocateResourceStorage backs a create-resource call with size
	// bytes of fdType-exportable storage, independent of any device
	// memory object. Only called for FdTypeDmaBuf/FdTypeOpaqueFd; the
	// shm fallback is handled by the resource registry itself via
	// memfd, without driver involvement.
	AllocateResourceStorage(size uint64, fdType FdType) (fd int, err error)

	// DestroyObject invokes the per-type destructor for any object
	// other than device memory (which uses FreeMemory instead).
	DestroyObject(objType ObjectType, handle uint64) error

	// SubmitFence forwards a fence submission. The call returns once
	// the driver has accepted (or rejected) the submission; completion
	// is reported later, asynchronously, via the RetireFunc registered
	// with SetRetireCallback.
	SubmitFence(ringIdx uint8, fenceID uint64, flags uint32) error

	// SetRetireCallback registers the function the driver's async
	// completion path invokes on fence retirement. Called exactly once,
	// at context construction.
	SetRetireCallback(cb RetireFunc)

	// MarkRingAlive is the ring monitor's watchdog-avoidance hook.
	MarkRingAlive(ringID uint64)
}
