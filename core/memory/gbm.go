// File: core/memory/gbm.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// gbm (generic buffer manager) is a cgo-only C library with no Go
// binding; the fallback "buffer object" allocator is therefore
// implemented directly on golang.org/x/sys/unix's Memfd/Ftruncate,
// which mints the same kind of importable, mappable fd gbm_bo_create
// would: a one-row linear R8 surface whose width is the allocation
// size, rounded up to page granularity.

package memory

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// gbmBOAlign is the page granularity the fallback surface is rounded
// up to.
const gbmBOAlign = 4096

// GbmBO is the fallback allocator's buffer object: an owned fd backing
// a linear surface sized to hold the whole device-memory allocation.
type GbmBO struct {
	fd   int
	size uint64
}

// NewGbmBO allocates a fallback buffer object of size bytes, rounded up
// to 4 KiB. The caller must already have checked the allocation-size
// bound (2^32-1 bytes).
func NewGbmBO(size uint64) (*GbmBO, error) {
	rounded := (size + gbmBOAlign - 1) &^ uint64(gbmBOAlign-1)
	if rounded == 0 {
		rounded = gbmBOAlign
	}
	fd, err := unix.MemfdCreate("vrend-gbm-bo", unix.MFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("gbm: memfd_create: %w", err)
	}
	if err := unix.Ftruncate(fd, int64(rounded)); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("gbm: ftruncate: %w", err)
	}
	return &GbmBO{fd: fd, size: rounded}, nil
}

// Size returns the rounded byte size backing the buffer object.
func (b *GbmBO) Size() uint64 {
	return b.size
}

// Fd returns the buffer object's owned fd. Callers that hand it across
// an ownership boundary (e.g. into an AllocateInfo.ImportFd) must Dup it
// first; GbmBO retains ownership of the original until Close.
func (b *GbmBO) Fd() int {
	return b.fd
}

// DupFd returns a new fd referring to the same underlying object,
// independently owned by the caller.
func (b *GbmBO) DupFd() (int, error) {
	nfd, err := unix.Dup(b.fd)
	if err != nil {
		return -1, fmt.Errorf("gbm: dup: %w", err)
	}
	return nfd, nil
}

// Close releases the buffer object's fd. Idempotent-unsafe: callers must
// not Close twice.
func (b *GbmBO) Close() error {
	return unix.Close(b.fd)
}
