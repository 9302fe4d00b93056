// File: core/memory/policy.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// The device-memory allocation decision table, evaluated top to bottom
// as an ordered predicate chain: first matching condition decides how
// the allocation record is rewritten before the driver sees it.

package memory

import (
	"fmt"
	"math"

	"github.com/momentics/vrend/api"
	"github.com/momentics/vrend/core/driver"
)

// ResourceImporter resolves a guest resource id to a dup'able fd, used
// when the guest supplies an ImportMemoryResourceInfoMESA chain entry.
// Implemented by core/resource.Registry in production; a closure in
// tests.
type ResourceImporter func(resID uint32) (fd int, dmaBuf bool, err error)

// Policy implements the device-memory allocation and export decisions.
type Policy struct {
	Caps     driver.Capabilities
	Import   ResourceImporter
}

// NewPolicy constructs a Policy bound to a driver's capability bits and
// a resource importer.
func NewPolicy(caps driver.Capabilities, importer ResourceImporter) *Policy {
	return &Policy{Caps: caps, Import: importer}
}

// Allocate applies the decision table to info, returning the
// rewritten record the driver should see, the resulting ValidFdTypes
// bitmask, and the gbm fallback object if the gbm path was taken (the
// caller must Close it when the memory is freed — DeviceMemory.GbmBO
// does this via Registry.FreeMemory).
func (p *Policy) Allocate(info driver.AllocateInfo, props driver.MemoryProperties) (driver.AllocateInfo, FdBit, *GbmBO, error) {
	guestRequestedDmaBuf := info.ExportDmaBuf

	switch {
	case info.ImportResourceID != 0:
		fd, dmaBuf, err := p.Import(info.ImportResourceID)
		if err != nil {
			return info, 0, nil, fmt.Errorf("memory: import resource %d: %w", info.ImportResourceID, err)
		}
		info.ImportFd = fd
		info.ImportDmaBuf = dmaBuf
		info.ExportDmaBuf = false
		info.ExportOpaque = false
		return info, 0, nil, nil

	case props.HostVisible && p.Caps.DmaBufFdExportSupported:
		info.ExportDmaBuf = true
		valid := FdBitDmaBuf
		if info.ExportOpaque {
			valid |= FdBitOpaque
		}
		return info, valid, nil, nil

	case props.HostVisible && p.Caps.OpaqueFdExportSupported && !guestRequestedDmaBuf:
		info.ExportOpaque = true
		valid := FdBitOpaque
		if info.ExportDmaBuf {
			valid |= FdBitDmaBuf
		}
		return info, valid, nil, nil

	case props.HostVisible && p.Caps.ExternalMemoryDmaBuf:
		if info.AllocationSize > math.MaxUint32 {
			return info, 0, nil, api.ErrOutOfDeviceMemory
		}
		bo, err := NewGbmBO(info.AllocationSize)
		if err != nil {
			return info, 0, nil, err
		}
		fd, err := bo.DupFd()
		if err != nil {
			bo.Close()
			return info, 0, nil, err
		}
		info.ImportFd = fd
		info.ImportDmaBuf = true
		info.ExportDmaBuf = false
		info.ExportOpaque = false
		return info, FdBitDmaBuf, bo, nil

	default:
		var valid FdBit
		if info.ExportDmaBuf {
			valid |= FdBitDmaBuf
		}
		if info.ExportOpaque {
			valid |= FdBitOpaque
		}
		return info, valid, nil, nil
	}
}

// ChooseBlobFdType implements the export-as-blob priority used both by
// Export and, identically, by core/resource.Registry.Create, which
// delegates blob typing to this same policy. crossDevice requires
// DMA-buf or fails outright.
func ChooseBlobFdType(caps driver.Capabilities, crossDevice bool) (driver.FdType, error) {
	switch {
	case crossDevice:
		if caps.DmaBufFdExportSupported {
			return driver.FdTypeDmaBuf, nil
		}
		return driver.FdTypeNone, fmt.Errorf("memory: cross-device export requires dma-buf: %w", api.ErrNotSupported)
	case caps.DmaBufFdExportSupported:
		return driver.FdTypeDmaBuf, nil
	case caps.OpaqueFdExportSupported:
		return driver.FdTypeOpaqueFd, nil
	default:
		return driver.FdTypeShm, nil
	}
}
