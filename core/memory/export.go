// File: core/memory/export.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Export-as-blob: turns a DeviceMemory into a BlobDescriptor the guest
// can import, choosing DMA-buf, opaque, or a host-mapped fallback. A
// memory is exported at most once.

package memory

import (
	"github.com/momentics/vrend/api"
	"github.com/momentics/vrend/core/driver"
)

// Export produces a BlobDescriptor for mem, or an error if mem was
// already exported or the requested cross-device export cannot be
// satisfied. drv performs the actual fd-export/map call.
func Export(drv driver.Driver, caps driver.Capabilities, mem *DeviceMemory, crossDevice bool) (*BlobDescriptor, error) {
	if mem.exported {
		return nil, api.ErrAlreadyExported
	}

	fdType, err := ChooseBlobFdType(caps, crossDevice)
	if err != nil {
		return nil, err
	}

	desc := &BlobDescriptor{
		FdType: fdType,
		Fd:     -1,
		Vulkan: VulkanInfo{
			DeviceUUID:      caps.DeviceUUID,
			DriverUUID:      caps.DriverUUID,
			AllocationSize:  mem.AllocationSize,
			MemoryTypeIndex: mem.MemoryTypeIndex,
		},
	}

	switch fdType {
	case driver.FdTypeDmaBuf:
		fd, err := drv.GetMemoryFd(mem.Handle, true)
		if err != nil {
			return nil, err
		}
		desc.Fd = fd
	case driver.FdTypeOpaqueFd:
		fd, err := drv.GetMemoryFd(mem.Handle, false)
		if err != nil {
			return nil, err
		}
		desc.Fd = fd
	default: // host-mapped fallback
		ptr, err := drv.MapMemory(mem.Handle)
		if err != nil {
			return nil, err
		}
		mem.mapped = ptr
		desc.FdType = driver.FdTypeNone
		desc.MapPtr = ptr
		if mem.Properties.HostCoherent && mem.Properties.HostCached {
			desc.MapInfo = MapInfoCached
		} else {
			desc.MapInfo = MapInfoWriteCombined
		}
	}

	mem.exported = true
	return desc, nil
}
