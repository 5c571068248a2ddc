// Copyright 2026 The Atom Authors
// SPDX-License-Identifier: Apache-2.0

package cap

import (
	"fmt"

	"github.com/atom-foundation/atom/kernel/ref"
)

// ResourceKind enumerates the closed set of kernel-managed resource
// classes a capability can protect.
type ResourceKind int

const (
	// KindThread protects a thread control block.
	KindThread ResourceKind = iota
	// KindMemoryRegion protects a mapped virtual memory range.
	KindMemoryRegion
	// KindIPCPort protects an IPC port.
	KindIPCPort
	// KindIRQ protects an interrupt line.
	KindIRQ
	// KindDevice protects a PCI device by bus-device-function.
	KindDevice
	// KindDMABuffer protects a physically contiguous DMA buffer.
	KindDMABuffer
	// KindSharedMemory protects a shared memory region.
	KindSharedMemory
	// KindFramebuffer protects the display framebuffer.
	KindFramebuffer
	// KindInputDevice protects a keyboard or mouse input stream.
	KindInputDevice

	numResourceKinds = iota
)

// String returns the canonical kind name used in stats and logs.
func (k ResourceKind) String() string {
	switch k {
	case KindThread:
		return "thread"
	case KindMemoryRegion:
		return "memory-region"
	case KindIPCPort:
		return "ipc-port"
	case KindIRQ:
		return "irq"
	case KindDevice:
		return "device"
	case KindDMABuffer:
		return "dma-buffer"
	case KindSharedMemory:
		return "shared-memory"
	case KindFramebuffer:
		return "framebuffer"
	case KindInputDevice:
		return "input-device"
	default:
		return fmt.Sprintf("resource-kind(%d)", int(k))
	}
}

// Resource is a descriptor for the kernel object a capability
// protects. The set of implementations is closed: every variant is
// defined in this file, and consumers switch exhaustively on Kind().
type Resource interface {
	Kind() ResourceKind
}

// ThreadResource protects a thread.
type ThreadResource struct {
	Thread ref.ThreadID `cbor:"thread"`
}

func (ThreadResource) Kind() ResourceKind { return KindThread }

// MemoryRegionResource protects a virtual memory range backed by a
// physical range.
type MemoryRegionResource struct {
	VirtAddr uint64 `cbor:"virt_addr"`
	PhysAddr uint64 `cbor:"phys_addr"`
	Size     int    `cbor:"size"`
}

func (MemoryRegionResource) Kind() ResourceKind { return KindMemoryRegion }

// IPCPortResource protects an IPC port.
type IPCPortResource struct {
	Port ref.PortID `cbor:"port"`
}

func (IPCPortResource) Kind() ResourceKind { return KindIPCPort }

// IRQResource protects an interrupt line.
type IRQResource struct {
	Line uint8 `cbor:"line"`
}

func (IRQResource) Kind() ResourceKind { return KindIRQ }

// DeviceResource protects a PCI device addressed by its packed
// bus-device-function triple.
type DeviceResource struct {
	BDF uint16 `cbor:"bdf"`
}

func (DeviceResource) Kind() ResourceKind { return KindDevice }

// DMABufferResource protects a physically contiguous buffer used for
// device DMA.
type DMABufferResource struct {
	PhysAddr uint64 `cbor:"phys_addr"`
	Size     int    `cbor:"size"`
}

func (DMABufferResource) Kind() ResourceKind { return KindDMABuffer }

// SharedMemoryResource protects a shared memory region.
type SharedMemoryResource struct {
	Region ref.RegionID `cbor:"region"`
}

func (SharedMemoryResource) Kind() ResourceKind { return KindSharedMemory }

// FramebufferResource protects the display framebuffer.
type FramebufferResource struct {
	Address       uint64 `cbor:"address"`
	Width         uint32 `cbor:"width"`
	Height        uint32 `cbor:"height"`
	Stride        uint32 `cbor:"stride"`
	BytesPerPixel uint8  `cbor:"bytes_per_pixel"`
}

func (FramebufferResource) Kind() ResourceKind { return KindFramebuffer }

// InputDeviceKind selects which input stream an InputDeviceResource
// protects.
type InputDeviceKind int

const (
	// InputKeyboard is the keyboard input stream.
	InputKeyboard InputDeviceKind = iota
	// InputMouse is the mouse input stream.
	InputMouse
)

// String returns "keyboard" or "mouse".
func (k InputDeviceKind) String() string {
	if k == InputMouse {
		return "mouse"
	}
	return "keyboard"
}

// InputDeviceResource protects a keyboard or mouse input stream.
type InputDeviceResource struct {
	Device InputDeviceKind `cbor:"device"`
}

func (InputDeviceResource) Kind() ResourceKind { return KindInputDevice }
