// Package pmm contains code that manages physical memory frame allocations.
package pmm

import (
	"rvos/kernel"
	"rvos/kernel/mm"
)

var (
	// frameAllocator is the allocator used by the kernel for all regular
	// and huge frame requests.
	frameAllocator HugeFrameAllocator
)

// Init sets up the kernel physical memory allocation sub-system for the RAM
// range [physBase, physTop) and registers it with the mm package.
func Init(physBase, physTop, kernelEnd uintptr) *kernel.Error {
	if err := frameAllocator.Init(physBase, physTop, kernelEnd); err != nil {
		return err
	}

	mm.SetFrameAllocator(&frameAllocator)
	return nil
}

// AllocFrame reserves a regular frame from the kernel allocator.
func AllocFrame() (mm.Frame, *kernel.Error) { return frameAllocator.AllocFrame() }

// FreeFrame releases a regular frame back to the kernel allocator.
func FreeFrame(frame mm.Frame) { frameAllocator.FreeFrame(frame) }

// AllocHugeFrame reserves a huge frame from the kernel allocator.
func AllocHugeFrame() (mm.Frame, *kernel.Error) { return frameAllocator.AllocHugeFrame() }

// FreeHugeFrame releases a huge frame back to the kernel allocator.
func FreeHugeFrame(frame mm.Frame) { frameAllocator.FreeHugeFrame(frame) }

// FrameAllocator returns the kernel allocator.
func FrameAllocator() mm.FrameAllocator { return &frameAllocator }

// TotalFrames returns the number of regular frames managed by the kernel
// allocator.
func TotalFrames() uint64 { return frameAllocator.TotalFrames() }
