// Package vmm implements the Sv39 page table primitives: walking, mapping,
// unmapping, copying and destroying page table trees, the checks performed by
// the MMU on user accesses and the reserved zero frame used to back lazily
// allocated mappings.
package vmm

import (
	"rvos/kernel"
	"rvos/kernel/kfmt"
	"rvos/kernel/mm"
)

// ReservedZeroedFrame is a special zero-cleared huge frame allocated by the
// vmm package's Init function. Lazily backed mappings point every page to it
// read-only until the first write fault installs a private frame:
//
//	func ReserveOnDemand(pt vmm.PageTable, va, size uintptr) *kernel.Error {
//	  return pt.MapRangeLazy(va, size, mm.InvalidFrame, vmm.FlagUser|vmm.FlagWrite, false)
//	}
//
// The frame is never written and never freed.
var ReservedZeroedFrame = mm.InvalidFrame

var (
	// protectReservedZeroedPage is set to true to prevent mapping to
	// ReservedZeroedFrame with a RW flag.
	protectReservedZeroedPage bool
)

// Init initializes the vmm system by reserving the zeroed frame.
func Init() *kernel.Error {
	return reserveZeroedFrame()
}

// reserveZeroedFrame reserves a physical huge frame to be used as the
// initial backing of lazily allocated mappings.
func reserveZeroedFrame() *kernel.Error {
	frame, err := mm.AllocHugeFrame()
	if err != nil {
		return err
	}

	protectReservedZeroedPage = false
	ReservedZeroedFrame = frame
	kernel.Memset(ReservedZeroedFrame.HostAddress(), 0, mm.HugePageSize)

	kfmt.Printf("[vmm] reserved zero frame at 0x%x\n", ReservedZeroedFrame.Address())

	// From this point on, ReservedZeroedFrame cannot be mapped with a RW flag
	protectReservedZeroedPage = true
	return nil
}

// isReservedZeroedFrame returns true if frame is the first frame of the
// reserved zero huge frame.
func isReservedZeroedFrame(frame mm.Frame) bool {
	return ReservedZeroedFrame.Valid() && frame == ReservedZeroedFrame
}

// IsZeroFrameLeaf returns true if the leaf points to ReservedZeroedFrame.
func IsZeroFrameLeaf(pte PageTableEntry) bool {
	return pte.IsLeaf() && isReservedZeroedFrame(pte.Frame())
}
