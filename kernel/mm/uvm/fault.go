package uvm

import (
	"rvos/kernel"
	"rvos/kernel/mm"
	"rvos/kernel/mm/memstat"
	"rvos/kernel/mm/vmm"
)

// Page faults that cannot be resolved. The faulting context must be killed
// when HandleFault returns one of these or an allocation error.
var (
	ErrFaultNoEntry  = &kernel.Error{Module: "uvm", Message: "PTE not found"}
	ErrFaultNoRegion = &kernel.Error{Module: "uvm", Message: "area not found"}
	ErrFaultLoad     = &kernel.Error{Module: "uvm", Message: "load"}
	ErrFaultStore    = &kernel.Error{Module: "uvm", Message: "store"}

	errGranularityMismatch = &kernel.Error{Module: "uvm", Message: "leaf page size does not match its region"}
)

// HandleFault resolves a page fault raised by a user load (or store, if
// isStore is true) at addr. On success the access can be retried:
//   - shared regions are served by the frame published for the faulting
//     page, regardless of the access type.
//   - private regions get a private frame on the first store, zero-filled if
//     the page still maps the zero frame or copied from the current frame
//     if the page was inherited by Duplicate.
//
// A fault on an address without a leaf or outside every region, a load
// from a private region and a store to a read-only region are not
// recoverable.
func HandleFault(as *AddressSpace, addr uintptr, isStore bool) *kernel.Error {
	memstat.PageFault()

	as.lock.Acquire()
	defer as.lock.Release()

	if addr >= vmm.MaxVA {
		return ErrFaultNoEntry
	}

	pte, huge := as.pt.ResolveLeaf(addr)
	if pte == nil || !pte.IsLeaf() {
		return ErrFaultNoEntry
	}

	_, region := as.regionContaining(addr)
	if region == nil {
		return ErrFaultNoRegion
	}

	if huge != region.Huge() {
		kernel.Violation(errGranularityMismatch)
	}

	// Another access may already have resolved the fault.
	required := vmm.FlagUser | vmm.FlagRead
	if isStore {
		required = vmm.FlagUser | vmm.FlagWrite
	}
	if pte.HasFlags(required) {
		return nil
	}

	switch {
	case region.Shared():
		if (isStore && !region.Writable()) || !vmm.IsZeroFrameLeaf(*pte) {
			return ErrFaultStore
		}
		offset := mm.PageRoundDown(addr, region.pageSize()) - region.start
		return PublishOrJoin(region, offset, pte, region.options, huge)
	case !isStore:
		return ErrFaultLoad
	case !region.Writable():
		return ErrFaultStore
	}

	return resolvePrivateStore(region, pte, huge)
}

// resolvePrivateStore gives a writable private page its own frame.
func resolvePrivateStore(region *Region, pte *vmm.PageTableEntry, huge bool) *kernel.Error {
	frame, err := mm.AllocFrameOfSize(huge)
	if err != nil {
		return err
	}

	leaf := *pte
	if vmm.IsZeroFrameLeaf(leaf) {
		kernel.Memset(frame.HostAddress(), 0, region.pageSize())
		*pte = vmm.MakeEntry(frame, region.backedFlags())
		return nil
	}

	kernel.Memcopy(leaf.Frame().HostAddress(), frame.HostAddress(), region.pageSize())
	*pte = vmm.MakeEntry(frame, region.backedFlags())
	mm.FreeFrameOfSize(leaf.Frame(), huge)

	if region.needsCopy {
		if region.pendingCopies--; region.pendingCopies == 0 {
			region.needsCopy = false
		}
	}

	return nil
}
