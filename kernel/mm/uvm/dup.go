package uvm

import (
	"rvos/kernel"
	"rvos/kernel/mm"
	"rvos/kernel/mm/vmm"
)

// Duplicate copies the heap [0, size) of parent into child and makes child
// inherit every mapping of parent at the same address:
//   - a private region is recreated for the child. Pages that were touched
//     in the parent are copied eagerly and mapped read-only; the first store
//     through the child gives it a private frame (the region needs a copy
//     until every inherited page has been replaced). Untouched pages map the
//     zero frame.
//   - a shared region gains the child as a user. Pages already backed in
//     the parent are joined through the registry; untouched pages are joined
//     on their first fault.
//
// child must be empty and not visible to any other context. If an
// allocation fails, everything installed into child is released and the
// error is returned.
func Duplicate(parent, child *AddressSpace, size uintptr) *kernel.Error {
	parent.lock.Acquire()
	defer parent.lock.Release()
	child.lock.Acquire()
	defer child.lock.Release()

	if err := parent.pt.Copy(child.pt, size); err != nil {
		return err
	}
	child.size = size

	for slot, region := range parent.regions {
		if region == nil {
			continue
		}

		inherited, err := child.inherit(parent, region)
		if err != nil {
			child.unwind()
			return err
		}

		child.regions[slot] = inherited
		child.count++
	}

	return nil
}

// inherit maps region of parent into as. Both locks must be held.
func (as *AddressSpace) inherit(parent *AddressSpace, region *Region) (*Region, *kernel.Error) {
	inherited := region
	if region.Shared() {
		arena.attach(region)
	} else {
		var err *kernel.Error
		if inherited, err = arena.alloc(region.start, region.length, region.options); err != nil {
			return nil, err
		}
	}

	for page := region.start; page < region.end; page += region.pageSize() {
		if err := as.inheritPage(parent, inherited, page); err != nil {
			as.releasePages(inherited, page)
			arena.detach(inherited)
			return nil, err
		}
	}

	return inherited, nil
}

// inheritPage installs the leaf for a single page of region, mirroring the
// page of parent. Nothing is installed if an error is returned.
func (as *AddressSpace) inheritPage(parent *AddressSpace, region *Region, page uintptr) *kernel.Error {
	huge, pageSize := region.Huge(), region.pageSize()

	src := parent.leafSlot(page, huge)
	if src == nil || !src.IsLeaf() {
		kernel.Violation(errRegionCorrupted)
	}

	if vmm.IsZeroFrameLeaf(*src) {
		return as.pt.MapRangeLazy(page, pageSize, mm.InvalidFrame, region.placeholderFlags(), huge)
	}

	if region.Shared() {
		var (
			dst *vmm.PageTableEntry
			err *kernel.Error
		)
		if huge {
			dst, err = as.pt.HugeWalk(page, true)
		} else {
			dst, err = as.pt.Walk(page, true)
		}

		switch {
		case err != nil:
			return err
		case dst == nil || dst.Valid():
			return vmm.ErrRemap
		}

		if err = PublishOrJoin(region, page-region.start, dst, region.options, huge); err != nil {
			return err
		}
		if dst.Frame() != src.Frame() {
			kernel.Violation(errSharedNotBound)
		}
		return nil
	}

	frame, err := mm.AllocFrameOfSize(huge)
	if err != nil {
		return err
	}
	kernel.Memcopy(src.Frame().HostAddress(), frame.HostAddress(), pageSize)

	if err = as.pt.MapRangeLazy(page, pageSize, frame, region.backedFlags()&^vmm.FlagWrite, huge); err != nil {
		mm.FreeFrameOfSize(frame, huge)
		return err
	}

	region.needsCopy = true
	region.pendingCopies++
	return nil
}

// unwind releases every region and the heap of a partially duplicated
// address space. The lock must be held.
func (as *AddressSpace) unwind() {
	for slot, region := range as.regions {
		if region != nil {
			as.unmapSlot(slot)
		}
	}

	as.size = as.pt.Shrink(as.size, 0)
}
