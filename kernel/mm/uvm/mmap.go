package uvm

import (
	"rvos/kernel"
	"rvos/kernel/mm"
	"rvos/kernel/mm/vmm"
)

var (
	errMisaligned     = &kernel.Error{Module: "uvm", Message: "mapping address is not aligned to its page size"}
	errBadLength      = &kernel.Error{Module: "uvm", Message: "mapping length out of range"}
	errOutOfRange     = &kernel.Error{Module: "uvm", Message: "mapping extends beyond MaxVA"}
	errMapQuota       = &kernel.Error{Module: "uvm", Message: "address space mapping quota exceeded"}
	errOverlap        = &kernel.Error{Module: "uvm", Message: "mapping overlaps an existing mapping"}
	errNoRegion       = &kernel.Error{Module: "uvm", Message: "no mapping at address"}
	errNotRegionStart = &kernel.Error{Module: "uvm", Message: "address is not the start of a mapping"}

	errRegionCorrupted = &kernel.Error{Module: "uvm", Message: "region page is not mapped by a leaf of its page size"}
	errSharedNotBound  = &kernel.Error{Module: "uvm", Message: "shared page not served by its bound frame"}
)

// Map creates a mapping of length bytes at addr in the address space. prot
// selects the protection (ProtWrite implies ProtRead) and flags the sharing
// mode and page size. Every page initially maps the zero frame and is backed
// by a real frame on the first fault. Map returns addr on success and fails
// without side effects if addr is misaligned, the length is 0 or exceeds
// MaxMapSize, the range overlaps the heap or another region, or no region
// slot is available.
func Map(as *AddressSpace, addr, length uintptr, prot, flags MapOption) (uintptr, *kernel.Error) {
	options := prot | flags
	if options&ProtWrite != 0 {
		options |= ProtRead
	}

	huge := options&MapHugePage != 0
	pageSize := granule(huge)

	switch {
	case addr&(pageSize-1) != 0:
		return 0, errMisaligned
	case length == 0 || length > MaxMapSize:
		return 0, errBadLength
	case addr >= vmm.MaxVA || vmm.MaxVA-addr < mm.PageRoundUp(length, pageSize):
		return 0, errOutOfRange
	}

	as.lock.Acquire()
	defer as.lock.Release()

	if as.count >= MaxRegionsPerSpace {
		return 0, errMapQuota
	}

	if as.overlaps(addr, addr+mm.PageRoundUp(length, pageSize)) {
		return 0, errOverlap
	}

	region, err := arena.alloc(addr, length, options)
	if err != nil {
		return 0, err
	}

	if err = as.pt.MapRangeLazy(addr, length, mm.InvalidFrame, region.placeholderFlags(), huge); err != nil {
		arena.detach(region)
		return 0, err
	}

	as.attach(region)
	return addr, nil
}

// Unmap removes the mapping that starts at addr. Addresses inside a mapping
// other than its start are rejected without side effects. Private frames are
// freed; the frames of a shared mapping are freed once no address space maps
// them any more and the region itself is released with its last user.
func Unmap(as *AddressSpace, addr uintptr) *kernel.Error {
	as.lock.Acquire()
	defer as.lock.Release()

	slot, region := as.regionContaining(addr)
	switch {
	case region == nil:
		return errNoRegion
	case region.start != addr:
		return errNotRegionStart
	}

	as.unmapSlot(slot)
	return nil
}

// UnmapAll removes every mapping of the address space.
func UnmapAll(as *AddressSpace) *kernel.Error {
	as.lock.Acquire()
	defer as.lock.Release()

	as.unmapAll()
	return nil
}

// unmapAll must be called with the lock held.
func (as *AddressSpace) unmapAll() {
	for slot := range as.regions {
		if as.regions[slot] != nil {
			as.unmapSlot(slot)
		}
	}
}

// unmapSlot detaches the region in slot and releases all of its pages. The
// caller must hold the lock.
func (as *AddressSpace) unmapSlot(slot int) {
	region := as.regions[slot]
	as.regions[slot] = nil
	as.count--

	as.releasePages(region, region.end)
	arena.detach(region)
}

// releasePages clears the leaves that map [region.start, end) and frees the
// frames this address space was the last user of. Every page in the range
// must be mapped by a leaf of the region page size.
func (as *AddressSpace) releasePages(region *Region, end uintptr) {
	huge := region.Huge()

	for page := region.start; page < end; page += region.pageSize() {
		pte := as.leafSlot(page, huge)
		if pte == nil || !pte.IsLeaf() {
			kernel.Violation(errRegionCorrupted)
		}

		leaf := *pte
		*pte = 0

		if vmm.IsZeroFrameLeaf(leaf) {
			continue
		}

		if region.Shared() {
			frame, last := Release(region, page-region.start)
			if frame != leaf.Frame() {
				kernel.Violation(errSharedNotBound)
			}
			if !last {
				continue
			}
		}

		mm.FreeFrameOfSize(leaf.Frame(), huge)
	}
}
