package vmm

import (
	"rvos/kernel"
	"rvos/kernel/mm"
)

var (
	// ErrRemap is returned by MapRangeLazy when a slot in the requested
	// range is already mapped.
	ErrRemap = &kernel.Error{Module: "vmm", Message: "virtual address range is already mapped"}

	errZeroSize                    = &kernel.Error{Module: "vmm", Message: "zero-sized mapping"}
	errRemapValidLeaf              = &kernel.Error{Module: "vmm", Message: "remapping a valid leaf"}
	errUnmapMisaligned             = &kernel.Error{Module: "vmm", Message: "unmap address is not page aligned"}
	errUnmapNotMapped              = &kernel.Error{Module: "vmm", Message: "unmapping an address that is not mapped"}
	errUnmapNotLeaf                = &kernel.Error{Module: "vmm", Message: "unmapping an entry that is not a leaf"}
	errAttemptToRWMapReservedFrame = &kernel.Error{Module: "vmm", Message: "reserved blank frame cannot be mapped with a RW flag"}
)

// MapRange creates 4K leaves for the virtual range [virtAddr, virtAddr+size)
// pointing to the physical range that starts at physAddr. The range is
// rounded to page boundaries. Remapping a valid leaf is an invariant
// violation; failures to allocate page tables are returned after removing any
// leaves installed by this call.
//
// Attempts to map ReservedZeroedFrame with a RW flag will result in an error.
func (pt PageTable) MapRange(virtAddr, size, physAddr uintptr, flags PageTableEntryFlag) *kernel.Error {
	if size == 0 {
		kernel.Violation(errZeroSize)
	}

	frame := mm.FrameFromAddress(physAddr)
	if protectReservedZeroedPage && isReservedZeroedFrame(frame) && flags&FlagWrite != 0 {
		return errAttemptToRWMapReservedFrame
	}

	start := mm.PageRoundDown(virtAddr, mm.PageSize)
	last := mm.PageRoundDown(virtAddr+size-1, mm.PageSize)
	for page := start; ; page, frame = page+mm.PageSize, frame+1 {
		pte, err := pt.Walk(page, true)
		if err != nil {
			pt.clearLeaves(start, page, false)
			return err
		}

		if pte == nil || pte.Valid() {
			kernel.Violation(errRemapValidLeaf)
		}

		*pte = MakeEntry(frame, flags|FlagValid)

		if page == last {
			return nil
		}
	}
}

// MapRangeLazy creates readable leaves of the requested granularity for the
// virtual range [virtAddr, virtAddr+size) pointing to the physical range that
// starts at frame. If frame is mm.InvalidFrame every page is mapped to
// ReservedZeroedFrame and FlagWrite is withheld. Leaves are only accessible
// from user mode if flags include FlagUser. If any slot in the range is
// already mapped ErrRemap is returned after removing the leaves installed by
// this call. A 2M slot that still points to an empty 4K table counts as
// unmapped: the table is freed and replaced by the leaf.
func (pt PageTable) MapRangeLazy(virtAddr, size uintptr, frame mm.Frame, flags PageTableEntryFlag, huge bool) *kernel.Error {
	if size == 0 {
		kernel.Violation(errZeroSize)
	}

	var (
		pageSize     = pageSizeFor(huge)
		start        = mm.PageRoundDown(virtAddr, pageSize)
		last         = mm.PageRoundDown(virtAddr+size-1, pageSize)
		frameStep    = mm.Frame(pageSize >> mm.PageShift)
		leafFlags    = flags | FlagValid | FlagRead
		pte          *PageTableEntry
		err          *kernel.Error
		mapZeroFrame = !frame.Valid()
	)

	if mapZeroFrame {
		frame, frameStep = ReservedZeroedFrame, 0
		leafFlags &^= FlagWrite
	}

	for page := start; page <= last; page, frame = page+pageSize, frame+frameStep {
		if huge {
			if pte, err = pt.HugeWalk(page, true); err == nil {
				reclaimEmptyTable(pte)
			}
		} else {
			pte, err = pt.Walk(page, true)
		}

		switch {
		case err != nil:
		case pte == nil || pte.Valid():
			err = ErrRemap
		default:
			*pte = MakeEntry(frame, leafFlags)
			continue
		}

		pt.clearLeaves(start, page, huge)
		return err
	}

	return nil
}

// reclaimEmptyTable frees the level-0 table pte points to if none of its
// entries is valid.
func reclaimEmptyTable(pte *PageTableEntry) {
	if pte == nil || !pte.Valid() || pte.IsLeaf() {
		return
	}

	for _, entry := range tableAt(pte.Frame()) {
		if entry.Valid() {
			return
		}
	}

	mm.FreeFrame(pte.Frame())
	*pte = 0
}

// clearLeaves clears the leaves installed for [start, end) without touching
// the frames they point to.
func (pt PageTable) clearLeaves(start, end uintptr, huge bool) {
	pageSize := pageSizeFor(huge)
	for page := start; page < end; page += pageSize {
		var pte *PageTableEntry
		if huge {
			pte, _ = pt.HugeWalk(page, false)
		} else {
			pte, _ = pt.Walk(page, false)
		}
		if pte != nil {
			*pte = 0
		}
	}
}

// UnmapRange removes pageCount 4K leaves starting at virtAddr. Every slot in
// the range must hold a valid leaf. If free is true, the frames the leaves
// point to are returned to the frame allocator.
func (pt PageTable) UnmapRange(virtAddr uintptr, pageCount uintptr, free bool) {
	if virtAddr&(mm.PageSize-1) != 0 {
		kernel.Violation(errUnmapMisaligned)
	}

	for page := virtAddr; page < virtAddr+pageCount*mm.PageSize; page += mm.PageSize {
		pte, _ := pt.Walk(page, false)
		switch {
		case pte == nil || !pte.Valid():
			kernel.Violation(errUnmapNotMapped)
		case !pte.IsLeaf():
			kernel.Violation(errUnmapNotLeaf)
		}

		if free {
			mm.FreeFrame(pte.Frame())
		}
		*pte = 0
	}
}
