package vmm

import (
	"unsafe"

	"rvos/kernel"
	"rvos/kernel/mm"
)

var (
	errAddrOutOfRange = &kernel.Error{Module: "vmm", Message: "virtual address beyond MaxVA"}
	errRootLeaf       = &kernel.Error{Module: "vmm", Message: "leaf entry in the root page table"}
)

// pageTable overlays a page table stored in a physical frame.
type pageTable [entriesPerTable]PageTableEntry

// tableAt returns the page table stored in the supplied frame.
func tableAt(frame mm.Frame) *pageTable {
	return (*pageTable)(unsafe.Pointer(frame.HostAddress()))
}

// pageTableWalker is a function that can be passed to the walk method. The
// function receives the current page level and page table entry as its
// arguments. If the function returns false, then the page walk is aborted.
type pageTableWalker func(pteLevel uint8, pte *PageTableEntry) bool

// walk performs a page table walk for the given virtual address. It calls the
// suppplied walkFn with the page table entry that corresponds to each page
// table level starting at the root. The walk descends into the frame that
// each visited entry points to, so walkFn must abort the walk when the entry
// does not point to a table.
func (pt PageTable) walk(virtAddr uintptr, walkFn pageTableWalker) {
	if virtAddr >= MaxVA {
		kernel.Violation(errAddrOutOfRange)
	}

	table := tableAt(pt.root)
	for level := uint8(0); level < pageLevels; level++ {
		entryIndex := (virtAddr >> pageLevelShifts[level]) & (entriesPerTable - 1)
		pte := &table[entryIndex]

		if !walkFn(level, pte) || level == pageLevels-1 {
			return
		}

		table = tableAt(pte.Frame())
	}
}

// walkToLevel returns the entry for virtAddr at the requested level. Missing
// intermediate tables are allocated and cleared when create is true. A nil
// entry is returned if a table is missing and create is false or if the path
// is blocked by a leaf at a higher level.
func (pt PageTable) walkToLevel(virtAddr uintptr, targetLevel uint8, create bool) (*PageTableEntry, *kernel.Error) {
	var (
		entry *PageTableEntry
		err   *kernel.Error
	)

	pt.walk(virtAddr, func(pteLevel uint8, pte *PageTableEntry) bool {
		if pteLevel == targetLevel {
			entry = pte
			return false
		}

		switch {
		case pte.IsLeaf():
			if pteLevel == 0 {
				kernel.Violation(errRootLeaf)
			}
			return false
		case pte.Valid():
			return true
		case !create:
			return false
		}

		// Next table does not yet exist; we need to allocate a
		// physical frame for it and clear its contents.
		var tableFrame mm.Frame
		if tableFrame, err = mm.AllocFrame(); err != nil {
			return false
		}
		kernel.Memset(tableFrame.HostAddress(), 0, mm.PageSize)
		*pte = MakeEntry(tableFrame, FlagValid)
		return true
	})

	return entry, err
}

// Walk returns the level-2 (4K) entry for virtAddr. If create is true, missing
// intermediate tables are allocated; allocation failures are returned as an
// error. Otherwise a nil entry is returned when the address is not covered by
// page tables. Addresses at or above MaxVA are an invariant violation.
func (pt PageTable) Walk(virtAddr uintptr, create bool) (*PageTableEntry, *kernel.Error) {
	return pt.walkToLevel(virtAddr, pageLevels-1, create)
}

// HugeWalk behaves like Walk but stops one level early and returns the entry
// that holds a 2M leaf for virtAddr.
func (pt PageTable) HugeWalk(virtAddr uintptr, create bool) (*PageTableEntry, *kernel.Error) {
	return pt.walkToLevel(virtAddr, hugePageLevel, create)
}

// ResolveLeaf returns the entry that maps virtAddr without knowing its
// granularity in advance. If a 2M leaf is found, huge is true. The returned
// level-2 entry may be invalid; nil is returned when an intermediate table is
// missing. A leaf in the root table is an invariant violation.
func (pt PageTable) ResolveLeaf(virtAddr uintptr) (entry *PageTableEntry, huge bool) {
	pt.walk(virtAddr, func(pteLevel uint8, pte *PageTableEntry) bool {
		switch {
		case pteLevel == pageLevels-1:
			entry = pte
		case pte.IsLeaf():
			if pteLevel == 0 {
				kernel.Violation(errRootLeaf)
			}
			entry, huge = pte, true
		case pte.Valid():
			return true
		}
		return false
	})

	return entry, huge
}
