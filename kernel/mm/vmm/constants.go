package vmm

import "rvos/kernel/mm"

const (
	// pageLevels indicates the number of page levels supported by the
	// Sv39 MMU. Level 0 is the root table.
	pageLevels = 3

	// entriesPerTable is the number of entries in a table at any level.
	entriesPerTable = 512

	// ptePhysPageShift is the position of the physical page number
	// inside a page table entry.
	ptePhysPageShift = 10

	// ptePhysPageMask is a mask that allows us to extract the physical
	// page number from a page table entry.
	ptePhysPageMask = uint64((1<<44)-1) << ptePhysPageShift

	// MaxVA is one bit less than the maximum allowed by Sv39 so that
	// addresses never need sign extension.
	MaxVA = uintptr(1) << (9 + 9 + 9 + 12 - 1)
)

var (
	// pageLevelShifts defines the shift required to access each page
	// table component of a virtual address.
	pageLevelShifts = [pageLevels]uintptr{30, 21, 12}

	// hugePageLevel is the level at which 2M leaves are installed.
	hugePageLevel = uint8(1)
)

// pageSizeFor returns the size of a leaf of the requested granularity.
func pageSizeFor(huge bool) uintptr {
	if huge {
		return mm.HugePageSize
	}
	return mm.PageSize
}
