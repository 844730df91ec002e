package vmm

import (
	"rvos/kernel"
	"rvos/kernel/mm"
)

var (
	errCopyNotMapped = &kernel.Error{Module: "vmm", Message: "copying an address that is not mapped"}
	errFreeLeaf      = &kernel.Error{Module: "vmm", Message: "leaf entry found while freeing page tables"}
)

// PageTable describes the root of a 3-level Sv39 page table tree.
type PageTable struct {
	root mm.Frame
}

// Create allocates and clears the root table of a new, empty page table tree.
func Create() (PageTable, *kernel.Error) {
	rootFrame, err := mm.AllocFrame()
	if err != nil {
		return PageTable{root: mm.InvalidFrame}, err
	}

	kernel.Memset(rootFrame.HostAddress(), 0, mm.PageSize)
	return PageTable{root: rootFrame}, nil
}

// Root returns the frame that holds the root table.
func (pt PageTable) Root() mm.Frame {
	return pt.root
}

// Valid returns true if the page table has a root table.
func (pt PageTable) Valid() bool {
	return pt.root.Valid()
}

// Copy duplicates the contents and permissions of every 4K page in
// [0, size) into dst, allocating a fresh frame per page. Every page in the
// range must be mapped. If a frame or table cannot be allocated, the pages
// already copied into dst are unmapped and freed and the error is returned.
func (pt PageTable) Copy(dst PageTable, size uintptr) *kernel.Error {
	for page := uintptr(0); page < size; page += mm.PageSize {
		pte, _ := pt.Walk(page, false)
		if pte == nil || !pte.IsLeaf() {
			kernel.Violation(errCopyNotMapped)
		}

		frame, err := mm.AllocFrame()
		if err == nil {
			kernel.Memcopy(pte.Frame().HostAddress(), frame.HostAddress(), mm.PageSize)
			if err = dst.MapRange(page, mm.PageSize, frame.Address(), pte.Flags()); err != nil {
				mm.FreeFrame(frame)
			}
		}

		if err != nil {
			dst.UnmapRange(0, page>>mm.PageShift, true)
			return err
		}
	}

	return nil
}

// Destroy unmaps and frees every 4K page in [0, size) and then releases every
// table frame of the tree including the root. Any other leaf still present in
// the tree is an invariant violation.
func (pt PageTable) Destroy(size uintptr) {
	if size > 0 {
		pt.UnmapRange(0, mm.PageRoundUp(size, mm.PageSize)>>mm.PageShift, true)
	}
	freeTable(pt.root)
}

// freeTable recursively frees a table and the tables below it.
func freeTable(tableFrame mm.Frame) {
	table := tableAt(tableFrame)
	for i := range table {
		switch pte := &table[i]; {
		case pte.IsTable():
			freeTable(pte.Frame())
			*pte = 0
		case pte.Valid():
			kernel.Violation(errFreeLeaf)
		}
	}
	mm.FreeFrame(tableFrame)
}

// Grow maps zeroed user frames to grow the address range [0, oldSize) to
// [0, newSize) with the extra permissions in perm. Sizes need not be page
// aligned. On failure the pages added by this call are released and the
// error is returned.
func (pt PageTable) Grow(oldSize, newSize uintptr, perm PageTableEntryFlag) (uintptr, *kernel.Error) {
	if newSize < oldSize {
		return oldSize, nil
	}

	start := mm.PageRoundUp(oldSize, mm.PageSize)
	for page := start; page < newSize; page += mm.PageSize {
		frame, err := mm.AllocFrame()
		if err == nil {
			kernel.Memset(frame.HostAddress(), 0, mm.PageSize)
			if err = pt.MapRange(page, mm.PageSize, frame.Address(), FlagRead|FlagUser|perm); err != nil {
				mm.FreeFrame(frame)
			}
		}

		if err != nil {
			pt.Shrink(page, start)
			return oldSize, err
		}
	}

	return newSize, nil
}

// Shrink unmaps and frees user pages to bring the address range from
// [0, oldSize) down to [0, newSize). Sizes need not be page aligned and
// newSize may exceed oldSize in which case nothing happens.
func (pt PageTable) Shrink(oldSize, newSize uintptr) uintptr {
	if newSize >= oldSize {
		return oldSize
	}

	if from, to := mm.PageRoundUp(newSize, mm.PageSize), mm.PageRoundUp(oldSize, mm.PageSize); from < to {
		pt.UnmapRange(from, (to-from)>>mm.PageShift, true)
	}

	return newSize
}
