package uvm

import (
	"io"

	"rvos/kernel"
	"rvos/kernel/kfmt"
	"rvos/kernel/mm"
	"rvos/kernel/mm/vmm"
	"rvos/kernel/sync"
)

var (
	errHeapOverlap  = &kernel.Error{Module: "uvm", Message: "heap growth overlaps a mapping"}
	errHeapTooLarge = &kernel.Error{Module: "uvm", Message: "heap size beyond MaxVA"}
)

// AddressSpace pairs the page table of a user context with the regions
// mapped into it and the size of its heap, which always starts at address 0.
//
// The lock of an address space is held across a map, an unmap and a page
// fault, so each region is only ever torn down by a single writer.
type AddressSpace struct {
	lock    sync.Spinlock
	pt      vmm.PageTable
	regions [MaxRegionsPerSpace]*Region
	count   int
	size    uintptr
}

// NewAddressSpace allocates an empty address space.
func NewAddressSpace() (*AddressSpace, *kernel.Error) {
	pt, err := vmm.Create()
	if err != nil {
		return nil, err
	}

	return &AddressSpace{pt: pt}, nil
}

// PageTable returns the page table of the address space.
func (as *AddressSpace) PageTable() vmm.PageTable {
	return as.pt
}

// Size returns the size of the heap.
func (as *AddressSpace) Size() uintptr {
	as.lock.Acquire()
	defer as.lock.Release()
	return as.size
}

// RegionCount returns the number of regions mapped into the address space.
func (as *AddressSpace) RegionCount() int {
	as.lock.Acquire()
	defer as.lock.Release()
	return as.count
}

// FindRegion returns the region that contains addr or nil.
func (as *AddressSpace) FindRegion(addr uintptr) *Region {
	as.lock.Acquire()
	defer as.lock.Release()

	_, region := as.regionContaining(addr)
	return region
}

// Overlaps returns true if any page of [start, end) is covered by the heap
// or by a region.
func (as *AddressSpace) Overlaps(start, end uintptr) bool {
	as.lock.Acquire()
	defer as.lock.Release()
	return as.overlaps(start, end)
}

// Resize grows or shrinks the heap to newSize bytes. Grown pages are zeroed,
// writable and private. Growth that would overlap a region fails without
// side effects.
func (as *AddressSpace) Resize(newSize uintptr) *kernel.Error {
	as.lock.Acquire()
	defer as.lock.Release()

	if newSize <= as.size {
		as.size = as.pt.Shrink(as.size, newSize)
		return nil
	}

	if newSize > vmm.MaxVA {
		return errHeapTooLarge
	}

	for _, region := range as.regions {
		if region != nil && region.start < mm.PageRoundUp(newSize, mm.PageSize) && mm.PageRoundUp(as.size, mm.PageSize) < region.end {
			return errHeapOverlap
		}
	}

	size, err := as.pt.Grow(as.size, newSize, vmm.FlagWrite)
	as.size = size
	return err
}

// Destroy unmaps every region of the address space, frees its heap and
// releases its page tables. The address space must not be used afterwards.
func Destroy(as *AddressSpace) *kernel.Error {
	as.lock.Acquire()
	defer as.lock.Release()

	as.unmapAll()
	as.pt.Destroy(as.size)
	as.size = 0
	return nil
}

// Dump writes the heap bounds and one line per mapped region to w. Every
// line is tagged with the "[uvm]" prefix.
func (as *AddressSpace) Dump(w io.Writer) {
	pw := kfmt.NewPrefixWriter(w, "uvm")

	as.lock.Acquire()
	defer as.lock.Release()

	kfmt.Fprintf(pw, "heap: [0x0 - 0x%x)\n", as.size)
	for slot, region := range as.regions {
		if region == nil {
			continue
		}

		arena.lock.Acquire()
		users := region.users
		arena.lock.Release()

		kfmt.Fprintf(pw, "slot %d: region %d [0x%x - 0x%x) length %d %s users %d\n",
			slot, region.id, region.start, region.end, region.length, region.options, users)
	}
}

// overlaps must be called with the lock held.
func (as *AddressSpace) overlaps(start, end uintptr) bool {
	if start < mm.PageRoundUp(as.size, mm.PageSize) {
		return true
	}

	for _, region := range as.regions {
		if region != nil && region.start < end && start < region.end {
			return true
		}
	}

	return false
}

// regionContaining must be called with the lock held.
func (as *AddressSpace) regionContaining(addr uintptr) (int, *Region) {
	for slot, region := range as.regions {
		if region != nil && region.Contains(addr) {
			return slot, region
		}
	}

	return -1, nil
}

// attach stores region in a free slot. The caller must hold the lock and
// must have checked the quota.
func (as *AddressSpace) attach(region *Region) {
	for slot := range as.regions {
		if as.regions[slot] == nil {
			as.regions[slot] = region
			as.count++
			return
		}
	}
}

// leafSlot returns the slot that holds the leaf for page at the requested
// granularity or nil if the tables leading to it do not exist.
func (as *AddressSpace) leafSlot(page uintptr, huge bool) *vmm.PageTableEntry {
	var pte *vmm.PageTableEntry
	if huge {
		pte, _ = as.pt.HugeWalk(page, false)
	} else {
		pte, _ = as.pt.Walk(page, false)
	}
	return pte
}
