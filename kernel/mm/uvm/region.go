package uvm

import (
	"rvos/kernel"
	"rvos/kernel/mm"
	"rvos/kernel/mm/vmm"
	"rvos/kernel/sync"
)

var (
	errNoRegionSlot = &kernel.Error{Module: "uvm", Message: "no free region slot"}

	errStaleRegion     = &kernel.Error{Module: "uvm", Message: "attaching a region that is no longer valid"}
	errRegionUnderflow = &kernel.Error{Module: "uvm", Message: "detaching a region without users"}
)

// Region describes a user mapping created by Map.
type Region struct {
	id      int
	start   uintptr
	end     uintptr
	length  uintptr
	options MapOption

	// needsCopy is set while pendingCopies pages of a private region
	// still point to read-only copies inherited from the parent address
	// space. Both are guarded by the lock of the owning address space.
	needsCopy     bool
	pendingCopies int

	// users is the number of address spaces that reference the region.
	// Only shared regions ever have more than one user. Guarded by the
	// arena lock.
	users int
	valid bool
}

// ID returns the index of the region in the region arena.
func (r *Region) ID() int { return r.id }

// Start returns the first address covered by the region.
func (r *Region) Start() uintptr { return r.start }

// End returns the address following the last page of the region.
func (r *Region) End() uintptr { return r.end }

// Length returns the length that was requested when the region was mapped.
func (r *Region) Length() uintptr { return r.length }

// Options returns the protection and flag bits of the region.
func (r *Region) Options() MapOption { return r.options }

// Shared returns true if the region is backed by frames shared with every
// address space that references it.
func (r *Region) Shared() bool { return r.options&MapShared != 0 }

// Huge returns true if the region is mapped with 2M pages.
func (r *Region) Huge() bool { return r.options&MapHugePage != 0 }

// Writable returns true if the region was mapped with ProtWrite.
func (r *Region) Writable() bool { return r.options&ProtWrite != 0 }

// NeedsCopy returns true if some pages of the region still point to
// read-only copies inherited by Duplicate.
func (r *Region) NeedsCopy() bool { return r.needsCopy }

// Contains returns true if addr falls within the region.
func (r *Region) Contains(addr uintptr) bool {
	return r.start <= addr && addr < r.end
}

func (r *Region) pageSize() uintptr { return granule(r.Huge()) }

// placeholderFlags returns the flags of the leaves that point to the zero
// frame before a page is first touched. Shared placeholders are not user
// accessible so that every first access goes through the registry.
func (r *Region) placeholderFlags() vmm.PageTableEntryFlag {
	if r.Shared() {
		return vmm.FlagShared
	}
	return vmm.FlagUser
}

// backedFlags returns the flags of a leaf that points to a frame owned by
// the region.
func (r *Region) backedFlags() vmm.PageTableEntryFlag {
	flags := vmm.FlagValid | vmm.FlagUser | vmm.FlagRead
	if r.Writable() {
		flags |= vmm.FlagWrite
	}
	if r.Shared() {
		flags |= vmm.FlagShared
	}
	return flags
}

// regionArena holds every region of the system. Free slots are tracked by a
// stack of indices so that claiming a slot is a single operation under the
// arena lock.
type regionArena struct {
	lock  sync.Spinlock
	slots [MaxRegions]Region
	free  [MaxRegions]int
	top   int
}

var arena regionArena

func (a *regionArena) reset() {
	a.lock.Acquire()
	for i := range a.slots {
		a.slots[i] = Region{}
		a.free[i] = MaxRegions - 1 - i
	}
	a.top = MaxRegions
	a.lock.Release()
}

// alloc claims a slot for a region covering [start, start+length) rounded
// up to the page size selected by options. The region starts with one user.
func (a *regionArena) alloc(start, length uintptr, options MapOption) (*Region, *kernel.Error) {
	a.lock.Acquire()
	defer a.lock.Release()

	if a.top == 0 {
		return nil, errNoRegionSlot
	}

	a.top--
	r := &a.slots[a.free[a.top]]
	*r = Region{
		id:      a.free[a.top],
		start:   start,
		end:     start + mm.PageRoundUp(length, granule(options&MapHugePage != 0)),
		length:  length,
		options: options,
		users:   1,
		valid:   true,
	}

	return r, nil
}

// attach registers an additional user of r.
func (a *regionArena) attach(r *Region) {
	a.lock.Acquire()
	defer a.lock.Release()

	if !r.valid {
		kernel.Violation(errStaleRegion)
	}
	r.users++
}

// detach drops a user of r and returns its slot to the arena when the last
// user is gone. It returns true if the region was released.
func (a *regionArena) detach(r *Region) bool {
	a.lock.Acquire()
	defer a.lock.Release()

	if !r.valid || r.users == 0 {
		kernel.Violation(errRegionUnderflow)
	}

	if r.users--; r.users > 0 {
		return false
	}

	r.valid = false
	a.free[a.top] = r.id
	a.top++
	return true
}

// RegionsInUse returns the number of arena slots currently held by regions.
func RegionsInUse() int {
	arena.lock.Acquire()
	defer arena.lock.Release()
	return MaxRegions - arena.top
}
