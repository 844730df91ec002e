package uvm

import (
	"rvos/kernel"
	"rvos/kernel/mm"
	"rvos/kernel/mm/vmm"
	"rvos/kernel/sync"
)

var (
	errRecordInUse       = &kernel.Error{Module: "uvm", Message: "shared frame already bound to another region offset"}
	errRecordOutOfRange  = &kernel.Error{Module: "uvm", Message: "shared frame outside of RAM"}
	errRegistryUnderflow = &kernel.Error{Module: "uvm", Message: "releasing a shared frame without references"}
)

// Binding describes the frame that serves an offset of a shared region.
type Binding struct {
	// Region and Offset identify the shared page. Offset is relative to
	// the region start and aligned to the region page size.
	Region *Region
	Offset uintptr

	// Entry is the leaf installed by the first address space that
	// touched the page. Every other sharer installs it verbatim.
	Entry vmm.PageTableEntry

	// Refs is the number of leaves that currently point to the frame.
	Refs int
}

// sharedRecord is kept for every frame of RAM. A nil binding means that the
// frame does not serve a shared page.
type sharedRecord struct {
	lock    sync.Spinlock
	binding *Binding
}

type bindingKey struct {
	region int
	offset uintptr
}

// sharedRegistry maps (region, offset) pairs to the frames that back them.
// The index lock is held across lookup and publication so that concurrent
// first touches of the same page converge on a single frame.
type sharedRegistry struct {
	lock    sync.Spinlock
	base    mm.Frame
	records []sharedRecord
	index   map[bindingKey]mm.Frame
}

var registry sharedRegistry

func (reg *sharedRegistry) reset(physBase, physTop uintptr) {
	reg.lock.Acquire()
	reg.base = mm.FrameFromAddress(physBase)
	reg.records = make([]sharedRecord, (physTop-physBase)>>mm.PageShift)
	reg.index = make(map[bindingKey]mm.Frame)
	reg.lock.Release()
}

// recordFor returns the record of the supplied frame.
func (reg *sharedRegistry) recordFor(frame mm.Frame) *sharedRecord {
	if frame < reg.base || uint64(frame-reg.base) >= uint64(len(reg.records)) {
		kernel.Violation(errRecordOutOfRange)
	}
	return &reg.records[frame-reg.base]
}

// Lookup returns a copy of the binding for the page at offset within
// region or nil if the page has not been touched yet.
func Lookup(region *Region, offset uintptr) *Binding {
	registry.lock.Acquire()
	defer registry.lock.Release()

	frame, ok := registry.index[bindingKey{region.id, offset}]
	if !ok {
		return nil
	}

	rec := registry.recordFor(frame)
	rec.lock.Acquire()
	binding := *rec.binding
	rec.lock.Release()

	return &binding
}

// PublishOrJoin points leaf to the frame that backs the page at offset
// within region. The first caller for a page allocates a zeroed frame of the
// requested granularity, installs a readable leaf (writable if prot includes
// ProtWrite) and publishes it with a single reference. Later callers install
// the published leaf verbatim and take another reference.
func PublishOrJoin(region *Region, offset uintptr, leaf *vmm.PageTableEntry, prot MapOption, huge bool) *kernel.Error {
	key := bindingKey{region.id, offset}

	registry.lock.Acquire()
	defer registry.lock.Release()

	if frame, ok := registry.index[key]; ok {
		rec := registry.recordFor(frame)
		rec.lock.Acquire()
		*leaf = rec.binding.Entry
		rec.binding.Refs++
		rec.lock.Release()
		return nil
	}

	frame, err := mm.AllocFrameOfSize(huge)
	if err != nil {
		return err
	}
	kernel.Memset(frame.HostAddress(), 0, granule(huge))

	flags := vmm.FlagValid | vmm.FlagUser | vmm.FlagRead | vmm.FlagShared
	if prot&ProtWrite != 0 {
		flags |= vmm.FlagWrite
	}
	entry := vmm.MakeEntry(frame, flags)

	rec := registry.recordFor(frame)
	rec.lock.Acquire()
	if rec.binding != nil {
		rec.lock.Release()
		kernel.Violation(errRecordInUse)
	}
	rec.binding = &Binding{Region: region, Offset: offset, Entry: entry, Refs: 1}
	rec.lock.Release()

	registry.index[key] = frame
	*leaf = entry
	return nil
}

// Release drops a reference to the frame that backs the page at offset
// within region. It returns the frame and true if that was the last
// reference; the binding is removed and the caller must free the frame. If
// the page is not bound, mm.InvalidFrame is returned.
func Release(region *Region, offset uintptr) (mm.Frame, bool) {
	key := bindingKey{region.id, offset}

	registry.lock.Acquire()
	defer registry.lock.Release()

	frame, ok := registry.index[key]
	if !ok {
		return mm.InvalidFrame, false
	}

	rec := registry.recordFor(frame)
	rec.lock.Acquire()
	if rec.binding.Refs <= 0 {
		rec.lock.Release()
		kernel.Violation(errRegistryUnderflow)
	}

	rec.binding.Refs--
	last := rec.binding.Refs == 0
	if last {
		rec.binding = nil
		delete(registry.index, key)
	}
	rec.lock.Release()

	return frame, last
}

// SharedFrames returns the number of frames currently serving shared pages.
func SharedFrames() int {
	registry.lock.Acquire()
	defer registry.lock.Release()
	return len(registry.index)
}
