package pmm

import (
	"unsafe"

	"rvos/kernel"
	"rvos/kernel/kfmt"
	"rvos/kernel/mm"
	"rvos/kernel/mm/memstat"
	"rvos/kernel/sync"
)

const (
	// allocJunk is written over every frame handed out by the allocator.
	allocJunk = byte(0x05)

	// freeJunk is written over every frame returned to the allocator.
	freeJunk = byte(0x01)

	framesPerHuge = uint32(mm.FramesPerHugeFrame)
)

var (
	// scanDoneFn is invoked by AllocFrame after a scan picks a whole-free
	// candidate and before its lock is re-acquired. It is mocked by tests.
	scanDoneFn = func() {}

	// ErrOutOfMemory is returned when no frame of the requested size
	// can be served.
	ErrOutOfMemory = &kernel.Error{Module: "pmm", Message: "out of memory"}

	errBadRange          = &kernel.Error{Module: "pmm", Message: "RAM range must be non-empty and huge-page aligned"}
	errFreeMisaligned    = &kernel.Error{Module: "pmm", Message: "freed address is not aligned to the frame size"}
	errFreeOutOfRange    = &kernel.Error{Module: "pmm", Message: "freed frame is outside the managed range"}
	errDoubleFree        = &kernel.Error{Module: "pmm", Message: "freed frame is not allocated"}
	errAllocatedWhole    = &kernel.Error{Module: "pmm", Message: "free list of an allocated-whole huge frame touched"}
	errHugeNotAllocated  = &kernel.Error{Module: "pmm", Message: "freed huge frame is not allocated"}
	errCorruptedFreeList = &kernel.Error{Module: "pmm", Message: "free list entry is already in use"}
)

// hugeFrameDescriptor tracks the state of one huge-page aligned region of
// RAM. While the region is not allocated whole its free constituent frames
// are chained together through their first word; a zero link ends the list.
type hugeFrameDescriptor struct {
	lock sync.Spinlock

	// freeList is the physical address of the first free frame.
	freeList uintptr

	// freeCount tracks the number of frames in freeList.
	freeCount uint32

	// allocatedWhole is set while the region is granted as a huge frame.
	allocatedWhole bool

	// inUse has one bit per constituent frame which is set while the
	// frame is allocated (or reserved by the kernel image).
	inUse [mm.FramesPerHugeFrame / 64]uint64
}

// wholeFree returns true if the region can be granted as a huge frame.
// Callers must hold the descriptor lock.
func (d *hugeFrameDescriptor) wholeFree() bool {
	return !d.allocatedWhole && d.freeCount == framesPerHuge
}

func (d *hugeFrameDescriptor) markInUse(index uint32, inUse bool) {
	block, mask := index>>6, uint64(1)<<(index&63)
	if inUse {
		d.inUse[block] |= mask
		return
	}
	d.inUse[block] &^= mask
}

func (d *hugeFrameDescriptor) isInUse(index uint32) bool {
	return d.inUse[index>>6]&(uint64(1)<<(index&63)) != 0
}

// push links the frame at physAddr onto the free list. Callers must hold the
// descriptor lock.
func (d *hugeFrameDescriptor) push(physAddr uintptr) {
	*(*uintptr)(unsafe.Pointer(mm.DirectMap(physAddr))) = d.freeList
	d.freeList = physAddr
	d.freeCount++
}

// pop unlinks the first frame of the free list and returns its physical
// address or 0 if the list is empty. Callers must hold the descriptor lock.
func (d *hugeFrameDescriptor) pop(base uintptr) uintptr {
	if d.allocatedWhole {
		d.lock.Release()
		kernel.Violation(errAllocatedWhole)
	}

	physAddr := d.freeList
	if physAddr == 0 {
		return 0
	}

	index := uint32((physAddr - base) >> mm.PageShift)
	if d.isInUse(index) {
		d.lock.Release()
		kernel.Violation(errCorruptedFreeList)
	}

	d.freeList = *(*uintptr)(unsafe.Pointer(mm.DirectMap(physAddr)))
	d.freeCount--
	d.markInUse(index, true)
	return physAddr
}

// HugeFrameAllocator implements a physical frame allocator that serves both
// regular and huge frames out of a single contiguous RAM region. Regular
// frames are carved out of huge frames lazily: a huge frame is only split
// when no already-split huge frame has a free frame left.
type HugeFrameAllocator struct {
	// physBase and physTop delimit the managed RAM. Both are huge-page
	// aligned.
	physBase, physTop uintptr

	// kernelEnd is the first address past the kernel image. Frames below
	// it are never handed out or accepted back.
	kernelEnd uintptr

	descriptors []hugeFrameDescriptor
}

// Init sets up the allocator to manage RAM in [physBase, physTop). Frames in
// [physBase, kernelEnd) hold the kernel image and are permanently reserved;
// every other frame is placed on the free list of its huge frame.
func (alloc *HugeFrameAllocator) Init(physBase, physTop, kernelEnd uintptr) *kernel.Error {
	if physBase == 0 || physTop <= physBase ||
		physBase&(mm.HugePageSize-1) != 0 || physTop&(mm.HugePageSize-1) != 0 ||
		kernelEnd < physBase || kernelEnd > physTop {
		return errBadRange
	}

	alloc.physBase = physBase
	alloc.physTop = physTop
	alloc.kernelEnd = mm.PageRoundUp(kernelEnd, mm.PageSize)
	alloc.descriptors = make([]hugeFrameDescriptor, (physTop-physBase)>>mm.HugePageShift)

	var freeFrames, reservedFrames uint64
	for i := range alloc.descriptors {
		d := &alloc.descriptors[i]
		hugeBase := alloc.hugeBase(i)

		// Push in reverse so that frames are handed out in ascending
		// address order.
		for index := framesPerHuge; index > 0; index-- {
			physAddr := hugeBase + uintptr(index-1)<<mm.PageShift
			if physAddr < alloc.kernelEnd {
				d.markInUse(index-1, true)
				reservedFrames++
				continue
			}

			kernel.Memset(mm.DirectMap(physAddr), freeJunk, mm.PageSize)
			d.push(physAddr)
			freeFrames++
		}
	}

	memstat.Reset(freeFrames)
	memstat.ReservedFrames(reservedFrames)

	kfmt.Printf("[pmm] huge frames: %d, free frames: %d, reserved frames: %d\n",
		len(alloc.descriptors), freeFrames, reservedFrames)
	return nil
}

// AllocFrame reserves and returns a regular frame. Already-split huge frames
// are preferred; if none has a free frame left, the first whole-free huge
// frame is split. The returned frame is filled with junk.
func (alloc *HugeFrameAllocator) AllocFrame() (mm.Frame, *kernel.Error) {
	for {
		candidate := -1

		for i := range alloc.descriptors {
			d := &alloc.descriptors[i]

			d.lock.Acquire()
			switch {
			case d.allocatedWhole:
			case d.freeCount == framesPerHuge:
				if candidate == -1 {
					candidate = i
				}
			case d.freeCount > 0:
				physAddr := d.pop(alloc.hugeBase(i))
				d.lock.Release()
				return alloc.served(physAddr), nil
			}
			d.lock.Release()
		}

		if candidate == -1 {
			return mm.InvalidFrame, ErrOutOfMemory
		}

		scanDoneFn()

		// The candidate lock was dropped after the scan; another
		// allocation may have claimed or split it in the meantime.
		d := &alloc.descriptors[candidate]
		d.lock.Acquire()
		if !d.allocatedWhole && d.freeCount > 0 {
			physAddr := d.pop(alloc.hugeBase(candidate))
			d.lock.Release()
			return alloc.served(physAddr), nil
		}
		d.lock.Release()
	}
}

func (alloc *HugeFrameAllocator) served(physAddr uintptr) mm.Frame {
	kernel.Memset(mm.DirectMap(physAddr), allocJunk, mm.PageSize)
	memstat.FramesAllocated(1)
	return mm.FrameFromAddress(physAddr)
}

// FreeFrame returns a frame obtained by AllocFrame. Freeing a frame outside
// the managed range, inside an allocated-whole huge frame or one that is not
// currently allocated is an invariant violation.
func (alloc *HugeFrameAllocator) FreeFrame(frame mm.Frame) {
	physAddr := frame.Address()
	if !frame.Valid() || physAddr < alloc.kernelEnd || physAddr >= alloc.physTop {
		kernel.Violation(errFreeOutOfRange)
	}

	i := alloc.descriptorIndex(physAddr)
	d := &alloc.descriptors[i]
	index := uint32((physAddr - alloc.hugeBase(i)) >> mm.PageShift)

	d.lock.Acquire()
	if d.allocatedWhole {
		d.lock.Release()
		kernel.Violation(errAllocatedWhole)
	}
	if !d.isInUse(index) {
		d.lock.Release()
		kernel.Violation(errDoubleFree)
	}

	kernel.Memset(mm.DirectMap(physAddr), freeJunk, mm.PageSize)
	d.markInUse(index, false)
	d.push(physAddr)
	d.lock.Release()

	memstat.FramesFreed(1)
}

// AllocHugeFrame reserves the first whole-free huge frame and returns its
// first constituent frame. The returned memory is filled with junk.
func (alloc *HugeFrameAllocator) AllocHugeFrame() (mm.Frame, *kernel.Error) {
	for i := range alloc.descriptors {
		d := &alloc.descriptors[i]

		d.lock.Acquire()
		if d.wholeFree() {
			d.allocatedWhole = true
			d.lock.Release()

			physAddr := alloc.hugeBase(i)
			kernel.Memset(mm.DirectMap(physAddr), allocJunk, mm.HugePageSize)
			memstat.HugeFrameAllocated(uint64(framesPerHuge))
			return mm.FrameFromAddress(physAddr), nil
		}
		d.lock.Release()
	}

	return mm.InvalidFrame, ErrOutOfMemory
}

// FreeHugeFrame returns a huge frame obtained by AllocHugeFrame. Freeing a
// misaligned frame, a frame outside the managed range or a huge frame that is
// not allocated whole is an invariant violation.
func (alloc *HugeFrameAllocator) FreeHugeFrame(frame mm.Frame) {
	physAddr := frame.Address()
	if !frame.Valid() || !frame.HugeAligned() {
		kernel.Violation(errFreeMisaligned)
	}
	if physAddr < alloc.kernelEnd || physAddr >= alloc.physTop {
		kernel.Violation(errFreeOutOfRange)
	}

	d := &alloc.descriptors[alloc.descriptorIndex(physAddr)]

	d.lock.Acquire()
	if !d.allocatedWhole {
		d.lock.Release()
		kernel.Violation(errHugeNotAllocated)
	}

	// The junk fill wipes the free list links so the list is rebuilt
	// from scratch.
	kernel.Memset(mm.DirectMap(physAddr), freeJunk, mm.HugePageSize)
	d.freeList, d.freeCount = 0, 0
	for index := framesPerHuge; index > 0; index-- {
		d.push(physAddr + uintptr(index-1)<<mm.PageShift)
	}
	d.allocatedWhole = false
	d.lock.Release()

	memstat.HugeFrameFreed(uint64(framesPerHuge))
}

// TotalFrames returns the number of regular frames in the managed range.
func (alloc *HugeFrameAllocator) TotalFrames() uint64 {
	return uint64(len(alloc.descriptors)) * uint64(framesPerHuge)
}

func (alloc *HugeFrameAllocator) hugeBase(index int) uintptr {
	return alloc.physBase + uintptr(index)<<mm.HugePageShift
}

func (alloc *HugeFrameAllocator) descriptorIndex(physAddr uintptr) int {
	return int((physAddr - alloc.physBase) >> mm.HugePageShift)
}
