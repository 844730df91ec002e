package vmm

import (
	"testing"
	"unsafe"

	"rvos/kernel"
	"rvos/kernel/hal/physmem"
	"rvos/kernel/mm"
	"rvos/kernel/mm/memstat"
	"rvos/kernel/mm/pmm"
)

const testPhysBase = uintptr(0x80000000)

var errTestOutOfFrames = &kernel.Error{Module: "test", Message: "out of frames"}

// setupVMM boots the frame allocator on hugeFrames huge frames of RAM and
// reserves the zero frame.
func setupVMM(t *testing.T, hugeFrames int) {
	t.Helper()

	region, err := physmem.Map(testPhysBase, mm.Size(uintptr(hugeFrames)*mm.HugePageSize))
	if err != nil {
		t.Fatal(err)
	}
	region.Install()
	t.Cleanup(func() {
		ReservedZeroedFrame = mm.InvalidFrame
		protectReservedZeroedPage = false
		mm.SetFrameAllocator(nil)
		mm.SetDirectMap(0, 0, 0)
		memstat.Reset(0)
		_ = region.Unmap()
	})

	if err := pmm.Init(testPhysBase, region.PhysTop, testPhysBase); err != nil {
		t.Fatal(err)
	}

	if err := Init(); err != nil {
		t.Fatal(err)
	}
}

// limitedAllocator serves up to remaining regular frames from pmm and fails
// afterwards.
type limitedAllocator struct {
	remaining int
}

func (a *limitedAllocator) AllocFrame() (mm.Frame, *kernel.Error) {
	if a.remaining == 0 {
		return mm.InvalidFrame, errTestOutOfFrames
	}
	a.remaining--
	return pmm.AllocFrame()
}

func (a *limitedAllocator) FreeFrame(f mm.Frame)                      { pmm.FreeFrame(f) }
func (a *limitedAllocator) AllocHugeFrame() (mm.Frame, *kernel.Error) { return pmm.AllocHugeFrame() }
func (a *limitedAllocator) FreeHugeFrame(f mm.Frame)                  { pmm.FreeHugeFrame(f) }

// limitAllocations makes the mm hooks fail after count regular frames.
func limitAllocations(t *testing.T, count int) {
	mm.SetFrameAllocator(&limitedAllocator{remaining: count})
	t.Cleanup(func() { mm.SetFrameAllocator(pmm.FrameAllocator()) })
}

func used4K() uint64 {
	return memstat.Snapshot().Used4K
}

func readUint32(physAddr uintptr) uint32 {
	return *(*uint32)(unsafe.Pointer(mm.DirectMap(physAddr)))
}

func writeUint32(physAddr uintptr, v uint32) {
	*(*uint32)(unsafe.Pointer(mm.DirectMap(physAddr))) = v
}

func TestInit(t *testing.T) {
	setupVMM(t, 2)

	if !ReservedZeroedFrame.Valid() || !ReservedZeroedFrame.HugeAligned() {
		t.Fatalf("expected a huge-aligned zero frame; got 0x%x", ReservedZeroedFrame.Address())
	}

	contents := unsafe.Slice((*byte)(unsafe.Pointer(ReservedZeroedFrame.HostAddress())), mm.HugePageSize)
	for i, b := range contents {
		if b != 0 {
			t.Fatalf("expected zero frame byte %d to be 0; got 0x%x", i, b)
		}
	}

	if got := memstat.Snapshot().Used2M; got != 1 {
		t.Fatalf("expected the zero frame to be accounted as a used huge frame; got %d", got)
	}

	if !protectReservedZeroedPage {
		t.Fatal("expected zero frame to be protected")
	}
}

func TestInitOutOfMemory(t *testing.T) {
	setupVMM(t, 1)

	// The only huge frame is already held by the zero frame.
	if err := Init(); err != pmm.ErrOutOfMemory {
		t.Fatalf("expected ErrOutOfMemory; got %v", err)
	}
}
