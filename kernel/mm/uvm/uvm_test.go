package uvm

import (
	"testing"
	"unsafe"

	"rvos/kernel"
	"rvos/kernel/hal/physmem"
	"rvos/kernel/mm"
	"rvos/kernel/mm/memstat"
	"rvos/kernel/mm/pmm"
	"rvos/kernel/mm/vmm"
)

const testPhysBase = uintptr(0x80000000)

var errTestOutOfFrames = &kernel.Error{Module: "test", Message: "out of frames"}

// setupUVM boots the memory core on hugeFrames huge frames of RAM.
func setupUVM(t *testing.T, hugeFrames int) {
	t.Helper()

	region, err := physmem.Map(testPhysBase, mm.Size(uintptr(hugeFrames)*mm.HugePageSize))
	if err != nil {
		t.Fatal(err)
	}
	region.Install()
	t.Cleanup(func() {
		vmm.ReservedZeroedFrame = mm.InvalidFrame
		mm.SetFrameAllocator(nil)
		mm.SetDirectMap(0, 0, 0)
		memstat.Reset(0)
		_ = region.Unmap()
	})

	if err := pmm.Init(testPhysBase, region.PhysTop, testPhysBase); err != nil {
		t.Fatal(err)
	}
	if err := vmm.Init(); err != nil {
		t.Fatal(err)
	}
	Init(testPhysBase, region.PhysTop)
}

// limitedAllocator serves up to remaining frames of either size from pmm and
// fails afterwards.
type limitedAllocator struct {
	remaining int
}

func (a *limitedAllocator) take() bool {
	if a.remaining == 0 {
		return false
	}
	a.remaining--
	return true
}

func (a *limitedAllocator) AllocFrame() (mm.Frame, *kernel.Error) {
	if !a.take() {
		return mm.InvalidFrame, errTestOutOfFrames
	}
	return pmm.AllocFrame()
}

func (a *limitedAllocator) AllocHugeFrame() (mm.Frame, *kernel.Error) {
	if !a.take() {
		return mm.InvalidFrame, errTestOutOfFrames
	}
	return pmm.AllocHugeFrame()
}

func (a *limitedAllocator) FreeFrame(f mm.Frame)     { pmm.FreeFrame(f) }
func (a *limitedAllocator) FreeHugeFrame(f mm.Frame) { pmm.FreeHugeFrame(f) }

// limitAllocations makes the mm hooks fail after count allocations.
func limitAllocations(t *testing.T, count int) {
	mm.SetFrameAllocator(&limitedAllocator{remaining: count})
	t.Cleanup(func() { mm.SetFrameAllocator(pmm.FrameAllocator()) })
}

func newSpace(t *testing.T) *AddressSpace {
	t.Helper()

	as, err := NewAddressSpace()
	if err != nil {
		t.Fatal(err)
	}
	return as
}

func mustMap(t *testing.T, as *AddressSpace, addr, length uintptr, prot, flags MapOption) {
	t.Helper()

	if got, err := Map(as, addr, length, prot, flags); err != nil || got != addr {
		t.Fatalf("expected Map(0x%x) to succeed; got 0x%x, %v", addr, got, err)
	}
}

// access performs a user access the way the trap path does: translate,
// handle the fault and retry once.
func access(as *AddressSpace, va uintptr, isStore bool) (uintptr, *kernel.Error) {
	accessType := vmm.AccessLoad
	if isStore {
		accessType = vmm.AccessStore
	}

	physAddr, err := as.PageTable().Translate(va, accessType)
	if err == nil {
		return physAddr, nil
	}

	if err = HandleFault(as, va, isStore); err != nil {
		return 0, err
	}

	return as.PageTable().Translate(va, accessType)
}

func load32(t *testing.T, as *AddressSpace, va uintptr) uint32 {
	t.Helper()

	physAddr, err := access(as, va, false)
	if err != nil {
		t.Fatalf("load from 0x%x failed: %v", va, err)
	}
	return *(*uint32)(unsafe.Pointer(mm.DirectMap(physAddr)))
}

func store32(t *testing.T, as *AddressSpace, va uintptr, value uint32) {
	t.Helper()

	physAddr, err := access(as, va, true)
	if err != nil {
		t.Fatalf("store to 0x%x failed: %v", va, err)
	}
	*(*uint32)(unsafe.Pointer(mm.DirectMap(physAddr))) = value
}

func used4K() uint64 { return memstat.Snapshot().Used4K }
func used2M() uint64 { return memstat.Snapshot().Used2M }
