// Package kmain boots the memory core.
package kmain

import (
	"rvos/kernel"
	"rvos/kernel/hal/physmem"
	"rvos/kernel/kfmt"
	"rvos/kernel/mm"
	"rvos/kernel/mm/memstat"
	"rvos/kernel/mm/pmm"
	"rvos/kernel/mm/uvm"
	"rvos/kernel/mm/vmm"
)

var (
	// violationHandler is installed as the invariant violation handler
	// by Boot. The default (nil) unwinds the violating goroutine.
	violationHandler func(*kernel.Error)

	errKernelTooLarge = &kernel.Error{Module: "kmain", Message: "kernel image does not fit in RAM"}
)

// Config describes the machine the core boots on.
type Config struct {
	// RAMBase is the physical address of the first byte of RAM. It
	// must be aligned to mm.HugePageSize.
	RAMBase uintptr

	// RAMSize is the amount of RAM. It must be a multiple of
	// mm.HugePageSize.
	RAMSize mm.Size

	// KernelReserved is the size of the kernel image loaded at
	// RAMBase. Its frames are never handed out.
	KernelReserved mm.Size
}

// DefaultConfig returns the layout of the QEMU virt machine: 128M of RAM at
// 0x80000000 with a 1M kernel image.
func DefaultConfig() Config {
	return Config{
		RAMBase:        0x80000000,
		RAMSize:        128 * mm.Mb,
		KernelReserved: 1 * mm.Mb,
	}
}

// Boot maps the RAM described by cfg and initializes the frame allocator,
// the zero frame and the mapping layer on top of it.
func Boot(cfg Config) (*physmem.Region, *kernel.Error) {
	if cfg.KernelReserved >= cfg.RAMSize {
		return nil, errKernelTooLarge
	}

	ram, err := physmem.Map(cfg.RAMBase, cfg.RAMSize)
	if err != nil {
		return nil, err
	}
	ram.Install()

	kernelEnd := ram.PhysBase + mm.PageRoundUp(uintptr(cfg.KernelReserved), mm.PageSize)
	if err = pmm.Init(ram.PhysBase, ram.PhysTop, kernelEnd); err == nil {
		err = vmm.Init()
	}
	if err != nil {
		Shutdown(ram)
		return nil, err
	}

	uvm.Init(ram.PhysBase, ram.PhysTop)
	kernel.SetViolationHandler(violationHandler)

	memstat.Print()
	return ram, nil
}

// Shutdown detaches the memory core from ram and releases it.
func Shutdown(ram *physmem.Region) {
	kernel.SetViolationHandler(nil)
	vmm.ReservedZeroedFrame = mm.InvalidFrame
	mm.SetFrameAllocator(nil)
	mm.SetDirectMap(0, 0, 0)

	if err := ram.Unmap(); err != nil {
		kfmt.Printf("[kmain] %s\n", err.Message)
	}
}
