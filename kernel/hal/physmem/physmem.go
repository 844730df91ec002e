// Package physmem provides the single contiguous physical memory region the
// rest of the kernel manages. The region is backed by an anonymous host
// mapping so page tables and frame contents live in real memory and can be
// dereferenced through the direct map.
package physmem

import (
	"unsafe"

	"golang.org/x/sys/unix"

	"rvos/kernel"
	"rvos/kernel/kfmt"
	"rvos/kernel/mm"
)

var (
	// the following functions are mocked by tests.
	mmapFn       = unix.Mmap
	munmapFn     = unix.Munmap
	pageSizeFn   = unix.Getpagesize
	adviseHugeFn = adviseHugePages

	errBadSize      = &kernel.Error{Module: "physmem", Message: "RAM size must be a non-zero multiple of the huge page size"}
	errHostPageSize = &kernel.Error{Module: "physmem", Message: "host page size does not divide the huge page size"}
	errMapFailed    = &kernel.Error{Module: "physmem", Message: "could not reserve host memory for RAM"}
	errUnmapFailed  = &kernel.Error{Module: "physmem", Message: "could not release host memory backing RAM"}
)

// Region describes the RAM region handed to the frame allocator. PhysBase and
// PhysTop are physical addresses; host memory backing the region is reachable
// via mm.DirectMap once the region is installed.
type Region struct {
	PhysBase uintptr
	PhysTop  uintptr

	mem []byte
}

// Size returns the region size in bytes.
func (r *Region) Size() mm.Size {
	return mm.Size(r.PhysTop - r.PhysBase)
}

// HostBase returns the host address that corresponds to PhysBase.
func (r *Region) HostBase() uintptr {
	if len(r.mem) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&r.mem[0]))
}

// Map reserves size bytes of host memory and returns a Region that spans the
// physical range [physBase, physBase+size). Both physBase and size must be
// aligned to the huge page size.
func Map(physBase uintptr, size mm.Size) (*Region, *kernel.Error) {
	if size == 0 || uintptr(size)&(mm.HugePageSize-1) != 0 || physBase&(mm.HugePageSize-1) != 0 {
		return nil, errBadSize
	}

	if hostPage := pageSizeFn(); hostPage <= 0 || mm.HugePageSize%uintptr(hostPage) != 0 {
		return nil, errHostPageSize
	}

	// Over-allocate by one huge page so the backing store can be aligned
	// to the huge page size; frame contents then never straddle a host
	// huge page.
	mem, err := mmapFn(-1, 0, int(size)+int(mm.HugePageSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		kfmt.Printf("[physmem] mmap failed: %s\n", err.Error())
		return nil, errMapFailed
	}

	region := &Region{
		PhysBase: physBase,
		PhysTop:  physBase + uintptr(size),
		mem:      mem,
	}

	adviseHugeFn(region.aligned())

	kfmt.Printf("[physmem] RAM: [0x%x - 0x%x], size: %dKb, host: 0x%x\n",
		region.PhysBase, region.PhysTop-1, uint64(size/mm.Kb), region.alignedBase())

	return region, nil
}

// Install publishes the region through the mm direct map so that physical
// addresses inside the region can be dereferenced.
func (r *Region) Install() {
	mm.SetDirectMap(r.PhysBase, r.alignedBase(), uintptr(r.Size()))
}

// Unmap releases the host memory backing the region. The region must not be
// used afterwards.
func (r *Region) Unmap() *kernel.Error {
	if r.mem == nil {
		return nil
	}

	if err := munmapFn(r.mem); err != nil {
		kfmt.Printf("[physmem] munmap failed: %s\n", err.Error())
		return errUnmapFailed
	}

	r.mem = nil
	return nil
}

func (r *Region) alignedBase() uintptr {
	host := r.HostBase()
	return (host + mm.HugePageSize - 1) &^ (mm.HugePageSize - 1)
}

// aligned returns the huge-page aligned window of the backing store that is
// used as RAM.
func (r *Region) aligned() []byte {
	offset := r.alignedBase() - r.HostBase()
	return r.mem[offset : offset+uintptr(r.Size())]
}
