// Package mm defines the frame and page abstractions shared by the physical
// and virtual memory managers together with the hooks used to reach the
// active frame allocator and the direct map of physical RAM.
package mm

import (
	"math"
)

// Frame describes a physical memory page index. Huge frames are identified by
// the index of their first constituent frame.
type Frame uintptr

const (
	// InvalidFrame is returned by page allocators when
	// they fail to reserve the requested frame.
	InvalidFrame = Frame(math.MaxUint64)
)

// Valid returns true if this is a valid frame.
func (f Frame) Valid() bool {
	return f != InvalidFrame
}

// Address returns a pointer to the physical memory address pointed to by this Frame.
func (f Frame) Address() uintptr {
	return uintptr(f << PageShift)
}

// HugeAligned returns true if the frame can serve as the first frame of a
// huge frame.
func (f Frame) HugeAligned() bool {
	return f.Address()&(HugePageSize-1) == 0
}

// FrameFromAddress returns a Frame that corresponds to
// the given physical address. This function can handle
// both page-aligned and not aligned addresses. in the
// latter case, the input address will be rounded down
// to the frame that contains it.
func FrameFromAddress(physAddr uintptr) Frame {
	return Frame((physAddr & ^(uintptr(PageSize - 1))) >> PageShift)
}

// Page describes a virtual memory page index.
type Page uintptr

// Address returns a pointer to the virtual memory address pointed to by this Page.
func (p Page) Address() uintptr {
	return uintptr(p << PageShift)
}

// PageFromAddress returns a Page that corresponds to the given virtual
// address. This function can handle both page-aligned and not aligned virtual
// addresses. in the latter case, the input address will be rounded down to the
// page that contains it.
func PageFromAddress(virtAddr uintptr) Page {
	return Page((virtAddr & ^(uintptr(PageSize - 1))) >> PageShift)
}

// PageRoundUp rounds addr up to the next multiple of pageSize which must be a
// power of two.
func PageRoundUp(addr, pageSize uintptr) uintptr {
	return (addr + pageSize - 1) &^ (pageSize - 1)
}

// PageRoundDown rounds addr down to a multiple of pageSize which must be a
// power of two.
func PageRoundDown(addr, pageSize uintptr) uintptr {
	return addr &^ (pageSize - 1)
}
