package mm

import "rvos/kernel"

// FrameAllocator is implemented by physical frame allocators. Regular frames
// are PageSize bytes; huge frames are HugePageSize bytes and are identified by
// their first constituent frame.
type FrameAllocator interface {
	AllocFrame() (Frame, *kernel.Error)
	FreeFrame(Frame)
	AllocHugeFrame() (Frame, *kernel.Error)
	FreeHugeFrame(Frame)
}

var (
	// frameAllocator points to the frame allocator registered using
	// SetFrameAllocator.
	frameAllocator FrameAllocator

	errNoFrameAllocator = &kernel.Error{Module: "mm", Message: "no frame allocator registered"}
)

// SetFrameAllocator registers the frame allocator that will be used by the vmm
// code when new physical frames need to be allocated or released.
func SetFrameAllocator(alloc FrameAllocator) { frameAllocator = alloc }

// AllocFrame allocates a new physical frame using the currently active
// physical frame allocator.
func AllocFrame() (Frame, *kernel.Error) {
	if frameAllocator == nil {
		return InvalidFrame, errNoFrameAllocator
	}
	return frameAllocator.AllocFrame()
}

// FreeFrame returns a frame obtained by AllocFrame to the active allocator.
func FreeFrame(f Frame) {
	if frameAllocator == nil {
		kernel.Violation(errNoFrameAllocator)
	}
	frameAllocator.FreeFrame(f)
}

// AllocHugeFrame allocates a new huge frame using the currently active
// physical frame allocator.
func AllocHugeFrame() (Frame, *kernel.Error) {
	if frameAllocator == nil {
		return InvalidFrame, errNoFrameAllocator
	}
	return frameAllocator.AllocHugeFrame()
}

// FreeHugeFrame returns a frame obtained by AllocHugeFrame to the active
// allocator.
func FreeHugeFrame(f Frame) {
	if frameAllocator == nil {
		kernel.Violation(errNoFrameAllocator)
	}
	frameAllocator.FreeHugeFrame(f)
}

// AllocFrameOfSize allocates a huge frame if huge is true or a regular frame
// otherwise.
func AllocFrameOfSize(huge bool) (Frame, *kernel.Error) {
	if huge {
		return AllocHugeFrame()
	}
	return AllocFrame()
}

// FreeFrameOfSize releases a frame obtained by AllocFrameOfSize.
func FreeFrameOfSize(f Frame, huge bool) {
	if huge {
		FreeHugeFrame(f)
		return
	}
	FreeFrame(f)
}
