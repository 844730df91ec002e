package mm

const (
	// PointerShift is equal to log2(unsafe.Sizeof(uintptr)). The pointer
	// size for this architecture is defined as (1 << PointerShift).
	PointerShift = uintptr(3)

	// PageShift is equal to log2(PageSize). This constant is used when
	// we need to convert a physical address to a page number (shift right by PageShift)
	// and vice-versa.
	PageShift = uintptr(12)

	// PageSize defines the system's page size in bytes.
	PageSize = uintptr(1 << PageShift)

	// HugePageShift is equal to log2(HugePageSize).
	HugePageShift = uintptr(21)

	// HugePageSize defines the size of a huge page (a level-1 leaf).
	HugePageSize = uintptr(1 << HugePageShift)

	// FramesPerHugeFrame is the number of regular frames that make up a
	// huge frame.
	FramesPerHugeFrame = HugePageSize >> PageShift
)

// Size represents a memory block size in bytes.
type Size uint64

// Common memory block sizes.
const (
	Byte Size = 1
	Kb        = 1024 * Byte
	Mb        = 1024 * Kb
	Gb        = 1024 * Mb
)
