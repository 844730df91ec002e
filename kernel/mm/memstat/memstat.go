// Package memstat keeps the system-wide memory counters. The counters are
// mutated by the frame allocator and the fault path and are only read for
// diagnostics.
package memstat

import (
	"rvos/kernel"
	"rvos/kernel/kfmt"
	"rvos/kernel/sync"
)

// Stats is a point-in-time copy of the memory counters.
type Stats struct {
	// FreeFrames is the number of regular frames that can still be
	// handed out (frames inside allocated-whole huge frames excluded).
	FreeFrames uint64

	// Used4K is the number of regular frames currently allocated.
	Used4K uint64

	// Used2M is the number of huge frames currently allocated.
	Used2M uint64

	// PageFaults is the number of page faults serviced so far.
	PageFaults uint64
}

// Query selects a counter returned by Kcall.
type Query uint8

// The queries supported by Kcall.
const (
	KcFreeMem Query = iota
	KcUsed4K
	KcUsed2M
	KcPageFaults
)

var (
	lock  sync.Spinlock
	stats Stats

	errUnknownQuery = &kernel.Error{Module: "memstat", Message: "unknown kcall query"}
	errUnderflow    = &kernel.Error{Module: "memstat", Message: "counter underflow"}
)

// Reset sets all counters to the supplied free frame count and zero usage.
func Reset(freeFrames uint64) {
	lock.Acquire()
	stats = Stats{FreeFrames: freeFrames}
	lock.Release()
}

// Snapshot returns a copy of the current counters.
func Snapshot() Stats {
	lock.Acquire()
	defer lock.Release()
	return stats
}

// Kcall returns the value of the counter selected by q.
func Kcall(q Query) (uint64, *kernel.Error) {
	s := Snapshot()
	switch q {
	case KcFreeMem:
		return s.FreeFrames, nil
	case KcUsed4K:
		return s.Used4K, nil
	case KcUsed2M:
		return s.Used2M, nil
	case KcPageFaults:
		return s.PageFaults, nil
	}
	return 0, errUnknownQuery
}

// FramesAllocated records the allocation of count regular frames.
func FramesAllocated(count uint64) {
	lock.Acquire()
	if stats.FreeFrames < count {
		lock.Release()
		kernel.Violation(errUnderflow)
	}
	stats.FreeFrames -= count
	stats.Used4K += count
	lock.Release()
}

// FramesFreed records the release of count regular frames.
func FramesFreed(count uint64) {
	lock.Acquire()
	if stats.Used4K < count {
		lock.Release()
		kernel.Violation(errUnderflow)
	}
	stats.FreeFrames += count
	stats.Used4K -= count
	lock.Release()
}

// HugeFrameAllocated records the allocation of a huge frame made up of
// framesPerHuge regular frames.
func HugeFrameAllocated(framesPerHuge uint64) {
	lock.Acquire()
	if stats.FreeFrames < framesPerHuge {
		lock.Release()
		kernel.Violation(errUnderflow)
	}
	stats.FreeFrames -= framesPerHuge
	stats.Used2M++
	lock.Release()
}

// HugeFrameFreed records the release of a huge frame made up of
// framesPerHuge regular frames.
func HugeFrameFreed(framesPerHuge uint64) {
	lock.Acquire()
	if stats.Used2M == 0 {
		lock.Release()
		kernel.Violation(errUnderflow)
	}
	stats.FreeFrames += framesPerHuge
	stats.Used2M--
	lock.Release()
}

// ReservedFrames records count frames that are permanently in use (for
// example the kernel image) without passing through an allocator.
func ReservedFrames(count uint64) {
	lock.Acquire()
	stats.Used4K += count
	lock.Release()
}

// PageFault records a serviced page fault.
func PageFault() {
	lock.Acquire()
	stats.PageFaults++
	lock.Release()
}

// Print logs the current counters.
func Print() {
	s := Snapshot()
	kfmt.Printf("[memstat] free frames: %d, used 4K: %d, used 2M: %d, page faults: %d\n",
		s.FreeFrames, s.Used4K, s.Used2M, s.PageFaults)
}
