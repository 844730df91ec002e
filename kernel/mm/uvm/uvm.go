// Package uvm manages the user mappings of an address space: regions created
// by Map, their lazy backing by the reserved zero frame, the page fault path
// that replaces it with private or shared frames, inheritance of mappings by
// duplicated address spaces and the registry that deduplicates the frames of
// shared regions.
package uvm

import (
	"rvos/kernel/kfmt"
	"rvos/kernel/mm"
)

// Init prepares the region arena and the shared-frame registry for the RAM
// range [physBase, physTop). Any state left from a previous boot is dropped.
func Init(physBase, physTop uintptr) {
	arena.reset()
	registry.reset(physBase, physTop)

	kfmt.Printf("[uvm] region slots: %d, shared-frame records: %d\n", MaxRegions, len(registry.records))
}

// granule returns the size of a page of the requested granularity.
func granule(huge bool) uintptr {
	if huge {
		return mm.HugePageSize
	}
	return mm.PageSize
}
