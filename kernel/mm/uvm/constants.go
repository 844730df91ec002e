package uvm

import "rvos/kernel/mm"

// MapOption describes the protection and flag bits accepted by Map.
type MapOption uint32

// Protection bits. ProtWrite implies ProtRead.
const (
	ProtRead  MapOption = 0x1
	ProtWrite MapOption = 0x2
)

// Mapping flags. A mapping is shared if MapShared is set; MapPrivate is
// accepted for compatibility and is otherwise the default. MapHugePage
// selects 2M pages.
const (
	MapShared   MapOption = 0x10
	MapPrivate  MapOption = 0x20
	MapHugePage MapOption = 0x100
)

// String returns the protection bits in "rw" form followed by the sharing
// mode and, for 2M mappings, "huge".
func (o MapOption) String() string {
	prot := []byte("--")
	if o&ProtRead != 0 {
		prot[0] = 'r'
	}
	if o&ProtWrite != 0 {
		prot[1] = 'w'
	}

	str := string(prot) + " private"
	if o&MapShared != 0 {
		str = string(prot) + " shared"
	}
	if o&MapHugePage != 0 {
		str += " huge"
	}
	return str
}

const (
	// MaxMapSize is the largest length accepted by Map.
	MaxMapSize = uintptr(64 * mm.Mb)

	// MaxRegionsPerSpace is the number of mappings an address space can
	// hold at the same time.
	MaxRegionsPerSpace = 4

	// MaxRegions is the number of mappings that can exist system-wide.
	MaxRegions = 64
)
