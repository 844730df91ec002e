package vmm

import "rvos/kernel/mm"

// PageTableEntryFlag describes a flag that can be applied to a page table entry.
type PageTableEntryFlag uint64

// Sv39 page table entry flags.
const (
	FlagValid PageTableEntryFlag = 1 << iota
	FlagRead
	FlagWrite
	FlagExec
	FlagUser
	FlagGlobal
	FlagAccessed
	FlagDirty

	// FlagShared uses the first software-reserved bit to mark leaves
	// that belong to a shared mapping.
	FlagShared

	// flagMask covers every flag bit of an entry.
	flagMask = PageTableEntryFlag(1<<ptePhysPageShift) - 1

	// leafFlags are the permission bits that turn an entry into a leaf.
	leafFlags = FlagRead | FlagWrite | FlagExec
)

// PageTableEntry describes a Sv39 page table entry. These entries encode a
// physical page number in bits 10-53 and a set of flags in bits 0-9.
type PageTableEntry uint64

// HasFlags returns true if this entry has all the input flags set.
func (pte PageTableEntry) HasFlags(flags PageTableEntryFlag) bool {
	return (uint64(pte) & uint64(flags)) == uint64(flags)
}

// HasAnyFlag returns true if this entry has at least one of the input flags set.
func (pte PageTableEntry) HasAnyFlag(flags PageTableEntryFlag) bool {
	return (uint64(pte) & uint64(flags)) != 0
}

// SetFlags sets the input list of flags to the page table entry.
func (pte *PageTableEntry) SetFlags(flags PageTableEntryFlag) {
	*pte = (PageTableEntry)(uint64(*pte) | uint64(flags))
}

// ClearFlags unsets the input list of flags from the page table entry.
func (pte *PageTableEntry) ClearFlags(flags PageTableEntryFlag) {
	*pte = (PageTableEntry)(uint64(*pte) &^ uint64(flags))
}

// Flags returns the flag bits of the entry.
func (pte PageTableEntry) Flags() PageTableEntryFlag {
	return PageTableEntryFlag(pte) & flagMask
}

// Valid returns true if the entry is marked valid.
func (pte PageTableEntry) Valid() bool {
	return pte.HasFlags(FlagValid)
}

// IsLeaf returns true if this is a valid entry that terminates the walk.
func (pte PageTableEntry) IsLeaf() bool {
	return pte.Valid() && pte.HasAnyFlag(leafFlags)
}

// IsTable returns true if this is a valid entry pointing to the next level.
func (pte PageTableEntry) IsTable() bool {
	return pte.Valid() && !pte.HasAnyFlag(leafFlags)
}

// Frame returns the physical page frame that this page table entry points to.
func (pte PageTableEntry) Frame() mm.Frame {
	return mm.Frame((uint64(pte) & ptePhysPageMask) >> ptePhysPageShift)
}

// SetFrame updates the page table entry to point to the given physical frame.
func (pte *PageTableEntry) SetFrame(frame mm.Frame) {
	*pte = (PageTableEntry)((uint64(*pte) &^ ptePhysPageMask) | (uint64(frame)<<ptePhysPageShift)&ptePhysPageMask)
}

// MakeEntry returns an entry pointing to frame with the supplied flags.
func MakeEntry(frame mm.Frame, flags PageTableEntryFlag) PageTableEntry {
	var pte PageTableEntry
	pte.SetFrame(frame)
	pte.SetFlags(flags)
	return pte
}
