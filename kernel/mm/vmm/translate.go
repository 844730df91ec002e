package vmm

import (
	"unsafe"

	"rvos/kernel"
	"rvos/kernel/mm"
)

// AccessType describes the kind of memory access checked by Translate.
type AccessType uint8

// The supported access types.
const (
	AccessLoad AccessType = iota
	AccessStore
)

var (
	// ErrInvalidMapping is returned when trying to lookup a virtual memory
	// address that is not yet mapped.
	ErrInvalidMapping = &kernel.Error{Module: "vmm", Message: "virtual address does not point to a mapped physical page"}

	// ErrProtectionFault is returned by Translate when the leaf that maps
	// an address does not permit the requested user access.
	ErrProtectionFault = &kernel.Error{Module: "vmm", Message: "access not permitted by page protection"}
)

// Translate performs the checks of the MMU for a user access of the supplied
// type and returns the physical address that corresponds to virtAddr. A
// returned error is a page fault: ErrInvalidMapping if no leaf maps the
// address or ErrProtectionFault if the leaf forbids the access.
func (pt PageTable) Translate(virtAddr uintptr, access AccessType) (uintptr, *kernel.Error) {
	if virtAddr >= MaxVA {
		return 0, ErrInvalidMapping
	}

	pte, huge := pt.ResolveLeaf(virtAddr)
	if pte == nil || !pte.IsLeaf() {
		return 0, ErrInvalidMapping
	}

	required := FlagUser | FlagRead
	if access == AccessStore {
		required = FlagUser | FlagWrite
	}
	if !pte.HasFlags(required) {
		return 0, ErrProtectionFault
	}

	return pte.Frame().Address() + PageOffset(virtAddr, huge), nil
}

// PageOffset returns the offset within the page specified by a virtual
// address.
func PageOffset(virtAddr uintptr, huge bool) uintptr {
	return virtAddr & (pageSizeFor(huge) - 1)
}

// WalkAddr returns the physical address that corresponds to virtAddr if it is
// mapped by a user leaf or 0 otherwise.
func (pt PageTable) WalkAddr(virtAddr uintptr) uintptr {
	if virtAddr >= MaxVA {
		return 0
	}

	pte, huge := pt.ResolveLeaf(virtAddr)
	if pte == nil || !pte.IsLeaf() || !pte.HasFlags(FlagUser) {
		return 0
	}

	return pte.Frame().Address() + PageOffset(virtAddr, huge)
}

// CopyOut copies src to the user virtual address dstVA. Every page written
// must be mapped user-writable; otherwise the error Translate reports for a
// store is returned and the caller may resolve the fault and retry. Bytes of
// the pages preceding the failing one have already been copied.
func (pt PageTable) CopyOut(dstVA uintptr, src []byte) *kernel.Error {
	return pt.copyUser(dstVA, src, AccessStore)
}

// CopyIn fills dst with the contents of the user virtual address srcVA. Every
// page read must be mapped user-readable.
func (pt PageTable) CopyIn(dst []byte, srcVA uintptr) *kernel.Error {
	return pt.copyUser(srcVA, dst, AccessLoad)
}

func (pt PageTable) copyUser(virtAddr uintptr, buf []byte, access AccessType) *kernel.Error {
	for len(buf) > 0 {
		physAddr, err := pt.Translate(virtAddr, access)
		if err != nil {
			return err
		}

		// Stores never reach the zero frame.
		if access == AccessStore && isReservedZeroedFrame(mm.FrameFromAddress(physAddr&^(mm.HugePageSize-1))) {
			return ErrProtectionFault
		}

		n := mm.PageSize - PageOffset(virtAddr, false)
		if n > uintptr(len(buf)) {
			n = uintptr(len(buf))
		}

		userAddr, kernelAddr := mm.DirectMap(physAddr), uintptr(unsafe.Pointer(&buf[0]))
		if access == AccessLoad {
			kernel.Memcopy(userAddr, kernelAddr, n)
		} else {
			kernel.Memcopy(kernelAddr, userAddr, n)
		}

		buf = buf[n:]
		virtAddr += n
	}

	return nil
}
