package proc

import (
	"unsafe"

	"rvos/kernel/kfmt"
	"rvos/kernel/mm"
	"rvos/kernel/mm/uvm"
	"rvos/kernel/mm/vmm"
)

// Load32 performs a user load of the 32-bit word at va. If the access
// faults and the fault cannot be resolved, the process is killed and false
// is returned.
func (p *Process) Load32(va uintptr) (uint32, bool) {
	physAddr, ok := p.userAccess(va, vmm.AccessLoad)
	if !ok {
		return 0, false
	}
	return *(*uint32)(unsafe.Pointer(mm.DirectMap(physAddr))), true
}

// Store32 performs a user store of value to the 32-bit word at va. If the
// access faults and the fault cannot be resolved, the process is killed and
// false is returned.
func (p *Process) Store32(va uintptr, value uint32) bool {
	physAddr, ok := p.userAccess(va, vmm.AccessStore)
	if !ok {
		return false
	}
	*(*uint32)(unsafe.Pointer(mm.DirectMap(physAddr))) = value
	return true
}

// userAccess translates va like the MMU would. A failed translation is
// handed to the page fault handler and retried once.
func (p *Process) userAccess(va uintptr, access vmm.AccessType) (uintptr, bool) {
	space := p.Space()
	if space == nil {
		return 0, false
	}

	if va&3 != 0 {
		kfmt.Printf("misaligned access: pid=%d stval=0x%x\n", p.PID, va)
		p.Kill()
		return 0, false
	}

	pt := space.PageTable()
	physAddr, err := pt.Translate(va, access)
	if err == nil {
		return physAddr, true
	}

	if err = uvm.HandleFault(space, va, access == vmm.AccessStore); err == nil {
		if physAddr, err = pt.Translate(va, access); err == nil {
			return physAddr, true
		}
	}

	kfmt.Printf("pagefault (%s): pid=%d stval=0x%x\n", err.Message, p.PID, va)
	p.Kill()
	return 0, false
}
