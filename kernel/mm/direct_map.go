package mm

import "rvos/kernel"

// The direct map translates physical RAM addresses into addresses the kernel
// can dereference. It is set up once at boot by the hal.
var (
	directMapPhysBase uintptr
	directMapHostBase uintptr
	directMapSize     uintptr

	errNotDirectMapped = &kernel.Error{Module: "mm", Message: "physical address is outside the direct map"}
)

// SetDirectMap installs a linear mapping of the physical range
// [physBase, physBase+size) to the kernel addresses starting at hostBase.
func SetDirectMap(physBase, hostBase, size uintptr) {
	directMapPhysBase, directMapHostBase, directMapSize = physBase, hostBase, size
}

// DirectMap returns the kernel address through which the physical address
// physAddr can be accessed. Physical addresses outside RAM are an invariant
// violation.
func DirectMap(physAddr uintptr) uintptr {
	if physAddr < directMapPhysBase || physAddr-directMapPhysBase >= directMapSize {
		kernel.Violation(errNotDirectMapped)
	}
	return directMapHostBase + (physAddr - directMapPhysBase)
}

// DirectMapped returns true if physAddr falls within the direct map.
func DirectMapped(physAddr uintptr) bool {
	return physAddr >= directMapPhysBase && physAddr-directMapPhysBase < directMapSize
}

// HostAddress returns the kernel address of the frame contents.
func (f Frame) HostAddress() uintptr {
	return DirectMap(f.Address())
}
