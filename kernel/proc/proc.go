// Package proc is the process boundary of the memory core. A process owns an
// address space and a kill flag; its user accesses go through the software
// MMU and the page fault handler the same way a trap would.
package proc

import (
	"rvos/kernel"
	"rvos/kernel/kfmt"
	"rvos/kernel/mm/uvm"
	"rvos/kernel/sync"
)

var (
	pidLock sync.Spinlock
	nextPID = 1

	errExited    = &kernel.Error{Module: "proc", Message: "process has exited"}
	errSbrkRange = &kernel.Error{Module: "proc", Message: "sbrk shrinks below zero"}
)

// Process describes a user context.
type Process struct {
	PID  int
	Name string

	lock   sync.Spinlock
	space  *uvm.AddressSpace
	killed bool
}

// New creates a process with an empty address space.
func New(name string) (*Process, *kernel.Error) {
	space, err := uvm.NewAddressSpace()
	if err != nil {
		return nil, err
	}

	pidLock.Acquire()
	pid := nextPID
	nextPID++
	pidLock.Release()

	return &Process{PID: pid, Name: name, space: space}, nil
}

// Space returns the address space of the process or nil once it exited.
func (p *Process) Space() *uvm.AddressSpace {
	p.lock.Acquire()
	defer p.lock.Release()
	return p.space
}

// Fork creates a child process whose address space duplicates the heap and
// inherits every mapping of p.
func (p *Process) Fork() (*Process, *kernel.Error) {
	space := p.Space()
	if space == nil {
		return nil, errExited
	}

	child, err := New(p.Name)
	if err != nil {
		return nil, err
	}

	if err = uvm.Duplicate(space, child.space, space.Size()); err != nil {
		if derr := uvm.Destroy(child.space); derr != nil {
			kfmt.Printf("[proc] fork: releasing pid %d: %s\n", child.PID, derr.Message)
		}
		return nil, err
	}

	return child, nil
}

// Exit unmaps every mapping of the process and releases its address space.
func (p *Process) Exit() *kernel.Error {
	p.lock.Acquire()
	space := p.space
	p.space = nil
	p.lock.Release()

	if space == nil {
		return errExited
	}

	return uvm.Destroy(space)
}

// Sbrk grows the heap by delta bytes (or shrinks it if delta is negative)
// and returns the previous heap size.
func (p *Process) Sbrk(delta int) (uintptr, *kernel.Error) {
	space := p.Space()
	if space == nil {
		return 0, errExited
	}

	oldSize := space.Size()
	newSize := oldSize + uintptr(delta)
	if delta < 0 {
		if uintptr(-delta) > oldSize {
			return 0, errSbrkRange
		}
		newSize = oldSize - uintptr(-delta)
	}

	if err := space.Resize(newSize); err != nil {
		return 0, err
	}
	return oldSize, nil
}

// Mmap maps length bytes at addr. See uvm.Map.
func (p *Process) Mmap(addr, length uintptr, prot, flags uvm.MapOption) (uintptr, *kernel.Error) {
	space := p.Space()
	if space == nil {
		return 0, errExited
	}
	return uvm.Map(space, addr, length, prot, flags)
}

// Munmap removes the mapping that starts at addr. See uvm.Unmap.
func (p *Process) Munmap(addr uintptr) *kernel.Error {
	space := p.Space()
	if space == nil {
		return errExited
	}
	return uvm.Unmap(space, addr)
}

// Kill marks the process for termination. The process keeps running until
// it next returns to the boundary and checks Killed.
func (p *Process) Kill() {
	p.lock.Acquire()
	p.killed = true
	p.lock.Release()
}

// Killed returns true if the process was marked for termination.
func (p *Process) Killed() bool {
	p.lock.Acquire()
	defer p.lock.Release()
	return p.killed
}
