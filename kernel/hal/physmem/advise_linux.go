package physmem

import (
	"golang.org/x/sys/unix"

	"rvos/kernel/kfmt"
)

// madviseFn is mocked by tests.
var madviseFn = unix.Madvise

// adviseHugePages asks the host to back RAM with transparent huge pages so
// that huge frames map onto host huge pages where possible. Failure is not
// fatal; the hint is merely ignored.
func adviseHugePages(mem []byte) {
	if err := madviseFn(mem, unix.MADV_HUGEPAGE); err != nil {
		kfmt.Printf("[physmem] MADV_HUGEPAGE not honored: %s\n", err.Error())
	}
}
