//go:build haltoninvariant

package kmain

import (
	"rvos/kernel"
	"rvos/kernel/kfmt"
)

func init() {
	violationHandler = func(err *kernel.Error) { kfmt.Panic(err) }
}
