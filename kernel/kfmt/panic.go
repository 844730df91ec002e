package kfmt

import (
	"os"

	"rvos/kernel"
)

var (
	// haltFn stops the machine. It is mocked by tests.
	haltFn = func() { os.Exit(2) }

	errRuntimePanic = &kernel.Error{Module: "rt", Message: "unknown cause"}
)

// Panic outputs the supplied error (if not nil) to the console and halts the
// system. Calls to Panic never return. kmain installs Panic as the invariant
// violation handler when the kernel is built with the haltoninvariant tag.
func Panic(e interface{}) {
	var err *kernel.Error

	switch t := e.(type) {
	case *kernel.Error:
		err = t
	case *kernel.InvariantError:
		err = t.Err
	case string:
		err = &kernel.Error{Module: errRuntimePanic.Module, Message: t}
	case error:
		err = &kernel.Error{Module: errRuntimePanic.Module, Message: t.Error()}
	}

	Printf("\n-----------------------------------\n")
	if err != nil {
		Printf("[%s] unrecoverable error: %s\n", err.Module, err.Message)
	}
	Printf("*** kernel panic: system halted ***")
	Printf("\n-----------------------------------\n")

	haltFn()
}
