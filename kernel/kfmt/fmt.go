// Package kfmt implements the kernel's logging primitives. Output produced
// before a sink is attached is kept in a ring buffer and replayed once
// SetOutputSink is called.
package kfmt

import (
	"fmt"
	"io"

	"rvos/kernel/sync"
)

var (
	// earlyPrintBuffer is a ring buffer that stores Printf output before an
	// output sink is attached.
	earlyPrintBuffer ringBuffer

	// outputSink is a io.Writer where Printf will send its output. If set
	// to nil, then the output will be redirected to the earlyPrintBuffer.
	outputSink io.Writer

	// printLock serializes writers so lines logged from concurrent faults
	// do not interleave.
	printLock sync.Spinlock
)

// SetOutputSink sets the default target for calls to Printf to w and copies
// any data accumulated in the earlyPrintBuffer to it.
func SetOutputSink(w io.Writer) {
	printLock.Acquire()
	outputSink = w
	if w != nil {
		_, _ = io.Copy(w, &earlyPrintBuffer)
	}
	printLock.Release()
}

// GetOutputSink returns the currently attached output sink or nil if Printf
// output is still being buffered.
func GetOutputSink() io.Writer {
	printLock.Acquire()
	defer printLock.Release()
	return outputSink
}

// Printf formats according to a format specifier and writes the result to the
// currently attached output sink. If no sink is attached, the output is
// buffered into a ring-buffer and flushed to the sink by SetOutputSink.
func Printf(format string, args ...interface{}) {
	printLock.Acquire()
	defer printLock.Release()

	w := outputSink
	if w == nil {
		w = &earlyPrintBuffer
	}
	fmt.Fprintf(w, format, args...)
}

// Fprintf behaves exactly like Printf but it writes the formatted output to
// the specified io.Writer.
func Fprintf(w io.Writer, format string, args ...interface{}) {
	fmt.Fprintf(w, format, args...)
}
