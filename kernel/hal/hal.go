// Package hal attaches the kernel to the host it runs on.
package hal

import (
	"io"

	"rvos/kernel/kfmt"
)

var (
	// ActiveTerminal points to the currently active terminal.
	ActiveTerminal io.Writer
)

// InitTerminal makes w the terminal of the kernel. Output logged before a
// terminal is attached is flushed to it.
func InitTerminal(w io.Writer) {
	ActiveTerminal = w
	kfmt.SetOutputSink(w)
}
