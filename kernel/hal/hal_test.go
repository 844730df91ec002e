package hal

import (
	"bytes"
	"testing"

	"rvos/kernel/kfmt"
)

func TestInitTerminal(t *testing.T) {
	defer kfmt.SetOutputSink(nil)

	var buf bytes.Buffer
	InitTerminal(&buf)

	if ActiveTerminal != &buf {
		t.Fatal("expected InitTerminal to update ActiveTerminal")
	}

	kfmt.Printf("[hal] %s\n", "attached")
	if got := buf.String(); got != "[hal] attached\n" {
		t.Fatalf("expected kfmt output to reach the terminal; got %q", got)
	}
}
