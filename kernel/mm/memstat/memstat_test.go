package memstat

import (
	"bytes"
	"fmt"
	"testing"

	"rvos/kernel"
	"rvos/kernel/kfmt"
)

func TestCounters(t *testing.T) {
	defer Reset(0)
	Reset(1024)

	FramesAllocated(3)
	HugeFrameAllocated(512)
	FramesFreed(1)
	PageFault()
	PageFault()
	ReservedFrames(10)

	exp := Stats{FreeFrames: 1024 - 3 - 512 + 1, Used4K: 3 - 1 + 10, Used2M: 1, PageFaults: 2}
	if got := Snapshot(); got != exp {
		t.Fatalf("expected stats to be %+v; got %+v", exp, got)
	}

	HugeFrameFreed(512)
	if got := Snapshot(); got.Used2M != 0 || got.FreeFrames != 1024-3+1 {
		t.Fatalf("unexpected stats after freeing huge frame: %+v", got)
	}
}

func TestKcall(t *testing.T) {
	defer Reset(0)
	Reset(100)
	FramesAllocated(4)
	HugeFrameAllocated(8)
	PageFault()

	specs := []struct {
		query  Query
		exp    uint64
		expErr *kernel.Error
	}{
		{KcFreeMem, 88, nil},
		{KcUsed4K, 4, nil},
		{KcUsed2M, 1, nil},
		{KcPageFaults, 1, nil},
		{Query(42), 0, errUnknownQuery},
	}

	for specIndex, spec := range specs {
		t.Run(fmt.Sprint(specIndex), func(t *testing.T) {
			got, err := Kcall(spec.query)
			if err != spec.expErr {
				t.Fatalf("expected error %v; got %v", spec.expErr, err)
			}
			if got != spec.exp {
				t.Fatalf("expected %d; got %d", spec.exp, got)
			}
		})
	}
}

func TestUnderflow(t *testing.T) {
	defer Reset(0)

	specs := []func(){
		func() { FramesAllocated(1) },
		func() { FramesFreed(1) },
		func() { HugeFrameAllocated(512) },
		func() { HugeFrameFreed(512) },
	}

	for specIndex, spec := range specs {
		Reset(0)
		if err := kernel.CatchViolation(spec); err != errUnderflow {
			t.Errorf("[spec %d] expected errUnderflow violation; got %v", specIndex, err)
		}

		if lock.Holding() {
			t.Errorf("[spec %d] expected lock to be released after a violation", specIndex)
		}
	}
}

func TestPrint(t *testing.T) {
	defer Reset(0)
	Reset(7)

	var buf bytes.Buffer
	kfmt.SetOutputSink(&buf)
	defer kfmt.SetOutputSink(nil)
	buf.Reset()

	Print()

	exp := "[memstat] free frames: 7, used 4K: 0, used 2M: 0, page faults: 0\n"
	if got := buf.String(); got != exp {
		t.Fatalf("expected output %q; got %q", exp, got)
	}
}
