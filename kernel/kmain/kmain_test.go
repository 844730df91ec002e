package kmain

import (
	"bytes"
	"strings"
	"testing"

	"rvos/kernel"
	"rvos/kernel/kfmt"
	"rvos/kernel/mm"
	"rvos/kernel/mm/memstat"
	"rvos/kernel/mm/pmm"
	"rvos/kernel/mm/uvm"
	"rvos/kernel/mm/vmm"
)

func captureLog(t *testing.T) *bytes.Buffer {
	var buf bytes.Buffer
	kfmt.SetOutputSink(&buf)
	t.Cleanup(func() { kfmt.SetOutputSink(nil) })
	return &buf
}

func TestBoot(t *testing.T) {
	buf := captureLog(t)

	cfg := Config{RAMBase: 0x80000000, RAMSize: 8 * mm.Mb, KernelReserved: 64*mm.Kb + 1}
	ram, err := Boot(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer Shutdown(ram)

	if ram.PhysBase != cfg.RAMBase || ram.Size() != cfg.RAMSize {
		t.Fatalf("unexpected RAM region [0x%x - 0x%x)", ram.PhysBase, ram.PhysTop)
	}
	if !mm.DirectMapped(cfg.RAMBase) || !vmm.ReservedZeroedFrame.Valid() {
		t.Fatal("expected the direct map and the zero frame to be set up")
	}

	stats := memstat.Snapshot()
	if stats.Used4K != 17 {
		t.Fatalf("expected the kernel image to occupy 17 frames; got %d", stats.Used4K)
	}
	if stats.Used2M != 1 {
		t.Fatalf("expected the zero frame to be the only huge frame in use; got %d", stats.Used2M)
	}
	if total := stats.FreeFrames + stats.Used4K + stats.Used2M*uint64(mm.FramesPerHugeFrame); total != pmm.TotalFrames() {
		t.Fatalf("expected frame accounting to add up to %d; got %d", pmm.TotalFrames(), total)
	}

	for _, exp := range []string{"[physmem]", "[pmm]", "[vmm]", "[uvm]", "[memstat]"} {
		if !strings.Contains(buf.String(), exp) {
			t.Errorf("expected boot log to contain %q; got:\n%s", exp, buf.String())
		}
	}

	as, err := uvm.NewAddressSpace()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := uvm.Map(as, 0x100000000, mm.PageSize, uvm.ProtRead|uvm.ProtWrite, uvm.MapPrivate); err != nil {
		t.Fatal(err)
	}
	if err := uvm.HandleFault(as, 0x100000000, true); err != nil {
		t.Fatal(err)
	}
	if err := uvm.Destroy(as); err != nil {
		t.Fatal(err)
	}

	// Kernel image frames can never be freed.
	if got := kernel.CatchViolation(func() { mm.FreeFrame(mm.FrameFromAddress(cfg.RAMBase)) }); got == nil {
		t.Fatal("expected freeing a kernel frame to be an invariant violation")
	}
}

func TestBootErrors(t *testing.T) {
	captureLog(t)

	specs := []Config{
		{RAMBase: 0x80000000, RAMSize: 4 * mm.Mb, KernelReserved: 4 * mm.Mb},
		{RAMBase: 0x80001000, RAMSize: 4 * mm.Mb},
		{RAMBase: 0x80000000, RAMSize: 3 * mm.Mb},
		// The only huge frame is split by the kernel image so the zero
		// frame cannot be reserved.
		{RAMBase: 0x80000000, RAMSize: 2 * mm.Mb, KernelReserved: 4 * mm.Kb},
	}

	for specIndex, cfg := range specs {
		if ram, err := Boot(cfg); err == nil {
			Shutdown(ram)
			t.Errorf("[spec %d] expected Boot to fail", specIndex)
		}
		if mm.DirectMapped(0x80000000) {
			t.Errorf("[spec %d] expected a failed boot to release the RAM", specIndex)
		}
	}
}

func TestDefaultConfig(t *testing.T) {
	captureLog(t)

	ram, err := Boot(DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	Shutdown(ram)

	if vmm.ReservedZeroedFrame.Valid() || mm.DirectMapped(DefaultConfig().RAMBase) {
		t.Fatal("expected Shutdown to detach the memory core")
	}
}
