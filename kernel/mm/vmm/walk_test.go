package vmm

import (
	"testing"

	"rvos/kernel"
	"rvos/kernel/mm"
)

func TestWalk(t *testing.T) {
	setupVMM(t, 2)

	pt, err := Create()
	if err != nil {
		t.Fatal(err)
	}

	const va = uintptr(0x40201000)

	if pte, err := pt.Walk(va, false); pte != nil || err != nil {
		t.Fatalf("expected Walk on an empty tree to return nil, nil; got %v, %v", pte, err)
	}

	before := used4K()
	pte, err := pt.Walk(va, true)
	if err != nil {
		t.Fatal(err)
	}
	if pte == nil || *pte != 0 {
		t.Fatalf("expected a cleared level-2 slot; got %v", pte)
	}

	if exp, got := before+2, used4K(); got != exp {
		t.Fatalf("expected Walk to allocate 2 intermediate tables; used frames went from %d to %d", before, got)
	}

	again, _ := pt.Walk(va, false)
	if again != pte {
		t.Fatal("expected Walk to return the same slot for the same address")
	}

	neighbour, _ := pt.Walk(va+mm.PageSize, false)
	if neighbour == nil || neighbour == pte {
		t.Fatal("expected the neighbouring page to share the same level-2 table")
	}

	huge, _ := pt.HugeWalk(va, false)
	if huge == nil || !huge.IsTable() || huge.Frame() == mm.InvalidFrame {
		t.Fatal("expected HugeWalk to return the level-1 entry pointing to the level-2 table")
	}
}

func TestWalkAllocationFailure(t *testing.T) {
	setupVMM(t, 2)

	pt, err := Create()
	if err != nil {
		t.Fatal(err)
	}

	limitAllocations(t, 1)

	if pte, err := pt.Walk(0x1000, true); pte != nil || err != errTestOutOfFrames {
		t.Fatalf("expected allocation failure to be reported; got %v, %v", pte, err)
	}
}

func TestWalkMaxVA(t *testing.T) {
	setupVMM(t, 2)

	pt, err := Create()
	if err != nil {
		t.Fatal(err)
	}

	specs := []func(){
		func() { _, _ = pt.Walk(MaxVA, true) },
		func() { _, _ = pt.HugeWalk(MaxVA+mm.HugePageSize, false) },
		func() { _, _ = pt.ResolveLeaf(^uintptr(0)) },
	}

	for specIndex, spec := range specs {
		if got := kernel.CatchViolation(spec); got != errAddrOutOfRange {
			t.Errorf("[spec %d] expected errAddrOutOfRange violation; got %v", specIndex, got)
		}
	}

	if pte, _ := pt.Walk(MaxVA-1, true); pte == nil {
		t.Fatal("expected the last page below MaxVA to be mappable")
	}
}

func TestResolveLeaf(t *testing.T) {
	setupVMM(t, 2)

	pt, err := Create()
	if err != nil {
		t.Fatal(err)
	}

	const (
		smallVA = uintptr(0x1000)
		hugeVA  = uintptr(0x40000000)
	)

	if pte, _ := pt.ResolveLeaf(smallVA); pte != nil {
		t.Fatal("expected ResolveLeaf to return nil for a missing table")
	}

	if err := pt.MapRangeLazy(smallVA, mm.PageSize, mm.InvalidFrame, FlagWrite, false); err != nil {
		t.Fatal(err)
	}
	if err := pt.MapRangeLazy(hugeVA, 100, mm.InvalidFrame, 0, true); err != nil {
		t.Fatal(err)
	}

	pte, huge := pt.ResolveLeaf(smallVA + 12)
	if pte == nil || huge || !pte.IsLeaf() {
		t.Fatalf("expected a 4K leaf; got %v (huge: %t)", pte, huge)
	}

	// Unmapped slot in an existing level-2 table.
	pte, huge = pt.ResolveLeaf(smallVA + mm.PageSize)
	if pte == nil || huge || pte.Valid() {
		t.Fatalf("expected an invalid level-2 slot; got %v (huge: %t)", pte, huge)
	}

	pte, huge = pt.ResolveLeaf(hugeVA + mm.HugePageSize - 1)
	if pte == nil || !huge || !pte.IsLeaf() {
		t.Fatalf("expected a 2M leaf; got %v (huge: %t)", pte, huge)
	}

	// Walk cannot descend through a huge leaf.
	if pte, err := pt.Walk(hugeVA, true); pte != nil || err != nil {
		t.Fatalf("expected Walk to stop at the huge leaf; got %v, %v", pte, err)
	}

	// A leaf in the root table is never installed by this package.
	tableAt(pt.root)[3] = MakeEntry(mm.Frame(1), FlagValid|FlagRead)
	if got := kernel.CatchViolation(func() { pt.ResolveLeaf(3 << 30) }); got != errRootLeaf {
		t.Fatalf("expected errRootLeaf violation; got %v", got)
	}
	if got := kernel.CatchViolation(func() { _, _ = pt.Walk(3<<30, false) }); got != errRootLeaf {
		t.Fatalf("expected errRootLeaf violation; got %v", got)
	}
	tableAt(pt.root)[3] = 0
}
