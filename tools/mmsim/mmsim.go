// Command mmsim boots the memory core on host memory and runs the mmap
// scenarios against it.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"rvos/kernel"
	"rvos/kernel/hal"
	"rvos/kernel/kfmt"
	"rvos/kernel/kmain"
	"rvos/kernel/mm"
	"rvos/kernel/mm/memstat"
	"rvos/kernel/mm/uvm"
	"rvos/kernel/proc"
)

// mapBase is the user address every scenario maps at.
const mapBase = uintptr(0x100000000)

// regionDump receives the region table of every forked child when set.
var regionDump io.Writer

type scenario struct {
	name string
	run  func() error
}

var scenarios = []scenario{
	{"private", privateScenario},
	{"shared", sharedScenario},
	{"huge", hugeScenario},
}

func exit(err error) {
	fmt.Fprintf(os.Stderr, "[mmsim] error: %s\n", err.Error())
	os.Exit(1)
}

// expect returns an error when a load from p at va does not return exp.
func expect(p *proc.Process, va uintptr, exp uint32) error {
	v, ok := p.Load32(va)
	if !ok {
		return fmt.Errorf("pid %d: load from 0x%x killed the process", p.PID, va)
	}
	if v != exp {
		return fmt.Errorf("pid %d: expected 0x%x at 0x%x; got 0x%x", p.PID, exp, va, v)
	}
	return nil
}

func store(p *proc.Process, va uintptr, v uint32) error {
	if !p.Store32(va, v) {
		return fmt.Errorf("pid %d: store to 0x%x killed the process", p.PID, va)
	}
	return nil
}

// forkPair maps length bytes at mapBase in a new process, stores seed in
// the first word and forks it.
func forkPair(length uintptr, flags uvm.MapOption, seed uint32) (*proc.Process, *proc.Process, error) {
	parent, err := proc.New("mmsim")
	if err != nil {
		return nil, nil, err
	}
	if _, err = parent.Mmap(mapBase, length, uvm.ProtRead|uvm.ProtWrite, flags); err != nil {
		return nil, nil, err
	}
	if verr := expect(parent, mapBase, 0); verr != nil {
		return nil, nil, verr
	}
	if verr := store(parent, mapBase, seed); verr != nil {
		return nil, nil, verr
	}

	child, err := parent.Fork()
	if err != nil {
		return nil, nil, err
	}
	if regionDump != nil {
		kfmt.Fprintf(regionDump, "pid %d forked from pid %d:\n", child.PID, parent.PID)
		child.Space().Dump(regionDump)
	}
	return parent, child, nil
}

func privateScenario() error {
	parent, child, err := forkPair(100, uvm.MapPrivate, 0x12345678)
	if err != nil {
		return err
	}
	if err := store(child, mapBase, 0x87654321); err != nil {
		return err
	}
	if err := expect(parent, mapBase, 0x12345678); err != nil {
		return err
	}

	for _, p := range []*proc.Process{parent, child} {
		if err := p.Munmap(mapBase); err != nil {
			return err
		}
		if _, ok := p.Load32(mapBase); ok || !p.Killed() {
			return fmt.Errorf("pid %d: access after munmap did not kill the process", p.PID)
		}
		if err := p.Exit(); err != nil {
			return err
		}
	}
	return nil
}

func sharedScenario() error {
	parent, child, err := forkPair(100, uvm.MapShared, 0xc0ffee)
	if err != nil {
		return err
	}
	if err := expect(child, mapBase, 0xc0ffee); err != nil {
		return err
	}
	if err := store(child, mapBase, 0xdecaf); err != nil {
		return err
	}
	if err := expect(parent, mapBase, 0xdecaf); err != nil {
		return err
	}

	used := memstat.Snapshot().Used4K
	if err := parent.Munmap(mapBase); err != nil {
		return err
	}
	if err := expect(child, mapBase, 0xdecaf); err != nil {
		return err
	}
	if err := child.Munmap(mapBase); err != nil {
		return err
	}
	if got := memstat.Snapshot().Used4K; got != used-1 {
		return fmt.Errorf("expected the last munmap to free the shared frame; used 4K %d -> %d", used, got)
	}

	for _, p := range []*proc.Process{parent, child} {
		if err := p.Exit(); err != nil {
			return err
		}
	}
	return nil
}

func hugeScenario() error {
	parent, child, err := forkPair(mm.HugePageSize, uvm.MapShared|uvm.MapHugePage, 0xfeed)
	if err != nil {
		return err
	}

	last := mapBase + mm.HugePageSize - 4
	if err := store(child, last, 0xbeef); err != nil {
		return err
	}
	if err := expect(parent, last, 0xbeef); err != nil {
		return err
	}
	if err := expect(child, mapBase, 0xfeed); err != nil {
		return err
	}

	for _, p := range []*proc.Process{child, parent} {
		if err := p.Exit(); err != nil {
			return err
		}
	}
	return nil
}

// selectScenarios returns the scenarios named by the comma-separated list
// names; "all" selects every scenario.
func selectScenarios(names string) ([]scenario, error) {
	if names == "all" {
		return scenarios, nil
	}

	var selected []scenario
next:
	for _, name := range strings.Split(names, ",") {
		for _, s := range scenarios {
			if s.name == name {
				selected = append(selected, s)
				continue next
			}
		}
		return nil, fmt.Errorf("unknown scenario %q", name)
	}
	return selected, nil
}

// run boots the core described by cfg, runs the selected scenarios and
// shuts the core down again. Scenario results are reported to w.
func run(cfg kmain.Config, selected []scenario, stats bool, w io.Writer) error {
	ram, kerr := kmain.Boot(cfg)
	if kerr != nil {
		return kerr
	}
	defer kmain.Shutdown(ram)

	report := kfmt.NewPrefixWriter(w, "mmsim")
	if stats {
		regionDump = w
		defer func() { regionDump = nil }()
	}

	var failed int
	for _, s := range selected {
		var err error
		if violation := kernel.CatchViolation(func() { err = s.run() }); violation != nil {
			err = violation
		}

		if err != nil {
			failed++
			kfmt.Fprintf(report, "%s: FAIL: %s\n", s.name, err.Error())
			continue
		}
		kfmt.Fprintf(report, "%s: ok\n", s.name)
	}

	if stats {
		memstat.Print()
		faults, _ := memstat.Kcall(memstat.KcPageFaults)
		kfmt.Fprintf(report, "page faults: %d, regions in use: %d, shared frames: %d\n",
			faults, uvm.RegionsInUse(), uvm.SharedFrames())
	}

	if failed != 0 {
		return fmt.Errorf("%d of %d scenarios failed", failed, len(selected))
	}
	return nil
}

func main() {
	var (
		cfg       = kmain.DefaultConfig()
		ramMb     = flag.Uint64("ram", uint64(cfg.RAMSize/mm.Mb), "RAM size in megabytes (multiple of 2)")
		kernelKb  = flag.Uint64("kernel", uint64(cfg.KernelReserved/mm.Kb), "kernel image size in kilobytes")
		scenarioF = flag.String("scenario", "all", "comma-separated scenarios to run (private, shared, huge) or all")
		stats     = flag.Bool("stats", false, "print memory statistics after the run")
	)
	flag.Parse()

	selected, err := selectScenarios(*scenarioF)
	if err != nil {
		exit(err)
	}

	cfg.RAMSize = mm.Size(*ramMb) * mm.Mb
	cfg.KernelReserved = mm.Size(*kernelKb) * mm.Kb

	hal.InitTerminal(os.Stdout)
	if err := run(cfg, selected, *stats, hal.ActiveTerminal); err != nil {
		exit(err)
	}
}
