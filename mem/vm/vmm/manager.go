// Package vmm is the entry point of the virtual-memory core. A Manager owns
// the frame table and the swap store shared by all processes and resolves
// their page faults.
package vmm

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/sarchlab/vmcore/mem/vm"
	"github.com/sarchlab/vmcore/mem/vm/frame"
	"github.com/sarchlab/vmcore/mem/vm/mmap"
	"github.com/sarchlab/vmcore/mem/vm/suppl"
	"github.com/sarchlab/vmcore/mem/vm/swap"
	"github.com/sarchlab/vmcore/sim"
	"github.com/sarchlab/vmcore/tracing"
)

// Manager manages the address spaces of all processes.
type Manager struct {
	*sim.HookableBase

	name   string
	logger *slog.Logger
	frames *frame.Table
	swap   *swap.Store
	fs     vm.FileSystem

	faults atomic.Uint64

	lock      sync.Mutex
	nextPID   vm.PID
	processes map[vm.PID]*Process
}

// Name returns the name of the manager.
func (m *Manager) Name() string {
	return m.name
}

// Frames returns the frame table.
func (m *Manager) Frames() *frame.Table {
	return m.frames
}

// Swap returns the swap store.
func (m *Manager) Swap() *swap.Store {
	return m.swap
}

// FileSystem returns the file layer used by the manager.
func (m *Manager) FileSystem() vm.FileSystem {
	return m.fs
}

// Domains returns everything that reports VM events. Hooks of the manager
// are also given to the mapping tables of processes created later.
func (m *Manager) Domains() []tracing.NamedHookable {
	return []tracing.NamedHookable{m, m.frames, m.swap}
}

// NewProcess creates a process with an empty address space.
func (m *Manager) NewProcess() *Process {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.nextPID++
	p := &Process{
		pid: m.nextPID,
		mgr: m,
		as:  vm.NewPageDirectory(),
		spt: suppl.NewTable(),
	}
	p.name = sim.BuildNameWithIndex(m.name, "Process", int(p.pid))
	p.sp.Store(vm.PhysBase)
	p.mappings = mmap.MakeBuilder().
		WithFrameTable(m.frames).
		WithFileSystem(m.fs).
		WithLogger(m.logger).
		Build(p)

	for _, h := range m.Hooks() {
		p.mappings.AcceptHook(h)
	}

	m.processes[p.pid] = p

	return p
}

// Process returns a live process by pid.
func (m *Manager) Process(pid vm.PID) (*Process, bool) {
	m.lock.Lock()
	defer m.lock.Unlock()

	p, ok := m.processes[pid]

	return p, ok
}

// Processes returns the live processes ordered by pid.
func (m *Manager) Processes() []*Process {
	m.lock.Lock()
	defer m.lock.Unlock()

	list := make([]*Process, 0, len(m.processes))
	for _, p := range m.processes {
		list = append(list, p)
	}

	sort.Slice(list, func(i, j int) bool { return list[i].pid < list[j].pid })

	return list
}

// MapFile maps file into p at addr.
func (m *Manager) MapFile(
	p *Process,
	file vm.File,
	addr uint64,
) (vm.MappingID, error) {
	return p.mappings.Map(file, addr)
}

// UnmapFile removes a mapping of p, writing dirty pages back.
func (m *Manager) UnmapFile(p *Process, id vm.MappingID) error {
	return p.mappings.Unmap(id)
}

// ReleaseAllFrames frees every frame of p. The contents are discarded and
// the pages fault in again from their backing.
func (m *Manager) ReleaseAllFrames(p *Process) int {
	return m.frames.ReleaseAll(p)
}

// Exit tears p down. Mappings are written back first, then frames and swap
// slots are released.
func (m *Manager) Exit(p *Process) error {
	err := p.mappings.UnmapAll()
	if err != nil {
		m.logger.Warn("write-back failed at exit", "pid", p.pid, "err", err)
	}

	released := m.ReleaseAllFrames(p)

	p.spt.Lock()
	slots := p.spt.Slots()
	for _, s := range slots {
		m.swap.Free(s)
	}
	p.spt.Clear()
	p.spt.Unlock()

	m.lock.Lock()
	delete(m.processes, p.pid)
	m.lock.Unlock()

	m.logger.Debug("process exited",
		"pid", p.pid, "frames", released, "slots", len(slots))

	tracing.Emit(m, tracing.Event{
		Kind:     tracing.EventExit,
		Location: p.name,
		PID:      p.pid,
		Detail:   fmt.Sprintf("frames=%d slots=%d", released, len(slots)),
	})

	return err
}

// Stats summarizes the state of the core.
type Stats struct {
	Frames       frame.Stats
	Faults       uint64
	SwapUsed     int
	SwapCapacity int
	Processes    int
}

// Stats returns the current statistics.
func (m *Manager) Stats() Stats {
	m.lock.Lock()
	n := len(m.processes)
	m.lock.Unlock()

	return Stats{
		Frames:       m.frames.Stats(),
		Faults:       m.faults.Load(),
		SwapUsed:     m.swap.Used(),
		SwapCapacity: m.swap.Capacity(),
		Processes:    n,
	}
}
