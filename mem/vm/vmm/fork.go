package vmm

import (
	"errors"
	"fmt"

	"github.com/sarchlab/vmcore/mem/vm"
	"github.com/sarchlab/vmcore/mem/vm/suppl"
	"github.com/sarchlab/vmcore/tracing"
)

// DuplicateAddressSpace creates a new process holding a private copy of
// every page resident in parent, at the same address and with the same
// writable bit. Pages that are not resident are not copied.
func (m *Manager) DuplicateAddressSpace(parent *Process) (*Process, error) {
	child := m.NewProcess()

	if _, err := m.copyResident(parent, child); err != nil {
		_ = m.Exit(child)
		return nil, fmt.Errorf("duplicate %d: %w", parent.pid, err)
	}

	return child, nil
}

// Fork creates a child of parent with a complete copy of its memory.
// Resident pages are copied eagerly. Pages in swap get a copy of their slot
// and pages that live in files keep their description. Mappings are
// inherited through new handles to the same files.
func (m *Manager) Fork(parent *Process) (*Process, error) {
	child := m.NewProcess()
	child.SetStackPointer(parent.StackPointer())

	err := m.forkInto(parent, child)
	if err != nil {
		_ = m.Exit(child)
		return nil, fmt.Errorf("fork %d: %w", parent.pid, err)
	}

	m.logger.Debug("process forked",
		"parent", parent.pid, "child", child.pid)

	tracing.Emit(m, tracing.Event{
		Kind:     tracing.EventFork,
		Location: parent.name,
		PID:      parent.pid,
		Detail:   fmt.Sprintf("child=%d", child.pid),
	})

	return child, nil
}

func (m *Manager) forkInto(parent, child *Process) error {
	handles, err := child.mappings.Inherit(parent.mappings)
	if err != nil {
		return err
	}

	if err := m.cloneSupplemental(parent, child, handles); err != nil {
		return err
	}

	if _, err := m.copyResident(parent, child); err != nil {
		return err
	}

	return m.reconcile(parent, child)
}

// cloneSupplemental gives child a non-resident copy of every entry of
// parent.
func (m *Manager) cloneSupplemental(
	parent, child *Process,
	handles map[vm.MappingID]vm.File,
) error {
	parent.spt.Lock()
	defer parent.spt.Unlock()

	child.spt.Lock()
	defer child.spt.Unlock()

	for _, pe := range parent.spt.Snapshot() {
		ce := &suppl.Entry{
			VAddr:    pe.VAddr,
			Backing:  pe.Backing,
			Writable: pe.Writable,
		}

		switch b := pe.Backing.(type) {
		case suppl.MemoryMapped:
			handle, ok := handles[b.Mapping]
			if !ok {
				panic(fmt.Sprintf("page 0x%x belongs to unknown mapping %d",
					pe.VAddr, b.Mapping))
			}

			b.File = handle
			ce.Backing = b
		case suppl.Swapped:
			slot, err := m.swap.Clone(b.Slot)
			if err != nil {
				return err
			}

			ce.Backing = suppl.Swapped{Slot: slot, Prior: b.Prior}
		}

		if err := child.spt.Insert(ce); err != nil {
			panic(err)
		}
	}

	return nil
}

// copyResident copies the pages resident in parent into child and returns
// how many were copied.
func (m *Manager) copyResident(parent, child *Process) (int, error) {
	var (
		copied int
		err    error
	)

	parent.as.Walk(func(vAddr uint64, _ vm.PTE) bool {
		var ok bool

		ok, err = m.copyPage(parent, child, vAddr)
		if err != nil {
			return false
		}

		if ok {
			copied++
		}

		return true
	})

	return copied, err
}

// copyPage copies the page of parent at vAddr into a new frame of child. It
// returns false if the page of the parent was evicted in the meantime.
func (m *Manager) copyPage(parent, child *Process, vAddr uint64) (bool, error) {
	f, err := m.frames.Allocate(child)
	if err != nil {
		return false, err
	}

	dst := m.frames.Page(f)

	var src vm.PTE
	err = parent.as.Inspect(vAddr, func(pte vm.PTE) {
		src = pte
		copy(dst, m.frames.PageOf(pte.Frame))
	})
	if errors.Is(err, vm.ErrNotFound) {
		m.frames.Release(f)
		return false, nil
	}

	if err != nil {
		m.frames.Release(f)
		return false, err
	}

	child.spt.Lock()

	e, ok := child.spt.Lookup(vAddr)
	if !ok {
		e = &suppl.Entry{
			VAddr:    vAddr,
			Backing:  suppl.ZeroFill{},
			Writable: src.Writable,
		}

		if err := child.spt.Insert(e); err != nil {
			panic(err)
		}
	}

	if e.Loaded || e.Kind() == suppl.KindSwapped {
		panic(fmt.Sprintf("page 0x%x of process %d copied twice",
			vAddr, child.pid))
	}

	if err := child.as.Map(vAddr, f.Num(), src.Writable); err != nil {
		panic(err)
	}

	child.as.SetDirty(vAddr, src.Dirty)
	e.Loaded = true

	child.spt.Unlock()

	m.frames.Bind(f, vAddr)

	return true, nil
}

// reconcile fixes the child entries of pages the parent lost to eviction
// while they were being copied. Parent pages only go from resident to
// evicted during a fork, so each page settles after a few rounds.
func (m *Manager) reconcile(parent, child *Process) error {
	child.spt.Lock()
	entries := child.spt.Snapshot()
	child.spt.Unlock()

	for _, ce := range entries {
		if ce.Loaded || ce.Kind() == suppl.KindSwapped {
			continue
		}

		if err := m.reconcilePage(parent, child, ce.VAddr); err != nil {
			return err
		}
	}

	return nil
}

func (m *Manager) reconcilePage(parent, child *Process, vAddr uint64) error {
	for {
		parent.spt.Lock()
		pe, ok := parent.spt.Lookup(vAddr)
		if !ok {
			parent.spt.Unlock()
			return nil
		}

		if pe.Loaded {
			parent.spt.Unlock()

			copied, err := m.copyPage(parent, child, vAddr)
			if err != nil || copied {
				return err
			}

			continue
		}

		s, swapped := pe.Backing.(suppl.Swapped)
		if !swapped {
			parent.spt.Unlock()
			return nil
		}

		slot, err := m.swap.Clone(s.Slot)
		parent.spt.Unlock()

		if err != nil {
			return err
		}

		child.spt.Lock()
		ce, _ := child.spt.Lookup(vAddr)
		ce.Backing = suppl.ToSwap(ce.Backing, slot)
		child.spt.Unlock()

		return nil
	}
}
