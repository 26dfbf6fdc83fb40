package vmm

import (
	"errors"
	"fmt"

	"github.com/sarchlab/vmcore/mem/vm"
	"github.com/sarchlab/vmcore/mem/vm/frame"
	"github.com/sarchlab/vmcore/mem/vm/suppl"
	"github.com/sarchlab/vmcore/tracing"
)

// errLoaded reports that another thread resolved the fault first.
var errLoaded = errors.New("page already loaded")

// pushaReach is how far below the stack pointer the processor may write
// before the stack pointer moves, as PUSHA does.
const pushaReach = 32

// handleFault resolves a fault raised by an access of p, growing the stack
// when the address has no entry yet but looks like a stack access.
func (m *Manager) handleFault(p *Process, addr uint64) error {
	err := m.ResolveFault(p, addr)
	if errors.Is(err, vm.ErrNotFound) && isStackAccess(addr, p.StackPointer()) {
		return m.GrowStack(p, addr, p.StackPointer())
	}

	return err
}

func isStackAccess(addr, sp uint64) bool {
	return addr < vm.PhysBase &&
		addr >= vm.PhysBase-vm.StackLimit &&
		addr+pushaReach >= sp
}

// ResolveFault makes the page containing addr resident in p. It fails with
// vm.ErrNotFound when the page has no supplemental entry, with
// vm.ErrResourceExhausted when no frame can be produced and with
// vm.ErrShortRead when the backing file is too short. On failure no frame is
// kept.
func (m *Manager) ResolveFault(p *Process, addr uint64) error {
	if !vm.IsUserAddress(addr) {
		return fmt.Errorf("fault at 0x%x: %w", addr, vm.ErrBadAddress)
	}

	vAddr := vm.PageRoundDown(addr)

	p.spt.Lock()
	e, ok := p.spt.Lookup(vAddr)
	loaded := ok && e.Loaded
	p.spt.Unlock()

	switch {
	case !ok:
		return fmt.Errorf("fault at 0x%x: %w", addr, vm.ErrNotFound)
	case loaded:
		return nil
	}

	f, err := m.frames.Allocate(p)
	if err != nil {
		return fmt.Errorf("fault at 0x%x: %w", addr, err)
	}

	kind, err := m.install(p, vAddr, f)
	if err != nil {
		m.frames.Release(f)

		if errors.Is(err, errLoaded) {
			return nil
		}

		return fmt.Errorf("fault at 0x%x: %w", addr, err)
	}

	m.frames.Bind(f, vAddr)
	m.faults.Add(1)

	tracing.Emit(m, tracing.Event{
		Kind:     tracing.EventFault,
		Location: p.name,
		PID:      p.pid,
		VAddr:    vAddr,
		Frame:    f.Num(),
		Detail:   kind.String(),
	})

	return nil
}

// install fills f with the content of the page at vAddr and maps it. The
// entry is checked again since it may have changed while the frame was
// allocated.
func (m *Manager) install(p *Process, vAddr uint64, f *frame.Frame) (suppl.Kind, error) {
	p.spt.Lock()
	defer p.spt.Unlock()

	e, ok := p.spt.Lookup(vAddr)
	if !ok {
		return 0, vm.ErrNotFound
	}

	if e.Loaded {
		return 0, errLoaded
	}

	kind := e.Kind()
	page := m.frames.Page(f)
	dirty := false

	switch b := e.Backing.(type) {
	case suppl.ZeroFill:
		clear(page)
	case suppl.FileBacked, suppl.MemoryMapped:
		if err := m.readPage(p, e, page); err != nil {
			return kind, err
		}
	case suppl.Swapped:
		if err := m.swap.ReadIn(b.Slot, page); err != nil {
			return kind, err
		}

		e.SwapIn()

		// The only copy is now in memory.
		dirty = true
	}

	if err := p.as.Map(vAddr, f.Num(), e.Writable); err != nil {
		panic(fmt.Sprintf("page 0x%x of process %d is not loaded but mapped",
			vAddr, p.pid))
	}

	if dirty {
		p.as.SetDirty(vAddr, true)
	}

	// The faulting access is about to touch the page.
	p.as.SetAccessed(vAddr, true)

	e.Loaded = true

	return kind, nil
}

func (m *Manager) readPage(p *Process, e *suppl.Entry, page []byte) error {
	file, offset, readBytes, _, _ := suppl.FileSource(e.Backing)

	n, err := m.fs.ReadAt(file, page[:readBytes], offset)
	if n != int(readBytes) {
		m.logger.Warn("short read",
			"pid", p.pid, "vaddr", e.VAddr,
			"want", readBytes, "got", n, "err", err)

		return fmt.Errorf("read %d of %d bytes at offset %d: %w",
			n, readBytes, offset, vm.ErrShortRead)
	}

	clear(page[readBytes:])

	return nil
}

// GrowStack declares a zero page for a stack access at addr given stack
// pointer sp and makes it resident. Accesses further than 32 bytes below sp
// or beyond the stack limit fail with vm.ErrBadAddress.
func (m *Manager) GrowStack(p *Process, addr, sp uint64) error {
	if !isStackAccess(addr, sp) {
		return fmt.Errorf("stack access at 0x%x with sp 0x%x: %w",
			addr, sp, vm.ErrBadAddress)
	}

	vAddr := vm.PageRoundDown(addr)

	p.spt.Lock()
	_, exists := p.spt.Lookup(vAddr)
	if !exists {
		if err := p.spt.InsertZero(vAddr, true); err != nil {
			p.spt.Unlock()
			return err
		}
	}
	p.spt.Unlock()

	if !exists {
		tracing.Emit(m, tracing.Event{
			Kind:     tracing.EventStackGrow,
			Location: p.name,
			PID:      p.pid,
			VAddr:    vAddr,
		})
	}

	return m.ResolveFault(p, addr)
}

// LoadSegment declares the pages of a segment of file starting at offset
// to be loaded at upage on demand: readBytes from the file followed by
// zeroBytes zeros. The offset and upage must be page aligned and the sizes
// must add up to whole pages.
func (m *Manager) LoadSegment(
	p *Process,
	file vm.File,
	offset int64,
	upage uint64,
	readBytes, zeroBytes uint64,
	writable bool,
) error {
	total := readBytes + zeroBytes
	if !vm.IsPageAligned(upage) || offset%vm.PageSize != 0 ||
		total%vm.PageSize != 0 || total == 0 {
		return fmt.Errorf("segment at 0x%x: %w", upage, vm.ErrInvalidMapping)
	}

	numPages := total / vm.PageSize
	if upage+total > vm.PhysBase {
		return fmt.Errorf("segment at 0x%x: %w", upage, vm.ErrBadAddress)
	}

	p.spt.Lock()
	defer p.spt.Unlock()

	if !p.spt.RangeFree(upage, numPages) {
		return fmt.Errorf("segment at 0x%x: %w", upage, vm.ErrAlreadyMapped)
	}

	for i := uint64(0); i < numPages; i++ {
		pageRead := min(readBytes, vm.PageSize)
		readBytes -= pageRead

		err := p.spt.InsertFileBacked(upage+i*vm.PageSize, file, offset,
			uint32(pageRead), uint32(vm.PageSize-pageRead), writable)
		if err != nil {
			panic(err)
		}

		offset += int64(pageRead)
	}

	return nil
}
