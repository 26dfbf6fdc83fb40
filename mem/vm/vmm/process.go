package vmm

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/sarchlab/vmcore/mem/vm"
	"github.com/sarchlab/vmcore/mem/vm/mmap"
	"github.com/sarchlab/vmcore/mem/vm/suppl"
)

// maxAccessAttempts bounds how many times one access may fault before it
// gives up. Each fault can be undone by an eviction from another process.
const maxAccessAttempts = 8

// A Process is a user address space with its supplemental page table and
// memory mappings.
type Process struct {
	pid      vm.PID
	name     string
	mgr      *Manager
	as       vm.AddressSpace
	spt      *suppl.Table
	mappings *mmap.Table
	sp       atomic.Uint64
}

// PID returns the process id.
func (p *Process) PID() vm.PID {
	return p.pid
}

// Name returns the name of the process.
func (p *Process) Name() string {
	return p.name
}

// AddressSpace returns the hardware page table of the process.
func (p *Process) AddressSpace() vm.AddressSpace {
	return p.as
}

// Supplemental returns the supplemental page table of the process.
func (p *Process) Supplemental() *suppl.Table {
	return p.spt
}

// Mappings returns the memory mappings of the process.
func (p *Process) Mappings() *mmap.Table {
	return p.mappings
}

// SetStackPointer records the user stack pointer, used to tell stack growth
// from wild accesses.
func (p *Process) SetStackPointer(sp uint64) {
	p.sp.Store(sp)
}

// StackPointer returns the recorded user stack pointer.
func (p *Process) StackPointer() uint64 {
	return p.sp.Load()
}

// Read copies len(buf) bytes of user memory at vAddr into buf, faulting
// pages in as needed.
func (p *Process) Read(vAddr uint64, buf []byte) error {
	return p.access(vAddr, buf, false)
}

// Write copies data into user memory at vAddr, faulting pages in as needed.
func (p *Process) Write(vAddr uint64, data []byte) error {
	return p.access(vAddr, data, true)
}

func (p *Process) access(vAddr uint64, buf []byte, write bool) error {
	for done := 0; done < len(buf); {
		addr := vAddr + uint64(done)
		n := min(len(buf)-done, int(vm.PageSize-vm.PageOffset(addr)))

		if err := p.accessPage(addr, buf[done:done+n], write); err != nil {
			return err
		}

		done += n
	}

	return nil
}

func (p *Process) accessPage(addr uint64, chunk []byte, write bool) error {
	if !vm.IsUserAddress(addr) {
		return fmt.Errorf("access 0x%x: %w", addr, vm.ErrBadAddress)
	}

	off := vm.PageOffset(addr)

	for attempt := 0; attempt < maxAccessAttempts; attempt++ {
		err := p.as.Access(addr, write, func(pte vm.PTE) {
			page := p.mgr.frames.PageOf(pte.Frame)
			if write {
				copy(page[off:], chunk)
			} else {
				copy(chunk, page[off:])
			}
		})
		if !errors.Is(err, vm.ErrNotFound) {
			return err
		}

		if err := p.mgr.handleFault(p, addr); err != nil {
			return err
		}
	}

	return fmt.Errorf("access 0x%x: page evicted %d times: %w",
		addr, maxAccessAttempts, vm.ErrResourceExhausted)
}
