// Package mmap keeps the memory mappings of a process. Each mapping owns a
// run of supplemental entries backed by a private handle to the mapped file.
package mmap

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/sarchlab/vmcore/mem/vm"
	"github.com/sarchlab/vmcore/mem/vm/frame"
	"github.com/sarchlab/vmcore/mem/vm/suppl"
	"github.com/sarchlab/vmcore/sim"
	"github.com/sarchlab/vmcore/tracing"
)

// A Mapping is one active memory mapping.
type Mapping struct {
	ID       vm.MappingID
	File     vm.File
	Start    uint64
	NumPages uint64
	Length   int64
}

// End returns the first address after the mapping.
func (m Mapping) End() uint64 {
	return m.Start + m.NumPages*vm.PageSize
}

// Table holds the mappings of one process.
type Table struct {
	*sim.HookableBase

	name   string
	owner  frame.Owner
	frames *frame.Table
	fs     vm.FileSystem
	logger *slog.Logger

	lock     sync.Mutex
	nextID   vm.MappingID
	mappings map[vm.MappingID]*Mapping
}

// Name returns the name of the table.
func (t *Table) Name() string {
	return t.name
}

// Map maps file at start and returns the id of the mapping. The address must
// be page aligned and non-zero, the file must not be empty and no page of
// the range may be in use. Pages are loaded on demand.
func (t *Table) Map(file vm.File, start uint64) (vm.MappingID, error) {
	t.lock.Lock()
	defer t.lock.Unlock()

	length := t.fs.Length(file)
	if err := t.checkRange(start, length); err != nil {
		t.logger.Info("mapping rejected",
			"pid", t.owner.PID(), "start", start, "length", length,
			"reason", err)

		return 0, err
	}

	handle, err := t.fs.Reopen(file)
	if err != nil {
		return 0, fmt.Errorf("reopen mapped file: %w", err)
	}

	m := &Mapping{
		ID:       t.nextID,
		File:     handle,
		Start:    start,
		NumPages: vm.PagesIn(uint64(length)),
		Length:   length,
	}

	if err := t.declare(m); err != nil {
		_ = t.fs.Close(handle)
		return 0, err
	}

	t.nextID++
	t.mappings[m.ID] = m

	tracing.Emit(t, tracing.Event{
		Kind:   tracing.EventMap,
		PID:    t.owner.PID(),
		VAddr:  start,
		Detail: fmt.Sprintf("id=%d pages=%d", m.ID, m.NumPages),
	})

	return m.ID, nil
}

func (t *Table) checkRange(start uint64, length int64) error {
	switch {
	case start == 0:
		return fmt.Errorf("map at address 0: %w", vm.ErrInvalidMapping)
	case !vm.IsPageAligned(start):
		return fmt.Errorf("map at 0x%x: misaligned: %w",
			start, vm.ErrInvalidMapping)
	case length <= 0:
		return fmt.Errorf("map empty file: %w", vm.ErrInvalidMapping)
	}

	end := start + vm.PagesIn(uint64(length))*vm.PageSize
	if end > vm.PhysBase || end < start {
		return fmt.Errorf("map 0x%x-0x%x: beyond user space: %w",
			start, end, vm.ErrInvalidMapping)
	}

	return nil
}

// declare creates the supplemental entries of m, or none if any page of the
// range is in use.
func (t *Table) declare(m *Mapping) error {
	as := t.owner.AddressSpace()
	spt := t.owner.Supplemental()

	spt.Lock()
	defer spt.Unlock()

	for i := uint64(0); i < m.NumPages; i++ {
		vAddr := m.Start + i*vm.PageSize
		if _, present := as.Lookup(vAddr); present {
			return fmt.Errorf("map 0x%x: page 0x%x is mapped: %w",
				m.Start, vAddr, vm.ErrInvalidMapping)
		}
	}

	if !spt.RangeFree(m.Start, m.NumPages) {
		return fmt.Errorf("map 0x%x: range overlaps: %w",
			m.Start, vm.ErrInvalidMapping)
	}

	for i := uint64(0); i < m.NumPages; i++ {
		offset := int64(i * vm.PageSize)
		readBytes := uint32(min(int64(vm.PageSize), m.Length-offset))

		err := spt.InsertMapped(m.File, offset, m.Start+i*vm.PageSize,
			readBytes, vm.PageSize-readBytes, m.ID)
		if err != nil {
			panic(err)
		}
	}

	return nil
}

// Unmap removes mapping id. Resident dirty pages are written back before
// the handle of the mapping is closed. Unknown ids give vm.ErrNotFound. If a
// write-back fails the mapping stays in place.
func (t *Table) Unmap(id vm.MappingID) error {
	t.lock.Lock()
	defer t.lock.Unlock()

	m, ok := t.mappings[id]
	if !ok {
		return fmt.Errorf("mapping %d: %w", id, vm.ErrNotFound)
	}

	return t.unmap(m, false)
}

// unmap releases the pages of m and closes its handle. With discard set, a
// page that cannot be written back is dropped and the mapping is removed
// anyway.
func (t *Table) unmap(m *Mapping, discard bool) error {
	spt := t.owner.Supplemental()

	var errs []error
	for i := uint64(0); i < m.NumPages; i++ {
		vAddr := m.Start + i*vm.PageSize

		spt.Lock()
		e, ok := spt.Lookup(vAddr)
		spt.Unlock()

		if !ok {
			continue
		}

		if err := t.releasePage(e); err != nil {
			err = fmt.Errorf("unmap %d at 0x%x: %w", m.ID, vAddr, err)
			if !discard {
				return err
			}

			errs = append(errs, err)
			_, _ = t.frames.ReleasePage(t.owner, vAddr, nil)
		}

		spt.Lock()
		spt.Remove(vAddr)
		spt.Unlock()
	}

	delete(t.mappings, m.ID)

	if err := t.fs.Close(m.File); err != nil {
		errs = append(errs, fmt.Errorf("unmap %d: %w", m.ID, err))
	}

	tracing.Emit(t, tracing.Event{
		Kind:   tracing.EventUnmap,
		PID:    t.owner.PID(),
		VAddr:  m.Start,
		Detail: fmt.Sprintf("id=%d", m.ID),
	})

	return errors.Join(errs...)
}

func (t *Table) releasePage(e *suppl.Entry) error {
	b, ok := e.Backing.(suppl.MemoryMapped)
	if !ok {
		panic(fmt.Sprintf("page 0x%x of a mapping is %s", e.VAddr, e.Kind()))
	}

	_, err := t.frames.ReleasePage(t.owner, e.VAddr, func(page []byte) error {
		_, err := t.fs.WriteAt(b.File, page[:b.ReadBytes], b.Offset)
		return err
	})

	return err
}

// UnmapAll removes every mapping in id order. Pages that cannot be written
// back are lost, but every mapping is removed and its handle closed.
func (t *Table) UnmapAll() error {
	t.lock.Lock()
	defer t.lock.Unlock()

	var errs []error
	for _, m := range t.sorted() {
		if err := t.unmap(m, true); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// Lookup returns mapping id.
func (t *Table) Lookup(id vm.MappingID) (Mapping, bool) {
	t.lock.Lock()
	defer t.lock.Unlock()

	m, ok := t.mappings[id]
	if !ok {
		return Mapping{}, false
	}

	return *m, true
}

// Mappings returns the active mappings in id order.
func (t *Table) Mappings() []Mapping {
	t.lock.Lock()
	defer t.lock.Unlock()

	list := make([]Mapping, 0, len(t.mappings))
	for _, m := range t.sorted() {
		list = append(list, *m)
	}

	return list
}

func (t *Table) sorted() []*Mapping {
	list := make([]*Mapping, 0, len(t.mappings))
	for _, m := range t.mappings {
		list = append(list, m)
	}

	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })

	return list
}

// Inherit gives t a copy of every mapping of parent under the same id, each
// with its own handle. The supplemental entries are not touched. It returns
// the new handles by id.
func (t *Table) Inherit(parent *Table) (map[vm.MappingID]vm.File, error) {
	parentMappings := parent.Mappings()

	t.lock.Lock()
	defer t.lock.Unlock()

	handles := make(map[vm.MappingID]vm.File, len(parentMappings))
	for _, pm := range parentMappings {
		handle, err := t.fs.Reopen(pm.File)
		if err != nil {
			for _, h := range handles {
				_ = t.fs.Close(h)
			}

			return nil, fmt.Errorf("inherit mapping %d: %w", pm.ID, err)
		}

		m := pm
		m.File = handle
		t.mappings[m.ID] = &m
		handles[m.ID] = handle
	}

	t.nextID = max(t.nextID, parent.peekNextID())

	return handles, nil
}

func (t *Table) peekNextID() vm.MappingID {
	t.lock.Lock()
	defer t.lock.Unlock()

	return t.nextID
}
