// Package suppl implements the supplemental page table: per-process records
// of how to fill every virtual page that is not necessarily resident.
package suppl

import (
	"fmt"
	"sort"
	"sync"

	"github.com/sarchlab/vmcore/mem/vm"
	"github.com/sarchlab/vmcore/mem/vm/swap"
)

// An Entry describes one virtual page of a process.
type Entry struct {
	VAddr    uint64
	Backing  Backing
	Writable bool

	// Loaded is set while a frame is installed for the page.
	Loaded bool
}

// Kind returns the kind of the backing of the entry.
func (e *Entry) Kind() Kind {
	return e.Backing.Kind()
}

// IsMapped tells if the page belongs to a memory mapping.
func (e *Entry) IsMapped() bool {
	_, ok := e.Backing.(MemoryMapped)
	return ok
}

// SwapOut records that the page was written to slot and is no longer
// resident.
func (e *Entry) SwapOut(slot swap.Slot) {
	e.Backing = ToSwap(e.Backing, slot)
	e.Loaded = false
}

// SwapIn records that the page was read back from its slot and returns the
// slot it was read from.
func (e *Entry) SwapIn() swap.Slot {
	s := e.Backing.(Swapped)
	e.Backing = s.Restore()
	e.Loaded = true

	return s.Slot
}

// A Table is the supplemental page table of one process. The caller must
// hold the table lock around every method, and across any sequence of calls
// that must observe a consistent table.
type Table struct {
	sync.Mutex
	entries map[uint64]*Entry
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{
		entries: make(map[uint64]*Entry),
	}
}

// Lookup returns the entry of the page that contains vAddr.
func (t *Table) Lookup(vAddr uint64) (*Entry, bool) {
	e, ok := t.entries[vm.PageRoundDown(vAddr)]
	return e, ok
}

// Insert adds an entry. The address of the entry must be page aligned and
// not already present.
func (t *Table) Insert(e *Entry) error {
	if !vm.IsPageAligned(e.VAddr) || !vm.IsUserAddress(e.VAddr) {
		return fmt.Errorf("page 0x%x: %w", e.VAddr, vm.ErrBadAddress)
	}

	if _, ok := t.entries[e.VAddr]; ok {
		return fmt.Errorf("page 0x%x: %w", e.VAddr, vm.ErrAlreadyMapped)
	}

	t.entries[e.VAddr] = e

	return nil
}

// InsertFileBacked declares a page filled from file.
func (t *Table) InsertFileBacked(
	vAddr uint64,
	file vm.File,
	offset int64,
	readBytes, zeroBytes uint32,
	writable bool,
) error {
	if err := pageSplitMustBeWhole(readBytes, zeroBytes); err != nil {
		return err
	}

	return t.Insert(&Entry{
		VAddr: vAddr,
		Backing: FileBacked{
			File:      file,
			Offset:    offset,
			ReadBytes: readBytes,
			ZeroBytes: zeroBytes,
		},
		Writable: writable,
	})
}

// InsertMapped declares a page of memory mapping id. Mapped pages are
// always writable.
func (t *Table) InsertMapped(
	file vm.File,
	offset int64,
	vAddr uint64,
	readBytes, zeroBytes uint32,
	id vm.MappingID,
) error {
	if err := pageSplitMustBeWhole(readBytes, zeroBytes); err != nil {
		return err
	}

	return t.Insert(&Entry{
		VAddr: vAddr,
		Backing: MemoryMapped{
			File:      file,
			Offset:    offset,
			ReadBytes: readBytes,
			ZeroBytes: zeroBytes,
			Mapping:   id,
		},
		Writable: true,
	})
}

// InsertZero declares a zero-filled page.
func (t *Table) InsertZero(vAddr uint64, writable bool) error {
	return t.Insert(&Entry{
		VAddr:    vAddr,
		Backing:  ZeroFill{},
		Writable: writable,
	})
}

func pageSplitMustBeWhole(readBytes, zeroBytes uint32) error {
	if readBytes+zeroBytes != vm.PageSize {
		return fmt.Errorf("%d+%d bytes do not make a page: %w",
			readBytes, zeroBytes, vm.ErrInvalidMapping)
	}

	return nil
}

// Remove deletes the entry of the page that contains vAddr and returns it.
func (t *Table) Remove(vAddr uint64) (*Entry, bool) {
	key := vm.PageRoundDown(vAddr)

	e, ok := t.entries[key]
	if ok {
		delete(t.entries, key)
	}

	return e, ok
}

// Update replaces the backing of the page that contains vAddr.
func (t *Table) Update(vAddr uint64, b Backing) error {
	e, ok := t.Lookup(vAddr)
	if !ok {
		return fmt.Errorf("page 0x%x: %w", vAddr, vm.ErrNotFound)
	}

	e.Backing = b

	return nil
}

// Clear removes every entry.
func (t *Table) Clear() {
	clear(t.entries)
}

// Len returns the number of entries.
func (t *Table) Len() int {
	return len(t.entries)
}

// Snapshot returns copies of all entries in ascending address order.
func (t *Table) Snapshot() []Entry {
	list := make([]Entry, 0, len(t.entries))
	for _, e := range t.entries {
		list = append(list, *e)
	}

	sort.Slice(list, func(i, j int) bool {
		return list[i].VAddr < list[j].VAddr
	})

	return list
}

// RangeFree tells if none of the numPages pages starting at start has an
// entry.
func (t *Table) RangeFree(start uint64, numPages uint64) bool {
	for i := uint64(0); i < numPages; i++ {
		if _, ok := t.entries[start+i*vm.PageSize]; ok {
			return false
		}
	}

	return true
}

// Slots returns the swap slots held by the table's entries.
func (t *Table) Slots() []swap.Slot {
	var slots []swap.Slot

	for _, e := range t.entries {
		if s, ok := e.Backing.(Swapped); ok {
			slots = append(slots, s.Slot)
		}
	}

	return slots
}
