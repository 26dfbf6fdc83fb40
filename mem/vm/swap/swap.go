// Package swap implements the swap store: a slot allocator over a block
// device where each slot holds one page.
package swap

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/bits-and-blooms/bitset"

	"github.com/sarchlab/vmcore/mem/vm"
	"github.com/sarchlab/vmcore/sim"
	"github.com/sarchlab/vmcore/tracing"
)

// A Slot is the index of a page-sized region of the swap device.
type Slot uint32

// Store hands out swap slots and moves pages in and out of them.
type Store struct {
	*sim.HookableBase

	name           string
	device         vm.BlockDevice
	logger         *slog.Logger
	sectorsPerPage uint64
	numSlots       uint

	lock sync.Mutex
	used *bitset.BitSet
}

// Name returns the name of the store.
func (s *Store) Name() string {
	return s.name
}

// WriteOut claims the first free slot and writes page into it. It fails
// with vm.ErrResourceExhausted when every slot is occupied.
func (s *Store) WriteOut(page []byte) (Slot, error) {
	pageMustBeWhole(page)

	slot, ok := s.claim()
	if !ok {
		s.logger.Warn("swap exhausted", "store", s.name, "slots", s.numSlots)
		return 0, fmt.Errorf("swap %s: %w", s.name, vm.ErrResourceExhausted)
	}

	if err := s.transfer(slot, page, s.device.WriteSector); err != nil {
		s.release(slot)
		return 0, fmt.Errorf("swap %s slot %d: %w", s.name, slot, err)
	}

	tracing.Emit(s, tracing.Event{Kind: tracing.EventSwapOut, Slot: int64(slot)})

	return slot, nil
}

// ReadIn copies the page held in slot into dst and frees the slot. Reading a
// free slot is a bug.
func (s *Store) ReadIn(slot Slot, dst []byte) error {
	pageMustBeWhole(dst)
	s.slotMustBeUsed(slot)

	if err := s.transfer(slot, dst, s.device.ReadSector); err != nil {
		return fmt.Errorf("swap %s slot %d: %w", s.name, slot, err)
	}

	s.release(slot)

	tracing.Emit(s, tracing.Event{Kind: tracing.EventSwapIn, Slot: int64(slot)})

	return nil
}

// Clone copies the page held in slot into a new slot. The original slot
// stays occupied.
func (s *Store) Clone(slot Slot) (Slot, error) {
	s.slotMustBeUsed(slot)

	buf := make([]byte, vm.PageSize)
	if err := s.transfer(slot, buf, s.device.ReadSector); err != nil {
		return 0, fmt.Errorf("swap %s slot %d: %w", s.name, slot, err)
	}

	return s.WriteOut(buf)
}

// Free discards the content of an occupied slot.
func (s *Store) Free(slot Slot) {
	s.slotMustBeUsed(slot)
	s.release(slot)
}

// IsUsed tells if a slot is occupied.
func (s *Store) IsUsed(slot Slot) bool {
	s.lock.Lock()
	defer s.lock.Unlock()

	return uint(slot) < s.numSlots && s.used.Test(uint(slot))
}

// Used returns the number of occupied slots.
func (s *Store) Used() int {
	s.lock.Lock()
	defer s.lock.Unlock()

	return int(s.used.Count())
}

// Capacity returns the number of slots of the store.
func (s *Store) Capacity() int {
	return int(s.numSlots)
}

func (s *Store) claim() (Slot, bool) {
	s.lock.Lock()
	defer s.lock.Unlock()

	idx, found := s.used.NextClear(0)
	if !found || idx >= s.numSlots {
		return 0, false
	}

	s.used.Set(idx)

	return Slot(idx), true
}

func (s *Store) release(slot Slot) {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.used.Clear(uint(slot))
}

func (s *Store) transfer(
	slot Slot,
	page []byte,
	op func(sector uint64, buf []byte) error,
) error {
	sectorSize := uint64(s.device.SectorSize())
	first := uint64(slot) * s.sectorsPerPage

	for i := uint64(0); i < s.sectorsPerPage; i++ {
		buf := page[i*sectorSize : (i+1)*sectorSize]
		if err := op(first+i, buf); err != nil {
			return err
		}
	}

	return nil
}

func (s *Store) slotMustBeUsed(slot Slot) {
	if !s.IsUsed(slot) {
		panic(fmt.Sprintf("swap slot %d is not occupied", slot))
	}
}

func pageMustBeWhole(page []byte) {
	if len(page) != vm.PageSize {
		panic(fmt.Sprintf("swap transfers whole pages, got %d bytes", len(page)))
	}
}
