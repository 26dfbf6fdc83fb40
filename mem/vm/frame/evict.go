package frame

import (
	"fmt"

	"github.com/sarchlab/vmcore/mem/vm"
	"github.com/sarchlab/vmcore/mem/vm/suppl"
	"github.com/sarchlab/vmcore/tracing"
)

// evict reclaims a frame with the clock algorithm and rebinds it to owner.
func (t *Table) evict(owner Owner) (*Frame, error) {
	t.evictLock.Lock()
	defer t.evictLock.Unlock()

	// A frame may have been freed while waiting for the lock.
	if num, ok := t.pool.Alloc(true); ok {
		return t.register(num, owner), nil
	}

	t.lock.Lock()
	defer t.lock.Unlock()

	victim := t.selectVictim()
	if victim == nil {
		return nil, fmt.Errorf("no frame can be evicted: %w",
			vm.ErrResourceExhausted)
	}

	if err := t.save(victim); err != nil {
		return nil, err
	}

	t.logger.Debug("frame evicted",
		"frame", victim.num,
		"from", victim.owner.PID(),
		"vaddr", victim.vAddr,
		"to", owner.PID())

	tracing.Emit(t, tracing.Event{
		Kind:  tracing.EventEvict,
		PID:   victim.owner.PID(),
		VAddr: victim.vAddr,
		Frame: victim.num,
	})

	clear(t.pool.Page(victim.num))
	victim.owner = owner
	victim.vAddr = 0
	victim.bound = false
	t.stats.Evictions++

	return victim, nil
}

// selectVictim runs the clock from the hand. A frame whose accessed bit is
// set gets a second chance and its bit cleared. Unbound frames are being
// filled and are skipped. Must be called with the lock held.
func (t *Table) selectVictim() *Frame {
	n := len(t.frames)
	if n == 0 {
		return nil
	}

	var fallback *Frame

	for i := 0; i < 2*n; i++ {
		f := t.frames[t.hand]
		t.hand = (t.hand + 1) % n

		if !f.bound {
			continue
		}

		as := f.owner.AddressSpace()
		if as.IsAccessed(f.vAddr) {
			as.SetAccessed(f.vAddr, false)
			fallback = f

			continue
		}

		return f
	}

	// Pages touched again during the scan. Take the last one cleared.
	return fallback
}

// save moves the content of a victim out of memory and unmaps it. On
// failure the mapping is restored.
func (t *Table) save(victim *Frame) error {
	owner := victim.owner
	as := owner.AddressSpace()
	spt := owner.Supplemental()

	spt.Lock()
	defer spt.Unlock()

	pte, ok := as.Unmap(victim.vAddr)
	if !ok {
		panic(fmt.Sprintf("bound frame %d has no mapping at 0x%x",
			victim.num, victim.vAddr))
	}

	e, ok := spt.Lookup(victim.vAddr)
	if !ok {
		e = &suppl.Entry{
			VAddr:    victim.vAddr,
			Backing:  suppl.ZeroFill{},
			Writable: pte.Writable,
			Loaded:   true,
		}

		if err := spt.Insert(e); err != nil {
			panic(err)
		}
	}

	err := t.saveContent(victim, e, pte.Dirty)
	if err != nil {
		_ = as.Map(victim.vAddr, victim.num, pte.Writable)
		as.SetDirty(victim.vAddr, pte.Dirty)

		return fmt.Errorf("evicting frame %d: %w: %w",
			victim.num, vm.ErrResourceExhausted, err)
	}

	e.Loaded = false

	return nil
}

func (t *Table) saveContent(victim *Frame, e *suppl.Entry, dirty bool) error {
	page := t.pool.Page(victim.num)
	event := tracing.Event{
		PID:   victim.owner.PID(),
		VAddr: victim.vAddr,
		Frame: victim.num,
	}

	switch b := e.Backing.(type) {
	case suppl.MemoryMapped:
		if !dirty {
			t.drop(event)
			return nil
		}

		if _, err := t.files.WriteAt(b.File, page[:b.ReadBytes], b.Offset); err != nil {
			return err
		}

		t.stats.WriteBacks++
		event.Kind = tracing.EventWriteBack
		tracing.Emit(t, event)

		return nil
	case suppl.FileBacked:
		if !dirty {
			t.drop(event)
			return nil
		}
	case suppl.Swapped:
		panic(fmt.Sprintf("resident page 0x%x is marked swapped", e.VAddr))
	}

	slot, err := t.swap.WriteOut(page)
	if err != nil {
		return err
	}

	e.SwapOut(slot)
	t.stats.SwapOuts++

	event.Kind = tracing.EventSwapOut
	event.Slot = int64(slot)
	tracing.Emit(t, event)

	return nil
}

func (t *Table) drop(event tracing.Event) {
	t.stats.Drops++
	event.Kind = tracing.EventDrop
	tracing.Emit(t, event)
}
