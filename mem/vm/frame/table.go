package frame

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/sarchlab/vmcore/mem/vm"
	"github.com/sarchlab/vmcore/mem/vm/physmem"
	"github.com/sarchlab/vmcore/mem/vm/swap"
	"github.com/sarchlab/vmcore/sim"
)

// Table is the frame table.
//
// Locks are taken in the order evictLock, lock, the supplemental table of
// the victim, then the file-system or swap lock. Address spaces lock
// internally and are always innermost.
type Table struct {
	*sim.HookableBase

	name   string
	logger *slog.Logger
	pool   *physmem.Pool
	swap   *swap.Store
	files  FileWriter

	evictLock sync.Mutex

	lock   sync.Mutex
	frames []*Frame
	index  map[vm.FrameNum]*Frame
	hand   int
	stats  Stats
}

// Name returns the name of the table.
func (t *Table) Name() string {
	return t.name
}

// Allocate commits a zeroed frame to owner. When the pool is empty, a frame
// is evicted and rebound to owner. The frame is not an eviction candidate
// until it is bound.
func (t *Table) Allocate(owner Owner) (*Frame, error) {
	if num, ok := t.pool.Alloc(true); ok {
		return t.register(num, owner), nil
	}

	return t.evict(owner)
}

func (t *Table) register(num vm.FrameNum, owner Owner) *Frame {
	t.lock.Lock()
	defer t.lock.Unlock()

	if _, ok := t.index[num]; ok {
		panic(fmt.Sprintf("frame %d registered twice", num))
	}

	f := &Frame{num: num, owner: owner}
	t.frames = append(t.frames, f)
	t.index[num] = f
	t.stats.Allocations++

	return f
}

// Bind records that f backs vAddr in the address space of its owner. The
// caller must have installed the mapping.
func (t *Table) Bind(f *Frame, vAddr uint64) {
	t.lock.Lock()
	defer t.lock.Unlock()

	t.frameMustBeRegistered(f)

	f.vAddr = vm.PageRoundDown(vAddr)
	f.bound = true
}

// Release unregisters f and returns its page to the pool. The caller must
// have removed any mapping to it.
func (t *Table) Release(f *Frame) {
	t.lock.Lock()
	defer t.lock.Unlock()

	t.frameMustBeRegistered(f)
	t.unregister(f)
}

// ReleaseAll unmaps and frees every frame of owner and returns how many
// were freed. The contents are discarded and the supplemental entries of the
// released pages are marked not loaded.
func (t *Table) ReleaseAll(owner Owner) int {
	t.lock.Lock()
	defer t.lock.Unlock()

	spt := owner.Supplemental()
	spt.Lock()
	defer spt.Unlock()

	var mine []*Frame
	for _, f := range t.frames {
		if f.owner == owner {
			mine = append(mine, f)
		}
	}

	for _, f := range mine {
		if f.bound {
			owner.AddressSpace().Unmap(f.vAddr)

			if e, ok := spt.Lookup(f.vAddr); ok {
				e.Loaded = false
			}
		}

		t.unregister(f)
	}

	return len(mine)
}

// ReleasePage frees the frame backing vAddr in the address space of owner,
// if any. When the page is dirty, flush is given its content first. It
// returns whether a frame was freed.
func (t *Table) ReleasePage(
	owner Owner,
	vAddr uint64,
	flush func(page []byte) error,
) (bool, error) {
	t.lock.Lock()
	defer t.lock.Unlock()

	vAddr = vm.PageRoundDown(vAddr)
	as := owner.AddressSpace()

	num, ok := as.Lookup(vAddr)
	if !ok {
		return false, nil
	}

	f, ok := t.index[num]
	if !ok || f.owner != owner || !f.bound || f.vAddr != vAddr {
		panic(fmt.Sprintf("page 0x%x of process %d has no frame record",
			vAddr, owner.PID()))
	}

	pte, _ := as.Unmap(vAddr)
	if pte.Dirty && flush != nil {
		if err := flush(t.pool.Page(num)); err != nil {
			_ = as.Map(vAddr, num, pte.Writable)
			as.SetDirty(vAddr, true)

			return false, err
		}
	}

	t.unregister(f)

	return true, nil
}

func (t *Table) unregister(f *Frame) {
	for i, g := range t.frames {
		if g != f {
			continue
		}

		t.frames = append(t.frames[:i], t.frames[i+1:]...)
		if t.hand > i {
			t.hand--
		}

		if t.hand >= len(t.frames) {
			t.hand = 0
		}

		break
	}

	delete(t.index, f.num)
	t.pool.Free(f.num)
}

func (t *Table) frameMustBeRegistered(f *Frame) {
	if g, ok := t.index[f.num]; !ok || g != f {
		panic(fmt.Sprintf("frame %d is not registered", f.num))
	}
}

// Page returns the bytes of a frame.
func (t *Table) Page(f *Frame) []byte {
	return t.pool.Page(f.num)
}

// PageOf returns the bytes of a frame by number.
func (t *Table) PageOf(num vm.FrameNum) []byte {
	return t.pool.Page(num)
}

// Len returns the number of registered frames.
func (t *Table) Len() int {
	t.lock.Lock()
	defer t.lock.Unlock()

	return len(t.frames)
}

// Hand returns the position of the clock hand.
func (t *Table) Hand() int {
	t.lock.Lock()
	defer t.lock.Unlock()

	return t.hand
}

// Frames returns a snapshot of the registry in clock order.
func (t *Table) Frames() []Info {
	t.lock.Lock()
	defer t.lock.Unlock()

	list := make([]Info, 0, len(t.frames))
	for _, f := range t.frames {
		list = append(list, Info{
			Num:   f.num,
			PID:   f.owner.PID(),
			VAddr: f.vAddr,
			Bound: f.bound,
		})
	}

	return list
}

// Stats returns the counters of the table.
func (t *Table) Stats() Stats {
	t.lock.Lock()
	defer t.lock.Unlock()

	s := t.stats
	s.Resident = len(t.frames)

	return s
}

// Swap returns the swap store evicted pages go to.
func (t *Table) Swap() *swap.Store {
	return t.swap
}

// Pool returns the physical pool the frames come from.
func (t *Table) Pool() *physmem.Pool {
	return t.pool
}
