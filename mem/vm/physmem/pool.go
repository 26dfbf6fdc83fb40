// Package physmem models the user pool of physical memory. Frames are handed
// out one page at a time and their bytes are only materialized when touched.
package physmem

import (
	"fmt"
	"sync"

	"github.com/bits-and-blooms/bitset"

	"github.com/sarchlab/vmcore/mem/vm"
)

// A Pool holds a fixed number of physical pages.
type Pool struct {
	sync.Mutex
	numFrames uint
	used      *bitset.BitSet
	units     map[vm.FrameNum][]byte
	next      uint
}

// Alloc takes a free frame from the pool. If zero is set, the content of the
// frame is cleared. The bool is false when the pool is exhausted.
func (p *Pool) Alloc(zero bool) (vm.FrameNum, bool) {
	p.Lock()
	defer p.Unlock()

	idx, found := p.used.NextClear(p.next)
	if !found || idx >= p.numFrames {
		idx, found = p.used.NextClear(0)
		if !found || idx >= p.numFrames {
			return vm.InvalidFrame, false
		}
	}

	p.used.Set(idx)
	p.next = (idx + 1) % p.numFrames

	frame := vm.FrameNum(idx)
	if zero {
		clear(p.unit(frame))
	}

	return frame, true
}

// Free returns a frame to the pool. Freeing a free frame is a bug.
func (p *Pool) Free(frame vm.FrameNum) {
	p.Lock()
	defer p.Unlock()

	p.frameMustBeUsed(frame)
	p.used.Clear(uint(frame))
}

// Page returns the bytes of an allocated frame. The slice aliases the frame.
func (p *Pool) Page(frame vm.FrameNum) []byte {
	p.Lock()
	defer p.Unlock()

	p.frameMustBeUsed(frame)

	return p.unit(frame)
}

func (p *Pool) unit(frame vm.FrameNum) []byte {
	unit, found := p.units[frame]
	if !found {
		unit = make([]byte, vm.PageSize)
		p.units[frame] = unit
	}

	return unit
}

func (p *Pool) frameMustBeUsed(frame vm.FrameNum) {
	if uint(frame) >= p.numFrames || !p.used.Test(uint(frame)) {
		panic(fmt.Sprintf("frame %d is not allocated", frame))
	}
}

// NumFrames returns the capacity of the pool.
func (p *Pool) NumFrames() int {
	return int(p.numFrames)
}

// NumFree returns the number of frames that can still be allocated without
// eviction.
func (p *Pool) NumFree() int {
	p.Lock()
	defer p.Unlock()

	return int(p.numFrames - p.used.Count())
}
