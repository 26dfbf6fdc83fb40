package physmem

import (
	"github.com/bits-and-blooms/bitset"

	"github.com/sarchlab/vmcore/mem/vm"
)

// A Builder can build physical memory pools.
type Builder struct {
	numFrames uint
}

// MakeBuilder creates a builder with a 1 MiB user pool.
func MakeBuilder() Builder {
	return Builder{
		numFrames: 256,
	}
}

// WithNumFrames sets the number of pages in the pool.
func (b Builder) WithNumFrames(n int) Builder {
	b.numFrames = uint(n)
	return b
}

// WithByteSize sets the pool size in bytes, rounded down to whole pages.
func (b Builder) WithByteSize(size uint64) Builder {
	b.numFrames = uint(size / vm.PageSize)
	return b
}

// Build creates the pool.
func (b Builder) Build() *Pool {
	if b.numFrames == 0 {
		panic("physical memory pool must have at least one frame")
	}

	return &Pool{
		numFrames: b.numFrames,
		used:      bitset.New(b.numFrames),
		units:     make(map[vm.FrameNum][]byte),
	}
}
