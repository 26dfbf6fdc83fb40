package frame

import (
	"log/slog"

	"github.com/sarchlab/vmcore/mem/vm"
	"github.com/sarchlab/vmcore/mem/vm/physmem"
	"github.com/sarchlab/vmcore/mem/vm/swap"
	"github.com/sarchlab/vmcore/sim"
)

// A Builder can build frame tables.
type Builder struct {
	pool   *physmem.Pool
	swap   *swap.Store
	files  FileWriter
	logger *slog.Logger
}

// MakeBuilder creates a new Builder.
func MakeBuilder() Builder {
	return Builder{
		logger: slog.Default(),
	}
}

// WithPool sets the user pool the frames are taken from.
func (b Builder) WithPool(pool *physmem.Pool) Builder {
	b.pool = pool
	return b
}

// WithSwap sets the swap store evicted anonymous pages are written to.
func (b Builder) WithSwap(store *swap.Store) Builder {
	b.swap = store
	return b
}

// WithFileWriter sets how evicted mapped pages are written back.
func (b Builder) WithFileWriter(files FileWriter) Builder {
	b.files = files
	return b
}

// WithLogger sets the logger.
func (b Builder) WithLogger(logger *slog.Logger) Builder {
	b.logger = logger
	return b
}

// Build creates a frame table.
func (b Builder) Build(name string) *Table {
	sim.NameMustBeValid(name)

	if b.pool == nil {
		panic("frame table needs a physical memory pool")
	}

	if b.swap == nil {
		panic("frame table needs a swap store")
	}

	if b.files == nil {
		panic("frame table needs a file writer")
	}

	return &Table{
		HookableBase: sim.NewHookableBase(),
		name:         name,
		logger:       b.logger,
		pool:         b.pool,
		swap:         b.swap,
		files:        b.files,
		index:        make(map[vm.FrameNum]*Frame),
	}
}
