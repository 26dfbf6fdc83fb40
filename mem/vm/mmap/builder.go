package mmap

import (
	"log/slog"

	"github.com/sarchlab/vmcore/mem/vm"
	"github.com/sarchlab/vmcore/mem/vm/frame"
	"github.com/sarchlab/vmcore/sim"
)

// A Builder can build mapping tables.
type Builder struct {
	frames *frame.Table
	fs     vm.FileSystem
	logger *slog.Logger
}

// MakeBuilder creates a new Builder.
func MakeBuilder() Builder {
	return Builder{
		logger: slog.Default(),
	}
}

// WithFrameTable sets the frame table that holds the mapped pages.
func (b Builder) WithFrameTable(frames *frame.Table) Builder {
	b.frames = frames
	return b
}

// WithFileSystem sets the file layer.
func (b Builder) WithFileSystem(fs vm.FileSystem) Builder {
	b.fs = fs
	return b
}

// WithLogger sets the logger.
func (b Builder) WithLogger(logger *slog.Logger) Builder {
	b.logger = logger
	return b
}

// Build creates the mapping table of owner. Ids start at 0.
func (b Builder) Build(owner frame.Owner) *Table {
	if b.frames == nil || b.fs == nil {
		panic("mapping table needs a frame table and a file system")
	}

	return &Table{
		HookableBase: sim.NewHookableBase(),
		name:         sim.BuildName(owner.Name(), "MMap"),
		owner:        owner,
		frames:       b.frames,
		fs:           b.fs,
		logger:       b.logger,
		mappings:     make(map[vm.MappingID]*Mapping),
	}
}
