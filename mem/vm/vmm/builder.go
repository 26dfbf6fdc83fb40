package vmm

import (
	"log/slog"

	"github.com/sarchlab/vmcore/mem/vm"
	"github.com/sarchlab/vmcore/mem/vm/blockdev"
	"github.com/sarchlab/vmcore/mem/vm/filesys"
	"github.com/sarchlab/vmcore/mem/vm/frame"
	"github.com/sarchlab/vmcore/mem/vm/physmem"
	"github.com/sarchlab/vmcore/mem/vm/swap"
	"github.com/sarchlab/vmcore/sim"
)

// A Builder can build managers.
type Builder struct {
	numFrames  int
	swapDevice vm.BlockDevice
	fs         vm.FileSystem
	logger     *slog.Logger
}

// MakeBuilder creates a builder for a manager with 256 frames and 1024 swap
// slots held in memory.
func MakeBuilder() Builder {
	return Builder{
		numFrames: 256,
		logger:    slog.Default(),
	}
}

// WithNumFrames sets the number of frames of the user pool.
func (b Builder) WithNumFrames(n int) Builder {
	b.numFrames = n
	return b
}

// WithSwapDevice sets the block device used for swap.
func (b Builder) WithSwapDevice(device vm.BlockDevice) Builder {
	b.swapDevice = device
	return b
}

// WithFileSystem sets the file layer.
func (b Builder) WithFileSystem(fs vm.FileSystem) Builder {
	b.fs = fs
	return b
}

// WithLogger sets the logger shared by every component.
func (b Builder) WithLogger(logger *slog.Logger) Builder {
	b.logger = logger
	return b
}

// Build creates a manager.
func (b Builder) Build(name string) *Manager {
	sim.NameMustBeValid(name)

	device := b.swapDevice
	if device == nil {
		device = blockdev.NewMemDevice(sim.BuildName(name, "SwapDevice"),
			1024*vm.PageSize/blockdev.SectorSize)
	}

	fs := b.fs
	if fs == nil {
		fs = filesys.New()
	}

	pool := physmem.MakeBuilder().
		WithNumFrames(b.numFrames).
		Build()
	store := swap.MakeBuilder().
		WithDevice(device).
		WithLogger(b.logger).
		Build(sim.BuildName(name, "Swap"))
	frames := frame.MakeBuilder().
		WithPool(pool).
		WithSwap(store).
		WithFileWriter(fs).
		WithLogger(b.logger).
		Build(sim.BuildName(name, "FrameTable"))

	return &Manager{
		HookableBase: sim.NewHookableBase(),
		name:         name,
		logger:       b.logger,
		frames:       frames,
		swap:         store,
		fs:           fs,
		processes:    make(map[vm.PID]*Process),
	}
}
