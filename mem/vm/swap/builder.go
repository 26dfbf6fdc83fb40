package swap

import (
	"fmt"
	"log/slog"

	"github.com/bits-and-blooms/bitset"

	"github.com/sarchlab/vmcore/mem/vm"
	"github.com/sarchlab/vmcore/sim"
)

// A Builder can build swap stores.
type Builder struct {
	device vm.BlockDevice
	logger *slog.Logger
}

// MakeBuilder creates a new Builder.
func MakeBuilder() Builder {
	return Builder{
		logger: slog.Default(),
	}
}

// WithDevice sets the block device that holds the slots.
func (b Builder) WithDevice(device vm.BlockDevice) Builder {
	b.device = device
	return b
}

// WithLogger sets the logger.
func (b Builder) WithLogger(logger *slog.Logger) Builder {
	b.logger = logger
	return b
}

// Build creates a swap store. The device must hold whole pages of sectors.
func (b Builder) Build(name string) *Store {
	sim.NameMustBeValid(name)

	if b.device == nil {
		panic("swap store needs a block device")
	}

	sectorSize := b.device.SectorSize()
	if sectorSize <= 0 || vm.PageSize%sectorSize != 0 {
		panic(fmt.Sprintf("sector size %d does not divide the page size",
			sectorSize))
	}

	sectorsPerPage := uint64(vm.PageSize / sectorSize)
	numSlots := uint(b.device.NumSectors() / sectorsPerPage)

	b.logger.Debug("swap store built",
		"store", name,
		"device", b.device.Name(),
		"slots", numSlots)

	return &Store{
		HookableBase:   sim.NewHookableBase(),
		name:           name,
		device:         b.device,
		logger:         b.logger,
		sectorsPerPage: sectorsPerPage,
		numSlots:       numSlots,
		used:           bitset.New(numSlots),
	}
}
