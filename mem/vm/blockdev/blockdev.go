// Package blockdev provides sector-addressed devices that can back the swap
// store.
package blockdev

import (
	"fmt"
	"sync"
)

// SectorSize is the size of one sector of the devices in this package.
const SectorSize = 512

// MemDevice is a block device held in memory.
type MemDevice struct {
	sync.Mutex
	name       string
	numSectors uint64
	data       []byte
}

// NewMemDevice creates an in-memory device with numSectors sectors.
func NewMemDevice(name string, numSectors uint64) *MemDevice {
	return &MemDevice{
		name:       name,
		numSectors: numSectors,
		data:       make([]byte, numSectors*SectorSize),
	}
}

// Name returns the name of the device.
func (d *MemDevice) Name() string {
	return d.name
}

// SectorSize returns the sector size in bytes.
func (d *MemDevice) SectorSize() int {
	return SectorSize
}

// NumSectors returns the number of sectors of the device.
func (d *MemDevice) NumSectors() uint64 {
	return d.numSectors
}

// ReadSector copies a sector into buf.
func (d *MemDevice) ReadSector(sector uint64, buf []byte) error {
	if err := checkAccess(d, sector, buf); err != nil {
		return err
	}

	d.Lock()
	defer d.Unlock()

	copy(buf[:SectorSize], d.data[sector*SectorSize:])

	return nil
}

// WriteSector copies buf into a sector.
func (d *MemDevice) WriteSector(sector uint64, buf []byte) error {
	if err := checkAccess(d, sector, buf); err != nil {
		return err
	}

	d.Lock()
	defer d.Unlock()

	copy(d.data[sector*SectorSize:(sector+1)*SectorSize], buf)

	return nil
}

type sized interface {
	Name() string
	NumSectors() uint64
}

func checkAccess(d sized, sector uint64, buf []byte) error {
	if sector >= d.NumSectors() {
		return fmt.Errorf("%s: sector %d out of range [0, %d)",
			d.Name(), sector, d.NumSectors())
	}

	if len(buf) < SectorSize {
		return fmt.Errorf("%s: buffer of %d bytes is smaller than a sector",
			d.Name(), len(buf))
	}

	return nil
}
