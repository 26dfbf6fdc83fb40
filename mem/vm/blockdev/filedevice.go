package blockdev

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// FileDevice is a block device backed by an image file on the host.
type FileDevice struct {
	name       string
	file       *os.File
	numSectors uint64
}

// OpenFileDevice opens or creates the image at path and sizes it to
// numSectors sectors.
func OpenFileDevice(path string, numSectors uint64) (*FileDevice, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open swap image: %w", err)
	}

	err = unix.Ftruncate(int(f.Fd()), int64(numSectors*SectorSize))
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("size swap image %s: %w", path, err)
	}

	return &FileDevice{
		name:       path,
		file:       f,
		numSectors: numSectors,
	}, nil
}

// Name returns the path of the image.
func (d *FileDevice) Name() string {
	return d.name
}

// SectorSize returns the sector size in bytes.
func (d *FileDevice) SectorSize() int {
	return SectorSize
}

// NumSectors returns the number of sectors of the device.
func (d *FileDevice) NumSectors() uint64 {
	return d.numSectors
}

// ReadSector reads one sector of the image into buf.
func (d *FileDevice) ReadSector(sector uint64, buf []byte) error {
	if err := checkAccess(d, sector, buf); err != nil {
		return err
	}

	n, err := unix.Pread(int(d.file.Fd()), buf[:SectorSize],
		int64(sector*SectorSize))
	if err != nil {
		return fmt.Errorf("%s: read sector %d: %w", d.name, sector, err)
	}

	if n != SectorSize {
		return fmt.Errorf("%s: read sector %d: got %d bytes",
			d.name, sector, n)
	}

	return nil
}

// WriteSector writes buf to one sector of the image.
func (d *FileDevice) WriteSector(sector uint64, buf []byte) error {
	if err := checkAccess(d, sector, buf); err != nil {
		return err
	}

	_, err := unix.Pwrite(int(d.file.Fd()), buf[:SectorSize],
		int64(sector*SectorSize))
	if err != nil {
		return fmt.Errorf("%s: write sector %d: %w", d.name, sector, err)
	}

	return nil
}

// Sync flushes the image to stable storage.
func (d *FileDevice) Sync() error {
	return unix.Fsync(int(d.file.Fd()))
}

// Close syncs and closes the image.
func (d *FileDevice) Close() error {
	if err := d.Sync(); err != nil {
		d.file.Close()
		return err
	}

	return d.file.Close()
}
