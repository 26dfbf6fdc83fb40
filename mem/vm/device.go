package vm

// A File is an open file handle as offered by the file-system layer. The
// handle is not safe for concurrent use; callers serialize through the
// file-system lock.
type File interface {
	// ReadAt reads len(p) bytes starting at off. It returns the number of
	// bytes read, which is short only at end of file.
	ReadAt(p []byte, off int64) (int, error)

	// WriteAt writes p at off, growing the file if needed.
	WriteAt(p []byte, off int64) (int, error)

	// Length returns the size of the file in bytes.
	Length() int64

	// Reopen returns an independent handle to the same file.
	Reopen() (File, error)

	// Close releases the handle.
	Close() error

	// DenyWrite prevents writes through any handle until AllowWrite is
	// called on this handle.
	DenyWrite()
	AllowWrite()
	IsWriteDenied() bool
}

// A BlockDevice is a sector-addressed storage device.
type BlockDevice interface {
	Name() string
	SectorSize() int
	NumSectors() uint64
	ReadSector(sector uint64, buf []byte) error
	WriteSector(sector uint64, buf []byte) error
}

// A FileSystem performs file operations under the single file-system lock.
type FileSystem interface {
	ReadAt(f File, p []byte, off int64) (int, error)
	WriteAt(f File, p []byte, off int64) (int, error)
	Length(f File) int64
	Reopen(f File) (File, error)
	Close(f File) error
}
