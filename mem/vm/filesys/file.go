package filesys

import (
	"errors"
	"io"
	"os"

	"github.com/sarchlab/vmcore/mem/vm"
)

// ErrClosed is returned by operations on a closed handle.
var ErrClosed = errors.New("file already closed")

type inode struct {
	name      string
	data      []byte
	host      bool
	denyCount int
}

func (ino *inode) open() *MemFile {
	return &MemFile{ino: ino}
}

// MemFile is a handle to a file held in memory. Handles to the same file
// share the data and the deny-write count.
type MemFile struct {
	ino    *inode
	denied bool
	closed bool
}

// NewMemFile creates a detached file holding a copy of data.
func NewMemFile(name string, data []byte) *MemFile {
	ino := &inode{name: name, data: append([]byte(nil), data...)}
	return ino.open()
}

// Name returns the name of the file.
func (f *MemFile) Name() string {
	return f.ino.name
}

// ReadAt implements vm.File.
func (f *MemFile) ReadAt(p []byte, off int64) (int, error) {
	if f.closed {
		return 0, ErrClosed
	}

	if off >= int64(len(f.ino.data)) {
		return 0, io.EOF
	}

	n := copy(p, f.ino.data[off:])
	if n < len(p) {
		return n, io.EOF
	}

	return n, nil
}

// WriteAt implements vm.File.
func (f *MemFile) WriteAt(p []byte, off int64) (int, error) {
	if f.closed {
		return 0, ErrClosed
	}

	if f.ino.denyCount > 0 {
		return 0, ErrWriteDenied
	}

	end := off + int64(len(p))
	if end > int64(len(f.ino.data)) {
		grown := make([]byte, end)
		copy(grown, f.ino.data)
		f.ino.data = grown
	}

	return copy(f.ino.data[off:end], p), nil
}

// Length implements vm.File.
func (f *MemFile) Length() int64 {
	return int64(len(f.ino.data))
}

// Reopen implements vm.File.
func (f *MemFile) Reopen() (vm.File, error) {
	if f.closed {
		return nil, ErrClosed
	}

	return f.ino.open(), nil
}

// Close implements vm.File.
func (f *MemFile) Close() error {
	if f.closed {
		return ErrClosed
	}

	f.AllowWrite()
	f.closed = true

	return nil
}

// DenyWrite implements vm.File.
func (f *MemFile) DenyWrite() {
	if !f.denied {
		f.denied = true
		f.ino.denyCount++
	}
}

// AllowWrite implements vm.File.
func (f *MemFile) AllowWrite() {
	if f.denied {
		f.denied = false
		f.ino.denyCount--
	}
}

// IsWriteDenied implements vm.File.
func (f *MemFile) IsWriteDenied() bool {
	return f.ino.denyCount > 0
}

// HostFile is a handle to a file of the host file system.
type HostFile struct {
	ino    *inode
	file   *os.File
	denied bool
}

func openHostFile(ino *inode) (*HostFile, error) {
	file, err := os.OpenFile(ino.name, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}

	return &HostFile{ino: ino, file: file}, nil
}

// ReadAt implements vm.File.
func (f *HostFile) ReadAt(p []byte, off int64) (int, error) {
	return f.file.ReadAt(p, off)
}

// WriteAt implements vm.File.
func (f *HostFile) WriteAt(p []byte, off int64) (int, error) {
	if f.ino.denyCount > 0 {
		return 0, ErrWriteDenied
	}

	return f.file.WriteAt(p, off)
}

// Length implements vm.File.
func (f *HostFile) Length() int64 {
	info, err := f.file.Stat()
	if err != nil {
		return 0
	}

	return info.Size()
}

// Reopen implements vm.File.
func (f *HostFile) Reopen() (vm.File, error) {
	return openHostFile(f.ino)
}

// Close implements vm.File.
func (f *HostFile) Close() error {
	f.AllowWrite()
	return f.file.Close()
}

// DenyWrite implements vm.File.
func (f *HostFile) DenyWrite() {
	if !f.denied {
		f.denied = true
		f.ino.denyCount++
	}
}

// AllowWrite implements vm.File.
func (f *HostFile) AllowWrite() {
	if f.denied {
		f.denied = false
		f.ino.denyCount--
	}
}

// IsWriteDenied implements vm.File.
func (f *HostFile) IsWriteDenied() bool {
	return f.ino.denyCount > 0
}
