// Package filesys is the file layer seen by the virtual-memory core. The
// layer is not reentrant, so every call goes through the single file-system
// lock held by FS.
package filesys

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/sarchlab/vmcore/mem/vm"
)

var (
	// ErrExists is returned when creating a file that already exists.
	ErrExists = errors.New("file exists")

	// ErrWriteDenied is returned when writing to a file whose writes are
	// denied, such as a running executable.
	ErrWriteDenied = errors.New("write denied")
)

var _ vm.FileSystem = (*FS)(nil)

// FS owns the file-system lock and a flat namespace of files.
type FS struct {
	lock  sync.Mutex
	files map[string]*inode
}

// New creates an empty file system.
func New() *FS {
	return &FS{
		files: make(map[string]*inode),
	}
}

// Create adds an empty file of size bytes.
func (fs *FS) Create(name string, size int64) error {
	fs.lock.Lock()
	defer fs.lock.Unlock()

	if _, found := fs.files[name]; found {
		return fmt.Errorf("create %s: %w", name, ErrExists)
	}

	fs.files[name] = &inode{name: name, data: make([]byte, size)}

	return nil
}

// Open returns a new handle to the named file.
func (fs *FS) Open(name string) (vm.File, error) {
	fs.lock.Lock()
	defer fs.lock.Unlock()

	ino, found := fs.files[name]
	if !found {
		return nil, fmt.Errorf("open %s: %w", name, os.ErrNotExist)
	}

	return ino.open(), nil
}

// OpenHost opens a file of the host file system.
func (fs *FS) OpenHost(path string) (vm.File, error) {
	fs.lock.Lock()
	defer fs.lock.Unlock()

	ino, found := fs.files[path]
	if !found {
		ino = &inode{name: path, host: true}
		fs.files[path] = ino
	}

	return openHostFile(ino)
}

// Remove unlinks the named file. Open handles keep working.
func (fs *FS) Remove(name string) error {
	fs.lock.Lock()
	defer fs.lock.Unlock()

	if _, found := fs.files[name]; !found {
		return fmt.Errorf("remove %s: %w", name, os.ErrNotExist)
	}

	delete(fs.files, name)

	return nil
}

// ReadAt reads from f under the file-system lock.
func (fs *FS) ReadAt(f vm.File, p []byte, off int64) (int, error) {
	fs.lock.Lock()
	defer fs.lock.Unlock()

	return f.ReadAt(p, off)
}

// WriteAt writes to f under the file-system lock.
func (fs *FS) WriteAt(f vm.File, p []byte, off int64) (int, error) {
	fs.lock.Lock()
	defer fs.lock.Unlock()

	return f.WriteAt(p, off)
}

// Length returns the length of f under the file-system lock.
func (fs *FS) Length(f vm.File) int64 {
	fs.lock.Lock()
	defer fs.lock.Unlock()

	return f.Length()
}

// Reopen returns an independent handle to the file of f.
func (fs *FS) Reopen(f vm.File) (vm.File, error) {
	fs.lock.Lock()
	defer fs.lock.Unlock()

	return f.Reopen()
}

// Close closes f under the file-system lock.
func (fs *FS) Close(f vm.File) error {
	fs.lock.Lock()
	defer fs.lock.Unlock()

	return f.Close()
}

// DenyWrite denies writes to the file of f.
func (fs *FS) DenyWrite(f vm.File) {
	fs.lock.Lock()
	defer fs.lock.Unlock()

	f.DenyWrite()
}
