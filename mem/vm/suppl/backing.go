package suppl

import (
	"fmt"

	"github.com/sarchlab/vmcore/mem/vm"
	"github.com/sarchlab/vmcore/mem/vm/swap"
)

// Kind names the variants of Backing.
type Kind int

// The kinds of backing store a page can have.
const (
	KindZero Kind = iota
	KindFile
	KindMapped
	KindSwapped
)

func (k Kind) String() string {
	switch k {
	case KindZero:
		return "zero"
	case KindFile:
		return "file"
	case KindMapped:
		return "mmap"
	case KindSwapped:
		return "swap"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Backing describes where the content of a non-resident page comes from.
// The variants are ZeroFill, FileBacked, MemoryMapped and Swapped.
type Backing interface {
	Kind() Kind
	isBacking()
}

// ZeroFill pages start out as zeros.
type ZeroFill struct{}

// Kind returns KindZero.
func (ZeroFill) Kind() Kind { return KindZero }

func (ZeroFill) isBacking() {}

// FileBacked pages are filled with ReadBytes bytes of File at Offset and
// ZeroBytes zeros.
type FileBacked struct {
	File      vm.File
	Offset    int64
	ReadBytes uint32
	ZeroBytes uint32
}

// Kind returns KindFile.
func (FileBacked) Kind() Kind { return KindFile }

func (FileBacked) isBacking() {}

// MemoryMapped pages are filled like FileBacked pages and written back to
// the file when dirty.
type MemoryMapped struct {
	File      vm.File
	Offset    int64
	ReadBytes uint32
	ZeroBytes uint32
	Mapping   vm.MappingID
}

// Kind returns KindMapped.
func (MemoryMapped) Kind() Kind { return KindMapped }

func (MemoryMapped) isBacking() {}

// Swapped pages live in a swap slot. Prior is the backing the page had
// before it was swapped out and is either ZeroFill or FileBacked.
type Swapped struct {
	Slot  swap.Slot
	Prior Backing
}

// Kind returns KindSwapped.
func (Swapped) Kind() Kind { return KindSwapped }

func (Swapped) isBacking() {}

// Restore returns the backing the page goes back to once its slot is read.
func (s Swapped) Restore() Backing {
	return s.Prior
}

// ToSwap returns the backing of a page of backing b that was written to
// slot. Mapped pages go back to their file and never reach swap.
func ToSwap(b Backing, slot swap.Slot) Swapped {
	switch b := b.(type) {
	case ZeroFill, FileBacked:
		return Swapped{Slot: slot, Prior: b}
	default:
		panic(fmt.Sprintf("page of kind %s cannot be swapped", b.Kind()))
	}
}

// FileSource returns the file, offset and byte counts a page reads from, if
// any.
func FileSource(b Backing) (file vm.File, offset int64, read, zero uint32, ok bool) {
	switch b := b.(type) {
	case FileBacked:
		return b.File, b.Offset, b.ReadBytes, b.ZeroBytes, true
	case MemoryMapped:
		return b.File, b.Offset, b.ReadBytes, b.ZeroBytes, true
	default:
		return nil, 0, 0, 0, false
	}
}
