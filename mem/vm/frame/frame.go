// Package frame implements the frame table: the registry of physical frames
// committed to user pages, with clock eviction to swap or back to files.
package frame

import (
	"github.com/sarchlab/vmcore/mem/vm"
	"github.com/sarchlab/vmcore/mem/vm/suppl"
)

// An Owner is a process that frames can be committed to.
type Owner interface {
	Name() string
	PID() vm.PID
	AddressSpace() vm.AddressSpace
	Supplemental() *suppl.Table
}

// A FileWriter writes pages back to files under the file-system lock.
type FileWriter interface {
	WriteAt(f vm.File, p []byte, off int64) (int, error)
}

// A Frame is one physical page committed to a process. A frame is bound once
// it backs a mapped virtual address. Only bound frames are eviction
// candidates.
type Frame struct {
	num   vm.FrameNum
	owner Owner
	vAddr uint64
	bound bool
}

// Num returns the physical frame number.
func (f *Frame) Num() vm.FrameNum {
	return f.num
}

// Info is a snapshot of a frame.
type Info struct {
	Num   vm.FrameNum
	PID   vm.PID
	VAddr uint64
	Bound bool
}

// Stats counts what the frame table did.
type Stats struct {
	Resident    int
	Allocations uint64
	Evictions   uint64
	SwapOuts    uint64
	WriteBacks  uint64
	Drops       uint64
}
