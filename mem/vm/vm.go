// Package vm provides the address-space primitive and the contracts shared by
// the virtual-memory core: page geometry, the file and block-device
// interfaces, and the error taxonomy.
package vm

// PID identifies an execution context (a user process).
type PID uint32

// FrameNum is the index of a physical page in the user pool.
type FrameNum uint32

// MappingID identifies a memory mapping inside one process.
type MappingID int

// InvalidFrame is returned when no frame is associated with an address.
const InvalidFrame = FrameNum(^uint32(0))

// Page geometry of the emulated 32-bit machine.
const (
	PageShift  = 12
	PageSize   = 1 << PageShift
	PageMask   = PageSize - 1
	PDShift    = 22
	PTEntries  = 1 << (PDShift - PageShift)
	PhysBase   = uint64(0xC0000000)
	StackLimit = uint64(8 << 20)
)

// PageRoundDown returns the address of the page that contains addr.
func PageRoundDown(addr uint64) uint64 {
	return addr &^ PageMask
}

// PageRoundUp rounds addr up to the next page boundary.
func PageRoundUp(addr uint64) uint64 {
	return (addr + PageMask) &^ PageMask
}

// PageOffset returns the offset of addr inside its page.
func PageOffset(addr uint64) uint64 {
	return addr & PageMask
}

// IsPageAligned tells if addr is the first byte of a page.
func IsPageAligned(addr uint64) bool {
	return PageOffset(addr) == 0
}

// IsUserAddress tells if addr lies in the user portion of the address space.
func IsUserAddress(addr uint64) bool {
	return addr < PhysBase
}

// PagesIn returns the number of pages needed to hold n bytes.
func PagesIn(n uint64) uint64 {
	return (n + PageMask) >> PageShift
}
