package vm

import (
	"sort"
	"sync"
)

// A PTE is an entry of the emulated hardware page table. It carries the
// bits the hardware maintains for the core: present, writable, accessed and
// dirty.
type PTE struct {
	Frame    FrameNum
	Present  bool
	Writable bool
	Accessed bool
	Dirty    bool
}

// An AddressSpace holds the virtual-to-physical mappings of one process.
type AddressSpace interface {
	// Map installs a mapping from the page containing vAddr to frame. It
	// fails with ErrAlreadyMapped if the page is already present.
	Map(vAddr uint64, frame FrameNum, writable bool) error

	// Unmap clears the mapping of the page containing vAddr and returns the
	// entry as it was just before. Clearing an absent page is a no-op.
	Unmap(vAddr uint64) (PTE, bool)

	// Lookup returns the frame backing the page containing vAddr.
	Lookup(vAddr uint64) (FrameNum, bool)

	// Find returns a copy of the entry of the page containing vAddr.
	Find(vAddr uint64) (PTE, bool)

	IsWritable(vAddr uint64) bool
	IsDirty(vAddr uint64) bool
	SetDirty(vAddr uint64, dirty bool)
	IsAccessed(vAddr uint64) bool
	SetAccessed(vAddr uint64, accessed bool)

	// Walk visits every present page in ascending address order. The walk
	// works on a snapshot, so fn may call back into the address space.
	// Returning false stops the walk.
	Walk(fn func(vAddr uint64, pte PTE) bool)

	// Access emulates one user access to vAddr: it sets the accessed bit,
	// sets the dirty bit for writes and runs fn with the updated entry while
	// no mapping change can happen. It returns ErrNotFound if the page is not
	// present and ErrBadAddress for writes to read-only pages.
	Access(vAddr uint64, write bool, fn func(pte PTE)) error

	// Inspect runs fn with the entry of the page containing vAddr while no
	// mapping change can happen. The accessed and dirty bits are left alone.
	Inspect(vAddr uint64, fn func(pte PTE)) error

	// NumPresent returns the number of present pages.
	NumPresent() int
}

// NewPageDirectory creates an empty two-level page directory.
func NewPageDirectory() *PageDirectory {
	return &PageDirectory{
		tables: make(map[uint64]*pageTable),
	}
}

// PageDirectory is the default AddressSpace: a page directory whose entries
// point to page tables of PTEntries entries each, allocated on first use.
type PageDirectory struct {
	sync.Mutex
	tables  map[uint64]*pageTable
	present int
}

type pageTable struct {
	entries [PTEntries]PTE
	present int
}

func pdIndex(vAddr uint64) uint64 {
	return vAddr >> PDShift
}

func ptIndex(vAddr uint64) uint64 {
	return (vAddr >> PageShift) & (PTEntries - 1)
}

// lookupPTE returns the entry for vAddr. If create is set, the page table is
// allocated when missing. Must be called with the lock held.
func (pd *PageDirectory) lookupPTE(vAddr uint64, create bool) *PTE {
	pdi := pdIndex(vAddr)

	table, found := pd.tables[pdi]
	if !found {
		if !create {
			return nil
		}

		table = new(pageTable)
		pd.tables[pdi] = table
	}

	return &table.entries[ptIndex(vAddr)]
}

func (pd *PageDirectory) presentPTE(vAddr uint64) *PTE {
	pte := pd.lookupPTE(vAddr, false)
	if pte == nil || !pte.Present {
		return nil
	}

	return pte
}

// Map installs a mapping for the page that contains vAddr.
func (pd *PageDirectory) Map(vAddr uint64, frame FrameNum, writable bool) error {
	if !IsUserAddress(vAddr) {
		return ErrBadAddress
	}

	pd.Lock()
	defer pd.Unlock()

	pte := pd.lookupPTE(vAddr, true)
	if pte.Present {
		return ErrAlreadyMapped
	}

	*pte = PTE{
		Frame:    frame,
		Present:  true,
		Writable: writable,
	}

	pd.tables[pdIndex(vAddr)].present++
	pd.present++

	return nil
}

// Unmap marks the page that contains vAddr not present.
func (pd *PageDirectory) Unmap(vAddr uint64) (PTE, bool) {
	pd.Lock()
	defer pd.Unlock()

	pte := pd.presentPTE(vAddr)
	if pte == nil {
		return PTE{}, false
	}

	old := *pte
	*pte = PTE{}

	pdi := pdIndex(vAddr)
	table := pd.tables[pdi]
	table.present--
	pd.present--

	if table.present == 0 {
		delete(pd.tables, pdi)
	}

	return old, true
}

// Lookup returns the frame that backs vAddr.
func (pd *PageDirectory) Lookup(vAddr uint64) (FrameNum, bool) {
	pd.Lock()
	defer pd.Unlock()

	pte := pd.presentPTE(vAddr)
	if pte == nil {
		return InvalidFrame, false
	}

	return pte.Frame, true
}

// Find returns a copy of the entry for vAddr.
func (pd *PageDirectory) Find(vAddr uint64) (PTE, bool) {
	pd.Lock()
	defer pd.Unlock()

	pte := pd.presentPTE(vAddr)
	if pte == nil {
		return PTE{}, false
	}

	return *pte, true
}

// IsWritable tells if the page containing vAddr is mapped writable.
func (pd *PageDirectory) IsWritable(vAddr uint64) bool {
	pte, found := pd.Find(vAddr)
	return found && pte.Writable
}

// IsDirty tells if the page containing vAddr has been written since its dirty
// bit was last cleared.
func (pd *PageDirectory) IsDirty(vAddr uint64) bool {
	pte, found := pd.Find(vAddr)
	return found && pte.Dirty
}

// SetDirty sets or clears the dirty bit. It does nothing for absent pages.
func (pd *PageDirectory) SetDirty(vAddr uint64, dirty bool) {
	pd.Lock()
	defer pd.Unlock()

	if pte := pd.presentPTE(vAddr); pte != nil {
		pte.Dirty = dirty
	}
}

// IsAccessed tells if the page containing vAddr has been accessed since its
// accessed bit was last cleared.
func (pd *PageDirectory) IsAccessed(vAddr uint64) bool {
	pte, found := pd.Find(vAddr)
	return found && pte.Accessed
}

// SetAccessed sets or clears the accessed bit. It does nothing for absent
// pages.
func (pd *PageDirectory) SetAccessed(vAddr uint64, accessed bool) {
	pd.Lock()
	defer pd.Unlock()

	if pte := pd.presentPTE(vAddr); pte != nil {
		pte.Accessed = accessed
	}
}

type walkedPage struct {
	vAddr uint64
	pte   PTE
}

// Walk visits the present pages in page-directory order.
func (pd *PageDirectory) Walk(fn func(vAddr uint64, pte PTE) bool) {
	for _, p := range pd.snapshot() {
		if !fn(p.vAddr, p.pte) {
			return
		}
	}
}

func (pd *PageDirectory) snapshot() []walkedPage {
	pd.Lock()
	defer pd.Unlock()

	pdis := make([]uint64, 0, len(pd.tables))
	for pdi := range pd.tables {
		pdis = append(pdis, pdi)
	}

	sort.Slice(pdis, func(i, j int) bool { return pdis[i] < pdis[j] })

	pages := make([]walkedPage, 0, pd.present)
	for _, pdi := range pdis {
		table := pd.tables[pdi]
		for pti, pte := range table.entries {
			if !pte.Present {
				continue
			}

			vAddr := pdi<<PDShift | uint64(pti)<<PageShift
			pages = append(pages, walkedPage{vAddr: vAddr, pte: pte})
		}
	}

	return pages
}

// Access performs an emulated user access.
func (pd *PageDirectory) Access(
	vAddr uint64,
	write bool,
	fn func(pte PTE),
) error {
	pd.Lock()
	defer pd.Unlock()

	pte := pd.presentPTE(vAddr)
	if pte == nil {
		return ErrNotFound
	}

	if write && !pte.Writable {
		return ErrBadAddress
	}

	pte.Accessed = true
	if write {
		pte.Dirty = true
	}

	if fn != nil {
		fn(*pte)
	}

	return nil
}

// Inspect reads a present page without counting as an access.
func (pd *PageDirectory) Inspect(vAddr uint64, fn func(pte PTE)) error {
	pd.Lock()
	defer pd.Unlock()

	pte := pd.presentPTE(vAddr)
	if pte == nil {
		return ErrNotFound
	}

	fn(*pte)

	return nil
}

// NumPresent returns the number of present pages.
func (pd *PageDirectory) NumPresent() int {
	pd.Lock()
	defer pd.Unlock()

	return pd.present
}
