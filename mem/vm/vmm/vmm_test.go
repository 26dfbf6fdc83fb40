package vmm

import (
	"errors"
	"io"
	"log/slog"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/sarchlab/vmcore/mem/vm"
	"github.com/sarchlab/vmcore/mem/vm/blockdev"
	"github.com/sarchlab/vmcore/mem/vm/filesys"
	"github.com/sarchlab/vmcore/mem/vm/suppl"
	"github.com/sarchlab/vmcore/tracing"
)

const base = uint64(0x10000000)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newManager(numFrames int, fs vm.FileSystem) *Manager {
	return MakeBuilder().
		WithNumFrames(numFrames).
		WithSwapDevice(blockdev.NewMemDevice("swap",
			64*vm.PageSize/blockdev.SectorSize)).
		WithFileSystem(fs).
		WithLogger(quietLogger()).
		Build("VM")
}

func pattern(seed byte) []byte {
	page := make([]byte, vm.PageSize)
	for i := range page {
		page[i] = seed ^ byte(i*31)
	}

	return page
}

func declareZero(p *Process, vAddr uint64) {
	p.Supplemental().Lock()
	defer p.Supplemental().Unlock()

	Expect(p.Supplemental().InsertZero(vAddr, true)).To(Succeed())
}

func entryOf(p *Process, vAddr uint64) suppl.Entry {
	p.Supplemental().Lock()
	defer p.Supplemental().Unlock()

	e, ok := p.Supplemental().Lookup(vAddr)
	Expect(ok).To(BeTrue())

	return *e
}

func readPage(p *Process, vAddr uint64) []byte {
	buf := make([]byte, vm.PageSize)
	Expect(p.Read(vAddr, buf)).To(Succeed())

	return buf
}

var _ = Describe("Fault resolution", func() {
	var (
		mgr *Manager
		p   *Process
	)

	BeforeEach(func() {
		mgr = newManager(8, filesys.New())
		p = mgr.NewProcess()
	})

	It("should load zero pages", func() {
		declareZero(p, base)

		Expect(mgr.ResolveFault(p, base+0x123)).To(Succeed())

		Expect(mgr.Frames().Len()).To(Equal(1))
		Expect(entryOf(p, base).Loaded).To(BeTrue())
		Expect(readPage(p, base)).To(Equal(make([]byte, vm.PageSize)))
	})

	It("should do nothing for loaded pages", func() {
		declareZero(p, base)
		Expect(mgr.ResolveFault(p, base)).To(Succeed())

		Expect(mgr.ResolveFault(p, base)).To(Succeed())

		Expect(mgr.Frames().Len()).To(Equal(1))
		Expect(mgr.Stats().Faults).To(Equal(uint64(1)))
	})

	It("should report unknown and kernel addresses", func() {
		err := mgr.ResolveFault(p, base)
		Expect(errors.Is(err, vm.ErrNotFound)).To(BeTrue())

		err = mgr.ResolveFault(p, vm.PhysBase)
		Expect(errors.Is(err, vm.ErrBadAddress)).To(BeTrue())

		err = p.Read(vm.PhysBase+8, make([]byte, 4))
		Expect(errors.Is(err, vm.ErrBadAddress)).To(BeTrue())
	})

	It("should access memory across page boundaries", func() {
		declareZero(p, base)
		declareZero(p, base+vm.PageSize)

		Expect(p.Write(base+vm.PageSize-2, []byte{1, 2, 3, 4})).To(Succeed())

		buf := make([]byte, 4)
		Expect(p.Read(base+vm.PageSize-2, buf)).To(Succeed())
		Expect(buf).To(Equal([]byte{1, 2, 3, 4}))
		Expect(mgr.Frames().Len()).To(Equal(2))
	})

	It("should report faults to tracers", func() {
		counts := tracing.NewCountTracer(tracing.AllEvents)
		for _, d := range mgr.Domains() {
			tracing.CollectTrace(d, counts)
		}
		declareZero(p, base)

		Expect(p.Write(base, []byte{1})).To(Succeed())

		Expect(counts.CountOf(tracing.EventFault, uint32(p.PID()))).
			To(Equal(uint64(1)))
	})
})

var _ = Describe("Segments", func() {
	var (
		mgr  *Manager
		p    *Process
		data []byte
		file *filesys.MemFile
	)

	BeforeEach(func() {
		mgr = newManager(8, filesys.New())
		p = mgr.NewProcess()

		data = pattern(9)[:vm.PageSize]
		data = append(data, pattern(10)[:100]...)
		file = filesys.NewMemFile("prog", data)
	})

	It("should load file pages on demand", func() {
		Expect(mgr.LoadSegment(p, file, 0, base,
			vm.PageSize+100, vm.PageSize-100, false)).To(Succeed())
		Expect(p.Supplemental().Len()).To(Equal(2))
		Expect(mgr.Frames().Len()).To(BeZero())

		buf := make([]byte, 20)
		Expect(p.Read(base+vm.PageSize+90, buf)).To(Succeed())

		Expect(buf[:10]).To(Equal(data[vm.PageSize+90:]))
		Expect(buf[10:]).To(Equal(make([]byte, 10)))
		Expect(readPage(p, base)).To(Equal(data[:vm.PageSize]))
	})

	It("should keep read-only pages read-only", func() {
		Expect(mgr.LoadSegment(p, file, 0, base, 100, vm.PageSize-100, false)).
			To(Succeed())

		err := p.Write(base, []byte{1})

		Expect(errors.Is(err, vm.ErrBadAddress)).To(BeTrue())
	})

	It("should reject malformed segments", func() {
		err := mgr.LoadSegment(p, file, 0, base+1, 100, vm.PageSize-100, false)
		Expect(errors.Is(err, vm.ErrInvalidMapping)).To(BeTrue())

		err = mgr.LoadSegment(p, file, 100, base, 100, vm.PageSize-100, false)
		Expect(errors.Is(err, vm.ErrInvalidMapping)).To(BeTrue())

		err = mgr.LoadSegment(p, file, 0, base, 100, 100, false)
		Expect(errors.Is(err, vm.ErrInvalidMapping)).To(BeTrue())

		Expect(p.Supplemental().Len()).To(BeZero())
	})

	It("should reject overlapping segments", func() {
		declareZero(p, base+vm.PageSize)

		err := mgr.LoadSegment(p, file, 0, base,
			vm.PageSize+100, vm.PageSize-100, true)

		Expect(errors.Is(err, vm.ErrAlreadyMapped)).To(BeTrue())
		Expect(p.Supplemental().Len()).To(Equal(1))
	})

	It("should fail short reads without leaking the frame", func() {
		short := filesys.NewMemFile("short", make([]byte, 100))
		Expect(mgr.LoadSegment(p, short, 0, base, 200, vm.PageSize-200, true)).
			To(Succeed())
		framesBefore := mgr.Frames().Len()
		freeBefore := mgr.Frames().Pool().NumFree()

		err := mgr.ResolveFault(p, base)

		Expect(errors.Is(err, vm.ErrShortRead)).To(BeTrue())
		Expect(mgr.Frames().Len()).To(Equal(framesBefore))
		Expect(mgr.Frames().Pool().NumFree()).To(Equal(freeBefore))
		Expect(p.AddressSpace().NumPresent()).To(BeZero())
		Expect(entryOf(p, base).Loaded).To(BeFalse())
	})

	It("should fail when the file cannot be read", func() {
		mockCtrl := gomock.NewController(GinkgoT())
		defer mockCtrl.Finish()

		broken := NewMockFile(mockCtrl)
		broken.EXPECT().
			ReadAt(gomock.Any(), int64(0)).
			Return(0, errors.New("disk error"))
		Expect(mgr.LoadSegment(p, broken, 0, base, vm.PageSize, 0, false)).
			To(Succeed())

		err := mgr.ResolveFault(p, base)

		Expect(errors.Is(err, vm.ErrShortRead)).To(BeTrue())
		Expect(mgr.Frames().Len()).To(BeZero())
	})
})

var _ = Describe("Eviction", func() {
	It("should keep the content of evicted pages", func() {
		mgr := newManager(2, filesys.New())
		p := mgr.NewProcess()

		for i := uint64(0); i < 5; i++ {
			declareZero(p, base+i*vm.PageSize)
			Expect(p.Write(base+i*vm.PageSize, pattern(byte(i)))).To(Succeed())
		}

		for i := uint64(0); i < 5; i++ {
			Expect(readPage(p, base+i*vm.PageSize)).To(Equal(pattern(byte(i))))
		}

		stats := mgr.Stats()
		Expect(stats.Frames.Resident).To(Equal(2))
		Expect(stats.Frames.Evictions).To(BeNumerically(">=", 3))
		Expect(stats.SwapUsed).To(Equal(3))
	})

	It("should keep the resident count when the pool is exhausted", func() {
		mgr := newManager(3, filesys.New())
		p := mgr.NewProcess()
		for i := uint64(0); i < 3; i++ {
			declareZero(p, base+i*vm.PageSize)
			Expect(p.Write(base+i*vm.PageSize, []byte{byte(i + 1)})).To(Succeed())
		}
		Expect(mgr.Frames().Pool().NumFree()).To(BeZero())

		declareZero(p, base+3*vm.PageSize)
		Expect(mgr.ResolveFault(p, base+3*vm.PageSize)).To(Succeed())

		Expect(mgr.Frames().Len()).To(Equal(3))

		var evicted []suppl.Entry
		for i := uint64(0); i < 3; i++ {
			if e := entryOf(p, base+i*vm.PageSize); !e.Loaded {
				evicted = append(evicted, e)
			}
		}
		Expect(evicted).To(HaveLen(1))
		Expect(evicted[0].Kind()).To(Equal(suppl.KindSwapped))
		slot := evicted[0].Backing.(suppl.Swapped).Slot
		Expect(mgr.Swap().IsUsed(slot)).To(BeTrue())

		_, present := p.AddressSpace().Lookup(evicted[0].VAddr)
		Expect(present).To(BeFalse())
	})

	It("should drop clean file pages and reload them", func() {
		mgr := newManager(1, filesys.New())
		p := mgr.NewProcess()
		data := append(pattern(1), pattern(2)...)
		file := filesys.NewMemFile("prog", data)
		Expect(mgr.LoadSegment(p, file, 0, base, 2*vm.PageSize, 0, false)).
			To(Succeed())

		Expect(readPage(p, base)).To(Equal(data[:vm.PageSize]))
		Expect(readPage(p, base+vm.PageSize)).To(Equal(data[vm.PageSize:]))
		Expect(readPage(p, base)).To(Equal(data[:vm.PageSize]))

		Expect(mgr.Stats().SwapUsed).To(BeZero())
		Expect(mgr.Stats().Frames.Drops).To(Equal(uint64(2)))
	})

	It("should keep writes to file-backed pages through swap", func() {
		mgr := newManager(1, filesys.New())
		p := mgr.NewProcess()
		file := filesys.NewMemFile("prog", pattern(3))
		Expect(mgr.LoadSegment(p, file, 0, base, vm.PageSize, vm.PageSize, true)).
			To(Succeed())

		Expect(p.Write(base, []byte("changed"))).To(Succeed())
		readPage(p, base+vm.PageSize)

		buf := make([]byte, 7)
		Expect(p.Read(base, buf)).To(Succeed())
		Expect(string(buf)).To(Equal("changed"))

		// Swapped back in, the page must not be dropped on the next eviction.
		readPage(p, base+vm.PageSize)
		Expect(p.Read(base, buf)).To(Succeed())
		Expect(string(buf)).To(Equal("changed"))
	})
})

var _ = Describe("Stack growth", func() {
	var (
		mgr *Manager
		p   *Process
	)

	BeforeEach(func() {
		mgr = newManager(8, filesys.New())
		p = mgr.NewProcess()
		p.SetStackPointer(vm.PhysBase - vm.PageSize)
	})

	It("should grow the stack for pushes below the stack pointer", func() {
		Expect(p.Write(vm.PhysBase-vm.PageSize-4, []byte{1, 2, 3, 4})).
			To(Succeed())

		e := entryOf(p, vm.PhysBase-2*vm.PageSize)
		Expect(e.Kind()).To(Equal(suppl.KindZero))
		Expect(e.Loaded).To(BeTrue())
	})

	It("should grow the stack above the stack pointer", func() {
		Expect(p.Write(vm.PhysBase-16, []byte{1})).To(Succeed())
	})

	It("should refuse wild accesses", func() {
		err := p.Write(vm.PhysBase-3*vm.PageSize, []byte{1})

		Expect(errors.Is(err, vm.ErrNotFound)).To(BeTrue())
		Expect(p.Supplemental().Len()).To(BeZero())
	})

	It("should refuse growth beyond the stack limit", func() {
		addr := vm.PhysBase - vm.StackLimit - vm.PageSize

		err := mgr.GrowStack(p, addr, addr)

		Expect(errors.Is(err, vm.ErrBadAddress)).To(BeTrue())
	})
})

var _ = Describe("Memory-mapped files", func() {
	var (
		fs   *filesys.FS
		mgr  *Manager
		p    *Process
		file vm.File
	)

	BeforeEach(func() {
		fs = filesys.New()
		Expect(fs.Create("data", 2*vm.PageSize)).To(Succeed())

		var err error
		file, err = fs.Open("data")
		Expect(err).NotTo(HaveOccurred())

		mgr = newManager(1, fs)
		p = mgr.NewProcess()
	})

	It("should write dirty pages back on unmap", func() {
		id, err := mgr.MapFile(p, file, base)
		Expect(err).NotTo(HaveOccurred())

		Expect(p.Write(base+vm.PageSize, []byte{7})).To(Succeed())
		Expect(mgr.UnmapFile(p, id)).To(Succeed())

		buf := make([]byte, 1)
		_, _ = file.ReadAt(buf, vm.PageSize)
		Expect(buf[0]).To(Equal(byte(7)))
		Expect(mgr.Frames().Len()).To(BeZero())

		err = mgr.UnmapFile(p, id)
		Expect(errors.Is(err, vm.ErrNotFound)).To(BeTrue())
	})

	It("should write evicted pages back and reload them", func() {
		_, err := mgr.MapFile(p, file, base)
		Expect(err).NotTo(HaveOccurred())

		Expect(p.Write(base, []byte("abc"))).To(Succeed())
		readPage(p, base+vm.PageSize)

		buf := make([]byte, 3)
		_, _ = file.ReadAt(buf, 0)
		Expect(string(buf)).To(Equal("abc"))

		Expect(p.Read(base, buf)).To(Succeed())
		Expect(string(buf)).To(Equal("abc"))
		Expect(mgr.Stats().Frames.WriteBacks).To(Equal(uint64(1)))
		Expect(mgr.Stats().SwapUsed).To(BeZero())
	})

	It("should write mappings back at exit", func() {
		_, err := mgr.MapFile(p, file, base)
		Expect(err).NotTo(HaveOccurred())
		Expect(p.Write(base+10, []byte{9})).To(Succeed())

		Expect(mgr.Exit(p)).To(Succeed())

		buf := make([]byte, 1)
		_, _ = file.ReadAt(buf, 10)
		Expect(buf[0]).To(Equal(byte(9)))
	})
})

var _ = Describe("Exit", func() {
	It("should release frames and swap slots", func() {
		mgr := newManager(2, filesys.New())
		p := mgr.NewProcess()
		for i := uint64(0); i < 4; i++ {
			declareZero(p, base+i*vm.PageSize)
			Expect(p.Write(base+i*vm.PageSize, []byte{1})).To(Succeed())
		}
		Expect(mgr.Stats().SwapUsed).To(Equal(2))

		Expect(mgr.Exit(p)).To(Succeed())

		stats := mgr.Stats()
		Expect(stats.Frames.Resident).To(BeZero())
		Expect(stats.SwapUsed).To(BeZero())
		Expect(stats.Processes).To(BeZero())
		Expect(p.Supplemental().Len()).To(BeZero())
		_, ok := mgr.Process(p.PID())
		Expect(ok).To(BeFalse())
	})

	It("should release all frames of a process", func() {
		mgr := newManager(4, filesys.New())
		p := mgr.NewProcess()
		q := mgr.NewProcess()
		declareZero(p, base)
		declareZero(q, base)
		Expect(p.Write(base, []byte{1})).To(Succeed())
		Expect(q.Write(base, []byte{1})).To(Succeed())

		Expect(mgr.ReleaseAllFrames(p)).To(Equal(1))

		Expect(mgr.Frames().Len()).To(Equal(1))
		Expect(p.AddressSpace().NumPresent()).To(BeZero())
		Expect(mgr.Processes()).To(HaveLen(2))
	})

	It("should fault released pages in again", func() {
		mgr := newManager(4, filesys.New())
		p := mgr.NewProcess()
		declareZero(p, base)
		Expect(p.Write(base, []byte{1})).To(Succeed())

		mgr.ReleaseAllFrames(p)

		Expect(entryOf(p, base).Loaded).To(BeFalse())
		Expect(readPage(p, base)).To(Equal(make([]byte, vm.PageSize)))
		Expect(entryOf(p, base).Loaded).To(BeTrue())
		Expect(p.AddressSpace().NumPresent()).To(Equal(1))
	})
})
