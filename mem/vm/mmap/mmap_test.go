package mmap

import (
	"errors"
	"fmt"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/vmcore/mem/vm"
	"github.com/sarchlab/vmcore/mem/vm/blockdev"
	"github.com/sarchlab/vmcore/mem/vm/filesys"
	"github.com/sarchlab/vmcore/mem/vm/frame"
	"github.com/sarchlab/vmcore/mem/vm/physmem"
	"github.com/sarchlab/vmcore/mem/vm/suppl"
	"github.com/sarchlab/vmcore/mem/vm/swap"
)

type testOwner struct {
	pid vm.PID
	as  *vm.PageDirectory
	spt *suppl.Table
}

func (o *testOwner) Name() string                  { return fmt.Sprintf("Process[%d]", o.pid) }
func (o *testOwner) PID() vm.PID                   { return o.pid }
func (o *testOwner) AddressSpace() vm.AddressSpace { return o.as }
func (o *testOwner) Supplemental() *suppl.Table    { return o.spt }

type countingFS struct {
	*filesys.FS
	writes   int
	closes   int
	writeErr error
}

func (fs *countingFS) WriteAt(f vm.File, p []byte, off int64) (int, error) {
	fs.writes++
	if fs.writeErr != nil {
		return 0, fs.writeErr
	}

	return fs.FS.WriteAt(f, p, off)
}

func (fs *countingFS) Close(f vm.File) error {
	fs.closes++
	return fs.FS.Close(f)
}

var _ = Describe("Table", func() {
	var (
		fs     *countingFS
		frames *frame.Table
		owner  *testOwner
		table  *Table
		file   *filesys.MemFile
	)

	load := func(vAddr uint64) *frame.Frame {
		f, err := frames.Allocate(owner)
		Expect(err).NotTo(HaveOccurred())

		e, ok := owner.spt.Lookup(vAddr)
		Expect(ok).To(BeTrue())
		b := e.Backing.(suppl.MemoryMapped)
		_, _ = b.File.ReadAt(frames.Page(f)[:b.ReadBytes], b.Offset)

		Expect(owner.as.Map(vAddr, f.Num(), true)).To(Succeed())
		frames.Bind(f, vAddr)
		e.Loaded = true

		return f
	}

	BeforeEach(func() {
		fs = &countingFS{FS: filesys.New()}
		pool := physmem.MakeBuilder().WithNumFrames(4).Build()
		device := blockdev.NewMemDevice("swap", 32)
		store := swap.MakeBuilder().WithDevice(device).Build("Swap")
		frames = frame.MakeBuilder().
			WithPool(pool).
			WithSwap(store).
			WithFileWriter(fs).
			Build("FrameTable")
		owner = &testOwner{
			pid: 1,
			as:  vm.NewPageDirectory(),
			spt: suppl.NewTable(),
		}
		table = MakeBuilder().
			WithFrameTable(frames).
			WithFileSystem(fs).
			Build(owner)

		data := make([]byte, vm.PageSize+1)
		for i := range data {
			data[i] = byte(i)
		}
		file = filesys.NewMemFile("data", data)
	})

	It("should declare one entry per page", func() {
		id, err := table.Map(file, 0x10000000)

		Expect(err).NotTo(HaveOccurred())
		Expect(owner.spt.Len()).To(Equal(2))

		first, _ := owner.spt.Lookup(0x10000000)
		second, _ := owner.spt.Lookup(0x10001000)
		b1 := first.Backing.(suppl.MemoryMapped)
		b2 := second.Backing.(suppl.MemoryMapped)

		Expect(b1.ReadBytes).To(Equal(uint32(vm.PageSize)))
		Expect(b1.ZeroBytes).To(BeZero())
		Expect(b2.Offset).To(Equal(int64(vm.PageSize)))
		Expect(b2.ReadBytes).To(Equal(uint32(1)))
		Expect(b2.ZeroBytes).To(Equal(uint32(vm.PageSize - 1)))
		Expect(b2.Mapping).To(Equal(id))
		Expect(second.Writable).To(BeTrue())
		Expect(second.Loaded).To(BeFalse())

		m, ok := table.Lookup(id)
		Expect(ok).To(BeTrue())
		Expect(m.NumPages).To(Equal(uint64(2)))
		Expect(m.End()).To(Equal(uint64(0x10002000)))
	})

	It("should map through a private handle", func() {
		id, _ := table.Map(file, 0x10000000)
		Expect(file.Close()).To(Succeed())

		m, _ := table.Lookup(id)
		Expect(m.File).NotTo(BeIdenticalTo(file))

		buf := make([]byte, 1)
		_, err := m.File.ReadAt(buf, vm.PageSize)
		Expect(err).NotTo(HaveOccurred())
		Expect(buf[0]).To(Equal(byte(vm.PageSize % 256)))
	})

	It("should give increasing ids", func() {
		id1, _ := table.Map(file, 0x10000000)
		id2, _ := table.Map(file, 0x20000000)

		Expect(id2).To(BeNumerically(">", id1))
		Expect(table.Mappings()).To(HaveLen(2))
	})

	DescribeTable("should reject invalid mappings",
		func(start uint64, setup func()) {
			if setup != nil {
				setup()
			}
			before := owner.spt.Len()

			_, err := table.Map(file, start)

			Expect(errors.Is(err, vm.ErrInvalidMapping)).To(BeTrue())
			Expect(owner.spt.Len()).To(Equal(before))
			Expect(table.Mappings()).To(BeEmpty())
		},
		Entry("at address zero", uint64(0), nil),
		Entry("misaligned", uint64(0x10000010), nil),
		Entry("beyond user space", vm.PhysBase-vm.PageSize, nil),
		Entry("over a declared page", uint64(0x10000000), func() {
			Expect(owner.spt.InsertZero(0x10001000, true)).To(Succeed())
		}),
		Entry("over a present page", uint64(0x10000000), func() {
			Expect(owner.as.Map(0x10001000, 3, true)).To(Succeed())
		}),
	)

	It("should reject empty files", func() {
		_, err := table.Map(filesys.NewMemFile("empty", nil), 0x10000000)

		Expect(errors.Is(err, vm.ErrInvalidMapping)).To(BeTrue())
	})

	It("should write back dirty resident pages on unmap", func() {
		id, _ := table.Map(file, 0x10000000)
		f := load(0x10001000)
		Expect(owner.as.Access(0x10001000, true, func(vm.PTE) {
			frames.Page(f)[0] = 0xee
		})).To(Succeed())

		Expect(table.Unmap(id)).To(Succeed())

		buf := make([]byte, 1)
		_, _ = file.ReadAt(buf, vm.PageSize)
		Expect(buf[0]).To(Equal(byte(0xee)))
		Expect(file.Length()).To(Equal(int64(vm.PageSize + 1)))
		Expect(fs.writes).To(Equal(1))
		Expect(owner.spt.Len()).To(BeZero())
		Expect(owner.as.NumPresent()).To(BeZero())
		Expect(frames.Len()).To(BeZero())
		Expect(fs.closes).To(Equal(1))
	})

	It("should not write back clean pages", func() {
		id, _ := table.Map(file, 0x10000000)
		load(0x10000000)

		Expect(table.Unmap(id)).To(Succeed())

		Expect(fs.writes).To(BeZero())
		Expect(frames.Len()).To(BeZero())
	})

	It("should report unknown ids and never unmap twice", func() {
		id, _ := table.Map(file, 0x10000000)
		load(0x10000000)
		owner.as.SetDirty(0x10000000, true)

		Expect(table.Unmap(id)).To(Succeed())
		err := table.Unmap(id)

		Expect(errors.Is(err, vm.ErrNotFound)).To(BeTrue())
		Expect(fs.writes).To(Equal(1))
		Expect(fs.closes).To(Equal(1))
	})

	It("should unmap everything", func() {
		_, _ = table.Map(file, 0x10000000)
		_, _ = table.Map(file, 0x20000000)

		Expect(table.UnmapAll()).To(Succeed())

		Expect(table.Mappings()).To(BeEmpty())
		Expect(owner.spt.Len()).To(BeZero())
		Expect(fs.closes).To(Equal(2))
	})

	It("should keep the mapping when a write-back fails", func() {
		id, _ := table.Map(file, 0x10000000)
		load(0x10000000)
		owner.as.SetDirty(0x10000000, true)
		fs.writeErr = errors.New("disk full")

		err := table.Unmap(id)

		Expect(err).To(MatchError(fs.writeErr))
		_, ok := table.Lookup(id)
		Expect(ok).To(BeTrue())
		Expect(owner.as.NumPresent()).To(Equal(1))
		Expect(fs.closes).To(BeZero())
	})

	It("should close every handle on unmap all even if write-back fails", func() {
		_, _ = table.Map(file, 0x10000000)
		_, _ = table.Map(file, 0x20000000)
		load(0x10000000)
		owner.as.SetDirty(0x10000000, true)
		fs.writeErr = errors.New("disk full")

		err := table.UnmapAll()

		Expect(err).To(MatchError(fs.writeErr))
		Expect(table.Mappings()).To(BeEmpty())
		Expect(owner.spt.Len()).To(BeZero())
		Expect(owner.as.NumPresent()).To(BeZero())
		Expect(frames.Len()).To(BeZero())
		Expect(fs.closes).To(Equal(2))
	})

	It("should let a child inherit mappings", func() {
		id, _ := table.Map(file, 0x10000000)
		child := &testOwner{
			pid: 2,
			as:  vm.NewPageDirectory(),
			spt: suppl.NewTable(),
		}
		childTable := MakeBuilder().
			WithFrameTable(frames).
			WithFileSystem(fs).
			Build(child)

		handles, err := childTable.Inherit(table)

		Expect(err).NotTo(HaveOccurred())
		m, ok := childTable.Lookup(id)
		Expect(ok).To(BeTrue())
		Expect(m.File).To(BeIdenticalTo(handles[id]))

		parent, _ := table.Lookup(id)
		Expect(m.File).NotTo(BeIdenticalTo(parent.File))

		next, _ := childTable.Map(file, 0x20000000)
		Expect(next).To(BeNumerically(">", id))
	})
})
