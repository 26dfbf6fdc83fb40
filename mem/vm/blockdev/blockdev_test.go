package blockdev

import (
	"bytes"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/vmcore/mem/vm"
)

func sectorOf(b byte) []byte {
	return bytes.Repeat([]byte{b}, SectorSize)
}

func behavesLikeADevice(newDevice func() vm.BlockDevice) {
	var dev vm.BlockDevice

	BeforeEach(func() {
		dev = newDevice()
	})

	It("should round trip a sector", func() {
		Expect(dev.WriteSector(3, sectorOf(0xab))).To(Succeed())

		buf := make([]byte, SectorSize)
		Expect(dev.ReadSector(3, buf)).To(Succeed())

		Expect(buf).To(Equal(sectorOf(0xab)))
	})

	It("should leave other sectors untouched", func() {
		Expect(dev.WriteSector(1, sectorOf(1))).To(Succeed())
		Expect(dev.WriteSector(2, sectorOf(2))).To(Succeed())

		buf := make([]byte, SectorSize)
		Expect(dev.ReadSector(1, buf)).To(Succeed())

		Expect(buf).To(Equal(sectorOf(1)))
	})

	It("should reject out-of-range sectors", func() {
		buf := make([]byte, SectorSize)

		Expect(dev.ReadSector(dev.NumSectors(), buf)).NotTo(Succeed())
		Expect(dev.WriteSector(dev.NumSectors(), buf)).NotTo(Succeed())
	})

	It("should reject short buffers", func() {
		Expect(dev.ReadSector(0, make([]byte, 10))).NotTo(Succeed())
	})
}

var _ = Describe("MemDevice", func() {
	behavesLikeADevice(func() vm.BlockDevice {
		return NewMemDevice("swap", 16)
	})
})

var _ = Describe("FileDevice", func() {
	behavesLikeADevice(func() vm.BlockDevice {
		path := filepath.Join(GinkgoT().TempDir(), "swap.img")

		dev, err := OpenFileDevice(path, 16)
		Expect(err).NotTo(HaveOccurred())

		DeferCleanup(dev.Close)

		return dev
	})
})
