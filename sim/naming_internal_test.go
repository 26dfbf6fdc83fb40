package sim

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Naming", func() {
	It("should parse name", func() {
		name := ParseName("VM.Process[3].MMap")

		Expect(name.Tokens).To(HaveLen(3))
		Expect(name.Tokens[0].ElemName).To(Equal("VM"))
		Expect(name.Tokens[0].Index).To(BeEmpty())
		Expect(name.Tokens[1].ElemName).To(Equal("Process"))
		Expect(name.Tokens[1].Index).To(Equal([]int{3}))
		Expect(name.Tokens[2].ElemName).To(Equal("MMap"))
	})

	It("should accept the names of the core", func() {
		Expect(func() { NameMustBeValid("VM.FrameTable") }).NotTo(Panic())
		Expect(func() { NameMustBeValid("VM.Process[12].MMap") }).NotTo(Panic())
	})

	DescribeTable("should reject invalid names",
		func(name string) {
			Expect(func() { NameMustBeValid(name) }).To(Panic())
		},
		Entry("empty", ""),
		Entry("underscore", "Frame_Table"),
		Entry("dash", "Frame-Table"),
		Entry("lower case", "swap"),
		Entry("open bracket", "Process[0"),
		Entry("close bracket", "Process0]"),
		Entry("empty element", "VM..Swap"),
		Entry("non-integer index", "Process[a]"),
	)

	It("should build name", func() {
		Expect(BuildName("", "VM")).To(Equal("VM"))
		Expect(BuildName("VM", "Swap")).To(Equal("VM.Swap"))
	})

	It("should build name with index", func() {
		Expect(BuildNameWithIndex("", "Process", 0)).To(Equal("Process[0]"))
		Expect(BuildNameWithIndex("VM", "Process", 2)).
			To(Equal("VM.Process[2]"))
	})
})
