package tracing

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/vmcore/sim"
	"go.uber.org/mock/gomock"
)

type testDomain struct {
	*sim.HookableBase
	name string
}

func (d *testDomain) Name() string {
	return d.name
}

func newTestDomain(name string) *testDomain {
	return &testDomain{
		HookableBase: sim.NewHookableBase(),
		name:         name,
	}
}

var _ = Describe("Emit", func() {
	var (
		domain *testDomain
		counts *CountTracer
	)

	BeforeEach(func() {
		domain = newTestDomain("FrameTable")
		counts = NewCountTracer(AllEvents)
	})

	It("should not panic without hooks", func() {
		Expect(func() {
			Emit(domain, Event{Kind: EventEvict})
		}).NotTo(Panic())
	})

	It("should fill in id and location", func() {
		t := &lastEventTracer{}
		CollectTrace(domain, t)

		Emit(domain, Event{Kind: EventSwapOut, PID: 3, VAddr: 0x8000})
		got := t.last

		Expect(got.ID).NotTo(BeEmpty())
		Expect(got.Location).To(Equal("FrameTable"))
		Expect(got.PID).To(BeEquivalentTo(3))
		Expect(got.VAddr).To(Equal(uint64(0x8000)))
	})

	It("should keep an explicit location", func() {
		t := &lastEventTracer{}
		CollectTrace(domain, t)

		Emit(domain, Event{Kind: EventFault, Location: "Process[1]"})

		Expect(t.last.Location).To(Equal("Process[1]"))
	})

	It("should panic on events without a kind", func() {
		CollectTrace(domain, counts)

		Expect(func() { Emit(domain, Event{}) }).To(Panic())
	})

	It("should refuse to attach the same tracer twice", func() {
		CollectTrace(domain, counts)

		Expect(func() { CollectTrace(domain, counts) }).To(Panic())
	})

	It("should ignore other hook positions", func() {
		CollectTrace(domain, counts)

		domain.InvokeHook(sim.HookCtx{
			Domain: domain,
			Pos:    &sim.HookPos{Name: "Other"},
			Item:   42,
		})

		Expect(counts.Kinds()).To(BeEmpty())
	})
})

var _ = Describe("CountTracer", func() {
	It("should count by kind and process", func() {
		t := NewCountTracer(KindIs(EventEvict, EventSwapOut))

		t.Record(Event{Kind: EventEvict, PID: 1})
		t.Record(Event{Kind: EventEvict, PID: 2})
		t.Record(Event{Kind: EventSwapOut, PID: 1})
		t.Record(Event{Kind: EventFault, PID: 1})

		Expect(t.Count(EventEvict)).To(Equal(uint64(2)))
		Expect(t.CountOf(EventEvict, 2)).To(Equal(uint64(1)))
		Expect(t.Count(EventFault)).To(BeZero())
		Expect(t.Kinds()).To(Equal([]EventKind{EventEvict, EventSwapOut}))
	})
})

var _ = Describe("DBTracer", func() {
	var (
		mockCtrl *gomock.Controller
		backend  *MockDataRecorder
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		backend = NewMockDataRecorder(mockCtrl)
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	It("should create the table and insert filtered events", func() {
		backend.EXPECT().CreateTable("vm_events", gomock.Any())
		t := NewDBTracer(backend, KindIs(EventSwapIn))

		backend.EXPECT().
			InsertData("vm_events", eventTableEntry{
				Seq:      1,
				ID:       "a",
				Kind:     "swap_in",
				Location: "Swap",
				PID:      4,
				VAddr:    0x1000,
				Frame:    7,
				Slot:     2,
			})

		t.Record(Event{
			ID:  "a", Kind: EventSwapIn, Location: "Swap",
			PID: 4, VAddr: 0x1000, Frame: 7, Slot: 2,
		})
		t.Record(Event{ID: "b", Kind: EventFault})
	})

	It("should flush the backend", func() {
		backend.EXPECT().CreateTable("vm_events", gomock.Any())
		t := NewDBTracer(backend, AllEvents)

		backend.EXPECT().Flush()

		t.Flush()
	})
})

type lastEventTracer struct {
	last Event
}

func (t *lastEventTracer) Record(e Event) {
	t.last = e
}
