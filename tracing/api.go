// Package tracing turns the hook invocations of the virtual-memory core into
// events that tracers can count, log or store.
package tracing

import (
	"github.com/sarchlab/vmcore/mem/vm"
	"github.com/sarchlab/vmcore/sim"
)

// NamedHookable represent something both have a name and can be hooked
type NamedHookable interface {
	sim.Named
	sim.Hookable
	InvokeHook(sim.HookCtx)
}

// HookPosVMEvent marks the hooks invoked when a VM event completes.
var HookPosVMEvent = &sim.HookPos{Name: "HookPosVMEvent"}

// EventKind classifies VM events.
type EventKind string

// The kinds of events the core reports.
const (
	EventFault      EventKind = "fault"
	EventStackGrow  EventKind = "stack_grow"
	EventEvict      EventKind = "evict"
	EventSwapOut    EventKind = "swap_out"
	EventSwapIn     EventKind = "swap_in"
	EventWriteBack  EventKind = "write_back"
	EventDrop       EventKind = "drop"
	EventMap        EventKind = "mmap"
	EventUnmap      EventKind = "munmap"
	EventFork       EventKind = "fork"
	EventExit       EventKind = "exit"
	EventAllocation EventKind = "alloc"
)

// An Event is one thing that happened to a page.
type Event struct {
	ID       string
	Kind     EventKind
	Location string
	PID      vm.PID
	VAddr    uint64
	Frame    vm.FrameNum
	Slot     int64
	Detail   string
}

// Emit notifies the hooks of domain about an event. Empty IDs are filled by
// the ID generator and Location defaults to the name of the domain.
func Emit(domain NamedHookable, event Event) {
	if domain.NumHooks() == 0 {
		return
	}

	if event.Kind == "" {
		panic("kind must not be empty")
	}

	if event.ID == "" {
		event.ID = sim.GetIDGenerator().Generate()
	}

	if event.Location == "" {
		event.Location = domain.Name()
	}

	ctx := sim.HookCtx{
		Domain: domain,
		Pos:    HookPosVMEvent,
		Item:   event,
	}
	domain.InvokeHook(ctx)
}
