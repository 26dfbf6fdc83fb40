package tracing

import (
	"sync"

	"github.com/sarchlab/vmcore/datarecording"
)

const eventTableName = "vm_events"

type eventTableEntry struct {
	Seq      uint64
	ID       string
	Kind     string
	Location string
	PID      uint32
	VAddr    uint64
	Frame    uint32
	Slot     int64
	Detail   string
}

// DBTracer is a tracer that stores events into a database.
type DBTracer struct {
	mu      sync.Mutex
	backend datarecording.DataRecorder
	filter  EventFilter
	seq     uint64
}

// NewDBTracer creates a DBTracer that stores the events that pass the filter
// in the vm_events table of the backend.
func NewDBTracer(
	backend datarecording.DataRecorder,
	filter EventFilter,
) *DBTracer {
	t := &DBTracer{
		backend: backend,
		filter:  filter,
	}

	backend.CreateTable(eventTableName, eventTableEntry{})

	return t
}

// Record stores the event.
func (t *DBTracer) Record(event Event) {
	if !t.filter(event) {
		return
	}

	t.mu.Lock()
	t.seq++
	entry := eventTableEntry{
		Seq:      t.seq,
		ID:       event.ID,
		Kind:     string(event.Kind),
		Location: event.Location,
		PID:      uint32(event.PID),
		VAddr:    event.VAddr,
		Frame:    uint32(event.Frame),
		Slot:     event.Slot,
		Detail:   event.Detail,
	}
	t.mu.Unlock()

	t.backend.InsertData(eventTableName, entry)
}

// Flush writes buffered events to the database.
func (t *DBTracer) Flush() {
	t.backend.Flush()
}
