package tracing

import (
	"sort"
	"sync"
)

// CountTracer counts events by kind.
type CountTracer struct {
	lock   sync.Mutex
	filter EventFilter
	counts map[EventKind]uint64
	pids   map[EventKind]map[uint32]uint64
}

// NewCountTracer creates a new CountTracer
func NewCountTracer(filter EventFilter) *CountTracer {
	return &CountTracer{
		filter: filter,
		counts: make(map[EventKind]uint64),
		pids:   make(map[EventKind]map[uint32]uint64),
	}
}

// Record counts the event if it passes the filter.
func (t *CountTracer) Record(event Event) {
	if !t.filter(event) {
		return
	}

	t.lock.Lock()
	defer t.lock.Unlock()

	t.counts[event.Kind]++

	byPID, ok := t.pids[event.Kind]
	if !ok {
		byPID = make(map[uint32]uint64)
		t.pids[event.Kind] = byPID
	}
	byPID[uint32(event.PID)]++
}

// Count returns the number of events of a kind.
func (t *CountTracer) Count(kind EventKind) uint64 {
	t.lock.Lock()
	defer t.lock.Unlock()

	return t.counts[kind]
}

// CountOf returns the number of events of a kind reported for a process.
func (t *CountTracer) CountOf(kind EventKind, pid uint32) uint64 {
	t.lock.Lock()
	defer t.lock.Unlock()

	return t.pids[kind][pid]
}

// Kinds returns the kinds seen so far, sorted.
func (t *CountTracer) Kinds() []EventKind {
	t.lock.Lock()
	defer t.lock.Unlock()

	kinds := make([]EventKind, 0, len(t.counts))
	for k := range t.counts {
		kinds = append(kinds, k)
	}

	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })

	return kinds
}
