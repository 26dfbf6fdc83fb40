package tracing

// A Tracer can collect VM events.
type Tracer interface {
	Record(event Event)
}

// An EventFilter tells if an event should be collected.
type EventFilter func(event Event) bool

// AllEvents is an EventFilter that accepts everything.
func AllEvents(Event) bool {
	return true
}

// KindIs returns a filter that accepts the given kinds.
func KindIs(kinds ...EventKind) EventFilter {
	return func(event Event) bool {
		for _, k := range kinds {
			if event.Kind == k {
				return true
			}
		}

		return false
	}
}
