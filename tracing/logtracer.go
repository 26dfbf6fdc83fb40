package tracing

import (
	"log/slog"
)

// LogTracer writes every event to a structured logger at debug level.
type LogTracer struct {
	logger *slog.Logger
}

// NewLogTracer creates a LogTracer.
func NewLogTracer(logger *slog.Logger) *LogTracer {
	return &LogTracer{logger: logger}
}

// Record logs the event.
func (t *LogTracer) Record(event Event) {
	t.logger.Debug(string(event.Kind),
		"id", event.ID,
		"location", event.Location,
		"pid", event.PID,
		"vaddr", event.VAddr,
		"frame", event.Frame,
		"slot", event.Slot,
		"detail", event.Detail,
	)
}
