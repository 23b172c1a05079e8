// Package notify delivers progress events to interested listeners. Delivery
// is best effort: a failed or slow notification never blocks the pipeline.
package notify

import (
	"log/slog"
	"sync"
)

// Event is one progress notification for an execution.
type Event struct {
	ExecutionID string  `json:"execution_id"`
	RecordingID string  `json:"recording_id"`
	Stage       string  `json:"stage"`
	Message     string  `json:"message"`
	Percent     float64 `json:"percent"`
}

// Notifier receives progress events.
type Notifier interface {
	Notify(event Event)
}

// LogNotifier writes events to the structured log.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n *LogNotifier) Notify(event Event) {
	n.Logger.Info("pipeline progress",
		slog.String("execution_id", event.ExecutionID),
		slog.String("recording_id", event.RecordingID),
		slog.String("stage", event.Stage),
		slog.String("message", event.Message),
		slog.Float64("percent", event.Percent),
	)
}

// BufferNotifier records events in memory for inspection in tests.
type BufferNotifier struct {
	mu     sync.Mutex
	events []Event
}

func (n *BufferNotifier) Notify(event Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

// Events returns a copy of everything received so far.
func (n *BufferNotifier) Events() []Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]Event, len(n.events))
	copy(out, n.events)
	return out
}
