package notify

import (
	"context"
	"time"
)

// Event describes a finished ingest run, sent to notification backends.
type Event struct {
	ScanID    int64     `json:"scan_id"`
	Source    string    `json:"source"`
	Status    string    `json:"status"`
	Files     int       `json:"files"`
	Skipped   int       `json:"skipped"`
	Nodes     int       `json:"nodes"`
	Edges     int       `json:"edges"`
	Gaps      int       `json:"gaps"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Notifier defines the interface for delivering ingest events.
type Notifier interface {
	// Name returns the notifier identifier.
	Name() string

	// Send dispatches an event to the backend.
	Send(ctx context.Context, event Event) error
}

// Multi sends events to multiple notifiers.
type Multi struct {
	notifiers []Notifier
}

// NewMulti creates a multi-notifier that dispatches to all backends.
func NewMulti(notifiers ...Notifier) *Multi {
	return &Multi{notifiers: notifiers}
}

// Name returns "multi".
func (m *Multi) Name() string {
	return "multi"
}

// Send dispatches the event to all configured notifiers.
func (m *Multi) Send(ctx context.Context, event Event) error {
	var lastErr error
	for _, n := range m.notifiers {
		if err := n.Send(ctx, event); err != nil {
			lastErr = err
		}
	}
	return lastErr
}
