package notify

import (
	"context"
	"fmt"
	"time"
)

// StdoutNotifier prints events to stdout.
type StdoutNotifier struct{}

// NewStdoutNotifier creates a new stdout notifier.
func NewStdoutNotifier() *StdoutNotifier {
	return &StdoutNotifier{}
}

// Name returns "stdout".
func (s *StdoutNotifier) Name() string {
	return "stdout"
}

// Send prints the event to stdout.
func (s *StdoutNotifier) Send(_ context.Context, event Event) error {
	tag := statusTag(event.Status)
	ts := event.Timestamp.Format(time.RFC3339)

	fmt.Printf("%s [%s] scan %d %s: %s\n", tag, ts, event.ScanID, event.Source, event.Message)

	if event.Status == "completed" {
		fmt.Printf("   %d files (%d skipped), %d nodes, %d edges, %d unresolved references\n",
			event.Files, event.Skipped, event.Nodes, event.Edges, event.Gaps)
	}

	return nil
}

func statusTag(status string) string {
	switch status {
	case "completed":
		return "[ OK ]"
	case "failed":
		return "[FAIL]"
	default:
		return "[----]"
	}
}
