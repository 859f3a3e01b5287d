package events

import (
	"fmt"
	"io"
)

// KeepAlive is the idle comment line sent periodically so intermediary hops
// do not consider the stream dead
const KeepAlive = ": ping\n\n"

// WriteSSE frames one event for a text/event-stream response
func WriteSSE(w io.Writer, eventType string, data []byte) error {
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", eventType, data); err != nil {
		return fmt.Errorf("write sse frame: %w", err)
	}
	return nil
}

// WriteKeepAlive emits the idle ping comment
func WriteKeepAlive(w io.Writer) error {
	if _, err := io.WriteString(w, KeepAlive); err != nil {
		return fmt.Errorf("write sse keep-alive: %w", err)
	}
	return nil
}
