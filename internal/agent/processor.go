// Package agent defines the turn-processor boundary: the opaque
// reasoning/tool-execution loop that runs one complete turn of a session,
// streaming intermediate progress through callback sinks.
package agent

import (
	"context"
	"fmt"
)

// Turn carries everything one turn of the external agent loop needs
type Turn struct {
	SessionID string
	Input     string
	VNCHost   string
	VNCPort   int
	NoVNCURL  string
	Model     string
	APIKey    string
}

// Callbacks are the progress sinks a processor invokes during a turn. Every
// invocation is relayed 1:1 into an event publish by the worker before the
// turn returns. Nil members are skipped.
type Callbacks struct {
	OnToken      func(delta string)
	OnToolCall   func(tool string, payload map[string]any)
	OnScreenshot func(imageB64, note string)
}

// Processor runs one complete turn and returns the final assistant text.
// Failures are returned as errors, never panics; the worker loop
// pattern-matches on the error, it does not recover.
type Processor interface {
	RunTurn(ctx context.Context, turn Turn, cb Callbacks) (string, error)
}

// Mode selects a processor variant at startup
type Mode string

const (
	// ModeMock runs a scripted in-process turn, for dev and tests
	ModeMock Mode = "mock"
	// ModeExternal relays the turn to a remote agent-loop endpoint
	ModeExternal Mode = "external"
)

// New creates the processor for the configured mode. Selection happens once
// here; callers hold a Processor and never branch on the mode again.
func New(mode Mode, externalEndpoint string) (Processor, error) {
	switch mode {
	case ModeMock:
		return NewMock(), nil
	case ModeExternal:
		return NewExternal(externalEndpoint), nil
	default:
		return nil, fmt.Errorf("unsupported agent mode: %s", mode)
	}
}
