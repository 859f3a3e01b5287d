package agent

import (
	"context"
	"fmt"
	"time"
)

// Mock is a scripted turn processor: a fixed sequence of tokens, tool calls,
// and a screenshot, then a canned reply quoting the input. StepDelay
// simulates agent pacing; tests set it to zero.
type Mock struct {
	StepDelay time.Duration
}

// NewMock creates a mock processor with a human-visible pacing delay
func NewMock() *Mock {
	return &Mock{StepDelay: 400 * time.Millisecond}
}

// RunTurn plays the scripted turn
func (m *Mock) RunTurn(ctx context.Context, turn Turn, cb Callbacks) (string, error) {
	for _, word := range []string{"Analyzing ", "your ", "request ", "... "} {
		if err := m.pause(ctx); err != nil {
			return "", err
		}
		if cb.OnToken != nil {
			cb.OnToken(word)
		}
	}

	if cb.OnToolCall != nil {
		cb.OnToolCall("computer", map[string]any{"action": "open_browser"})
	}
	if err := m.pause(ctx); err != nil {
		return "", err
	}
	if cb.OnToolCall != nil {
		cb.OnToolCall("computer", map[string]any{"action": "navigate", "url": "https://example.com"})
	}
	if err := m.pause(ctx); err != nil {
		return "", err
	}
	if cb.OnScreenshot != nil {
		cb.OnScreenshot("", "Mock screenshot after navigation")
	}

	return fmt.Sprintf(
		"Mock agent response.\n\nI received your instruction:\n%q\n\nIn real mode, the computer-use agent would now control the VM.",
		turn.Input,
	), nil
}

func (m *Mock) pause(ctx context.Context) error {
	if m.StepDelay <= 0 {
		return ctx.Err()
	}
	select {
	case <-time.After(m.StepDelay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
