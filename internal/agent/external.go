package agent

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// External relays a turn to a remote agent-loop service over HTTP. The
// service streams newline-delimited JSON step records and ends with a final
// record carrying the assistant text.
type External struct {
	endpoint string
	client   *http.Client
}

// NewExternal creates a processor targeting the agent loop at endpoint.
// No client timeout is set: a turn is unbounded by design, bounded only by
// the session lock TTL on the worker side and by ctx.
func NewExternal(endpoint string) *External {
	return &External{
		endpoint: endpoint,
		client:   &http.Client{},
	}
}

type externalTurnRequest struct {
	SessionID string `json:"session_id"`
	Input     string `json:"input_text"`
	VNCHost   string `json:"vnc_host"`
	VNCPort   int    `json:"vnc_port"`
	NoVNCURL  string `json:"novnc_url"`
	Model     string `json:"model"`
	APIKey    string `json:"api_key"`
}

// externalStep is one streamed record from the agent loop. Kind is one of
// token, tool_call, screenshot, final, error.
type externalStep struct {
	Kind     string         `json:"kind"`
	Delta    string         `json:"delta,omitempty"`
	Tool     string         `json:"tool,omitempty"`
	Payload  map[string]any `json:"payload,omitempty"`
	ImageB64 string         `json:"image_b64,omitempty"`
	Note     string         `json:"note,omitempty"`
	Text     string         `json:"text,omitempty"`
	Error    string         `json:"error,omitempty"`
}

// RunTurn posts the turn and relays streamed steps into the callbacks
func (e *External) RunTurn(ctx context.Context, turn Turn, cb Callbacks) (string, error) {
	body, err := json.Marshal(externalTurnRequest{
		SessionID: turn.SessionID,
		Input:     turn.Input,
		VNCHost:   turn.VNCHost,
		VNCPort:   turn.VNCPort,
		NoVNCURL:  turn.NoVNCURL,
		Model:     turn.Model,
		APIKey:    turn.APIKey,
	})
	if err != nil {
		return "", fmt.Errorf("marshal turn request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint+"/v1/turns", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build turn request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("call agent loop: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("agent loop returned status %d", resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	start := time.Now()
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var step externalStep
		if err := json.Unmarshal(line, &step); err != nil {
			return "", fmt.Errorf("decode agent step: %w", err)
		}

		switch step.Kind {
		case "token":
			if cb.OnToken != nil {
				cb.OnToken(step.Delta)
			}
		case "tool_call":
			if cb.OnToolCall != nil {
				cb.OnToolCall(step.Tool, step.Payload)
			}
		case "screenshot":
			if cb.OnScreenshot != nil {
				cb.OnScreenshot(step.ImageB64, step.Note)
			}
		case "final":
			return step.Text, nil
		case "error":
			return "", fmt.Errorf("agent loop failed: %s", step.Error)
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("read agent stream: %w", err)
	}
	return "", fmt.Errorf("agent stream ended without a final record after %s", time.Since(start).Round(time.Millisecond))
}
