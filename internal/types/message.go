package types

import (
	"encoding/json"
	"time"
)

// Role identifies the author of a message
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
	RoleSystem    Role = "system"
)

// Message is one immutable turn input or output, ordered by CreatedAt
// then ID within a session
type Message struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Event is one append-only entry in a session's observable history.
// Type is an open set: status, log, token, tool_call, screenshot, message.
type Event struct {
	ID        string          `json:"id"`
	SessionID string          `json:"session_id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// Job describes one unit of work: run a single turn of a session for a
// message. Jobs are ephemeral queue records, never persisted as entities.
type Job struct {
	SessionID string `json:"session_id"`
	MessageID string `json:"message_id"`
}
