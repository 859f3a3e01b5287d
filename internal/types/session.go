// Package types provides the shared entity types used across the sessiond codebase.
package types

import "time"

// Status represents the lifecycle state of a session
type Status string

const (
	// StatusCreating indicates the session VM is being provisioned
	StatusCreating Status = "creating"
	// StatusIdle indicates the session is ready to accept a turn
	StatusIdle Status = "idle"
	// StatusRunning indicates a worker is executing a turn under lock
	StatusRunning Status = "running"
	// StatusStopped indicates the session was explicitly stopped
	StatusStopped Status = "stopped"
	// StatusFailed indicates provisioning failed
	StatusFailed Status = "failed"
)

// Terminal reports whether the status admits no further transitions
func (s Status) Terminal() bool {
	return s == StatusStopped || s == StatusFailed
}

// transitions is the set of valid status edges. Terminal states have no
// outgoing edges; stop and fail are reachable from every non-terminal state.
var transitions = map[Status][]Status{
	StatusCreating: {StatusIdle, StatusStopped, StatusFailed},
	StatusIdle:     {StatusRunning, StatusStopped, StatusFailed},
	StatusRunning:  {StatusIdle, StatusStopped, StatusFailed},
}

// CanTransition reports whether a session may move from one status to another
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Session represents one VM-backed interactive session
type Session struct {
	ID            string    `json:"id"`
	Status        Status    `json:"status"`
	VMContainerID string    `json:"-"`
	VNCHost       string    `json:"vnc_host,omitempty"`
	VNCPort       int       `json:"vnc_port,omitempty"`
	NoVNCURL      string    `json:"novnc_url,omitempty"`
	LastError     string    `json:"last_error,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}
