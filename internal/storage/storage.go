// Package storage defines the durable entity store for sessions, messages,
// and events, with pluggable backends.
package storage

import (
	"context"
	"errors"

	"github.com/hexlattice/sessiond/internal/types"
)

var (
	// ErrNotFound indicates the requested entity does not exist
	ErrNotFound = errors.New("entity not found")
	// ErrInvalidTransition indicates a session status change the state
	// machine does not allow
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Store is the durable entity store. Sessions are mutable through the
// declared operations only; messages and events are append-only.
type Store interface {
	// CreateSession persists a new session record
	CreateSession(ctx context.Context, session *types.Session) error

	// GetSession retrieves a session by id, ErrNotFound if absent
	GetSession(ctx context.Context, sessionID string) (*types.Session, error)

	// UpdateSessionVM records provisioned VM connection metadata
	UpdateSessionVM(ctx context.Context, sessionID, containerID, vncHost string, vncPort int, novncURL string) error

	// UpdateSessionStatus transitions a session's status, validating the
	// move against the state machine. lastError replaces the stored
	// diagnostic when non-empty.
	UpdateSessionStatus(ctx context.Context, sessionID string, status types.Status, lastError string) error

	// ListSessions returns all sessions, newest first
	ListSessions(ctx context.Context) ([]*types.Session, error)

	// CreateMessage appends a message, assigning its sequence id and
	// creation time
	CreateMessage(ctx context.Context, message *types.Message) error

	// GetMessage retrieves one message of a session, ErrNotFound if absent
	GetMessage(ctx context.Context, sessionID string, messageID int64) (*types.Message, error)

	// ListMessages returns a session's messages in creation order
	ListMessages(ctx context.Context, sessionID string) ([]*types.Message, error)

	// AppendEvent persists an event, assigning its id and creation time
	AppendEvent(ctx context.Context, event *types.Event) error

	// RecentEvents returns up to limit of the most recent events for a
	// session, in ascending creation order
	RecentEvents(ctx context.Context, sessionID string, limit int) ([]*types.Event, error)

	// Close releases backend resources
	Close()
}
