// Package memory provides an in-process entity store used by tests and
// database-less development setups.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hexlattice/sessiond/internal/storage"
	"github.com/hexlattice/sessiond/internal/types"
)

// Store implements storage.Store entirely in memory
type Store struct {
	mu            sync.RWMutex
	sessions      map[string]*types.Session
	messages      map[string][]*types.Message // keyed by session id
	events        map[string][]*types.Event   // keyed by session id
	nextMessageID int64
}

// New creates an empty in-memory entity store
func New() *Store {
	return &Store{
		sessions: make(map[string]*types.Session),
		messages: make(map[string][]*types.Message),
		events:   make(map[string][]*types.Event),
	}
}

// CreateSession persists a new session
func (s *Store) CreateSession(_ context.Context, session *types.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[session.ID]; exists {
		return fmt.Errorf("session %s already exists", session.ID)
	}
	now := time.Now().UTC()
	session.CreatedAt = now
	session.UpdatedAt = now
	s.sessions[session.ID] = copySession(session)
	return nil
}

// GetSession retrieves a session by id
func (s *Store) GetSession(_ context.Context, sessionID string) (*types.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return copySession(session), nil
}

// UpdateSessionVM records provisioned VM connection metadata
func (s *Store) UpdateSessionVM(_ context.Context, sessionID, containerID, vncHost string, vncPort int, novncURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return storage.ErrNotFound
	}
	session.VMContainerID = containerID
	session.VNCHost = vncHost
	session.VNCPort = vncPort
	session.NoVNCURL = novncURL
	session.UpdatedAt = time.Now().UTC()
	return nil
}

// UpdateSessionStatus transitions a session's status under state machine
// validation
func (s *Store) UpdateSessionStatus(_ context.Context, sessionID string, status types.Status, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return storage.ErrNotFound
	}
	if !types.CanTransition(session.Status, status) {
		return fmt.Errorf("%w: %s -> %s", storage.ErrInvalidTransition, session.Status, status)
	}
	session.Status = status
	if lastError != "" {
		session.LastError = lastError
	}
	session.UpdatedAt = time.Now().UTC()
	return nil
}

// ListSessions returns all sessions, newest first
func (s *Store) ListSessions(_ context.Context) ([]*types.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*types.Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		out = append(out, copySession(session))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// CreateMessage appends a message, assigning its sequence id
func (s *Store) CreateMessage(_ context.Context, message *types.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[message.SessionID]; !ok {
		return storage.ErrNotFound
	}
	s.nextMessageID++
	message.ID = s.nextMessageID
	message.CreatedAt = time.Now().UTC()
	s.messages[message.SessionID] = append(s.messages[message.SessionID], copyMessage(message))
	return nil
}

// GetMessage retrieves one message of a session
func (s *Store) GetMessage(_ context.Context, sessionID string, messageID int64) (*types.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, m := range s.messages[sessionID] {
		if m.ID == messageID {
			return copyMessage(m), nil
		}
	}
	return nil, storage.ErrNotFound
}

// ListMessages returns a session's messages in creation order
func (s *Store) ListMessages(_ context.Context, sessionID string) ([]*types.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.messages[sessionID]
	out := make([]*types.Message, len(msgs))
	for i, m := range msgs {
		out[i] = copyMessage(m)
	}
	return out, nil
}

// AppendEvent persists an event, assigning its id
func (s *Store) AppendEvent(_ context.Context, event *types.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	event.ID = uuid.NewString()
	event.CreatedAt = time.Now().UTC()
	s.events[event.SessionID] = append(s.events[event.SessionID], copyEvent(event))
	return nil
}

// RecentEvents returns the most recent events in ascending creation order
func (s *Store) RecentEvents(_ context.Context, sessionID string, limit int) ([]*types.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	evs := s.events[sessionID]
	if limit > 0 && len(evs) > limit {
		evs = evs[len(evs)-limit:]
	}
	out := make([]*types.Event, len(evs))
	for i, ev := range evs {
		out[i] = copyEvent(ev)
	}
	return out, nil
}

// Close is a no-op for the memory backend
func (s *Store) Close() {}

func copySession(in *types.Session) *types.Session {
	out := *in
	return &out
}

func copyMessage(in *types.Message) *types.Message {
	out := *in
	return &out
}

func copyEvent(in *types.Event) *types.Event {
	out := *in
	out.Payload = append([]byte(nil), in.Payload...)
	return &out
}
