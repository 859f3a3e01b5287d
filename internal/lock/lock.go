// Package lock provides per-session mutual exclusion on top of the
// coordination store's conditional-set and compare-and-delete primitives.
package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hexlattice/sessiond/internal/coord"
)

// Handle proves ownership of one held session lock. The token is single-use
// and random, so a release attempt after TTL expiry cannot delete a lock
// reassigned to another holder.
type Handle struct {
	Key   string
	Token string
}

// Manager acquires and releases session locks
type Manager struct {
	store coord.Store
}

// NewManager creates a lock manager on the given coordination store
func NewManager(store coord.Store) *Manager {
	return &Manager{store: store}
}

// Key derives the lock key for a session id. The namespace is distinct from
// the queue and event-channel namespaces.
func Key(sessionID string) string {
	return "lock:session:" + sessionID
}

// Acquire attempts to take the lock for sessionID with the given TTL.
// Returns (nil, false, nil) when the lock is already held. The TTL is the
// only crash-recovery mechanism: a holder that dies without releasing leaks
// the lock only until expiry.
func (m *Manager) Acquire(ctx context.Context, sessionID string, ttl time.Duration) (*Handle, bool, error) {
	handle := &Handle{
		Key:   Key(sessionID),
		Token: uuid.NewString(),
	}
	ok, err := m.store.SetIfAbsent(ctx, handle.Key, handle.Token, ttl)
	if err != nil {
		return nil, false, fmt.Errorf("acquire session lock: %w", err)
	}
	if !ok {
		return nil, false, nil
	}
	return handle, true, nil
}

// Release deletes the lock only if it still carries the handle's token.
// A token mismatch (the lock expired and was reacquired elsewhere) is a
// silent no-op, never an error.
func (m *Manager) Release(ctx context.Context, handle *Handle) error {
	if handle == nil {
		return nil
	}
	if _, err := m.store.CompareAndDelete(ctx, handle.Key, handle.Token); err != nil {
		return fmt.Errorf("release session lock: %w", err)
	}
	return nil
}
