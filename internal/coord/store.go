// Package coord abstracts the shared coordination store: the conditional-set
// and compare-and-delete primitives backing the session lock, the list
// primitives backing the job queue, and the publish/subscribe channels
// backing live event distribution.
package coord

import (
	"context"
	"time"
)

// Store defines the coordination primitives shared by all sessiond processes.
// Implementations must make SetIfAbsent and CompareAndDelete atomic; Push and
// PopBlocking must deliver each pushed value to exactly one popper.
type Store interface {
	// SetIfAbsent atomically sets key to value with an expiry if and only if
	// the key is currently absent. Returns true if the key was set.
	SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// CompareAndDelete deletes key only if its current value equals value.
	// Returns true if the key was deleted; a mismatch is not an error.
	CompareAndDelete(ctx context.Context, key, value string) (bool, error)

	// Push appends value to the list stored at key
	Push(ctx context.Context, key, value string) error

	// PopBlocking removes and returns the oldest value from the list at key,
	// blocking up to timeout. Returns ok=false when the timeout elapses with
	// nothing available.
	PopBlocking(ctx context.Context, key string, timeout time.Duration) (string, bool, error)

	// Publish broadcasts payload to all current subscribers of channel
	Publish(ctx context.Context, channel, payload string) error

	// Subscribe opens a live subscription to channel. Messages published
	// before the subscription opened are not delivered.
	Subscribe(ctx context.Context, channel string) (Subscription, error)

	// Ping verifies the store is reachable
	Ping(ctx context.Context) error

	// Close releases the underlying connection resources
	Close() error
}

// Subscription is a live feed of payloads published to one channel
type Subscription interface {
	// Messages returns the channel of published payloads. It is closed when
	// the subscription is closed.
	Messages() <-chan string

	// Close tears down the subscription
	Close() error
}
