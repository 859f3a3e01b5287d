package coord

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for tests and Redis-less development.
// All primitives provide the same atomicity guarantees as the Redis backend,
// scoped to a single process.
type MemoryStore struct {
	mu       sync.Mutex
	keys     map[string]expiringValue
	lists    map[string]*memoryList
	channels map[string][]*memorySubscription
	closed   bool
}

type expiringValue struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

type memoryList struct {
	items   []string
	waiters []chan string
}

// NewMemoryStore creates an empty in-memory coordination store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		keys:     make(map[string]expiringValue),
		lists:    make(map[string]*memoryList),
		channels: make(map[string][]*memorySubscription),
	}
}

// SetIfAbsent sets key to value with ttl if the key is absent or expired
func (s *MemoryStore) SetIfAbsent(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.keys[key]; ok && !existing.expired() {
		return false, nil
	}
	ev := expiringValue{value: value}
	if ttl > 0 {
		ev.expiresAt = time.Now().Add(ttl)
	}
	s.keys[key] = ev
	return true, nil
}

// CompareAndDelete deletes key if its live value equals value
func (s *MemoryStore) CompareAndDelete(_ context.Context, key, value string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.keys[key]
	if !ok || existing.expired() || existing.value != value {
		return false, nil
	}
	delete(s.keys, key)
	return true, nil
}

// Push appends value to the list at key, handing it directly to a blocked
// popper when one is waiting
func (s *MemoryStore) Push(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	l := s.list(key)
	for len(l.waiters) > 0 {
		w := l.waiters[0]
		l.waiters = l.waiters[1:]
		select {
		case w <- value:
			return nil
		default:
			// Waiter timed out between registering and now; skip it.
		}
	}
	l.items = append(l.items, value)
	return nil
}

// PopBlocking removes the oldest value from the list at key, blocking up to
// timeout when the list is empty
func (s *MemoryStore) PopBlocking(ctx context.Context, key string, timeout time.Duration) (string, bool, error) {
	s.mu.Lock()
	l := s.list(key)
	if len(l.items) > 0 {
		v := l.items[0]
		l.items = l.items[1:]
		s.mu.Unlock()
		return v, true, nil
	}

	w := make(chan string, 1)
	l.waiters = append(l.waiters, w)
	s.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case v := <-w:
		return v, true, nil
	case <-timer.C:
	case <-ctx.Done():
	}

	// Unregister; a concurrent Push may have already handed us a value.
	s.mu.Lock()
	for i, candidate := range l.waiters {
		if candidate == w {
			l.waiters = append(l.waiters[:i], l.waiters[i+1:]...)
			break
		}
	}
	s.mu.Unlock()

	select {
	case v := <-w:
		return v, true, nil
	default:
	}
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	return "", false, nil
}

// Publish delivers payload to every open subscription on channel. Slow
// subscribers with full buffers are skipped; backlog replay recovers the gap.
// The sends happen under s.mu so a concurrent Close cannot close an out
// channel mid-delivery; they never block, so holding the lock is safe.
func (s *MemoryStore) Publish(_ context.Context, channel, payload string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sub := range s.channels[channel] {
		select {
		case sub.out <- payload:
		default:
		}
	}
	return nil
}

// Subscribe opens a buffered subscription to channel
func (s *MemoryStore) Subscribe(_ context.Context, channel string) (Subscription, error) {
	sub := &memorySubscription{
		store:   s,
		channel: channel,
		out:     make(chan string, 64),
	}
	s.mu.Lock()
	s.channels[channel] = append(s.channels[channel], sub)
	s.mu.Unlock()
	return sub, nil
}

// Ping reports whether the store is open
func (s *MemoryStore) Ping(context.Context) error {
	return nil
}

// Close drops all state
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	for _, subs := range s.channels {
		for _, sub := range subs {
			close(sub.out)
			sub.closed = true
		}
	}
	s.channels = make(map[string][]*memorySubscription)
	return nil
}

// list returns the list at key, creating it if needed. Caller holds s.mu.
func (s *MemoryStore) list(key string) *memoryList {
	l, ok := s.lists[key]
	if !ok {
		l = &memoryList{}
		s.lists[key] = l
	}
	return l
}

func (ev expiringValue) expired() bool {
	return !ev.expiresAt.IsZero() && time.Now().After(ev.expiresAt)
}

type memorySubscription struct {
	store   *MemoryStore
	channel string
	out     chan string
	closed  bool
}

func (s *memorySubscription) Messages() <-chan string {
	return s.out
}

func (s *memorySubscription) Close() error {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	subs := s.store.channels[s.channel]
	for i, candidate := range subs {
		if candidate == s {
			s.store.channels[s.channel] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	close(s.out)
	return nil
}
