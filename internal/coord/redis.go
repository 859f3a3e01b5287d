package coord

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// compareAndDeleteScript deletes a key only when its value still matches,
// so a holder whose TTL expired cannot delete a lock reassigned to someone else.
var compareAndDeleteScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

// RedisStore implements Store on a Redis connection
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a Store backed by the Redis instance at url
// (redis:// connection string)
func NewRedisStore(url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &RedisStore{client: redis.NewClient(opts)}, nil
}

// NewRedisStoreFromClient wraps an existing client, for callers that manage
// connection options themselves
func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// SetIfAbsent performs SET key value NX EX ttl
func (s *RedisStore) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("setnx %s: %w", key, err)
	}
	return ok, nil
}

// CompareAndDelete runs the GET/DEL script atomically on the server
func (s *RedisStore) CompareAndDelete(ctx context.Context, key, value string) (bool, error) {
	n, err := compareAndDeleteScript.Run(ctx, s.client, []string{key}, value).Int()
	if err != nil {
		return false, fmt.Errorf("compare-and-delete %s: %w", key, err)
	}
	return n == 1, nil
}

// Push performs LPUSH
func (s *RedisStore) Push(ctx context.Context, key, value string) error {
	if err := s.client.LPush(ctx, key, value).Err(); err != nil {
		return fmt.Errorf("lpush %s: %w", key, err)
	}
	return nil
}

// PopBlocking performs BRPOP with the given timeout
func (s *RedisStore) PopBlocking(ctx context.Context, key string, timeout time.Duration) (string, bool, error) {
	vals, err := s.client.BRPop(ctx, timeout, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("brpop %s: %w", key, err)
	}
	// BRPOP returns [key, value]
	return vals[1], true, nil
}

// Publish broadcasts payload on channel
func (s *RedisStore) Publish(ctx context.Context, channel, payload string) error {
	if err := s.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe opens a Redis pub/sub subscription on channel
func (s *RedisStore) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	pubsub := s.client.Subscribe(ctx, channel)
	// Confirm the subscription is established before returning, so callers
	// can rely on "backlog fetched after Subscribe returns" for the
	// at-least-once window described in the events package.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}

	sub := &redisSubscription{
		pubsub: pubsub,
		out:    make(chan string, 64),
	}
	go sub.relay(pubsub.Channel())
	return sub, nil
}

// Ping verifies connectivity
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the underlying client
func (s *RedisStore) Close() error {
	return s.client.Close()
}

type redisSubscription struct {
	pubsub *redis.PubSub
	out    chan string
}

// relay forwards pubsub payloads without ever blocking on the consumer: a
// subscriber that stops reading must not park this goroutine past Close, so
// its gap is dropped here and recovered via backlog replay.
func (s *redisSubscription) relay(in <-chan *redis.Message) {
	defer close(s.out)
	for msg := range in {
		select {
		case s.out <- msg.Payload:
		default:
		}
	}
}

func (s *redisSubscription) Messages() <-chan string {
	return s.out
}

func (s *redisSubscription) Close() error {
	return s.pubsub.Close()
}
