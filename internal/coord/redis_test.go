package coord

import (
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestRedisRelayDoesNotBlockOnStalledSubscriber(t *testing.T) {
	in := make(chan *redis.Message)
	sub := &redisSubscription{out: make(chan string, 2)}

	done := make(chan struct{})
	go func() {
		sub.relay(in)
		close(done)
	}()

	// Nobody reads sub.out; well past the buffer must still go through.
	for i := 0; i < 10; i++ {
		select {
		case in <- &redis.Message{Payload: "payload"}:
		case <-time.After(time.Second):
			t.Fatal("relay blocked on a stalled subscriber")
		}
	}
	close(in)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("relay did not return after its source closed")
	}

	// The buffered head survives, the overflow was dropped, and the
	// outbound channel is closed.
	var delivered int
	for range sub.Messages() {
		delivered++
	}
	require.Equal(t, 2, delivered, "only the buffered head survives a stall")
}
