package coord

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreSetIfAbsent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	ok, err := store.SetIfAbsent(ctx, "k", "v1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.SetIfAbsent(ctx, "k", "v2", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "second set on a live key must fail")
}

func TestMemoryStoreSetIfAbsentAfterExpiry(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	ok, err := store.SetIfAbsent(ctx, "k", "v1", 10*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)

	time.Sleep(20 * time.Millisecond)

	ok, err = store.SetIfAbsent(ctx, "k", "v2", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "expired key must be treated as absent")
}

func TestMemoryStoreCompareAndDelete(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	_, err := store.SetIfAbsent(ctx, "k", "v1", time.Minute)
	require.NoError(t, err)

	deleted, err := store.CompareAndDelete(ctx, "k", "wrong")
	require.NoError(t, err)
	assert.False(t, deleted, "mismatched value must not delete")

	deleted, err = store.CompareAndDelete(ctx, "k", "v1")
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = store.CompareAndDelete(ctx, "k", "v1")
	require.NoError(t, err)
	assert.False(t, deleted, "second delete is a no-op")
}

func TestMemoryStorePushPopOrder(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.Push(ctx, "q", "a"))
	require.NoError(t, store.Push(ctx, "q", "b"))

	v, ok, err := store.PopBlocking(ctx, "q", time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "a", v)

	v, ok, err = store.PopBlocking(ctx, "q", time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "b", v)
}

func TestMemoryStorePopBlockingTimeout(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	start := time.Now()
	_, ok, err := store.PopBlocking(ctx, "q", 20*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestMemoryStorePopBlockingWakesOnPush(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	done := make(chan string, 1)
	go func() {
		v, ok, err := store.PopBlocking(ctx, "q", 5*time.Second)
		if err == nil && ok {
			done <- v
		}
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, store.Push(ctx, "q", "woken"))

	select {
	case v := <-done:
		assert.Equal(t, "woken", v)
	case <-time.After(time.Second):
		t.Fatal("blocked pop was not woken by push")
	}
}

func TestMemoryStoreEachValueDeliveredOnce(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	const n = 50
	var wg sync.WaitGroup
	got := make(chan string, n)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				v, ok, err := store.PopBlocking(ctx, "q", 100*time.Millisecond)
				if err != nil || !ok {
					return
				}
				got <- v
			}
		}()
	}

	seen := make(map[string]bool)
	for i := 0; i < n; i++ {
		v := string(rune('a'+i%26)) + "-" + string(rune('0'+i/26))
		require.False(t, seen[v])
		seen[v] = true
		require.NoError(t, store.Push(ctx, "q", v))
	}

	wg.Wait()
	close(got)

	delivered := make(map[string]int)
	for v := range got {
		delivered[v]++
	}
	assert.Len(t, delivered, n)
	for v, count := range delivered {
		assert.Equal(t, 1, count, "value %s delivered %d times", v, count)
	}
}

func TestMemoryStorePubSub(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	sub, err := store.Subscribe(ctx, "ch")
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, store.Publish(ctx, "ch", "hello"))

	select {
	case msg := <-sub.Messages():
		assert.Equal(t, "hello", msg)
	case <-time.After(time.Second):
		t.Fatal("published message not delivered")
	}
}

func TestMemoryStoreSubscribeMissesEarlierPublishes(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.Publish(ctx, "ch", "before"))

	sub, err := store.Subscribe(ctx, "ch")
	require.NoError(t, err)
	defer sub.Close()

	select {
	case msg := <-sub.Messages():
		t.Fatalf("unexpected replay of %q on a live-only channel", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemoryStoreSubscriptionClose(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	sub, err := store.Subscribe(ctx, "ch")
	require.NoError(t, err)
	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close(), "double close is a no-op")

	// Publishing after close must not panic or block.
	require.NoError(t, store.Publish(ctx, "ch", "late"))

	_, open := <-sub.Messages()
	assert.False(t, open, "messages channel must be closed")
}

func TestMemoryStorePublishRacingClose(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	// A publisher caught between reading the subscriber list and sending
	// must never hit a channel a concurrent Close has already closed.
	for i := 0; i < 200; i++ {
		sub, err := store.Subscribe(ctx, "ch")
		require.NoError(t, err)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = store.Publish(ctx, "ch", "payload")
			}
		}()
		go func() {
			defer wg.Done()
			_ = sub.Close()
		}()
		wg.Wait()
	}
}
