package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-scm-fulfillment/internal/errors"
	"github.com/pesio-ai/be-scm-fulfillment/internal/logger"
)

func TestMemoryLocker(t *testing.T) {
	l := NewMemoryLocker()
	ctx := context.Background()

	release, err := l.Acquire(ctx, "order-1")
	require.NoError(t, err)
	assert.True(t, l.Held("order-1"))

	_, err = l.Acquire(ctx, "order-1")
	assert.ErrorIs(t, err, errors.ErrLockContention)
	assert.True(t, errors.Retryable(err))

	other, err := l.Acquire(ctx, "order-2")
	require.NoError(t, err)
	other()

	release()
	release()
	assert.False(t, l.Held("order-1"))

	release, err = l.Acquire(ctx, "order-1")
	require.NoError(t, err)
	release()
}

func TestMemoryLocker_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewMemoryLocker().Acquire(ctx, "order-1")
	assert.ErrorIs(t, err, errors.ErrInternal)
}

func TestMemoryLocker_SingleWinner(t *testing.T) {
	l := NewMemoryLocker()
	start := make(chan struct{})
	var wg sync.WaitGroup
	var winners atomic.Int32

	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if _, err := l.Acquire(context.Background(), "order-1"); err == nil {
				winners.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), winners.Load())
}

// TestRedisLocker_Integration requires a running Redis.
// We skip if connection fails.
func TestRedisLocker_Integration(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skip("Skipping Redis integration test: redis not available")
	}
	t.Cleanup(func() { _ = client.Close() })

	l := NewRedisLocker(client, time.Second, logger.Nop())
	key := "test-order-" + time.Now().Format("150405.000000")

	release, err := l.Acquire(ctx, key)
	require.NoError(t, err)

	_, err = l.Acquire(ctx, key)
	assert.ErrorIs(t, err, errors.ErrLockContention)

	release()

	release, err = l.Acquire(ctx, key)
	require.NoError(t, err)
	release()
}
