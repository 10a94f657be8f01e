package redisclient

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalLocker_ExcludesSameKey(t *testing.T) {
	l := NewLocalLocker(time.Second)

	entered := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		done <- l.WithLock(context.Background(), "provider:a", func(context.Context) error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered

	err := l.WithLock(context.Background(), "provider:a", func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrLockNotAcquired)

	err = l.WithLock(context.Background(), "provider:b", func(context.Context) error { return nil })
	assert.NoError(t, err)

	close(release)
	require.NoError(t, <-done)

	err = l.WithLock(context.Background(), "provider:a", func(context.Context) error { return nil })
	assert.NoError(t, err, "key is free again after release")
}

func TestLocalLocker_PropagatesErrorAndReleases(t *testing.T) {
	l := NewLocalLocker(0)
	boom := errors.New("boom")

	err := l.WithLock(context.Background(), "k", func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)

	err = l.WithLock(context.Background(), "k", func(context.Context) error { return nil })
	assert.NoError(t, err)
}

func TestLocalLocker_BoundsContextByTTL(t *testing.T) {
	l := NewLocalLocker(20 * time.Millisecond)

	err := l.WithLock(context.Background(), "k", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLocalLocker_OneWinnerUnderContention(t *testing.T) {
	l := NewLocalLocker(time.Second)

	const n = 32
	var wins, busy atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	hold := make(chan struct{})

	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			err := l.WithLock(context.Background(), "k", func(context.Context) error {
				wins.Add(1)
				<-hold
				return nil
			})
			if errors.Is(err, ErrLockNotAcquired) {
				busy.Add(1)
			}
		}()
	}

	close(start)
	require.Eventually(t, func() bool { return wins.Load()+busy.Load() == n }, time.Second, time.Millisecond)
	close(hold)
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(n-1), busy.Load())
}

func TestRedisLocker(t *testing.T) {
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}

	client, err := NewRedisClient(addr, "", "")
	require.NoError(t, err)
	defer client.Close()

	l := NewRedisLocker(client, time.Second)
	ctx := context.Background()

	err = l.WithLock(ctx, "test:provider", func(ctx context.Context) error {
		inner := l.WithLock(ctx, "test:provider", func(context.Context) error { return nil })
		assert.ErrorIs(t, inner, ErrLockNotAcquired)
		return nil
	})
	require.NoError(t, err)

	err = l.WithLock(ctx, "test:provider", func(context.Context) error { return nil })
	assert.NoError(t, err)
}
