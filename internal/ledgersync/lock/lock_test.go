package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hycredit/pkg/platform/sentinel"
)

func TestMemoryLocker(t *testing.T) {
	t.Run("same key is exclusive", func(t *testing.T) {
		l := NewMemoryLocker()
		var inside, maxInside atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				unlock, err := l.Lock(context.Background(), "credit:CR-1")
				if !assert.NoError(t, err) {
					return
				}
				n := inside.Add(1)
				for {
					m := maxInside.Load()
					if n <= m || maxInside.CompareAndSwap(m, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				inside.Add(-1)
				unlock()
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), maxInside.Load())
		assert.Zero(t, l.Len())
	})

	t.Run("different keys do not block", func(t *testing.T) {
		l := NewMemoryLocker()
		unlockA, err := l.Lock(context.Background(), "credit:A")
		require.NoError(t, err)
		defer unlockA()

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		unlockB, err := l.Lock(ctx, "credit:B")
		require.NoError(t, err)
		unlockB()
	})

	t.Run("waiter gives up when context ends", func(t *testing.T) {
		l := NewMemoryLocker()
		unlock, err := l.Lock(context.Background(), "credit:A")
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		_, err = l.Lock(ctx, "credit:A")
		assert.True(t, errors.Is(err, sentinel.ErrLockTimeout))
		assert.True(t, errors.Is(err, context.DeadlineExceeded))

		unlock()
		unlock()
		assert.Zero(t, l.Len())
	})
}

func TestMemoryRegistry(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRegistry()

	n, err := r.Reserve(ctx, "HC-1", "req-a")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = r.Reserve(ctx, "HC-1", "req-b")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	n, err = r.Reserve(ctx, "HC-1", "req-b")
	require.NoError(t, err)
	assert.Equal(t, 2, n, "reserve is idempotent per member")

	require.NoError(t, r.Release(ctx, "HC-1", "req-a"))
	require.NoError(t, r.Release(ctx, "HC-1", "req-a"))
	n, err = r.Count(ctx, "HC-1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, r.Release(ctx, "HC-1", "req-b"))
	n, err = r.Count(ctx, "HC-1")
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, r.claims)
}
