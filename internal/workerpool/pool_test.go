package workerpool_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentvault/vault/internal/workerpool"
)

func TestSubmitReturnsResult(t *testing.T) {
	ctx := context.Background()
	pool := workerpool.New(2)
	defer pool.Close()

	fut := workerpool.Submit(ctx, pool, func(context.Context) (int, error) {
		return 42, nil
	})

	got, err := fut.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, 42, got)
}

func TestSubmitPropagatesError(t *testing.T) {
	ctx := context.Background()
	pool := workerpool.New(1)
	defer pool.Close()

	sentinel := assert.AnError
	fut := workerpool.Submit(ctx, pool, func(context.Context) (int, error) {
		return 0, sentinel
	})

	_, err := fut.Wait(ctx)
	assert.ErrorIs(t, err, sentinel)
}

func TestPoolBoundsConcurrency(t *testing.T) {
	ctx := context.Background()
	pool := workerpool.New(2)
	defer pool.Close()

	var running int32
	var maxRunning int32
	futures := make([]*workerpool.Future[struct{}], 0, 8)

	for i := 0; i < 8; i++ {
		futures = append(futures, workerpool.Submit(ctx, pool, func(context.Context) (struct{}, error) {
			n := atomic.AddInt32(&running, 1)
			for {
				cur := atomic.LoadInt32(&maxRunning)
				if n <= cur || atomic.CompareAndSwapInt32(&maxRunning, cur, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			atomic.AddInt32(&running, -1)
			return struct{}{}, nil
		}))
	}

	for _, fut := range futures {
		_, err := fut.Wait(ctx)
		require.NoError(t, err)
	}

	assert.LessOrEqual(t, atomic.LoadInt32(&maxRunning), int32(2))
}

func TestWaitRespectsCancellation(t *testing.T) {
	pool := workerpool.New(1)
	defer pool.Close()

	block := make(chan struct{})
	defer close(block)

	fut := workerpool.Submit(context.Background(), pool, func(context.Context) (int, error) {
		<-block
		return 1, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := fut.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFutureDone(t *testing.T) {
	ctx := context.Background()
	pool := workerpool.New(1)
	defer pool.Close()

	fut := workerpool.Submit(ctx, pool, func(context.Context) (int, error) {
		return 1, nil
	})
	_, _ = fut.Wait(ctx)
	assert.True(t, fut.Done())
}
