package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkingPool_RunsAllQueuedJobs(t *testing.T) {
	pool := NewWorkingPool("test", 3, 10)
	pool.Start(context.Background())

	var done atomic.Int32
	for range 10 {
		require.NoError(t, pool.Submit(context.Background(), func(context.Context) error {
			done.Add(1)
			return nil
		}))
	}
	pool.Close()
	pool.Wait()

	assert.Equal(t, int32(10), done.Load())
}

func TestWorkingPool_BoundsConcurrency(t *testing.T) {
	pool := NewWorkingPool("test", 2, 10)
	pool.Start(context.Background())

	var running, peak atomic.Int32
	for range 8 {
		require.NoError(t, pool.Submit(context.Background(), func(context.Context) error {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			running.Add(-1)
			return nil
		}))
	}
	pool.Close()
	pool.Wait()

	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestWorkingPool_CancelFinishesInFlightOnly(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	pool := NewWorkingPool("test", 1, 10)
	pool.Start(ctx)

	started := make(chan struct{})
	release := make(chan struct{})
	var finished, ran atomic.Int32
	var inFlightErr error
	var mu sync.Mutex

	require.NoError(t, pool.Submit(ctx, func(jobCtx context.Context) error {
		close(started)
		<-release
		mu.Lock()
		inFlightErr = jobCtx.Err()
		mu.Unlock()
		finished.Add(1)
		return nil
	}))
	for range 3 {
		require.NoError(t, pool.Submit(ctx, func(context.Context) error {
			ran.Add(1)
			return nil
		}))
	}

	<-started
	cancel()
	close(release)
	pool.Wait()

	assert.Equal(t, int32(1), finished.Load())
	assert.Zero(t, ran.Load(), "queued jobs must not start after cancel")
	mu.Lock()
	assert.NoError(t, inFlightErr)
	mu.Unlock()
	assert.ErrorIs(t, pool.Submit(context.Background(), func(context.Context) error { return nil }), ErrPoolClosed)
}

func TestWorkingPool_RecoversPanics(t *testing.T) {
	pool := NewWorkingPool("test", 1, 2)
	pool.Start(context.Background())

	var after atomic.Bool
	require.NoError(t, pool.Submit(context.Background(), func(context.Context) error { panic("boom") }))
	require.NoError(t, pool.Submit(context.Background(), func(context.Context) error {
		after.Store(true)
		return errors.New("logged, not fatal")
	}))
	pool.Close()
	pool.Wait()

	assert.True(t, after.Load())
}

func TestScheduler_RejectsBadSpec(t *testing.T) {
	s := NewScheduler(context.Background(), slog.New(slog.NewTextHandler(io.Discard, nil)), time.Second)

	err := s.AddJob("sweep", "every now and then", func(context.Context) error { return nil })

	assert.Error(t, err)
}

func TestScheduler_RunsJob(t *testing.T) {
	s := NewScheduler(context.Background(), slog.New(slog.NewTextHandler(io.Discard, nil)), time.Second)
	ran := make(chan struct{}, 1)

	require.NoError(t, s.AddJob("tick", "@every 1s", func(ctx context.Context) error {
		_, hasDeadline := ctx.Deadline()
		assert.True(t, hasDeadline)
		select {
		case ran <- struct{}{}:
		default:
		}
		return nil
	}))
	s.Start()
	defer s.Stop()

	select {
	case <-ran:
	case <-time.After(3 * time.Second):
		t.Fatal("scheduled job did not run")
	}
}
