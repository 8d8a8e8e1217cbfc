package workerpool

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/armadaproject/insights/internal/common/insightscontext"
)

func TestRun_AllTasksComplete(t *testing.T) {
	pool := New(4)
	var completed int32
	tasks := make([]Task, 20)
	for i := range tasks {
		tasks[i] = func(ctx *insightscontext.Context) error {
			atomic.AddInt32(&completed, 1)
			return nil
		}
	}
	err := pool.Run(insightscontext.Background(), tasks)
	require.NoError(t, err)
	assert.Equal(t, int32(20), completed)
}

func TestRun_RespectsBound(t *testing.T) {
	pool := New(3)
	var active, maxActive int32
	tasks := make([]Task, 30)
	for i := range tasks {
		tasks[i] = func(ctx *insightscontext.Context) error {
			n := atomic.AddInt32(&active, 1)
			for {
				m := atomic.LoadInt32(&maxActive)
				if n <= m || atomic.CompareAndSwapInt32(&maxActive, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&active, -1)
			return nil
		}
	}
	require.NoError(t, pool.Run(insightscontext.Background(), tasks))
	assert.LessOrEqual(t, maxActive, int32(3))
	assert.Greater(t, maxActive, int32(0))
}

func TestRun_CollectsFailures(t *testing.T) {
	pool := New(10)
	started := make(chan struct{})
	release := make(chan struct{})
	var n int32
	// Every task waits until all of them are running so that none is skipped after the first failure.
	task := func(ctx *insightscontext.Context) error {
		if atomic.AddInt32(&n, 1) == 3 {
			close(started)
		}
		<-release
		return errors.New("query failed")
	}
	go func() {
		<-started
		close(release)
	}()
	err := pool.Run(insightscontext.Background(), []Task{task, task, task})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "3 errors occurred")
}

func TestRun_FailedTaskDoesNotCancelRunningTasks(t *testing.T) {
	pool := New(2)
	secondStarted := make(chan struct{})
	failed := make(chan struct{})
	var sawCancelled, secondFinished atomic.Bool
	err := pool.Run(insightscontext.Background(), []Task{
		func(ctx *insightscontext.Context) error {
			<-secondStarted
			defer close(failed)
			return errors.New("boom")
		},
		func(ctx *insightscontext.Context) error {
			close(secondStarted)
			<-failed
			time.Sleep(5 * time.Millisecond)
			sawCancelled.Store(ctx.Err() != nil)
			secondFinished.Store(true)
			return nil
		},
	})
	require.Error(t, err)
	assert.True(t, secondFinished.Load())
	assert.False(t, sawCancelled.Load())
}

func TestRun_CancelledContextStartsNothing(t *testing.T) {
	pool := New(2)
	ctx, cancel := insightscontext.WithCancel(insightscontext.Background())
	cancel()
	var ran int32
	err := pool.Run(ctx, []Task{
		func(ctx *insightscontext.Context) error {
			atomic.AddInt32(&ran, 1)
			return nil
		},
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(0), ran)
}

func TestShutdown(t *testing.T) {
	pool := New(2)
	require.NoError(t, pool.Shutdown(insightscontext.Background()))

	err := pool.Run(insightscontext.Background(), []Task{func(ctx *insightscontext.Context) error { return nil }})
	assert.ErrorIs(t, err, ErrPoolShutdown)
}

func TestShutdown_WaitsForRunningTasks(t *testing.T) {
	pool := New(1)
	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan error)
	go func() {
		done <- pool.Run(insightscontext.Background(), []Task{func(ctx *insightscontext.Context) error {
			close(started)
			<-release
			return nil
		}})
	}()
	<-started

	ctx, cancel := insightscontext.WithTimeout(insightscontext.Background(), 10*time.Millisecond)
	defer cancel()
	assert.Error(t, pool.Shutdown(ctx))

	close(release)
	require.NoError(t, <-done)
	assert.NoError(t, pool.Shutdown(insightscontext.Background()))
}
