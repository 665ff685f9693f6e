package executor_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pgasdart/runtime/executor"
)

func TestExecutor_RunsSubmittedTasks(t *testing.T) {
	e := executor.New(4, 16)
	defer e.Close()

	var n int64
	const count = 100
	done := make(chan struct{}, count)
	for i := 0; i < count; i++ {
		require.NoError(t, e.Submit(func(ctx context.Context) {
			atomic.AddInt64(&n, 1)
			done <- struct{}{}
		}))
	}
	for i := 0; i < count; i++ {
		<-done
	}
	require.EqualValues(t, count, atomic.LoadInt64(&n))
}

func TestExecutor_BlockOnReturnsResult(t *testing.T) {
	e := executor.New(2, 4)
	defer e.Close()

	v, err := e.BlockOn(func(ctx context.Context) (any, error) {
		return 42, nil
	})
	require.NoError(t, err)
	require.Equal(t, 42, v)
}

func TestExecutor_SubmitAfterCloseErrors(t *testing.T) {
	e := executor.New(1, 1)
	require.NoError(t, e.Close())
	err := e.Submit(func(ctx context.Context) {})
	require.ErrorIs(t, err, executor.ErrTerminated)
}

func TestExecutor_CloseCancelsRunningTaskContext(t *testing.T) {
	e := executor.New(1, 1)
	started := make(chan struct{})
	canceled := make(chan struct{})
	require.NoError(t, e.Submit(func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		close(canceled)
	}))
	<-started
	require.NoError(t, e.Close())
	select {
	case <-canceled:
	case <-time.After(time.Second):
		t.Fatal("task context was not canceled on Close")
	}
}
