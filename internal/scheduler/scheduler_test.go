package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunner_RunsSubmittedTasks(t *testing.T) {
	r := New(2, 10)
	r.Start(context.Background())

	var wg sync.WaitGroup
	var count atomic.Int32
	for i := 0; i < 5; i++ {
		wg.Add(1)
		require.NoError(t, r.Submit(Task{Name: "inc", Run: func(context.Context) error {
			defer wg.Done()
			count.Add(1)
			return nil
		}}))
	}
	wg.Wait()
	assert.Equal(t, int32(5), count.Load())
	require.NoError(t, r.Shutdown(context.Background()))
}

func TestRunner_SubmitQueueFull(t *testing.T) {
	r := New(1, 1)
	// Not started: nothing drains the queue.
	require.NoError(t, r.Submit(Task{Name: "a", Run: func(context.Context) error { return nil }}))

	err := r.Submit(Task{Name: "b", Run: func(context.Context) error { return nil }})
	assert.True(t, errors.Is(err, ErrQueueFull))
	assert.Equal(t, 1, r.Pending())
}

func TestRunner_SubmitAfterShutdown(t *testing.T) {
	r := New(1, 1)
	r.Start(context.Background())
	require.NoError(t, r.Shutdown(context.Background()))

	err := r.Submit(Task{Name: "late", Run: func(context.Context) error { return nil }})
	assert.True(t, errors.Is(err, ErrStopped))

	// Idempotent.
	require.NoError(t, r.Shutdown(context.Background()))
}

func TestRunner_ShutdownCancelsInFlight(t *testing.T) {
	r := New(1, 1)
	r.Start(context.Background())

	started := make(chan struct{})
	var sawCancel atomic.Bool
	require.NoError(t, r.Submit(Task{Name: "long", Run: func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		sawCancel.Store(true)
		return ctx.Err()
	}}))

	<-started
	assert.Equal(t, 1, r.InFlight())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, r.Shutdown(ctx))
	assert.True(t, sawCancel.Load())
	assert.Equal(t, 0, r.InFlight())
}

func TestRunner_ShutdownTimeout(t *testing.T) {
	r := New(1, 1)
	r.Start(context.Background())

	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, r.Submit(Task{Name: "stubborn", Run: func(context.Context) error {
		close(started)
		<-release
		return nil
	}}))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := r.Shutdown(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	close(release)
}

func TestRunner_PanicIsRecovered(t *testing.T) {
	r := New(1, 2)
	r.Start(context.Background())

	done := make(chan struct{})
	require.NoError(t, r.Submit(Task{Name: "boom", Run: func(context.Context) error { panic("kaboom") }}))
	require.NoError(t, r.Submit(Task{Name: "after", Run: func(context.Context) error {
		close(done)
		return nil
	}}))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not survive panic")
	}
	require.NoError(t, r.Shutdown(context.Background()))
}

func TestRunner_ParentContextCancellation(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	r := New(1, 1)
	r.Start(parent)

	got := make(chan error, 1)
	require.NoError(t, r.Submit(Task{Name: "wait", Run: func(ctx context.Context) error {
		<-ctx.Done()
		got <- ctx.Err()
		return nil
	}}))
	cancel()

	select {
	case err := <-got:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("task context not cancelled")
	}
	require.NoError(t, r.Shutdown(context.Background()))
}

func TestNew_Defaults(t *testing.T) {
	r := New(0, -1)
	assert.Equal(t, DefaultConcurrency, r.concurrency)
	assert.Equal(t, DefaultQueueSize, cap(r.queue))
}
