package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueProcessesJob(t *testing.T) {
	q := New(10, 1, time.Second, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	var processed int32
	done := make(chan error, 1)
	ok := q.Enqueue(Job{
		ID:     "job1",
		Source: "test",
		Work: func(ctx context.Context) error {
			atomic.AddInt32(&processed, 1)
			return nil
		},
		OnFinish: func(err error) { done <- err },
	})
	require.True(t, ok)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("job did not complete")
	}
	assert.EqualValues(t, 1, atomic.LoadInt32(&processed))
}

func TestQueueRejectsWhenFull(t *testing.T) {
	q := New(1, 0, 100*time.Millisecond, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	require.True(t, q.Enqueue(Job{ID: "first", Work: func(context.Context) error { return nil }}))
	assert.False(t, q.Enqueue(Job{ID: "drop", Work: func(context.Context) error { return nil }}))

	st := q.Stats()
	assert.Equal(t, 1, st.Length)
	assert.Equal(t, 1, st.Capacity)
	assert.EqualValues(t, 1, st.Dropped)
}

func TestQueueRejectsBeforeStartAndAfterStop(t *testing.T) {
	q := New(4, 1, time.Second, zerolog.Nop())
	assert.False(t, q.Enqueue(Job{ID: "early", Work: func(context.Context) error { return nil }}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)
	assert.True(t, q.Healthy())

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	q.Stop(stopCtx)

	assert.False(t, q.Healthy())
	assert.False(t, q.Enqueue(Job{ID: "late", Work: func(context.Context) error { return nil }}))
}

func TestQueueJobTimeoutAndPanic(t *testing.T) {
	q := New(4, 1, 20*time.Millisecond, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	results := make(chan error, 2)
	require.True(t, q.Enqueue(Job{
		ID: "slow",
		Work: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
		OnFinish: func(err error) { results <- err },
	}))
	require.True(t, q.Enqueue(Job{
		ID:       "boom",
		Work:     func(context.Context) error { panic("boom") },
		OnFinish: func(err error) { results <- err },
	}))

	for i := 0; i < 2; i++ {
		select {
		case err := <-results:
			assert.Error(t, err)
		case <-time.After(time.Second):
			t.Fatal("jobs did not finish")
		}
	}

	assert.Eventually(t, func() bool { return q.Stats().Failed == 2 }, time.Second, 5*time.Millisecond)
}

func TestQueueTimeoutSurfacesDeadline(t *testing.T) {
	q := New(1, 1, 10*time.Millisecond, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	done := make(chan error, 1)
	require.True(t, q.Enqueue(Job{
		ID: "slow",
		Work: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
		OnFinish: func(err error) { done <- err },
	}))

	select {
	case err := <-done:
		assert.True(t, errors.Is(err, context.DeadlineExceeded))
	case <-time.After(time.Second):
		t.Fatal("job did not time out")
	}
}
