package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sage3/foresight/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduleRunsRepeatedly(t *testing.T) {
	s := New()
	defer s.Shutdown(time.Second)

	var runs int32
	id := s.Schedule(10*time.Millisecond, "tick", func(context.Context) error {
		atomic.AddInt32(&runs, 1)
		return nil
	})
	require.NotZero(t, id)

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&runs) >= 3 }, time.Second, 5*time.Millisecond)
}

func TestTasksAreIndependent(t *testing.T) {
	s := New()
	defer s.Shutdown(time.Second)

	var fast int32
	block := make(chan struct{})
	defer close(block)

	s.Schedule(5*time.Millisecond, "slow", func(ctx context.Context) error {
		select {
		case <-block:
		case <-ctx.Done():
		}
		return nil
	})
	s.Schedule(5*time.Millisecond, "fast", func(context.Context) error {
		atomic.AddInt32(&fast, 1)
		return nil
	})

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&fast) >= 3 }, time.Second, 5*time.Millisecond)
}

func TestCancelStopsFutureRuns(t *testing.T) {
	s := New()
	defer s.Shutdown(time.Second)

	var runs int32
	id := s.Schedule(5*time.Millisecond, "count", func(context.Context) error {
		atomic.AddInt32(&runs, 1)
		return nil
	})
	assert.Eventually(t, func() bool { return atomic.LoadInt32(&runs) >= 1 }, time.Second, time.Millisecond)

	assert.True(t, s.Cancel(id))
	assert.False(t, s.Cancel(id))
	time.Sleep(20 * time.Millisecond)
	after := atomic.LoadInt32(&runs)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, atomic.LoadInt32(&runs))
	assert.Empty(t, s.Tasks())
}

func TestFailuresAreRecorded(t *testing.T) {
	s := New()
	defer s.Shutdown(time.Second)

	s.Schedule(5*time.Millisecond, "broken", func(context.Context) error {
		return errors.New(errors.ErrCodeInternal, "boom")
	})

	assert.Eventually(t, func() bool {
		tasks := s.Tasks()
		return len(tasks) == 1 && tasks[0].Failures > 0
	}, time.Second, 5*time.Millisecond)
	assert.Contains(t, s.Tasks()[0].LastErr, "boom")
}

func TestShutdownWaitsForInFlight(t *testing.T) {
	s := New()
	started := make(chan struct{}, 1)
	var finished int32

	s.Schedule(time.Millisecond, "work", func(ctx context.Context) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-ctx.Done()
		time.Sleep(10 * time.Millisecond)
		atomic.StoreInt32(&finished, 1)
		return nil
	})
	<-started

	require.NoError(t, s.Shutdown(time.Second))
	assert.Equal(t, int32(1), atomic.LoadInt32(&finished))
	assert.Zero(t, s.Schedule(time.Millisecond, "late", func(context.Context) error { return nil }))
}

func TestShutdownTimeout(t *testing.T) {
	s := New()
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	defer close(release)

	s.Schedule(time.Millisecond, "stuck", func(context.Context) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		return nil
	})
	<-started

	err := s.Shutdown(20 * time.Millisecond)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeShutdownTimeout))
}
