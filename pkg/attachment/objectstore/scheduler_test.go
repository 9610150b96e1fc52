package objectstore

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestImmediateScheduler(t *testing.T) {
	ran := false
	err := ImmediateScheduler{}.Schedule(context.Background(), Job{Run: func(context.Context) error {
		ran = true
		return errors.New("boom")
	}})
	assert.True(t, ran)
	assert.EqualError(t, err, "boom")
}

func TestWorkerScheduler_RunsAllJobs(t *testing.T) {
	s := NewWorkerScheduler(3, nil)

	var mu sync.Mutex
	var failed []string
	s.OnDone(func(job Job, err error) {
		if err != nil {
			mu.Lock()
			failed = append(failed, job.AttachmentID)
			mu.Unlock()
		}
	})

	var count atomic.Int32
	for i := 0; i < 10; i++ {
		id := uuid.New().String()
		fail := i == 4
		require.NoError(t, s.Schedule(context.Background(), Job{
			Operation:    OperationFinalizeStore,
			AttachmentID: id,
			Run: func(context.Context) error {
				count.Add(1)
				if fail {
					return errors.New("transient")
				}
				return nil
			},
		}))
	}

	require.NoError(t, s.Close())
	assert.Equal(t, int32(10), count.Load())
	assert.Len(t, failed, 1)
}

func TestWorkerScheduler_BoundsConcurrency(t *testing.T) {
	s := NewWorkerScheduler(2, nil)

	var running, peak atomic.Int32
	for i := 0; i < 6; i++ {
		require.NoError(t, s.Schedule(context.Background(), Job{Run: func(context.Context) error {
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
		}}))
	}
	require.NoError(t, s.Close())
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestWorkerScheduler_JobsOutliveRequestContext(t *testing.T) {
	s := NewWorkerScheduler(1, nil)
	ctx, cancel := context.WithCancel(context.Background())

	var jobErr error
	require.NoError(t, s.Schedule(ctx, Job{Run: func(jobCtx context.Context) error {
		cancel()
		jobErr = jobCtx.Err()
		return nil
	}}))
	require.NoError(t, s.Close())
	assert.NoError(t, jobErr)
}

func TestWorkerScheduler_RejectsAfterClose(t *testing.T) {
	s := NewWorkerScheduler(1, nil)
	require.NoError(t, s.Close())

	err := s.Schedule(context.Background(), Job{Run: func(context.Context) error { return nil }})
	assert.ErrorIs(t, err, ErrSchedulerClosed)
}

func TestWorkerScheduler_RejectsCancelledRequest(t *testing.T) {
	s := NewWorkerScheduler(1, nil)
	defer s.Close()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.Schedule(ctx, Job{Run: func(context.Context) error { return nil }})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWorkerScheduler_AbortCancelsRunningJobs(t *testing.T) {
	s := NewWorkerScheduler(1, nil)
	started := make(chan struct{})

	var jobErr error
	require.NoError(t, s.Schedule(context.Background(), Job{Run: func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		jobErr = ctx.Err()
		return jobErr
	}}))

	<-started
	require.NoError(t, s.Abort())
	assert.ErrorIs(t, jobErr, context.Canceled)
}

func TestWorkerScheduler_WaitForWorkerHonoursContext(t *testing.T) {
	s := NewWorkerScheduler(1, nil)
	release := make(chan struct{})
	require.NoError(t, s.Schedule(context.Background(), Job{Run: func(context.Context) error {
		<-release
		return nil
	}}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := s.Schedule(ctx, Job{Run: func(context.Context) error { return nil }})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	require.NoError(t, s.Close())
}

func TestWorkerScheduler_CloseReleasesWaitingSchedule(t *testing.T) {
	s := NewWorkerScheduler(1, nil)
	release := make(chan struct{})
	require.NoError(t, s.Schedule(context.Background(), Job{Run: func(context.Context) error {
		<-release
		return nil
	}}))

	waiting := make(chan error, 1)
	go func() {
		waiting <- s.Schedule(context.Background(), Job{Run: func(context.Context) error { return nil }})
	}()

	closed := make(chan error, 1)
	go func() { closed <- s.Close() }()

	select {
	case err := <-waiting:
		assert.ErrorIs(t, err, ErrSchedulerClosed)
	case <-time.After(time.Second):
		t.Fatal("Schedule still waiting after Close")
	}

	close(release)
	select {
	case err := <-closed:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Close did not return")
	}
}
