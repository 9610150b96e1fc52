package objectstore

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Finalize operations
const (
	OperationFinalizeStore  = "finalize_store"
	OperationFinalizeDelete = "finalize_delete"
)

// ErrSchedulerClosed is returned when scheduling on a closed scheduler
var ErrSchedulerClosed = errors.New("scheduler closed")

// Job is one finalize call.
type Job struct {
	Operation    string
	EntityID     uuid.UUID
	AttachmentID string
	Run          func(ctx context.Context) error
}

// Scheduler runs finalize jobs. Retry policy belongs to the scheduler
// implementation.
type Scheduler interface {
	Schedule(ctx context.Context, job Job) error
}

// ImmediateScheduler runs jobs synchronously on the caller's goroutine.
type ImmediateScheduler struct{}

func (ImmediateScheduler) Schedule(ctx context.Context, job Job) error {
	return job.Run(ctx)
}

// WorkerScheduler runs jobs on a bounded set of goroutines, detached from
// the scheduling request. Failed jobs are logged and dropped.
type WorkerScheduler struct {
	mu      sync.RWMutex
	closed  bool
	closing chan struct{}
	slots   chan struct{}
	group   errgroup.Group
	ctx     context.Context
	cancel  context.CancelFunc
	logger  *slog.Logger
	onDone  func(job Job, err error)
}

// NewWorkerScheduler creates a scheduler with the given number of workers.
func NewWorkerScheduler(workers int, logger *slog.Logger) *WorkerScheduler {
	if workers <= 0 {
		workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &WorkerScheduler{
		closing: make(chan struct{}),
		slots:   make(chan struct{}, workers),
		ctx:     ctx,
		cancel:  cancel,
		logger:  logger,
	}
}

// OnDone registers a callback invoked after every job. Must be called
// before the first Schedule.
func (s *WorkerScheduler) OnDone(fn func(job Job, err error)) {
	s.onDone = fn
}

// Schedule queues job. While all workers are busy it waits for a free one
// until ctx is done or the scheduler closes.
func (s *WorkerScheduler) Schedule(ctx context.Context, job Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case s.slots <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.closing:
		return ErrSchedulerClosed
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		<-s.slots
		return ErrSchedulerClosed
	}
	s.group.Go(func() error {
		defer func() { <-s.slots }()
		err := job.Run(s.ctx)
		if err != nil {
			s.logger.Error("finalize job failed", "operation", job.Operation, "entity_id", job.EntityID, "object_store_id", job.AttachmentID, "error", err)
		}
		if s.onDone != nil {
			s.onDone(job, err)
		}
		return nil
	})
	return nil
}

// Close stops accepting jobs and waits for running ones to finish.
func (s *WorkerScheduler) Close() error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.closing)
	}
	s.mu.Unlock()
	err := s.group.Wait()
	s.cancel()
	return err
}

// Abort cancels running jobs and waits for them.
func (s *WorkerScheduler) Abort() error {
	s.cancel()
	return s.Close()
}
