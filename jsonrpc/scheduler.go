package jsonrpc

import (
	"context"
	"errors"
	mathrand "math/rand"
	"runtime"
	"sync"
	"time"

	"github.com/gammazero/workerpool"
	"github.com/oklog/ulid/v2"

	"github.com/slighter12/jsonrpc-entrypoint/logger"
)

var ErrSchedulerClosed = errors.New("scheduler closed")

// Scheduler is the concurrent-execution resource batch items are spawned on.
// Submit must not block on the job itself.
type Scheduler interface {
	Submit(job func()) error
	Close(ctx context.Context) error
}

// SchedulerFactory creates the scheduler of an entrypoint on first use.
type SchedulerFactory func() (Scheduler, error)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// newJobID generates a ULID used to correlate scheduled jobs in logs.
func newJobID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// PoolScheduler runs jobs on a bounded gammazero worker pool.
type PoolScheduler struct {
	pool   *workerpool.WorkerPool
	mutex  sync.RWMutex
	closed bool
}

// NewPoolScheduler creates a pool with at most maxWorkers goroutines.
// A non-positive value selects runtime.NumCPU()*4.
func NewPoolScheduler(maxWorkers int) *PoolScheduler {
	if maxWorkers <= 0 {
		maxWorkers = runtime.NumCPU() * 4
	}
	return &PoolScheduler{pool: workerpool.New(maxWorkers)}
}

// PoolSchedulerFactory returns a factory producing PoolSchedulers of the given size.
func PoolSchedulerFactory(maxWorkers int) SchedulerFactory {
	return func() (Scheduler, error) {
		return NewPoolScheduler(maxWorkers), nil
	}
}

func (s *PoolScheduler) Submit(job func()) error {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if s.closed {
		return ErrSchedulerClosed
	}
	id := newJobID()
	logger.Debug("Job submitted", "job", id, "waiting", s.pool.WaitingQueueSize())
	s.pool.Submit(func() {
		start := time.Now()
		job()
		logger.Debug("Job finished", "job", id, "duration", time.Since(start))
	})
	return nil
}

// Close stops accepting jobs and waits for queued ones, bounded by ctx.
func (s *PoolScheduler) Close(ctx context.Context) error {
	s.mutex.Lock()
	if s.closed {
		s.mutex.Unlock()
		return nil
	}
	s.closed = true
	s.mutex.Unlock()

	done := make(chan struct{})
	go func() {
		s.pool.StopWait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// InlineScheduler runs every job synchronously in the submitting goroutine.
type InlineScheduler struct{}

func (InlineScheduler) Submit(job func()) error {
	job()
	return nil
}

func (InlineScheduler) Close(context.Context) error { return nil }
