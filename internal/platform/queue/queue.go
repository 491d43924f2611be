// Package queue is a bounded job queue drained by a fixed worker pool.
// Enqueue never blocks: a full queue rejects the job and the caller decides
// what a dropped job means.
package queue

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Job encapsulates a unit of work processed by the worker pool.
type Job struct {
	ID       string
	Source   string
	Work     func(context.Context) error
	OnFinish func(error)
}

// Stats exposes current queue metrics.
type Stats struct {
	Length      int    `json:"length"`
	Capacity    int    `json:"capacity"`
	WorkerCount int    `json:"worker_count"`
	Processed   uint64 `json:"processed"`
	Failed      uint64 `json:"failed"`
	Dropped     uint64 `json:"dropped"`
}

// Queue is a bounded job queue with a fixed worker pool.
type Queue struct {
	jobs        chan Job
	workerCount int
	timeout     time.Duration
	logger      zerolog.Logger

	mu      sync.RWMutex
	started bool
	stopped bool
	wg      sync.WaitGroup

	processed uint64
	failed    uint64
	dropped   uint64
}

// New creates a Queue with the provided capacity, worker count and per-job
// timeout. A zero timeout means jobs only stop when the queue context ends.
func New(capacity, workerCount int, timeout time.Duration, logger zerolog.Logger) *Queue {
	return &Queue{
		jobs:        make(chan Job, capacity),
		workerCount: workerCount,
		timeout:     timeout,
		logger:      logger.With().Str("component", "queue").Logger(),
	}
}

// Start launches the worker pool.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return
	}
	q.started = true
	q.mu.Unlock()
	for i := 0; i < q.workerCount; i++ {
		q.wg.Add(1)
		go q.worker(ctx)
	}
}

// Enqueue attempts to queue a job without blocking. It returns false when the
// queue is full, not started, or stopped.
func (q *Queue) Enqueue(j Job) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if !q.started || q.stopped {
		q.logger.Warn().Str("job", j.ID).Msg("enqueue on inactive queue")
		atomic.AddUint64(&q.dropped, 1)
		return false
	}
	select {
	case q.jobs <- j:
		return true
	default:
		q.logger.Warn().Str("job", j.ID).Str("source", j.Source).Msg("job queue full, dropping job")
		atomic.AddUint64(&q.dropped, 1)
		return false
	}
}

// Stop stops accepting new jobs and waits for workers to drain until ctx is
// done.
func (q *Queue) Stop(ctx context.Context) {
	q.mu.Lock()
	if !q.started || q.stopped {
		q.mu.Unlock()
		return
	}
	q.stopped = true
	close(q.jobs)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
	}
}

// Stats returns current queue metrics.
func (q *Queue) Stats() Stats {
	return Stats{
		Length:      len(q.jobs),
		Capacity:    cap(q.jobs),
		WorkerCount: q.workerCount,
		Processed:   atomic.LoadUint64(&q.processed),
		Failed:      atomic.LoadUint64(&q.failed),
		Dropped:     atomic.LoadUint64(&q.dropped),
	}
}

// Healthy returns true if the queue has been started and not stopped.
func (q *Queue) Healthy() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.started && !q.stopped
}

func (q *Queue) worker(ctx context.Context) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-q.jobs:
			if !ok {
				return
			}
			q.handleJob(ctx, j)
		}
	}
}

func (q *Queue) handleJob(ctx context.Context, j Job) {
	start := time.Now()
	var err error
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panic: %v", r)
			q.logger.Error().Str("job", j.ID).Interface("panic", r).Msg("job panic recovered")
		}
		if j.OnFinish != nil {
			j.OnFinish(err)
		}
		atomic.AddUint64(&q.processed, 1)
		evt := q.logger.Debug()
		if err != nil {
			atomic.AddUint64(&q.failed, 1)
			evt = q.logger.Warn().Err(err)
		}
		evt.Str("source", j.Source).Str("job", j.ID).Dur("duration", time.Since(start)).Msg("job finished")
	}()

	jobCtx, cancel := ctx, context.CancelFunc(func() {})
	if q.timeout > 0 {
		jobCtx, cancel = context.WithTimeout(ctx, q.timeout)
	}
	defer cancel()
	err = j.Work(jobCtx)
}
