// Package queue implements the priority job queue: a mapping from priority
// to FIFO sub-queue, with blocking dequeue and synchronous submit-time
// validation.
package queue

import (
	"context"
	"os"
	"sync"

	"github.com/google/uuid"

	"github.com/scribeforge/transcribe-orchestrator/internal/governor"
	"github.com/scribeforge/transcribe-orchestrator/internal/model"
	"github.com/scribeforge/transcribe-orchestrator/internal/xerrors"
)

// Validator checks whether a job's estimated resources could ever be
// admitted, independent of current load. Implemented by *governor.Governor.
type Validator interface {
	Fits(job governor.Admittable) bool
}

var (
	ErrQueueStopped       = xerrors.Newf("job queue has been stopped").Component("queue").Category(xerrors.CategoryQueue).Build()
	ErrQueueFull          = xerrors.Newf("job queue is full").Component("queue").Category(xerrors.CategoryQueue).Build()
	ErrFileNotFound       = xerrors.Newf("source file does not exist").Component("queue").Category(xerrors.CategoryValidation).Build()
	ErrInsufficientCapacity = xerrors.Newf("job exceeds governor's memory ceiling: insufficient capacity").Component("queue").Category(xerrors.CategoryValidation).Build()
)

// Queue is a thread-safe priority job queue with blocking dequeue.
type Queue struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	subs     map[model.Priority][]*model.Job
	order    []model.Priority // highest priority first
	maxDepth int
	depth    int
	stopped  bool

	validator Validator
}

// New creates a Queue with the given max depth (0 means unbounded) and an
// optional Validator used to reject impossible jobs at submit time.
func New(maxDepth int, validator Validator) *Queue {
	q := &Queue{
		subs: map[model.Priority][]*model.Job{
			model.PriorityCritical: nil,
			model.PriorityHigh:     nil,
			model.PriorityNormal:   nil,
			model.PriorityLow:      nil,
		},
		order:     []model.Priority{model.PriorityCritical, model.PriorityHigh, model.PriorityNormal, model.PriorityLow},
		maxDepth:  maxDepth,
		validator: validator,
	}
	q.notEmpty = sync.NewCond(&q.mu)
	return q
}

// Submit validates and enqueues a job. Returns an error synchronously if the
// source file is missing or the job could never fit the Governor's ceiling —
// an otherwise-impossible job is rejected rather than queued forever.
func (q *Queue) Submit(job *model.Job) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}

	if _, err := os.Stat(job.SourcePath); err != nil {
		return xerrors.Wrap(ErrFileNotFound).Context("path", job.SourcePath).Build()
	}

	if q.validator != nil && !q.validator.Fits(governor.Admittable{ID: job.ID, EstimatedMemoryGB: job.EstimatedMemoryGB}) {
		return xerrors.Wrap(ErrInsufficientCapacity).
			JobContext(job.ID, "").
			Context("estimated_memory_gb", job.EstimatedMemoryGB).
			Build()
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.stopped {
		return ErrQueueStopped
	}
	if q.maxDepth > 0 && q.depth >= q.maxDepth {
		return ErrQueueFull
	}

	q.subs[job.Priority] = append(q.subs[job.Priority], job)
	q.depth++
	q.notEmpty.Signal()

	return nil
}

// Dequeue blocks until a job is available, the queue is stopped, or ctx is
// cancelled. Selects the highest-priority non-empty sub-queue; ties within a
// sub-queue are broken by FIFO order (earliest submit time).
func (q *Queue) Dequeue(ctx context.Context) (*model.Job, error) {
	done := make(chan struct{})
	var cancelled bool

	go func() {
		select {
		case <-ctx.Done():
			q.mu.Lock()
			cancelled = true
			q.notEmpty.Broadcast()
			q.mu.Unlock()
		case <-done:
		}
	}()
	defer close(done)

	q.mu.Lock()
	defer q.mu.Unlock()

	for {
		if job := q.popLocked(); job != nil {
			return job, nil
		}
		if q.stopped {
			return nil, ErrQueueStopped
		}
		if cancelled || ctx.Err() != nil {
			return nil, ctx.Err()
		}
		q.notEmpty.Wait()
	}
}

func (q *Queue) popLocked() *model.Job {
	for _, p := range q.order {
		bucket := q.subs[p]
		if len(bucket) == 0 {
			continue
		}
		job := bucket[0]
		q.subs[p] = bucket[1:]
		q.depth--
		return job
	}
	return nil
}

// Stop unblocks all pending and future Dequeue calls with ErrQueueStopped.
func (q *Queue) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.stopped = true
	q.notEmpty.Broadcast()
}

// Depth returns the total number of queued jobs across all priorities.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.depth
}
