// Package jobqueue is the bounded, single-consumer funnel that every
// front-end (HTTP handlers, the pub/sub subscriber) pushes hardware-touching
// work through. Exactly one Worker drains it, so it complements the
// Serializer in forbidding concurrent device access.
package jobqueue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrQueueFull is returned by Submit when the bounded queue has no room.
var ErrQueueFull = errors.New("jobqueue: queue is full")

// Result is the structured outcome of one job, shaped to match the JSON the
// front-ends return directly: {"success": bool, ...fields, "error": string}.
type Result map[string]any

// Job is one unit of work handed to the Worker.
type Job struct {
	ID         string
	Op         string
	Payload    map[string]any
	EnqueuedAt time.Time
}

// Dispatcher executes one job's operation and returns its result. It must
// never panic across the queue boundary; the Worker recovers and converts a
// panic into a structured failure result.
type Dispatcher func(ctx context.Context, job Job) Result

// Queue is a bounded FIFO of jobs, paired with a correlation map from job id
// to a channel the producer waits on. Each producer owns its job id
// exclusively: only it reads from the channel Submit hands back.
type Queue struct {
	jobs chan Job
	log  zerolog.Logger

	mu      sync.Mutex
	waiters map[string]chan Result
}

// New builds a Queue with the given bounded capacity.
func New(capacity int, log zerolog.Logger) *Queue {
	return &Queue{
		jobs:    make(chan Job, capacity),
		waiters: make(map[string]chan Result),
		log:     log,
	}
}

// Submit enqueues a job and returns its id plus a channel that will receive
// exactly one Result. The channel is buffered so a late Worker write never
// blocks if the caller has already given up waiting.
func (q *Queue) Submit(op string, payload map[string]any) (string, <-chan Result, error) {
	id := uuid.New().String()
	ch := make(chan Result, 1)

	q.mu.Lock()
	q.waiters[id] = ch
	q.mu.Unlock()

	job := Job{ID: id, Op: op, Payload: payload, EnqueuedAt: time.Now()}
	select {
	case q.jobs <- job:
		return id, ch, nil
	default:
		q.mu.Lock()
		delete(q.waiters, id)
		q.mu.Unlock()
		return "", nil, ErrQueueFull
	}
}

// Len reports the number of jobs currently queued but not yet picked up by
// the Worker, used by the /api/health endpoint.
func (q *Queue) Len() int {
	return len(q.jobs)
}

// Run is the Worker loop: it drains jobs one at a time, invokes dispatch,
// and delivers the result to whichever channel Submit handed the producer.
// It runs until ctx is cancelled.
func (q *Queue) Run(ctx context.Context, dispatch Dispatcher) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-q.jobs:
			result := q.dispatchSafely(ctx, dispatch, job)
			q.deliver(job.ID, result)
		}
	}
}

func (q *Queue) dispatchSafely(ctx context.Context, dispatch Dispatcher, job Job) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			q.log.Error().Interface("panic", r).Str("job_id", job.ID).Str("op", job.Op).Msg("worker recovered from panic")
			result = Result{"success": false, "error": "internal error processing job"}
		}
	}()
	return dispatch(ctx, job)
}

func (q *Queue) deliver(id string, result Result) {
	q.mu.Lock()
	ch, ok := q.waiters[id]
	delete(q.waiters, id)
	q.mu.Unlock()

	if !ok {
		return
	}
	ch <- result
}

// Wait blocks on ch until a result arrives or timeout elapses. On timeout it
// returns a structured failure result; the Worker's eventual write to ch (if
// any) is discarded harmlessly since ch is buffered.
func Wait(ctx context.Context, ch <-chan Result, timeout time.Duration) Result {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case result := <-ch:
		return result
	case <-timer.C:
		return Result{"success": false, "error": "operation timed out"}
	case <-ctx.Done():
		return Result{"success": false, "error": "request cancelled"}
	}
}
