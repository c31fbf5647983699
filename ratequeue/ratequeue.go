// Package ratequeue serializes upstream calls behind one paced worker.
//
// Tasks run strictly in submission order, one at a time, with at least
// 1/rps seconds between dispatches. Submissions beyond the pending cap fail
// immediately with ErrQueueOverflow so callers can answer 503 instead of
// piling up.
package ratequeue

import (
	"context"
	"errors"

	"golang.org/x/time/rate"
)

// ErrQueueOverflow is returned when the pending queue is full at submission.
var ErrQueueOverflow = errors.New("ratequeue: queue overflow")

// ErrClosed is returned when the queue's pump has stopped.
var ErrClosed = errors.New("ratequeue: queue closed")

type task struct {
	ctx  context.Context
	fn   func(ctx context.Context) (any, error)
	done chan result
}

type result struct {
	value any
	err   error
}

// Queue is a rate-limited FIFO work queue. Create with New, then Start the
// pump once.
type Queue struct {
	tasks   chan task
	limiter *rate.Limiter
	stopped chan struct{}
}

// New creates a Queue dispatching at most rps tasks per second with at most
// queueMax tasks pending.
func New(rps int, queueMax int) *Queue {
	if rps <= 0 {
		rps = 1
	}
	if queueMax <= 0 {
		queueMax = 10
	}
	return &Queue{
		tasks:   make(chan task, queueMax),
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		stopped: make(chan struct{}),
	}
}

// Start runs the pump until ctx is cancelled. Call once.
func (q *Queue) Start(ctx context.Context) {
	go func() {
		defer close(q.stopped)
		for {
			select {
			case <-ctx.Done():
				return
			case t := <-q.tasks:
				q.dispatch(t)
			}
		}
	}()
}

func (q *Queue) dispatch(t task) {
	// A task whose requester already gave up should not burn a token.
	if t.ctx.Err() != nil {
		t.done <- result{err: t.ctx.Err()}
		return
	}
	if err := q.limiter.Wait(t.ctx); err != nil {
		if t.ctx.Err() == nil {
			// rate.Limiter fails early, with its own error, when the wait
			// would outlast the deadline; report it as the deadline.
			err = context.DeadlineExceeded
		}
		t.done <- result{err: err}
		return
	}
	v, err := t.fn(t.ctx)
	t.done <- result{value: v, err: err}
}

// Do submits fn and waits for its result. It fails synchronously with
// ErrQueueOverflow when the pending queue is full, and with ctx.Err() if the
// caller cancels while waiting.
func (q *Queue) Do(ctx context.Context, fn func(ctx context.Context) (any, error)) (any, error) {
	t := task{ctx: ctx, fn: fn, done: make(chan result, 1)}
	select {
	case q.tasks <- t:
	default:
		return nil, ErrQueueOverflow
	}

	select {
	case r := <-t.done:
		return r.value, r.err
	case <-q.stopped:
		return nil, ErrClosed
	case <-ctx.Done():
		// The pump may still run the task; the result channel is buffered
		// so it will not leak a goroutine.
		return nil, ctx.Err()
	}
}
