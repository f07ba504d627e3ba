// Package memory implements the durable queue interface over a bounded
// in-process channel. Nothing survives a restart; the variant exists
// for tests and for running the durable-mode code path without external
// infrastructure.
package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/marmos91/shuttle/pkg/queue"
)

// ErrClosed is returned for operations on a closed queue.
var ErrClosed = errors.New("memory queue is closed")

// Queue is a bounded FIFO channel of tasks.
type Queue struct {
	tasks     chan *queue.Task
	done      chan struct{}
	closeOnce sync.Once
}

// New creates a queue holding at most size tasks.
func New(size int) *Queue {
	return &Queue{
		tasks: make(chan *queue.Task, size),
		done:  make(chan struct{}),
	}
}

// Enqueue appends the task, blocking while the queue is full.
func (q *Queue) Enqueue(ctx context.Context, task *queue.Task) error {
	select {
	case <-q.done:
		return ErrClosed
	default:
	}

	select {
	case q.tasks <- task:
		return nil
	case <-q.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dequeue pops the oldest task, waiting up to timeout. Returns
// (nil, nil) when nothing arrived in time.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (*queue.Delivery, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case task := <-q.tasks:
		return &queue.Delivery{Task: task, Receipt: task.ID}, nil
	case <-timer.C:
		return nil, nil
	case <-q.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Ack is a no-op: dequeuing already removed the task.
func (q *Queue) Ack(ctx context.Context, d *queue.Delivery) error {
	return nil
}

// Nack re-enqueues the task when retry is set, otherwise drops it.
func (q *Queue) Nack(ctx context.Context, d *queue.Delivery, retry bool) error {
	if !retry {
		return nil
	}
	return q.Enqueue(ctx, d.Task)
}

// Depth reports how many tasks are waiting.
func (q *Queue) Depth() int {
	return len(q.tasks)
}

// Close wakes every blocked operation. Tasks still queued are lost,
// consistent with the in-memory durability contract.
func (q *Queue) Close() error {
	q.closeOnce.Do(func() { close(q.done) })
	return nil
}

var _ queue.DurableQueue = (*Queue)(nil)
