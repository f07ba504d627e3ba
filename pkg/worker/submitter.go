package worker

import (
	"context"

	"github.com/marmos91/shuttle/pkg/limits"
	"github.com/marmos91/shuttle/pkg/queue"
)

// QueueSubmitter routes admitted tasks into an external durable queue.
// Chunk bytes are parked in the staging store first so the queue
// message stays small; the lease is tracked by task id for the consumer
// that will finish the task.
//
// On a submission error everything is rolled back and the caller keeps
// ownership of the lease.
type QueueSubmitter struct {
	queue   queue.DurableQueue
	staging *queue.Staging
	leases  *LeaseTable
}

// NewQueueSubmitter wires a durable queue, its staging store, and the
// lease table shared with the consumer group.
func NewQueueSubmitter(q queue.DurableQueue, staging *queue.Staging, leases *LeaseTable) *QueueSubmitter {
	return &QueueSubmitter{queue: q, staging: staging, leases: leases}
}

// Submit stages the chunk bytes, tracks the lease, and enqueues the
// task.
func (s *QueueSubmitter) Submit(ctx context.Context, task *queue.Task, lease *limits.Lease) error {
	if len(task.Body) > 0 {
		if err := s.staging.Put(task.ID, task.Body); err != nil {
			return err
		}
		task.StagingKey = task.ID
		task.Body = nil
	}

	s.leases.Track(task.ID, lease)

	if err := s.queue.Enqueue(ctx, task); err != nil {
		s.leases.Forget(task.ID)
		if task.StagingKey != "" {
			_ = s.staging.Delete(task.StagingKey)
		}
		return err
	}
	return nil
}
