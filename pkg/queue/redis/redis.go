// Package redis implements the durable queue over a redis list.
//
// Enqueue is RPUSH, Dequeue is BLPOP, so tasks flow FIFO and survive a
// process restart as long as redis does. Redis has no visibility
// timeout: a dequeued task is gone from the list, and a consumer crash
// between dequeue and ack loses it. The accepting request times out and
// the client re-sends the chunk, so the pipeline stays correct.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/marmos91/shuttle/internal/logger"
	"github.com/marmos91/shuttle/pkg/queue"
)

// Queue is a redis-backed task queue.
type Queue struct {
	client *redis.Client
	key    string
}

// New connects to redis at url and uses key as the list name. The
// connection is verified with a ping before the queue is returned.
func New(ctx context.Context, url, key string) (*Queue, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis at %s: %w", opts.Addr, err)
	}

	logger.Debug("redis queue initialized", "addr", opts.Addr, "key", key)

	return &Queue{client: client, key: key}, nil
}

// NewWithClient wraps an existing client, for tests.
func NewWithClient(client *redis.Client, key string) *Queue {
	return &Queue{client: client, key: key}
}

// Enqueue appends the task to the tail of the list.
func (q *Queue) Enqueue(ctx context.Context, task *queue.Task) error {
	data, err := queue.EncodeTask(task)
	if err != nil {
		return err
	}

	if err := q.client.RPush(ctx, q.key, data).Err(); err != nil {
		return fmt.Errorf("failed to enqueue task %s: %w", task.ID, err)
	}
	return nil
}

// Dequeue pops the oldest task, blocking up to timeout. Returns
// (nil, nil) when the list stayed empty.
//
// BLPOP treats a zero timeout as "block forever", so timeouts below the
// server's one second resolution are rounded up.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (*queue.Delivery, error) {
	if timeout < time.Second {
		timeout = time.Second
	}

	result, err := q.client.BLPop(ctx, timeout, q.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to dequeue from %s: %w", q.key, err)
	}

	// BLPOP returns [key, value].
	if len(result) != 2 {
		return nil, fmt.Errorf("unexpected BLPOP reply length %d", len(result))
	}

	task, err := queue.DecodeTask([]byte(result[1]))
	if err != nil {
		return nil, err
	}

	return &queue.Delivery{Task: task, Receipt: task.ID}, nil
}

// Ack is a no-op: BLPOP already removed the task from the list.
func (q *Queue) Ack(ctx context.Context, d *queue.Delivery) error {
	return nil
}

// Nack re-enqueues the task when retry is set, otherwise drops it. The
// caller bumps RetryCount before nacking so the re-delivered task
// carries its attempt history.
func (q *Queue) Nack(ctx context.Context, d *queue.Delivery, retry bool) error {
	if !retry {
		return nil
	}
	return q.Enqueue(ctx, d.Task)
}

// Depth reports the current list length.
func (q *Queue) Depth(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read queue depth: %w", err)
	}
	return n, nil
}

// Close releases the redis connection pool.
func (q *Queue) Close() error {
	return q.client.Close()
}

var _ queue.DurableQueue = (*Queue)(nil)
