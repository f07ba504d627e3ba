package worker

import (
	"context"
	"sync"
	"time"

	"github.com/marmos91/shuttle/internal/logger"
	"github.com/marmos91/shuttle/pkg/queue"
)

// ConsumerGroup drains an external durable queue with a fixed set of
// consumer loops, running each delivery through the shared executor.
// Retries travel through the queue: a transient failure with budget
// left is nacked for redelivery with an incremented retry count.
type ConsumerGroup struct {
	queue    queue.DurableQueue
	executor *Executor
	leases   *LeaseTable

	consumers   int
	pollTimeout time.Duration
	maxRetries  int

	mu        sync.Mutex
	started   bool
	wg        sync.WaitGroup
	stopCh    chan struct{}
	stoppedCh chan struct{}
	stopOnce  sync.Once
}

// ConsumerConfig sizes the consumer group.
type ConsumerConfig struct {
	Consumers   int
	PollTimeout time.Duration
	MaxRetries  int
}

// NewConsumerGroup creates the group. It is inert until Start.
func NewConsumerGroup(q queue.DurableQueue, executor *Executor, leases *LeaseTable, cfg ConsumerConfig) *ConsumerGroup {
	if cfg.Consumers < 1 {
		cfg.Consumers = 1
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 5 * time.Second
	}

	return &ConsumerGroup{
		queue:       q,
		executor:    executor,
		leases:      leases,
		consumers:   cfg.Consumers,
		pollTimeout: cfg.PollTimeout,
		maxRetries:  cfg.MaxRetries,
		stopCh:      make(chan struct{}),
		stoppedCh:   make(chan struct{}),
	}
}

// Start launches the consumer loops.
func (g *ConsumerGroup) Start(ctx context.Context) {
	g.mu.Lock()
	if g.started {
		g.mu.Unlock()
		return
	}
	g.started = true
	g.mu.Unlock()

	logger.Info("starting queue consumers", "consumers", g.consumers)

	for i := 0; i < g.consumers; i++ {
		g.wg.Add(1)
		go g.consume(ctx, i)
	}

	go func() {
		g.wg.Wait()
		close(g.stoppedCh)
	}()
}

// Stop signals the loops and waits up to timeout. A delivery being
// processed finishes; nothing new is dequeued.
func (g *ConsumerGroup) Stop(timeout time.Duration) {
	g.mu.Lock()
	if !g.started {
		g.mu.Unlock()
		return
	}
	g.mu.Unlock()

	g.stopOnce.Do(func() { close(g.stopCh) })

	select {
	case <-g.stoppedCh:
		logger.Info("queue consumers stopped")
	case <-time.After(timeout):
		logger.Warn("queue consumer stop timed out")
	}
}

func (g *ConsumerGroup) consume(ctx context.Context, id int) {
	defer g.wg.Done()

	for {
		select {
		case <-g.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		delivery, err := g.queue.Dequeue(ctx, g.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("queue consumer: dequeue failed", "consumer_id", id, "error", err)

			select {
			case <-time.After(time.Second):
			case <-g.stopCh:
				return
			case <-ctx.Done():
				return
			}
			continue
		}
		if delivery == nil {
			continue
		}

		g.handle(ctx, delivery)
	}
}

// handle runs one delivery to a decision: ack after a terminal outcome,
// or nack-with-requeue for a retryable failure with attempts left.
func (g *ConsumerGroup) handle(ctx context.Context, d *queue.Delivery) {
	task := d.Task

	// The task left the queue; its queue slot frees up while the
	// inflight tokens stay held until the terminal outcome.
	g.leases.ReleaseQueueSlot(task.ID)

	res, retryable := g.executor.ExecuteOnce(ctx, task)

	if res.Err != nil && retryable && task.RetryCount < g.maxRetries {
		task.RetryCount++
		g.executor.pipeline.RecordRetry()
		logger.Debug("chunk task requeued after transient failure",
			"task_id", task.ID,
			"upload_id", task.UploadID,
			"chunk_index", task.ChunkIndex,
			"retry_count", task.RetryCount,
			"error", res.Err)

		if err := g.queue.Nack(ctx, d, true); err != nil {
			logger.Error("queue consumer: nack failed, abandoning task",
				"task_id", task.ID, "error", err)
			g.finish(ctx, task, res)
		}
		return
	}

	// Terminal outcome: dispose the delivery first, so the waiting
	// request is released only once the queue no longer owns the task.
	if err := g.queue.Ack(ctx, d); err != nil {
		logger.Warn("queue consumer: ack failed", "task_id", task.ID, "error", err)
	}
	g.finish(ctx, task, res)
}

func (g *ConsumerGroup) finish(ctx context.Context, task *queue.Task, res queue.Result) {
	g.executor.Finish(ctx, task, res)
	g.leases.Release(task.ID)
}
