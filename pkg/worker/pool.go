package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/shuttle/internal/logger"
	"github.com/marmos91/shuttle/pkg/limits"
	"github.com/marmos91/shuttle/pkg/metrics"
	"github.com/marmos91/shuttle/pkg/queue"
)

// ErrPoolStopped is returned for submissions after shutdown began.
var ErrPoolStopped = errors.New("worker pool is stopped")

// maxPoolSize caps Resize. The retire channel is sized to it, so a
// shrink can always queue its tokens without blocking.
const maxPoolSize = 4096

// submission pairs a task with the admission lease acquired for it.
type submission struct {
	task  *queue.Task
	lease *limits.Lease
}

// Pool executes tasks on a resizable set of workers fed by a bounded
// channel. Admission control guarantees the channel never fills beyond
// its queue-slot cap, so Submit does not block in practice.
//
// Resize grows by spawning workers and shrinks by retiring them: a
// retire token sits in a channel until an idle worker picks it instead
// of a task and exits. In-flight tasks are never cancelled by a shrink.
type Pool struct {
	executor *Executor
	tasks    chan submission
	retire   chan struct{}
	pipeline *metrics.PipelineMetrics

	mu       sync.Mutex
	target   int
	retiring int
	started  bool
	runCtx   context.Context

	busy      atomic.Int64
	wg        sync.WaitGroup
	stopCh    chan struct{}
	stoppedCh chan struct{}
	stopOnce  sync.Once
}

// NewPool creates a pool of workers workers over a queue of queueSize
// submissions. The pool is inert until Start.
func NewPool(executor *Executor, workers, queueSize int, pm *metrics.PipelineMetrics) *Pool {
	if workers < 1 {
		workers = 1
	}
	if workers > maxPoolSize {
		workers = maxPoolSize
	}
	if queueSize < 1 {
		queueSize = 1
	}

	return &Pool{
		executor:  executor,
		tasks:     make(chan submission, queueSize),
		retire:    make(chan struct{}, maxPoolSize),
		pipeline:  pm,
		target:    workers,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

// Start spawns the workers.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.runCtx = ctx
	count := p.target
	p.mu.Unlock()

	logger.Info("starting worker pool", "workers", count)

	for i := 0; i < count; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
	p.pipeline.SetWorkerCount(count)

	go func() {
		p.wg.Wait()
		close(p.stoppedCh)
	}()
}

// Submit hands a task (and its lease) to the pool. The lease's queue
// slot is released when a worker picks the task up; the remaining
// tokens are released at the task's terminal outcome.
func (p *Pool) Submit(ctx context.Context, task *queue.Task, lease *limits.Lease) error {
	select {
	case <-p.stopCh:
		return ErrPoolStopped
	default:
	}

	select {
	case p.tasks <- submission{task: task, lease: lease}:
		return nil
	case <-p.stopCh:
		return ErrPoolStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Resize sets the worker count to n (clamped to [1, maxPoolSize]).
// Growth first cancels pending retirements, then spawns; shrink queues
// retire tokens for idle workers to pick up.
func (p *Pool) Resize(n int) {
	if n < 1 {
		n = 1
	}
	if n > maxPoolSize {
		n = maxPoolSize
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started {
		p.target = n
		return
	}
	if n == p.target {
		return
	}

	if n > p.target {
		grow := n - p.target
		for grow > 0 && p.retiring > 0 {
			select {
			case <-p.retire:
				// A queued retirement is cancelled instead of
				// spawning a replacement worker.
				p.retiring--
				grow--
				continue
			default:
			}
			break
		}
		for i := 0; i < grow; i++ {
			p.wg.Add(1)
			go p.worker(p.runCtx)
		}
	} else {
		for i := 0; i < p.target-n; i++ {
			p.retiring++
			p.retire <- struct{}{}
		}
	}

	p.target = n
	p.pipeline.SetWorkerCount(n)
}

// Size reports the target worker count.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.target
}

// Busy reports how many workers are mid-task.
func (p *Pool) Busy() int {
	return int(p.busy.Load())
}

// QueueDepth reports submissions waiting for a worker.
func (p *Pool) QueueDepth() int {
	return len(p.tasks)
}

// Stop signals the workers and waits up to timeout for queued tasks to
// drain. Tasks still running after the timeout keep running; their
// results are published whenever they finish.
func (p *Pool) Stop(timeout time.Duration) {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	logger.Info("stopping worker pool", "queued", len(p.tasks))
	p.stopOnce.Do(func() { close(p.stopCh) })

	select {
	case <-p.stoppedCh:
		logger.Info("worker pool stopped")
	case <-time.After(timeout):
		logger.Warn("worker pool stop timed out", "queued", len(p.tasks))
	}
}

func (p *Pool) worker(ctx context.Context) {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopCh:
			p.drain(ctx)
			return

		case <-ctx.Done():
			return

		case <-p.retire:
			p.mu.Lock()
			p.retiring--
			p.mu.Unlock()
			return

		case sub, ok := <-p.tasks:
			if !ok {
				return
			}
			p.run(ctx, sub)
		}
	}
}

// drain finishes queued submissions during shutdown so their waiters
// get real outcomes instead of timeouts.
func (p *Pool) drain(ctx context.Context) {
	for {
		select {
		case sub, ok := <-p.tasks:
			if !ok {
				return
			}
			p.run(ctx, sub)
		default:
			return
		}
	}
}

func (p *Pool) run(ctx context.Context, sub submission) {
	if sub.lease != nil {
		sub.lease.ReleaseQueueSlot()
	}

	p.pipeline.SetWorkerBusy(int(p.busy.Add(1)))
	defer func() {
		p.pipeline.SetWorkerBusy(int(p.busy.Add(-1)))
	}()

	p.executor.Process(ctx, sub.task)

	if sub.lease != nil {
		sub.lease.Release()
	}
}
