package worker

import (
	"context"
	"sync"
	"time"

	"github.com/marmos91/shuttle/internal/logger"
)

// AutoscaleConfig bounds and paces the scaling decisions.
type AutoscaleConfig struct {
	Enabled    bool
	MinWorkers int
	MaxWorkers int

	// Cooldown is the minimum time between two scaling steps.
	Cooldown time.Duration

	// ScaleUpQueueThreshold and ScaleUpUtilization trigger growth when
	// either is reached. ScaleDownUtilization triggers shrink only with
	// an empty queue; keeping it below the up threshold provides the
	// hysteresis that prevents oscillation.
	ScaleUpQueueThreshold int
	ScaleUpUtilization    float64
	ScaleDownUtilization  float64
}

// Autoscaler resizes the worker pool one step at a time on a periodic
// tick, driven by queue depth and worker utilization.
type Autoscaler struct {
	pool  *Pool
	depth func() int
	cfg   AutoscaleConfig

	interval  time.Duration
	lastScale time.Time

	mu        sync.Mutex
	started   bool
	stopCh    chan struct{}
	stoppedCh chan struct{}
	stopOnce  sync.Once
}

// NewAutoscaler creates an autoscaler over the pool. depth reports the
// number of admitted tasks waiting for a worker.
func NewAutoscaler(pool *Pool, depth func() int, cfg AutoscaleConfig) *Autoscaler {
	if cfg.MinWorkers < 1 {
		cfg.MinWorkers = 1
	}
	if cfg.MaxWorkers < cfg.MinWorkers {
		cfg.MaxWorkers = cfg.MinWorkers
	}

	return &Autoscaler{
		pool:      pool,
		depth:     depth,
		cfg:       cfg,
		interval:  time.Second,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

// Start clamps the pool into [MinWorkers, MaxWorkers] and begins
// ticking.
func (a *Autoscaler) Start(ctx context.Context) {
	a.mu.Lock()
	if a.started {
		a.mu.Unlock()
		return
	}
	a.started = true
	a.mu.Unlock()

	count := a.pool.Size()
	clamped := clamp(count, a.cfg.MinWorkers, a.cfg.MaxWorkers)
	if clamped != count {
		a.pool.Resize(clamped)
	}

	logger.Info("starting worker autoscaler",
		"min_workers", a.cfg.MinWorkers,
		"max_workers", a.cfg.MaxWorkers,
		"cooldown", a.cfg.Cooldown)

	go a.loop(ctx)
}

// Stop halts the tick loop.
func (a *Autoscaler) Stop() {
	a.mu.Lock()
	if !a.started {
		a.mu.Unlock()
		return
	}
	a.mu.Unlock()

	a.stopOnce.Do(func() { close(a.stopCh) })
	<-a.stoppedCh
}

func (a *Autoscaler) loop(ctx context.Context) {
	defer close(a.stoppedCh)

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-a.stopCh:
			return
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			a.evaluate(now)
		}
	}
}

// evaluate applies one scaling decision. Growth takes priority over
// shrink; both respect the cooldown and the min/max bounds.
func (a *Autoscaler) evaluate(now time.Time) {
	count := a.pool.Size()
	busy := a.pool.Busy()
	depth := a.depth()

	denom := count
	if denom < 1 {
		denom = 1
	}
	utilization := float64(busy) / float64(denom)

	if now.Sub(a.lastScale) < a.cfg.Cooldown {
		return
	}

	var desired int
	switch {
	case (depth >= a.cfg.ScaleUpQueueThreshold || utilization >= a.cfg.ScaleUpUtilization) &&
		count < a.cfg.MaxWorkers:
		desired = count + 1
	case depth == 0 && utilization <= a.cfg.ScaleDownUtilization &&
		count > a.cfg.MinWorkers:
		desired = count - 1
	default:
		return
	}

	a.pool.Resize(desired)
	a.lastScale = now

	logger.Info("worker pool scaled",
		"from_workers", count,
		"to_workers", desired,
		"queued", depth,
		"busy", busy,
		"utilization", utilization)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

