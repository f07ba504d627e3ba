package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// newScaleTestPool returns an unstarted pool: Resize only moves the
// target, which is all the scaling decisions read.
func newScaleTestPool(workers int) *Pool {
	return NewPool(nil, workers, 8, nil)
}

func scaleTestConfig() AutoscaleConfig {
	return AutoscaleConfig{
		Enabled:               true,
		MinWorkers:            1,
		MaxWorkers:            4,
		Cooldown:              0,
		ScaleUpQueueThreshold: 1,
		ScaleUpUtilization:    0.8,
		ScaleDownUtilization:  0.2,
	}
}

func TestAutoscalerGrowsOnQueueDepth(t *testing.T) {
	t.Parallel()

	pool := newScaleTestPool(2)
	a := NewAutoscaler(pool, func() int { return 5 }, scaleTestConfig())

	a.evaluate(time.Now())
	assert.Equal(t, 3, pool.Size())

	// One step per tick, not one jump to max.
	a.evaluate(time.Now())
	assert.Equal(t, 4, pool.Size())
}

func TestAutoscalerGrowsOnUtilization(t *testing.T) {
	t.Parallel()

	pool := newScaleTestPool(2)
	pool.busy.Store(2) // 100% utilization, empty queue

	cfg := scaleTestConfig()
	cfg.ScaleUpQueueThreshold = 100
	a := NewAutoscaler(pool, func() int { return 0 }, cfg)

	a.evaluate(time.Now())
	assert.Equal(t, 3, pool.Size())
}

func TestAutoscalerRespectsMaxWorkers(t *testing.T) {
	t.Parallel()

	pool := newScaleTestPool(4)
	a := NewAutoscaler(pool, func() int { return 100 }, scaleTestConfig())

	a.evaluate(time.Now())
	assert.Equal(t, 4, pool.Size())
}

func TestAutoscalerShrinksWhenIdle(t *testing.T) {
	t.Parallel()

	pool := newScaleTestPool(3)
	a := NewAutoscaler(pool, func() int { return 0 }, scaleTestConfig())

	a.evaluate(time.Now())
	assert.Equal(t, 2, pool.Size())
}

func TestAutoscalerRespectsMinWorkers(t *testing.T) {
	t.Parallel()

	pool := newScaleTestPool(1)
	a := NewAutoscaler(pool, func() int { return 0 }, scaleTestConfig())

	a.evaluate(time.Now())
	assert.Equal(t, 1, pool.Size())
}

func TestAutoscalerHoldsWithQueuedWork(t *testing.T) {
	t.Parallel()

	// Depth below the up threshold but non-zero: neither direction
	// applies, a backlog blocks the shrink.
	pool := newScaleTestPool(3)
	cfg := scaleTestConfig()
	cfg.ScaleUpQueueThreshold = 10
	a := NewAutoscaler(pool, func() int { return 1 }, cfg)

	a.evaluate(time.Now())
	assert.Equal(t, 3, pool.Size())
}

func TestAutoscalerHoldsBusyPoolWithEmptyQueue(t *testing.T) {
	t.Parallel()

	// Utilization between the two thresholds: steady state.
	pool := newScaleTestPool(2)
	pool.busy.Store(1) // 50%

	cfg := scaleTestConfig()
	cfg.ScaleUpQueueThreshold = 10
	a := NewAutoscaler(pool, func() int { return 0 }, cfg)

	a.evaluate(time.Now())
	assert.Equal(t, 2, pool.Size())
}

func TestAutoscalerHonorsCooldown(t *testing.T) {
	t.Parallel()

	pool := newScaleTestPool(2)
	cfg := scaleTestConfig()
	cfg.Cooldown = time.Minute
	a := NewAutoscaler(pool, func() int { return 5 }, cfg)

	now := time.Now()
	a.evaluate(now)
	assert.Equal(t, 3, pool.Size())

	a.evaluate(now.Add(time.Second))
	assert.Equal(t, 3, pool.Size(), "a second step inside the cooldown must not apply")

	a.evaluate(now.Add(2 * time.Minute))
	assert.Equal(t, 4, pool.Size())
}

func TestAutoscalerStartClampsPoolSize(t *testing.T) {
	t.Parallel()

	pool := newScaleTestPool(16)
	a := NewAutoscaler(pool, func() int { return 0 }, scaleTestConfig())

	a.Start(context.Background())
	defer a.Stop()

	assert.Equal(t, 4, pool.Size())
}

func TestAutoscalerConfigBounds(t *testing.T) {
	t.Parallel()

	a := NewAutoscaler(newScaleTestPool(1), func() int { return 0 }, AutoscaleConfig{
		MinWorkers: 0,
		MaxWorkers: 0,
	})
	assert.Equal(t, 1, a.cfg.MinWorkers)
	assert.Equal(t, 1, a.cfg.MaxWorkers)
}
