package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PipelineMetrics tracks the chunk execution pipeline: queue depth, inflight
// work, worker pool size and admission refusals.
type PipelineMetrics struct {
	queueDepth     prometheus.Gauge
	inflightChunks prometheus.Gauge
	workerCount    prometheus.Gauge
	workerBusy     prometheus.Gauge
	throttledTotal *prometheus.CounterVec
	retriesTotal   prometheus.Counter
}

// NewPipelineMetrics creates the pipeline instrument group.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewPipelineMetrics() *PipelineMetrics {
	if !IsEnabled() {
		return nil
	}

	reg := GetRegistry()

	return &PipelineMetrics{
		queueDepth: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "shuttle_task_queue_depth",
			Help: "Number of admitted chunk tasks waiting for a worker",
		}),
		inflightChunks: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "shuttle_inflight_chunks",
			Help: "Number of chunk tasks currently executing",
		}),
		workerCount: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "shuttle_worker_count",
			Help: "Current worker pool size",
		}),
		workerBusy: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "shuttle_worker_busy_count",
			Help: "Workers currently executing a task",
		}),
		throttledTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "shuttle_throttled_requests_total",
				Help: "Requests refused by admission control or rate limiting",
			},
			[]string{"reason"},
		),
		retriesTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "shuttle_chunk_retries_total",
			Help: "Chunk task retry attempts after transient failures",
		}),
	}
}

// SetQueueDepth records the number of tasks waiting for a worker.
func (m *PipelineMetrics) SetQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(depth))
}

// SetInflight records the number of tasks currently executing.
func (m *PipelineMetrics) SetInflight(inflight int) {
	if m == nil {
		return
	}
	m.inflightChunks.Set(float64(inflight))
}

// SetWorkerCount records the current pool size.
func (m *PipelineMetrics) SetWorkerCount(count int) {
	if m == nil {
		return
	}
	m.workerCount.Set(float64(count))
}

// SetWorkerBusy records how many workers are mid-task.
func (m *PipelineMetrics) SetWorkerBusy(busy int) {
	if m == nil {
		return
	}
	m.workerBusy.Set(float64(busy))
}

// RecordThrottle counts a refused request by refusal reason.
func (m *PipelineMetrics) RecordThrottle(reason string) {
	if m == nil {
		return
	}
	m.throttledTotal.WithLabelValues(reason).Inc()
}

// RecordRetry counts one retry attempt.
func (m *PipelineMetrics) RecordRetry() {
	if m == nil {
		return
	}
	m.retriesTotal.Inc()
}
