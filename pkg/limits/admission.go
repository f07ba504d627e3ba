// Package limits admits chunk tasks into the execution pipeline.
//
// Four caps guard the pipeline in a fixed order: a queue slot, the
// global inflight cap, the per-upload hard cap, and the per-upload
// fair-share cap. Each cap has its own lock so layers never contend on
// a shared mutex. A refusal releases whatever was already acquired, in
// reverse, and surfaces a typed Refusal the HTTP layer turns into 429.
//
// Fair-share caps only bite while the global pool is saturated. With
// global headroom a single upload may burst past its fair share; under
// contention no upload can starve the rest.
package limits

import (
	"sync/atomic"

	"github.com/marmos91/shuttle/pkg/metrics"
)

// Config sizes the admission stack. FairShareLimit zero resolves to
// max(1, WorkerCount/2).
type Config struct {
	QueueSize      int
	GlobalLimit    int
	PerUploadLimit int
	FairShareLimit int
	WorkerCount    int
}

// Admission is the layered admission controller. Safe for concurrent
// use.
type Admission struct {
	queue     *counter
	global    *counter
	perUpload *uploadCounter

	perUploadCap int
	fairShareCap int

	metrics *metrics.PipelineMetrics
}

// NewAdmission builds the controller. pm may be nil.
func NewAdmission(cfg Config, pm *metrics.PipelineMetrics) *Admission {
	fairShare := cfg.FairShareLimit
	if fairShare <= 0 {
		fairShare = cfg.WorkerCount / 2
		if fairShare < 1 {
			fairShare = 1
		}
	}
	return &Admission{
		queue:        newCounter(cfg.QueueSize),
		global:       newCounter(cfg.GlobalLimit),
		perUpload:    newUploadCounter(),
		perUploadCap: cfg.PerUploadLimit,
		fairShareCap: fairShare,
		metrics:      pm,
	}
}

// Acquire admits one task for the upload, or returns a *Refusal naming
// the cap that refused. On success the returned lease holds a queue
// slot plus the global and per-upload tokens.
func (a *Admission) Acquire(uploadID string) (*Lease, error) {
	if !a.queue.tryAcquire() {
		return nil, a.refuse(ReasonQueueFull)
	}
	if !a.global.tryAcquire() {
		a.queue.release()
		return nil, a.refuse(ReasonGlobalFull)
	}

	// Saturation is judged with our own token counted: taking the last
	// global slot is what puts the pool under contention.
	contended := a.global.saturated()
	ok, reason := a.perUpload.tryAcquire(uploadID, a.perUploadCap, a.fairShareCap, contended)
	if !ok {
		a.global.release()
		a.queue.release()
		return nil, a.refuse(reason)
	}

	a.metrics.SetQueueDepth(a.queue.value())
	a.metrics.SetInflight(a.global.value())

	lease := &Lease{adm: a, uploadID: uploadID}
	lease.queueHeld.Store(true)
	lease.tokensHeld.Store(true)
	return lease, nil
}

// QueueDepth reports how many admitted tasks still hold a queue slot.
func (a *Admission) QueueDepth() int {
	return a.queue.value()
}

// Inflight reports tasks admitted and not yet terminal.
func (a *Admission) Inflight() int {
	return a.global.value()
}

// UploadInflight reports the inflight count of one upload.
func (a *Admission) UploadInflight(uploadID string) int {
	return a.perUpload.value(uploadID)
}

func (a *Admission) refuse(reason Reason) error {
	a.metrics.RecordThrottle(string(reason))
	return &Refusal{Reason: reason}
}

// Lease is the handle for admitted work. The queue slot is released
// when a worker picks the task up; the inflight tokens are released at
// the terminal outcome. Both releases are exactly-once no matter how
// often they are called.
type Lease struct {
	adm      *Admission
	uploadID string

	queueHeld  atomic.Bool
	tokensHeld atomic.Bool
}

// ReleaseQueueSlot frees the queue slot once the task left the queue.
func (l *Lease) ReleaseQueueSlot() {
	if !l.queueHeld.CompareAndSwap(true, false) {
		return
	}
	l.adm.queue.release()
	l.adm.metrics.SetQueueDepth(l.adm.queue.value())
}

// Release frees every slot the lease still holds. Called at the
// terminal outcome of the task: success, retry exhaustion, or
// cancellation.
func (l *Lease) Release() {
	l.ReleaseQueueSlot()
	if !l.tokensHeld.CompareAndSwap(true, false) {
		return
	}
	l.adm.global.release()
	l.adm.perUpload.release(l.uploadID)
	l.adm.metrics.SetInflight(l.adm.global.value())
}

// UploadID identifies the upload this lease was acquired for.
func (l *Lease) UploadID() string {
	return l.uploadID
}
