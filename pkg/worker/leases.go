package worker

import (
	"sync"

	"github.com/marmos91/shuttle/pkg/limits"
)

// LeaseTable maps in-flight task ids to their admission leases while
// tasks travel through an external queue, where the lease pointer
// cannot ride along. Deliveries whose task id is unknown (tasks
// enqueued by a previous process) release nothing: admission counters
// are per-process anyway.
type LeaseTable struct {
	mu     sync.Mutex
	leases map[string]*limits.Lease
}

// NewLeaseTable returns an empty table.
func NewLeaseTable() *LeaseTable {
	return &LeaseTable{leases: make(map[string]*limits.Lease)}
}

// Track associates a lease with a task id. Nil leases are ignored.
func (t *LeaseTable) Track(taskID string, lease *limits.Lease) {
	if lease == nil {
		return
	}
	t.mu.Lock()
	t.leases[taskID] = lease
	t.mu.Unlock()
}

// ReleaseQueueSlot frees the queue slot of the task's lease, keeping
// the inflight tokens until the terminal outcome.
func (t *LeaseTable) ReleaseQueueSlot(taskID string) {
	t.mu.Lock()
	lease := t.leases[taskID]
	t.mu.Unlock()
	if lease != nil {
		lease.ReleaseQueueSlot()
	}
}

// Release frees everything the task's lease still holds and forgets the
// entry.
func (t *LeaseTable) Release(taskID string) {
	t.mu.Lock()
	lease := t.leases[taskID]
	delete(t.leases, taskID)
	t.mu.Unlock()
	if lease != nil {
		lease.Release()
	}
}

// Forget drops the entry without releasing, for callers that keep the
// lease pointer and release it themselves.
func (t *LeaseTable) Forget(taskID string) {
	t.mu.Lock()
	delete(t.leases, taskID)
	t.mu.Unlock()
}

// Len reports how many leases are tracked.
func (t *LeaseTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.leases)
}
