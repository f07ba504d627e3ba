package limits

import "sync"

// counter is a capacity-bounded counter. Each admission layer owns one
// with its own lock, so a slow layer never serializes the others.
type counter struct {
	mu    sync.Mutex
	cap   int
	count int
}

func newCounter(capacity int) *counter {
	return &counter{cap: capacity}
}

// tryAcquire takes one slot, reporting false at capacity.
func (c *counter) tryAcquire() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.count >= c.cap {
		return false
	}
	c.count++
	return true
}

// release frees one slot. The count never goes negative, so a spurious
// release is absorbed rather than corrupting admission.
func (c *counter) release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.count > 0 {
		c.count--
	}
}

func (c *counter) value() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

// saturated reports whether every slot is taken.
func (c *counter) saturated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count >= c.cap
}

// uploadCounter tracks inflight tasks per upload. The hard cap and the
// fair-share cap both read the same count; entries are dropped at zero
// so the map stays bounded by active uploads.
type uploadCounter struct {
	mu     sync.Mutex
	counts map[string]int
}

func newUploadCounter() *uploadCounter {
	return &uploadCounter{counts: make(map[string]int)}
}

// tryAcquire takes a slot for the upload. The hard cap always applies;
// fairCap applies only when contended is true. On refusal it reports
// which cap was hit.
func (u *uploadCounter) tryAcquire(uploadID string, hardCap, fairCap int, contended bool) (ok bool, reason Reason) {
	u.mu.Lock()
	defer u.mu.Unlock()
	current := u.counts[uploadID]
	if current >= hardCap {
		return false, ReasonPerUploadFull
	}
	if contended && current >= fairCap {
		return false, ReasonFairShareFull
	}
	u.counts[uploadID] = current + 1
	return true, ""
}

func (u *uploadCounter) release(uploadID string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	current := u.counts[uploadID]
	if current <= 1 {
		delete(u.counts, uploadID)
		return
	}
	u.counts[uploadID] = current - 1
}

func (u *uploadCounter) value(uploadID string) int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.counts[uploadID]
}
