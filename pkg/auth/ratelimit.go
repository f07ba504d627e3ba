package auth

import (
	"sync"
	"time"
)

// RateLimitReason labels 429 responses produced by the request limiter,
// distinguishing them from pipeline backpressure refusals.
const RateLimitReason = "api_key_rate_limit"

// rateWindow is the fixed-window length for request rate accounting.
const rateWindow = time.Minute

// RateLimiter enforces a fixed-window per-principal request cap. Counts
// reset at the top of each minute. A nil limiter or a zero limit allows
// everything.
type RateLimiter struct {
	mu     sync.Mutex
	limit  int
	counts map[string]*windowCount
	now    func() time.Time
}

type windowCount struct {
	bucket int64
	count  int
}

// NewRateLimiter creates a limiter allowing limit requests per principal
// per minute. A limit of zero or less returns nil, which Allow treats as
// unlimited.
func NewRateLimiter(limit int) *RateLimiter {
	if limit <= 0 {
		return nil
	}
	return &RateLimiter{
		limit:  limit,
		counts: make(map[string]*windowCount),
		now:    time.Now,
	}
}

// Allow records one request for the principal and reports whether it is
// within the window's budget.
func (l *RateLimiter) Allow(principalID string) bool {
	if l == nil {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	bucket := l.now().Unix() / int64(rateWindow.Seconds())
	wc, ok := l.counts[principalID]
	if !ok || wc.bucket != bucket {
		// New window; stale entries for other principals are replaced
		// the same way on their next request.
		l.counts[principalID] = &windowCount{bucket: bucket, count: 1}
		return true
	}
	if wc.count >= l.limit {
		return false
	}
	wc.count++
	return true
}

// RetryAfter returns the client backoff hint for refused requests.
func (l *RateLimiter) RetryAfter() time.Duration {
	return rateWindow
}
