package queue

import (
	"context"
	"sync"
	"time"
)

// Result is the terminal outcome of one task, published by the executor
// and awaited by the accepting request.
type Result struct {
	// Key is the storage key of the written chunk on success.
	Key string

	// ETag is the backend etag, when the backend produced one.
	ETag string

	// Err carries the failure on an unsuccessful outcome.
	Err error
}

// Ok reports whether the task succeeded.
func (r Result) Ok() bool {
	return r.Err == nil
}

// ResultStore hands task outcomes from executors back to the HTTP
// request that is waiting on them. Each task gets a buffered channel so
// publishing never blocks an executor, and outcomes for tasks nobody
// waits on (requests that timed out, tasks owned by another process)
// are dropped.
type ResultStore struct {
	mu      sync.Mutex
	waiters map[string]chan Result
}

// NewResultStore returns an empty result store.
func NewResultStore() *ResultStore {
	return &ResultStore{waiters: make(map[string]chan Result)}
}

// Register creates the waiting channel for a task. Must be called
// before the task is submitted, or its result may be lost to the race.
func (s *ResultStore) Register(taskID string) <-chan Result {
	ch := make(chan Result, 1)
	s.mu.Lock()
	s.waiters[taskID] = ch
	s.mu.Unlock()
	return ch
}

// Forget discards the waiting channel, for requests that stop waiting.
func (s *ResultStore) Forget(taskID string) {
	s.mu.Lock()
	delete(s.waiters, taskID)
	s.mu.Unlock()
}

// Publish delivers the outcome to the waiter, if one is registered.
func (s *ResultStore) Publish(taskID string, res Result) {
	s.mu.Lock()
	ch, ok := s.waiters[taskID]
	if ok {
		delete(s.waiters, taskID)
	}
	s.mu.Unlock()
	if ok {
		ch <- res
	}
}

// Wait blocks until the outcome arrives, the timeout passes, or ctx is
// done. It returns false when no outcome was observed in time; the task
// keeps running either way.
func (s *ResultStore) Wait(ctx context.Context, ch <-chan Result, timeout time.Duration) (Result, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		return res, true
	case <-timer.C:
		return Result{}, false
	case <-ctx.Done():
		return Result{}, false
	}
}
