package limits

import "errors"

// Reason identifies which layer of the admission stack refused a task.
// The value travels to clients in the X-RateLimit-Reason header.
type Reason string

const (
	// ReasonQueueFull means no queue slot was available.
	ReasonQueueFull Reason = "queue_full"

	// ReasonGlobalFull means the global inflight cap is exhausted.
	ReasonGlobalFull Reason = "global_full"

	// ReasonPerUploadFull means the upload hit its hard inflight cap.
	ReasonPerUploadFull Reason = "per_upload_full"

	// ReasonFairShareFull means the upload hit its fair-share cap while
	// the global pool is saturated.
	ReasonFairShareFull Reason = "fair_share_full"
)

// Refusal is the typed error returned when admission rejects a task.
// Handlers map it to 429 with Retry-After and the reason header.
type Refusal struct {
	Reason Reason
}

func (r *Refusal) Error() string {
	switch r.Reason {
	case ReasonQueueFull:
		return "task queue is full"
	case ReasonGlobalFull:
		return "global inflight chunk limit reached"
	case ReasonPerUploadFull:
		return "per-upload inflight chunk limit reached"
	case ReasonFairShareFull:
		return "per-upload fair-share limit reached"
	default:
		return "admission refused"
	}
}

// AsRefusal unwraps err into a Refusal when one is in the chain.
func AsRefusal(err error) (*Refusal, bool) {
	var refusal *Refusal
	if errors.As(err, &refusal) {
		return refusal, true
	}
	return nil, false
}
