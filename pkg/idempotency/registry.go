// Package idempotency makes upload operations safe to retry.
//
// Every guarded request reserves a (kind, key) row before doing any
// work. The reservation carries a fingerprint of the request
// parameters: a retry with the same fingerprint replays the stored
// result, a reuse of the key with different parameters is refused. The
// unique index on (kind, key) serializes concurrent reservations, so
// exactly one request per key ever executes.
package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/marmos91/shuttle/pkg/models"
	"github.com/marmos91/shuttle/pkg/store/metadata"
)

// Decision classifies the outcome of a reservation attempt.
type Decision int

const (
	// DecisionFresh means the key was unseen and is now reserved for
	// this request. The caller must execute and record a result.
	DecisionFresh Decision = iota

	// DecisionReplay means a completed record with a matching
	// fingerprint exists; the stored result should be returned as-is.
	DecisionReplay

	// DecisionConflict means the key is taken and not replayable:
	// either the fingerprint differs, or the original request is still
	// in flight and has no result to replay yet.
	DecisionConflict
)

// Outcome is the result of Reserve. Record is nil only for Fresh
// reservations that inserted a new row; replays and conflicts carry the
// row that won the key.
type Outcome struct {
	Decision Decision
	Record   *models.IdempotencyRecord
}

// Replayed unmarshals the stored result into out and returns the status
// code to replay.
func (o Outcome) Replayed(out any) (int, error) {
	if o.Record == nil || !o.Record.Completed() {
		return 0, fmt.Errorf("idempotency: no stored result to replay")
	}
	if out != nil && o.Record.Result != "" {
		if err := json.Unmarshal([]byte(o.Record.Result), out); err != nil {
			return 0, fmt.Errorf("idempotency: decode stored result: %w", err)
		}
	}
	return o.Record.StatusCode, nil
}

// Registry reserves and replays idempotent requests on top of the
// metadata store.
type Registry struct {
	store metadata.Store
	ttl   time.Duration
	now   func() time.Time
}

// NewRegistry returns a registry whose reservations expire ttl after
// creation. Expired rows are removed by the maintenance sweep, not by
// lookups.
func NewRegistry(store metadata.Store, ttl time.Duration) *Registry {
	return &Registry{
		store: store,
		ttl:   ttl,
		now:   time.Now,
	}
}

// Reserve claims (kind, key) for a request with the given fingerprint.
//
// A lost insert race is re-read and evaluated like any pre-existing
// row, so concurrent requests with the same key converge on one winner
// and everyone else sees Replay or Conflict.
func (r *Registry) Reserve(ctx context.Context, kind models.IdempotencyKind, key, fingerprint string) (Outcome, error) {
	rec, err := r.store.GetIdempotency(ctx, kind, key)
	if err == nil {
		return evaluate(rec, fingerprint), nil
	}
	if !errors.Is(err, models.ErrIdempotencyNotFound) {
		return Outcome{}, err
	}

	fresh := r.NewRecord(kind, key, fingerprint)
	err = r.store.PutIdempotency(ctx, fresh)
	if err == nil {
		return Outcome{Decision: DecisionFresh, Record: fresh}, nil
	}
	if !errors.Is(err, models.ErrIdempotencyConflict) {
		return Outcome{}, err
	}

	rec, err = r.store.GetIdempotency(ctx, kind, key)
	if err != nil {
		return Outcome{}, err
	}
	return evaluate(rec, fingerprint), nil
}

// NewRecord builds an unsaved reservation row. The transfer service
// uses it to persist the init reservation inside the upload-creating
// transaction instead of going through Reserve.
func (r *Registry) NewRecord(kind models.IdempotencyKind, key, fingerprint string) *models.IdempotencyRecord {
	return &models.IdempotencyRecord{
		ID:          uuid.New().String(),
		Kind:        kind,
		Key:         key,
		Fingerprint: fingerprint,
		ExpiresAt:   r.now().Add(r.ttl),
	}
}

// Lookup loads the reservation for (kind, key). Returns
// models.ErrIdempotencyNotFound when absent.
func (r *Registry) Lookup(ctx context.Context, kind models.IdempotencyKind, key string) (*models.IdempotencyRecord, error) {
	return r.store.GetIdempotency(ctx, kind, key)
}

// StoreResult records the replayable outcome on the reservation. result
// is marshaled to JSON; a nil result stores the status code alone.
func (r *Registry) StoreResult(ctx context.Context, kind models.IdempotencyKind, key string, statusCode int, result any) error {
	var body string
	if result != nil {
		data, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("idempotency: encode result: %w", err)
		}
		body = string(data)
	}
	return r.store.UpdateIdempotencyResult(ctx, kind, key, statusCode, body)
}

// Release abandons a reservation whose request failed, so the next
// retry with the same key reserves fresh instead of colliding with a
// row that will never gain a result.
func (r *Registry) Release(ctx context.Context, kind models.IdempotencyKind, key string) error {
	return r.store.DeleteIdempotency(ctx, kind, key)
}

// GC removes reservations that expired before now and reports how many
// rows were deleted.
func (r *Registry) GC(ctx context.Context, now time.Time) (int64, error) {
	return r.store.DeleteExpiredIdempotency(ctx, now)
}

func evaluate(rec *models.IdempotencyRecord, fingerprint string) Outcome {
	if rec.Fingerprint != fingerprint {
		return Outcome{Decision: DecisionConflict, Record: rec}
	}
	if !rec.Completed() {
		// The first request holds the key but has not finished.
		return Outcome{Decision: DecisionConflict, Record: rec}
	}
	return Outcome{Decision: DecisionReplay, Record: rec}
}
