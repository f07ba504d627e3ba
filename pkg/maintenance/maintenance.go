// Package maintenance reclaims what abandoned uploads leave behind:
// open sessions nobody touches anymore, expired idempotency
// reservations, and storage objects no metadata row references.
//
// Every pass is safe to run concurrently with live traffic. Stale
// sessions are aborted through the same status CAS the API uses, so a
// request racing the reaper sees an ordinary terminal upload, never a
// half-deleted one.
package maintenance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/marmos91/shuttle/internal/logger"
	"github.com/marmos91/shuttle/internal/telemetry"
	"github.com/marmos91/shuttle/pkg/idempotency"
	"github.com/marmos91/shuttle/pkg/models"
	"github.com/marmos91/shuttle/pkg/store/blob"
	"github.com/marmos91/shuttle/pkg/store/metadata"
)

// Stats counts what one cleanup pass removed.
type Stats struct {
	StaleUploadsDeleted    int64 `json:"stale_uploads_deleted"`
	IdempotencyRowsDeleted int64 `json:"idempotency_rows_deleted"`
	StorageKeysDeleted     int64 `json:"storage_keys_deleted"`
}

// Empty reports whether the pass removed nothing.
func (s Stats) Empty() bool {
	return s.StaleUploadsDeleted == 0 &&
		s.IdempotencyRowsDeleted == 0 &&
		s.StorageKeysDeleted == 0
}

// Cleaner executes cleanup passes over the metadata and blob stores.
type Cleaner struct {
	meta     metadata.Store
	blobs    blob.Store
	registry *idempotency.Registry
	staleTTL time.Duration
	now      func() time.Time
}

// NewCleaner builds a cleaner. staleTTL is how long an open upload may
// go without an update before the reaper aborts and purges it.
func NewCleaner(meta metadata.Store, blobs blob.Store, registry *idempotency.Registry, staleTTL time.Duration) *Cleaner {
	return &Cleaner{
		meta:     meta,
		blobs:    blobs,
		registry: registry,
		staleTTL: staleTTL,
		now:      time.Now,
	}
}

// CleanupOnce runs one full pass: reap stale uploads, expire
// idempotency reservations, then delete orphaned storage keys.
//
// Storage deletes are best effort: a key that survives this pass is an
// orphan for the next one, so per-object failures are logged and
// skipped. Metadata listing failures abort the pass with the counts
// collected so far.
func (c *Cleaner) CleanupOnce(ctx context.Context) (stats Stats, err error) {
	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanMaintenance)
	defer func() {
		if err != nil {
			telemetry.RecordError(ctx, err)
		}
		span.End()
	}()

	if err := c.reapStaleUploads(ctx, &stats); err != nil {
		return stats, err
	}

	expired, err := c.registry.GC(ctx, c.now().UTC())
	if err != nil {
		return stats, fmt.Errorf("expire idempotency reservations: %w", err)
	}
	stats.IdempotencyRowsDeleted = expired

	if err := c.sweepOrphans(ctx, &stats); err != nil {
		return stats, err
	}

	return stats, nil
}

// reapStaleUploads aborts and purges open uploads whose last update
// precedes the TTL cutoff. The abort lands before the rows disappear,
// so concurrent requests observe ABORTED instead of a vanished upload.
func (c *Cleaner) reapStaleUploads(ctx context.Context, stats *Stats) error {
	cutoff := c.now().UTC().Add(-c.staleTTL)
	open := []models.UploadStatus{models.StatusInitiated, models.StatusInProgress}

	stale, err := c.meta.ListStaleUploads(ctx, cutoff, open)
	if err != nil {
		return fmt.Errorf("list stale uploads: %w", err)
	}

	for _, upload := range stale {
		ok, err := c.meta.TransitionUpload(ctx, upload.ID, open, models.StatusAborted)
		if err != nil {
			logger.WarnCtx(ctx, "stale upload abort failed",
				logger.KeyUploadID, upload.ID,
				logger.KeyError, err)
			continue
		}
		if !ok {
			// A concurrent request finished or aborted the upload after
			// the listing. It is no longer ours to reap.
			continue
		}

		c.abortMultipartSession(ctx, upload)
		stats.StorageKeysDeleted += c.deleteUploadObjects(ctx, upload.ID)

		if err := c.meta.DeleteUpload(ctx, upload.ID); err != nil {
			logger.WarnCtx(ctx, "stale upload purge failed",
				logger.KeyUploadID, upload.ID,
				logger.KeyError, err)
			continue
		}
		stats.StaleUploadsDeleted++

		logger.InfoCtx(ctx, "stale upload reaped",
			logger.KeyUploadID, upload.ID,
			logger.KeyUserID, upload.OwnerID,
			"last_update", upload.UpdatedAt.UTC().Format(time.RFC3339))
	}
	return nil
}

// sweepOrphans deletes storage keys no metadata row references. The
// full listing is taken before the reference snapshot: a chunk row
// exists before its object is written, so an object appearing after
// the listing is never considered and one appearing before it is
// always referenced.
func (c *Cleaner) sweepOrphans(ctx context.Context, stats *Stats) error {
	keys, err := c.blobs.List(ctx, "")
	if err != nil {
		return fmt.Errorf("list storage keys: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}

	referenced, err := c.referencedKeys(ctx)
	if err != nil {
		return err
	}

	for _, key := range keys {
		if _, ok := referenced[key]; ok {
			continue
		}
		if err := c.blobs.Delete(ctx, key); err != nil {
			logger.WarnCtx(ctx, "orphan object delete failed",
				logger.KeyKey, key,
				logger.KeyError, err)
			continue
		}
		stats.StorageKeysDeleted++
		logger.DebugCtx(ctx, "orphan object deleted", logger.KeyKey, key)
	}
	return nil
}

// referencedKeys is the set of storage keys the metadata store still
// accounts for: one per chunk row plus the assembled object of every
// upload.
func (c *Cleaner) referencedKeys(ctx context.Context) (map[string]struct{}, error) {
	chunkKeys, err := c.meta.ListChunkKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("list chunk keys: %w", err)
	}
	ids, err := c.meta.ListUploadIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list upload ids: %w", err)
	}

	referenced := make(map[string]struct{}, len(chunkKeys)+len(ids))
	for _, key := range chunkKeys {
		referenced[key] = struct{}{}
	}
	for _, id := range ids {
		referenced[models.AssembledObjectKey(id)] = struct{}{}
	}
	return referenced, nil
}

// deleteUploadObjects removes every object under the upload's key
// prefix and returns how many went away.
func (c *Cleaner) deleteUploadObjects(ctx context.Context, uploadID string) int64 {
	keys, err := c.blobs.List(ctx, models.UploadKeyPrefix(uploadID))
	if err != nil {
		logger.WarnCtx(ctx, "listing upload objects failed",
			logger.KeyUploadID, uploadID,
			logger.KeyError, err)
		return 0
	}

	var deleted int64
	for _, key := range keys {
		if err := c.blobs.Delete(ctx, key); err != nil {
			logger.WarnCtx(ctx, "upload object delete failed",
				logger.KeyKey, key,
				logger.KeyError, err)
			continue
		}
		deleted++
	}
	return deleted
}

func (c *Cleaner) abortMultipartSession(ctx context.Context, upload *models.Upload) {
	if !upload.IsMultipart() {
		return
	}
	mp, ok := c.blobs.(blob.MultipartStore)
	if !ok {
		return
	}
	key := models.AssembledObjectKey(upload.ID)
	if err := mp.AbortMultipart(ctx, key, *upload.MultipartUploadID); err != nil {
		logger.WarnCtx(ctx, "stale multipart abort failed",
			logger.KeyUploadID, upload.ID,
			logger.KeyError, err)
	}
}

// Runner executes cleanup passes on a fixed interval.
type Runner struct {
	cleaner  *Cleaner
	interval time.Duration

	mu        sync.Mutex
	started   bool
	stopCh    chan struct{}
	stoppedCh chan struct{}
	stopOnce  sync.Once
}

// NewRunner wraps the cleaner in a periodic loop.
func NewRunner(cleaner *Cleaner, interval time.Duration) *Runner {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	return &Runner{
		cleaner:   cleaner,
		interval:  interval,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

// Start begins ticking. Starting twice is a no-op.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return
	}
	r.started = true
	r.mu.Unlock()

	logger.Info("starting cleanup runner",
		"interval", r.interval,
		"stale_upload_ttl", r.cleaner.staleTTL)

	go r.loop(ctx)
}

// Stop halts the tick loop and waits for an in-flight pass to finish.
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	r.stopOnce.Do(func() { close(r.stopCh) })
	<-r.stoppedCh
}

func (r *Runner) loop(ctx context.Context) {
	defer close(r.stoppedCh)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats, err := r.cleaner.CleanupOnce(ctx)
			if err != nil {
				logger.Error("cleanup pass failed", logger.KeyError, err)
				continue
			}
			if stats.Empty() {
				continue
			}
			logger.Info("cleanup pass finished",
				"stale_uploads_deleted", stats.StaleUploadsDeleted,
				"idempotency_rows_deleted", stats.IdempotencyRowsDeleted,
				"storage_keys_deleted", stats.StorageKeysDeleted)
		}
	}
}
