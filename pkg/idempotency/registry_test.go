package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/marmos91/shuttle/pkg/models"
	"github.com/marmos91/shuttle/pkg/store/metadata"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	store, err := metadata.New(&metadata.Config{
		Driver: metadata.DriverSQLite,
		Path:   ":memory:",
	}, nil)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return NewRegistry(store, time.Hour)
}

func TestFingerprints(t *testing.T) {
	t.Run("init is order and case insensitive", func(t *testing.T) {
		a := InitFingerprint("file.bin", 100, 10, "ABCDEF")
		b := InitFingerprint("file.bin", 100, 10, "abcdef")
		if a != b {
			t.Error("expected checksum casing not to change the fingerprint")
		}
	})

	t.Run("init distinguishes parameters", func(t *testing.T) {
		a := InitFingerprint("file.bin", 100, 10, "")
		b := InitFingerprint("file.bin", 200, 10, "")
		if a == b {
			t.Error("expected different file sizes to differ")
		}
	})

	t.Run("missing checksum differs from empty-string checksum upload", func(t *testing.T) {
		// "" means absent and hashes as null, any real digest differs.
		a := InitFingerprint("file.bin", 100, 10, "")
		b := InitFingerprint("file.bin", 100, 10, "00")
		if a == b {
			t.Error("expected null checksum to differ from a real one")
		}
	})

	t.Run("chunk fingerprint is the body digest", func(t *testing.T) {
		a := ChunkFingerprint([]byte("hello"))
		b := ChunkFingerprint([]byte("hello"))
		c := ChunkFingerprint([]byte("world"))
		if a != b {
			t.Error("expected identical bodies to match")
		}
		if a == c {
			t.Error("expected different bodies to differ")
		}
		if len(a) != 64 {
			t.Errorf("expected sha256 hex, got %d chars", len(a))
		}
	})

	t.Run("complete fingerprint keyed by upload and checksum", func(t *testing.T) {
		if CompleteFingerprint("u1", "") == CompleteFingerprint("u2", "") {
			t.Error("expected different uploads to differ")
		}
		if CompleteFingerprint("u1", "") == CompleteFingerprint("u1", "abcdef") {
			t.Error("expected a declared checksum to change the fingerprint")
		}
		if CompleteFingerprint("u1", "ABCDEF") != CompleteFingerprint("u1", "abcdef") {
			t.Error("expected checksum casing not to change the fingerprint")
		}
	})
}

func TestReserve(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	t.Run("first reservation is fresh", func(t *testing.T) {
		out, err := reg.Reserve(ctx, models.KindChunkUpload, "key-1", "fp-1")
		if err != nil {
			t.Fatalf("reserve failed: %v", err)
		}
		if out.Decision != DecisionFresh {
			t.Errorf("expected fresh, got %v", out.Decision)
		}
		if out.Record == nil || out.Record.Key != "key-1" {
			t.Error("expected the inserted record back")
		}
	})

	t.Run("matching retry before completion conflicts", func(t *testing.T) {
		out, err := reg.Reserve(ctx, models.KindChunkUpload, "key-1", "fp-1")
		if err != nil {
			t.Fatalf("reserve failed: %v", err)
		}
		if out.Decision != DecisionConflict {
			t.Errorf("expected in-flight conflict, got %v", out.Decision)
		}
	})

	t.Run("completed reservation replays", func(t *testing.T) {
		err := reg.StoreResult(ctx, models.KindChunkUpload, "key-1", 202, map[string]string{"status": "uploaded"})
		if err != nil {
			t.Fatalf("store result failed: %v", err)
		}

		out, err := reg.Reserve(ctx, models.KindChunkUpload, "key-1", "fp-1")
		if err != nil {
			t.Fatalf("reserve failed: %v", err)
		}
		if out.Decision != DecisionReplay {
			t.Fatalf("expected replay, got %v", out.Decision)
		}

		var body map[string]string
		code, err := out.Replayed(&body)
		if err != nil {
			t.Fatalf("replay decode failed: %v", err)
		}
		if code != 202 || body["status"] != "uploaded" {
			t.Errorf("expected stored 202 result, got %d %v", code, body)
		}
	})

	t.Run("fingerprint mismatch conflicts even when completed", func(t *testing.T) {
		out, err := reg.Reserve(ctx, models.KindChunkUpload, "key-1", "fp-other")
		if err != nil {
			t.Fatalf("reserve failed: %v", err)
		}
		if out.Decision != DecisionConflict {
			t.Errorf("expected conflict, got %v", out.Decision)
		}
	})

	t.Run("kinds do not collide", func(t *testing.T) {
		out, err := reg.Reserve(ctx, models.KindUploadComplete, "key-1", "fp-1")
		if err != nil {
			t.Fatalf("reserve failed: %v", err)
		}
		if out.Decision != DecisionFresh {
			t.Errorf("expected fresh under a different kind, got %v", out.Decision)
		}
	})
}

func TestReplayedWithoutResult(t *testing.T) {
	out := Outcome{Decision: DecisionConflict, Record: &models.IdempotencyRecord{}}
	if _, err := out.Replayed(nil); err == nil {
		t.Error("expected error replaying an incomplete record")
	}
}

func TestGC(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	// Backdate by giving the registry a clock in the past.
	reg.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	if _, err := reg.Reserve(ctx, models.KindUploadInit, "old", "fp"); err != nil {
		t.Fatalf("reserve failed: %v", err)
	}
	reg.now = time.Now
	if _, err := reg.Reserve(ctx, models.KindUploadInit, "new", "fp"); err != nil {
		t.Fatalf("reserve failed: %v", err)
	}

	deleted, err := reg.GC(ctx, time.Now())
	if err != nil {
		t.Fatalf("gc failed: %v", err)
	}
	if deleted != 1 {
		t.Errorf("expected 1 expired row deleted, got %d", deleted)
	}

	if _, err := reg.Lookup(ctx, models.KindUploadInit, "new"); err != nil {
		t.Errorf("expected fresh row to survive, got %v", err)
	}
}
