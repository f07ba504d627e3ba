// Package local implements a filesystem-backed blob store.
//
// Chunks are stored as regular files under a root directory, with the blob
// key as the relative path. Writes go through a temp file and rename so a
// crash never leaves a partial object visible.
package local

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/marmos91/shuttle/pkg/store/blob"
)

// Store is a filesystem-backed implementation of blob.Store. It does not
// support multipart assembly.
type Store struct {
	root    string
	metrics blob.Metrics
}

// New creates a local blob store rooted at cfg.Root, creating the directory
// if needed.
func New(cfg blob.Config, metrics blob.Metrics) (*Store, error) {
	if err := os.MkdirAll(cfg.Root, 0755); err != nil {
		return nil, err
	}

	return &Store{
		root:    cfg.Root,
		metrics: metrics,
	}, nil
}

// keyPath returns the filesystem path for a blob key. Keys use forward
// slashes as separators.
func (s *Store) keyPath(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(key))
}

// Put writes data under key atomically via temp-file + rename. Local files
// have no etag, so Put always returns "".
func (s *Store) Put(ctx context.Context, key string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	start := time.Now()

	path := s.keyPath(key)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", err
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return "", err
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return "", err
	}

	if s.metrics != nil {
		s.metrics.ObservePut("local", time.Since(start))
	}

	return "", nil
}

// Get returns a reader over the whole object.
func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(s.keyPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, blob.ErrObjectNotFound
		}
		return nil, err
	}

	return f, nil
}

// GetRange returns a reader over length bytes starting at offset. Ranges
// extending past the end of the file are truncated; ranges starting at or
// past the end return blob.ErrInvalidRange.
func (s *Store) GetRange(ctx context.Context, key string, offset, length int64) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(s.keyPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, blob.ErrObjectNotFound
		}
		return nil, err
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	if offset < 0 || offset >= info.Size() {
		f.Close()
		return nil, blob.ErrInvalidRange
	}

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		f.Close()
		return nil, err
	}

	remaining := info.Size() - offset
	if length > remaining {
		length = remaining
	}

	return &rangeReader{
		Reader: io.LimitReader(f, length),
		file:   f,
	}, nil
}

// rangeReader closes the underlying file when the limited reader is done.
type rangeReader struct {
	io.Reader
	file *os.File
}

func (r *rangeReader) Close() error {
	return r.file.Close()
}

// Delete removes the object and prunes empty parent directories. Deleting
// a missing key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	path := s.keyPath(key)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}

	s.cleanEmptyDirs(filepath.Dir(path))
	return nil
}

// cleanEmptyDirs removes empty directories up to the root.
func (s *Store) cleanEmptyDirs(dir string) {
	for dir != s.root && strings.HasPrefix(dir, s.root) {
		if err := os.Remove(dir); err != nil {
			break
		}
		dir = filepath.Dir(dir)
	}
}

// List returns every key starting with prefix, sorted. The prefix is a
// plain string prefix over keys, matching S3 semantics, so it need not
// align to a directory boundary.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	keys := []string{}

	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if strings.HasSuffix(path, ".tmp") {
			return nil
		}

		relPath, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}

		key := filepath.ToSlash(relPath)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(keys)
	return keys, nil
}

// Close is a no-op; the store holds no resources between calls.
func (s *Store) Close() error {
	return nil
}

var _ blob.Store = (*Store)(nil)
